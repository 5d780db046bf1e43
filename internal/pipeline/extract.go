package pipeline

import (
	"bytes"
	"encoding/json"
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	pdf "github.com/ledongthuc/pdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"importflow/internal"
	"importflow/internal/util"
)

var ignorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^--+$`),
	regexp.MustCompile(`(?i)^(?:thanks|thank you|gracias)`),
	regexp.MustCompile(`(?i)^(?:regards|best regards|saludos)`),
	regexp.MustCompile(`(?i)^(?:tel|phone|tel[eé]fono)[:\s]`),
	regexp.MustCompile(`(?i)^e-?mail[:\s]`),
	regexp.MustCompile(`(?i)^http`),
	regexp.MustCompile(`(?i)^order\s*(?:#|no\.?|number)`),
}

var (
	customerLinePattern = regexp.MustCompile(`(?i)^(?:ship\s+to|deliver\s+to|recipient|customer|cliente|nombre|destinatario)\s*[:\-]\s*(.+)$`)
	trackingPattern     = regexp.MustCompile(`(?i)\b(?:tracking(?:\s+(?:number|no\.?|#))?|gu[ií]a|rastreo)\s*[:#]?\s*([A-Z0-9][A-Z0-9\-]{5,})`)
	summaryLinePattern  = regexp.MustCompile(`(?i)^(?:sub-?total|shipping|env[ií]o|tax|iva|impuestos?|discount|descuento|(?:order\s+|grand\s+)?total)\b`)
	totalLinePattern    = regexp.MustCompile(`(?i)^(?:order\s+|grand\s+)?total\b`)
	leadingQtyPattern   = regexp.MustCompile(`^(\d{1,4})\s+\D`)
	unitWordPattern     = regexp.MustCompile(`(?i)\b(?:pcs|pc|pieces|piece|units|unit|uds|und|pzas|pza|items|item|qty|quantity|cantidad)\b`)
	letterPattern       = regexp.MustCompile(`\p{L}`)
	nameJunkPattern     = regexp.MustCompile(`(?i)(?:^|\s)x(?:\s|$)|[;|:=@]+`)
)

type Attachment struct {
	FileName    string
	ContentType string
	Content     []byte
}

// ParsedEmail is what a fetched message contributes to a doc: images to send
// to the extractor and orders that could be read directly from the message.
type ParsedEmail struct {
	Subject         string
	Sender          string
	Text            string
	HTML            string
	AttachmentNames []string
	Images          []Attachment
	Records         []internal.OrderRecord
}

func ParseEmail(raw []byte) (ParsedEmail, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return ParsedEmail{}, err
	}

	out := ParsedEmail{
		Subject: env.GetHeader("Subject"),
		Text:    env.Text,
		HTML:    env.HTML,
	}
	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		out.Sender = util.CleanCustomerName(from[0].Name)
	}

	parts := append(append([]*enmime.Part{}, env.Attachments...), env.Inlines...)
	for _, att := range parts {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment"
		}
		out.AttachmentNames = append(out.AttachmentNames, filename)
		lower := strings.ToLower(filename)
		contentType := strings.ToLower(att.ContentType)

		switch {
		case strings.HasPrefix(contentType, "image/") || isImageName(lower):
			if contentType == "" || !strings.HasPrefix(contentType, "image/") {
				contentType = mimeTypeFor(lower)
			}
			out.Images = append(out.Images, Attachment{FileName: filename, ContentType: contentType, Content: att.Content})
		case strings.HasSuffix(lower, ".xlsx"):
			if recs, err := parseXLSX(att.Content); err == nil {
				out.Records = append(out.Records, recs...)
			}
		case strings.HasSuffix(lower, ".pdf"):
			if ro, err := parsePDF(att.Content); err == nil && ro.hasOrder() {
				out.Records = append(out.Records, NormalizeOrder(ro, internal.SourcePDF))
			}
		}
	}

	// The body is only read when nothing was attached; otherwise it usually
	// repeats the attached order and would be counted twice.
	var body *RawOrder
	bodySource := internal.SourceEmailText
	attached := len(out.Images) > 0 || len(out.Records) > 0
	if !attached && env.HTML != "" {
		if ro := parseOrderHTML(env.HTML); ro.hasOrder() {
			body, bodySource = &ro, internal.SourceEmailHTML
		}
	}
	if !attached && body == nil && env.Text != "" {
		if ro := parseOrderText(env.Text); ro.hasOrder() {
			body = &ro
		}
	}
	if body != nil {
		out.Records = append(out.Records, NormalizeOrder(*body, bodySource))
	}

	for i := range out.Records {
		if out.Records[i].CustomerName == "" && out.Sender != "" {
			out.Records[i].CustomerName = out.Sender
			out.Records[i].Warnings = replaceWarning(out.Records[i].Warnings, warnNoCustomer, "customer name taken from sender")
		}
	}
	return out, nil
}

func replaceWarning(warnings []string, old, repl string) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		if w == old {
			w = repl
		}
		out = append(out, w)
	}
	return out
}

func isImageName(lower string) bool {
	switch filepath.Ext(lower) {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif":
		return true
	}
	return false
}

func mimeTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func (ro RawOrder) hasOrder() bool {
	return len(ro.Items) > 0 || ro.OrderTotal.Present()
}

func parseOrderText(text string) RawOrder {
	return parseOrderLines(splitLines(text))
}

func parseOrderLines(lines []string) RawOrder {
	var ro RawOrder
	seen := map[string]struct{}{}
	for _, line := range lines {
		compact := util.NormalizeSpaces(line)
		if compact == "" || isLikelyNoise(compact) {
			continue
		}
		if m := customerLinePattern.FindStringSubmatch(compact); len(m) > 1 {
			if !ro.CustomerName.Set {
				ro.CustomerName = optString(util.CleanCustomerName(m[1]))
			}
			continue
		}
		if m := trackingPattern.FindStringSubmatch(compact); len(m) > 1 {
			if !ro.TrackingNumber.Set {
				ro.TrackingNumber = optString(m[1])
			}
			continue
		}
		if summaryLinePattern.MatchString(compact) {
			if totalLinePattern.MatchString(compact) {
				if amount := util.ParseAmount(compact); amount.Value != nil {
					ro.OrderTotal = optNumber(*amount.Value)
				}
			}
			continue
		}

		item, ok := lineToRawItem(compact)
		if !ok {
			continue
		}
		if _, dup := seen[compact]; dup {
			continue
		}
		seen[compact] = struct{}{}
		ro.Items = append(ro.Items, item)
	}
	return ro
}

// lineToRawItem reads "2 x Sneakers $44.95 $89.90" style lines. With two
// amounts the first is the unit price and the last the line total. A count is
// only taken from an explicit marker ("x2", "Qty: 2", "2 pcs") or a leading
// number, so model numbers inside the name are not read as quantities.
func lineToRawItem(line string) (RawItem, bool) {
	amounts := util.ParseAmounts(line)
	if len(amounts) == 0 || !letterPattern.MatchString(line) {
		return RawItem{}, false
	}

	rest := line
	for _, a := range amounts {
		rest = strings.Replace(rest, *a.Raw, " ", 1)
	}

	item := RawItem{TotalValue: optNumber(*amounts[len(amounts)-1].Value)}
	if len(amounts) > 1 {
		item.UnitValue = optNumber(*amounts[0].Value)
	}

	parsed := util.ParseQty(rest)
	explicit := parsed.QtyRaw != nil && !digitsOnly(*parsed.QtyRaw)
	if m := leadingQtyPattern.FindStringSubmatch(strings.TrimSpace(rest)); !explicit && len(m) > 1 {
		parsed = util.ParseQty(m[1])
		parsed.QtyRaw = &m[1]
		explicit = true
	}
	if explicit && parsed.Qty != nil {
		item.Quantity = OptNumber{Raw: json.Number(decimal.NewFromInt(int64(*parsed.Qty)).String())}
		rest = strings.Replace(rest, *parsed.QtyRaw, " ", 1)
	}

	name := unitWordPattern.ReplaceAllString(rest, " ")
	name = nameJunkPattern.ReplaceAllString(name, " ")
	name = strings.Trim(util.NormalizeSpaces(name), " -–·,")
	if len([]rune(name)) < 2 {
		return RawItem{}, false
	}
	item.Name = optString(name)
	return item, true
}

func digitsOnly(s string) bool {
	return strings.TrimSpace(s) != "" && strings.Trim(s, "0123456789") == ""
}

func parseOrderHTML(html string) RawOrder {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return RawOrder{}
	}

	var ro RawOrder
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		if table.Find("table").Length() > 0 {
			return
		}
		rows := table.Find("tr")
		if rows.Length() < 2 {
			return
		}

		headers := []string{}
		rows.First().Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			headers = append(headers, strings.ToLower(util.NormalizeSpaces(cell.Text())))
		})
		cols := inferOrderColumns(headers)
		if cols.name < 0 || (cols.total < 0 && cols.price < 0) {
			return
		}

		rows.Slice(1, rows.Length()).Each(func(_ int, row *goquery.Selection) {
			cells := []string{}
			row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, util.NormalizeSpaces(cell.Text()))
			})
			if len(cells) == 0 {
				return
			}
			rowText := strings.Join(cells, " ")
			if summaryLinePattern.MatchString(strings.TrimSpace(rowText)) {
				if totalLinePattern.MatchString(strings.TrimSpace(rowText)) {
					if amount := util.ParseAmount(rowText); amount.Value != nil {
						ro.OrderTotal = optNumber(*amount.Value)
					}
				}
				return
			}
			if item, ok := cols.rawItem(cells); ok {
				ro.Items = append(ro.Items, item)
			}
		})
		table.Remove()
	})

	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p,div,li,h1,h2,h3,h4,h5,h6,tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	rest := parseOrderText(doc.Text())
	ro.CustomerName = firstSet(ro.CustomerName, rest.CustomerName)
	ro.TrackingNumber = firstSet(ro.TrackingNumber, rest.TrackingNumber)
	if !ro.OrderTotal.Present() {
		ro.OrderTotal = rest.OrderTotal
	}
	if len(ro.Items) == 0 {
		ro.Items = rest.Items
	}
	return ro
}

type orderColumns struct {
	customer, name, qty, price, total, weight, tracking, hs int
}

func inferOrderColumns(headers []string) orderColumns {
	cols := orderColumns{}
	cols.customer = findHeaderIndex(headers, []string{"customer", "cliente", "buyer", "comprador", "ship to", "destinatario"})
	cols.total = findHeaderIndex(headers, []string{"total", "amount", "importe"}, cols.customer)
	cols.price = findHeaderIndex(headers, []string{"unit price", "price", "precio", "each", "valor"}, cols.customer, cols.total)
	cols.qty = findHeaderIndex(headers, []string{"qty", "quantity", "cant", "pcs", "units", "piezas"}, cols.customer)
	cols.weight = findHeaderIndex(headers, []string{"weight", "peso", "kg", "lb"}, cols.customer)
	cols.tracking = findHeaderIndex(headers, []string{"tracking", "guía", "guia", "rastreo"}, cols.customer)
	cols.hs = findHeaderIndex(headers, []string{"hs code", "hs", "arancel"}, cols.customer)
	cols.name = findHeaderIndex(headers, []string{"item", "product", "producto", "artículo", "articulo", "descrip", "name", "nombre"},
		cols.customer, cols.total, cols.price, cols.qty, cols.weight, cols.tracking, cols.hs)
	return cols
}

func (c orderColumns) rawItem(cells []string) (RawItem, bool) {
	name := pickCell(cells, c.name, -1)
	if strings.TrimSpace(name) == "" || !letterPattern.MatchString(name) {
		return RawItem{}, false
	}
	item := RawItem{Name: optString(name)}
	if cell := pickCell(cells, c.qty, -1); cell != "" {
		if q := util.ParseQty(cell); q.Qty != nil {
			item.Quantity = OptNumber{Raw: json.Number(decimal.NewFromInt(int64(*q.Qty)).String())}
		}
	}
	if cell := pickCell(cells, c.price, -1); cell != "" {
		if a := util.ParseAmount(cell); a.Value != nil {
			item.UnitValue = optNumber(*a.Value)
		}
	}
	if cell := pickCell(cells, c.total, -1); cell != "" {
		if a := util.ParseAmount(cell); a.Value != nil {
			item.TotalValue = optNumber(*a.Value)
		}
	}
	if cell := pickCell(cells, c.weight, -1); cell != "" {
		if a := util.ParseAmount(cell); a.Value != nil {
			item.Weight = optNumber(*a.Value)
		}
	}
	if cell := pickCell(cells, c.hs, -1); cell != "" {
		item.HSCode = optString(cell)
	}
	if !item.UnitValue.Present() && !item.TotalValue.Present() {
		return RawItem{}, false
	}
	return item, true
}

// parseXLSX reads an order list. With a customer column every customer becomes
// one record, in order of first appearance; without one the sheet is a single
// order.
func parseXLSX(content []byte) ([]internal.OrderRecord, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var orders []*RawOrder
	byCustomer := map[string]*RawOrder{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		cols := orderColumns{customer: -1, name: -1}
		headerFound := false
		for i, row := range rows {
			cells := normalizeCells(row)
			if len(cells) == 0 {
				continue
			}
			if i < 3 && !headerFound {
				lower := make([]string, len(cells))
				for j, c := range cells {
					lower[j] = strings.ToLower(c)
				}
				if guess := inferOrderColumns(lower); guess.name >= 0 && (guess.total >= 0 || guess.price >= 0) {
					cols, headerFound = guess, true
					continue
				}
			}
			if !headerFound {
				continue
			}

			rowText := strings.Join(cells, " ")
			if summaryLinePattern.MatchString(rowText) {
				continue
			}
			item, ok := cols.rawItem(cells)
			if !ok {
				continue
			}

			customer := util.CleanCustomerName(pickCell(cells, cols.customer, -1))
			key := util.NormalizeHeader(customer)
			ro, ok := byCustomer[key]
			if !ok {
				ro = &RawOrder{CustomerName: optString(customer)}
				byCustomer[key] = ro
				orders = append(orders, ro)
			}
			if tracking := pickCell(cells, cols.tracking, -1); tracking != "" && !ro.TrackingNumber.Set {
				ro.TrackingNumber = optString(tracking)
			}
			ro.Items = append(ro.Items, item)
		}
	}

	out := make([]internal.OrderRecord, 0, len(orders))
	for _, ro := range orders {
		out = append(out, NormalizeOrder(*ro, internal.SourceXLSX))
	}
	return out, nil
}

func parsePDF(content []byte) (RawOrder, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return RawOrder{}, err
	}

	var lines []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		lines = append(lines, splitLines(text)...)
	}
	return parseOrderLines(lines), nil
}

func optString(v string) OptString {
	v = strings.TrimSpace(v)
	return OptString{Value: v, Set: v != ""}
}

func optNumber(d decimal.Decimal) OptNumber {
	return OptNumber{Raw: json.Number(d.String())}
}

func firstSet(values ...OptString) OptString {
	for _, v := range values {
		if v.Set {
			return v
		}
	}
	return OptString{}
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isLikelyNoise(line string) bool {
	for _, re := range ignorePatterns {
		if re.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

func findHeaderIndex(headers []string, probes []string, skip ...int) int {
	for _, probe := range probes {
		for i, h := range headers {
			if containsInt(skip, i) {
				continue
			}
			if strings.Contains(h, probe) {
				return i
			}
		}
	}
	return -1
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func pickCell(cells []string, idx int, fallback int) string {
	if idx >= 0 && idx < len(cells) {
		return strings.TrimSpace(cells[idx])
	}
	if fallback >= 0 && fallback < len(cells) {
		return strings.TrimSpace(cells[fallback])
	}
	return ""
}

func normalizeCells(row []string) []string {
	out := make([]string, 0, len(row))
	for _, c := range row {
		out = append(out, util.NormalizeSpaces(c))
	}
	return out
}
