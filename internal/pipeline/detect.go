package pipeline

import (
	"strings"

	"importflow/internal/util"
)

type DetectResult struct {
	IsOrder bool
	Score   float64
	Reason  string
}

var detectKeywords = []string{
	"order", "receipt", "invoice", "purchase", "shipped", "tracking", "subtotal",
	"pedido", "compra", "factura", "recibo", "envío", "envio", "guía", "total",
}

// DetectOrderEmail scores a message on how likely it carries an order
// confirmation worth declaring. Screenshots attached to a message count as
// strong evidence since that is how most orders reach the inbox.
func DetectOrderEmail(subject, text, html string, attachmentNames []string) DetectResult {
	subject = strings.ToLower(subject)
	text = strings.ToLower(text)
	html = strings.ToLower(html)

	score := 0.0
	for _, kw := range detectKeywords {
		if strings.Contains(subject, kw) {
			score += 0.2
		}
		if strings.Contains(text, kw) || strings.Contains(html, kw) {
			score += 0.1
		}
	}

	moneyHits := countMoneyTokens(text)
	if moneyHits >= 2 {
		score += 0.4
	} else if moneyHits == 1 {
		score += 0.2
	}

	for _, name := range attachmentNames {
		ln := strings.ToLower(name)
		if isImageName(ln) {
			score += 0.5
			break
		}
		if strings.HasSuffix(ln, ".xlsx") || strings.HasSuffix(ln, ".pdf") {
			score += 0.3
			break
		}
	}

	if strings.Contains(html, "<table") {
		score += 0.15
	}
	if score > 1 {
		score = 1
	}

	isOrder := score >= 0.45
	reason := "rules_negative"
	if isOrder {
		reason = "rules_positive"
	}
	return DetectResult{IsOrder: isOrder, Score: score, Reason: reason}
}

func countMoneyTokens(text string) int {
	count := 0
	for _, line := range splitLines(text) {
		count += len(util.ParseAmounts(line))
	}
	return count
}
