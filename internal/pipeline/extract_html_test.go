package pipeline

import "testing"

func TestParseOrderHTML(t *testing.T) {
	html := `<html><body>
<p>Customer: Luis Torres</p>
<table>
<tr><th>Product</th><th>Qty</th><th>Price</th><th>Total</th></tr>
<tr><td>Blender</td><td>1</td><td>$80.00</td><td>$80.00</td></tr>
<tr><td>Knife set</td><td>2</td><td>$25.50</td><td>$51.00</td></tr>
<tr><td>Total</td><td></td><td></td><td>$131.00</td></tr>
</table>
<p>Tracking: 9400111899223</p>
</body></html>`

	ro := parseOrderHTML(html)
	if len(ro.Items) != 2 {
		t.Fatalf("items=%+v", ro.Items)
	}
	rec := NormalizeOrder(ro, "email_html_table")
	if rec.CustomerName != "Luis Torres" {
		t.Fatalf("customer=%q", rec.CustomerName)
	}
	if rec.OrderTotal.StringFixed(2) != "131.00" || rec.TotalPieces != 3 {
		t.Fatalf("total=%s pieces=%d", rec.OrderTotal, rec.TotalPieces)
	}
	if rec.Items[1].Name != "Knife set" || rec.Items[1].UnitValue.StringFixed(2) != "25.50" {
		t.Fatalf("item=%+v", rec.Items[1])
	}
	if rec.TrackingNumber == nil || *rec.TrackingNumber != "9400111899223" {
		t.Fatalf("tracking=%v", rec.TrackingNumber)
	}
	if len(rec.Warnings) != 0 {
		t.Fatalf("warnings=%v", rec.Warnings)
	}
}

func TestParseOrderHTMLWithoutTable(t *testing.T) {
	html := `<div>Cliente: María López</div><div>1 x Mochila $45.00</div><div>Total $45.00</div>`
	ro := parseOrderHTML(html)
	if len(ro.Items) != 1 || ro.CustomerName.Value != "María López" {
		t.Fatalf("ro=%+v", ro)
	}
}
