package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"importflow/internal"
)

const recordColumns = `id, docId, screenshotId, position, source, customerName, orderTotal, totalPieces, trackingNumber, warningsJson, createdAt`

func scanRecord(row interface{ Scan(...any) error }) (internal.OrderRecord, error) {
	var r internal.OrderRecord
	var source, warningsJSON string
	if err := row.Scan(&r.ID, &r.DocID, &r.ScreenshotID, &r.Position, &source, &r.CustomerName, &r.OrderTotal, &r.TotalPieces, &r.TrackingNumber, &warningsJSON, &r.CreatedAt); err != nil {
		return r, err
	}
	r.Source = internal.RecordSource(source)
	_ = json.Unmarshal([]byte(warningsJSON), &r.Warnings)
	return r, nil
}

// SaveRecord appends a record to its doc. A record extracted from a screenshot
// takes the screenshot's upload slot and replaces whatever that screenshot
// produced before.
func (d *DB) SaveRecord(rec internal.OrderRecord) (internal.OrderRecord, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return rec, err
	}
	defer func() { _ = tx.Rollback() }()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ScreenshotID != nil {
		if _, err := tx.Exec(`DELETE FROM record_items WHERE recordId IN (SELECT id FROM records WHERE docId = ? AND screenshotId = ?)`, rec.DocID, *rec.ScreenshotID); err != nil {
			return rec, err
		}
		if _, err := tx.Exec(`DELETE FROM records WHERE docId = ? AND screenshotId = ?`, rec.DocID, *rec.ScreenshotID); err != nil {
			return rec, err
		}
	}

	if rec.ScreenshotID != nil {
		err = tx.QueryRow(`SELECT position FROM screenshots WHERE id = ?`, *rec.ScreenshotID).Scan(&rec.Position)
	} else {
		err = tx.QueryRow(`SELECT `+nextPositionSQL, rec.DocID, rec.DocID).Scan(&rec.Position)
	}
	if err != nil {
		return rec, fmt.Errorf("record position: %w", notFound(err))
	}

	if rec.Warnings == nil {
		rec.Warnings = []string{}
	}
	warningsJSON, _ := json.Marshal(rec.Warnings)
	if _, err := tx.Exec(`
INSERT INTO records (id, docId, screenshotId, position, source, customerName, orderTotal, totalPieces, trackingNumber, warningsJson)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, rec.ID, rec.DocID, rec.ScreenshotID, rec.Position, string(rec.Source), rec.CustomerName, rec.OrderTotal.String(), rec.TotalPieces, rec.TrackingNumber, string(warningsJSON)); err != nil {
		return rec, err
	}

	if err := insertItems(tx, rec.ID, rec.Items); err != nil {
		return rec, err
	}
	if err := d.touchDoc(tx, rec.DocID); err != nil {
		return rec, err
	}
	if err := tx.QueryRow(`SELECT createdAt FROM records WHERE id = ?`, rec.ID).Scan(&rec.CreatedAt); err != nil {
		return rec, err
	}

	return rec, tx.Commit()
}

func insertItems(tx *sql.Tx, recordID string, items []internal.OrderItem) error {
	stmt, err := tx.Prepare(`
INSERT INTO record_items (recordId, lineNo, name, quantity, unitValue, totalValue, weight, hsCode)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, it := range items {
		var weight *string
		if it.Weight != nil {
			w := it.Weight.String()
			weight = &w
		}
		if _, err := stmt.Exec(recordID, i+1, it.Name, it.Quantity, it.UnitValue.String(), it.TotalValue.String(), weight, it.HSCode); err != nil {
			return err
		}
	}
	return nil
}

// ListRecords returns a doc's records in upload order with their items.
func (d *DB) ListRecords(docID string) ([]internal.OrderRecord, error) {
	rows, err := d.conn.Query(`SELECT `+recordColumns+` FROM records WHERE docId = ? ORDER BY position ASC`, docID)
	if err != nil {
		return nil, err
	}

	var out []internal.OrderRecord
	pos := map[string]int{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		pos[r.ID] = len(out)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(out) == 0 {
		return out, nil
	}

	itemRows, err := d.conn.Query(`
SELECT i.recordId, i.name, i.quantity, i.unitValue, i.totalValue, i.weight, i.hsCode
FROM record_items i
JOIN records r ON r.id = i.recordId
WHERE r.docId = ?
ORDER BY i.recordId, i.lineNo
`, docID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var recordID string
		var it internal.OrderItem
		var weight decimal.NullDecimal
		if err := itemRows.Scan(&recordID, &it.Name, &it.Quantity, &it.UnitValue, &it.TotalValue, &weight, &it.HSCode); err != nil {
			return nil, err
		}
		if weight.Valid {
			w := weight.Decimal
			it.Weight = &w
		}
		if i, ok := pos[recordID]; ok {
			out[i].Items = append(out[i].Items, it)
		}
	}
	return out, itemRows.Err()
}

func (d *DB) UpdateRecordCustomer(docID, recordID, customer string) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`UPDATE records SET customerName = ? WHERE docId = ? AND id = ?`, customer, docID, recordID)
	if err != nil {
		return err
	}
	if err := mustAffect(res, fmt.Sprintf("record %s", recordID)); err != nil {
		return err
	}
	if err := d.touchDoc(tx, docID); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateRecordTotal replaces a record's order total. Negative totals are
// stored as zero.
func (d *DB) UpdateRecordTotal(docID, recordID string, total decimal.Decimal) error {
	if total.IsNegative() {
		total = decimal.Zero
	}
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`UPDATE records SET orderTotal = ? WHERE docId = ? AND id = ?`, total.Round(2).String(), docID, recordID)
	if err != nil {
		return err
	}
	if err := mustAffect(res, fmt.Sprintf("record %s", recordID)); err != nil {
		return err
	}
	if err := d.touchDoc(tx, docID); err != nil {
		return err
	}
	return tx.Commit()
}

// ItemEdit changes one item line of a record. Nil fields keep their value.
type ItemEdit struct {
	LineNo     int
	Quantity   *int
	UnitValue  *decimal.Decimal
	TotalValue *decimal.Decimal
}

func (d *DB) UpdateItem(docID, recordID string, edit ItemEdit) error {
	money := func(v *decimal.Decimal) *string {
		if v == nil {
			return nil
		}
		s := decimal.Max(*v, decimal.Zero).Round(2).String()
		return &s
	}
	var qty *int
	if edit.Quantity != nil {
		q := max(*edit.Quantity, 0)
		qty = &q
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
UPDATE record_items SET
  quantity = COALESCE(?, quantity),
  unitValue = COALESCE(?, unitValue),
  totalValue = COALESCE(?, totalValue)
WHERE recordId = ? AND lineNo = ?
  AND recordId IN (SELECT id FROM records WHERE docId = ?)
`, qty, money(edit.UnitValue), money(edit.TotalValue), recordID, edit.LineNo, docID)
	if err != nil {
		return err
	}
	if err := mustAffect(res, fmt.Sprintf("item %d of record %s", edit.LineNo, recordID)); err != nil {
		return err
	}
	if err := d.touchDoc(tx, docID); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) DeleteRecord(docID, recordID string) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM record_items WHERE recordId = ?`, recordID); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM records WHERE docId = ? AND id = ?`, docID, recordID)
	if err != nil {
		return err
	}
	if err := mustAffect(res, fmt.Sprintf("record %s", recordID)); err != nil {
		return err
	}
	if err := d.touchDoc(tx, docID); err != nil {
		return err
	}
	return tx.Commit()
}
