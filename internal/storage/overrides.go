package storage

import (
	"github.com/shopspring/decimal"

	"importflow/internal"
)

func (d *DB) SetSplitOverride(o internal.SplitOverride) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var value *string
	if o.Value != nil {
		v := o.Value.String()
		value = &v
	}
	if _, err := tx.Exec(`
INSERT INTO split_overrides (docId, customer, idx, name, value) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(docId, customer, idx) DO UPDATE SET
  name = COALESCE(excluded.name, split_overrides.name),
  value = COALESCE(excluded.value, split_overrides.value),
  updatedAt = CURRENT_TIMESTAMP
`, o.DocID, o.Customer, o.Index, o.Name, value); err != nil {
		return err
	}
	if err := d.touchDoc(tx, o.DocID); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) ListSplitOverrides(docID string) ([]internal.SplitOverride, error) {
	rows, err := d.conn.Query(`
SELECT docId, customer, idx, name, value FROM split_overrides WHERE docId = ? ORDER BY customer, idx
`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.SplitOverride
	for rows.Next() {
		var o internal.SplitOverride
		var value decimal.NullDecimal
		if err := rows.Scan(&o.DocID, &o.Customer, &o.Index, &o.Name, &value); err != nil {
			return nil, err
		}
		if value.Valid {
			v := value.Decimal
			o.Value = &v
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ClearSplitOverrides drops a customer's edits, or every edit in the doc when
// customer is empty.
func (d *DB) ClearSplitOverrides(docID, customer string) (int64, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`DELETE FROM split_overrides WHERE docId = ? AND (? = '' OR customer = ?)`, docID, customer, customer)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := d.touchDoc(tx, docID); err != nil {
			return 0, err
		}
	}
	return n, tx.Commit()
}
