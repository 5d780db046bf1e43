package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"importflow/internal"
)

const touchedLayout = "2006-01-02T15:04:05.000000000Z07:00"

const mailColumns = `id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef, docId`

func scanMail(row interface{ Scan(...any) error }) (internal.MailRow, error) {
	var m internal.MailRow
	err := row.Scan(&m.ID, &m.Provider, &m.MessageID, &m.Subject, &m.Sender, &m.ReceivedAt, &m.Hash, &m.Status, &m.RawRef, &m.DocID)
	return m, err
}

func (d *DB) UpsertMail(provider, messageID, subject, sender, receivedAt, hash, rawRef, status string) (internal.MailRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO mails (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, provider, messageID, subject, sender, receivedAt, hash, status, rawRef)
	if err != nil {
		return internal.MailRow{}, err
	}

	row, err := d.GetMailByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.MailRow{}, err
	}
	if row == nil {
		return internal.MailRow{}, errors.New("failed to upsert mail")
	}
	return *row, nil
}

func (d *DB) GetMailByProviderMessageID(provider, messageID string) (*internal.MailRow, error) {
	row, err := scanMail(d.conn.QueryRow(`SELECT `+mailColumns+` FROM mails WHERE provider = ? AND messageId = ?`, provider, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) MustMailByProviderMessageID(provider, messageID string) (internal.MailRow, error) {
	row, err := d.GetMailByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.MailRow{}, err
	}
	if row == nil {
		return internal.MailRow{}, fmt.Errorf("mail provider=%s messageId=%s: %w", provider, messageID, ErrNotFound)
	}
	return *row, nil
}

// ListMailsByStatus returns mails oldest first; limit <= 0 means no limit.
func (d *DB) ListMailsByStatus(status string, limit int) ([]internal.MailRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.conn.Query(`SELECT `+mailColumns+` FROM mails WHERE status = ? ORDER BY receivedAt ASC LIMIT ?`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.MailRow
	for rows.Next() {
		row, err := scanMail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateMailStatus(mailID int, status string, docID *string) error {
	_, err := d.conn.Exec(`
UPDATE mails SET status = ?, docId = COALESCE(?, docId), updatedAt = CURRENT_TIMESTAMP WHERE id = ?
`, status, docID, mailID)
	return err
}

// SaveRecentCustomers replaces the persisted recent-customer list.
func (d *DB) SaveRecentCustomers(customers []internal.RecentCustomer) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM recent_customers`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO recent_customers (name, touchedAt) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range customers {
		if _, err := stmt.Exec(c.Name, c.TouchedAt.UTC().Format(touchedLayout)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadRecentCustomers returns the persisted list, most recently touched first.
func (d *DB) LoadRecentCustomers() ([]internal.RecentCustomer, error) {
	rows, err := d.conn.Query(`SELECT name, touchedAt FROM recent_customers ORDER BY touchedAt DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.RecentCustomer
	for rows.Next() {
		var c internal.RecentCustomer
		var touched string
		if err := rows.Scan(&c.Name, &touched); err != nil {
			return nil, err
		}
		ts, err := time.Parse(touchedLayout, touched)
		if err != nil {
			continue
		}
		c.TouchedAt = ts
		out = append(out, c)
	}
	return out, rows.Err()
}
