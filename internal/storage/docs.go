package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"importflow/internal"
)

const docColumns = `id, name, status, humanReviewed, packageNumber, createdAt, updatedAt`

const packageCounterKey = "package_counter"

func scanDoc(row interface{ Scan(...any) error }) (internal.Doc, error) {
	var doc internal.Doc
	var status string
	err := row.Scan(&doc.ID, &doc.Name, &status, &doc.HumanReviewed, &doc.PackageNumber, &doc.CreatedAt, &doc.UpdatedAt)
	doc.Status = internal.DocStatus(status)
	return doc, err
}

func (d *DB) CreateDoc(name string) (internal.Doc, error) {
	id := uuid.NewString()
	if _, err := d.conn.Exec(`INSERT INTO docs (id, name) VALUES (?, ?)`, id, name); err != nil {
		return internal.Doc{}, err
	}
	return d.MustDoc(id)
}

func (d *DB) GetDoc(id string) (*internal.Doc, error) {
	doc, err := scanDoc(d.conn.QueryRow(`SELECT `+docColumns+` FROM docs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *DB) MustDoc(id string) (internal.Doc, error) {
	doc, err := d.GetDoc(id)
	if err != nil {
		return internal.Doc{}, err
	}
	if doc == nil {
		return internal.Doc{}, fmt.Errorf("doc %s: %w", id, ErrNotFound)
	}
	return *doc, nil
}

// GetDocByName returns the oldest doc with the given name.
func (d *DB) GetDocByName(name string) (*internal.Doc, error) {
	doc, err := scanDoc(d.conn.QueryRow(`SELECT `+docColumns+` FROM docs WHERE name = ? ORDER BY createdAt ASC, rowid ASC LIMIT 1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetOpenDocByName returns the newest doc with the given name that has not
// been exported yet.
func (d *DB) GetOpenDocByName(name string) (*internal.Doc, error) {
	doc, err := scanDoc(d.conn.QueryRow(`SELECT `+docColumns+` FROM docs WHERE name = ? AND status != 'exported' ORDER BY createdAt DESC, rowid DESC LIMIT 1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *DB) ListDocs() ([]internal.Doc, error) {
	return d.queryDocs(`SELECT ` + docColumns + ` FROM docs ORDER BY createdAt ASC, rowid ASC`)
}

func (d *DB) ListDocsByStatus(status internal.DocStatus) ([]internal.Doc, error) {
	return d.queryDocs(`SELECT `+docColumns+` FROM docs WHERE status = ? ORDER BY createdAt ASC, rowid ASC`, string(status))
}

func (d *DB) queryDocs(query string, args ...any) ([]internal.Doc, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Doc
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// SetDocReviewed flips the human review flag. Any later edit to the doc's
// records or overrides clears it again.
func (d *DB) SetDocReviewed(id string, reviewed bool) error {
	status := internal.DocOpen
	if reviewed {
		status = internal.DocReviewed
	}
	res, err := d.conn.Exec(`
UPDATE docs SET
  humanReviewed = ?,
  status = CASE status WHEN 'exported' THEN status ELSE ? END,
  updatedAt = CURRENT_TIMESTAMP
WHERE id = ?
`, reviewed, string(status), id)
	if err != nil {
		return err
	}
	return mustAffect(res, "doc "+id)
}

func (d *DB) SetDocStatus(id string, status internal.DocStatus) error {
	res, err := d.conn.Exec(`UPDATE docs SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	return mustAffect(res, "doc "+id)
}

func (d *DB) touchDoc(tx *sql.Tx, id string) error {
	_, err := tx.Exec(`
UPDATE docs SET
  humanReviewed = 0,
  status = CASE status WHEN 'reviewed' THEN 'open' ELSE status END,
  updatedAt = CURRENT_TIMESTAMP
WHERE id = ?
`, id)
	return err
}

// AssignPackageNumber gives a doc the next number from the global counter.
// A doc that already has a number keeps it.
func (d *DB) AssignPackageNumber(docID string, start int) (int, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var current *int
	err = tx.QueryRow(`SELECT packageNumber FROM docs WHERE id = ?`, docID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("doc %s: %w", docID, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	if current != nil {
		return *current, nil
	}

	last := start - 1
	var raw string
	err = tx.QueryRow(`SELECT value FROM metadata WHERE key = ?`, packageCounterKey).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, err
	default:
		n, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, fmt.Errorf("corrupt %s %q: %w", packageCounterKey, raw, convErr)
		}
		if n > last {
			last = n
		}
	}

	next := last + 1
	if _, err := tx.Exec(`UPDATE docs SET packageNumber = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, next, docID); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, packageCounterKey, strconv.Itoa(next)); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func mustAffect(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
