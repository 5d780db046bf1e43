package storage

import (
	"github.com/google/uuid"

	"importflow/internal"
)

const screenshotColumns = `id, docId, hash, path, mimeType, source, status, error, createdAt`

func scanScreenshot(row interface{ Scan(...any) error }) (internal.Screenshot, error) {
	var s internal.Screenshot
	var status string
	err := row.Scan(&s.ID, &s.DocID, &s.Hash, &s.Path, &s.MimeType, &s.Source, &status, &s.Error, &s.CreatedAt)
	s.Status = internal.ScreenshotStatus(status)
	return s, err
}

// nextPositionSQL is the next free slot in a doc. Screenshots reserve their
// slot on upload so records keep upload order however extraction finishes.
const nextPositionSQL = `(SELECT COALESCE(MAX(p), 0) + 1 FROM (
  SELECT position AS p FROM records WHERE docId = ?
  UNION ALL
  SELECT position AS p FROM screenshots WHERE docId = ?
))`

// InsertScreenshot adds a pending screenshot to a doc. The same image (by
// hash) is stored once per doc; created reports whether a new row was made.
func (d *DB) InsertScreenshot(docID, hash, path, mimeType, source string) (internal.Screenshot, bool, error) {
	res, err := d.conn.Exec(`
INSERT INTO screenshots (id, docId, hash, path, mimeType, source, position)
VALUES (?, ?, ?, ?, ?, ?, `+nextPositionSQL+`)
ON CONFLICT(docId, hash) DO NOTHING
`, uuid.NewString(), docID, hash, path, mimeType, source, docID, docID)
	if err != nil {
		return internal.Screenshot{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return internal.Screenshot{}, false, err
	}

	shot, err := scanScreenshot(d.conn.QueryRow(`SELECT `+screenshotColumns+` FROM screenshots WHERE docId = ? AND hash = ?`, docID, hash))
	if err != nil {
		return internal.Screenshot{}, false, err
	}
	return shot, n > 0, nil
}

// ListScreenshots returns a doc's screenshots in upload order. An empty status
// means all; limit <= 0 means no limit.
func (d *DB) ListScreenshots(docID string, status internal.ScreenshotStatus, limit int) ([]internal.Screenshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.conn.Query(`
SELECT `+screenshotColumns+`
FROM screenshots
WHERE docId = ? AND (? = '' OR status = ?)
ORDER BY position ASC
LIMIT ?
`, docID, string(status), string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Screenshot
	for rows.Next() {
		shot, err := scanScreenshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, shot)
	}
	return out, rows.Err()
}

func (d *DB) UpdateScreenshotStatus(id string, status internal.ScreenshotStatus, errMsg *string) error {
	res, err := d.conn.Exec(`
UPDATE screenshots SET status = ?, error = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?
`, string(status), errMsg, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "screenshot "+id)
}

// ResetFailedScreenshots puts every failed screenshot of a doc back in the queue.
func (d *DB) ResetFailedScreenshots(docID string) (int64, error) {
	res, err := d.conn.Exec(`
UPDATE screenshots SET status = 'pending', error = NULL, updatedAt = CURRENT_TIMESTAMP
WHERE docId = ? AND status = 'failed'
`, docID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
