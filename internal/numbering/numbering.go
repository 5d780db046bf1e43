// Package numbering hands out sequential package numbers to docs.
package numbering

import (
	"fmt"
	"strings"
)

type Store interface {
	AssignPackageNumber(docID string, start int) (int, error)
}

type Service struct {
	store  Store
	prefix string
	width  int
	start  int
}

func New(store Store, prefix string, width, start int) *Service {
	if start < 1 {
		start = 1
	}
	if width < 1 {
		width = 1
	}
	return &Service{store: store, prefix: prefix, width: width, start: start}
}

// Assign returns the doc's package number, taking the next free one on the
// first call. Later calls return the same number.
func (s *Service) Assign(docID string) (int, error) {
	if strings.TrimSpace(docID) == "" {
		return 0, fmt.Errorf("assign package number: empty doc id")
	}
	n, err := s.store.AssignPackageNumber(docID, s.start)
	if err != nil {
		return 0, fmt.Errorf("assign package number for %s: %w", docID, err)
	}
	return n, nil
}

func (s *Service) Format(n int) string {
	return fmt.Sprintf("%s%0*d", s.prefix, s.width, n)
}

func (s *Service) Label(docID string) (string, error) {
	n, err := s.Assign(docID)
	if err != nil {
		return "", err
	}
	return s.Format(n), nil
}
