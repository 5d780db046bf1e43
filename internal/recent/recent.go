// Package recent keeps the customer names an operator used lately, bounded in
// size and age.
package recent

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"importflow/internal"
	"importflow/internal/util"
)

type Store interface {
	Touch(name string)
	// List returns names most recent first.
	List() []string
	Len() int
}

type Persister interface {
	SaveRecentCustomers(customers []internal.RecentCustomer) error
	LoadRecentCustomers() ([]internal.RecentCustomer, error)
}

type entry struct {
	name      string
	touchedAt time.Time
}

// LRU is a Store backed by an expiring LRU cache. Names that differ only in
// case, accents or spacing share one slot; the latest spelling wins.
type LRU struct {
	cache *expirable.LRU[string, entry]
	ttl   time.Duration
	now   func() time.Time
}

func NewLRU(size int, ttl time.Duration) *LRU {
	return &LRU{
		cache: expirable.NewLRU[string, entry](size, nil, ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (l *LRU) Touch(name string) {
	name = util.NormalizeSpaces(name)
	key := util.NormalizeHeader(name)
	if key == "" || strings.EqualFold(name, "Unknown Customer") {
		return
	}
	l.cache.Add(key, entry{name: name, touchedAt: l.now()})
}

func (l *LRU) List() []string {
	values := l.cache.Values()
	out := make([]string, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		out = append(out, values[i].name)
	}
	return out
}

func (l *LRU) Len() int {
	return len(l.cache.Keys())
}

// Snapshot writes the live entries, newest first.
func (l *LRU) Snapshot(p Persister) error {
	values := l.cache.Values()
	out := make([]internal.RecentCustomer, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		out = append(out, internal.RecentCustomer{Name: values[i].name, TouchedAt: values[i].touchedAt})
	}
	return p.SaveRecentCustomers(out)
}

// Restore loads persisted entries, skipping those already past the TTL. A
// restored entry gets a fresh TTL from the moment it is loaded.
func (l *LRU) Restore(p Persister) error {
	saved, err := p.LoadRecentCustomers()
	if err != nil {
		return err
	}
	now := l.now()
	for i := len(saved) - 1; i >= 0; i-- {
		c := saved[i]
		if l.ttl > 0 && now.Sub(c.TouchedAt) > l.ttl {
			continue
		}
		name := util.NormalizeSpaces(c.Name)
		key := util.NormalizeHeader(name)
		if key == "" {
			continue
		}
		l.cache.Add(key, entry{name: name, touchedAt: c.TouchedAt})
	}
	return nil
}
