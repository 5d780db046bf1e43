// Package customs splits a customer's declared value into declarations that
// each stay under the per-declaration customs threshold.
package customs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidConfig = errors.New("customs: invalid config")

// maxSplits bounds how many declarations one customer total may be carved
// into. Totals beyond unit*maxSplits are left whole and reported as over the
// threshold.
const maxSplits = 1000

var defaultSurnames = []string{
	"García",
	"Rodríguez",
	"Martínez",
	"López",
	"González",
	"Hernández",
	"Pérez",
	"Sánchez",
	"Ramírez",
	"Torres",
}

type Config struct {
	Threshold     decimal.Decimal
	SafeSplitUnit decimal.Decimal
	SurnamePool   []string
}

func DefaultConfig() Config {
	pool := make([]string, len(defaultSurnames))
	copy(pool, defaultSurnames)
	return Config{
		Threshold:     decimal.NewFromInt(200),
		SafeSplitUnit: decimal.NewFromInt(199),
		SurnamePool:   pool,
	}
}

// DefaultSurnames returns a copy of the built-in alias surname pool.
func DefaultSurnames() []string {
	return DefaultConfig().SurnamePool
}

func (c Config) Validate() error {
	if !c.Threshold.IsPositive() {
		return fmt.Errorf("%w: threshold must be positive, got %s", ErrInvalidConfig, c.Threshold)
	}
	if !c.SafeSplitUnit.IsPositive() {
		return fmt.Errorf("%w: safe split unit must be positive, got %s", ErrInvalidConfig, c.SafeSplitUnit)
	}
	if c.SafeSplitUnit.GreaterThanOrEqual(c.Threshold) {
		return fmt.Errorf("%w: safe split unit %s must be below threshold %s", ErrInvalidConfig, c.SafeSplitUnit, c.Threshold)
	}
	if !c.SafeSplitUnit.Equal(c.SafeSplitUnit.Round(2)) {
		return fmt.Errorf("%w: safe split unit %s has sub-cent precision", ErrInvalidConfig, c.SafeSplitUnit)
	}
	if len(c.SurnamePool) == 0 {
		return fmt.Errorf("%w: surname pool is empty", ErrInvalidConfig)
	}
	for i, s := range c.SurnamePool {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: surname pool entry %d is blank", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	threshold decimal.Decimal
	unitCents int64
	maxCents  int64
	surnames  []string
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	surnames := make([]string, 0, len(cfg.SurnamePool))
	for _, s := range cfg.SurnamePool {
		surnames = append(surnames, strings.TrimSpace(s))
	}
	unit := toCents(cfg.SafeSplitUnit)
	return &Engine{
		threshold: cfg.Threshold,
		unitCents: unit,
		maxCents:  unit * maxSplits,
		surnames:  surnames,
	}, nil
}

func MustEngine(cfg Config) *Engine {
	e, err := NewEngine(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Engine) Threshold() decimal.Decimal { return e.threshold }

func (e *Engine) SafeSplitUnit() decimal.Decimal { return fromCents(e.unitCents) }

// MaxSplittable is the largest total Partition will carve.
func (e *Engine) MaxSplittable() decimal.Decimal { return fromCents(e.maxCents) }

func toCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
