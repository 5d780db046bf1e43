package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"importflow/internal"
	"importflow/internal/customs"
	"importflow/internal/metrics"
	"importflow/internal/numbering"
	"importflow/internal/storage"
)

var (
	ErrNotReviewed   = errors.New("doc has not been reviewed")
	ErrOverThreshold = errors.New("declaration above customs threshold")
)

// DocPlan is everything an export needs for one doc, recomputed from the
// stored records and overrides on every call.
type DocPlan struct {
	Doc           internal.Doc
	Records       []internal.OrderRecord
	Groups        []customs.CustomerGroup
	Declarations  []customs.Declaration
	Stats         customs.Stats
	OverThreshold []customs.Declaration
	// Mismatches lists customers whose edited values drifted from their orders.
	Mismatches    []customs.Mismatch
	PackageLabel  string
}

func (p DocPlan) SplitCount() int {
	n := 0
	for _, d := range p.Declarations {
		if d.Split {
			n++
		}
	}
	return n
}

// PlanExporter publishes a plan somewhere and returns where it went.
type PlanExporter interface {
	ExportPlan(ctx context.Context, plan DocPlan) (string, error)
}

type Planner struct {
	db      *storage.DB
	engine  *customs.Engine
	numbers *numbering.Service
	logger  *slog.Logger
}

func NewPlanner(db *storage.DB, engine *customs.Engine, numbers *numbering.Service, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{db: db, engine: engine, numbers: numbers, logger: logger.With("system", "planner")}
}

func (p *Planner) PlanDoc(docID string) (DocPlan, error) {
	doc, err := p.db.MustDoc(docID)
	if err != nil {
		return DocPlan{}, err
	}
	records, err := p.db.ListRecords(docID)
	if err != nil {
		return DocPlan{}, fmt.Errorf("list records: %w", err)
	}
	overrides, err := p.db.ListSplitOverrides(docID)
	if err != nil {
		return DocPlan{}, fmt.Errorf("list overrides: %w", err)
	}

	decls := customs.ApplyOverrides(p.engine.Plan(records), overrides)
	groups := customs.GroupByCustomer(records)
	plan := DocPlan{
		Doc:           doc,
		Records:       records,
		Groups:        groups,
		Declarations:  decls,
		Stats:         customs.Aggregate(records),
		OverThreshold: p.engine.ExceedsThreshold(decls),
		Mismatches:    customs.Reconcile(decls, groups),
	}
	if doc.PackageNumber != nil && p.numbers != nil {
		plan.PackageLabel = p.numbers.Format(*doc.PackageNumber)
	}
	return plan, nil
}

// PlanRecords plans records that were never stored, for one-shot runs.
// Records without an ID are numbered in input order.
func (p *Planner) PlanRecords(records []internal.OrderRecord) DocPlan {
	records = append([]internal.OrderRecord(nil), records...)
	for i := range records {
		records[i].Position = i + 1
		if records[i].ID == "" {
			records[i].ID = fmt.Sprintf("record-%d", i+1)
		}
	}
	decls := p.engine.Plan(records)
	return DocPlan{
		Records:       records,
		Groups:        customs.GroupByCustomer(records),
		Declarations:  decls,
		Stats:         customs.Aggregate(records),
		OverThreshold: p.engine.ExceedsThreshold(decls),
	}
}

// MarkReviewed records that a human checked the doc. A doc whose overrides
// push a declaration back above the threshold cannot be approved.
func (p *Planner) MarkReviewed(docID string) (DocPlan, error) {
	plan, err := p.PlanDoc(docID)
	if err != nil {
		return DocPlan{}, err
	}
	if len(plan.OverThreshold) > 0 {
		d := plan.OverThreshold[0]
		return plan, fmt.Errorf("%w: %s #%d is %s", ErrOverThreshold, d.Customer, d.Index+1, d.Value.StringFixed(2))
	}
	for _, m := range plan.Mismatches {
		p.logger.Warn("reviewed with edited values off the order total", "doc", docID, "customer", m.Customer,
			"declared", m.Declared.StringFixed(2), "orders", m.Orders.StringFixed(2))
	}
	if err := p.db.SetDocReviewed(docID, true); err != nil {
		return plan, err
	}
	plan.Doc.HumanReviewed = true
	if plan.Doc.Status != internal.DocExported {
		plan.Doc.Status = internal.DocReviewed
	}
	p.logger.Info("doc reviewed", "doc", docID, "declarations", len(plan.Declarations))
	return plan, nil
}

// Export assigns the doc its package number, hands the plan to exporter and
// marks the doc exported. Unreviewed docs are refused unless force is set.
func (p *Planner) Export(ctx context.Context, docID string, exporter PlanExporter, force bool) (string, DocPlan, error) {
	plan, err := p.PlanDoc(docID)
	if err != nil {
		return "", DocPlan{}, err
	}
	if !plan.Doc.HumanReviewed && !force {
		return "", plan, fmt.Errorf("export %s: %w", docID, ErrNotReviewed)
	}
	if p.numbers != nil {
		label, err := p.numbers.Label(docID)
		if err != nil {
			return "", plan, err
		}
		plan.PackageLabel = label
	}

	location, err := exporter.ExportPlan(ctx, plan)
	if err != nil {
		return "", plan, fmt.Errorf("export %s: %w", docID, err)
	}
	if err := p.db.SetDocStatus(docID, internal.DocExported); err != nil {
		return location, plan, err
	}
	plan.Doc.Status = internal.DocExported

	metrics.DocsExported.Inc()
	metrics.SplitDeclarations.Add(float64(plan.SplitCount()))
	p.logger.Info("doc exported", "doc", docID, "package", plan.PackageLabel, "location", location, "forced", force && !plan.Doc.HumanReviewed)
	return location, plan, nil
}
