package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"importflow/internal/pipeline"
	"importflow/internal/storage"
	"importflow/internal/util"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// removeRecord implements doc:remove-record.
func removeRecord(db *storage.DB, args []string, out io.Writer) error {
	fs := newFlagSet("doc:remove-record")
	docID := fs.String("doc", "", "doc id")
	recordID := fs.String("record", "", "record id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *docID == "" || *recordID == "" {
		return fmt.Errorf("--doc and --record are required")
	}
	if err := db.DeleteRecord(*docID, *recordID); err != nil {
		return err
	}
	fmt.Fprintf(out, "record %s removed\n", *recordID)
	return nil
}

// editRecord implements doc:edit-record. --total replaces the order total;
// --item selects a 1-based item line for --qty, --unit and --item-total.
func editRecord(db *storage.DB, args []string, out io.Writer) error {
	fs := newFlagSet("doc:edit-record")
	docID := fs.String("doc", "", "doc id")
	recordID := fs.String("record", "", "record id")
	total := fs.String("total", "", "order total")
	line := fs.Int("item", 0, "item line, starting at 1")
	qty := fs.Int("qty", -1, "item quantity")
	unit := fs.String("unit", "", "item unit value")
	itemTotal := fs.String("item-total", "", "item total value")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *docID == "" || *recordID == "" {
		return fmt.Errorf("--doc and --record are required")
	}

	edit := storage.ItemEdit{LineNo: *line}
	var err error
	if *qty >= 0 {
		edit.Quantity = util.IntPtr(*qty)
	}
	if edit.UnitValue, err = parseMoneyFlag("unit", *unit); err != nil {
		return err
	}
	if edit.TotalValue, err = parseMoneyFlag("item-total", *itemTotal); err != nil {
		return err
	}
	newTotal, err := parseMoneyFlag("total", *total)
	if err != nil {
		return err
	}

	itemChanged := edit.Quantity != nil || edit.UnitValue != nil || edit.TotalValue != nil
	if itemChanged && *line < 1 {
		return fmt.Errorf("--item is required with --qty, --unit or --item-total")
	}
	if !itemChanged && newTotal == nil {
		return fmt.Errorf("nothing to change: pass --total or --item with --qty/--unit/--item-total")
	}

	if itemChanged {
		if err := db.UpdateItem(*docID, *recordID, edit); err != nil {
			return err
		}
		fmt.Fprintf(out, "record %s item %d updated\n", *recordID, *line)
	}
	if newTotal != nil {
		if err := db.UpdateRecordTotal(*docID, *recordID, *newTotal); err != nil {
			return err
		}
		fmt.Fprintf(out, "record %s total=%s\n", *recordID, newTotal.StringFixed(2))
	}
	return nil
}

func parseMoneyFlag(name, value string) (*decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("--%s must not be negative", name)
	}
	return &d, nil
}

func writePlan(out io.Writer, plan pipeline.DocPlan) {
	fmt.Fprintf(out, "doc %s (%s) records=%d total=%s pieces=%d weight=%s tracking=%d\n",
		plan.Doc.Name, plan.Doc.ID, len(plan.Records), plan.Stats.TotalValue.StringFixed(2),
		plan.Stats.TotalPieces, plan.Stats.TotalWeight.StringFixed(2), plan.Stats.TrackingNumberCount)
	fmt.Fprintln(out, "records:")
	for _, r := range plan.Records {
		customer := r.CustomerName
		if customer == "" {
			customer = "-"
		}
		fmt.Fprintf(out, "  #%d %s %s %s\n", r.Position, r.ID, customer, r.OrderTotal.StringFixed(2))
		for i, it := range r.Items {
			fmt.Fprintf(out, "      item %d: %s x%d %s = %s\n", i+1, it.Name, it.Quantity, it.UnitValue.StringFixed(2), it.TotalValue.StringFixed(2))
		}
		for _, w := range r.Warnings {
			fmt.Fprintf(out, "      warning: %s\n", w)
		}
	}
	fmt.Fprintln(out, "customers:")
	for _, g := range plan.Groups {
		fmt.Fprintf(out, "  %s: %d records, %s\n", g.Name, len(g.Records), g.Total().StringFixed(2))
	}
	fmt.Fprintln(out, "declarations:")
	for _, d := range plan.Declarations {
		mark := ""
		if d.Overridden {
			mark = " (edited)"
		}
		fmt.Fprintf(out, "  [%s %d/%d] %s %s%s\n", d.Customer, d.Index+1, d.Count, d.Name, d.Value.StringFixed(2), mark)
	}
	for _, d := range plan.OverThreshold {
		fmt.Fprintf(out, "over threshold: %s #%d %s\n", d.Customer, d.Index+1, d.Value.StringFixed(2))
	}
	for _, m := range plan.Mismatches {
		fmt.Fprintf(out, "mismatch: %s\n", m)
	}
}
