package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"importflow/internal/util"
)

const (
	DeclarationsSheet = "Declarations"
	OrdersSheet       = "Orders"
	SummarySheet      = "Summary"
)

var (
	DeclarationHeaders = []string{
		"package", "customer", "declared_name", "split_index", "split_count", "value", "split", "overridden", "record_ids",
	}
	OrderHeaders = []string{
		"package", "position", "customer", "source", "item", "quantity", "unit_value", "total_value", "weight", "hs_code",
		"order_total", "total_pieces", "tracking_number", "warnings",
	}
)

// DeclarationRows renders one row per declaration, without the header.
func DeclarationRows(plan DocPlan) [][]any {
	rows := make([][]any, 0, len(plan.Declarations))
	for _, d := range plan.Declarations {
		rows = append(rows, []any{
			plan.PackageLabel,
			d.Customer,
			d.Name,
			d.Index + 1,
			d.Count,
			money(d.Value),
			d.Split,
			d.Overridden,
			strings.Join(d.RecordIDs, ","),
		})
	}
	return rows
}

// OrderRows renders one row per item. A record without items still gets a
// row so its total is visible.
func OrderRows(plan DocPlan) [][]any {
	var rows [][]any
	for _, rec := range plan.Records {
		base := func(item, qty, unit, total, weight, hs any) []any {
			return []any{
				plan.PackageLabel,
				rec.Position,
				rec.CustomerName,
				string(rec.Source),
				item, qty, unit, total, weight, hs,
				money(rec.OrderTotal),
				rec.TotalPieces,
				util.DerefString(rec.TrackingNumber),
				strings.Join(rec.Warnings, "; "),
			}
		}
		if len(rec.Items) == 0 {
			rows = append(rows, base("", "", "", "", "", ""))
			continue
		}
		for _, it := range rec.Items {
			var weight any = ""
			if it.Weight != nil {
				weight = it.Weight.InexactFloat64()
			}
			rows = append(rows, base(it.Name, it.Quantity, money(it.UnitValue), money(it.TotalValue), weight, util.DerefString(it.HSCode)))
		}
	}
	return rows
}

// SummaryRows are key/value pairs for the doc totals.
func SummaryRows(plan DocPlan) [][]any {
	return [][]any{
		{"package", plan.PackageLabel},
		{"doc", plan.Doc.Name},
		{"records", len(plan.Records)},
		{"customers", len(plan.Groups)},
		{"declarations", len(plan.Declarations)},
		{"split_declarations", plan.SplitCount()},
		{"total_value", money(plan.Stats.TotalValue)},
		{"total_pieces", plan.Stats.TotalPieces},
		{"total_weight", plan.Stats.TotalWeight.InexactFloat64()},
		{"tracking_numbers", plan.Stats.TrackingNumberCount},
		{"human_reviewed", plan.Doc.HumanReviewed},
	}
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func ExportPlanToXLSX(plan DocPlan, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), DeclarationsSheet); err != nil {
		return err
	}
	for _, sheet := range []string{OrdersSheet, SummarySheet} {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}
	if err := writeSheet(f, DeclarationsSheet, DeclarationHeaders, DeclarationRows(plan)); err != nil {
		return err
	}
	if err := writeSheet(f, OrdersSheet, OrderHeaders, OrderRows(plan)); err != nil {
		return err
	}
	if err := writeSheet(f, SummarySheet, []string{"key", "value"}, SummaryRows(plan)); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]any) error {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// XLSXExporter writes plans into Dir, one workbook per doc.
type XLSXExporter struct {
	Dir string
}

func (e XLSXExporter) ExportPlan(_ context.Context, plan DocPlan) (string, error) {
	name := plan.PackageLabel
	if name == "" {
		name = plan.Doc.Name
	}
	if name == "" {
		name = plan.Doc.ID
	}
	path := filepath.Join(e.Dir, safeFileName(name)+".xlsx")
	if err := ExportPlanToXLSX(plan, path); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func safeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
}

// FileExporter writes the plan to one fixed path.
type FileExporter struct {
	Path string
}

func (e FileExporter) ExportPlan(_ context.Context, plan DocPlan) (string, error) {
	if err := ExportPlanToXLSX(plan, e.Path); err != nil {
		return "", fmt.Errorf("write %s: %w", e.Path, err)
	}
	return e.Path, nil
}
