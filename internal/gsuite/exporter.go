// Package gsuite publishes declaration plans as Google Sheets.
package gsuite

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"importflow/internal/config"
	"importflow/internal/pipeline"
)

type Exporter struct {
	sheets   *sheets.Service
	drive    *drive.Service
	folderID string
	logger   *slog.Logger
}

func NewExporter(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Exporter, error) {
	if err := cfg.Require("GOOGLE_CLIENT_ID", cfg.GoogleClientID); err != nil {
		return nil, err
	}
	if err := cfg.Require("GOOGLE_CLIENT_SECRET", cfg.GoogleClientSecret); err != nil {
		return nil, err
	}
	if err := cfg.Require("GOOGLE_REFRESH_TOKEN", cfg.GoogleRefreshToken); err != nil {
		return nil, err
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GoogleRedirectURI,
		Scopes:       []string{sheets.SpreadsheetsScope, drive.DriveFileScope},
	}
	tokenSource := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.GoogleRefreshToken})

	sheetsSvc, err := sheets.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, err
	}
	driveSvc, err := drive.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, err
	}
	return newExporter(sheetsSvc, driveSvc, cfg.GoogleDriveFolderID, logger), nil
}

func newExporter(sheetsSvc *sheets.Service, driveSvc *drive.Service, folderID string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{sheets: sheetsSvc, drive: driveSvc, folderID: folderID, logger: logger.With("system", "gsuite")}
}

func newWithHTTPClient(ctx context.Context, client *http.Client, sheetsEndpoint, driveEndpoint, folderID string) (*Exporter, error) {
	sheetsSvc, err := sheets.NewService(ctx, option.WithHTTPClient(client), option.WithEndpoint(sheetsEndpoint))
	if err != nil {
		return nil, err
	}
	driveSvc, err := drive.NewService(ctx, option.WithHTTPClient(client), option.WithEndpoint(driveEndpoint))
	if err != nil {
		return nil, err
	}
	return newExporter(sheetsSvc, driveSvc, folderID, nil), nil
}

// ExportPlan creates a spreadsheet with the same tabs as the XLSX export and
// files it under the configured Drive folder. It returns the sheet URL.
func (e *Exporter) ExportPlan(ctx context.Context, plan pipeline.DocPlan) (string, error) {
	title := plan.PackageLabel
	if title == "" {
		title = plan.Doc.Name
	}
	if plan.PackageLabel != "" && plan.Doc.Name != "" {
		title = plan.PackageLabel + " " + plan.Doc.Name
	}

	tabs := []string{pipeline.DeclarationsSheet, pipeline.OrdersSheet, pipeline.SummarySheet}
	spreadsheet := &sheets.Spreadsheet{Properties: &sheets.SpreadsheetProperties{Title: title}}
	for _, tab := range tabs {
		spreadsheet.Sheets = append(spreadsheet.Sheets, &sheets.Sheet{Properties: &sheets.SheetProperties{Title: tab}})
	}
	created, err := e.sheets.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create spreadsheet: %w", err)
	}

	data := []*sheets.ValueRange{
		{Range: pipeline.DeclarationsSheet + "!A1", Values: withHeader(pipeline.DeclarationHeaders, pipeline.DeclarationRows(plan))},
		{Range: pipeline.OrdersSheet + "!A1", Values: withHeader(pipeline.OrderHeaders, pipeline.OrderRows(plan))},
		{Range: pipeline.SummarySheet + "!A1", Values: withHeader([]string{"key", "value"}, pipeline.SummaryRows(plan))},
	}
	if _, err := e.sheets.Spreadsheets.Values.BatchUpdate(created.SpreadsheetId, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("write spreadsheet %s: %w", created.SpreadsheetId, err)
	}

	if e.folderID != "" {
		if err := e.moveToFolder(ctx, created.SpreadsheetId); err != nil {
			return created.SpreadsheetUrl, err
		}
	}
	e.logger.Info("sheet exported", "doc", plan.Doc.ID, "spreadsheet", created.SpreadsheetId, "declarations", len(plan.Declarations))
	return created.SpreadsheetUrl, nil
}

func (e *Exporter) moveToFolder(ctx context.Context, fileID string) error {
	file, err := e.drive.Files.Get(fileID).Fields("parents").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive get %s: %w", fileID, err)
	}
	call := e.drive.Files.Update(fileID, &drive.File{}).AddParents(e.folderID).Fields("id, parents")
	if len(file.Parents) > 0 {
		call = call.RemoveParents(strings.Join(file.Parents, ","))
	}
	if _, err := call.Context(ctx).Do(); err != nil {
		return fmt.Errorf("drive move %s: %w", fileID, err)
	}
	return nil
}

func withHeader(headers []string, rows [][]any) [][]interface{} {
	out := make([][]interface{}, 0, len(rows)+1)
	head := make([]interface{}, len(headers))
	for i, h := range headers {
		head[i] = h
	}
	out = append(out, head)
	for _, row := range rows {
		out = append(out, row)
	}
	return out
}
