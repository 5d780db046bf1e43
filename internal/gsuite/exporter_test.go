package gsuite

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"importflow/internal"
	"importflow/internal/customs"
	"importflow/internal/pipeline"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestExportPlan(t *testing.T) {
	var batch struct {
		ValueInputOption string `json:"valueInputOption"`
		Data             []struct {
			Range  string          `json:"range"`
			Values [][]interface{} `json:"values"`
		} `json:"data"`
	}
	var title string
	var addParents, removeParents string

	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/v4/spreadsheets"):
			var body struct {
				Properties struct {
					Title string `json:"title"`
				} `json:"properties"`
			}
			_ = json.NewDecoder(req.Body).Decode(&body)
			title = body.Properties.Title
			return jsonResponse(`{"spreadsheetId":"s1","spreadsheetUrl":"https://docs.google.com/spreadsheets/d/s1"}`), nil
		case strings.HasSuffix(req.URL.Path, "values:batchUpdate"):
			_ = json.NewDecoder(req.Body).Decode(&batch)
			return jsonResponse(`{"spreadsheetId":"s1"}`), nil
		case req.Method == http.MethodGet && strings.HasSuffix(req.URL.Path, "/files/s1"):
			return jsonResponse(`{"parents":["root"]}`), nil
		case req.Method == http.MethodPatch && strings.HasSuffix(req.URL.Path, "/files/s1"):
			addParents = req.URL.Query().Get("addParents")
			removeParents = req.URL.Query().Get("removeParents")
			return jsonResponse(`{"id":"s1","parents":["folder-1"]}`), nil
		}
		t.Errorf("unexpected request %s %s", req.Method, req.URL)
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(`{}`))}, nil
	})}

	exp, err := newWithHTTPClient(context.Background(), client, "https://sheets.test/", "https://drive.test/", "folder-1")
	if err != nil {
		t.Fatal(err)
	}

	records := []internal.OrderRecord{
		{ID: "r1", Position: 1, CustomerName: "Ana", OrderTotal: decimal.RequireFromString("205.33")},
	}
	engine := customs.MustEngine(customs.DefaultConfig())
	plan := pipeline.DocPlan{
		Doc:          internal.Doc{ID: "d1", Name: "batch"},
		Records:      records,
		Groups:       customs.GroupByCustomer(records),
		Declarations: engine.Plan(records),
		Stats:        customs.Aggregate(records),
		PackageLabel: "IF-00007",
	}

	url, err := exp.ExportPlan(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://docs.google.com/spreadsheets/d/s1" || title != "IF-00007 batch" {
		t.Fatalf("url=%s title=%s", url, title)
	}
	if addParents != "folder-1" || removeParents != "root" {
		t.Fatalf("add=%q remove=%q", addParents, removeParents)
	}
	if batch.ValueInputOption != "RAW" || len(batch.Data) != 3 {
		t.Fatalf("batch=%+v", batch)
	}
	decls := batch.Data[0]
	if decls.Range != "Declarations!A1" || len(decls.Values) != 3 {
		t.Fatalf("declarations=%+v", decls)
	}
	if decls.Values[0][0] != "package" || decls.Values[1][2] != "Ana" || decls.Values[2][5] != 102.66 {
		t.Fatalf("values=%v", decls.Values)
	}
}
