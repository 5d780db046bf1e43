package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCounters(t *testing.T) {
	Extractions.WithLabelValues("ok").Inc()
	DocsExported.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	for _, name := range []string{`importflow_extractions_total{status="ok"}`, "importflow_docs_exported_total"} {
		if !strings.Contains(out, name) {
			t.Fatalf("missing %s in output", name)
		}
	}
}
