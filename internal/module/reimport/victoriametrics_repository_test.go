package reimport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func newBackendFixture(t *testing.T, handler http.HandlerFunc) MetricsBackendRepository {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(drain{})

	return NewVictoriaMetricsRepository(srv.URL, logger, srv.Client())
}

func TestDeleteSeries(t *testing.T) {
	var gotPath, gotMatch, gotMethod string

	backend := newBackendFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMatch = r.URL.Query().Get("match[]")
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	})

	match := `shotgun_tickets_sold_total{event_id="e-1"}`
	if err := backend.DeleteSeries(context.Background(), match); err != nil {
		t.Fatalf("DeleteSeries: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method: got %q", gotMethod)
	}
	if gotPath != "/api/v1/admin/tsdb/delete_series" {
		t.Errorf("path: got %q", gotPath)
	}
	if gotMatch != match {
		t.Errorf("match[]: got %q, want %q", gotMatch, match)
	}
}

func TestImportSamples(t *testing.T) {
	var gotPath, gotBody, gotContentType string

	backend := newBackendFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusNoContent)
	})

	lines := []string{
		`shotgun_tickets_sold_total{event_id="e-1"} 1 1704103200000`,
		`shotgun_tickets_revenue_euros_total{event_id="e-1"} 20 1704103200000`,
	}
	if err := backend.ImportSamples(context.Background(), lines); err != nil {
		t.Fatalf("ImportSamples: %v", err)
	}

	if gotPath != "/api/v1/import/prometheus" {
		t.Errorf("path: got %q", gotPath)
	}
	if gotContentType != "text/plain" {
		t.Errorf("content type: got %q", gotContentType)
	}
	want := lines[0] + "\n" + lines[1]
	if gotBody != want {
		t.Errorf("body:\n got %s\nwant %s", gotBody, want)
	}
}

func TestImportSamplesEmptyIsNoop(t *testing.T) {
	called := false
	backend := newBackendFixture(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	if err := backend.ImportSamples(context.Background(), nil); err != nil {
		t.Fatalf("ImportSamples: %v", err)
	}
	if called {
		t.Error("empty import must not reach the backend")
	}
}

func TestBackendErrorSurfaces(t *testing.T) {
	backend := newBackendFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cannot parse match", http.StatusBadRequest)
	})

	if err := backend.DeleteSeries(context.Background(), "bad{"); err == nil {
		t.Error("expected an error for a 400 response")
	}
	if err := backend.ImportSamples(context.Background(), []string{"x 1 1"}); err == nil {
		t.Error("expected an error for a 400 response")
	}
}
