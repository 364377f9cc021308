package http_server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danthegoodman1/etlpipe/pipeline"
	"github.com/labstack/echo/v4"
)

type fakeRunner struct {
	started chan struct{}
	release chan struct{}
	err     error
	opts    []pipeline.RunOptions
}

func (f *fakeRunner) Run(_ context.Context, opts pipeline.RunOptions) (*pipeline.Report, error) {
	f.opts = append(f.opts, opts)
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	report := &pipeline.Report{RunID: "run_test", SourceURL: opts.SourceURL, Status: pipeline.StatusSucceeded}
	if f.err != nil {
		report.Status = pipeline.StatusFailed
		return report, f.err
	}
	return report, nil
}

func do(s *HTTPServer, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	rec := do(NewHTTPServer(&fakeRunner{}), http.MethodGet, "/hc", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Fatal("missing request id header")
	}
}

func TestRunAndLast(t *testing.T) {
	runner := &fakeRunner{}
	s := NewHTTPServer(runner)

	if rec := do(s, http.MethodGet, "/runs/last", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any run, got %d", rec.Code)
	}

	rec := do(s, http.MethodPost, "/runs", `{"SourceURL":"https://example.com/data/source.zip?x=1&y=2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "x=1&y=2") {
		t.Fatalf("source url should not be html escaped: %s", rec.Body.String())
	}
	var report pipeline.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.RunID != "run_test" || runner.opts[0].SourceURL != "https://example.com/data/source.zip?x=1&y=2" {
		t.Fatalf("unexpected report %+v", report)
	}

	rec = do(s, http.MethodGet, "/runs/last", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "run_test") {
		t.Fatalf("unexpected last run response %d %s", rec.Code, rec.Body.String())
	}

	// no body uses the configured source
	rec = do(s, http.MethodPost, "/runs", "")
	if rec.Code != http.StatusOK || runner.opts[1].SourceURL != "" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestRunBadSourceURL(t *testing.T) {
	runner := &fakeRunner{}
	rec := do(NewHTTPServer(runner), http.MethodPost, "/runs", `{"SourceURL":"not a url"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(runner.opts) != 0 {
		t.Fatal("runner should not be called")
	}
}

func TestRunFailure(t *testing.T) {
	s := NewHTTPServer(&fakeRunner{err: errors.New("boom")})
	rec := do(s, http.MethodPost, "/runs", "")
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "request id") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	// failed runs are still visible
	if rec := do(s, http.MethodGet, "/runs/last", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected last run after failure, got %d", rec.Code)
	}
}

func TestRunConflict(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{}), release: make(chan struct{})}
	s := NewHTTPServer(runner)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- do(s, http.MethodPost, "/runs", "")
	}()
	<-runner.started

	if rec := do(s, http.MethodPost, "/runs", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while running, got %d", rec.Code)
	}

	close(runner.release)
	if rec := <-done; rec.Code != http.StatusOK {
		t.Fatalf("first run should succeed, got %d", rec.Code)
	}
}
