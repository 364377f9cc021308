package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/danthegoodman1/etlpipe/config"
	"github.com/danthegoodman1/etlpipe/datastore"
	"github.com/danthegoodman1/etlpipe/loader"
	"github.com/danthegoodman1/etlpipe/s3_helper"
	"github.com/danthegoodman1/etlpipe/table"
	"github.com/klauspost/compress/zip"
)

const expectedOutput = "name,height,weight,height_m,weight_kg\n" +
	"alex,65,112.99,1.65,51.25\n" +
	"ajay,71.5,150,1.82,68.04\n" +
	"alice,60,120,1.52,54.43\n"

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failAll bool
}

var errStoreDown = errors.New("store down")

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(_ context.Context, localPath, key string) error {
	if m.failAll {
		return errStoreDown
	}
	b, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return nil
}

func (m *memStore) Get(_ context.Context, key, localPath string) error {
	if m.failAll {
		return errStoreDown
	}
	m.mu.Lock()
	b, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such key %s", key)
	}
	return os.WriteFile(localPath, b, 0o644)
}

func (m *memStore) List(_ context.Context, prefix string, exts []string) ([]string, error) {
	if m.failAll {
		return nil, errStoreDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return s3_helper.FilterKeys(keys, exts), nil
}

type memLoader struct {
	tables    map[string]*table.Table
	runs      []loader.RunRecord
	recordErr error
}

func newMemLoader() *memLoader {
	return &memLoader{tables: map[string]*table.Table{}}
}

func (l *memLoader) ReplaceTable(_ context.Context, name string, t *table.Table) (int64, error) {
	l.tables[name] = t
	return int64(t.Len()), nil
}

func (l *memLoader) RecordRun(_ context.Context, run loader.RunRecord) error {
	if l.recordErr != nil {
		return l.recordErr
	}
	l.runs = append(l.runs, run)
	return nil
}

func (l *memLoader) Close() error {
	return nil
}

func sourceArchive(t *testing.T) []byte {
	t.Helper()
	files := []struct{ name, body string }{
		{"source3.xml", "<dataset><person><name>alice</name><height>60</height><weight>120</weight></person></dataset>"},
		{"source1.csv", "name,height,weight\nalex,65,112.99\n"},
		{"readme.txt", "not data"},
		{"nested/skip.csv", "name\nnobody\n"},
		{"source2.json", `{"name":"ajay","height":71.5,"weight":150}` + "\n"},
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func archiveServer(t *testing.T) *httptest.Server {
	archive := sourceArchive(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/source.zip" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, sourceURL string) *config.Config {
	return &config.Config{
		SourceURL:      sourceURL,
		WorkDir:        t.TempDir(),
		RawPrefix:      "datastore/",
		TransformedKey: "transformed/transformed_data.csv",
		TableName:      "transformed_data",
	}
}

func newPipeline(t *testing.T, cfg *config.Config, store ObjectStore, ld loader.Loader) *Pipeline {
	disk, err := datastore.NewDiskDataStore(cfg.WorkDir)
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, store, ld, disk)
}

func TestRunEndToEnd(t *testing.T) {
	srv := archiveServer(t)
	cfg := testConfig(t, srv.URL+"/source.zip")
	cfg.ParquetExport = true
	store := newMemStore()
	ld := newMemLoader()

	report, err := newPipeline(t, cfg, store, ld).Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusSucceeded {
		t.Fatalf("expected success, got %s with %v", report.Status, report.StepErrors)
	}

	for _, key := range []string{"datastore/source1.csv", "datastore/source2.json", "datastore/source3.xml"} {
		if _, ok := store.objects[key]; !ok {
			t.Fatalf("missing raw upload %s", key)
		}
	}
	if _, ok := store.objects["datastore/readme.txt"]; ok {
		t.Fatal("unsupported file should not be uploaded")
	}
	if _, ok := store.objects["datastore/skip.csv"]; ok {
		t.Fatal("nested file should not be uploaded")
	}
	if !reflect.DeepEqual(report.Files, []string{"source1.csv", "source2.json", "source3.xml"}) {
		t.Fatalf("unexpected files %v", report.Files)
	}

	if report.OutputKey != "transformed/transformed_data.csv" {
		t.Fatalf("unexpected output key %s", report.OutputKey)
	}
	if got := string(store.objects[report.OutputKey]); got != expectedOutput {
		t.Fatalf("unexpected output:\n%s", got)
	}
	if report.ParquetKey != "transformed/transformed_data.parquet" {
		t.Fatalf("unexpected parquet key %s", report.ParquetKey)
	}
	if _, ok := store.objects[report.ParquetKey]; !ok {
		t.Fatal("parquet file not uploaded")
	}

	loaded := ld.tables["transformed_data"]
	if loaded == nil || loaded.Len() != 3 || report.RowsLoaded != 3 {
		t.Fatal("expected 3 rows loaded")
	}
	if !reflect.DeepEqual(loaded.Columns, []string{"name", "height", "weight", "height_m", "weight_kg"}) {
		t.Fatalf("unexpected loaded columns %v", loaded.Columns)
	}
	if loaded.Value(0, "height_m") != 1.65 {
		t.Fatalf("loaded values should be numeric, got %v", loaded.Value(0, "height_m"))
	}

	if len(ld.runs) != 1 || ld.runs[0].ID != report.RunID || ld.runs[0].Status != string(StatusSucceeded) {
		t.Fatalf("unexpected run records %+v", ld.runs)
	}

	// run dir is cleaned up unless asked to keep it
	if _, err := os.Stat(filepath.Join(cfg.WorkDir, report.RunID)); !os.IsNotExist(err) {
		t.Fatal("run dir should be removed")
	}
}

func TestRunWithoutStoreOrLoader(t *testing.T) {
	srv := archiveServer(t)
	cfg := testConfig(t, "")
	cfg.OutputPath = filepath.Join(t.TempDir(), "out", "transformed.csv")
	cfg.KeepWorkDir = true

	report, err := newPipeline(t, cfg, nil, nil).Run(context.Background(), RunOptions{SourceURL: srv.URL + "/source.zip"})
	if err != nil {
		t.Fatal(err)
	}
	if report.SourceURL != srv.URL+"/source.zip" {
		t.Fatal("run option should override the configured source")
	}
	b, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != expectedOutput {
		t.Fatalf("unexpected output:\n%s", string(b))
	}
	if report.OutputKey != "" || report.RowsLoaded != 0 {
		t.Fatal("storage and load steps should be skipped")
	}
	if _, err := os.Stat(filepath.Join(cfg.WorkDir, report.RunID, "source.zip")); err != nil {
		t.Fatal("run dir should be kept", err)
	}
}

func TestRunStoreFailuresAreNonFatal(t *testing.T) {
	srv := archiveServer(t)
	cfg := testConfig(t, srv.URL+"/source.zip")
	store := newMemStore()
	store.failAll = true

	report, err := newPipeline(t, cfg, store, nil).Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusPartial {
		t.Fatalf("expected partial, got %s", report.Status)
	}
	for _, step := range []string{StepUploadRaw, StepFetchRaw, StepUploadOutput} {
		if _, ok := report.StepErrors[step]; !ok {
			t.Fatalf("expected error recorded for %s, got %v", step, report.StepErrors)
		}
	}
	if report.Rows != 3 {
		t.Fatalf("expected local fallback to transform 3 rows, got %d", report.Rows)
	}
}

func TestRunDownloadFailureIsFatal(t *testing.T) {
	srv := archiveServer(t)
	cfg := testConfig(t, srv.URL+"/missing.zip")
	ld := newMemLoader()

	report, err := newPipeline(t, cfg, newMemStore(), ld).Run(context.Background(), RunOptions{})
	if !errors.Is(err, ErrStepFailed) {
		t.Fatalf("expected ErrStepFailed, got %v", err)
	}
	if report.Status != StatusFailed || !strings.Contains(report.Error, StepDownload) {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(ld.runs) != 1 || ld.runs[0].Status != string(StatusFailed) {
		t.Fatal("failed run should still be recorded")
	}
}

func TestRunTransformFailureIsFatal(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("bad.json")
	_, _ = w.Write([]byte("{not json\n"))
	_ = zw.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL+"/source.zip")
	cfg.OutputPath = filepath.Join(t.TempDir(), "out.csv")

	_, err := newPipeline(t, cfg, nil, nil).Run(context.Background(), RunOptions{})
	if !errors.Is(err, ErrStepFailed) {
		t.Fatalf("expected ErrStepFailed, got %v", err)
	}
	if _, err := os.Stat(cfg.OutputPath); !os.IsNotExist(err) {
		t.Fatal("no output should be written when a file fails")
	}
}

func TestRunPartitionedOutputKey(t *testing.T) {
	srv := archiveServer(t)
	cfg := testConfig(t, srv.URL+"/source.zip")
	cfg.OutputPartitions = "toYear,toMonth"
	store := newMemStore()

	report, err := newPipeline(t, cfg, store, nil).Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(report.OutputKey, "transformed/year=") || !strings.HasSuffix(report.OutputKey, "/transformed_data.csv") || !strings.Contains(report.OutputKey, "/month=") {
		t.Fatalf("unexpected output key %s", report.OutputKey)
	}
	if _, ok := store.objects[report.OutputKey]; !ok {
		t.Fatal("output not uploaded under partitioned key")
	}
}

func TestLoadDisabled(t *testing.T) {
	cfg := testConfig(t, "")
	if _, err := newPipeline(t, cfg, nil, nil).Load(context.Background(), "x.csv"); !errors.Is(err, ErrLoadDisabled) {
		t.Fatalf("expected ErrLoadDisabled, got %v", err)
	}
}

func TestRunRecordFailureMarksPartial(t *testing.T) {
	srv := archiveServer(t)
	cfg := testConfig(t, srv.URL+"/source.zip")
	ld := newMemLoader()
	ld.recordErr = errors.New("ledger down")

	report, err := newPipeline(t, cfg, nil, ld).Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := report.StepErrors[StepRecordRun]; !ok {
		t.Fatalf("expected record_run error, got %v", report.StepErrors)
	}
	if report.Status != StatusPartial {
		t.Fatalf("expected partial after ledger failure, got %s", report.Status)
	}
	if report.RowsLoaded != 3 {
		t.Fatalf("load should still happen, got %d rows", report.RowsLoaded)
	}
}
