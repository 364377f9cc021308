package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/danthegoodman1/etlpipe/config"
	"github.com/danthegoodman1/etlpipe/datastore"
	"github.com/danthegoodman1/etlpipe/fetcher"
	"github.com/danthegoodman1/etlpipe/gologger"
	"github.com/danthegoodman1/etlpipe/loader"
	"github.com/danthegoodman1/etlpipe/parquet_accumulator"
	"github.com/danthegoodman1/etlpipe/partitioner"
	"github.com/danthegoodman1/etlpipe/table"
	"github.com/danthegoodman1/etlpipe/transform"
	"github.com/danthegoodman1/etlpipe/utils"
	"github.com/rs/zerolog"
)

type (
	// ObjectStore is the storage the raw and transformed files pass through.
	ObjectStore interface {
		Put(ctx context.Context, localPath, key string) error
		Get(ctx context.Context, key, localPath string) error
		List(ctx context.Context, prefix string, exts []string) ([]string, error)
	}

	Pipeline struct {
		cfg    *config.Config
		store  ObjectStore
		loader loader.Loader
		disk   *datastore.DiskDataStore

		HTTPClient *http.Client
	}

	RunOptions struct {
		// SourceURL overrides the configured archive URL when set
		SourceURL string
	}

	Report struct {
		RunID     string
		SourceURL string
		Status    Status
		// Base names of the files that were transformed, in order
		Files      []string
		RawKeys    []string
		OutputPath string
		OutputKey  string
		// Set when parquet export is on
		ParquetPath string
		ParquetKey  string
		Rows        int
		Columns     []string
		RowsLoaded  int64
		// Step name -> error message for steps that failed without stopping the run
		StepErrors map[string]string
		Error      string
		StartedAt  time.Time
		FinishedAt time.Time
	}

	Status string
)

const (
	StatusSucceeded Status = "succeeded"
	// StatusPartial means the transformed output exists but a storage, load, or ledger step failed
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

const (
	StepStage         = "stage"
	StepDownload      = "download"
	StepExtract       = "extract"
	StepUploadRaw     = "upload_raw"
	StepFetchRaw      = "fetch_raw"
	StepTransform     = "transform"
	StepUploadOutput  = "upload_output"
	StepParquetExport = "parquet_export"
	StepLoad          = "load"
	StepRecordRun     = "record_run"
)

var (
	ErrStepFailed   = errors.New("pipeline step failed")
	ErrLoadDisabled = errors.New("no database configured")
)

// New builds a pipeline. store and ld may be nil to skip storage and load steps.
func New(cfg *config.Config, store ObjectStore, ld loader.Loader, disk *datastore.DiskDataStore) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      store,
		loader:     ld,
		disk:       disk,
		HTTPClient: http.DefaultClient,
	}
}

// Run executes one full extract, transform, load run. Download, extract, and transform failures stop the
// run and return an error wrapping ErrStepFailed; other step failures are collected in the report.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	runID := utils.GenKSortedID("run_")
	runLogger := zerolog.Ctx(ctx).With().Str(string(gologger.RunIDKey), runID).Logger()
	ctx = runLogger.WithContext(context.WithValue(ctx, gologger.RunIDKey, runID))
	logger := zerolog.Ctx(ctx)

	report := &Report{
		RunID:      runID,
		SourceURL:  opts.SourceURL,
		StepErrors: map[string]string{},
		StartedAt:  time.Now(),
	}
	if report.SourceURL == "" {
		report.SourceURL = p.cfg.SourceURL
	}
	logger.Info().Str("sourceURL", report.SourceURL).Msg("starting run")

	fail := func(step string, err error) (*Report, error) {
		err = fmt.Errorf("%w: %s: %w", ErrStepFailed, step, err)
		report.Status = StatusFailed
		report.Error = err.Error()
		p.finish(ctx, report)
		return report, err
	}

	if _, err := p.disk.RunDir(runID); err != nil {
		return fail(StepStage, err)
	}
	if !p.cfg.KeepWorkDir {
		defer func() {
			if err := p.disk.Cleanup(runID); err != nil {
				logger.Warn().Err(err).Msg("error cleaning up run dir")
			}
		}()
	}

	archivePath := p.disk.Path(runID, "source.zip")
	err := p.step(ctx, StepDownload, func(ctx context.Context) error {
		n, err := fetcher.Download(ctx, p.HTTPClient, report.SourceURL, archivePath)
		if err != nil {
			return err
		}
		zerolog.Ctx(ctx).Debug().Int64("bytes", n).Msg("downloaded archive")
		return nil
	})
	if err != nil {
		return fail(StepDownload, err)
	}

	extractDir := p.disk.Path(runID, "extracted")
	var localFiles []string
	err = p.step(ctx, StepExtract, func(ctx context.Context) error {
		extracted, err := fetcher.Extract(archivePath, extractDir)
		if err != nil {
			return err
		}
		localFiles = supportedTopLevel(extracted, extractDir)
		return nil
	})
	if err != nil {
		return fail(StepExtract, err)
	}

	inputs := localFiles
	if p.store != nil {
		err = p.step(ctx, StepUploadRaw, func(ctx context.Context) error {
			keys, err := p.uploadRaw(ctx, localFiles)
			report.RawKeys = keys
			return err
		})
		report.addStepError(StepUploadRaw, err)

		var fetched []string
		err = p.step(ctx, StepFetchRaw, func(ctx context.Context) (err error) {
			fetched, err = p.fetchRaw(ctx, runID)
			return err
		})
		if err != nil {
			report.addStepError(StepFetchRaw, err)
			logger.Warn().Msg("falling back to locally extracted files")
		} else {
			inputs = fetched
		}
	}
	sortByBase(inputs)
	for _, in := range inputs {
		report.Files = append(report.Files, filepath.Base(in))
	}

	report.OutputPath = p.cfg.OutputPath
	if report.OutputPath == "" {
		report.OutputPath = p.disk.Path(runID, "transformed_data.csv")
	}
	var combined *table.Table
	err = p.step(ctx, StepTransform, func(ctx context.Context) (err error) {
		combined, err = p.Transform(ctx, inputs, report.OutputPath)
		return err
	})
	if err != nil {
		return fail(StepTransform, err)
	}
	report.Rows = combined.Len()
	report.Columns = combined.Columns

	outputKey, err := p.outputKey(report.StartedAt)
	if err != nil {
		report.addStepError(StepUploadOutput, err)
	} else if p.store != nil {
		err = p.step(ctx, StepUploadOutput, func(ctx context.Context) error {
			return p.store.Put(ctx, report.OutputPath, outputKey)
		})
		if err == nil {
			report.OutputKey = outputKey
		}
		report.addStepError(StepUploadOutput, err)
	}

	if p.cfg.ParquetExport {
		err = p.step(ctx, StepParquetExport, func(ctx context.Context) error {
			return p.exportParquet(ctx, report, combined, outputKey)
		})
		report.addStepError(StepParquetExport, err)
	}

	if p.loader != nil {
		err = p.step(ctx, StepLoad, func(ctx context.Context) (err error) {
			report.RowsLoaded, err = p.Load(ctx, report.OutputPath)
			return err
		})
		report.addStepError(StepLoad, err)
	}

	report.Status = StatusSucceeded
	if len(report.StepErrors) > 0 {
		report.Status = StatusPartial
	}
	p.finish(ctx, report)
	return report, nil
}

// Transform combines paths into one normalized table and persists it as CSV at output.
func (p *Pipeline) Transform(ctx context.Context, paths []string, output string) (*table.Table, error) {
	combined, err := transform.Combine(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("error in transform.Combine: %w", err)
	}
	if err := transform.Persist(combined, output); err != nil {
		return nil, fmt.Errorf("error in transform.Persist: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("output", output).Int("rows", combined.Len()).Msg("persisted transformed data")
	return combined, nil
}

// Load reads a transformed CSV and replaces the configured table with it.
func (p *Pipeline) Load(ctx context.Context, csvPath string) (int64, error) {
	if p.loader == nil {
		return 0, ErrLoadDisabled
	}
	t, err := transform.Read(csvPath)
	if err != nil {
		return 0, fmt.Errorf("error in transform.Read: %w", err)
	}
	n, err := p.loader.ReplaceTable(ctx, p.cfg.TableName, t)
	if err != nil {
		return 0, fmt.Errorf("error in ReplaceTable: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("table", p.cfg.TableName).Int64("rows", n).Msg("loaded table")
	return n, nil
}

func (p *Pipeline) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	logger := zerolog.Ctx(ctx)
	s := time.Now()
	logger.Debug().Str("step", name).Msg("starting step")
	err := fn(ctx)
	if err != nil {
		logger.Error().Err(err).Str("step", name).Dur("took", time.Since(s)).Msg("step failed")
		return err
	}
	logger.Info().Str("step", name).Dur("took", time.Since(s)).Msg("step done")
	return nil
}

func (p *Pipeline) uploadRaw(ctx context.Context, files []string) ([]string, error) {
	var keys []string
	var errs []error
	for _, f := range files {
		key := p.cfg.RawPrefix + filepath.Base(f)
		if err := p.store.Put(ctx, f, key); err != nil {
			errs = append(errs, fmt.Errorf("error uploading %s: %w", key, err))
			continue
		}
		keys = append(keys, key)
	}
	return keys, errors.Join(errs...)
}

func (p *Pipeline) fetchRaw(ctx context.Context, runID string) ([]string, error) {
	keys, err := p.store.List(ctx, p.cfg.RawPrefix, transform.SupportedExtensions())
	if err != nil {
		return nil, fmt.Errorf("error in List: %w", err)
	}
	dir := p.disk.Path(runID, "s3")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	for _, key := range keys {
		if err := p.store.Get(ctx, key, filepath.Join(dir, path.Base(key))); err != nil {
			return nil, fmt.Errorf("error downloading %s: %w", key, err)
		}
	}
	return p.disk.ListFiles(dir)
}

func (p *Pipeline) outputKey(t time.Time) (string, error) {
	plans, err := p.cfg.Partitions()
	if err != nil {
		return "", fmt.Errorf("error parsing partitions: %w", err)
	}
	return partitioner.PartitionKey(p.cfg.TransformedKey, t.UTC(), plans)
}

func (p *Pipeline) exportParquet(ctx context.Context, report *Report, t *table.Table, outputKey string) error {
	parquetPath := strings.TrimSuffix(report.OutputPath, filepath.Ext(report.OutputPath)) + ".parquet"
	n, err := parquet_accumulator.WriteTable(t, parquetPath)
	if err != nil {
		return fmt.Errorf("error in parquet_accumulator.WriteTable: %w", err)
	}
	report.ParquetPath = parquetPath
	zerolog.Ctx(ctx).Debug().Int64("rows", n).Str("path", parquetPath).Msg("wrote parquet")

	if p.store == nil || outputKey == "" {
		return nil
	}
	key := strings.TrimSuffix(outputKey, path.Ext(outputKey)) + ".parquet"
	if err := p.store.Put(ctx, parquetPath, key); err != nil {
		return fmt.Errorf("error uploading parquet: %w", err)
	}
	report.ParquetKey = key
	return nil
}

// finish stamps the report and writes it to the run ledger when a database is configured.
func (p *Pipeline) finish(ctx context.Context, report *Report) {
	logger := zerolog.Ctx(ctx)
	report.FinishedAt = time.Now()
	if p.loader != nil {
		err := p.loader.RecordRun(ctx, loader.RunRecord{
			ID:         report.RunID,
			SourceURL:  report.SourceURL,
			Status:     string(report.Status),
			Files:      len(report.Files),
			RowsLoaded: report.RowsLoaded,
			OutputKey:  report.OutputKey,
			Error:      report.Error,
			StartedAt:  report.StartedAt,
			FinishedAt: report.FinishedAt,
		})
		if err != nil {
			logger.Error().Err(err).Msg("error recording run")
			report.addStepError(StepRecordRun, err)
			if report.Status == StatusSucceeded {
				report.Status = StatusPartial
			}
		}
	}
	logger.Info().Str("status", string(report.Status)).Int("rows", report.Rows).Int64("rowsLoaded", report.RowsLoaded).Dur("took", report.FinishedAt.Sub(report.StartedAt)).Msg("run finished")
}

func (r *Report) addStepError(step string, err error) {
	if err == nil {
		return
	}
	r.StepErrors[step] = err.Error()
}

// supportedTopLevel keeps files directly under dir with a supported extension.
func supportedTopLevel(files []string, dir string) []string {
	root, err := filepath.Abs(dir)
	if err != nil {
		root = filepath.Clean(dir)
	}
	var out []string
	exts := transform.SupportedExtensions()
	for _, f := range files {
		if filepath.Dir(f) != root {
			continue
		}
		if utils.HasAnySuffixFold(f, exts) {
			out = append(out, f)
		}
	}
	return out
}

func sortByBase(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		return filepath.Base(paths[i]) < filepath.Base(paths[j])
	})
}
