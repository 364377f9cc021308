package transform

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/danthegoodman1/etlpipe/table"
	"github.com/rs/zerolog"
)

// Combine reads and normalizes every path in order and concatenates the results.
// The first failing file aborts the whole aggregation and no table is returned.
func Combine(ctx context.Context, paths []string) (*table.Table, error) {
	logger := zerolog.Ctx(ctx)

	tables := make([]*table.Table, 0, len(paths))
	for _, path := range paths {
		logger.Info().Str("path", path).Msg("processing file")
		t, err := Read(path)
		if err != nil {
			return nil, fmt.Errorf("error in Read for %s: %w", path, err)
		}
		t, err = Normalize(t)
		if err != nil {
			return nil, fmt.Errorf("error in Normalize for %s: %w", path, err)
		}
		logger.Debug().Str("path", path).Int("rows", t.Len()).Strs("columns", t.Columns).Msg("processed file")
		tables = append(tables, t)
	}

	return table.Concat(tables...), nil
}

// Persist writes t as CSV with a header row. The file only appears at outputPath once it is
// completely written.
func Persist(t *table.Table, outputPath string) (err error) {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error in os.MkdirAll: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(outputPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("error in os.CreateTemp: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	w := csv.NewWriter(f)
	if len(t.Columns) > 0 {
		if err = w.Write(t.Columns); err != nil {
			return fmt.Errorf("error writing header: %w", err)
		}
		record := make([]string, len(t.Columns))
		for _, row := range t.Rows {
			for i, col := range t.Columns {
				record[i] = FormatCell(row[col])
			}
			if err = w.Write(record); err != nil {
				return fmt.Errorf("error writing row: %w", err)
			}
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return fmt.Errorf("error flushing csv: %w", err)
	}
	// CreateTemp makes the file owner-only
	if err = f.Chmod(0o644); err != nil {
		return fmt.Errorf("error in f.Chmod: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("error closing temp file: %w", err)
	}
	if err = os.Rename(f.Name(), outputPath); err != nil {
		return fmt.Errorf("error in os.Rename: %w", err)
	}
	return nil
}

// FormatCell renders a cell for CSV output: empty for null, shortest form for numbers.
func FormatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "True"
		}
		return "False"
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
