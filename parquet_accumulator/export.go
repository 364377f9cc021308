package parquet_accumulator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danthegoodman1/etlpipe/table"
	"github.com/danthegoodman1/etlpipe/transform"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"
)

var ErrNoColumns = errors.New("table has no columns")

// WriteTable writes t to a parquet file at path and returns the number of rows written.
func WriteTable(t *table.Table, path string) (n int64, err error) {
	if len(t.Columns) == 0 {
		return 0, ErrNoColumns
	}

	pa := NewParquetAccumulator()
	pa.WriteTable(t)
	parquetSchema, err := pa.GetSchemaString()
	if err != nil {
		return 0, fmt.Errorf("error in GetSchemaString: %w", err)
	}

	kinds := make(map[string]table.Kind, len(t.Columns))
	for _, col := range t.Columns {
		kinds[col] = t.Kind(col)
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, fmt.Errorf("error in NewLocalFileWriter: %w", err)
	}
	defer func() {
		if cerr := fw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("error closing parquet file: %w", cerr)
		}
	}()

	pw, err := writer.NewJSONWriter(parquetSchema, fw, 4)
	if err != nil {
		return 0, fmt.Errorf("error in NewJSONWriter: %w", err)
	}

	for _, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for _, col := range t.Columns {
			v := row[col]
			if v == nil {
				continue
			}
			if kinds[col] == table.KindText {
				v = transform.FormatCell(v)
			}
			rec[pa.FieldName(col)] = v
		}
		rowBytes, err := json.Marshal(rec)
		if err != nil {
			return n, fmt.Errorf("error in json.Marshal of row: %w", err)
		}
		if err := pw.Write(string(rowBytes)); err != nil {
			return n, fmt.Errorf("error in pw.Write for row %s: %w", string(rowBytes), err)
		}
		n++
	}

	if err := pw.WriteStop(); err != nil {
		return n, fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	return n, nil
}
