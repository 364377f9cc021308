package loader

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/danthegoodman1/etlpipe/table"
	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

// rows per INSERT statement, keeps placeholders well under the 65535 limit for typical widths
const mysqlBatchSize = 500

type MySQLLoader struct {
	db *sql.DB
}

func openMySQL(ctx context.Context, dsn string) (*MySQLLoader, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("error in sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error in PingContext: %w", err)
	}
	return &MySQLLoader{db: db}, nil
}

// ReplaceTable drops and recreates the table outside a transaction since mysql DDL commits implicitly.
func (l *MySQLLoader) ReplaceTable(ctx context.Context, name string, t *table.Table) (int64, error) {
	logger := zerolog.Ctx(ctx)
	if len(t.Columns) == 0 {
		return 0, ErrNoColumns
	}
	kinds := columnKinds(t)

	if _, err := l.db.ExecContext(ctx, mysqlDialect.dropTableSQL(name)); err != nil {
		return 0, fmt.Errorf("error dropping table: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, mysqlDialect.createTableSQL(name, t.Columns, kinds)); err != nil {
		return 0, fmt.Errorf("error creating table: %w", err)
	}

	batch := mysqlBatchSize
	if limit := 65535 / len(t.Columns); limit < batch {
		batch = limit
	}

	var inserted int64
	for start := 0; start < t.Len(); start += batch {
		end := start + batch
		if end > t.Len() {
			end = t.Len()
		}
		args := make([]any, 0, (end-start)*len(t.Columns))
		for _, row := range t.Rows[start:end] {
			for i, col := range t.Columns {
				args = append(args, cellArg(kinds[i], row[col]))
			}
		}
		res, err := l.db.ExecContext(ctx, mysqlDialect.insertSQL(name, t.Columns, end-start), args...)
		if err != nil {
			return inserted, fmt.Errorf("error inserting rows %d-%d: %w", start, end, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("error in RowsAffected: %w", err)
		}
		inserted += n
	}

	logger.Debug().Str("table", name).Int64("rows", inserted).Msg("replaced table")
	return inserted, nil
}

func (l *MySQLLoader) RecordRun(ctx context.Context, run RunRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO etl_runs (id, source_url, status, files, rows_loaded, output_key, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			files = VALUES(files),
			rows_loaded = VALUES(rows_loaded),
			output_key = VALUES(output_key),
			error = VALUES(error),
			finished_at = VALUES(finished_at)
	`, run.ID, run.SourceURL, run.Status, run.Files, run.RowsLoaded, run.OutputKey, run.Error, run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("error inserting run record: %w", err)
	}
	return nil
}

func (l *MySQLLoader) Close() error {
	return l.db.Close()
}
