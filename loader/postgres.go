package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/danthegoodman1/etlpipe/crdb"
	"github.com/danthegoodman1/etlpipe/table"
	"github.com/danthegoodman1/etlpipe/transform"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresLoader loads into postgres or cockroach over pgx.
type PostgresLoader struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, dsn string) (*PostgresLoader, error) {
	pool, err := crdb.ConnectToDB(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("error in crdb.ConnectToDB: %w", err)
	}
	return &PostgresLoader{pool: pool}, nil
}

func (l *PostgresLoader) ReplaceTable(ctx context.Context, name string, t *table.Table) (int64, error) {
	logger := zerolog.Ctx(ctx)
	if len(t.Columns) == 0 {
		return 0, ErrNoColumns
	}

	kinds := columnKinds(t)
	rows := make([][]any, 0, t.Len())
	for _, row := range t.Rows {
		vals := make([]any, len(t.Columns))
		for i, col := range t.Columns {
			vals[i] = pgValue(kinds[i], row[col])
		}
		rows = append(rows, vals)
	}

	var copied int64
	err := crdb.ExecInTx(ctx, l.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, postgresDialect.dropTableSQL(name)); err != nil {
			return fmt.Errorf("error dropping table: %w", err)
		}
		if _, err := tx.Exec(ctx, postgresDialect.createTableSQL(name, t.Columns, kinds)); err != nil {
			return fmt.Errorf("error creating table: %w", err)
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{name}, t.Columns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("error in CopyFrom: %w", err)
		}
		copied = n
		return nil
	})
	if err != nil {
		logPgError(logger, err, name)
		return 0, fmt.Errorf("error in ExecInTx: %w", err)
	}

	logger.Debug().Str("table", name).Int64("rows", copied).Msg("replaced table")
	return copied, nil
}

func (l *PostgresLoader) RecordRun(ctx context.Context, run RunRecord) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO etl_runs (id, source_url, status, files, rows_loaded, output_key, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			files = excluded.files,
			rows_loaded = excluded.rows_loaded,
			output_key = excluded.output_key,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, run.ID, run.SourceURL, run.Status, run.Files, run.RowsLoaded, run.OutputKey, run.Error, run.StartedAt, run.FinishedAt)
	if err != nil {
		logPgError(zerolog.Ctx(ctx), err, "etl_runs")
		return fmt.Errorf("error inserting run record: %w", err)
	}
	return nil
}

func (l *PostgresLoader) Close() error {
	l.pool.Close()
	return nil
}

func logPgError(logger *zerolog.Logger, err error, tableName string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		logger.Error().Str("code", pgErr.Code).Str("table", tableName).Str("detail", pgErr.Detail).Msg(pgErr.Message)
	}
}

// pgValue wraps a cell in the pgtype matching the column so CopyFrom can encode nulls.
func pgValue(kind table.Kind, v any) any {
	switch kind {
	case table.KindNumber:
		f, ok := v.(float64)
		if !ok {
			return pgtype.Float8{Status: pgtype.Null}
		}
		return pgtype.Float8{Float: f, Status: pgtype.Present}
	case table.KindBool:
		b, ok := v.(bool)
		if !ok {
			return pgtype.Bool{Status: pgtype.Null}
		}
		return pgtype.Bool{Bool: b, Status: pgtype.Present}
	default:
		if v == nil {
			return pgtype.Text{Status: pgtype.Null}
		}
		return pgtype.Text{String: transform.FormatCell(v), Status: pgtype.Present}
	}
}
