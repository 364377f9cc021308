package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danthegoodman1/etlpipe/gologger"
	"github.com/danthegoodman1/etlpipe/table"
	"github.com/danthegoodman1/etlpipe/transform"
)

type (
	// Loader writes tables into a relational database.
	Loader interface {
		// ReplaceTable drops name if it exists, recreates it from the columns of t, and inserts every row.
		ReplaceTable(ctx context.Context, name string, t *table.Table) (int64, error)
		// RecordRun upserts the run into the etl_runs ledger.
		RecordRun(ctx context.Context, run RunRecord) error
		Close() error
	}

	RunRecord struct {
		ID         string
		SourceURL  string
		Status     string
		Files      int
		RowsLoaded int64
		OutputKey  string
		Error      string
		StartedAt  time.Time
		FinishedAt time.Time
	}
)

var (
	ErrUnknownDriver = errors.New("unknown database driver")
	ErrNoColumns     = errors.New("table has no columns")

	logger = gologger.NewLogger()
)

// Open connects a loader for driver, one of postgres, cockroach or mysql.
func Open(ctx context.Context, driver, dsn string) (Loader, error) {
	logger.Debug().Str("driver", driver).Msg("opening loader")
	switch driver {
	case "postgres", "cockroach":
		return openPostgres(ctx, dsn)
	case "mysql":
		return openMySQL(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

type dialect struct {
	quote   string
	number  string
	boolean string
	text    string
	// placeholder for the 1-based argument position
	placeholder func(n int) string
}

var (
	postgresDialect = dialect{
		quote:       `"`,
		number:      "DOUBLE PRECISION",
		boolean:     "BOOLEAN",
		text:        "TEXT",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
	mysqlDialect = dialect{
		quote:       "`",
		number:      "DOUBLE",
		boolean:     "BOOLEAN",
		text:        "TEXT",
		placeholder: func(int) string { return "?" },
	}
)

func (d dialect) quoteIdent(name string) string {
	return d.quote + strings.ReplaceAll(name, d.quote, d.quote+d.quote) + d.quote
}

func (d dialect) columnType(kind table.Kind) string {
	switch kind {
	case table.KindNumber:
		return d.number
	case table.KindBool:
		return d.boolean
	default:
		return d.text
	}
}

func (d dialect) dropTableSQL(name string) string {
	return "DROP TABLE IF EXISTS " + d.quoteIdent(name)
}

func (d dialect) createTableSQL(name string, cols []string, kinds []table.Kind) string {
	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = d.quoteIdent(col) + " " + d.columnType(kinds[i])
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.quoteIdent(name), strings.Join(defs, ", "))
}

// insertSQL builds a multi-row insert for rows rows of len(cols) values each.
func (d dialect) insertSQL(name string, cols []string, rows int) string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = d.quoteIdent(col)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", d.quoteIdent(name), strings.Join(quoted, ", "))
	arg := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.placeholder(arg))
			arg++
		}
		b.WriteByte(')')
	}
	return b.String()
}

func columnKinds(t *table.Table) []table.Kind {
	kinds := make([]table.Kind, len(t.Columns))
	for i, col := range t.Columns {
		kinds[i] = t.Kind(col)
	}
	return kinds
}

// cellArg converts a cell into a driver argument matching the column kind.
func cellArg(kind table.Kind, v any) any {
	if v == nil {
		return nil
	}
	if kind == table.KindText {
		return transform.FormatCell(v)
	}
	return v
}
