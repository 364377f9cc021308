package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/danthegoodman1/etlpipe/gologger"
	// ensure "mysql" driver is loaded
	_ "github.com/go-sql-driver/mysql"
	// ensure "pgx" driver is loaded
	_ "github.com/jackc/pgx/v4/stdlib"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	//go:embed postgres/*.sql mysql/*.sql
	migrations embed.FS

	ErrMigrationsNotRun = fmt.Errorf("not all migrations applied")
	ErrUnknownDriver    = fmt.Errorf("unknown database driver")

	logger = gologger.NewLogger()
)

const TableName = "etl_migrations"

type target struct {
	sqlDriver string
	dialect   string
	root      string
}

// resolve maps a configured driver (postgres, cockroach, mysql) to its sql driver, dialect and migration dir.
func resolve(driver string) (target, error) {
	switch driver {
	case "postgres", "cockroach":
		return target{sqlDriver: "pgx", dialect: "postgres", root: "postgres"}, nil
	case "mysql":
		return target{sqlDriver: "mysql", dialect: "mysql", root: "mysql"}, nil
	default:
		return target{}, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

func source(tgt target) migrate.EmbedFileSystemMigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrations,
		Root:       tgt.root,
	}
}

func RunMigrations(driver, dsn string) (int, error) {
	tgt, err := resolve(driver)
	if err != nil {
		return 0, err
	}
	db, err := sql.Open(tgt.sqlDriver, dsn)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	ms := migrate.MigrationSet{
		TableName: TableName,
	}
	return ms.Exec(db, tgt.dialect, source(tgt), migrate.Up)
}

func CheckMigrations(driver, dsn string) error {
	tgt, err := resolve(driver)
	if err != nil {
		return err
	}
	db, err := sql.Open(tgt.sqlDriver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	ms := migrate.MigrationSet{
		TableName: TableName,
	}
	migration, _, err := ms.PlanMigration(db, tgt.dialect, source(tgt), migrate.Up, 0)
	if err != nil {
		return err
	}
	if len(migration) > 0 {
		for _, mig := range migration {
			logger.Warn().Str("migrationID", mig.Id).Msg("missing migration")
		}
		return ErrMigrationsNotRun
	}
	return nil
}
