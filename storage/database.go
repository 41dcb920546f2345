package storage

import (
	"embed"
	"fmt"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/erc7824/nitrolite/walletlink/pkg/log"
)

//go:embed migrations/postgres/*.sql
var embedMigrations embed.FS

// Config selects the database.
//
// postgres:// and postgresql:// URLs use Postgresql, optionally inside Schema.
// Anything else is SQLite: a "file:" DSN as given, a plain path as a
// shared-cache file, and an empty URL as an in-memory database.
type Config struct {
	URL    string `env:"WALLETLINK_DATABASE_URL"`
	Schema string `env:"WALLETLINK_DATABASE_SCHEMA"`
}

func (c Config) isPostgres() bool {
	return strings.HasPrefix(c.URL, "postgres://") || strings.HasPrefix(c.URL, "postgresql://")
}

// Open connects to the configured database and brings the session table up
// to date: Postgresql through the embedded migrations, SQLite through
// auto-migration.
func Open(cfg Config, lg log.Logger) (*gorm.DB, error) {
	if lg == nil {
		lg = log.NewNoopLogger()
	}
	lg = lg.WithName("database")

	if cfg.isPostgres() {
		return connectToPostgresql(cfg, lg)
	}
	return connectToSqlite(cfg, lg)
}

func connectToPostgresql(cfg Config, lg log.Logger) (*gorm.DB, error) {
	lg.Info("connecting to Postgresql", "schema", cfg.Schema)

	if err := ensurePostgresqlSchema(cfg, lg); err != nil {
		return nil, fmt.Errorf("failed to ensure Postgresql schema: %w", err)
	}

	dsn, err := postgresqlDSN(cfg)
	if err != nil {
		return nil, err
	}
	if err := migratePostgres(dsn, lg); err != nil {
		return nil, fmt.Errorf("failed to apply Postgresql migrations: %w", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func connectToSqlite(cfg Config, lg log.Logger) (*gorm.DB, error) {
	var dsn string
	switch {
	case cfg.URL == "":
		lg.Info("connecting to in-memory sqlite")
		dsn = "file::memory:?cache=shared"
	case strings.HasPrefix(cfg.URL, "file:"):
		lg.Info("connecting to sqlite", "dsn", cfg.URL)
		dsn = cfg.URL
	default:
		lg.Info("connecting to sqlite", "path", cfg.URL)
		dsn = fmt.Sprintf("file:%s?cache=shared", cfg.URL)
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}
	return db, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
}

// postgresqlDSN pins search_path to the configured schema for every connection.
func postgresqlDSN(cfg Config) (string, error) {
	if cfg.Schema == "" {
		return cfg.URL, nil
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid database url: %w", err)
	}
	query := u.Query()
	query.Set("search_path", cfg.Schema)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func ensurePostgresqlSchema(cfg Config, lg log.Logger) error {
	if cfg.Schema == "" {
		return nil
	}

	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	var exists bool
	err = db.Get(&exists, "SELECT EXISTS(SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)", cfg.Schema)
	if err != nil {
		return fmt.Errorf("error while checking schema existence: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(cfg.Schema)); err != nil {
		return fmt.Errorf("error while creating schema: %w", err)
	}
	lg.Info("schema created", "schema", cfg.Schema)
	return nil
}

func migratePostgres(dsn string, lg log.Logger) error {
	db, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{lg})

	lg.Info("applying database migrations")
	return goose.Up(db, "migrations/postgres")
}

type gooseLogger struct {
	lg log.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.lg.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.lg.Fatal(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
