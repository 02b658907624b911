package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jhologic12/eshop-mvp/internal/store"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Credentials struct {
	Driver            string
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SQLitePath        string
	MigrationsDirPath string
}

// Repository is the SQL implementation of every store interface.
type Repository struct {
	db     *sql.DB
	driver string
}

var (
	_ store.CartStore         = (*Repository)(nil)
	_ store.CatalogStore      = (*Repository)(nil)
	_ store.OrderSink         = (*Repository)(nil)
	_ store.CheckoutCommitter = (*Repository)(nil)
	_ store.AttemptLog        = (*Repository)(nil)
	_ store.ReconciliationLog = (*Repository)(nil)
	_ store.Outbox            = (*Repository)(nil)
)

func NewRepository(cred *Credentials) (*Repository, error) {
	switch cred.Driver {
	case DriverSQLite:
		return openSQLite(cred.SQLitePath)
	case DriverPostgres, "":
		return openPostgres(cred)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cred.Driver)
	}
}

func openPostgres(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db, driver: DriverPostgres}, nil
}

func openSQLite(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite allows one writer; a single connection serializes transactions.
	db.SetMaxOpenConns(1)
	return &Repository{db: db, driver: DriverSQLite}, nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB, driver string) *Repository {
	return &Repository{db: db, driver: driver}
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	var (
		driver database.Driver
		err    error
	)
	switch r.driver {
	case DriverSQLite:
		driver, err = sqlite.WithInstance(r.db, &sqlite.Config{})
	default:
		driver, err = postgres.WithInstance(r.db, &postgres.Config{})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		r.driver,
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

// Ping is used by the health check.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlitedrv.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
