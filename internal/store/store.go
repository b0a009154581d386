package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iurnickita/unitecon/internal/model"
	"github.com/iurnickita/unitecon/internal/store/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store interface {
	// Юниты
	UnitCount(ctx context.Context) (int64, error)
	UnitSaveMany(ctx context.Context, units []model.Unit) error
	UnitGetByNumber(ctx context.Context, number string) (model.Unit, error)
	UnitGetByStatusNotIn(ctx context.Context, statuses []string) ([]model.Unit, error)
	UnitGetLastCreatedAt(ctx context.Context) (time.Time, error)
	UnitGetLastOperationDate(ctx context.Context) (time.Time, error)
	UnitGetAll(ctx context.Context, filter model.UnitFilter) ([]model.Unit, error)
	UnitGetRevenueBySku(ctx context.Context, from, to time.Time) ([]model.SkuRevenue, error)
	UnitGetStatusCountsBySku(ctx context.Context, from, to time.Time) ([]model.SkuStatusCount, error)

	// Реклама
	AdvertisingSaveMany(ctx context.Context, records []model.AdvertisingRecord) error
	AdvertisingGetLastSavedAt(ctx context.Context, cpo bool) (time.Time, error)
	AdvertisingGetAll(ctx context.Context, filter model.AdvertisingFilter) ([]model.AdvertisingRecord, error)
	AdvertisingGetSpendByProduct(ctx context.Context, from, to time.Time) ([]model.ProductSpend, error)

	// Операции без отправления
	LedgerSaveMany(ctx context.Context, entries []model.LedgerEntry) error
	LedgerGetLastOperationDate(ctx context.Context) (time.Time, error)

	Close() error
}

var (
	ErrNoRows = errors.New("no rows")
)

type store struct {
	database *sql.DB
}

func NewStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &store{
		database: db,
	}, nil
}

// migrateUp накатывает встроенные миграции
func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("migrations driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func (store *store) Close() error {
	return store.database.Close()
}

// lastTime - MAX по колонке времени, ErrNoRows для пустой таблицы.
func (store *store) lastTime(ctx context.Context, query string, args ...any) (time.Time, error) {
	var last sql.NullTime
	err := store.database.QueryRowContext(ctx, query, args...).Scan(&last)
	if err != nil {
		return time.Time{}, err
	}
	if !last.Valid {
		return time.Time{}, ErrNoRows
	}
	return last.Time, nil
}

// saveMany выполняет подготовленный запрос для каждого элемента в одной транзакции.
func saveMany[T any](ctx context.Context, db *sql.DB, query string, items []T, args func(T) ([]any, error)) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range items {
		values, err := args(item)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return err
		}
	}

	return tx.Commit()
}
