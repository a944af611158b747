// Package gormstore implements the validation log on GORM so the service can
// run against PostgreSQL or an embedded SQLite file.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"idcheck.org/internal/store/pg"
	"idcheck.org/internal/validationlog"
)

// Store is a validationlog.Store backed by *gorm.DB.
type Store struct {
	db   *gorm.DB
	opts validationlog.Options
}

var _ validationlog.Store = (*Store)(nil)

// OpenSQLite opens (creating when needed) a SQLite database. path may be
// ":memory:". Access is serialized through one connection to avoid
// "database is locked" errors.
func OpenSQLite(path string, opts ...validationlog.Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM SQLite database connection: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	return New(db, opts...)
}

// OpenPostgres connects to PostgreSQL. The schema is owned by the SQL
// migrations and is not auto-migrated.
func OpenPostgres(dsn string, opts ...validationlog.Option) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM PostgreSQL database connection: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	return New(db, opts...)
}

// New wraps db. SQLite databases are auto-migrated.
func New(db *gorm.DB, opts ...validationlog.Option) (*Store, error) {
	if db.Dialector.Name() == "sqlite" {
		if err := db.AutoMigrate(&logRow{}); err != nil {
			return nil, fmt.Errorf("auto-migrate validation logs: %w", err)
		}
	}
	return &Store{db: db, opts: validationlog.ApplyOptions(opts...)}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return mapError(err)
	}
	return mapError(sqlDB.PingContext(ctx))
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Append(ctx context.Context, rec validationlog.Record) (validationlog.ID, error) {
	if err := validationlog.CheckRecord(rec); err != nil {
		return "", err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.opts.Now()
	}
	id := validationlog.ID(s.opts.IDs.Next())
	row, err := toRow(id, rec)
	if err != nil {
		return "", fmt.Errorf("%w: %v", validationlog.ErrInvalidInput, err)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", mapError(err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id validationlog.ID) (validationlog.Record, error) {
	var row logRow
	err := s.db.WithContext(ctx).Where("id = ?", string(id)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return validationlog.Record{}, validationlog.ErrNotFound
	}
	if err != nil {
		return validationlog.Record{}, mapError(err)
	}
	return row.record(), nil
}

func (s *Store) FindByNumber(ctx context.Context, number string) ([]validationlog.Record, error) {
	return s.find(ctx, s.db.WithContext(ctx).Where("number = ?", number))
}

func (s *Store) FindRecent(ctx context.Context, limit int) ([]validationlog.Record, error) {
	if err := validationlog.CheckLimit(limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []validationlog.Record{}, nil
	}
	return s.find(ctx, s.db.WithContext(ctx).Limit(limit))
}

func (s *Store) FindByActor(ctx context.Context, actor validationlog.ActorID) ([]validationlog.Record, error) {
	if actor == "" {
		return []validationlog.Record{}, nil
	}
	return s.find(ctx, s.db.WithContext(ctx).Where("actor = ?", string(actor)))
}

// Stats aggregates in one statement so the counters share a snapshot.
func (s *Store) Stats(ctx context.Context) (validationlog.Stats, error) {
	var agg struct {
		Valid int64
		Total int64
	}
	err := s.db.WithContext(ctx).Model(&logRow{}).
		Select("COALESCE(SUM(CASE WHEN valid THEN 1 ELSE 0 END), 0) AS valid, COUNT(*) AS total").
		Scan(&agg).Error
	if err != nil {
		return validationlog.Stats{}, mapError(err)
	}
	return validationlog.Stats{Valid: agg.Valid, Invalid: agg.Total - agg.Valid, Total: agg.Total}, nil
}

func (s *Store) Correct(ctx context.Context, id validationlog.ID, c validationlog.Correction) (validationlog.Record, error) {
	if err := validationlog.CheckCorrection(c); err != nil {
		return validationlog.Record{}, err
	}
	at := c.At
	if at.IsZero() {
		at = s.opts.Now()
	}

	var out logRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row logRow
		if err := tx.Where("id = ?", string(id)).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationlog.ErrNotFound
			}
			return err
		}
		if !c.ExpectedUpdatedAt.IsZero() && !row.UpdatedAt.Equal(dbTime(c.ExpectedUpdatedAt)) {
			return validationlog.ErrConcurrencyConflict
		}
		updates := map[string]any{
			"updated_at":      dbTime(at),
			"updated_from_ip": c.UpdatedFromIP,
		}
		if c.ValidationType != nil {
			updates["validation_type"] = *c.ValidationType
		}
		if c.Source != nil {
			updates["source"] = *c.Source
		}
		// Guard on the UpdatedAt we read so a concurrent correction loses.
		res := tx.Model(&logRow{}).
			Where("id = ? AND updated_at = ?", row.ID, dbTime(row.UpdatedAt)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return validationlog.ErrConcurrencyConflict
		}
		return tx.Where("id = ?", row.ID).Take(&out).Error
	})
	if err != nil {
		return validationlog.Record{}, mapError(err)
	}
	return out.record(), nil
}

func (s *Store) List(ctx context.Context, f validationlog.Filter) (validationlog.Page, error) {
	f, err := f.Normalize()
	if err != nil {
		return validationlog.Page{}, err
	}
	page := validationlog.Page{Items: []validationlog.Record{}}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&logRow{}).Scopes(filterScope(f)).Count(&page.Total).Error; err != nil {
			return err
		}
		if int64(f.Offset) >= page.Total {
			return nil
		}
		var rows []logRow
		err := tx.Scopes(filterScope(f), newestFirst).
			Limit(f.Limit).Offset(f.Offset).
			Find(&rows).Error
		if err != nil {
			return err
		}
		page.Items = records(rows)
		return nil
	})
	if err != nil {
		return validationlog.Page{}, mapError(err)
	}
	return page, nil
}

func (s *Store) find(ctx context.Context, q *gorm.DB) ([]validationlog.Record, error) {
	var rows []logRow
	if err := q.Scopes(newestFirst).Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	return records(rows), nil
}

func newestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("created_at DESC").Order("id DESC")
}

func filterScope(f validationlog.Filter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.Number != "" {
			db = db.Where("number = ?", f.Number)
		}
		if f.Valid != nil {
			db = db.Where("valid = ?", *f.Valid)
		}
		if f.ValidationType != "" {
			db = db.Where("validation_type = ?", f.ValidationType)
		}
		if f.Gender != nil {
			db = db.Where("gender = ?", int16(f.Gender.Code()))
		}
		if f.Source != "" {
			db = db.Where("source = ?", f.Source)
		}
		if f.Actor != "" {
			db = db.Where("actor = ?", string(f.Actor))
		}
		if !f.CreatedFrom.IsZero() {
			db = db.Where("created_at >= ?", dbTime(f.CreatedFrom))
		}
		if !f.CreatedTo.IsZero() {
			db = db.Where("created_at < ?", dbTime(f.CreatedTo))
		}
		return db
	}
}

// mapError adds SQLite lock and constraint failures to the PostgreSQL
// mapping shared with the pg store.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		validationlog.ErrNotFound,
		validationlog.ErrConcurrencyConflict,
		validationlog.ErrInvalidInput,
		validationlog.ErrPersistenceUnavailable,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", validationlog.ErrConcurrencyConflict, err)
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", validationlog.ErrInvalidInput, err)
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrFull, sqlite3.ErrReadonly:
			return fmt.Errorf("%w: %v", validationlog.ErrPersistenceUnavailable, err)
		}
		return fmt.Errorf("validation log store: %w", err)
	}
	return pg.MapError(err)
}
