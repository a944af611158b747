package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"idcheck.org/internal/idcard"
	"idcheck.org/internal/validationlog"
)

const table = "idcard_validation_logs"

const columns = `id, number, valid, birthday, gender, reason, validation_type, source,
	details, actor, created_from_ip, updated_from_ip, created_at, updated_at`

// Store persists the validation log in PostgreSQL.
type Store struct {
	db   *sql.DB
	opts validationlog.Options
}

var _ validationlog.Store = (*Store)(nil)

// Open connects through the pgx stdlib driver. The connection is lazy; call
// Ping to verify it.
func Open(dsn string, opts ...validationlog.Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, opts...), nil
}

// New wraps an existing handle.
func New(db *sql.DB, opts ...validationlog.Option) *Store {
	return &Store{db: db, opts: validationlog.ApplyOptions(opts...)}
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the pool for schema tooling that runs next to the store.
func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return MapError(s.db.PingContext(ctx))
}

func (s *Store) Append(ctx context.Context, rec validationlog.Record) (validationlog.ID, error) {
	if err := validationlog.CheckRecord(rec); err != nil {
		return "", err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.opts.Now()
	}
	created := pgTime(rec.CreatedAt)
	birthday, err := birthdayArg(rec.Birthday)
	if err != nil {
		return "", err
	}
	id := validationlog.ID(s.opts.IDs.Next())

	_, err = s.db.ExecContext(ctx, `
		insert into `+table+` (`+columns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11, $12, $12)
	`, string(id), rec.Number, rec.Valid, birthday, genderArg(rec.Gender), rec.Reason,
		rec.ValidationType, rec.Source, detailsArg(rec.Details), actorArg(rec.Actor),
		rec.CreatedFromIP, created)
	if err != nil {
		return "", MapError(err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id validationlog.ID) (validationlog.Record, error) {
	row := s.db.QueryRowContext(ctx, `select `+columns+` from `+table+` where id = $1`, string(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return validationlog.Record{}, validationlog.ErrNotFound
	}
	if err != nil {
		return validationlog.Record{}, MapError(err)
	}
	return rec, nil
}

func (s *Store) FindByNumber(ctx context.Context, number string) ([]validationlog.Record, error) {
	return s.query(ctx, `
		select `+columns+` from `+table+`
		where number = $1
		order by created_at desc, id desc
	`, number)
}

func (s *Store) FindRecent(ctx context.Context, limit int) ([]validationlog.Record, error) {
	if err := validationlog.CheckLimit(limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []validationlog.Record{}, nil
	}
	return s.query(ctx, `
		select `+columns+` from `+table+`
		order by created_at desc, id desc
		limit $1
	`, limit)
}

func (s *Store) FindByActor(ctx context.Context, actor validationlog.ActorID) ([]validationlog.Record, error) {
	if actor == "" {
		return []validationlog.Record{}, nil
	}
	return s.query(ctx, `
		select `+columns+` from `+table+`
		where actor = $1
		order by created_at desc, id desc
	`, string(actor))
}

// Stats reads all three counters in one statement so they come from the same
// snapshot.
func (s *Store) Stats(ctx context.Context) (validationlog.Stats, error) {
	var st validationlog.Stats
	err := s.db.QueryRowContext(ctx, `
		select
			count(*) filter (where valid),
			count(*) filter (where not valid),
			count(*)
		from `+table).Scan(&st.Valid, &st.Invalid, &st.Total)
	if err != nil {
		return validationlog.Stats{}, MapError(err)
	}
	return st, nil
}

func (s *Store) Correct(ctx context.Context, id validationlog.ID, c validationlog.Correction) (validationlog.Record, error) {
	if err := validationlog.CheckCorrection(c); err != nil {
		return validationlog.Record{}, err
	}
	at := c.At
	if at.IsZero() {
		at = s.opts.Now()
	}
	var expected any
	if !c.ExpectedUpdatedAt.IsZero() {
		expected = pgTime(c.ExpectedUpdatedAt)
	}

	row := s.db.QueryRowContext(ctx, `
		update `+table+`
		set validation_type = coalesce($2, validation_type),
			source = coalesce($3, source),
			updated_from_ip = $4,
			updated_at = $5
		where id = $1 and ($6::timestamptz is null or updated_at = $6)
		returning `+columns,
		string(id), nullString(c.ValidationType), nullString(c.Source), c.UpdatedFromIP, pgTime(at), expected)
	rec, err := scanRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return validationlog.Record{}, MapError(err)
	}
	// No row updated: either the id is unknown or the expectation failed.
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from `+table+` where id = $1)`, string(id)).Scan(&exists); err != nil {
		return validationlog.Record{}, MapError(err)
	}
	if !exists {
		return validationlog.Record{}, validationlog.ErrNotFound
	}
	return validationlog.Record{}, validationlog.ErrConcurrencyConflict
}

// List runs the count and the page query inside one read-only repeatable
// read transaction so Total matches Items.
func (s *Store) List(ctx context.Context, f validationlog.Filter) (validationlog.Page, error) {
	f, err := f.Normalize()
	if err != nil {
		return validationlog.Page{}, err
	}
	where, args := whereClause(f)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return validationlog.Page{}, MapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	page := validationlog.Page{Items: []validationlog.Record{}}
	if err := tx.QueryRowContext(ctx, `select count(*) from `+table+where, args...).Scan(&page.Total); err != nil {
		return validationlog.Page{}, MapError(err)
	}
	if int64(f.Offset) < page.Total {
		n := len(args)
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
			select %s from %s%s
			order by created_at desc, id desc
			limit $%d offset $%d
		`, columns, table, where, n+1, n+2), append(args, f.Limit, f.Offset)...)
		if err != nil {
			return validationlog.Page{}, MapError(err)
		}
		page.Items, err = collect(rows)
		if err != nil {
			return validationlog.Page{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return validationlog.Page{}, MapError(err)
	}
	return page, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]validationlog.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, MapError(err)
	}
	return collect(rows)
}

func whereClause(f validationlog.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Number != "" {
		add("number = $%d", f.Number)
	}
	if f.Valid != nil {
		add("valid = $%d", *f.Valid)
	}
	if f.ValidationType != "" {
		add("validation_type = $%d", f.ValidationType)
	}
	if f.Gender != nil {
		add("gender = $%d", int16(f.Gender.Code()))
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.Actor != "" {
		add("actor = $%d", string(f.Actor))
	}
	if !f.CreatedFrom.IsZero() {
		add("created_at >= $%d", pgTime(f.CreatedFrom))
	}
	if !f.CreatedTo.IsZero() {
		add("created_at < $%d", pgTime(f.CreatedTo))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " where " + strings.Join(conds, " and "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (validationlog.Record, error) {
	var (
		rec      validationlog.Record
		id       string
		birthday sql.NullTime
		gender   sql.NullInt16
		details  []byte
		actor    sql.NullString
	)
	err := row.Scan(&id, &rec.Number, &rec.Valid, &birthday, &gender, &rec.Reason,
		&rec.ValidationType, &rec.Source, &details, &actor,
		&rec.CreatedFromIP, &rec.UpdatedFromIP, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return validationlog.Record{}, err
	}
	rec.ID = validationlog.ID(id)
	if birthday.Valid {
		b := birthday.Time.Format(time.DateOnly)
		rec.Birthday = &b
	}
	if gender.Valid {
		g := idcard.Gender(gender.Int16)
		rec.Gender = &g
	}
	if len(details) > 0 {
		rec.Details = details
	}
	rec.Actor = validationlog.ActorID(actor.String)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func collect(rows *sql.Rows) ([]validationlog.Record, error) {
	defer rows.Close()
	out := []validationlog.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

// pgTime drops precision PostgreSQL cannot store so reads compare equal.
func pgTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func birthdayArg(b *string) (any, error) {
	if b == nil {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, *b)
	if err != nil {
		return nil, fmt.Errorf("%w: birthday %q", validationlog.ErrInvalidInput, *b)
	}
	return t, nil
}

func genderArg(g *idcard.Gender) any {
	if g == nil {
		return nil
	}
	return int16(g.Code())
}

func detailsArg(d []byte) any {
	if len(d) == 0 {
		return nil
	}
	return string(d)
}

func actorArg(a validationlog.ActorID) any {
	if a == "" {
		return nil
	}
	return string(a)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
