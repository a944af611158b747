package validationlog_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idcheck.org/internal/idcard"
	"idcheck.org/internal/validationlog"
	"idcheck.org/internal/validationlog/storetest"
)

func TestInMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, opts ...validationlog.Option) validationlog.Store {
		return validationlog.NewInMemory(opts...)
	}, true)
}

func TestInMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := validationlog.NewInMemory()

	rec := storetest.ValidRecord(t, "11010519491231002X")
	rec.Details = json.RawMessage(`{"a":1}`)
	id, err := s.Append(ctx, rec)
	require.NoError(t, err)

	// Mutating the caller's record after Append must not reach the store.
	*rec.Birthday = "2000-01-01"
	rec.Details[2] = 'b'

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1949-12-31", *got.Birthday)
	assert.JSONEq(t, `{"a":1}`, string(got.Details))

	*got.Gender = idcard.GenderMale
	again, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, idcard.GenderFemale, *again.Gender)
}

func TestFilterNormalize(t *testing.T) {
	f, err := validationlog.Filter{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, validationlog.DefaultPageSize, f.Limit)

	f, err = validationlog.Filter{Limit: 5000}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, validationlog.MaxPageSize, f.Limit)

	_, err = validationlog.Filter{Offset: -1}.Normalize()
	assert.ErrorIs(t, err, validationlog.ErrInvalidInput)

	now := time.Now()
	_, err = validationlog.Filter{CreatedFrom: now, CreatedTo: now}.Normalize()
	assert.ErrorIs(t, err, validationlog.ErrInvalidInput)
}

func TestFromOutcome(t *testing.T) {
	rec := validationlog.FromOutcome("11010519491231002X", idcard.Validate("11010519491231002X", storetest.Base))
	require.NoError(t, validationlog.CheckRecord(rec))
	assert.True(t, rec.Valid)
	assert.Empty(t, rec.Reason)

	rec = validationlog.FromOutcome("x", idcard.Validate("x", storetest.Base))
	require.NoError(t, validationlog.CheckRecord(rec))
	assert.False(t, rec.Valid)
	assert.Equal(t, "wrong_length", rec.Reason)
	assert.Nil(t, rec.Birthday)
}

func TestNewestFirst(t *testing.T) {
	at := storetest.Base
	recs := []validationlog.Record{
		{ID: "01A", CreatedAt: at},
		{ID: "01C", CreatedAt: at.Add(-time.Second)},
		{ID: "01B", CreatedAt: at},
	}
	assert.Negative(t, validationlog.NewestFirst(recs[2], recs[0]))
	assert.Positive(t, validationlog.NewestFirst(recs[1], recs[0]))
	assert.Zero(t, validationlog.NewestFirst(recs[0], recs[0]))
}
