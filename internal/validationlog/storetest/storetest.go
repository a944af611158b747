// Package storetest holds the behavioural tests every validationlog.Store
// implementation must pass.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idcheck.org/internal/idcard"
	"idcheck.org/internal/validationlog"
)

// Factory builds an empty store for one subtest.
type Factory func(t *testing.T, opts ...validationlog.Option) validationlog.Store

// Base is the fixed "now" used by the suite. Second precision keeps it exact
// on every backend.
var Base = time.Date(2024, time.May, 20, 8, 30, 0, 0, time.UTC)

// ValidRecord builds a valid record for number as the checker would.
func ValidRecord(t *testing.T, number string) validationlog.Record {
	t.Helper()
	out := idcard.Validate(number, Base)
	require.True(t, out.Valid(), "fixture %s: %s", number, out.Reason)
	return validationlog.FromOutcome(number, out)
}

// InvalidRecord builds an invalid record for number.
func InvalidRecord(t *testing.T, number string) validationlog.Record {
	t.Helper()
	out := idcard.Validate(number, Base)
	require.False(t, out.Valid(), "fixture %s unexpectedly valid", number)
	return validationlog.FromOutcome(number, out)
}

// Run executes the suite. concurrent enables the parallel append test for
// backends that support concurrent writers.
func Run(t *testing.T, newStore Factory, concurrent bool) {
	t.Run("AppendStampsRecord", func(t *testing.T) { testAppendStamps(t, newStore) })
	t.Run("AppendRejectsBrokenRecords", func(t *testing.T) { testAppendPreconditions(t, newStore) })
	t.Run("UnstorableTextRejected", func(t *testing.T) { testUnstorableText(t, newStore) })
	t.Run("FindByNumberNewestFirst", func(t *testing.T) { testFindByNumber(t, newStore) })
	t.Run("TieBreakByID", func(t *testing.T) { testTieBreak(t, newStore) })
	t.Run("FindRecent", func(t *testing.T) { testFindRecent(t, newStore) })
	t.Run("FindByActor", func(t *testing.T) { testFindByActor(t, newStore) })
	t.Run("StatsAddUp", func(t *testing.T) { testStats(t, newStore) })
	t.Run("Correct", func(t *testing.T) { testCorrect(t, newStore) })
	t.Run("List", func(t *testing.T) { testList(t, newStore) })
	if concurrent {
		t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, newStore) })
	}
}

func fixedClock() func() time.Time {
	return func() time.Time { return Base }
}

func testAppendStamps(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, validationlog.WithClock(fixedClock()))

	rec := ValidRecord(t, "11010519491231002X")
	rec.ValidationType = "basic"
	rec.Source = "web_form"
	rec.Details = json.RawMessage(`{"provider":"local","score":98}`)
	rec.Actor = "user-1"
	rec.CreatedFromIP = "10.0.0.1"

	id1, err := s.Append(ctx, rec)
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	got, err := s.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, id1, got.ID)
	assert.Equal(t, "11010519491231002X", got.Number)
	assert.True(t, got.Valid)
	require.NotNil(t, got.Birthday)
	assert.Equal(t, "1949-12-31", *got.Birthday)
	require.NotNil(t, got.Gender)
	assert.Equal(t, idcard.GenderFemale, *got.Gender)
	assert.Equal(t, "basic", got.ValidationType)
	assert.Equal(t, "web_form", got.Source)
	assert.JSONEq(t, `{"provider":"local","score":98}`, string(got.Details))
	assert.Equal(t, validationlog.ActorID("user-1"), got.Actor)
	assert.Equal(t, "10.0.0.1", got.CreatedFromIP)
	assert.True(t, got.CreatedAt.Equal(Base), "created_at %v", got.CreatedAt)
	assert.True(t, got.UpdatedAt.Equal(got.CreatedAt))

	explicit := Base.Add(-48 * time.Hour)
	rec2 := InvalidRecord(t, "11010519491231000X")
	rec2.CreatedAt = explicit
	id2, err := s.Append(ctx, rec2)
	require.NoError(t, err)
	assert.Greater(t, string(id2), string(id1))

	got2, err := s.Get(ctx, id2)
	require.NoError(t, err)
	assert.False(t, got2.Valid)
	assert.Nil(t, got2.Birthday)
	assert.Nil(t, got2.Gender)
	assert.Equal(t, idcard.ReasonChecksumMismatch.String(), got2.Reason)
	assert.True(t, got2.CreatedAt.Equal(explicit))
	assert.Empty(t, got2.Actor)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, validationlog.ErrNotFound)
}

func testUnstorableText(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	cases := map[string]func(*validationlog.Record){
		"nul number":       func(r *validationlog.Record) { r.Number = "\x00" },
		"nul source":       func(r *validationlog.Record) { r.Source = "web\x00form" },
		"bad utf8 type":    func(r *validationlog.Record) { r.ValidationType = "basic\xff" },
		"escaped nul json": func(r *validationlog.Record) { r.Details = json.RawMessage(`{"k":"\u0000"}`) },
		"nul json key":     func(r *validationlog.Record) { r.Details = json.RawMessage(`{"\u0000":1}`) },
	}
	for name, mutate := range cases {
		rec := InvalidRecord(t, "11010519491231000X")
		mutate(&rec)
		_, err := s.Append(ctx, rec)
		assert.ErrorIs(t, err, validationlog.ErrInvalidInput, name)
	}

	id, err := s.Append(ctx, InvalidRecord(t, "11010519491231000X"))
	require.NoError(t, err)
	bad := "admin\x00panel"
	_, err = s.Correct(ctx, id, validationlog.Correction{Source: &bad})
	assert.ErrorIs(t, err, validationlog.ErrInvalidInput)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Total)
}

func testAppendPreconditions(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	valid := ValidRecord(t, "11010519491231002X")
	cases := map[string]validationlog.Record{
		"empty number": {Number: "  "},
		"valid without derived fields": {Number: "11010519491231002X", Valid: true},
		"invalid with gender": func() validationlog.Record {
			r := InvalidRecord(t, "123")
			g := idcard.GenderMale
			r.Gender = &g
			return r
		}(),
		"long source": func() validationlog.Record {
			r := valid
			r.Source = fmt.Sprintf("%0101d", 0)
			return r
		}(),
		"broken details": func() validationlog.Record {
			r := valid
			r.Details = json.RawMessage(`{"score":`)
			return r
		}(),
	}
	for name, rec := range cases {
		_, err := s.Append(ctx, rec)
		assert.ErrorIs(t, err, validationlog.ErrInvalidInput, name)
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)
}

func testFindByNumber(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	number := "11010519491231002X"
	before, err := s.Stats(ctx)
	require.NoError(t, err)

	t1, t2, t3 := Base.Add(-3*time.Hour), Base.Add(-2*time.Hour), Base.Add(-time.Hour)
	var ids []validationlog.ID
	for _, at := range []time.Time{t1, t2, t3} {
		rec := ValidRecord(t, number)
		rec.CreatedAt = at
		id, err := s.Append(ctx, rec)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	other := InvalidRecord(t, "110105491231002")
	other.CreatedAt = Base.Add(-90 * time.Minute)
	_, err = s.Append(ctx, other)
	require.NoError(t, err)

	got, err := s.FindByNumber(ctx, number)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []validationlog.ID{ids[2], ids[1], ids[0]}, recordIDs(got))
	assert.True(t, got[0].CreatedAt.Equal(t3))
	assert.True(t, got[2].CreatedAt.Equal(t1))

	recent, err := s.FindRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, "110105491231002", recent[1].Number)

	after, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Valid+3, after.Valid)

	none, err := s.FindByNumber(ctx, "440302198802034569")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testTieBreak(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, validationlog.WithClock(fixedClock()))

	var ids []validationlog.ID
	for i := 0; i < 5; i++ {
		id, err := s.Append(ctx, ValidRecord(t, "440302198802034569"))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	got, err := s.FindByNumber(ctx, "440302198802034569")
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := range got {
		assert.Equal(t, ids[len(ids)-1-i], got[i].ID)
	}
}

func testFindRecent(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	empty, err := s.FindRecent(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for i := 0; i < 4; i++ {
		rec := InvalidRecord(t, fmt.Sprintf("bad-%d", i))
		rec.CreatedAt = Base.Add(time.Duration(i) * time.Minute)
		_, err := s.Append(ctx, rec)
		require.NoError(t, err)
	}

	zero, err := s.FindRecent(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, zero)
	assert.Empty(t, zero)

	_, err = s.FindRecent(ctx, -1)
	assert.ErrorIs(t, err, validationlog.ErrInvalidInput)

	all, err := s.FindRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "bad-3", all[0].Number)
	assert.Equal(t, "bad-0", all[3].Number)
}

func testFindByActor(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	add := func(actor validationlog.ActorID, at time.Time) validationlog.ID {
		rec := ValidRecord(t, "11010519491231002X")
		rec.Actor = actor
		rec.CreatedAt = at
		id, err := s.Append(ctx, rec)
		require.NoError(t, err)
		return id
	}
	a1 := add("alice", Base.Add(-time.Hour))
	add("bob", Base.Add(-30*time.Minute))
	a2 := add("alice", Base)
	add("", Base)
	add("Alice", Base)

	got, err := s.FindByActor(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []validationlog.ID{a2, a1}, recordIDs(got))

	anon, err := s.FindByActor(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, anon)
}

func testStats(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	numbers := []string{
		"11010519491231002X",
		"11010519491231000X",
		"440302198802034569",
		"110105491231002",
		"440302198802034567",
		"11010519491399001X",
	}
	appended := 0
	for _, n := range numbers {
		rec := validationlog.FromOutcome(n, idcard.Validate(n, Base))
		_, err := s.Append(ctx, rec)
		require.NoError(t, err)
		appended++

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, stats.Total, stats.Valid+stats.Invalid)
		assert.Equal(t, int64(appended), stats.Total)
	}
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, validationlog.Stats{Valid: 2, Invalid: 4, Total: 6}, stats)
}

func testCorrect(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, validationlog.WithClock(fixedClock()))

	rec := ValidRecord(t, "11010519491231002X")
	rec.ValidationType = "basic"
	rec.Source = "web_form"
	rec.CreatedAt = Base.Add(-time.Hour)
	id, err := s.Append(ctx, rec)
	require.NoError(t, err)

	source := "admin_panel"
	at := Base.Add(-10 * time.Minute)
	got, err := s.Correct(ctx, id, validationlog.Correction{
		Source:            &source,
		UpdatedFromIP:     "192.168.1.5",
		At:                at,
		ExpectedUpdatedAt: Base.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "admin_panel", got.Source)
	assert.Equal(t, "basic", got.ValidationType)
	assert.True(t, got.UpdatedAt.Equal(at))
	assert.True(t, got.CreatedAt.Equal(Base.Add(-time.Hour)))
	assert.Equal(t, "192.168.1.5", got.UpdatedFromIP)
	assert.Equal(t, "11010519491231002X", got.Number)

	stored, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "admin_panel", stored.Source)

	vt := "two_element"
	_, err = s.Correct(ctx, id, validationlog.Correction{ValidationType: &vt, ExpectedUpdatedAt: Base.Add(-time.Hour)})
	assert.ErrorIs(t, err, validationlog.ErrConcurrencyConflict)

	// Without an expectation the clock supplies UpdatedAt.
	got, err = s.Correct(ctx, id, validationlog.Correction{ValidationType: &vt})
	require.NoError(t, err)
	assert.Equal(t, "two_element", got.ValidationType)
	assert.True(t, got.UpdatedAt.Equal(Base))

	_, err = s.Correct(ctx, "missing", validationlog.Correction{ValidationType: &vt})
	assert.ErrorIs(t, err, validationlog.ErrNotFound)

	_, err = s.Correct(ctx, id, validationlog.Correction{})
	assert.ErrorIs(t, err, validationlog.ErrInvalidInput)
}

func testList(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	seed := []struct {
		number string
		typ    string
		source string
		actor  validationlog.ActorID
		at     time.Time
	}{
		{"11010519491231002X", "basic", "web_form", "alice", Base.Add(-4 * time.Hour)},
		{"440302198802034569", "basic", "api_gateway", "bob", Base.Add(-3 * time.Hour)},
		{"11010519491231000X", "two_element", "web_form", "alice", Base.Add(-2 * time.Hour)},
		{"110105491231002", "basic", "batch_import", "", Base.Add(-time.Hour)},
		{"11010519491231002X", "two_element", "api_gateway", "bob", Base},
	}
	for _, r := range seed {
		rec := validationlog.FromOutcome(r.number, idcard.Validate(r.number, Base))
		rec.ValidationType = r.typ
		rec.Source = r.source
		rec.Actor = r.actor
		rec.CreatedAt = r.at
		_, err := s.Append(ctx, rec)
		require.NoError(t, err)
	}

	page, err := s.List(ctx, validationlog.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	require.Len(t, page.Items, 5)
	assert.True(t, page.Items[0].CreatedAt.Equal(Base))

	valid := true
	page, err = s.List(ctx, validationlog.Filter{Valid: &valid})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)

	female := idcard.GenderFemale
	page, err = s.List(ctx, validationlog.Filter{Gender: &female, Source: "api_gateway"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	page, err = s.List(ctx, validationlog.Filter{Actor: "alice", ValidationType: "two_element"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "11010519491231000X", page.Items[0].Number)

	page, err = s.List(ctx, validationlog.Filter{
		CreatedFrom: Base.Add(-3 * time.Hour),
		CreatedTo:   Base,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)

	page, err = s.List(ctx, validationlog.Filter{Number: "11010519491231002X", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].CreatedAt.Equal(Base.Add(-4*time.Hour)))

	page, err = s.List(ctx, validationlog.Filter{Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Empty(t, page.Items)

	_, err = s.List(ctx, validationlog.Filter{Limit: -1})
	assert.ErrorIs(t, err, validationlog.ErrInvalidInput)
}

func testConcurrentAppends(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	const workers, per = 8, 25
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok = map[validationlog.ID]struct{}{}
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				n := "11010519491231002X"
				if (w+i)%3 == 0 {
					n = "11010519491231000X"
				}
				id, err := s.Append(ctx, validationlog.FromOutcome(n, idcard.Validate(n, Base)))
				if err != nil {
					t.Errorf("append: %v", err)
					return
				}
				mu.Lock()
				ok[id] = struct{}{}
				mu.Unlock()
				if _, err := s.Stats(ctx); err != nil {
					t.Errorf("stats: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Len(t, ok, workers*per)
	assert.Equal(t, int64(workers*per), stats.Total)
	assert.Equal(t, stats.Total, stats.Valid+stats.Invalid)
}

func recordIDs(recs []validationlog.Record) []validationlog.ID {
	out := make([]validationlog.ID, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
