package validationlog

import (
	"context"
	"slices"
	"sync"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	opts Options

	mu       sync.RWMutex
	records  []Record
	byID     map[ID]int
	byNumber map[string][]int
	byActor  map[ActorID][]int
	valid    int64
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty log.
func NewInMemory(opts ...Option) *InMemory {
	return &InMemory{
		opts:     ApplyOptions(opts...),
		byID:     make(map[ID]int),
		byNumber: make(map[string][]int),
		byActor:  make(map[ActorID][]int),
	}
}

func (s *InMemory) Append(ctx context.Context, rec Record) (ID, error) {
	if err := CheckRecord(rec); err != nil {
		return "", err
	}
	rec = rec.Clone()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.opts.Now()
	}
	rec.UpdatedAt = rec.CreatedAt
	rec.UpdatedFromIP = rec.CreatedFromIP

	s.mu.Lock()
	defer s.mu.Unlock()

	// ID assignment happens under the lock so slice order matches ID order.
	rec.ID = ID(s.opts.IDs.Next())
	idx := len(s.records)
	s.records = append(s.records, rec)
	s.byID[rec.ID] = idx
	s.byNumber[rec.Number] = append(s.byNumber[rec.Number], idx)
	if rec.Actor != "" {
		s.byActor[rec.Actor] = append(s.byActor[rec.Actor], idx)
	}
	if rec.Valid {
		s.valid++
	}
	return rec.ID, nil
}

func (s *InMemory) Get(ctx context.Context, id ID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return s.records[idx].Clone(), nil
}

func (s *InMemory) FindByNumber(ctx context.Context, number string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byNumber[number]), nil
}

func (s *InMemory) FindRecent(ctx context.Context, limit int) ([]Record, error) {
	if err := CheckLimit(limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []Record{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.sorted(func(Record) bool { return true })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) FindByActor(ctx context.Context, actor ActorID) ([]Record, error) {
	if actor == "" {
		return []Record{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byActor[actor]), nil
}

func (s *InMemory) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := int64(len(s.records))
	return Stats{Valid: s.valid, Invalid: total - s.valid, Total: total}, nil
}

func (s *InMemory) Correct(ctx context.Context, id ID, c Correction) (Record, error) {
	if err := CheckCorrection(c); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec := &s.records[idx]
	if !c.ExpectedUpdatedAt.IsZero() && !rec.UpdatedAt.Equal(c.ExpectedUpdatedAt) {
		return Record{}, ErrConcurrencyConflict
	}
	if c.ValidationType != nil {
		rec.ValidationType = *c.ValidationType
	}
	if c.Source != nil {
		rec.Source = *c.Source
	}
	at := c.At
	if at.IsZero() {
		at = s.opts.Now()
	}
	rec.UpdatedAt = at
	rec.UpdatedFromIP = c.UpdatedFromIP
	return rec.Clone(), nil
}

func (s *InMemory) List(ctx context.Context, f Filter) (Page, error) {
	f, err := f.Normalize()
	if err != nil {
		return Page{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.sorted(f.Matches)
	page := Page{Items: []Record{}, Total: int64(len(matched))}
	if f.Offset < len(matched) {
		end := min(f.Offset+f.Limit, len(matched))
		page.Items = matched[f.Offset:end]
	}
	return page, nil
}

// collect copies the indexed records and orders them newest first.
func (s *InMemory) collect(idxs []int) []Record {
	out := make([]Record, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, s.records[i].Clone())
	}
	slices.SortFunc(out, NewestFirst)
	return out
}

func (s *InMemory) sorted(keep func(Record) bool) []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, NewestFirst)
	return out
}
