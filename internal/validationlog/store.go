package validationlog

import (
	"context"
	"time"

	"idcheck.org/internal/ids"
)

// Store is the append-only validation log.
type Store interface {
	// Append assigns an ID, stamps CreatedAt/UpdatedAt (rec.CreatedAt when
	// set, the store clock otherwise) and persists the record atomically.
	Append(ctx context.Context, rec Record) (ID, error)
	Get(ctx context.Context, id ID) (Record, error)
	// FindByNumber returns every record for exactly number, newest first.
	FindByNumber(ctx context.Context, number string) ([]Record, error)
	// FindRecent returns at most limit records, newest first.
	FindRecent(ctx context.Context, limit int) ([]Record, error)
	// FindByActor returns the records submitted by actor, newest first.
	FindByActor(ctx context.Context, actor ActorID) ([]Record, error)
	Stats(ctx context.Context) (Stats, error)
	Correct(ctx context.Context, id ID, c Correction) (Record, error)
	List(ctx context.Context, f Filter) (Page, error)
}

// Options holds the collaborators shared by every Store implementation.
type Options struct {
	Now func() time.Time
	IDs *ids.Generator
}

// Option configures a Store.
type Option func(*Options)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Now = now
		}
	}
}

// WithIDs overrides the identifier generator.
func WithIDs(g *ids.Generator) Option {
	return func(o *Options) {
		if g != nil {
			o.IDs = g
		}
	}
}

// ApplyOptions resolves opts over the defaults.
func ApplyOptions(opts ...Option) Options {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.IDs == nil {
		o.IDs = ids.NewGenerator(nil)
	}
	return o
}

// CheckLimit validates the FindRecent limit.
func CheckLimit(limit int) error {
	if limit < 0 {
		return invalidf("limit must be >= 0")
	}
	return nil
}
