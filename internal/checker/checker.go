// Package checker validates identity numbers and records every attempt in the
// validation log.
package checker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"idcheck.org/internal/idcard"
	"idcheck.org/internal/obs"
	"idcheck.org/internal/stream"
	"idcheck.org/internal/validationlog"
)

const tracerName = "idcheck/checker"

// Request is one number submitted for checking plus the metadata stored with
// it.
type Request struct {
	Number         string
	ValidationType string
	Source         string
	Details        json.RawMessage
	Actor          validationlog.ActorID
	IP             string
}

// Result pairs the validation outcome with the record that was stored.
type Result struct {
	Record  validationlog.Record
	Outcome idcard.Outcome
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Publisher receives every stored or corrected record.
type Publisher interface {
	Publish(stream.Event)
}

// Service is the application layer between transports and the log store.
type Service struct {
	store  validationlog.Store
	now    func() time.Time
	tracer trace.Tracer
	pub    Publisher
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the reference time used for the future-date rule.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracer injects a tracer instead of the global provider's.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithPublisher announces appended and corrected records on p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// New returns a Service over store.
func New(store validationlog.Store, opts ...Option) *Service {
	s := &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// Validate checks number without storing anything.
func (s *Service) Validate(number string) idcard.Outcome {
	o := idcard.Validate(number, s.now())
	obs.ObserveValidation(o.Valid(), reasonLabel(o))
	return o
}

// Check validates req.Number, appends the attempt and returns both. An invalid
// number is a normal result; the error is only set when the attempt could not
// be recorded.
func (s *Service) Check(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "checker.Check")
	defer func() { endSpan(span, err) }()

	now := s.now()
	o := idcard.Validate(req.Number, now)
	obs.ObserveValidation(o.Valid(), reasonLabel(o))
	span.SetAttributes(
		attribute.Bool("idcard.valid", o.Valid()),
		attribute.String("idcard.reason", reasonLabel(o)),
	)

	rec := validationlog.FromOutcome(req.Number, o)
	rec.ValidationType = req.ValidationType
	rec.Source = req.Source
	rec.Details = req.Details
	rec.Actor = req.Actor
	rec.CreatedFromIP = req.IP
	rec.CreatedAt = now.UTC().Truncate(time.Microsecond)

	id, err := observe(ctx, "append", func(ctx context.Context) (validationlog.ID, error) {
		return s.store.Append(ctx, rec)
	})
	if err != nil {
		return Result{Outcome: o}, err
	}
	rec.ID = id
	rec.UpdatedAt = rec.CreatedAt
	rec.UpdatedFromIP = rec.CreatedFromIP
	span.SetAttributes(attribute.String("validation_log.id", string(id)))
	s.publish(stream.KindChecked, rec)
	return Result{Record: rec, Outcome: o}, nil
}

func (s *Service) Get(ctx context.Context, id validationlog.ID) (validationlog.Record, error) {
	return traced(ctx, s.tracer, "get", func(ctx context.Context) (validationlog.Record, error) {
		return s.store.Get(ctx, id)
	})
}

// History returns every attempt for number, newest first.
func (s *Service) History(ctx context.Context, number string) ([]validationlog.Record, error) {
	return traced(ctx, s.tracer, "find_by_number", func(ctx context.Context) ([]validationlog.Record, error) {
		return s.store.FindByNumber(ctx, number)
	})
}

func (s *Service) Recent(ctx context.Context, limit int) ([]validationlog.Record, error) {
	return traced(ctx, s.tracer, "find_recent", func(ctx context.Context) ([]validationlog.Record, error) {
		return s.store.FindRecent(ctx, limit)
	})
}

func (s *Service) ByActor(ctx context.Context, actor validationlog.ActorID) ([]validationlog.Record, error) {
	return traced(ctx, s.tracer, "find_by_actor", func(ctx context.Context) ([]validationlog.Record, error) {
		return s.store.FindByActor(ctx, actor)
	})
}

func (s *Service) Stats(ctx context.Context) (validationlog.Stats, error) {
	return traced(ctx, s.tracer, "stats", func(ctx context.Context) (validationlog.Stats, error) {
		return s.store.Stats(ctx)
	})
}

// Correct edits the metadata of a stored attempt. c.At defaults to the
// service clock.
func (s *Service) Correct(ctx context.Context, id validationlog.ID, c validationlog.Correction) (validationlog.Record, error) {
	if c.At.IsZero() {
		c.At = s.now().UTC().Truncate(time.Microsecond)
	}
	rec, err := traced(ctx, s.tracer, "correct", func(ctx context.Context) (validationlog.Record, error) {
		return s.store.Correct(ctx, id, c)
	})
	if err != nil {
		return rec, err
	}
	s.publish(stream.KindCorrected, rec)
	return rec, nil
}

func (s *Service) publish(kind stream.Kind, rec validationlog.Record) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(stream.Event{Kind: kind, Record: rec, Timestamp: rec.UpdatedAt})
}

func (s *Service) List(ctx context.Context, f validationlog.Filter) (validationlog.Page, error) {
	return traced(ctx, s.tracer, "list", func(ctx context.Context) (validationlog.Page, error) {
		return s.store.List(ctx, f)
	})
}

// Ping checks the store when it supports it.
func (s *Service) Ping(ctx context.Context) error {
	p, ok := s.store.(Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

func traced[T any](ctx context.Context, tracer trace.Tracer, op string, fn func(context.Context) (T, error)) (v T, err error) {
	ctx, span := tracer.Start(ctx, "checker."+op)
	defer func() { endSpan(span, err) }()
	return observe(ctx, op, fn)
}

func observe[T any](ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := fn(ctx)
	obs.ObserveStoreOp(op, time.Since(start), ErrorKind(err))
	return v, err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ErrorKind labels err for metrics and logs. Misses are reported as
// "not_found"; nil yields "".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, validationlog.ErrNotFound):
		return "not_found"
	case errors.Is(err, validationlog.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, validationlog.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, validationlog.ErrPersistenceUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

func reasonLabel(o idcard.Outcome) string {
	if o.Valid() {
		return ""
	}
	return o.Reason.String()
}
