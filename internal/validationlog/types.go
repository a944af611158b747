package validationlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"idcheck.org/internal/idcard"
)

// ID is the opaque record key. IDs sort in creation order.
type ID string

// ActorID is a weak reference to whoever submitted a number. Empty means the
// submission was anonymous.
type ActorID string

// MaxLabelLength bounds ValidationType and Source.
const MaxLabelLength = 100

// Record is one validation attempt. Only ValidationType, Source, UpdatedAt and
// UpdatedFromIP change after creation.
type Record struct {
	ID             ID              `json:"id"`
	Number         string          `json:"number"`
	Valid          bool            `json:"valid"`
	Birthday       *string         `json:"birthday,omitempty"`
	Gender         *idcard.Gender  `json:"gender,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	ValidationType string          `json:"validation_type,omitempty"`
	Source         string          `json:"source,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	Actor          ActorID         `json:"actor,omitempty"`
	CreatedFromIP  string          `json:"created_from_ip,omitempty"`
	UpdatedFromIP  string          `json:"updated_from_ip,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// FromOutcome starts a record for number with the validity, derived fields and
// reason taken from o.
func FromOutcome(number string, o idcard.Outcome) Record {
	rec := Record{Number: number, Valid: o.Valid()}
	if o.Valid() {
		b := o.BirthdayISO()
		g := o.Gender
		rec.Birthday = &b
		rec.Gender = &g
	} else {
		rec.Reason = o.Reason.String()
	}
	return rec
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (r Record) Clone() Record {
	out := r
	if r.Birthday != nil {
		b := *r.Birthday
		out.Birthday = &b
	}
	if r.Gender != nil {
		g := *r.Gender
		out.Gender = &g
	}
	if r.Details != nil {
		out.Details = slices.Clone(r.Details)
	}
	return out
}

// Stats aggregates all persisted records. Valid + Invalid == Total.
type Stats struct {
	Valid   int64 `json:"valid"`
	Invalid int64 `json:"invalid"`
	Total   int64 `json:"total"`
}

// Correction is an auditor edit of a record's metadata. Nil fields are left
// untouched. A non-zero ExpectedUpdatedAt turns the edit into a
// compare-and-swap against the stored UpdatedAt.
type Correction struct {
	ValidationType    *string
	Source            *string
	UpdatedFromIP     string
	At                time.Time
	ExpectedUpdatedAt time.Time
}

const (
	DefaultPageSize = 30
	MaxPageSize     = 1000
)

// Filter narrows List results. Zero values mean "any". CreatedFrom is
// inclusive and CreatedTo exclusive.
type Filter struct {
	Number         string
	Valid          *bool
	ValidationType string
	Gender         *idcard.Gender
	Source         string
	Actor          ActorID
	CreatedFrom    time.Time
	CreatedTo      time.Time
	Limit          int
	Offset         int
}

// Page is one slice of List results plus the number of matching records.
type Page struct {
	Items []Record `json:"items"`
	Total int64    `json:"total"`
}

var (
	ErrNotFound               = errors.New("validation log: not found")
	ErrInvalidInput           = errors.New("validation log: invalid input")
	ErrPersistenceUnavailable = errors.New("validation log: persistence unavailable")
	ErrConcurrencyConflict    = errors.New("validation log: concurrency conflict")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// CheckRecord enforces the caller contract of Store.Append.
func CheckRecord(r Record) error {
	if strings.TrimSpace(r.Number) == "" {
		return invalidf("number is required")
	}
	if err := checkText(map[string]string{
		"number":          r.Number,
		"created_from_ip": r.CreatedFromIP,
		"updated_from_ip": r.UpdatedFromIP,
		"actor":           string(r.Actor),
	}); err != nil {
		return err
	}
	if r.Valid {
		if r.Birthday == nil || r.Gender == nil {
			return invalidf("valid records need birthday and gender")
		}
		if r.Reason != "" {
			return invalidf("valid records carry no reason")
		}
	} else if r.Birthday != nil || r.Gender != nil {
		return invalidf("invalid records carry no birthday or gender")
	}
	if r.Birthday != nil {
		if _, err := time.Parse(time.DateOnly, *r.Birthday); err != nil {
			return invalidf("birthday %q is not YYYY-MM-DD", *r.Birthday)
		}
	}
	if r.Gender != nil && !r.Gender.Valid() {
		return invalidf("gender code %d is not defined", int(*r.Gender))
	}
	if _, ok := idcard.ParseReason(r.Reason); !ok {
		return invalidf("unknown reason %q", r.Reason)
	}
	if err := checkLabels(&r.ValidationType, &r.Source); err != nil {
		return err
	}
	if len(r.Details) > 0 {
		if !utf8.Valid(r.Details) || !json.Valid(r.Details) {
			return invalidf("details must be valid JSON")
		}
		if err := checkDetailsText(r.Details); err != nil {
			return err
		}
	}
	return nil
}

// CheckCorrection enforces the caller contract of Store.Correct.
func CheckCorrection(c Correction) error {
	if c.ValidationType == nil && c.Source == nil {
		return invalidf("correction changes nothing")
	}
	if err := checkText(map[string]string{"updated_from_ip": c.UpdatedFromIP}); err != nil {
		return err
	}
	return checkLabels(c.ValidationType, c.Source)
}

// checkText rejects values every backend cannot store the same way: text
// columns refuse NUL bytes and byte sequences that are not UTF-8.
func checkText(fields map[string]string) error {
	for name, v := range fields {
		if !utf8.ValidString(v) {
			return invalidf("%s is not valid UTF-8", name)
		}
		if strings.IndexByte(v, 0) >= 0 {
			return invalidf("%s contains a NUL character", name)
		}
	}
	return nil
}

// checkDetailsText walks every key and string value of a JSON document,
// since an escaped \u0000 is valid JSON but not storable as jsonb.
func checkDetailsText(details json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(details))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return invalidf("details must be valid JSON")
		}
		if s, ok := tok.(string); ok && strings.IndexByte(s, 0) >= 0 {
			return invalidf("details contain a NUL character")
		}
	}
}

func checkLabels(validationType, source *string) error {
	labels := map[string]string{}
	if validationType != nil {
		labels["validation type"] = *validationType
	}
	if source != nil {
		labels["source"] = *source
	}
	if err := checkText(labels); err != nil {
		return err
	}
	if validationType != nil && utf8.RuneCountInString(*validationType) > MaxLabelLength {
		return invalidf("validation type longer than %d characters", MaxLabelLength)
	}
	if source != nil && utf8.RuneCountInString(*source) > MaxLabelLength {
		return invalidf("source longer than %d characters", MaxLabelLength)
	}
	return nil
}

// Normalize applies paging defaults and rejects negative values.
func (f Filter) Normalize() (Filter, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return f, invalidf("limit and offset must be >= 0")
	}
	if f.Limit == 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if !f.CreatedFrom.IsZero() && !f.CreatedTo.IsZero() && !f.CreatedFrom.Before(f.CreatedTo) {
		return f, invalidf("created_from must be before created_to")
	}
	return f, nil
}

// Matches reports whether r passes every filter criterion.
func (f Filter) Matches(r Record) bool {
	if f.Number != "" && r.Number != f.Number {
		return false
	}
	if f.Valid != nil && r.Valid != *f.Valid {
		return false
	}
	if f.ValidationType != "" && r.ValidationType != f.ValidationType {
		return false
	}
	if f.Gender != nil && (r.Gender == nil || *r.Gender != *f.Gender) {
		return false
	}
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	if f.Actor != "" && r.Actor != f.Actor {
		return false
	}
	if !f.CreatedFrom.IsZero() && r.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && !r.CreatedAt.Before(f.CreatedTo) {
		return false
	}
	return true
}

// NewestFirst orders records by CreatedAt descending, then ID descending.
func NewestFirst(a, b Record) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(string(b.ID), string(a.ID))
}
