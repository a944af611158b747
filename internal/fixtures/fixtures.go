// Package fixtures builds deterministic demo validation records.
package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"idcheck.org/internal/idcard"
	"idcheck.org/internal/validationlog"
)

// SampleNumbers are hand-picked candidates covering common cases. Their
// validity is always recomputed; several deliberately fail.
var SampleNumbers = []string{
	"11010519491231002X",
	"110105199003071239",
	"440302198802034569",
	"440302198802034567",
	"11010519491231000X",
	"000000000000000000",
	"11010519491399001X",
	"11010500000000001X",
	"110105194912310",
	"1101051949123100",
	"11010519491231001XX",
	"11010519491231001A",
}

var areaCodes = []string{
	"110105", "310104", "440302", "370102", "510103",
	"500101", "320104", "330106", "420106", "610103",
}

// Generator produces identity numbers from a seeded source.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a Generator whose output depends only on seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// ValidNumber returns a number with a real area code, a birth date between
// 1950 and 2005 and a correct check character.
func (g *Generator) ValidNumber() string {
	area := areaCodes[g.rng.IntN(len(areaCodes))]
	year := 1950 + g.rng.IntN(56)
	month := 1 + g.rng.IntN(12)
	day := 1 + g.rng.IntN(28)
	seq := 1 + g.rng.IntN(999)
	number, err := idcard.Complete(fmt.Sprintf("%s%04d%02d%02d%03d", area, year, month, day, seq))
	if err != nil {
		panic(err)
	}
	return number
}

// InvalidNumber returns a number that fails validation for one of several
// reasons.
func (g *Generator) InvalidNumber() string {
	switch g.rng.IntN(4) {
	case 0: // wrong check character
		n := g.ValidNumber()
		want := n[17]
		for {
			c := idcard.CheckChars[g.rng.IntN(len(idcard.CheckChars))]
			if c != want {
				return n[:17] + string(c)
			}
		}
	case 1: // month 13
		return fmt.Sprintf("11010519991399%03dX", 1+g.rng.IntN(999))
	case 2: // wrong length
		if g.rng.IntN(2) == 0 {
			return g.ValidNumber()[:idcard.LegacyLength]
		}
		length := 16 + g.rng.IntN(5)
		if length == idcard.Length {
			length++
		}
		return strings.Repeat(fmt.Sprint(g.rng.IntN(10)), length)
	default: // letter in the digit part
		n := []byte(g.ValidNumber())
		n[g.rng.IntN(17)] = 'A'
		return string(n)
	}
}

// Details returns a provider response resembling what upstream verifiers
// attach to a check.
func (g *Generator) Details(valid bool) json.RawMessage {
	providers := []string{"mps", "unionpay", "carrier"}
	d := map[string]any{
		"provider":        providers[g.rng.IntN(len(providers))],
		"verification_id": fmt.Sprintf("ver_%08x", g.rng.Uint32()),
	}
	if valid {
		d["result"] = "success"
		d["score"] = 85 + g.rng.IntN(16)
		d["response_time_ms"] = 150 + g.rng.IntN(651)
	} else {
		d["result"] = "failed"
		d["error_code"] = fmt.Sprintf("E%04d", 1001+g.rng.IntN(8999))
		d["response_time_ms"] = 100 + g.rng.IntN(4901)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		panic(err)
	}
	return raw
}

func (g *Generator) pick(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[g.rng.IntN(len(values))]
}

// Generate builds p.Count records (plus SampleNumbers when requested).
// CreatedAt falls within p.MaxAgeDays before now, at microsecond precision;
// every record's validity comes from idcard.Validate against now.
func Generate(p Profile, now time.Time) ([]validationlog.Record, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	g := NewGenerator(p.Seed)
	var numbers []string
	if p.IncludeSamples {
		numbers = append(numbers, SampleNumbers...)
	}
	for i := 0; i < p.Count; i++ {
		if g.rng.Float64() < p.ValidRatio {
			numbers = append(numbers, g.ValidNumber())
		} else {
			numbers = append(numbers, g.InvalidNumber())
		}
	}

	maxAge := time.Duration(p.MaxAgeDays) * 24 * time.Hour
	out := make([]validationlog.Record, 0, len(numbers))
	for _, n := range numbers {
		rec := validationlog.FromOutcome(n, idcard.Validate(n, now))
		rec.ValidationType = g.pick(p.ValidationTypes)
		rec.Source = g.pick(p.Sources)
		rec.Actor = validationlog.ActorID(g.pick(p.Actors))
		rec.Details = g.Details(rec.Valid)
		rec.CreatedAt = now
		if maxAge > 0 {
			rec.CreatedAt = now.Add(-time.Duration(g.rng.Int64N(int64(maxAge))))
		}
		rec.CreatedAt = rec.CreatedAt.Truncate(time.Microsecond)
		out = append(out, rec)
	}
	return out, nil
}

// Load appends records to s in order and returns how many were stored.
func Load(ctx context.Context, s validationlog.Store, records []validationlog.Record) (int, error) {
	for i, rec := range records {
		if _, err := s.Append(ctx, rec); err != nil {
			return i, fmt.Errorf("append fixture %d (%s): %w", i, rec.Number, err)
		}
	}
	return len(records), nil
}
