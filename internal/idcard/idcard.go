// Package idcard validates and decodes 18-character resident identity numbers.
//
// Everything here is pure: no I/O, no package state, and the reference "now"
// is always passed in by the caller.
package idcard

import (
	"time"
	"unicode/utf8"
)

// Reason explains why a candidate is invalid. Checks run in declaration order
// and the first failure wins.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonWrongLength
	ReasonNonDigitCharacter
	ReasonImpossibleDate
	ReasonFutureDate
	ReasonChecksumMismatch
)

// Reasons lists the failure reasons in check order.
var Reasons = []Reason{
	ReasonWrongLength,
	ReasonNonDigitCharacter,
	ReasonImpossibleDate,
	ReasonFutureDate,
	ReasonChecksumMismatch,
}

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonWrongLength:
		return "wrong_length"
	case ReasonNonDigitCharacter:
		return "non_digit_character"
	case ReasonImpossibleDate:
		return "impossible_date"
	case ReasonFutureDate:
		return "future_date"
	case ReasonChecksumMismatch:
		return "checksum_mismatch"
	default:
		return "unknown_reason"
	}
}

// Message is a short human readable description of the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonNone:
		return "valid"
	case ReasonWrongLength:
		return "identity number must be 18 characters"
	case ReasonNonDigitCharacter:
		return "the first 17 characters must be digits"
	case ReasonImpossibleDate:
		return "embedded birth date is not a calendar date"
	case ReasonFutureDate:
		return "embedded birth date is in the future"
	case ReasonChecksumMismatch:
		return "check character does not match"
	default:
		return "unknown reason"
	}
}

// ParseReason maps a reason code back to its value. The empty string maps to
// ReasonNone.
func ParseReason(s string) (Reason, bool) {
	if s == "" {
		return ReasonNone, true
	}
	for _, r := range Reasons {
		if r.String() == s {
			return r, true
		}
	}
	return ReasonNone, false
}

// Outcome is the result of Validate. Birthday and Gender are only set when
// Reason is ReasonNone.
type Outcome struct {
	Reason   Reason
	Birthday time.Time
	Gender   Gender
}

func (o Outcome) Valid() bool { return o.Reason == ReasonNone }

// BirthdayISO formats the birthday as YYYY-MM-DD, or "" for invalid outcomes.
func (o Outcome) BirthdayISO() string {
	if !o.Valid() {
		return ""
	}
	return o.Birthday.Format(time.DateOnly)
}

func invalid(r Reason) Outcome { return Outcome{Reason: r} }

// Validate checks candidate against the structural rules of an 18-character
// identity number. ref supplies "today" for the future-date check; only its
// calendar date in its own location is used.
func Validate(candidate string, ref time.Time) Outcome {
	if utf8.RuneCountInString(candidate) != Length {
		return invalid(ReasonWrongLength)
	}
	r := []rune(candidate)
	for i := 0; i < Length-1; i++ {
		if r[i] < '0' || r[i] > '9' {
			return invalid(ReasonNonDigitCharacter)
		}
	}

	year := digits(r[6:10])
	month := digits(r[10:12])
	day := digits(r[12:14])
	if !isCalendarDate(year, month, day) {
		return invalid(ReasonImpossibleDate)
	}
	ry, rm, rd := ref.Date()
	if compareDates(year, month, day, ry, int(rm), rd) > 0 {
		return invalid(ReasonFutureDate)
	}

	want, err := CheckChar(string(r[:Length-1]))
	if err != nil || !checkCharMatches(want, r[Length-1]) {
		return invalid(ReasonChecksumMismatch)
	}

	gender := GenderFemale
	if (r[16]-'0')%2 == 1 {
		gender = GenderMale
	}
	return Outcome{
		Birthday: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC),
		Gender:   gender,
	}
}

// IsValid is shorthand for Validate(number, ref).Valid().
func IsValid(number string, ref time.Time) bool {
	return Validate(number, ref).Valid()
}

// Birthday returns the embedded birth date joined with sep, e.g. "1949-12-31"
// for sep "-". ok is false when the number is not valid.
func Birthday(number string, ref time.Time, sep string) (string, bool) {
	o := Validate(number, ref)
	if !o.Valid() {
		return "", false
	}
	return o.Birthday.Format("2006" + sep + "01" + sep + "02"), true
}

// GenderOf returns the gender encoded in a valid number and GenderUnknown for
// anything else.
func GenderOf(number string, ref time.Time) Gender {
	o := Validate(number, ref)
	if !o.Valid() {
		return GenderUnknown
	}
	return o.Gender
}

func digits(rs []rune) int {
	n := 0
	for _, c := range rs {
		n = n*10 + int(c-'0')
	}
	return n
}

func isCalendarDate(year, month, day int) bool {
	if year < 1 || month < 1 || month > 12 || day < 1 {
		return false
	}
	return day <= daysIn(year, month)
}

func daysIn(year, month int) int {
	// day 0 of the next month normalizes to the last day of this one
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func compareDates(y1, m1, d1, y2, m2, d2 int) int {
	a := y1*10000 + m1*100 + d1
	b := y2*10000 + m2*100 + d2
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
