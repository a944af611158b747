package idcard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Gender follows the GB/T 2261.1 codes so it can be stored as a small integer.
type Gender int

const (
	GenderUnknown     Gender = 0
	GenderMale        Gender = 1
	GenderFemale      Gender = 2
	GenderUnspecified Gender = 9
)

var ErrUnknownGender = errors.New("idcard: unknown gender")

// Genders lists every variant in code order.
var Genders = []Gender{GenderUnknown, GenderMale, GenderFemale, GenderUnspecified}

func (g Gender) String() string {
	switch g {
	case GenderUnknown:
		return "unknown"
	case GenderMale:
		return "male"
	case GenderFemale:
		return "female"
	case GenderUnspecified:
		return "unspecified"
	default:
		return "gender(" + strconv.Itoa(int(g)) + ")"
	}
}

// Code returns the numeric GB/T 2261.1 code.
func (g Gender) Code() int { return int(g) }

// Valid reports whether g is one of the four defined variants.
func (g Gender) Valid() bool {
	switch g {
	case GenderUnknown, GenderMale, GenderFemale, GenderUnspecified:
		return true
	}
	return false
}

// ParseGender accepts the variant name or its numeric code.
func ParseGender(s string) (Gender, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "unknown":
		return GenderUnknown, nil
	case "male", "man":
		return GenderMale, nil
	case "female", "woman":
		return GenderFemale, nil
	case "unspecified":
		return GenderUnspecified, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if g := Gender(n); g.Valid() {
			return g, nil
		}
	}
	return GenderUnknown, fmt.Errorf("%w: %q", ErrUnknownGender, s)
}

func (g Gender) MarshalText() ([]byte, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownGender, int(g))
	}
	return []byte(g.String()), nil
}

func (g *Gender) UnmarshalText(b []byte) error {
	v, err := ParseGender(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}
