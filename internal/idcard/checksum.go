package idcard

import "errors"

// Length is the number of characters in a second-generation identity number.
const Length = 18

// LegacyLength is the length of first-generation numbers. They carry no check
// character and are never decoded.
const LegacyLength = 15

var weights = [Length - 1]int{7, 9, 10, 5, 8, 4, 2, 1, 6, 3, 7, 9, 10, 5, 8, 4, 2}

// CheckChars maps the weighted sum modulo 11 to the check character.
const CheckChars = "10X98765432"

// ErrMalformedPrefix is returned by CheckChar when the input is not exactly
// 17 ASCII digits.
var ErrMalformedPrefix = errors.New("idcard: prefix must be 17 ascii digits")

// CheckChar computes the check character for the first 17 characters of an
// identity number (GB 11643 weighted mod-11).
func CheckChar(prefix string) (byte, error) {
	if len(prefix) != Length-1 {
		return 0, ErrMalformedPrefix
	}
	sum := 0
	for i := 0; i < Length-1; i++ {
		c := prefix[i]
		if c < '0' || c > '9' {
			return 0, ErrMalformedPrefix
		}
		sum += int(c-'0') * weights[i]
	}
	return CheckChars[sum%11], nil
}

// Complete appends the check character to a 17-digit prefix.
func Complete(prefix string) (string, error) {
	c, err := CheckChar(prefix)
	if err != nil {
		return "", err
	}
	return prefix + string(c), nil
}

func checkCharMatches(want byte, got rune) bool {
	if want == 'X' {
		return got == 'X' || got == 'x'
	}
	return got == rune(want)
}
