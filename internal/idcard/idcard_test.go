package idcard

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refDate = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

func TestCheckChar(t *testing.T) {
	cases := map[string]byte{
		"11010519491231002": 'X',
		"44030219880203456": '9',
		"11010520000229001": '3',
		"11010520010229001": '0',
		"11010519800101123": '8',
	}
	for prefix, want := range cases {
		got, err := CheckChar(prefix)
		require.NoError(t, err, prefix)
		assert.Equal(t, string(want), string(got), prefix)
	}
}

func TestCheckCharsIndexedBySum(t *testing.T) {
	require.Len(t, CheckChars, 11)
	// all-zero prefix sums to 0; a single leading 1 weighs 7.
	got, err := CheckChar(strings.Repeat("0", Length-1))
	require.NoError(t, err)
	assert.Equal(t, CheckChars[0], got)
	got, err = CheckChar("1" + strings.Repeat("0", Length-2))
	require.NoError(t, err)
	assert.Equal(t, CheckChars[7], got)
}

func TestCheckCharRejectsMalformedPrefix(t *testing.T) {
	for _, prefix := range []string{"", "1101051949123100", "110105194912310021", "1101051949123100A"} {
		_, err := CheckChar(prefix)
		assert.ErrorIs(t, err, ErrMalformedPrefix, prefix)
	}
}

func TestValidateWrongLength(t *testing.T) {
	inputs := []string{
		"",
		"1",
		"110105491231002",     // 15-character legacy number
		"1101051949123100",    // too short
		"11010519491231001XX", // too long
		strings.Repeat("1", 17),
		strings.Repeat("1", 19),
		"１１０１０５１９４９１２３１００２Ｘ１", // 19 full-width runes
	}
	for _, in := range inputs {
		assert.Equal(t, ReasonWrongLength, Validate(in, refDate).Reason, "%q", in)
	}
}

func TestValidateLengthCountsCharacters(t *testing.T) {
	// 18 runes but more than 18 bytes: judged on the digits, not on length.
	in := "1101051949123100é2"
	require.Equal(t, 18, len([]rune(in)))
	assert.Equal(t, ReasonNonDigitCharacter, Validate(in, refDate).Reason)

	in = "11010519491231002é"
	assert.Equal(t, ReasonChecksumMismatch, Validate(in, refDate).Reason)
}

func TestValidateNonDigit(t *testing.T) {
	base := "11010519491231002X"
	for i := 0; i < Length-1; i++ {
		for _, c := range []string{"A", "x", " ", "-", "X"} {
			candidate := base[:i] + c + base[i+1:]
			got := Validate(candidate, refDate)
			assert.Equal(t, ReasonNonDigitCharacter, got.Reason, "%q", candidate)
		}
	}
}

func TestValidateNonDigitBeatsChecksum(t *testing.T) {
	// Both the prefix and the check character are wrong; the digit check wins.
	assert.Equal(t, ReasonNonDigitCharacter, Validate("A1010519491231002Z", refDate).Reason)
}

func TestValidateImpossibleDates(t *testing.T) {
	prefixes := []string{
		"11010519491399001", // month 13
		"11010519490015001", // month 00
		"11010519490100001", // day 00
		"11010519490431001", // april 31
		"11010520010229001", // 2001 is not a leap year
		"11010519000229001", // 1900 is not a leap year
		"11010500000101001", // year 0000
	}
	for _, p := range prefixes {
		number, err := Complete(p)
		require.NoError(t, err)
		assert.Equal(t, ReasonImpossibleDate, Validate(number, refDate).Reason, number)
	}
}

func TestValidateLeapYear(t *testing.T) {
	leap, err := Complete("11010520000229001")
	require.NoError(t, err)
	out := Validate(leap, refDate)
	require.True(t, out.Valid(), "reason %s", out.Reason)
	assert.Equal(t, "2000-02-29", out.BirthdayISO())

	nonLeap, err := Complete("11010520010229001")
	require.NoError(t, err)
	assert.Equal(t, ReasonImpossibleDate, Validate(nonLeap, refDate).Reason)
}

func TestValidateFutureDate(t *testing.T) {
	number, err := Complete("11010520991231001")
	require.NoError(t, err)
	assert.Equal(t, ReasonFutureDate, Validate(number, refDate).Reason)

	// The reference date itself is not in the future.
	today, err := Complete("11010520240601001")
	require.NoError(t, err)
	assert.True(t, Validate(today, refDate).Valid())

	tomorrow, err := Complete("11010520240602001")
	require.NoError(t, err)
	assert.Equal(t, ReasonFutureDate, Validate(tomorrow, refDate).Reason)
}

func TestValidateFutureDateUsesReferenceLocation(t *testing.T) {
	number, err := Complete("11010520240602001")
	require.NoError(t, err)
	shanghai := time.FixedZone("CST", 8*3600)
	// 2024-06-01 20:00 UTC is already 2024-06-02 in UTC+8.
	ref := time.Date(2024, time.June, 1, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, ReasonFutureDate, Validate(number, ref).Reason)
	assert.True(t, Validate(number, ref.In(shanghai)).Valid())
}

func TestValidateFutureBeatsChecksum(t *testing.T) {
	assert.Equal(t, ReasonFutureDate, Validate("110105209912310010", refDate).Reason)
	assert.Equal(t, ReasonFutureDate, Validate("11010520991231001X", refDate).Reason)
}

func TestValidateChecksumExhaustive(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	prefixes := []string{"11010519491231002", "44030219880203456", "11010520000229001"}
	for i := 0; i < 200; i++ {
		prefixes = append(prefixes, randomPrefix(rnd))
	}
	for _, p := range prefixes {
		valid := 0
		for _, c := range "0123456789X" {
			out := Validate(p+string(c), refDate)
			if out.Valid() {
				valid++
				continue
			}
			assert.Equal(t, ReasonChecksumMismatch, out.Reason, p+string(c))
		}
		assert.Equal(t, 1, valid, p)
	}
}

func TestValidateLowercaseX(t *testing.T) {
	assert.True(t, Validate("11010519491231002x", refDate).Valid())
	assert.True(t, Validate("11010519491231002X", refDate).Valid())
}

func TestValidateGender(t *testing.T) {
	female := Validate("440302198802034569", refDate)
	require.True(t, female.Valid())
	assert.Equal(t, GenderFemale, female.Gender)
	assert.Equal(t, "1988-02-03", female.BirthdayISO())

	// Same number with an odd digit at position 16.
	male, err := Complete("44030219880203457")
	require.NoError(t, err)
	out := Validate(male, refDate)
	require.True(t, out.Valid())
	assert.Equal(t, GenderMale, out.Gender)

	// The fixture number with a wrong check character is rejected, not decoded.
	assert.Equal(t, ReasonChecksumMismatch, Validate("440302198802034567", refDate).Reason)
}

func TestValidateGenderParity(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	for i := 0; i < 100; i++ {
		p := randomPrefix(rnd)
		even := p[:16] + "4"
		odd := p[:16] + "5"
		a, err := Complete(even)
		require.NoError(t, err)
		b, err := Complete(odd)
		require.NoError(t, err)
		oa, ob := Validate(a, refDate), Validate(b, refDate)
		require.True(t, oa.Valid())
		require.True(t, ob.Valid())
		assert.Equal(t, GenderFemale, oa.Gender)
		assert.Equal(t, GenderMale, ob.Gender)
	}
}

func TestInvalidOutcomeCarriesNoDerivedFields(t *testing.T) {
	out := Validate("11010519491231000X", refDate)
	assert.False(t, out.Valid())
	assert.True(t, out.Birthday.IsZero())
	assert.Equal(t, "", out.BirthdayISO())
}

func TestHelpers(t *testing.T) {
	b, ok := Birthday("11010519491231002X", refDate, "/")
	require.True(t, ok)
	assert.Equal(t, "1949/12/31", b)

	_, ok = Birthday("110105491231002", refDate, "-")
	assert.False(t, ok)

	assert.Equal(t, GenderFemale, GenderOf("11010519491231002X", refDate))
	assert.Equal(t, GenderUnknown, GenderOf("not-a-number", refDate))
	assert.True(t, IsValid("11010519491231002X", refDate))
}

func TestReasonCodes(t *testing.T) {
	for _, r := range Reasons {
		got, ok := ParseReason(r.String())
		require.True(t, ok)
		assert.Equal(t, r, got)
		assert.NotEmpty(t, r.Message())
	}
	_, ok := ParseReason("bogus")
	assert.False(t, ok)
}

func randomPrefix(rnd *rand.Rand) string {
	var b strings.Builder
	b.WriteString("110105")
	day := time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, rnd.Intn(365*60))
	b.WriteString(day.Format("20060102"))
	for i := 0; i < 3; i++ {
		b.WriteByte(byte('0' + rnd.Intn(10)))
	}
	return b.String()
}
