// Package fixedpoint provides scaled-integer money arithmetic for vault
// token amounts.
//
// The vault token uses 18 decimal places on chain. All amounts are stored
// as a non-negative big.Int in the smallest unit paired with the decimal
// scale, so no monetary computation ever passes through floating point.
package fixedpoint

import (
	"errors"
	"math/big"
	"strings"
)

const (
	// VaultDecimals is the on-chain precision of the vault token.
	VaultDecimals = 18

	// DisplayFractionDigits is how many fractional digits the API renders.
	// Matches the deposit input mask, which accepts at most 4 typed digits.
	DisplayFractionDigits = 4

	// BasisPointDenominator converts basis points to a fraction (200 bps = 2%).
	BasisPointDenominator = 10000
)

var (
	ErrParse            = errors.New("fixedpoint: invalid decimal literal")
	ErrNegativeResult   = errors.New("fixedpoint: negative result")
	ErrDecimalsMismatch = errors.New("fixedpoint: decimals mismatch")
)

// Amount is an immutable fixed-point token amount: an integer count of
// smallest units at a fixed decimal scale. The zero value is 0 at scale 0;
// use Zero, Parse, or FromRaw to construct amounts at a real scale.
type Amount struct {
	units    *big.Int
	decimals int
}

// Zero returns the zero amount at the given scale.
func Zero(decimals int) Amount {
	return Amount{units: big.NewInt(0), decimals: decimals}
}

// FromRaw wraps a raw on-chain integer as an Amount. The input is trusted
// (it comes from a contract read) and is copied, not aliased.
func FromRaw(raw *big.Int, decimals int) Amount {
	if raw == nil {
		return Zero(decimals)
	}
	return Amount{units: new(big.Int).Set(raw), decimals: decimals}
}

// Parse converts a decimal string (e.g. "1.50") into an Amount at the given
// scale. Fractional digits beyond the scale are truncated, never rounded.
//
// Rules:
//   - Negative amounts, empty strings, and non-digit characters are rejected
//   - At most one decimal point; ".5" and "1." are accepted
func Parse(s string, decimals int) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return Amount{}, ErrParse
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Amount{}, ErrParse
	}
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return Amount{}, ErrParse
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || !isDigits(frac) {
		return Amount{}, ErrParse
	}

	// Truncate excess fractional digits, pad the rest with zeros.
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	for len(frac) < decimals {
		frac += "0"
	}

	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return Amount{}, ErrParse
	}
	return Amount{units: units, decimals: decimals}, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Raw returns a copy of the smallest-unit integer.
func (a Amount) Raw() *big.Int {
	if a.units == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.units)
}

// Decimals returns the decimal scale of the amount.
func (a Amount) Decimals() int { return a.decimals }

// Sign returns -1, 0, or 1 like big.Int.Sign.
func (a Amount) Sign() int {
	if a.units == nil {
		return 0
	}
	return a.units.Sign()
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.Sign() == 0 }

// Cmp compares two amounts at the same scale: -1 if a < b, 0 if equal, 1 if a > b.
// Comparing amounts at different scales is a programming error and panics.
func (a Amount) Cmp(b Amount) int {
	mustMatchScale(a, b)
	return a.Raw().Cmp(b.Raw())
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	mustMatchScale(a, b)
	return Amount{units: new(big.Int).Add(a.Raw(), b.Raw()), decimals: a.decimals}
}

// Sub returns a - b, or ErrNegativeResult if the result would be negative.
// Fee-subtraction paths must never underflow; a negative result means the
// caller passed inconsistent inputs, not that the user typed something wrong.
func (a Amount) Sub(b Amount) (Amount, error) {
	mustMatchScale(a, b)
	diff := new(big.Int).Sub(a.Raw(), b.Raw())
	if diff.Sign() < 0 {
		return Amount{}, ErrNegativeResult
	}
	return Amount{units: diff, decimals: a.decimals}, nil
}

// MulBps returns a × bps / 10000 in integer arithmetic, truncating toward
// zero. This is the exact form required for fee computation: no intermediate
// float, no rounding drift for magnitudes beyond the float53 safe range.
func (a Amount) MulBps(bps int64) Amount {
	scaled := new(big.Int).Mul(a.Raw(), big.NewInt(bps))
	scaled.Quo(scaled, big.NewInt(BasisPointDenominator))
	return Amount{units: scaled, decimals: a.decimals}
}

// Truncate returns the amount with fractional digits beyond maxFrac
// discarded (never rounded). Used for the "max" deposit shortcut, which
// floors the wallet balance to 4 display digits.
func (a Amount) Truncate(maxFrac int) Amount {
	if maxFrac >= a.decimals {
		return Amount{units: a.Raw(), decimals: a.decimals}
	}
	mod := pow10(a.decimals - maxFrac)
	units := new(big.Int).Quo(a.Raw(), mod)
	units.Mul(units, mod)
	return Amount{units: units, decimals: a.decimals}
}

// String renders the amount with all fractional digits and no grouping.
// Used for wire values; Format is the human-facing form.
func (a Amount) String() string {
	whole, frac := a.split()
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// Format renders the amount for display: the integer part with thousands
// separators and the fractional part truncated to at most maxFrac digits.
// When the truncated fraction is all zero, the decimal point is omitted.
func (a Amount) Format(maxFrac int) string {
	whole, frac := a.split()
	if len(frac) > maxFrac {
		frac = frac[:maxFrac]
	}
	frac = strings.TrimRight(frac, "0")
	grouped := groupThousands(whole)
	if frac == "" {
		return grouped
	}
	return grouped + "." + frac
}

// split returns the whole part and the full fractional digit string.
func (a Amount) split() (string, string) {
	s := a.Raw().String()
	if a.decimals == 0 {
		return s, ""
	}
	for len(s) < a.decimals+1 {
		s = "0" + s
	}
	cut := len(s) - a.decimals
	return s[:cut], s[cut:]
}

// Display renders an amount in the canonical API form: grouped integer part,
// at most 4 fractional digits, truncated.
func Display(a Amount) string {
	return a.Format(DisplayFractionDigits)
}

// groupThousands inserts comma separators into a non-negative integer string.
func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func mustMatchScale(a, b Amount) {
	if a.decimals != b.decimals {
		panic(ErrDecimalsMismatch)
	}
}
