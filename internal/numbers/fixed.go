// Package numbers holds the fixed-point helpers used to build pool parameters.
package numbers

import (
	"fmt"
	"math/big"
	"strings"
)

// One is 1e18, the protocol's fixed-point unit.
var One = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseUnits converts a decimal string into an integer scaled by 10^decimals.
// More fractional digits than decimals is an error rather than a silent truncation.
func ParseUnits(value string, decimals uint8) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty amount")
	}

	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(strings.TrimPrefix(value, "-"), "+")
	value = strings.ReplaceAll(value, "_", "")

	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", value, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	out, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if negative {
		out.Neg(out)
	}
	return out, nil
}

// FP parses a decimal string as an 18-decimal fixed-point value.
func FP(value string) (*big.Int, error) {
	return ParseUnits(value, 18)
}

// MustFP is FP for literals known to be valid.
func MustFP(value string) *big.Int {
	out, err := FP(value)
	if err != nil {
		panic(err)
	}
	return out
}

// FormatUnits renders an integer amount with the given number of decimals.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(abs, denom)
	text := rat.FloatString(int(decimals))
	if sign < 0 {
		return "-" + text
	}
	return text
}
