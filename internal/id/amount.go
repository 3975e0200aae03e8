package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

func formatDecimal(baseUnits string, decimals int) string {
	n := new(big.Int)
	n.SetString(baseUnits, 10)
	if decimals == 0 {
		return n.String()
	}

	s := n.String()
	if len(s) <= decimals {
		pad := strings.Repeat("0", decimals-len(s)+1)
		s = pad + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := s[len(s)-decimals:]
	fracPart = strings.TrimRight(fracPart, "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

func decimalToBaseUnits(decimal string, decimals int) (string, error) {
	parts := strings.SplitN(decimal, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > decimals {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}

	fracPart = fracPart + strings.Repeat("0", decimals-len(fracPart))
	combined := intPart + fracPart
	combined = strings.TrimLeft(combined, "0")
	if combined == "" {
		return "0", nil
	}
	if _, ok := new(big.Int).SetString(combined, 10); !ok {
		return "", clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return combined, nil
}

// ParseBaseUnits converts a human decimal amount into token base units. It is
// the single conversion point for amounts entering the system; everything
// downstream works on the returned integer.
func ParseBaseUnits(amount string, decimals int) (*big.Int, error) {
	raw := strings.TrimSpace(amount)
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	if strings.HasPrefix(raw, "-") || !decimalPattern.MatchString(strings.TrimPrefix(raw, "+")) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid amount %q: must be a positive number", amount))
	}
	raw = strings.TrimPrefix(raw, "+")
	base, err := decimalToBaseUnits(raw, decimals)
	if err != nil {
		return nil, err
	}
	out, _ := new(big.Int).SetString(base, 10)
	if out.Sign() == 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be greater than zero")
	}
	return out, nil
}

// FormatBaseUnits renders base units back into a decimal string.
func FormatBaseUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	if amount.Sign() < 0 {
		return "-" + formatDecimal(new(big.Int).Neg(amount).String(), decimals)
	}
	return formatDecimal(amount.String(), decimals)
}
