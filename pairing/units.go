package pairing

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const etherDecimals = 18

// ParseValue reads a native amount given as a 0x-prefixed hex quantity or a
// decimal string. An empty value is zero.
func ParseValue(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}

	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
		if digits == "" {
			return new(big.Int), nil
		}
	}

	v, ok := new(big.Int).SetString(digits, base)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}
	return v, nil
}

// FormatEther renders wei as ether. Whole amounts keep one fractional digit,
// e.g. "1.0" and "0.0".
func FormatEther(wei *big.Int) string {
	if wei == nil {
		wei = new(big.Int)
	}

	s := decimal.NewFromBigInt(wei, -etherDecimals).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
