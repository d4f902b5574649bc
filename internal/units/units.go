// Package units converts between wei integers and decimal ether (or LINK) strings.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of ether and LINK.
const Decimals = 18

// ParseEther parses a decimal amount such as "0.1" into wei. A plain integer
// with a "wei" suffix is taken as wei.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if w, ok := strings.CutSuffix(s, "wei"); ok {
		v, ok := new(big.Int).SetString(strings.TrimSpace(w), 10)
		if !ok {
			return nil, fmt.Errorf("invalid wei amount %q", s)
		}
		return v, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	wei := d.Shift(Decimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, Decimals)
	}
	v, ok := new(big.Int).SetString(wei.Truncate(0).String(), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// FormatEther renders wei as a decimal amount without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -Decimals).String()
}
