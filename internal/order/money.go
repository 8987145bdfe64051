package order

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
)

// Money is an amount in minor units (cents). On the wire it is a JSON number
// with at most two fraction digits.
type Money int64

// ParseMoney parses a decimal such as "10", "10.5" or "-3.25".
func ParseMoney(v string) (Money, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", apperr.ErrMalformed)
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || !digitsOnly(whole) || (hasFrac && (frac == "" || len(frac) > 2 || !digitsOnly(frac))) {
		return 0, fmt.Errorf("%w: invalid amount %q", apperr.ErrMalformed, v)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	cents, _ := strconv.ParseInt(frac, 10, 64)
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > (math.MaxInt64-cents)/100 {
		return 0, fmt.Errorf("%w: amount %q out of range", apperr.ErrMalformed, v)
	}

	m := Money(units*100 + cents)
	if neg {
		m = -m
	}
	return m, nil
}

// Times returns m*q, or false when the product does not fit in int64.
// m and q must not be negative.
func (m Money) Times(q int) (Money, bool) {
	if q != 0 && int64(m) > math.MaxInt64/int64(q) {
		return 0, false
	}
	return m * Money(q), true
}

// Plus returns m+n, or false when the sum does not fit in int64.
// m and n must not be negative.
func (m Money) Plus(n Money) (Money, bool) {
	if int64(m) > math.MaxInt64-int64(n) {
		return 0, false
	}
	return m + n, true
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	parsed, err := ParseMoney(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
