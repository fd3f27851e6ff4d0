package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

var (
	maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minAmount = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Amount is a signed integer quantity bounded to the 128-bit two's complement
// range. The zero value is 0. Amounts are immutable: arithmetic returns new
// values and never aliases the operands.
type Amount struct {
	v *big.Int
}

// NewAmount returns the Amount for v.
func NewAmount(v int64) Amount {
	return Amount{v: big.NewInt(v)}
}

// MaxAmount is the largest representable Amount (2^127 - 1).
func MaxAmount() Amount {
	return Amount{v: new(big.Int).Set(maxAmount)}
}

// MinAmount is the smallest representable Amount (-2^127).
func MinAmount() Amount {
	return Amount{v: new(big.Int).Set(minAmount)}
}

// ParseAmount parses a base-10 integer. Values outside the 128-bit range
// fail with ErrOverflow.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("parse amount %q: not a base-10 integer", s)
	}
	if !inRange(v) {
		return Amount{}, ErrOverflow
	}
	return Amount{v: v}, nil
}

// AmountFromBig copies v into an Amount.
func AmountFromBig(v *big.Int) (Amount, error) {
	if v == nil {
		return Amount{}, nil
	}
	if !inRange(v) {
		return Amount{}, ErrOverflow
	}
	return Amount{v: new(big.Int).Set(v)}, nil
}

func inRange(v *big.Int) bool {
	return v.Cmp(maxAmount) <= 0 && v.Cmp(minAmount) >= 0
}

func (a Amount) int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// BigInt returns a copy of the underlying integer.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(a.int())
}

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int {
	return a.int().Sign()
}

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool {
	return a.Sign() == 0
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.int().Cmp(b.int())
}

// Add returns a + b, or ErrOverflow when the sum leaves the 128-bit range.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := new(big.Int).Add(a.int(), b.int())
	if !inRange(sum) {
		return Amount{}, ErrOverflow
	}
	return Amount{v: sum}, nil
}

// Sub returns a - b, or ErrOverflow when the difference leaves the 128-bit range.
func (a Amount) Sub(b Amount) (Amount, error) {
	diff := new(big.Int).Sub(a.int(), b.int())
	if !inRange(diff) {
		return Amount{}, ErrOverflow
	}
	return Amount{v: diff}, nil
}

func (a Amount) String() string {
	return a.int().String()
}

// MarshalJSON encodes the amount as a JSON string so that clients without
// 128-bit integers do not lose precision.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON integer literal.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*a = Amount{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
