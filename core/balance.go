package core

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Balance is an unsigned amount or voting weight. All arithmetic is checked.
type Balance struct {
	v uint256.Int
}

func NewBalance(n uint64) Balance {
	var b Balance
	b.v.SetUint64(n)
	return b
}

func ParseBalance(s string) (Balance, error) {
	var b Balance
	if s == "" {
		return b, nil
	}
	if err := b.v.SetFromDecimal(s); err != nil {
		return Balance{}, errors.Wrapf(err, "parse balance %q", s)
	}
	return b, nil
}

// MustParseBalance panics on malformed input; intended for constants and tests.
func MustParseBalance(s string) Balance {
	b, err := ParseBalance(s)
	if err != nil {
		panic(err)
	}
	return b
}

func (b Balance) Add(o Balance) (Balance, error) {
	var r Balance
	if _, overflow := r.v.AddOverflow(&b.v, &o.v); overflow {
		return Balance{}, errors.Wrapf(ErrArithmeticOverflow, "%s + %s", b, o)
	}
	return r, nil
}

func (b Balance) Sub(o Balance) (Balance, error) {
	var r Balance
	if _, underflow := r.v.SubOverflow(&b.v, &o.v); underflow {
		return Balance{}, errors.Wrapf(ErrArithmeticOverflow, "%s - %s", b, o)
	}
	return r, nil
}

func (b Balance) Mul(o Balance) (Balance, error) {
	var r Balance
	if _, overflow := r.v.MulOverflow(&b.v, &o.v); overflow {
		return Balance{}, errors.Wrapf(ErrArithmeticOverflow, "%s * %s", b, o)
	}
	return r, nil
}

func (b Balance) Div(o Balance) (Balance, error) {
	if o.IsZero() {
		return Balance{}, errors.Wrapf(ErrArithmeticOverflow, "%s / 0", b)
	}
	var r Balance
	r.v.Div(&b.v, &o.v)
	return r, nil
}

func (b Balance) Cmp(o Balance) int {
	return b.v.Cmp(&o.v)
}

func (b Balance) Lt(o Balance) bool {
	return b.Cmp(o) < 0
}

func (b Balance) IsZero() bool {
	return b.v.IsZero()
}

func (b Balance) Min(o Balance) Balance {
	if o.Lt(b) {
		return o
	}
	return b
}

func (b Balance) ToBig() *big.Int {
	return b.v.ToBig()
}

func (b Balance) Bytes32() [32]byte {
	return b.v.Bytes32()
}

func (b Balance) String() string {
	return b.v.Dec()
}

func (b Balance) MarshalText() ([]byte, error) {
	return []byte(b.v.Dec()), nil
}

func (b *Balance) UnmarshalText(text []byte) error {
	parsed, err := ParseBalance(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
