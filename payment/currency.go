package payment

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Currency is the unit an amount is expressed in.
type Currency string

const (
	Toman Currency = "IRT"
	Rial  Currency = "IRR"
)

// rialsPer is the number of rials in one unit of each currency.
var rialsPer = map[Currency]int64{
	Rial:  1,
	Toman: 10,
}

func (c Currency) Valid() bool {
	_, ok := rialsPer[c]
	return ok
}

// Convert changes amount from one unit to another. Conversions that would
// lose a fraction or overflow uint64 fail.
func Convert(amount uint64, from, to Currency) (uint64, error) {
	if from == to {
		return amount, nil
	}
	fr, ok := rialsPer[from]
	if !ok {
		return 0, errors.Errorf("unsupported currency %q", from)
	}
	tr, ok := rialsPer[to]
	if !ok {
		return 0, errors.Errorf("unsupported currency %q", to)
	}
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0).
		Mul(decimal.NewFromInt(fr)).
		Div(decimal.NewFromInt(tr))
	if !d.Equal(d.Truncate(0)) {
		return 0, errors.Errorf("%d %s is not a whole amount of %s", amount, from, to)
	}
	bi := d.BigInt()
	if !bi.IsUint64() {
		return 0, errors.Errorf("%d %s overflows when converted to %s", amount, from, to)
	}
	return bi.Uint64(), nil
}
