package odds

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the fixed-point factor the contract stores odds with.
const Scale = 1000

var scaleFactor = decimal.NewFromInt(Scale)

// ScaleOdds converts decimal odds into the contract's fixed-point integer.
// Arithmetic is exact; a value carrying more than three decimals (usually a
// float artefact) is rounded to the nearest unit.
func ScaleOdds(d decimal.Decimal) (uint32, error) {
	if !d.IsPositive() {
		return 0, fmt.Errorf("odds must be positive, got %s", d)
	}
	scaled := d.Mul(scaleFactor).Round(0)
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxUint32)) {
		return 0, fmt.Errorf("odds %s overflow fixed-point range", d)
	}
	return uint32(scaled.IntPart()), nil
}

// UnscaleOdds converts a contract fixed-point value back to decimal odds.
func UnscaleOdds(v uint32) decimal.Decimal {
	return decimal.New(int64(v), -3)
}
