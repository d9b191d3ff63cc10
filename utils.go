package limitorder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MaxDecimals = 77
	ZeroAddress = "0x0000000000000000000000000000000000000000"
)

// ParseUnits converts a human-readable amount to base units. Amounts with
// more fractional digits than decimals are rejected, not rounded.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return nil, &InvalidParamError{Message: fmt.Sprintf("decimals must be between 0 and %d, got: %d", MaxDecimals, decimals)}
	}

	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, &InvalidParamError{Message: fmt.Sprintf("invalid amount %q: %v", amount, err)}
	}
	if d.Sign() <= 0 {
		return nil, &InvalidParamError{Message: fmt.Sprintf("amount must be positive, got: %s", amount)}
	}

	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, &InvalidParamError{Message: fmt.Sprintf("amount %s has more than %d decimal places", amount, decimals)}
	}

	result := scaled.BigInt()
	if result.BitLen() > 256 {
		return nil, &InvalidParamError{Message: fmt.Sprintf("amount too large for uint256: %s", result)}
	}
	return result, nil
}

// FormatUnits renders base units as a decimal string without trailing zeros
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// TakingAmountAt returns the taking amount of an order that sells making
// base units at price, quoted in taker asset units per maker asset unit.
// The result is rounded down.
func TakingAmountAt(making *big.Int, price string, makingDecimals, takingDecimals int) (*big.Int, error) {
	if making == nil || making.Sign() <= 0 {
		return nil, &InvalidParamError{Message: "making amount must be positive"}
	}
	p, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return nil, &InvalidParamError{Message: fmt.Sprintf("invalid price %q: %v", price, err)}
	}
	if p.Sign() <= 0 {
		return nil, &InvalidParamError{Message: fmt.Sprintf("price must be positive, got: %s", price)}
	}

	taking := decimal.NewFromBigInt(making, 0).
		Mul(p).
		Shift(int32(takingDecimals - makingDecimals)).
		Truncate(0).
		BigInt()
	if taking.Sign() <= 0 {
		return nil, &InvalidParamError{Message: "taking amount rounds to zero"}
	}
	return taking, nil
}

// Price returns the taker asset units paid per maker asset unit
func Price(making, taking *big.Int, makingDecimals, takingDecimals int) decimal.Decimal {
	if making == nil || making.Sign() == 0 || taking == nil {
		return decimal.Zero
	}
	m := decimal.NewFromBigInt(making, -int32(makingDecimals))
	t := decimal.NewFromBigInt(taking, -int32(takingDecimals))
	return t.DivRound(m, 18)
}
