package engine

import (
	"math/big"
)

// GetMakingAmount returns floor(takingAmount * orderMaking / orderTaking),
// the maker units owed for takingAmount taker units.
func GetMakingAmount(orderMaking, orderTaking, takingAmount *big.Int) *big.Int {
	if orderTaking.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(takingAmount, orderMaking)
	return out.Quo(out, orderTaking)
}

// GetTakingAmount returns ceil(makingAmount * orderTaking / orderMaking), the
// taker units owed for makingAmount maker units.
func GetTakingAmount(orderMaking, orderTaking, makingAmount *big.Int) *big.Int {
	if orderMaking.Sign() == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(makingAmount, orderTaking)
	out, rem := new(big.Int).QuoRem(num, orderMaking, new(big.Int))
	if rem.Sign() != 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}

// GetMakingAmountNoPartialFill returns orderMaking when takingAmount is the
// full orderTaking, and zero otherwise.
func GetMakingAmountNoPartialFill(orderMaking, orderTaking, takingAmount *big.Int) *big.Int {
	if takingAmount.Cmp(orderTaking) != 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(orderMaking)
}

// GetTakingAmountNoPartialFill returns orderTaking when makingAmount is the
// full orderMaking, and zero otherwise.
func GetTakingAmountNoPartialFill(orderMaking, orderTaking, makingAmount *big.Int) *big.Int {
	if makingAmount.Cmp(orderMaking) != 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(orderTaking)
}
