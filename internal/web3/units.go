package web3

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ToBaseUnits converts a decimal amount into the token's smallest unit,
// truncating digits beyond the token precision.
func ToBaseUnits(amount float64, decimals uint8) (*big.Int, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %v", amount)
	}
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(amount, 'f', -1, 64))
	if !ok {
		return nil, fmt.Errorf("invalid amount %v", amount)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	out := new(big.Int).Quo(r.Num(), r.Denom())
	if out.Sign() == 0 {
		return nil, fmt.Errorf("amount %v is below token precision", amount)
	}
	return out, nil
}

// FormatUnits renders a base-unit amount as a decimal string without
// trailing zeros.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	neg := value.Sign() < 0
	digits := new(big.Int).Abs(value).String()
	if decimals > 0 {
		d := int(decimals)
		if len(digits) <= d {
			digits = strings.Repeat("0", d-len(digits)+1) + digits
		}
		whole, frac := digits[:len(digits)-d], strings.TrimRight(digits[len(digits)-d:], "0")
		digits = whole
		if frac != "" {
			digits += "." + frac
		}
	}
	if neg {
		return "-" + digits
	}
	return digits
}
