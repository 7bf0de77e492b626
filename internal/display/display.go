package display

import (
	"math/big"
	"strings"
)

// Placeholder is rendered wherever a value is unknown or the session is disconnected.
const Placeholder = "-"

const truncateSide = 10

// Truncate shortens a signature to its first and last ten characters.
// Inputs shorter than twenty characters are returned unchanged. Characters
// are counted as runes, so multi-byte input stays valid UTF-8.
func Truncate(signature string) string {
	if signature == "" {
		return Placeholder
	}
	r := []rune(signature)
	if len(r) < 2*truncateSide {
		return signature
	}
	return string(r[:truncateSide]) + "..." + string(r[len(r)-truncateSide:])
}

// Ether formats a wei amount in ether at full precision.
//
// Examples:
//
//	2500000000000000000 -> "2.5"
//	1000000000000000000 -> "1.0"
//	0                   -> "0.0"
func Ether(wei *big.Int) string {
	if wei == nil {
		return Placeholder
	}
	s := Units(wei, 18, 18)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Units converts an integer amount to a decimal string:
// - divides by 10^decimals
// - trims to maxFrac decimal places
// - removes trailing zeros
func Units(amount *big.Int, decimals uint8, maxFrac int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}

	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)

	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	intPart, fracPart := new(big.Int).QuoRem(abs, base, new(big.Int))

	out := intPart.String()
	if fracPart.Sign() != 0 && maxFrac > 0 {
		frac := fracPart.String()
		if len(frac) < int(decimals) {
			frac = strings.Repeat("0", int(decimals)-len(frac)) + frac
		}
		if len(frac) > maxFrac {
			frac = frac[:maxFrac]
		}
		frac = strings.TrimRight(frac, "0")
		if frac != "" {
			out += "." + frac
		}
	}

	if neg && out != "0" {
		out = "-" + out
	}
	return out
}
