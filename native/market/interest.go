package market

import "github.com/holiman/uint256"

const basisPointDenominator = 10_000

var (
	bpsDenominator = uint256.NewInt(basisPointDenominator)
	halfBps        = uint256.NewInt(basisPointDenominator / 2)
	maxAmount      = uint256.NewInt(MaxAmount)
)

// SimpleInterest returns principal * rateBps * periods / 10_000 rounded half
// up. The product is evaluated in 256-bit space so it cannot wrap; ok is false
// when the result does not fit MaxAmount.
func SimpleInterest(principal uint64, rateBps uint16, periods uint64) (interest uint64, ok bool) {
	if principal == 0 || rateBps == 0 || periods == 0 {
		return 0, true
	}
	acc := uint256.NewInt(principal)
	acc.Mul(acc, uint256.NewInt(uint64(rateBps)))
	acc.Mul(acc, uint256.NewInt(periods))
	acc.Add(acc, halfBps)
	acc.Div(acc, bpsDenominator)
	if acc.Gt(maxAmount) {
		return 0, false
	}
	return acc.Uint64(), true
}

// AmountDue returns principal plus simple interest, or ok=false on overflow.
func AmountDue(principal uint64, rateBps uint16, periods uint64) (due, interest uint64, ok bool) {
	interest, ok = SimpleInterest(principal, rateBps, periods)
	if !ok {
		return 0, 0, false
	}
	due, ok = addAmounts(principal, interest)
	if !ok {
		return 0, 0, false
	}
	return due, interest, true
}

// addAmounts adds two amounts and reports whether the sum stays within MaxAmount.
func addAmounts(a, b uint64) (uint64, bool) {
	if a > MaxAmount || b > MaxAmount-a {
		return 0, false
	}
	return a + b, true
}
