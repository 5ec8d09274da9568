package paytable

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInvalidSpotCount  = errors.New("spot count out of range")
	ErrInvalidMatchCount = errors.New("match count exceeds spot count")
)

// Probability returns the exact hypergeometric probability of hitting
// matchCount out of spotCount picked numbers when drawSize numbers are drawn
// without replacement from a pool of poolSize:
//
//	C(spotCount, matchCount) * C(poolSize-spotCount, drawSize-matchCount) / C(poolSize, drawSize)
//
// Computed on big integers; factorials of 80 overflow any fixed-width type
// and float accumulation drifts, so the result is an exact rational.
func Probability(spotCount, matchCount, poolSize, drawSize int) (*big.Rat, error) {
	if spotCount < 1 || spotCount > poolSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSpotCount, spotCount)
	}
	if matchCount < 0 || matchCount > spotCount {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidMatchCount, matchCount, spotCount)
	}

	num := new(big.Int).Mul(
		binomial(spotCount, matchCount),
		binomial(poolSize-spotCount, drawSize-matchCount),
	)
	den := binomial(poolSize, drawSize)
	if den.Sign() == 0 {
		return nil, fmt.Errorf("degenerate pool: C(%d, %d) = 0", poolSize, drawSize)
	}
	return new(big.Rat).SetFrac(num, den), nil
}

// binomial is C(n, k), zero outside the valid range so impossible match
// counts (e.g. more matches than drawn numbers) get probability zero rather
// than an error.
func binomial(n, k int) *big.Int {
	if k < 0 || k > n || n < 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Binomial(int64(n), int64(k))
}
