package fairness

import (
	"crypto/subtle"
	"strings"
)

// Verify replays a draw from publicly disclosed values and reports whether it
// matches what was published at commitment time. It fails closed: every
// mismatch or recomputation error yields false, never an error or a panic,
// because a caller presented with tampered inputs must not be crashable by
// them.
//
// The digest comparison runs first. A digest mismatch means the server's
// secret changed after commitment, which no amount of matching numbers can
// excuse.
func Verify(disclosedSecret []byte, clientSeed string, nonce uint64, poolSize, drawSize int, claimedNumbers []int, commitmentDigest string) bool {
	if len(disclosedSecret) == 0 || commitmentDigest == "" {
		return false
	}

	recomputed := DigestOf(disclosedSecret)
	expected := strings.ToLower(commitmentDigest)
	if subtle.ConstantTimeCompare([]byte(recomputed), []byte(expected)) != 1 {
		return false
	}

	numbers, err := Sample(disclosedSecret, clientSeed, nonce, poolSize, drawSize)
	if err != nil {
		return false
	}
	if len(numbers) != len(claimedNumbers) {
		return false
	}
	// Both sides are sorted ascending, so ordered equality suffices.
	for i := range numbers {
		if numbers[i] != claimedNumbers[i] {
			return false
		}
	}
	return true
}
