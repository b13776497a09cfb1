// Pure hashlock validation. The two ledgers in play commit to secrets
// with different digest primitives, so the algorithm tag travels on the
// order and is passed in explicitly.

package hashlock

import (
	"crypto/sha256"
	"crypto/subtle"

	"github.com/fusionswap/orchestrator-go/agreement"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Verify recomputes the digest of secret under algo and compares it to
// lock. Any mismatch, empty secret or unknown algorithm returns false.
// Never panics, no side effects.
func Verify(secret []byte, lock ethcommon.Hash, algo agreement.HashAlgo) bool {
	if len(secret) == 0 {
		return false
	}

	var digest [32]byte
	switch algo {
	case agreement.HashAlgoSha256:
		digest = sha256.Sum256(secret)
	case agreement.HashAlgoKeccak256:
		h := sha3.NewLegacyKeccak256()
		h.Write(secret)
		copy(digest[:], h.Sum(nil))
	default:
		return false
	}

	return subtle.ConstantTimeCompare(digest[:], lock[:]) == 1
}

// Lock computes the hashlock for a secret under algo. Used by maker-side
// tooling and tests; returns the zero hash for an unknown algorithm.
func Lock(secret []byte, algo agreement.HashAlgo) ethcommon.Hash {
	switch algo {
	case agreement.HashAlgoSha256:
		return ethcommon.Hash(sha256.Sum256(secret))
	case agreement.HashAlgoKeccak256:
		h := sha3.NewLegacyKeccak256()
		h.Write(secret)
		return ethcommon.BytesToHash(h.Sum(nil))
	default:
		return ethcommon.Hash{}
	}
}
