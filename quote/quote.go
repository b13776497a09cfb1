// Fixed-rate quoting. Rates are a static table of asset pairs loaded
// from configuration; destination amounts are amountSource * Num / Den
// in integer math.
package quote

import (
	"errors"
	"fmt"
	"math/big"
)

var ErrNoRate = errors.New("no rate configured for asset pair")

// Rate is a rational conversion factor from one asset to another.
type Rate struct {
	Num int64
	Den int64
}

type FixedQuoter struct {
	rates map[string]Rate
}

// NewFixedQuoter builds a quoter from a pair table keyed "SRC/DST".
func NewFixedQuoter(rates map[string]Rate) (*FixedQuoter, error) {
	for pair, r := range rates {
		if r.Num <= 0 || r.Den <= 0 {
			return nil, fmt.Errorf("invalid rate for pair %s: %d/%d", pair, r.Num, r.Den)
		}
	}
	return &FixedQuoter{rates: rates}, nil
}

func (q *FixedQuoter) Quote(sourceAmount *big.Int, sourceAsset, destAsset string) (*big.Int, error) {
	r, ok := q.rates[pairKey(sourceAsset, destAsset)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRate, pairKey(sourceAsset, destAsset))
	}

	out := new(big.Int).Mul(sourceAmount, big.NewInt(r.Num))
	return out.Quo(out, big.NewInt(r.Den)), nil
}

func pairKey(src, dst string) string {
	return src + "/" + dst
}
