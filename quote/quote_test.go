package quote

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	q, err := NewFixedQuoter(map[string]Rate{
		"ETH/APT": {Num: 95, Den: 100},
		"APT/ETH": {Num: 100, Den: 95},
	})
	require.NoError(t, err)

	out, err := q.Quote(big.NewInt(1_000_000), "ETH", "APT")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(950_000), out)

	// integer math truncates toward zero
	out, err = q.Quote(big.NewInt(3), "ETH", "APT")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2), out)

	_, err = q.Quote(big.NewInt(1), "ETH", "BTC")
	assert.ErrorIs(t, err, ErrNoRate)
}

func TestNewFixedQuoterRejectsBadRate(t *testing.T) {
	_, err := NewFixedQuoter(map[string]Rate{"ETH/APT": {Num: 0, Den: 100}})
	assert.Error(t, err)

	_, err = NewFixedQuoter(map[string]Rate{"ETH/APT": {Num: 1, Den: -1}})
	assert.Error(t, err)
}
