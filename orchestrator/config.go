package orchestrator

import (
	"time"

	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/retry"
)

// ChainSpec describes the per-chain parameters the orchestrator needs
// beyond what the adapter exposes.
type ChainSpec struct {
	Asset    string             // asset symbol for rate quoting
	HashAlgo agreement.HashAlgo // digest the chain's escrow contract commits with
}

type Config struct {
	// Role assignment: an escrow first seen on SourceChain opens a
	// SOURCE_TO_DEST order, one first seen on DestChain the symmetric
	// DEST_TO_SOURCE order.
	SourceChain agreement.ChainTag
	DestChain   agreement.ChainTag

	Chains map[agreement.ChainTag]ChainSpec

	// SafetyMargin separates the mirrored escrow's timelock from the
	// source timelock, so the responder can always claim before the
	// initiator's refund window opens.
	SafetyMargin time.Duration

	// AutoMirror mirrors a detected escrow immediately at the quoted
	// rate. Disabled when the bid engine decides amounts instead.
	AutoMirror bool

	SubmitTimeout time.Duration // deadline per outbound ledger call
	RetryPolicy   retry.Policy
	ChannelSize   int
}

func (cfg *Config) withDefaults() *Config {
	if cfg.ChannelSize == 0 {
		cfg.ChannelSize = 16
	}
	if cfg.SubmitTimeout == 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	if cfg.SafetyMargin == 0 {
		cfg.SafetyMargin = 30 * time.Minute
	}
	if cfg.RetryPolicy.Attempts == 0 {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}
	return cfg
}

// counterChain returns the other chain of the pair.
func (cfg *Config) counterChain(chain agreement.ChainTag) agreement.ChainTag {
	if chain == cfg.SourceChain {
		return cfg.DestChain
	}
	return cfg.SourceChain
}
