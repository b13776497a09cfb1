package state

import (
	"database/sql"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/common"
	logger "github.com/sirupsen/logrus"
)

// RandOrder builds a plausible order in the given status for tests.
func RandOrder(status OrderStatus) *SwapOrder {
	now := time.Now().Unix()
	o := &SwapOrder{
		OrderId:        common.RandBytes32(),
		Direction:      DirectionSourceToDest,
		SourceChain:    agreement.ChainTag("evm"),
		DestChain:      agreement.ChainTag("aptos"),
		SourceLockId:   "0x" + hex.EncodeToString(common.RandBytes(32)),
		Hashlock:       common.RandBytes32(),
		HashAlgo:       agreement.HashAlgoSha256,
		AmountSource:   big.NewInt(100),
		TimelockSource: now + 7200,
		Recipient:      "0x" + hex.EncodeToString(common.RandBytes(32)),
		SourceAsset:    "ETH",
		DestAsset:      "APT",
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if status != OrderStatusDetected {
		o.DestLockId = "0x" + hex.EncodeToString(common.RandBytes(32))
		o.AmountDest = big.NewInt(95)
		o.TimelockDest = now + 3600
	}
	if status == OrderStatusSecretRevealed || status == OrderStatusClaimed ||
		status == OrderStatusCompleted {
		o.Secret = common.RandBytes(32)
	}

	return o
}

func getMemoryDB() *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		logger.Fatal(err)
	}
	// each pooled connection would get its own in-memory database
	db.SetMaxOpenConns(1)
	return db
}
