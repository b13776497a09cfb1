package state

import (
	"database/sql"
	"math/big"

	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/common"
)

// sqlOrder mirrors a swap_order row. Hashes and the secret are stored as
// hex strings without the 0x prefix; amounts as decimal strings so they
// survive values past 64 bits.
type sqlOrder struct {
	OrderId        string
	Direction      string
	SourceChain    string
	DestChain      string
	SourceLockId   string
	DestLockId     sql.NullString
	Hashlock       string
	HashAlgo       string
	Secret         sql.NullString
	AmountSource   string
	AmountDest     sql.NullString
	TimelockSource int64
	TimelockDest   sql.NullInt64
	Recipient      string
	SourceAsset    string
	DestAsset      string
	ClaimLockId    sql.NullString
	Status         string
	CreatedAt      int64
	UpdatedAt      int64
}

func (s *sqlOrder) encode(o *SwapOrder) (*sqlOrder, error) {
	if o.AmountSource == nil {
		return nil, ErrorAmountInvalid
	}

	s.OrderId = o.OrderId.String()[2:]
	s.Direction = string(o.Direction)
	s.SourceChain = string(o.SourceChain)
	s.DestChain = string(o.DestChain)
	s.SourceLockId = o.SourceLockId
	if o.DestLockId != "" {
		s.DestLockId = sql.NullString{String: o.DestLockId, Valid: true}
	}
	s.Hashlock = o.Hashlock.String()[2:]
	s.HashAlgo = string(o.HashAlgo)
	if len(o.Secret) != 0 {
		s.Secret = sql.NullString{String: common.ByteSliceToPureHexStr(o.Secret), Valid: true}
	}
	s.AmountSource = o.AmountSource.String()
	if o.AmountDest != nil {
		s.AmountDest = sql.NullString{String: o.AmountDest.String(), Valid: true}
	}
	s.TimelockSource = o.TimelockSource
	if o.TimelockDest != 0 {
		s.TimelockDest = sql.NullInt64{Int64: o.TimelockDest, Valid: true}
	}
	s.Recipient = o.Recipient
	s.SourceAsset = o.SourceAsset
	s.DestAsset = o.DestAsset
	if o.ClaimLockId != "" {
		s.ClaimLockId = sql.NullString{String: o.ClaimLockId, Valid: true}
	}
	s.Status = string(o.Status)
	s.CreatedAt = o.CreatedAt
	s.UpdatedAt = o.UpdatedAt

	return s, nil
}

func (s *sqlOrder) decode() (*SwapOrder, error) {
	amountSource, ok := new(big.Int).SetString(s.AmountSource, 10)
	if !ok {
		return nil, ErrorAmountInvalid
	}

	o := &SwapOrder{
		OrderId:        common.HexStrToHash("0x" + s.OrderId),
		Direction:      Direction(s.Direction),
		SourceChain:    agreement.ChainTag(s.SourceChain),
		DestChain:      agreement.ChainTag(s.DestChain),
		SourceLockId:   s.SourceLockId,
		Hashlock:       common.HexStrToHash("0x" + s.Hashlock),
		HashAlgo:       agreement.HashAlgo(s.HashAlgo),
		AmountSource:   amountSource,
		TimelockSource: s.TimelockSource,
		Recipient:      s.Recipient,
		SourceAsset:    s.SourceAsset,
		DestAsset:      s.DestAsset,
		Status:         OrderStatus(s.Status),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}

	if s.DestLockId.Valid {
		o.DestLockId = s.DestLockId.String
	}
	if s.Secret.Valid && s.Secret.String != "" {
		o.Secret = common.HexStrToByteSlice(s.Secret.String)
	}
	if s.AmountDest.Valid {
		amountDest, ok := new(big.Int).SetString(s.AmountDest.String, 10)
		if !ok {
			return nil, ErrorAmountInvalid
		}
		o.AmountDest = amountDest
	}
	if s.TimelockDest.Valid {
		o.TimelockDest = s.TimelockDest.Int64
	}
	if s.ClaimLockId.Valid {
		o.ClaimLockId = s.ClaimLockId.String
	}

	return o, nil
}

func (s *sqlOrder) scanArgs() []interface{} {
	return []interface{}{
		&s.OrderId, &s.Direction, &s.SourceChain, &s.DestChain, &s.SourceLockId, &s.DestLockId,
		&s.Hashlock, &s.HashAlgo, &s.Secret, &s.AmountSource, &s.AmountDest, &s.TimelockSource,
		&s.TimelockDest, &s.Recipient, &s.SourceAsset, &s.DestAsset, &s.ClaimLockId, &s.Status,
		&s.CreatedAt, &s.UpdatedAt,
	}
}

func (s *sqlOrder) execArgs() []interface{} {
	return []interface{}{
		s.OrderId, s.Direction, s.SourceChain, s.DestChain, s.SourceLockId, s.DestLockId,
		s.Hashlock, s.HashAlgo, s.Secret, s.AmountSource, s.AmountDest, s.TimelockSource,
		s.TimelockDest, s.Recipient, s.SourceAsset, s.DestAsset, s.ClaimLockId, s.Status,
		s.CreatedAt, s.UpdatedAt,
	}
}
