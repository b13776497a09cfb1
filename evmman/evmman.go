// EVM ledger adapter. Talks to a hashlock escrow contract over an
// ethclient connection: lock/claim/refund transactions out, filtered
// event logs in. Block numbers are the cursor.
package evmman

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/fusionswap/orchestrator-go/agreement"
)

var (
	// Events
	EscrowCreatedSignatureHash  = crypto.Keccak256Hash([]byte("EscrowCreated(bytes32,bytes32,address,uint256,uint256)"))
	SecretRevealedSignatureHash = crypto.Keccak256Hash([]byte("SecretRevealed(bytes32,bytes)"))
)

const escrowABI = `[
	{"type":"function","name":"lock","inputs":[
		{"name":"hashlock","type":"bytes32"},
		{"name":"recipient","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"timelock","type":"uint256"}]},
	{"type":"function","name":"claim","inputs":[
		{"name":"lockId","type":"bytes32"},
		{"name":"secret","type":"bytes"}]},
	{"type":"function","name":"refund","inputs":[
		{"name":"lockId","type":"bytes32"}]},
	{"type":"event","name":"EscrowCreated","inputs":[
		{"name":"lockId","type":"bytes32","indexed":true},
		{"name":"hashlock","type":"bytes32"},
		{"name":"recipient","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"timelock","type":"uint256"}]},
	{"type":"event","name":"SecretRevealed","inputs":[
		{"name":"lockId","type":"bytes32","indexed":true},
		{"name":"secret","type":"bytes"}]}
]`

type ethereumClient interface {
	ethereum.ChainReader
	ethereum.ChainStateReader
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.LogFilterer
	ethereum.TransactionReader
	ethereum.TransactionSender

	bind.DeployBackend
	bind.ContractBackend
}

type Evmman struct {
	chain         agreement.ChainTag
	ethClient     ethereumClient
	escrowAddress ethcommon.Address
	escrowABI     abi.ABI
	contract      *bind.BoundContract
	auth          *bind.TransactOpts
	sender        ethcommon.Address
}

func NewEvmman(cfg *Config) (*Evmman, error) {
	ethClient, err := ethclient.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, err
	}

	sk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, err
	}
	auth, err := bind.NewKeyedTransactorWithChainID(sk, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, err
	}

	escrowAddress := ethcommon.HexToAddress(cfg.EscrowContractAddress)

	return &Evmman{
		chain:         cfg.ChainTag,
		ethClient:     ethClient,
		escrowAddress: escrowAddress,
		escrowABI:     parsed,
		contract:      bind.NewBoundContract(escrowAddress, parsed, ethClient, ethClient, ethClient),
		auth:          auth,
		sender:        crypto.PubkeyToAddress(sk.PublicKey),
	}, nil
}

func (em *Evmman) Chain() agreement.ChainTag {
	return em.chain
}

func (em *Evmman) SubmitEscrow(
	ctx context.Context,
	hashlock ethcommon.Hash,
	amount *big.Int,
	timelock int64,
	recipient string,
) (string, error) {
	if !ethcommon.IsHexAddress(recipient) {
		return "", agreement.ErrInvalidRecipient
	}
	receiver := ethcommon.HexToAddress(recipient)

	opts := *em.auth
	opts.Context = ctx
	_, err := em.contract.Transact(&opts, "lock", hashlock, receiver, amount, big.NewInt(timelock))
	if err != nil {
		return "", err
	}

	return ComputeLockId(em.sender, receiver, amount, hashlock, timelock).Hex(), nil
}

func (em *Evmman) SubmitClaim(ctx context.Context, lockId string, secret []byte) (string, error) {
	opts := *em.auth
	opts.Context = ctx
	tx, err := em.contract.Transact(&opts, "claim", ethcommon.HexToHash(lockId), secret)
	if err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

func (em *Evmman) SubmitRefund(ctx context.Context, lockId string) (string, error) {
	opts := *em.auth
	opts.Context = ctx
	tx, err := em.contract.Transact(&opts, "refund", ethcommon.HexToHash(lockId))
	if err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

func (em *Evmman) GetEvents(ctx context.Context, from, to uint64) (
	[]*agreement.EscrowCreatedEvent,
	[]*agreement.SecretRevealedEvent,
	error,
) {
	logs, err := em.ethClient.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []ethcommon.Address{em.escrowAddress},
	})
	if err != nil {
		return nil, nil, err
	}

	var escrows []*agreement.EscrowCreatedEvent
	var reveals []*agreement.SecretRevealedEvent
	for _, vlog := range logs {
		switch vlog.Topics[0] {
		case EscrowCreatedSignatureHash:
			ev, err := em.decodeEscrowCreated(&vlog)
			if err != nil {
				return nil, nil, err
			}
			escrows = append(escrows, ev)
		case SecretRevealedSignatureHash:
			ev, err := em.decodeSecretRevealed(&vlog)
			if err != nil {
				return nil, nil, err
			}
			reveals = append(reveals, ev)
		default:
			return nil, nil, fmt.Errorf("unknown event: %+v", vlog.Topics[0])
		}
	}
	return escrows, reveals, nil
}

func (em *Evmman) TipCursor(ctx context.Context) (uint64, error) {
	header, err := em.ethClient.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	return header.Number.Uint64(), nil
}

func (em *Evmman) ConfirmationsOf(ctx context.Context, txRef string) (uint64, error) {
	receipt, err := em.ethClient.TransactionReceipt(ctx, ethcommon.HexToHash(txRef))
	if err == ethereum.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	tip, err := em.TipCursor(ctx)
	if err != nil {
		return 0, err
	}
	included := receipt.BlockNumber.Uint64()
	if tip < included {
		return 0, nil
	}
	return tip - included + 1, nil
}

func (em *Evmman) decodeEscrowCreated(vlog *types.Log) (*agreement.EscrowCreatedEvent, error) {
	raw := new(escrowCreatedLog)
	if err := em.escrowABI.UnpackIntoInterface(raw, "EscrowCreated", vlog.Data); err != nil {
		return nil, err
	}

	return &agreement.EscrowCreatedEvent{
		Chain:     em.chain,
		LockId:    vlog.Topics[1].Hex(),
		Cursor:    vlog.BlockNumber,
		Hashlock:  ethcommon.Hash(raw.Hashlock),
		Amount:    raw.Amount,
		Timelock:  raw.Timelock.Int64(),
		Recipient: raw.Recipient.Hex(),
	}, nil
}

func (em *Evmman) decodeSecretRevealed(vlog *types.Log) (*agreement.SecretRevealedEvent, error) {
	raw := new(secretRevealedLog)
	if err := em.escrowABI.UnpackIntoInterface(raw, "SecretRevealed", vlog.Data); err != nil {
		return nil, err
	}

	return &agreement.SecretRevealedEvent{
		Chain:  em.chain,
		LockId: vlog.Topics[1].Hex(),
		Cursor: vlog.BlockNumber,
		Secret: raw.Secret,
	}, nil
}

// ComputeLockId reproduces the contract's lock identifier, the keccak
// of the packed lock parameters.
func ComputeLockId(
	sender, recipient ethcommon.Address,
	amount *big.Int,
	hashlock ethcommon.Hash,
	timelock int64,
) ethcommon.Hash {
	var packed []byte
	packed = append(packed, sender.Bytes()...)
	packed = append(packed, recipient.Bytes()...)
	packed = append(packed, math.U256Bytes(new(big.Int).Set(amount))...)
	packed = append(packed, hashlock.Bytes()...)
	packed = append(packed, math.U256Bytes(big.NewInt(timelock))...)
	return crypto.Keccak256Hash(packed)
}
