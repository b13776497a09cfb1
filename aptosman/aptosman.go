// Aptos ledger adapter. Drives the hashlock escrow Move module through
// entry-function transactions (bcs-serialized args) and reads its event
// handles over the fullnode REST API. The ledger version is the cursor.
package aptosman

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/bcs"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/fusionswap/orchestrator-go/agreement"
)

const (
	escrowModuleName = "htlc_escrow"

	escrowCreatedField  = "escrow_created_events"
	secretRevealedField = "secret_revealed_events"
)

type Aptosman struct {
	chain         agreement.ChainTag
	aptosClient   *aptos.Client
	cfg           *Config
	account       *aptos.Account
	moduleAddress aptos.AccountAddress
	baseURL       string
	mu            sync.Mutex

	seqMu    sync.Mutex
	seqStart map[string]uint64 // event handle field -> first sequence still needed
}

func NewAptosman(cfg *Config, account *aptos.Account) (*Aptosman, error) {
	baseURL, networkConfig := GetNetworkConfig(cfg.Network)
	aptosClient, err := aptos.NewClient(networkConfig)
	if err != nil {
		logger.WithField("network", cfg.Network).Errorf("failed to create aptos client: %v", err)
		return nil, err
	}

	moduleAddress := aptos.AccountAddress{}
	if err := moduleAddress.ParseStringRelaxed(cfg.ModuleAddress); err != nil {
		logger.Errorf("failed to parse module address: %v", err)
		return nil, err
	}

	if _, err := aptosClient.AccountResources(moduleAddress); err != nil {
		logger.Errorf("failed to fetch module resources: %v", err)
		return nil, err
	}

	return &Aptosman{
		chain:         cfg.ChainTag,
		aptosClient:   aptosClient,
		cfg:           cfg,
		account:       account,
		moduleAddress: moduleAddress,
		baseURL:       baseURL,
	}, nil
}

func (aptman *Aptosman) Chain() agreement.ChainTag {
	return aptman.chain
}

func (aptman *Aptosman) SubmitEscrow(
	ctx context.Context,
	hashlock ethcommon.Hash,
	amount *big.Int,
	timelock int64,
	recipient string,
) (string, error) {
	aptman.mu.Lock()
	defer aptman.mu.Unlock()

	recipientAddr := aptos.AccountAddress{}
	if err := recipientAddr.ParseStringRelaxed(recipient); err != nil {
		return "", agreement.ErrInvalidRecipient
	}
	if !amount.IsUint64() {
		return "", fmt.Errorf("amount %s does not fit u64", amount)
	}

	recipientBytes, err := bcs.Serialize(&recipientAddr)
	if err != nil {
		return "", fmt.Errorf("failed to serialize recipient: %v", err)
	}
	amountBytes, err := bcs.SerializeU64(amount.Uint64())
	if err != nil {
		return "", fmt.Errorf("failed to serialize amount: %v", err)
	}
	timelockBytes, err := bcs.SerializeU64(uint64(timelock))
	if err != nil {
		return "", fmt.Errorf("failed to serialize timelock: %v", err)
	}

	payload := aptos.TransactionPayload{
		Payload: &aptos.EntryFunction{
			Module: aptos.ModuleId{
				Address: aptman.moduleAddress,
				Name:    escrowModuleName,
			},
			Function: "lock",
			ArgTypes: []aptos.TypeTag{},
			Args: [][]byte{
				serializeBytes(hashlock.Bytes()),
				recipientBytes,
				amountBytes,
				timelockBytes,
			},
		},
	}

	if _, err := aptman.submitAndWait(payload); err != nil {
		return "", err
	}

	return ComputeLockId(aptman.account.AccountAddress(), recipientAddr, amount.Uint64(), hashlock, timelock), nil
}

func (aptman *Aptosman) SubmitClaim(ctx context.Context, lockId string, secret []byte) (string, error) {
	aptman.mu.Lock()
	defer aptman.mu.Unlock()

	payload := aptos.TransactionPayload{
		Payload: &aptos.EntryFunction{
			Module: aptos.ModuleId{
				Address: aptman.moduleAddress,
				Name:    escrowModuleName,
			},
			Function: "claim",
			ArgTypes: []aptos.TypeTag{},
			Args: [][]byte{
				serializeBytes(hexToBytes(lockId)),
				serializeBytes(secret),
			},
		},
	}

	return aptman.submitAndWait(payload)
}

func (aptman *Aptosman) SubmitRefund(ctx context.Context, lockId string) (string, error) {
	aptman.mu.Lock()
	defer aptman.mu.Unlock()

	payload := aptos.TransactionPayload{
		Payload: &aptos.EntryFunction{
			Module: aptos.ModuleId{
				Address: aptman.moduleAddress,
				Name:    escrowModuleName,
			},
			Function: "refund",
			ArgTypes: []aptos.TypeTag{},
			Args: [][]byte{
				serializeBytes(hexToBytes(lockId)),
			},
		},
	}

	return aptman.submitAndWait(payload)
}

func (aptman *Aptosman) GetEvents(ctx context.Context, from, to uint64) (
	[]*agreement.EscrowCreatedEvent,
	[]*agreement.SecretRevealedEvent,
	error,
) {
	created, err := aptman.getHandleEvents(ctx, escrowCreatedField, from, to)
	if err != nil {
		logger.WithError(err).Error("failed to get escrow created events")
		return nil, nil, err
	}
	revealed, err := aptman.getHandleEvents(ctx, secretRevealedField, from, to)
	if err != nil {
		logger.WithError(err).Error("failed to get secret revealed events")
		return nil, nil, err
	}

	var escrows []*agreement.EscrowCreatedEvent
	for _, raw := range created {
		ev, err := parseEscrowCreated(aptman.chain, raw.data)
		if err != nil {
			logger.WithError(err).Warn("skipping malformed escrow created event")
			continue
		}
		ev.Cursor = raw.version
		escrows = append(escrows, ev)
	}

	var reveals []*agreement.SecretRevealedEvent
	for _, raw := range revealed {
		ev, err := parseSecretRevealed(aptman.chain, raw.data)
		if err != nil {
			logger.WithError(err).Warn("skipping malformed secret revealed event")
			continue
		}
		ev.Cursor = raw.version
		reveals = append(reveals, ev)
	}

	return escrows, reveals, nil
}

func (aptman *Aptosman) TipCursor(ctx context.Context) (uint64, error) {
	status, err := aptman.aptosClient.GetProcessorStatus("default_processor")
	if err != nil {
		logger.WithError(err).Error("failed to get aptos processor status")
		return 0, err
	}
	return status, nil
}

func (aptman *Aptosman) ConfirmationsOf(ctx context.Context, txRef string) (uint64, error) {
	txnInfo, err := aptman.aptosClient.TransactionByHash(txRef)
	if err != nil {
		return 0, nil
	}
	userTxn, err := txnInfo.UserTransaction()
	if err != nil {
		return 0, nil
	}

	tip, err := aptman.TipCursor(ctx)
	if err != nil {
		return 0, err
	}
	if tip < userTxn.Version {
		return 0, nil
	}
	return tip - userTxn.Version + 1, nil
}

func (aptman *Aptosman) submitAndWait(payload aptos.TransactionPayload) (string, error) {
	txn, err := aptman.aptosClient.BuildTransaction(aptman.account.AccountAddress(), payload)
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %v", err)
	}

	signedTxn, err := txn.SignedTransaction(aptman.account)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %v", err)
	}

	submitResult, err := aptman.aptosClient.SubmitTransaction(signedTxn)
	if err != nil {
		return "", classifyAbort(err)
	}

	if _, err := aptman.aptosClient.WaitForTransaction(submitResult.Hash); err != nil {
		return "", classifyAbort(err)
	}

	return submitResult.Hash, nil
}

// classifyAbort maps the escrow module's abort names onto the adapter
// error contract; anything unrecognized passes through.
func classifyAbort(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "E_ALREADY_SETTLED"):
		return agreement.ErrAlreadySettled
	case strings.Contains(msg, "E_LOCK_NOT_FOUND"):
		return agreement.ErrLockNotFound
	case strings.Contains(msg, "E_TIMELOCK_NOT_ELAPSED"):
		return agreement.ErrTimelockNotElapsed
	default:
		return err
	}
}
