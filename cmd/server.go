// Server = evm_side adapter + aptos_side adapter + db/state +
// orchestrator + watchers + sweeper + bid engine + http reporter + ws hub.
// All components are configured via environment variables (strings!).

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aptos-labs/aptos-go-sdk"
	aptoscrypto "github.com/aptos-labs/aptos-go-sdk/crypto"
	logger "github.com/sirupsen/logrus"

	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/aptosman"
	"github.com/fusionswap/orchestrator-go/bidengine"
	"github.com/fusionswap/orchestrator-go/chainsync"
	"github.com/fusionswap/orchestrator-go/database"
	"github.com/fusionswap/orchestrator-go/evmman"
	"github.com/fusionswap/orchestrator-go/orchestrator"
	"github.com/fusionswap/orchestrator-go/quote"
	"github.com/fusionswap/orchestrator-go/registry"
	"github.com/fusionswap/orchestrator-go/reporter"
	"github.com/fusionswap/orchestrator-go/retry"
	"github.com/fusionswap/orchestrator-go/state"
	"github.com/fusionswap/orchestrator-go/sweeper"
	"github.com/fusionswap/orchestrator-go/ws"
)

// Default params for server.
// More often we don't recommend users to tweak those.
// So we list them here.
const (
	// watcher config
	evmPollInterval   = 5 * time.Second
	aptosPollInterval = 2 * time.Second

	// sweeper config
	sweepInterval     = 30 * time.Second
	terminalRetention = 24 * time.Hour

	// orchestrator config
	safetyMargin  = 30 * time.Minute
	submitTimeout = 30 * time.Second

	CHANNEL_BUFFER_SIZE = 16
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type SwapServerConfig struct {
	// evm side
	EvmRpcUrl          string // json rpc url
	EvmEscrowAddr      string // deployed HTLC escrow contract address
	EvmPrivKey         string // private key of the orchestrator controlled account
	EvmChainId         int64  // EIP-155 chain id
	EvmForceScanCursor int64  // rescan from this block, -1 to honor the value in statedb
	EvmConfirmations   uint64 // blocks behind tip considered final

	// aptos side
	AptosModuleAddr      string // publisher address of the escrow Move module
	AptosNetwork         string // mainnet, testnet, devnet
	AptosPrivKey         string // ed25519 private key hex
	AptosForceScanCursor int64  // rescan from this version, -1 to honor the value in statedb
	AptosConfirmations   uint64 // versions behind tip considered final

	// state side
	DbFilePath string // db file path

	// rate quoting
	SourceAsset string // eg. ETH
	DestAsset   string // eg. APT
	RateNum     int64  // SourceAsset -> DestAsset numerator
	RateDen     int64  // SourceAsset -> DestAsset denominator

	// bidding
	AutoMirror    bool     // mirror at the quoted rate instead of opening bids
	Resolvers     []string // resolver identities allowed to bid
	BiddingWindow time.Duration
	MinProfit     string // decimal string, minimum net a bid must clear

	// http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080
	WsPort   string // eg. 8081, resolver announcement hub
}

// SwapServer holds the objects that consists of the swap orchestration
// server.
type SwapServer struct {
	// ledger adapters
	MyEvmman   *evmman.Evmman
	MyAptosman *aptosman.Aptosman

	// shared state
	MyStateDb *state.StateDB

	// pipeline
	MyOrchestrator *orchestrator.Orchestrator
	MyEvmWatcher   *chainsync.Watcher
	MyAptosWatcher *chainsync.Watcher
	MySweeper      *sweeper.Sweeper
	MyBidEngine    *bidengine.Engine

	// surfaces
	MyReporter *reporter.HttpReporter
	MyWsServer *ws.WSServer
}

// NewSwapServer creates the server and starts every component loop.
// ctx is the parental context that cancels the whole server.
// wg waits for all the goroutines inside the server (orchestrator,
// watchers, sweeper, bid engine) to finish.
func NewSwapServer(ssc *SwapServerConfig, ctx context.Context, wg *sync.WaitGroup) (*SwapServer, error) {
	// 0) open the order store
	sqldb, err := database.Open(ssc.DbFilePath)
	if err != nil {
		logger.Fatalf("failed to open db file: %v", err)
		return nil, err
	}

	myStateDb, err := state.NewStateDB(sqldb)
	if err != nil {
		logger.Fatalf("failed to create state db: %v", err)
		return nil, err
	}

	// 1) evm side adapter
	myEvmman, err := evmman.NewEvmman(&evmman.Config{
		URL:                   ssc.EvmRpcUrl,
		EscrowContractAddress: ssc.EvmEscrowAddr,
		PrivateKey:            ssc.EvmPrivKey,
		ChainID:               ssc.EvmChainId,
		ChainTag:              agreement.ChainTag("evm"),
	})
	if err != nil {
		logger.Fatalf("failed to create evm adapter: %v", err)
		return nil, err
	}

	// 2) aptos side adapter
	aptosAccount, err := aptosAccountFromPrivateKey(ssc.AptosPrivKey)
	if err != nil {
		logger.Fatalf("failed to create aptos account: %v", err)
		return nil, err
	}
	myAptosman, err := aptosman.NewAptosman(&aptosman.Config{
		ModuleAddress: ssc.AptosModuleAddr,
		Network:       ssc.AptosNetwork,
		ChainTag:      agreement.ChainTag("aptos"),
	}, aptosAccount)
	if err != nil {
		logger.Fatalf("failed to create aptos adapter: %v", err)
		return nil, err
	}

	// 3) fixed-rate quoter, both directions of the pair
	myQuoter, err := quote.NewFixedQuoter(map[string]quote.Rate{
		ssc.SourceAsset + "/" + ssc.DestAsset: {Num: ssc.RateNum, Den: ssc.RateDen},
		ssc.DestAsset + "/" + ssc.SourceAsset: {Num: ssc.RateDen, Den: ssc.RateNum},
	})
	if err != nil {
		logger.Fatalf("failed to create quoter: %v", err)
		return nil, err
	}

	// 4) the orchestrator, heart of the state machine
	myOrchestrator, err := orchestrator.New(
		&orchestrator.Config{
			SourceChain: myEvmman.Chain(),
			DestChain:   myAptosman.Chain(),
			Chains: map[agreement.ChainTag]orchestrator.ChainSpec{
				myEvmman.Chain():   {Asset: ssc.SourceAsset, HashAlgo: agreement.HashAlgoKeccak256},
				myAptosman.Chain(): {Asset: ssc.DestAsset, HashAlgo: agreement.HashAlgoSha256},
			},
			SafetyMargin:  safetyMargin,
			AutoMirror:    ssc.AutoMirror,
			SubmitTimeout: submitTimeout,
			ChannelSize:   CHANNEL_BUFFER_SIZE,
		},
		myStateDb,
		[]agreement.LedgerAdapter{myEvmman, myAptosman},
		myQuoter,
	)
	if err != nil {
		logger.Fatalf("failed to create orchestrator: %v", err)
		return nil, err
	}

	// 5) resolver surfaces: ws hub + bid engine
	myWsServer := ws.NewWSServer()

	minProfit := big.NewInt(0)
	if ssc.MinProfit != "" {
		if _, ok := minProfit.SetString(ssc.MinProfit, 10); !ok {
			logger.Fatalf("invalid min profit: %s", ssc.MinProfit)
			return nil, fmt.Errorf("invalid min profit: %s", ssc.MinProfit)
		}
	}
	myBidEngine := bidengine.New(
		&bidengine.Config{
			BiddingWindow: ssc.BiddingWindow,
			MinProfit:     minProfit,
			ChannelSize:   CHANNEL_BUFFER_SIZE,
		},
		myStateDb,
		myOrchestrator,
		registry.NewStaticRegistry(ssc.Resolvers),
		myWsServer,
	)
	if !ssc.AutoMirror {
		myOrchestrator.SetOrderOpener(myBidEngine)
	}

	// 6) per-chain watchers feeding the orchestrator's sink
	myEvmWatcher, err := chainsync.NewWatcher(
		&chainsync.WatcherConfig{
			PollInterval:      evmPollInterval,
			ConfirmationDepth: ssc.EvmConfirmations,
			ForceScanCursor:   ssc.EvmForceScanCursor,
			RetryPolicy:       retry.DefaultPolicy(),
		},
		myEvmman,
		myOrchestrator,
		myStateDb,
	)
	if err != nil {
		logger.Fatalf("failed to create evm watcher: %v", err)
		return nil, err
	}
	myAptosWatcher, err := chainsync.NewWatcher(
		&chainsync.WatcherConfig{
			PollInterval:      aptosPollInterval,
			ConfirmationDepth: ssc.AptosConfirmations,
			ForceScanCursor:   ssc.AptosForceScanCursor,
			RetryPolicy:       retry.DefaultPolicy(),
		},
		myAptosman,
		myOrchestrator,
		myStateDb,
	)
	if err != nil {
		logger.Fatalf("failed to create aptos watcher: %v", err)
		return nil, err
	}

	// 7) timeout sweeper
	mySweeper := sweeper.New(
		&sweeper.Config{Interval: sweepInterval, Retention: terminalRetention},
		myStateDb,
		myOrchestrator,
	)

	// Resume in-flight orders before any loop sees fresh events.
	if err := myOrchestrator.Recover(ctx); err != nil {
		logger.Fatalf("failed to recover in-flight orders: %v", err)
		return nil, err
	}

	// Important: turn on the component loops!
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := myOrchestrator.Start(ctx); err != nil && err != context.Canceled {
			logger.Fatalf("orchestrator stopped: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := myEvmWatcher.Loop(ctx); err != nil && err != context.Canceled {
			logger.Fatalf("evm watcher stopped: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := myAptosWatcher.Loop(ctx); err != nil && err != context.Canceled {
			logger.Fatalf("aptos watcher stopped: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mySweeper.Loop(ctx); err != nil && err != context.Canceled {
			logger.Fatalf("sweeper stopped: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := myBidEngine.Loop(ctx); err != nil && err != context.Canceled {
			logger.Fatalf("bid engine stopped: %v", err)
		}
	}()
	// Don't forget to call wg.Wait() in the main routine.

	// *** Setup a http server to report status and accept bids ***
	myReporter := reporter.NewHttpReporter(
		ssc.HttpIp,
		ssc.HttpPort,
		myStateDb,
		myBidEngine,
		myOrchestrator,
	)
	// Turn on the http server
	go myReporter.Run()

	// *** Setup the resolver websocket hub ***
	go func() {
		addr := ssc.HttpIp + ":" + ssc.WsPort
		logger.WithField("addr", addr).Info("resolver ws hub listening")
		if err := http.ListenAndServe(addr, myWsServer.Serve()); err != nil {
			logger.Errorf("ws hub stopped: %v", err)
		}
	}()

	// Give it some time to start the http servers
	time.Sleep(1 * time.Second)

	return &SwapServer{
		MyEvmman:       myEvmman,
		MyAptosman:     myAptosman,
		MyStateDb:      myStateDb,
		MyOrchestrator: myOrchestrator,
		MyEvmWatcher:   myEvmWatcher,
		MyAptosWatcher: myAptosWatcher,
		MySweeper:      mySweeper,
		MyBidEngine:    myBidEngine,
		MyReporter:     myReporter,
		MyWsServer:     myWsServer,
	}, nil
}

// Create, then start the swap server and wait.
// Press Ctrl-C to kill the server.
func StartSwapServerAndWait(ssc *SwapServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up a signal channel to listen for Ctrl-C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal: %v, cancelling context...\n", sig)
		cancel()
	}()

	var wg sync.WaitGroup

	server, err := NewSwapServer(ssc, ctx, &wg)
	if err != nil {
		logger.Fatalf("failed to create swap server: %v", err)
		return
	}

	// wait for all routines to finish
	wg.Wait()
	server.MyWsServer.Close()
	server.MyStateDb.Close()
}

// FileExists checks if a file exists and is readable.
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

func aptosAccountFromPrivateKey(privateKeyHex string) (*aptos.Account, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	privateKeyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	key := aptoscrypto.Ed25519PrivateKey{}
	if err := key.FromBytes(privateKeyBytes); err != nil {
		return nil, fmt.Errorf("failed to create ed25519 private key: %v", err)
	}

	return aptos.NewAccountFromSigner(&key)
}
