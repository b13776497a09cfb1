package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/fusionswap/orchestrator-go/cmd"
	"github.com/fusionswap/orchestrator-go/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "SWAP_CONFIG"
)

func main() {
	// Tool to read environment variables
	viper.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	fmt.Printf("Swap server configuration file = %s\n", _config_file)

	// See if file exists
	if !cmd.FileExists(_config_file) {
		fmt.Printf("Swap server configuration file not found: %s\n", _config_file)
		return
	}

	// Read from config file.
	success := initializeViper(_config_file)
	if !success {
		return
	}

	logconfig.ConfigLoggerByName(viper.GetString("LOG_LEVEL"))

	// Make the configuration
	ssc := PrepareSwapServerConfig()
	if ssc == nil {
		fmt.Printf("Error loading swap server configuration\n")
		return
	}

	fmt.Println("Starting swap server... press Ctrl+C to kill the server")
	// Start server and block.
	cmd.StartSwapServerAndWait(ssc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s", err)
		return false
	}
	return true
}

// PrepareSwapServerConfig reads configuration variables and returns a
// SwapServerConfig.
func PrepareSwapServerConfig() *cmd.SwapServerConfig {
	// *** prepare values that aren't plain strings ***

	viper.SetDefault("EVM_FORCE_SCAN_CURSOR", -1)
	viper.SetDefault("APTOS_FORCE_SCAN_CURSOR", -1)
	viper.SetDefault("EVM_CONFIRMATIONS", 2)
	viper.SetDefault("APTOS_CONFIRMATIONS", 0)
	viper.SetDefault("RATE_NUM", 1)
	viper.SetDefault("RATE_DEN", 1)
	viper.SetDefault("BIDDING_WINDOW_SECONDS", 120)

	biddingWindow := time.Duration(viper.GetInt64("BIDDING_WINDOW_SECONDS")) * time.Second

	// *** end of preparing values ***

	return &cmd.SwapServerConfig{
		// evm side
		EvmRpcUrl:          viper.GetString("EVM_RPC_URL"),
		EvmEscrowAddr:      viper.GetString("EVM_ESCROW_CONTRACT_ADDR"),
		EvmPrivKey:         viper.GetString("EVM_CORE_ACCOUNT_PRIV"),
		EvmChainId:         viper.GetInt64("EVM_CHAIN_ID"),
		EvmForceScanCursor: viper.GetInt64("EVM_FORCE_SCAN_CURSOR"),
		EvmConfirmations:   viper.GetUint64("EVM_CONFIRMATIONS"),
		// aptos side
		AptosModuleAddr:      viper.GetString("APTOS_MODULE_ADDR"),
		AptosNetwork:         viper.GetString("APTOS_NETWORK"),
		AptosPrivKey:         viper.GetString("APTOS_CORE_ACCOUNT_PRIV"),
		AptosForceScanCursor: viper.GetInt64("APTOS_FORCE_SCAN_CURSOR"),
		AptosConfirmations:   viper.GetUint64("APTOS_CONFIRMATIONS"),
		// state side
		DbFilePath: viper.GetString("DB_FILE_PATH"),
		// rate quoting
		SourceAsset: viper.GetString("SOURCE_ASSET"),
		DestAsset:   viper.GetString("DEST_ASSET"),
		RateNum:     viper.GetInt64("RATE_NUM"),
		RateDen:     viper.GetInt64("RATE_DEN"),
		// bidding
		AutoMirror:    viper.GetBool("AUTO_MIRROR"),
		Resolvers:     viper.GetStringSlice("RESOLVERS"),
		BiddingWindow: biddingWindow,
		MinProfit:     viper.GetString("MIN_PROFIT"),
		// http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),
		WsPort:   viper.GetString("WS_PORT"),
	}
}
