package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yolodolo42/walletsig/internal/config"
	"github.com/yolodolo42/walletsig/internal/setup"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "walletsig",
		Short: "Wallet session and message signing tool",
		Long: `walletsig connects to a wallet backed by a local keystore and an
Ethereum JSON-RPC endpoint, shows the active account, balance, network and
ENS identity, and signs or verifies personal messages (EIP-191).

Run without arguments for the interactive session card.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if setup.NeedsSetup(cfg.DataDir, cfg.RPCURLs) {
				if !setup.IsInteractive() {
					setup.PrintEnvInstructions()
					return fmt.Errorf("setup required: run walletsig interactively or set environment variables")
				}

				result, err := setup.RunWizard(cfg.DataDir, cfg.RPCURLs)
				if err != nil {
					return fmt.Errorf("setup failed: %w", err)
				}
				if result == nil || result.Cancelled {
					return nil
				}

				// The wizard may have written an endpoint to the config file.
				_ = viper.ReadInConfig()
				if cfg, err = loadConfig(); err != nil {
					return err
				}
			}

			return RunREPL(cfg)
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.walletsig/config.yaml)")
	flags.String("data-dir", "", "directory holding the keystore and session journals")
	flags.StringSlice("rpc-url", nil, "Ethereum JSON-RPC endpoint (repeat for fallbacks)")
	flags.String("account", "", "account to make active when connecting")
	flags.String("log-level", config.DefaultLog, "log level (trace, debug, info, warn, error)")

	_ = viper.BindPFlag(config.KeyDataDir, flags.Lookup("data-dir"))
	_ = viper.BindPFlag(config.KeyRPCURLs, flags.Lookup("rpc-url"))
	_ = viper.BindPFlag(config.KeyAccount, flags.Lookup("account"))
	_ = viper.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
}

func initConfig() {
	dataDir, err := config.DefaultDataDir()
	cobra.CheckErr(err)
	config.SetDefaults(viper.GetViper(), dataDir)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config directory: %v\n", err)
		}

		viper.AddConfigPath(dataDir)
		viper.AddConfigPath(".")
		viper.SetConfigType(config.FileType)
		viper.SetConfigName(config.FileName)
	}

	// Silently ignore missing config file - it's optional
	_ = viper.ReadInConfig()
}

// loadConfig decodes the global viper state.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}
