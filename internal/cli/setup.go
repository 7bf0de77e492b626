package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yolodolo42/walletsig/internal/setup"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run the setup wizard",
	Long: `Run the interactive setup wizard to configure walletsig.

This command guides you through:
  - Choosing an Ethereum JSON-RPC endpoint
  - Creating or importing a keystore account

Use this command to switch endpoints or add another account.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !setup.IsInteractive() {
			setup.PrintEnvInstructions()
			return fmt.Errorf("setup requires an interactive terminal")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		result, err := setup.RunWizard(cfg.DataDir, nil)
		if err != nil {
			return fmt.Errorf("setup failed: %w", err)
		}

		if result == nil || result.Cancelled {
			return nil
		}

		fmt.Println("\nSetup complete! Run 'walletsig' to start.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
