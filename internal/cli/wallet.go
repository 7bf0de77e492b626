package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yolodolo42/walletsig/internal/wallet"
	"golang.org/x/term"
)

const minPasswordLen = 8

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage keystore accounts",
	Long: `Create, import and list the encrypted keystore accounts that back the
wallet provider. Keys live under <data_dir>/keystore.`,
}

var walletCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new wallet",
	RunE:  runWalletCreate,
}

var walletImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a wallet from private key",
	RunE:  runWalletImport,
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keystore accounts",
	RunE:  runWalletList,
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletCreateCmd)
	walletCmd.AddCommand(walletImportCmd)
	walletCmd.AddCommand(walletListCmd)

	walletImportCmd.Flags().String("key", "", "Private key to import (hex, with or without 0x prefix)")
}

// openKeystore opens the keystore of the configured data directory.
func openKeystore() (*wallet.KeystoreManager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keystore: %w", err)
	}
	return km, nil
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println() // newline after password input
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// readNewPassword asks for a password twice.
func readNewPassword(prompt string) (string, error) {
	password, err := readPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) < minPasswordLen {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password confirmation: %w", err)
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}

func runWalletCreate(cmd *cobra.Command, args []string) error {
	km, err := openKeystore()
	if err != nil {
		return err
	}

	password, err := readNewPassword("Enter password for new account: ")
	if err != nil {
		return err
	}

	account, err := km.CreateAccount(password)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	fmt.Println("\nAccount created successfully!")
	fmt.Printf("Address: %s\n", account.Address.Hex())
	fmt.Printf("Keystore: %s\n", account.URL.Path)
	fmt.Println("\nIMPORTANT: Back up your keystore file and remember your password!")
	fmt.Println("Set WALLETSIG_PASSWORD or enter it when walletsig asks to unlock the account.")

	return nil
}

func runWalletImport(cmd *cobra.Command, args []string) error {
	privateKey, _ := cmd.Flags().GetString("key")

	if privateKey == "" {
		key, err := readPassword("Enter private key (hex): ")
		if err != nil {
			return fmt.Errorf("failed to read private key: %w", err)
		}
		privateKey = strings.TrimSpace(key)
	}

	if privateKey == "" {
		return errors.New("private key is required")
	}

	km, err := openKeystore()
	if err != nil {
		return err
	}

	password, err := readNewPassword("Enter password to encrypt account: ")
	if err != nil {
		return err
	}

	account, err := km.ImportKey(privateKey, password)
	if err != nil {
		return fmt.Errorf("failed to import key: %w", err)
	}

	fmt.Println("\nAccount imported successfully!")
	fmt.Printf("Address: %s\n", account.Address.Hex())
	fmt.Printf("Keystore: %s\n", account.URL.Path)

	return nil
}

func runWalletList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize keystore: %w", err)
	}

	accounts := km.Accounts()
	if len(accounts) == 0 {
		fmt.Println("No accounts found.")
		fmt.Println("Use 'walletsig wallet create' to create one.")
		return nil
	}

	preferred := cfg.AccountAddress()
	t := table{
		Title:   fmt.Sprintf("Found %d account(s) in %s:\n", len(accounts), cfg.KeystoreDir()),
		Headers: []string{"#", "Address", ""},
	}
	for i, acc := range accounts {
		mark := ""
		if acc == preferred {
			mark = "preferred"
		}
		t.Rows = append(t.Rows, []string{strconv.Itoa(i + 1), acc.Hex(), mark})
	}
	fmt.Println(renderTable(termWidth(), t))
	return nil
}
