package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/yolodolo42/walletsig/internal/chain"
	"github.com/yolodolo42/walletsig/internal/config"
	"github.com/yolodolo42/walletsig/internal/display"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List wallet accounts with their balances",
	Long: `List the accounts the wallet exposes and their native balance on the
configured network. The active account is marked with ▸.`,
	RunE: runAccounts,
}

func init() {
	rootCmd.AddCommand(accountsCmd)

	accountsCmd.Flags().StringSlice("address", nil, "extra addresses to include")
}

// balanceRow is one account line of the listing.
type balanceRow struct {
	Account common.Address
	Balance string
	Funded  bool
	Active  bool
	Err     error
}

func runAccounts(cmd *cobra.Command, args []string) error {
	extra, _ := cmd.Flags().GetStringSlice("address")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := setupLogging(cfg, false); err != nil {
		return err
	}

	accs, err := listedAccounts(cfg, extra)
	if err != nil {
		return err
	}
	if len(accs) == 0 {
		fmt.Println("No accounts found.")
		fmt.Println("Use 'walletsig wallet create' to create one.")
		return nil
	}

	if !cfg.HasEndpoint() {
		return fmt.Errorf("no RPC endpoint configured: set rpc_urls or pass --rpc-url")
	}
	client := chain.NewClient(cfg.RPCURLs, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	network := chain.LookupNetwork(0)
	if id, err := client.ChainID(ctx); err == nil {
		network = chain.LookupNetwork(id.Int64())
	} else {
		fmt.Printf("⚠ Could not read chain id: %v\n\n", err)
	}

	active := cfg.AccountAddress()
	if active == (common.Address{}) {
		active = accs[0]
	}
	rows := fetchBalances(ctx, client, accs, active)
	fmt.Println(renderTable(termWidth(), balanceTable(network, rows)))
	return nil
}

// listedAccounts returns the key source accounts followed by any extra
// addresses not already present.
func listedAccounts(cfg *config.Config, extra []string) ([]common.Address, error) {
	keys, err := loadKeySource(cfg, false)
	if err != nil {
		return nil, err
	}

	var accs []common.Address
	seen := map[common.Address]bool{}
	if keys != nil {
		for _, a := range keys.Accounts() {
			accs = append(accs, a)
			seen[a] = true
		}
	}
	for _, raw := range extra {
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid address: %s", raw)
		}
		if a := common.HexToAddress(raw); !seen[a] {
			accs = append(accs, a)
			seen[a] = true
		}
	}
	return accs, nil
}

func fetchBalances(ctx context.Context, client *chain.Client, accs []common.Address, active common.Address) []balanceRow {
	rows := make([]balanceRow, 0, len(accs))
	for _, a := range accs {
		row := balanceRow{Account: a, Active: a == active, Balance: display.Placeholder}
		wei, err := client.BalanceAt(ctx, a)
		if err != nil {
			row.Err = err
		} else {
			row.Balance = display.Ether(wei)
			row.Funded = wei.Sign() > 0
		}
		rows = append(rows, row)
	}
	return rows
}

func balanceTable(network *chain.Network, rows []balanceRow) table {
	t := table{
		Title:   fmt.Sprintf("Accounts on %s (%d)", network.Name, network.ChainID),
		Headers: []string{"", "Account", "Balance"},
	}
	for _, r := range rows {
		// Add visual indicator for zero vs non-zero balances
		indicator := "○"
		if r.Funded {
			indicator = "●"
		}
		if r.Active {
			indicator = "▸" + indicator
		}

		balance := r.Balance
		switch {
		case r.Err != nil:
			balance = "⚠ " + r.Err.Error()
		case network.NativeCurrency != "":
			balance += " " + network.NativeCurrency
		}
		t.Rows = append(t.Rows, []string{indicator, r.Account.Hex(), balance})
	}
	return t
}
