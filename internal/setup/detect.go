package setup

import (
	"github.com/yolodolo42/walletsig/internal/wallet"
)

// SetupStatus is what is already configured in a data directory.
type SetupStatus struct {
	HasEndpoint   bool
	HasWallet     bool
	IsComplete    bool
	Endpoint      string
	WalletAddress string
}

// DetectSetupStatus inspects the keystore under dataDir and the configured
// RPC endpoints.
func DetectSetupStatus(dataDir string, rpcURLs []string) (*SetupStatus, error) {
	status := &SetupStatus{}

	if len(rpcURLs) > 0 {
		status.HasEndpoint = true
		status.Endpoint = rpcURLs[0]
	}

	if dataDir != "" {
		km, err := wallet.NewKeystoreManager(dataDir)
		if err != nil {
			return status, err
		}
		if accs := km.Accounts(); len(accs) > 0 {
			status.HasWallet = true
			status.WalletAddress = accs[0].Hex()
		}
	}

	// A wallet without an endpoint cannot connect; an endpoint without a
	// wallet connects to nothing.
	status.IsComplete = status.HasEndpoint && status.HasWallet
	return status, nil
}

// NeedsSetup reports whether the interactive wizard should run.
func NeedsSetup(dataDir string, rpcURLs []string) bool {
	status, err := DetectSetupStatus(dataDir, rpcURLs)
	if err != nil {
		return false
	}
	return !status.IsComplete
}
