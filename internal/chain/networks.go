package chain

import "github.com/ethereum/go-ethereum/common"

// ENSRegistry is the ENS registry deployment shared by mainnet and the
// public Ethereum testnets.
var ENSRegistry = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

// UnknownNetwork names any chain id missing from the network table.
const UnknownNetwork = "unknown"

// Network describes a known EVM chain.
type Network struct {
	Name           string
	ChainID        int64
	ENSRegistry    *common.Address
	NativeCurrency string
	ExplorerURL    string
	IsTestnet      bool
}

// identityChains gates name/avatar resolution. Membership does not gate
// connecting.
var identityChains = map[int64]struct{}{
	1:  {},
	3:  {},
	4:  {},
	5:  {},
	42: {},
}

// SupportsIdentity reports whether name and avatar resolution is attempted
// on chainID.
func SupportsIdentity(chainID int64) bool {
	_, ok := identityChains[chainID]
	return ok
}

func withENS() *common.Address {
	reg := ENSRegistry
	return &reg
}

// KnownNetworks returns the built-in network table keyed by chain id.
func KnownNetworks() map[int64]*Network {
	return map[int64]*Network{
		1: {
			Name:           "homestead",
			ChainID:        1,
			ENSRegistry:    withENS(),
			NativeCurrency: "ETH",
			ExplorerURL:    "https://etherscan.io",
		},
		3: {
			Name:           "ropsten",
			ChainID:        3,
			ENSRegistry:    withENS(),
			NativeCurrency: "ETH",
			ExplorerURL:    "https://ropsten.etherscan.io",
			IsTestnet:      true,
		},
		4: {
			Name:           "rinkeby",
			ChainID:        4,
			ENSRegistry:    withENS(),
			NativeCurrency: "ETH",
			ExplorerURL:    "https://rinkeby.etherscan.io",
			IsTestnet:      true,
		},
		5: {
			Name:           "goerli",
			ChainID:        5,
			ENSRegistry:    withENS(),
			NativeCurrency: "ETH",
			ExplorerURL:    "https://goerli.etherscan.io",
			IsTestnet:      true,
		},
		42: {
			// Kovan never had an ENS deployment.
			Name:           "kovan",
			ChainID:        42,
			NativeCurrency: "ETH",
			ExplorerURL:    "https://kovan.etherscan.io",
			IsTestnet:      true,
		},
		10: {
			Name:           "optimism",
			ChainID:        10,
			NativeCurrency: "ETH",
			ExplorerURL:    "https://optimistic.etherscan.io",
		},
		137: {
			Name:           "matic",
			ChainID:        137,
			NativeCurrency: "MATIC",
			ExplorerURL:    "https://polygonscan.com",
		},
		8453: {
			Name:           "base",
			ChainID:        8453,
			NativeCurrency: "ETH",
			ExplorerURL:    "https://basescan.org",
		},
		42161: {
			Name:           "arbitrum",
			ChainID:        42161,
			NativeCurrency: "ETH",
			ExplorerURL:    "https://arbiscan.io",
		},
		11155111: {
			Name:           "sepolia",
			ChainID:        11155111,
			ENSRegistry:    withENS(),
			NativeCurrency: "ETH",
			ExplorerURL:    "https://sepolia.etherscan.io",
			IsTestnet:      true,
		},
	}
}

// LookupNetwork returns the table entry for chainID, or an "unknown"
// network without an ENS registry.
func LookupNetwork(chainID int64) *Network {
	if n, ok := KnownNetworks()[chainID]; ok {
		return n
	}
	return &Network{Name: UnknownNetwork, ChainID: chainID}
}
