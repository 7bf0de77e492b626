// Package provider defines the wallet provider contract the session manager
// consumes and a local implementation backed by a keystore and an RPC node.
package provider

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/yolodolo42/walletsig/internal/wallet"
)

var (
	// ErrNoProvider means no wallet provider could be assembled from the
	// host configuration.
	ErrNoProvider = errors.New("no wallet provider available")

	// ErrENSUnsupported is returned by name lookups on chains without an
	// ENS registry.
	ErrENSUnsupported = errors.New("network does not support ENS")
)

// Network is what the provider reports about the chain it is connected to.
type Network struct {
	ChainID    int64           `json:"chain_id"`
	ENSAddress *common.Address `json:"ens_address,omitempty"`
	Name       string          `json:"name"`
}

// Provider is an injected wallet: account custody, chain queries, name
// resolution and change notifications. Unsubscribing a returned
// subscription detaches the listener.
type Provider interface {
	ListAccounts(ctx context.Context) ([]common.Address, error)
	GetBalance(ctx context.Context, account common.Address) (*big.Int, error)
	GetNetwork(ctx context.Context) (Network, error)

	// LookupAddress returns the primary name of account, or "".
	LookupAddress(ctx context.Context, account common.Address) (string, error)
	// GetAvatar returns the avatar URI registered for name, or "".
	GetAvatar(ctx context.Context, name string) (string, error)

	GetSigner(account common.Address) (wallet.Signer, error)

	// SubscribeAccountsChanged delivers the new active account. The zero
	// address means the wallet no longer exposes any account.
	SubscribeAccountsChanged(sink chan<- common.Address) event.Subscription
	// SubscribeChainChanged delivers the new chain id.
	SubscribeChainChanged(sink chan<- int64) event.Subscription
}
