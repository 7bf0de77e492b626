package provider

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/yolodolo42/walletsig/internal/wallet"
)

// KeySource is where a Local provider finds accounts and signers.
type KeySource interface {
	Accounts() []common.Address
	Signer(account common.Address) (wallet.Signer, error)
	// Subscribe reports account set changes.
	Subscribe(sink chan<- accounts.WalletEvent) event.Subscription
}

// KeystoreSource serves accounts from an encrypted keystore, unlocking keys
// with a single passphrase.
type KeystoreSource struct {
	keys       *wallet.KeystoreManager
	passphrase string
}

// NewKeystoreSource wraps km; passphrase unlocks every account on demand.
func NewKeystoreSource(km *wallet.KeystoreManager, passphrase string) *KeystoreSource {
	return &KeystoreSource{keys: km, passphrase: passphrase}
}

func (s *KeystoreSource) Accounts() []common.Address {
	return s.keys.Accounts()
}

func (s *KeystoreSource) Signer(account common.Address) (wallet.Signer, error) {
	return s.keys.GetSigner(account, s.passphrase)
}

func (s *KeystoreSource) Subscribe(sink chan<- accounts.WalletEvent) event.Subscription {
	return s.keys.Subscribe(sink)
}

// KeySource backed by one raw private key; its account set never changes.
type rawKeySource struct {
	hexKey  string
	address common.Address
}

// NewRawKeySource serves a single account from a hex private key.
func NewRawKeySource(privateKeyHex string) (KeySource, error) {
	s, err := wallet.NewKeySigner(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return &rawKeySource{hexKey: privateKeyHex, address: s.Address()}, nil
}

func (s *rawKeySource) Accounts() []common.Address {
	return []common.Address{s.address}
}

// Signer returns a fresh signer per call so locking one session's signer
// never affects a later session.
func (s *rawKeySource) Signer(account common.Address) (wallet.Signer, error) {
	if account != s.address {
		return nil, fmt.Errorf("%w: %s", wallet.ErrAccountNotFound, account.Hex())
	}
	return wallet.NewKeySigner(s.hexKey)
}

func (s *rawKeySource) Subscribe(sink chan<- accounts.WalletEvent) event.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		return nil
	})
}
