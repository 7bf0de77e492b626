package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountLocked   = errors.New("account is locked")
	ErrInvalidKey      = errors.New("invalid private key")
)

// KeystoreManager owns the encrypted keystore directory under a data dir.
type KeystoreManager struct {
	ks      *keystore.KeyStore
	dataDir string
}

// KeystoreOption tunes the keystore created by NewKeystoreManager.
type KeystoreOption func(*keystoreOptions)

type keystoreOptions struct {
	scryptN int
	scryptP int
}

// WithLightScrypt trades key-derivation strength for speed. Only meant for
// throwaway keystores.
func WithLightScrypt() KeystoreOption {
	return func(o *keystoreOptions) {
		o.scryptN = keystore.LightScryptN
		o.scryptP = keystore.LightScryptP
	}
}

// NewKeystoreManager opens (creating if needed) <dataDir>/keystore.
func NewKeystoreManager(dataDir string, opts ...KeystoreOption) (*KeystoreManager, error) {
	o := keystoreOptions{scryptN: keystore.StandardScryptN, scryptP: keystore.StandardScryptP}
	for _, opt := range opts {
		opt(&o)
	}

	dir := filepath.Join(dataDir, "keystore")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	return &KeystoreManager{
		ks:      keystore.NewKeyStore(dir, o.scryptN, o.scryptP),
		dataDir: dataDir,
	}, nil
}

// CreateAccount generates a fresh key encrypted with passphrase.
func (km *KeystoreManager) CreateAccount(passphrase string) (accounts.Account, error) {
	return km.ks.NewAccount(passphrase)
}

// ImportKey encrypts a hex private key (0x prefix optional) into the keystore.
func (km *KeystoreManager) ImportKey(privateKeyHex, passphrase string) (accounts.Account, error) {
	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return accounts.Account{}, err
	}
	return km.ks.ImportECDSA(key, passphrase)
}

// Accounts returns the keystore addresses in keystore order.
func (km *KeystoreManager) Accounts() []common.Address {
	accs := km.ks.Accounts()
	out := make([]common.Address, 0, len(accs))
	for _, a := range accs {
		out = append(out, a.Address)
	}
	return out
}

// HasAccount reports whether the keystore holds a key for address.
func (km *KeystoreManager) HasAccount(address common.Address) bool {
	return km.ks.HasAddress(address)
}

// Subscribe delivers wallet arrival/drop events as key files change on disk.
func (km *KeystoreManager) Subscribe(sink chan<- accounts.WalletEvent) event.Subscription {
	return km.ks.Subscribe(sink)
}

// GetSigner decrypts the key for address and returns a signer holding it.
func (km *KeystoreManager) GetSigner(address common.Address, passphrase string) (*KeystoreSigner, error) {
	acc, err := km.ks.Find(accounts.Account{Address: address})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address.Hex())
	}

	keyJSON, err := os.ReadFile(acc.URL.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock account: %w", err)
	}

	return &KeystoreSigner{address: acc.Address, key: key.PrivateKey}, nil
}

// KeystoreSigner signs with a key decrypted from the keystore.
type KeystoreSigner struct {
	// mu keeps signing from racing Lock, which zeroes the key.
	mu      sync.RWMutex
	address common.Address
	key     *ecdsa.PrivateKey // nil when locked
}

// Address returns the signer's account.
func (s *KeystoreSigner) Address() common.Address {
	return s.address
}

// SignMessage signs message with the EIP-191 personal message prefix.
func (s *KeystoreSigner) SignMessage(message []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return nil, ErrAccountLocked
	}
	return signText(s.key, message)
}

// Lock zeroes the private key. Safe to call multiple times; afterwards
// SignMessage returns ErrAccountLocked.
func (s *KeystoreSigner) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil {
		s.key.D.SetInt64(0)
		s.key = nil
	}
}

func signText(key *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		return nil, err
	}
	// crypto.Sign yields V in {0,1}; wallets and ecrecover expect {27,28}.
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func parsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}
