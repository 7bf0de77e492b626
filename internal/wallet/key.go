package wallet

import (
	"crypto/ecdsa"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeySigner signs with a raw in-memory private key. It backs the
// development signer configured through private_key.
type KeySigner struct {
	mu      sync.RWMutex
	address common.Address
	key     *ecdsa.PrivateKey
}

// NewKeySigner parses a hex private key, with or without 0x prefix.
func NewKeySigner(privateKeyHex string) (*KeySigner, error) {
	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return NewKeySignerFromKey(key), nil
}

// NewKeySignerFromKey wraps an existing key.
func NewKeySignerFromKey(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
	}
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

func (s *KeySigner) SignMessage(message []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == nil {
		return nil, ErrAccountLocked
	}
	return signText(s.key, message)
}

// Lock drops the key reference. The caller may still hold the key it passed
// to NewKeySignerFromKey, so the key bytes are left untouched.
func (s *KeySigner) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = nil
}
