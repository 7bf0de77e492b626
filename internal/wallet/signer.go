package wallet

import (
	"github.com/ethereum/go-ethereum/common"
)

// Signer is a signing capability bound to one account. It never exposes the
// private key; callers only get signatures back.
type Signer interface {
	// Address returns the account the signer acts for
	Address() common.Address

	// SignMessage signs message under EIP-191 personal_sign and returns the
	// 65-byte [R || S || V] signature with V in {27, 28}
	SignMessage(message []byte) ([]byte, error)
}

// Locker is implemented by signers that hold key material in memory.
type Locker interface {
	Lock()
}

// Lock releases key material held by s, if any.
func Lock(s Signer) {
	if l, ok := s.(Locker); ok {
		l.Lock()
	}
}
