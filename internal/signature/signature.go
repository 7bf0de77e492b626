// Package signature produces and checks EIP-191 personal message signatures.
package signature

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/yolodolo42/walletsig/internal/wallet"
)

var (
	// ErrMissingInput is wrapped by both missing-field errors.
	ErrMissingInput     = errors.New("missing input")
	ErrMissingMessage   = fmt.Errorf("%w: message to verify is empty", ErrMissingInput)
	ErrMissingSignature = fmt.Errorf("%w: signature to verify is empty", ErrMissingInput)

	ErrMalformedSignature = errors.New("malformed signature")
)

// Length is the size of an [R || S || V] signature.
const Length = crypto.SignatureLength

// Sign has signer sign message and returns the 0x-prefixed hex signature.
// The signer applies the personal message prefix.
func Sign(signer wallet.Signer, message string) (string, error) {
	sig, err := signer.SignMessage([]byte(message))
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// Verify returns the address that produced sig over message.
func Verify(message, sig string) (common.Address, error) {
	if message == "" {
		return common.Address{}, ErrMissingMessage
	}
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return common.Address{}, ErrMissingSignature
	}

	raw, err := Decode(sig)
	if err != nil {
		return common.Address{}, err
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Decode parses a hex signature into the form crypto.SigToPub expects, with
// the recovery id normalised from {27,28} to {0,1}.
func Decode(sig string) ([]byte, error) {
	if !strings.HasPrefix(sig, "0x") && !strings.HasPrefix(sig, "0X") {
		sig = "0x" + sig
	}
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(raw) != Length {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, Length, len(raw))
	}

	v := raw[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return nil, fmt.Errorf("%w: invalid recovery id %d", ErrMalformedSignature, raw[crypto.RecoveryIDOffset])
	}
	raw[crypto.RecoveryIDOffset] = v

	r, s := new(big.Int).SetBytes(raw[:32]), new(big.Int).SetBytes(raw[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, false) {
		return nil, fmt.Errorf("%w: r or s out of range", ErrMalformedSignature)
	}
	return raw, nil
}

// Matches reports whether sig over message was produced by expected.
func Matches(message, sig string, expected common.Address) (bool, error) {
	got, err := Verify(message, sig)
	if err != nil {
		return false, err
	}
	return got == expected, nil
}
