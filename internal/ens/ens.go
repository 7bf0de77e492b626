// Package ens resolves Ethereum Name Service records: reverse lookups from an
// address to its primary name, forward resolution, and avatar text records.
package ens

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const reverseSuffix = "addr.reverse"

// IPFSGateway is the HTTP gateway ipfs:// avatar URIs are rewritten to.
const IPFSGateway = "https://gateway.ipfs.io/ipfs/"

// ErrUnsupportedAvatar is returned for avatar records this resolver cannot turn
// into a fetchable URI, such as NFT references.
var ErrUnsupportedAvatar = errors.New("ens: unsupported avatar record")

const registryABI = `[
	{"name":"resolver","type":"function","stateMutability":"view",
	 "inputs":[{"name":"node","type":"bytes32"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"name":"name","type":"function","stateMutability":"view",
	 "inputs":[{"name":"node","type":"bytes32"}],
	 "outputs":[{"name":"","type":"string"}]},
	{"name":"addr","type":"function","stateMutability":"view",
	 "inputs":[{"name":"node","type":"bytes32"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"name":"text","type":"function","stateMutability":"view",
	 "inputs":[{"name":"node","type":"bytes32"},{"name":"key","type":"string"}],
	 "outputs":[{"name":"","type":"string"}]}
]`

// ABI is the combined registry and public resolver interface used for calls.
var ABI = mustParseABI(registryABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// NameHash computes the EIP-137 node for name. Labels are lowercased; full
// UTS-46 normalisation is left to callers.
func NameHash(name string) common.Hash {
	var node common.Hash
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		node = crypto.Keccak256Hash(node[:], crypto.Keccak256([]byte(labels[i])))
	}
	return node
}

// ReverseName is the reverse-registrar name for address.
func ReverseName(address common.Address) string {
	return strings.ToLower(address.Hex()[2:]) + "." + reverseSuffix
}

// Resolver performs ENS lookups against one registry deployment.
type Resolver struct {
	caller   ethereum.ContractCaller
	registry common.Address
}

// NewResolver returns a resolver that queries registry through caller.
func NewResolver(caller ethereum.ContractCaller, registry common.Address) *Resolver {
	return &Resolver{caller: caller, registry: registry}
}

// Registry returns the registry address the resolver queries.
func (r *Resolver) Registry() common.Address {
	return r.registry
}

// LookupAddress returns the primary name of address, or "" when none is set.
// A reverse record only counts when the name resolves back to address.
func (r *Resolver) LookupAddress(ctx context.Context, address common.Address) (string, error) {
	node := NameHash(ReverseName(address))

	resolver, err := r.resolverOf(ctx, node)
	if err != nil || resolver == (common.Address{}) {
		return "", err
	}

	name, err := r.callString(ctx, resolver, "name", node)
	if err != nil || name == "" {
		return "", err
	}

	forward, err := r.Resolve(ctx, name)
	if err != nil {
		return "", err
	}
	if forward != address {
		return "", nil
	}
	return name, nil
}

// Resolve returns the address name points at, or the zero address.
func (r *Resolver) Resolve(ctx context.Context, name string) (common.Address, error) {
	node := NameHash(name)

	resolver, err := r.resolverOf(ctx, node)
	if err != nil || resolver == (common.Address{}) {
		return common.Address{}, err
	}

	out, err := r.call(ctx, resolver, "addr", node)
	if err != nil || len(out) == 0 {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ens: unexpected addr result %T", out[0])
	}
	return addr, nil
}

// Text returns the text record key of name, or "".
func (r *Resolver) Text(ctx context.Context, name, key string) (string, error) {
	node := NameHash(name)

	resolver, err := r.resolverOf(ctx, node)
	if err != nil || resolver == (common.Address{}) {
		return "", err
	}
	return r.callString(ctx, resolver, "text", node, key)
}

// Avatar returns a fetchable URI for the avatar record of name, or "".
func (r *Resolver) Avatar(ctx context.Context, name string) (string, error) {
	record, err := r.Text(ctx, name, "avatar")
	if err != nil || record == "" {
		return "", err
	}
	return AvatarURI(record)
}

// AvatarURI turns an avatar text record into a URI a client can fetch.
func AvatarURI(record string) (string, error) {
	lower := strings.ToLower(record)
	switch {
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"),
		strings.HasPrefix(lower, "data:"):
		return record, nil
	case strings.HasPrefix(lower, "ipfs://ipfs/"):
		return IPFSGateway + record[len("ipfs://ipfs/"):], nil
	case strings.HasPrefix(lower, "ipfs://"):
		return IPFSGateway + record[len("ipfs://"):], nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAvatar, record)
	}
}

func (r *Resolver) resolverOf(ctx context.Context, node common.Hash) (common.Address, error) {
	out, err := r.call(ctx, r.registry, "resolver", node)
	if err != nil || len(out) == 0 {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ens: unexpected resolver result %T", out[0])
	}
	return addr, nil
}

func (r *Resolver) callString(ctx context.Context, to common.Address, method string, args ...interface{}) (string, error) {
	out, err := r.call(ctx, to, method, args...)
	if err != nil || len(out) == 0 {
		return "", err
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("ens: unexpected %s result %T", method, out[0])
	}
	return s, nil
}

// call packs and executes a view call. An empty return (no contract, or a
// resolver without the method) yields no values rather than an error.
func (r *Resolver) call(ctx context.Context, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ens: pack %s: %w", method, err)
	}

	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("ens: %s call: %w", method, err)
	}
	if len(res) == 0 {
		return nil, nil
	}

	out, err := ABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("ens: unpack %s: %w", method, err)
	}
	return out, nil
}
