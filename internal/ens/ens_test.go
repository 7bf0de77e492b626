package ens

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	registry     = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")
	publicRes    = common.HexToAddress("0x4976fb03C32e5B8cfe2b6cCB31c09Ba78EBaBa41")
	alice        = common.HexToAddress("0xAAAaaAaaaAAAaaaAaaAAaaaaAaaAAAaAAaAaAaA1")
	bob          = common.HexToAddress("0xB0B0000000000000000000000000000000000B0B")
	errCallFault = errors.New("rpc down")
)

// fakeENS answers registry and resolver calls from in-memory records.
type fakeENS struct {
	resolvers map[common.Hash]common.Address
	names     map[common.Hash]string
	addrs     map[common.Hash]common.Address
	texts     map[common.Hash]map[string]string
	fail      bool
}

func newFakeENS() *fakeENS {
	return &fakeENS{
		resolvers: map[common.Hash]common.Address{},
		names:     map[common.Hash]string{},
		addrs:     map[common.Hash]common.Address{},
		texts:     map[common.Hash]map[string]string{},
	}
}

func (f *fakeENS) register(name string, owner common.Address, primary bool) {
	node := NameHash(name)
	f.resolvers[node] = publicRes
	f.addrs[node] = owner
	if primary {
		rev := NameHash(ReverseName(owner))
		f.resolvers[rev] = publicRes
		f.names[rev] = name
	}
}

func (f *fakeENS) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.fail {
		return nil, errCallFault
	}
	method, err := ABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	node := common.Hash(args[0].([32]byte))

	switch method.Name {
	case "resolver":
		if *msg.To != registry {
			return nil, nil
		}
		return method.Outputs.Pack(f.resolvers[node])
	case "name":
		return method.Outputs.Pack(f.names[node])
	case "addr":
		return method.Outputs.Pack(f.addrs[node])
	case "text":
		return method.Outputs.Pack(f.texts[node][args[1].(string)])
	}
	return nil, nil
}

func TestNameHash(t *testing.T) {
	// Reference vectors from EIP-137.
	assert.Equal(t, common.Hash{}, NameHash(""))
	assert.Equal(t,
		common.HexToHash("0x93cdeb708b7545dc668eb9280176169d1c33cfd8ed6f04690a0bcc88a93fc4ae"),
		NameHash("eth"))
	assert.Equal(t,
		common.HexToHash("0xde9b09fd7c5f901e23a3f19fecc54828e9c848539801e86591bd9801b019f84f"),
		NameHash("foo.eth"))
	assert.Equal(t, NameHash("foo.eth"), NameHash("FOO.eth."))
}

func TestReverseName(t *testing.T) {
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1.addr.reverse", ReverseName(alice))
}

func TestResolver_LookupAddress(t *testing.T) {
	ctx := context.Background()

	t.Run("primary name with matching forward record", func(t *testing.T) {
		f := newFakeENS()
		f.register("alice.eth", alice, true)

		name, err := NewResolver(f, registry).LookupAddress(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, "alice.eth", name)
	})

	t.Run("no reverse record", func(t *testing.T) {
		f := newFakeENS()
		f.register("alice.eth", alice, false)

		name, err := NewResolver(f, registry).LookupAddress(ctx, alice)
		require.NoError(t, err)
		assert.Empty(t, name)
	})

	t.Run("forward record points elsewhere", func(t *testing.T) {
		f := newFakeENS()
		f.register("alice.eth", alice, true)
		f.addrs[NameHash("alice.eth")] = bob

		name, err := NewResolver(f, registry).LookupAddress(ctx, alice)
		require.NoError(t, err)
		assert.Empty(t, name)
	})

	t.Run("call failure surfaces", func(t *testing.T) {
		f := newFakeENS()
		f.fail = true

		_, err := NewResolver(f, registry).LookupAddress(ctx, alice)
		assert.ErrorIs(t, err, errCallFault)
	})

	t.Run("registry missing on chain", func(t *testing.T) {
		f := newFakeENS()
		f.register("alice.eth", alice, true)

		name, err := NewResolver(f, common.HexToAddress("0x01")).LookupAddress(ctx, alice)
		require.NoError(t, err)
		assert.Empty(t, name)
	})
}

func TestResolver_Avatar(t *testing.T) {
	ctx := context.Background()

	f := newFakeENS()
	f.register("alice.eth", alice, true)
	f.register("bob.eth", bob, true)
	f.texts[NameHash("alice.eth")] = map[string]string{"avatar": "ipfs://QmAvatar"}

	r := NewResolver(f, registry)

	uri, err := r.Avatar(ctx, "alice.eth")
	require.NoError(t, err)
	assert.Equal(t, IPFSGateway+"QmAvatar", uri)

	uri, err = r.Avatar(ctx, "bob.eth")
	require.NoError(t, err)
	assert.Empty(t, uri)

	uri, err = r.Avatar(ctx, "nobody.eth")
	require.NoError(t, err)
	assert.Empty(t, uri)
}

func TestAvatarURI(t *testing.T) {
	tests := []struct {
		record  string
		want    string
		wantErr bool
	}{
		{"https://example.com/a.png", "https://example.com/a.png", false},
		{"http://example.com/a.png", "http://example.com/a.png", false},
		{"data:image/png;base64,AAAA", "data:image/png;base64,AAAA", false},
		{"ipfs://QmX", IPFSGateway + "QmX", false},
		{"ipfs://ipfs/QmX", IPFSGateway + "QmX", false},
		{"eip155:1/erc721:0xb47e3cd837dDF8e4c57F05d70Ab865de6e193BBB/1", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.record, func(t *testing.T) {
			got, err := AvatarURI(tt.record)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedAvatar)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
