package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var identityChainIDs = []int64{1, 3, 4, 5, 42}

func TestSupportsIdentity(t *testing.T) {
	for _, id := range identityChainIDs {
		assert.True(t, SupportsIdentity(id), "chain %d", id)
	}
	for _, id := range []int64{0, 2, 10, 137, 8453, 42161, 11155111} {
		assert.False(t, SupportsIdentity(id), "chain %d", id)
	}
}

func TestKnownNetworks(t *testing.T) {
	networks := KnownNetworks()

	t.Run("identity chains are all known", func(t *testing.T) {
		for _, id := range identityChainIDs {
			_, ok := networks[id]
			assert.True(t, ok, "missing chain %d", id)
		}
	})

	t.Run("mainnet", func(t *testing.T) {
		n := networks[1]
		require.NotNil(t, n)
		assert.Equal(t, "homestead", n.Name)
		require.NotNil(t, n.ENSRegistry)
		assert.Equal(t, ENSRegistry, *n.ENSRegistry)
		assert.False(t, n.IsTestnet)
	})

	t.Run("kovan has no registry", func(t *testing.T) {
		n := networks[42]
		require.NotNil(t, n)
		assert.Nil(t, n.ENSRegistry)
		assert.True(t, n.IsTestnet)
	})

	t.Run("keys match chain ids", func(t *testing.T) {
		for id, n := range networks {
			assert.Equal(t, id, n.ChainID)
			assert.NotEmpty(t, n.ExplorerURL, "chain %d", id)
		}
	})

	t.Run("registry pointers are not shared", func(t *testing.T) {
		(*networks[1].ENSRegistry)[0] = 0xff
		assert.Equal(t, ENSRegistry, *KnownNetworks()[1].ENSRegistry)
	})
}

func TestLookupNetwork(t *testing.T) {
	assert.Equal(t, "goerli", LookupNetwork(5).Name)

	n := LookupNetwork(31337)
	assert.Equal(t, UnknownNetwork, n.Name)
	assert.Equal(t, int64(31337), n.ChainID)
	assert.Nil(t, n.ENSRegistry)
}
