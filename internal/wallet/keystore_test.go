package wallet

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/walletsig/internal/testutil"
)

// Well-known development key; never holds real funds.
const (
	testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func newTestManager(t *testing.T) *KeystoreManager {
	t.Helper()
	km, err := NewKeystoreManager(testutil.TempDir(t), WithLightScrypt())
	require.NoError(t, err)
	return km
}

func TestNewKeystoreManager(t *testing.T) {
	t.Run("creates keystore directory", func(t *testing.T) {
		dir := testutil.TempDir(t)
		km, err := NewKeystoreManager(dir, WithLightScrypt())
		require.NoError(t, err)
		require.NotNil(t, km)
		assert.DirExists(t, dir+"/keystore")
	})

	t.Run("reopens existing directory", func(t *testing.T) {
		dir := testutil.TempDir(t)

		km1, err := NewKeystoreManager(dir, WithLightScrypt())
		require.NoError(t, err)
		acc, err := km1.CreateAccount("pw")
		require.NoError(t, err)

		km2, err := NewKeystoreManager(dir, WithLightScrypt())
		require.NoError(t, err)
		assert.True(t, km2.HasAccount(acc.Address))
	})
}

func TestKeystoreManager_CreateAccount(t *testing.T) {
	t.Run("creates distinct accounts", func(t *testing.T) {
		km := newTestManager(t)

		acc1, err := km.CreateAccount("pass1")
		require.NoError(t, err)
		acc2, err := km.CreateAccount("")
		require.NoError(t, err)

		assert.NotEqual(t, common.Address{}, acc1.Address)
		assert.NotEqual(t, acc1.Address, acc2.Address)
		assert.ElementsMatch(t, []common.Address{acc1.Address, acc2.Address}, km.Accounts())
	})
}

func TestKeystoreManager_ImportKey(t *testing.T) {
	t.Run("imports valid private key", func(t *testing.T) {
		km := newTestManager(t)
		account, err := km.ImportKey(testPrivateKey, "testpassword")
		require.NoError(t, err)
		assert.Equal(t, testAddress, account.Address.Hex())
	})

	t.Run("imports with 0x prefix", func(t *testing.T) {
		km := newTestManager(t)
		account, err := km.ImportKey("0x"+testPrivateKey, "testpassword")
		require.NoError(t, err)
		assert.Equal(t, testAddress, account.Address.Hex())
	})

	t.Run("rejects invalid keys", func(t *testing.T) {
		km := newTestManager(t)
		for _, k := range []string{"not-a-valid-hex-key", "abcd1234", ""} {
			_, err := km.ImportKey(k, "testpassword")
			assert.ErrorIs(t, err, ErrInvalidKey, "key %q", k)
		}
	})
}

func TestKeystoreManager_Accounts(t *testing.T) {
	t.Run("empty initially", func(t *testing.T) {
		km := newTestManager(t)
		assert.Empty(t, km.Accounts())
	})

	t.Run("lists imported account", func(t *testing.T) {
		km := newTestManager(t)
		_, err := km.ImportKey(testPrivateKey, "pw")
		require.NoError(t, err)
		assert.Equal(t, []common.Address{common.HexToAddress(testAddress)}, km.Accounts())
	})
}

func TestKeystoreManager_Subscribe(t *testing.T) {
	km := newTestManager(t)

	events := make(chan accounts.WalletEvent, 4)
	sub := km.Subscribe(events)
	defer sub.Unsubscribe()

	_, err := km.ImportKey(testPrivateKey, "pw")
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, accounts.WalletArrived, ev.Kind)
}

func TestKeystoreManager_GetSigner(t *testing.T) {
	t.Run("unknown account", func(t *testing.T) {
		km := newTestManager(t)
		_, err := km.GetSigner(common.HexToAddress(testAddress), "pw")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		km := newTestManager(t)
		acc, err := km.ImportKey(testPrivateKey, "right")
		require.NoError(t, err)

		_, err = km.GetSigner(acc.Address, "wrong")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("returns signer for account", func(t *testing.T) {
		km := newTestManager(t)
		acc, err := km.ImportKey(testPrivateKey, "pw")
		require.NoError(t, err)

		signer, err := km.GetSigner(acc.Address, "pw")
		require.NoError(t, err)
		assert.Equal(t, acc.Address, signer.Address())
	})
}
