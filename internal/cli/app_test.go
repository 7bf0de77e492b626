package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/walletsig/internal/chain"
	"github.com/yolodolo42/walletsig/internal/config"
	"github.com/yolodolo42/walletsig/internal/session"
	"github.com/yolodolo42/walletsig/internal/testutil"
)

const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var devAccount = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:             testutil.TempDir(t),
		ReloadOnChainChange: true,
		LogLevel:            "info",
	}
}

func TestNewApp(t *testing.T) {
	t.Run("no endpoint leaves provider unavailable", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.PrivateKey = devKey

		a, err := newApp(cfg, appOptions{})
		require.NoError(t, err)
		defer a.Close()

		assert.Nil(t, a.session.Provider())
		err = a.session.Connect(context.Background())
		assert.ErrorIs(t, err, session.ErrProviderUnavailable)

		n, ok := a.notices.Last()
		require.True(t, ok)
		assert.Equal(t, session.OpConnect, n.Op)
	})

	t.Run("empty keystore leaves provider unavailable", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.RPCURLs = []string{"http://127.0.0.1:1"}

		a, err := newApp(cfg, appOptions{})
		require.NoError(t, err)
		defer a.Close()

		assert.Nil(t, a.session.Provider())
	})

	t.Run("raw key with endpoint", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.PrivateKey = devKey
		cfg.RPCURLs = []string{"http://127.0.0.1:1"}

		a, err := newApp(cfg, appOptions{})
		require.NoError(t, err)
		defer a.Close()

		require.NotNil(t, a.local)
		accs, err := a.local.ListAccounts(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []common.Address{devAccount}, accs)
	})

	t.Run("invalid raw key", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.PrivateKey = "0xnotakey"

		_, err := newApp(cfg, appOptions{})
		assert.ErrorContains(t, err, "invalid private_key")
	})

	t.Run("journal under data dir", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Journal = true

		a, err := newApp(cfg, appOptions{})
		require.NoError(t, err)
		defer a.Close()

		require.NotNil(t, a.journal)
		assert.Equal(t, filepath.Join(cfg.DataDir, "sessions"), filepath.Dir(a.journal.Path()))
		_, err = os.Stat(a.journal.Path())
		assert.NoError(t, err)
	})

	t.Run("extra notifier sees notices", func(t *testing.T) {
		cfg := testConfig(t)
		extra := session.NewNoticeBuffer(0)

		a, err := newApp(cfg, appOptions{notifier: extra})
		require.NoError(t, err)
		defer a.Close()

		_ = a.session.Connect(context.Background())
		assert.Len(t, extra.Recent(), 1)
		assert.Len(t, a.notices.Recent(), 1)
	})
}

func TestSetupLogging(t *testing.T) {
	t.Cleanup(func() {
		log.SetDefault(log.NewLogger(log.NewTerminalHandler(io.Discard, false)))
	})

	t.Run("file handler in data dir", func(t *testing.T) {
		cfg := testConfig(t)

		closer, err := setupLogging(cfg, true)
		require.NoError(t, err)
		require.NoError(t, closer.Close())

		_, err = os.Stat(filepath.Join(cfg.DataDir, logFileName))
		assert.NoError(t, err)
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.LogLevel = "loud"

		_, err := setupLogging(cfg, false)
		assert.Error(t, err)
	})
}

func TestRender(t *testing.T) {
	t.Run("kv aligns keys", func(t *testing.T) {
		out := renderKV(80, "Session", []kvRow{
			{Key: "State", Value: "connected"},
			{Key: "Balance", Value: "2.5"},
		})
		assert.Equal(t, "Session\nState    connected\nBalance  2.5", out)
	})

	t.Run("table shrinks to width", func(t *testing.T) {
		out := renderTable(30, table{
			Headers: []string{"#", "Address"},
			Rows:    [][]string{{"1", devAccount.Hex()}},
		})
		for _, line := range strings.Split(out, "\n") {
			assert.LessOrEqual(t, len(line), 30, line)
		}
		assert.Contains(t, out, "...")
	})

	t.Run("clip", func(t *testing.T) {
		assert.Equal(t, "abc", clip("abc", 5))
		assert.Equal(t, "ab...", clip("abcdefgh", 5))
		assert.Equal(t, "ab", clip("abcdefgh", 2))
	})
}

func TestAccounts(t *testing.T) {
	t.Run("raw key plus extra addresses", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.PrivateKey = devKey
		other := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

		accs, err := listedAccounts(cfg, []string{devAccount.Hex(), other.Hex()})
		require.NoError(t, err)
		assert.Equal(t, []common.Address{devAccount, other}, accs)

		_, err = listedAccounts(cfg, []string{"nope"})
		assert.ErrorContains(t, err, "invalid address")
	})

	t.Run("balance table", func(t *testing.T) {
		network := chain.LookupNetwork(1)
		rows := []balanceRow{
			{Account: devAccount, Balance: "2.5", Funded: true, Active: true},
			{Account: common.Address{}, Balance: "0.0"},
		}
		tbl := balanceTable(network, rows)
		require.Len(t, tbl.Rows, 2)
		assert.Equal(t, "▸●", tbl.Rows[0][0])
		assert.Equal(t, "2.5 "+network.NativeCurrency, tbl.Rows[0][2])
		assert.Equal(t, "○", tbl.Rows[1][0])
		assert.Contains(t, tbl.Title, "(1)")
	})
}
