package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/walletsig/internal/provider"
	"github.com/yolodolo42/walletsig/internal/provider/providertest"
	"github.com/yolodolo42/walletsig/internal/signature"
	"github.com/yolodolo42/walletsig/internal/testutil"
	"github.com/yolodolo42/walletsig/internal/wallet"
)

const waitFor = 2 * time.Second

var twoAndAHalfEther = big.NewInt(2_500_000_000_000_000_000)

func newManager(t *testing.T, p provider.Provider, opts ...Option) (*Manager, *NoticeBuffer) {
	t.Helper()
	notices := NewNoticeBuffer(0)
	m := New(p, append([]Option{WithNotifier(notices)}, opts...)...)
	t.Cleanup(func() {
		m.Disconnect()
		m.Wait()
	})
	return m, notices
}

func aliceProvider(chainID int64) (*providertest.Provider, common.Address) {
	p := providertest.New()
	alice := p.AddAccount()
	p.SetBalance(alice, twoAndAHalfEther)
	p.SetNetwork(provider.Network{ChainID: chainID, Name: "testnet"})
	p.SetName(alice, "alice.eth")
	p.SetAvatar("alice.eth", "https://example.com/alice.png")
	return p, alice
}

func TestManager_Connect(t *testing.T) {
	t.Run("populates session on identity chain", func(t *testing.T) {
		p, alice := aliceProvider(1)
		m, notices := newManager(t, p)

		require.NoError(t, m.Connect(context.Background()))

		s := m.Snapshot()
		assert.Equal(t, Connected, s.State)
		assert.True(t, s.Connected)
		require.NotNil(t, s.Account)
		assert.Equal(t, alice, *s.Account)
		assert.Equal(t, "2.5", s.Balance)
		require.NotNil(t, s.Network)
		assert.Equal(t, int64(1), s.Network.ChainID)
		assert.Equal(t, "alice.eth", s.Identity.Name)
		assert.Equal(t, "https://example.com/alice.png", s.Identity.AvatarURI)
		assert.Empty(t, notices.Recent())
	})

	t.Run("skips identity outside supported chains", func(t *testing.T) {
		p, _ := aliceProvider(137)
		m, _ := newManager(t, p)

		require.NoError(t, m.Connect(context.Background()))

		s := m.Snapshot()
		assert.True(t, s.Connected)
		assert.Equal(t, Identity{}, s.Identity)
		assert.Zero(t, p.Calls(providertest.MethodLookupAddress))
		assert.Zero(t, p.Calls(providertest.MethodGetAvatar))
	})

	t.Run("resolves identity on every supported chain only", func(t *testing.T) {
		for _, id := range []int64{1, 3, 4, 5, 42, 10, 56, 137, 8453, 11155111} {
			p, _ := aliceProvider(id)
			m := New(p)
			require.NoError(t, m.Connect(context.Background()))

			name := m.Snapshot().Identity.Name
			switch id {
			case 1, 3, 4, 5, 42:
				assert.Equal(t, "alice.eth", name, "chain %d", id)
			default:
				assert.Empty(t, name, "chain %d", id)
			}
			m.Disconnect()
			m.Wait()
		}
	})

	t.Run("no avatar lookup without a name", func(t *testing.T) {
		p := providertest.New()
		p.AddAccount()
		m, _ := newManager(t, p)

		require.NoError(t, m.Connect(context.Background()))
		assert.Equal(t, 1, p.Calls(providertest.MethodLookupAddress))
		assert.Zero(t, p.Calls(providertest.MethodGetAvatar))
		assert.Equal(t, Identity{}, m.Snapshot().Identity)
	})

	t.Run("fails without provider", func(t *testing.T) {
		m, notices := newManager(t, nil)

		err := m.Connect(context.Background())
		assert.ErrorIs(t, err, ErrProviderUnavailable)
		assert.Equal(t, Disconnected, m.State())

		n, ok := notices.Last()
		require.True(t, ok)
		assert.Equal(t, LevelError, n.Level)
		assert.Equal(t, OpConnect, n.Op)
	})

	t.Run("fails with no accounts", func(t *testing.T) {
		m, notices := newManager(t, providertest.New())

		err := m.Connect(context.Background())
		assert.ErrorIs(t, err, ErrNoAccounts)
		assert.Equal(t, Disconnected, m.State())
		assert.Len(t, notices.Recent(), 1)
	})

	t.Run("aborts when account listing fails", func(t *testing.T) {
		p, _ := aliceProvider(1)
		p.FailOn(providertest.MethodListAccounts, errors.New("rpc down"))
		m, _ := newManager(t, p)

		err := m.Connect(context.Background())
		assert.ErrorIs(t, err, ErrNetworkQueryFailed)
		assert.Equal(t, Disconnected, m.State())
		assert.Zero(t, p.Calls(providertest.MethodGetBalance))
		assert.Zero(t, p.Calls(providertest.MethodGetSigner))
	})

	t.Run("aborts when signer is unavailable", func(t *testing.T) {
		p, _ := aliceProvider(1)
		p.FailOn(providertest.MethodGetSigner, wallet.ErrAccountLocked)
		m, _ := newManager(t, p)

		err := m.Connect(context.Background())
		assert.ErrorIs(t, err, wallet.ErrAccountLocked)

		s := m.Snapshot()
		assert.Equal(t, Disconnected, s.State)
		assert.Nil(t, s.Account)
		assert.Equal(t, NoBalance, s.Balance)
		accs, chains := p.Subscribers()
		assert.Zero(t, accs)
		assert.Zero(t, chains)
	})

	t.Run("tolerates balance failure", func(t *testing.T) {
		p, _ := aliceProvider(1)
		p.FailOn(providertest.MethodGetBalance, errors.New("timeout"))
		m, notices := newManager(t, p)

		require.NoError(t, m.Connect(context.Background()))

		s := m.Snapshot()
		assert.True(t, s.Connected)
		assert.Equal(t, NoBalance, s.Balance)
		assert.Equal(t, "alice.eth", s.Identity.Name)

		n, ok := notices.Last()
		require.True(t, ok)
		assert.Equal(t, LevelWarn, n.Level)
		assert.Equal(t, OpBalance, n.Op)
		assert.ErrorIs(t, n.Err, ErrNetworkQueryFailed)
	})

	t.Run("tolerates network failure and skips identity", func(t *testing.T) {
		p, _ := aliceProvider(1)
		p.FailOn(providertest.MethodGetNetwork, errors.New("timeout"))
		m, notices := newManager(t, p)

		require.NoError(t, m.Connect(context.Background()))

		s := m.Snapshot()
		assert.True(t, s.Connected)
		assert.Nil(t, s.Network)
		assert.Equal(t, Identity{}, s.Identity)
		assert.Zero(t, p.Calls(providertest.MethodLookupAddress))
		assert.Len(t, notices.Recent(), 1)
	})

	t.Run("tolerates identity failures", func(t *testing.T) {
		p, _ := aliceProvider(1)
		p.FailOn(providertest.MethodGetAvatar, errors.New("bad record"))
		m, notices := newManager(t, p)

		require.NoError(t, m.Connect(context.Background()))

		s := m.Snapshot()
		assert.True(t, s.Connected)
		assert.Equal(t, "alice.eth", s.Identity.Name)
		assert.Empty(t, s.Identity.AvatarURI)

		n, ok := notices.Last()
		require.True(t, ok)
		assert.Equal(t, OpIdentity, n.Op)
	})

	t.Run("rejects a second connect", func(t *testing.T) {
		p, _ := aliceProvider(1)
		m, notices := newManager(t, p)

		require.NoError(t, m.Connect(context.Background()))
		assert.ErrorIs(t, m.Connect(context.Background()), ErrAlreadyConnected)
		assert.Equal(t, 1, p.Calls(providertest.MethodListAccounts))

		n, ok := notices.Last()
		require.True(t, ok)
		assert.Equal(t, OpConnect, n.Op)
		assert.Equal(t, LevelError, n.Level)
	})
}

func TestManager_Disconnect(t *testing.T) {
	t.Run("resets every field", func(t *testing.T) {
		p, alice := aliceProvider(1)
		m, _ := newManager(t, p)

		require.NoError(t, m.Connect(context.Background()))
		sig, err := m.Sign(context.Background(), "hello")
		require.NoError(t, err)
		_, err = m.Verify("hello", sig)
		require.NoError(t, err)

		m.Disconnect()

		assert.Equal(t, Snapshot{State: Disconnected, Balance: NoBalance}, m.Snapshot())
		assert.Equal(t, SignatureRecord{}, m.Record())
		accs, chains := p.Subscribers()
		assert.Zero(t, accs)
		assert.Zero(t, chains)

		require.NoError(t, m.Connect(context.Background()))
		s := m.Snapshot()
		assert.Equal(t, alice, *s.Account)
		assert.Equal(t, "2.5", s.Balance)
		assert.Equal(t, SignatureRecord{}, m.Record())
	})

	t.Run("is a no-op when disconnected", func(t *testing.T) {
		m, notices := newManager(t, providertest.New())

		m.Disconnect()
		m.Disconnect()

		assert.Equal(t, Disconnected, m.State())
		assert.Empty(t, notices.Recent())
	})

	t.Run("subscribes exactly once per session", func(t *testing.T) {
		p, _ := aliceProvider(1)
		m, _ := newManager(t, p)

		for range 3 {
			require.NoError(t, m.Connect(context.Background()))
			_ = m.Connect(context.Background())

			accs, chains := p.Subscribers()
			assert.Equal(t, 1, accs)
			assert.Equal(t, 1, chains)
			m.Disconnect()
		}
	})

	t.Run("cancels a pending connect", func(t *testing.T) {
		p, _ := aliceProvider(1)
		release := p.Gate(providertest.MethodGetBalance)
		defer release()
		m, _ := newManager(t, p)

		done := make(chan error, 1)
		go func() { done <- m.Connect(context.Background()) }()

		require.Eventually(t, func() bool {
			return p.Calls(providertest.MethodGetBalance) == 1
		}, waitFor, 5*time.Millisecond)
		assert.Equal(t, Connecting, m.State())

		m.Disconnect()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrSessionReset)
		case <-time.After(waitFor):
			t.Fatal("connect did not return after disconnect")
		}
		assert.Equal(t, Disconnected, m.State())
		assert.Zero(t, p.Calls(providertest.MethodGetSigner))
		accs, _ := p.Subscribers()
		assert.Zero(t, accs)
	})
}

func TestManager_AccountChanged(t *testing.T) {
	t.Run("switches account and refreshes balance only", func(t *testing.T) {
		p, _ := aliceProvider(1)
		bob := p.AddAccount()
		p.SetBalance(bob, big.NewInt(1e18))
		m, _ := newManager(t, p)
		require.NoError(t, m.Connect(context.Background()))

		p.EmitAccountsChanged(bob)

		require.Eventually(t, func() bool {
			s := m.Snapshot()
			return s.Account != nil && *s.Account == bob && s.Balance == "1.0"
		}, waitFor, 5*time.Millisecond)

		s := m.Snapshot()
		assert.Equal(t, "alice.eth", s.Identity.Name)
		assert.Equal(t, 1, p.Calls(providertest.MethodGetNetwork))
		assert.Equal(t, 1, p.Calls(providertest.MethodLookupAddress))

		sig, err := m.Sign(context.Background(), "from bob")
		require.NoError(t, err)
		addr, err := m.Verify("from bob", sig)
		require.NoError(t, err)
		assert.Equal(t, bob, addr)
	})

	t.Run("discards stale balance", func(t *testing.T) {
		p, _ := aliceProvider(1)
		bob := p.AddAccount()
		carol := p.AddAccount()
		p.SetBalance(bob, big.NewInt(1e18))
		p.SetBalance(carol, big.NewInt(3e18))
		m, _ := newManager(t, p)
		require.NoError(t, m.Connect(context.Background()))

		release := p.Gate(providertest.MethodGetBalance)
		p.EmitAccountsChanged(bob)
		p.EmitAccountsChanged(carol)

		require.Eventually(t, func() bool {
			return p.Calls(providertest.MethodGetBalance) == 3
		}, waitFor, 5*time.Millisecond)

		s := m.Snapshot()
		assert.Equal(t, carol, *s.Account)
		assert.Equal(t, NoBalance, s.Balance)

		release()

		require.Eventually(t, func() bool {
			return m.Snapshot().Balance == "3.0"
		}, waitFor, 5*time.Millisecond)

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, "3.0", m.Snapshot().Balance)
	})

	t.Run("disconnects when accounts are emptied", func(t *testing.T) {
		p, _ := aliceProvider(1)
		m, notices := newManager(t, p)
		require.NoError(t, m.Connect(context.Background()))

		p.EmitAccountsChanged(common.Address{})

		require.Eventually(t, func() bool {
			return m.State() == Disconnected
		}, waitFor, 5*time.Millisecond)

		n, ok := notices.Last()
		require.True(t, ok)
		assert.Equal(t, OpAccountChanged, n.Op)
	})

	t.Run("disconnects when the new account cannot sign", func(t *testing.T) {
		p, _ := aliceProvider(1)
		m, notices := newManager(t, p)
		require.NoError(t, m.Connect(context.Background()))

		p.EmitAccountsChanged(common.HexToAddress("0x000000000000000000000000000000000000dEaD"))

		require.Eventually(t, func() bool {
			n, ok := notices.Last()
			return ok && n.Op == OpSigner
		}, waitFor, 5*time.Millisecond)
		assert.Equal(t, Disconnected, m.State())

		n, _ := notices.Last()
		assert.Equal(t, LevelError, n.Level)
		assert.Contains(t, n.Message, "get signer for 0x000000000000000000000000000000000000dEaD")
	})
}

func TestManager_ChainChanged(t *testing.T) {
	t.Run("reloads the session", func(t *testing.T) {
		p, alice := aliceProvider(1)
		m, _ := newManager(t, p)
		require.NoError(t, m.Connect(context.Background()))
		_, err := m.Sign(context.Background(), "before")
		require.NoError(t, err)

		p.EmitChainChanged(137)

		require.Eventually(t, func() bool {
			s := m.Snapshot()
			return s.Connected && s.Network != nil && s.Network.ChainID == 137
		}, waitFor, 5*time.Millisecond)

		s := m.Snapshot()
		assert.Equal(t, alice, *s.Account)
		assert.Equal(t, Identity{}, s.Identity)
		assert.Empty(t, m.Record().Signature)
		assert.Equal(t, 2, p.Calls(providertest.MethodListAccounts))

		accs, chains := p.Subscribers()
		assert.Equal(t, 1, accs)
		assert.Equal(t, 1, chains)
	})

	t.Run("closes the session when reload is off", func(t *testing.T) {
		p, _ := aliceProvider(1)
		m, notices := newManager(t, p, WithReloadOnChainChange(false))
		require.NoError(t, m.Connect(context.Background()))

		p.EmitChainChanged(5)

		require.Eventually(t, func() bool {
			return m.State() == Disconnected
		}, waitFor, 5*time.Millisecond)
		assert.Equal(t, 1, p.Calls(providertest.MethodListAccounts))

		n, ok := notices.Last()
		require.True(t, ok)
		assert.Equal(t, OpChainChanged, n.Op)
	})

	t.Run("disconnect during reload wins", func(t *testing.T) {
		p, _ := aliceProvider(1)
		var m *Manager
		m = New(p, WithNotifier(NotifierFunc(func(n Notice) {
			if n.Op == OpChainChanged {
				assert.Equal(t, Connecting, m.State())
				m.Disconnect()
			}
		})))
		require.NoError(t, m.Connect(context.Background()))

		p.EmitChainChanged(5)

		done := make(chan struct{})
		go func() {
			m.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(waitFor):
			m.Disconnect()
			t.Fatal("watchers still running after disconnect")
		}

		assert.Equal(t, Disconnected, m.State())
		assert.False(t, m.Snapshot().Connected)
		accs, chains := p.Subscribers()
		assert.Zero(t, accs)
		assert.Zero(t, chains)
	})
}

func TestManager_Sign(t *testing.T) {
	t.Run("round trips through verify", func(t *testing.T) {
		p, alice := aliceProvider(1)
		m, _ := newManager(t, p)
		require.NoError(t, m.Connect(context.Background()))

		for _, msg := range []string{"hello", "x", "multi\nline", "ünïcödé"} {
			sig, err := m.Sign(context.Background(), msg)
			require.NoError(t, err)
			assert.Equal(t, sig, m.Record().Signature)

			addr, err := m.Verify(msg, sig)
			require.NoError(t, err)
			assert.Equal(t, alice, addr)
			require.NotNil(t, m.Record().Recovered)
			assert.Equal(t, alice, *m.Record().Recovered)
		}
	})

	t.Run("requires a connection and keeps the record", func(t *testing.T) {
		p, alice := aliceProvider(1)
		m, notices := newManager(t, p)
		require.NoError(t, m.Connect(context.Background()))
		sig, err := m.Sign(context.Background(), "hello")
		require.NoError(t, err)
		m.Disconnect()

		_, err = m.Verify("hello", sig)
		require.NoError(t, err)
		before := m.Record()

		_, err = m.Sign(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.Equal(t, before, m.Record())
		assert.Equal(t, alice, *m.Record().Recovered)

		n, ok := notices.Last()
		require.True(t, ok)
		assert.Equal(t, OpSign, n.Op)
	})

	t.Run("drops the signature when the session resets", func(t *testing.T) {
		p, _ := aliceProvider(1)
		bp := &blockingProvider{Provider: p, started: make(chan struct{}), release: make(chan struct{})}
		defer close(bp.release)
		m, _ := newManager(t, bp)
		require.NoError(t, m.Connect(context.Background()))

		done := make(chan error, 1)
		go func() {
			_, err := m.Sign(context.Background(), "slow")
			done <- err
		}()
		<-bp.started

		m.Disconnect()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrSessionReset)
		case <-time.After(waitFor):
			t.Fatal("sign did not return after disconnect")
		}
		assert.Empty(t, m.Record().Signature)
	})

	t.Run("honours caller cancellation", func(t *testing.T) {
		p, _ := aliceProvider(1)
		bp := &blockingProvider{Provider: p, started: make(chan struct{}), release: make(chan struct{})}
		defer close(bp.release)
		m, _ := newManager(t, bp)
		require.NoError(t, m.Connect(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := m.Sign(ctx, "slow")
			done <- err
		}()
		<-bp.started
		cancel()

		assert.ErrorIs(t, <-done, context.Canceled)
		assert.True(t, m.Snapshot().Connected)
	})
}

func TestManager_Verify(t *testing.T) {
	t.Run("works while disconnected", func(t *testing.T) {
		signer, err := wallet.NewKeySigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
		require.NoError(t, err)
		raw, err := signer.SignMessage([]byte("hello"))
		require.NoError(t, err)

		m, _ := newManager(t, providertest.New())
		addr, err := m.Verify("hello", common.Bytes2Hex(raw))
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), addr)
		assert.Equal(t, Disconnected, m.State())
	})

	t.Run("clears the recovered address on failure", func(t *testing.T) {
		p, _ := aliceProvider(1)
		m, notices := newManager(t, p)
		require.NoError(t, m.Connect(context.Background()))
		sig, err := m.Sign(context.Background(), "hello")
		require.NoError(t, err)
		_, err = m.Verify("hello", sig)
		require.NoError(t, err)

		_, err = m.Verify("hello", "not-a-signature")
		require.Error(t, err)
		assert.Nil(t, m.Record().Recovered)
		assert.Equal(t, sig, m.Record().Signature)
		assert.True(t, m.Snapshot().Connected)

		n, ok := notices.Last()
		require.True(t, ok)
		assert.Equal(t, OpVerify, n.Op)
	})

	t.Run("missing input keeps the recovered address", func(t *testing.T) {
		p, alice := aliceProvider(1)
		m, notices := newManager(t, p)
		require.NoError(t, m.Connect(context.Background()))
		sig, err := m.Sign(context.Background(), "hello")
		require.NoError(t, err)
		_, err = m.Verify("hello", sig)
		require.NoError(t, err)

		for _, in := range [][2]string{{"", sig}, {"hello", ""}, {"hello", "   "}} {
			_, err = m.Verify(in[0], in[1])
			require.ErrorIs(t, err, signature.ErrMissingInput)
			require.NotNil(t, m.Record().Recovered)
			assert.Equal(t, alice, *m.Record().Recovered)
		}

		n, ok := notices.Last()
		require.True(t, ok)
		assert.Equal(t, OpVerify, n.Op)
	})
}

func TestManager_Journal(t *testing.T) {
	dir := testutil.TempDir(t)
	j, err := OpenJournal(dir)
	require.NoError(t, err)
	defer j.Close()

	p, alice := aliceProvider(1)
	m, _ := newManager(t, p, WithJournal(j))
	require.NoError(t, m.Connect(context.Background()))
	sig, err := m.Sign(context.Background(), "hello")
	require.NoError(t, err)
	_, err = m.Verify("hello", sig)
	require.NoError(t, err)
	m.Disconnect()

	f, err := os.Open(j.Path())
	require.NoError(t, err)
	defer f.Close()

	var recs []journalRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		recs = append(recs, r)
	}
	require.NoError(t, sc.Err())
	require.Len(t, recs, 4)

	assert.Equal(t, "connected", recs[0].Type)
	assert.Equal(t, alice.Hex(), recs[0].Account)
	assert.Equal(t, int64(1), recs[0].ChainID)
	assert.Equal(t, "signed", recs[1].Type)
	assert.Equal(t, 5, recs[1].MsgLen)
	assert.Equal(t, "verified", recs[2].Type)
	assert.Equal(t, "disconnected", recs[3].Type)
	for _, r := range recs {
		assert.NotEmpty(t, r.TS)
	}

	raw, err := os.ReadFile(j.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), sig[2:])
	assert.NotContains(t, string(raw), "alice.eth")
	assert.NotContains(t, string(raw), `"balance"`)
}

// blockingProvider hands out signers that wait for release before signing.
type blockingProvider struct {
	*providertest.Provider
	started chan struct{}
	release chan struct{}
}

func (b *blockingProvider) GetSigner(account common.Address) (wallet.Signer, error) {
	s, err := b.Provider.GetSigner(account)
	if err != nil {
		return nil, err
	}
	return &blockingSigner{Signer: s, started: b.started, release: b.release}, nil
}

type blockingSigner struct {
	wallet.Signer
	started chan struct{}
	release chan struct{}
}

func (s *blockingSigner) SignMessage(message []byte) ([]byte, error) {
	close(s.started)
	<-s.release
	return s.Signer.SignMessage(message)
}
