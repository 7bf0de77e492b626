// Package session owns the wallet session: connecting to a provider,
// deriving balance, network and identity, reacting to account and chain
// changes, and signing or verifying messages on the user's behalf.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/yolodolo42/walletsig/internal/chain"
	"github.com/yolodolo42/walletsig/internal/display"
	"github.com/yolodolo42/walletsig/internal/provider"
	"github.com/yolodolo42/walletsig/internal/signature"
	"github.com/yolodolo42/walletsig/internal/wallet"
)

var (
	ErrProviderUnavailable = errors.New("no wallet provider available: install or configure a wallet")
	ErrNoAccounts          = errors.New("wallet returned no accounts")
	ErrNetworkQueryFailed  = errors.New("network query failed")
	ErrNotConnected        = errors.New("wallet not connected: connect a wallet first")
	ErrAlreadyConnected    = errors.New("wallet already connected")

	// ErrSessionReset is returned by operations whose result was abandoned
	// because the session was reset or its account changed while they ran.
	ErrSessionReset = errors.New("session was reset while the operation was in flight")
)

// NoBalance is the balance shown when it is unknown or disconnected.
const NoBalance = display.Placeholder

const (
	reloadTimeout = 60 * time.Second
	eventBuffer   = 8
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Identity is the name-service identity of the active account. Empty
// strings mean "none".
type Identity struct {
	Name      string `json:"name,omitempty"`
	AvatarURI string `json:"avatar_uri,omitempty"`
}

// Snapshot is a consistent copy of the session fields.
type Snapshot struct {
	State     State             `json:"state"`
	Connected bool              `json:"connected"`
	Account   *common.Address   `json:"account,omitempty"`
	Balance   string            `json:"balance"`
	Network   *provider.Network `json:"network,omitempty"`
	Identity  Identity          `json:"identity"`
}

// SignatureRecord holds the last computed signature and the last
// verification result.
type SignatureRecord struct {
	Signature string          `json:"signature"`
	Recovered *common.Address `json:"recovered,omitempty"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the sink for user-facing notices.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithJournal records transitions to j.
func WithJournal(j *Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithLogger replaces the default session logger.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithReloadOnChainChange controls whether a chain switch rebuilds the
// session with a fresh connect (true) or only tears it down.
func WithReloadOnChainChange(reload bool) Option {
	return func(m *Manager) { m.reload = reload }
}

// Manager is the single owner of the process-wide wallet session. All
// mutations happen under mu; results of asynchronous work are committed only
// if the session epoch they started in is still current.
type Manager struct {
	provider provider.Provider
	notifier Notifier
	journal  *Journal
	log      log.Logger
	reload   bool

	mu       sync.Mutex
	state    State
	account  *common.Address
	balance  string
	network  *provider.Network
	identity Identity
	signer   wallet.Signer
	record   SignatureRecord

	epoch      uint64
	balanceSeq uint64
	ctx        context.Context
	cancel     context.CancelFunc
	subs       []event.Subscription
	watchers   sync.WaitGroup
}

// New returns a disconnected manager. p may be nil, in which case Connect
// fails with ErrProviderUnavailable.
func New(p provider.Provider, opts ...Option) *Manager {
	m := &Manager{
		provider: p,
		notifier: discard{},
		log:      log.New("module", "session"),
		reload:   true,
		balance:  NoBalance,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Provider returns the wallet provider the manager was built with.
func (m *Manager) Provider() provider.Provider {
	return m.provider
}

// Snapshot returns a copy of the current session fields.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		State:     m.state,
		Connected: m.state == Connected,
		Balance:   m.balance,
		Identity:  m.identity,
	}
	if m.account != nil {
		a := *m.account
		s.Account = &a
	}
	if m.network != nil {
		n := *m.network
		s.Network = &n
	}
	return s
}

// Record returns the last signature and verification result.
func (m *Manager) Record() SignatureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.record
	if r.Recovered != nil {
		a := *r.Recovered
		r.Recovered = &a
	}
	return r
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// pending collects connect results before they are committed atomically.
type pending struct {
	account  common.Address
	balance  string
	network  *provider.Network
	identity Identity
	signer   wallet.Signer
}

// Connect runs the connect sequence: accounts, balance, network, identity
// (supported chains only), signer, then change subscriptions. Balance,
// network and identity failures are reported and tolerated; account and
// signer failures abort and leave the session disconnected.
func (m *Manager) Connect(ctx context.Context) error {
	if m.provider == nil {
		return m.fail(OpConnect, ErrProviderUnavailable)
	}

	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return m.fail(OpConnect, ErrAlreadyConnected)
	}
	epoch, sctx := m.beginLocked()
	m.mu.Unlock()

	return m.establish(ctx, epoch, sctx)
}

// beginLocked moves the manager into Connecting under a new epoch with a
// fresh session scope.
func (m *Manager) beginLocked() (uint64, context.Context) {
	m.state = Connecting
	m.epoch++
	sctx, cancel := context.WithCancel(context.Background())
	m.ctx, m.cancel = sctx, cancel
	return m.epoch, sctx
}

// establish runs the connect sequence for a session already in Connecting
// and commits it unless the epoch moved on meanwhile.
func (m *Manager) establish(ctx context.Context, epoch uint64, sctx context.Context) error {
	m.log.Debug("Connecting wallet", "epoch", epoch)

	opCtx, stop := bind(ctx, sctx)
	defer stop()

	res, err := m.runConnect(opCtx, sctx)
	if err != nil {
		m.abortConnect(epoch)
		if errors.Is(err, ErrSessionReset) || sctx.Err() != nil {
			m.log.Debug("Connect abandoned", "epoch", epoch)
			return ErrSessionReset
		}
		m.journal.record(journalRecord{Type: "connect_failed", Error: err.Error()})
		return m.fail(OpConnect, err)
	}

	m.mu.Lock()
	if m.epoch != epoch || m.state != Connecting {
		m.mu.Unlock()
		wallet.Lock(res.signer)
		m.log.Debug("Connect result discarded", "epoch", epoch)
		return ErrSessionReset
	}

	account := res.account
	m.account = &account
	m.balance = res.balance
	m.network = res.network
	m.identity = res.identity
	m.signer = res.signer
	m.state = Connected

	accounts := make(chan common.Address, eventBuffer)
	chains := make(chan int64, eventBuffer)
	accSub := m.provider.SubscribeAccountsChanged(accounts)
	chainSub := m.provider.SubscribeChainChanged(chains)
	m.subs = []event.Subscription{accSub, chainSub}

	m.watchers.Add(1)
	go m.watch(epoch, sctx, accounts, chains, accSub, chainSub)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	rec := journalRecord{Type: "connected", Account: account.Hex()}
	if snap.Network != nil {
		rec.ChainID = snap.Network.ChainID
	}
	m.journal.record(rec)
	m.log.Info("Wallet connected", "account", account, "balance", snap.Balance, "network", networkName(snap.Network))
	return nil
}

func (m *Manager) runConnect(ctx, sctx context.Context) (*pending, error) {
	accs, err := m.provider.ListAccounts(ctx)
	if err != nil {
		if ierr := interrupted(ctx, sctx); ierr != nil {
			return nil, ierr
		}
		return nil, fmt.Errorf("%w: list accounts: %w", ErrNetworkQueryFailed, err)
	}
	if len(accs) == 0 || accs[0] == (common.Address{}) {
		return nil, ErrNoAccounts
	}

	res := &pending{account: accs[0], balance: NoBalance}

	wei, err := m.provider.GetBalance(ctx, res.account)
	switch {
	case err != nil:
		if ierr := interrupted(ctx, sctx); ierr != nil {
			return nil, ierr
		}
		m.warn(OpBalance, fmt.Errorf("%w: balance: %w", ErrNetworkQueryFailed, err))
	default:
		res.balance = display.Ether(wei)
	}

	n, err := m.provider.GetNetwork(ctx)
	switch {
	case err != nil:
		if ierr := interrupted(ctx, sctx); ierr != nil {
			return nil, ierr
		}
		m.warn(OpNetwork, fmt.Errorf("%w: network: %w", ErrNetworkQueryFailed, err))
	default:
		res.network = &n
	}

	if res.network != nil && chain.SupportsIdentity(res.network.ChainID) {
		id, err := m.resolveIdentity(ctx, res.account)
		if ierr := interrupted(ctx, sctx); ierr != nil {
			return nil, ierr
		}
		if err != nil {
			m.warn(OpIdentity, err)
		}
		res.identity = id
	}

	signer, err := m.provider.GetSigner(res.account)
	if err != nil {
		return nil, fmt.Errorf("get signer: %w", err)
	}
	if signer.Address() != res.account {
		wallet.Lock(signer)
		return nil, fmt.Errorf("get signer: signer is bound to %s, not %s", signer.Address().Hex(), res.account.Hex())
	}
	if ierr := interrupted(ctx, sctx); ierr != nil {
		wallet.Lock(signer)
		return nil, ierr
	}
	res.signer = signer
	return res, nil
}

// resolveIdentity looks up the account's name and, if one exists, its
// avatar. Whatever resolved before an error is kept.
func (m *Manager) resolveIdentity(ctx context.Context, account common.Address) (Identity, error) {
	var id Identity

	name, err := m.provider.LookupAddress(ctx, account)
	if err != nil {
		return id, fmt.Errorf("%w: name lookup: %w", ErrNetworkQueryFailed, err)
	}
	if name == "" {
		return id, nil
	}
	id.Name = name

	avatar, err := m.provider.GetAvatar(ctx, name)
	if err != nil {
		return id, fmt.Errorf("%w: avatar lookup: %w", ErrNetworkQueryFailed, err)
	}
	id.AvatarURI = avatar
	return id, nil
}

func (m *Manager) abortConnect(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch || m.state != Connecting {
		return
	}
	m.cancel()
	m.resetLocked()
}

// Disconnect detaches the change listeners, cancels in-flight operations and
// resets every field. It is a no-op when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == Disconnected {
		m.mu.Unlock()
		return
	}
	epoch := m.epoch
	m.mu.Unlock()

	if m.teardown(epoch) {
		m.journal.record(journalRecord{Type: "disconnected"})
		m.log.Info("Wallet disconnected")
	}
}

// teardown resets the session if epoch is still current and reports whether
// it did.
func (m *Manager) teardown(epoch uint64) bool {
	m.mu.Lock()
	if m.epoch != epoch || m.state == Disconnected {
		m.mu.Unlock()
		return false
	}
	signer := m.closeLocked()
	m.mu.Unlock()

	// Locking may wait for an in-flight signature; keep mu free meanwhile.
	wallet.Lock(signer)
	return true
}

// closeLocked detaches the listeners, cancels the session scope and resets
// the fields. The returned signer still has to be locked, outside mu.
func (m *Manager) closeLocked() wallet.Signer {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	if m.cancel != nil {
		m.cancel()
	}
	signer := m.signer
	m.resetLocked()
	return signer
}

// resetLocked restores every field to its disconnected default and starts a
// new epoch so late results from the old session are discarded.
func (m *Manager) resetLocked() {
	m.epoch++
	m.state = Disconnected
	m.account = nil
	m.balance = NoBalance
	m.network = nil
	m.identity = Identity{}
	m.signer = nil
	m.record = SignatureRecord{}
	m.subs = nil
	m.ctx, m.cancel = nil, nil
}

// Wait blocks until every change watcher of past sessions has exited.
func (m *Manager) Wait() {
	m.watchers.Wait()
}

func (m *Manager) watch(epoch uint64, sctx context.Context, accounts <-chan common.Address,
	chains <-chan int64, accSub, chainSub event.Subscription) {
	defer m.watchers.Done()

	for {
		select {
		case addr := <-accounts:
			m.onAccountChanged(epoch, addr)
		case id := <-chains:
			m.onChainChanged(epoch, id)
			return
		case err := <-accSub.Err():
			if err != nil {
				m.warn(OpAccountChanged, err)
			}
			return
		case err := <-chainSub.Err():
			if err != nil {
				m.warn(OpChainChanged, err)
			}
			return
		case <-sctx.Done():
			return
		}
	}
}

// onAccountChanged switches the session to addr and refreshes only its
// balance; network and identity are left as they were.
func (m *Manager) onAccountChanged(epoch uint64, addr common.Address) {
	if addr == (common.Address{}) {
		if m.teardown(epoch) {
			m.journal.record(journalRecord{Type: "accounts_emptied"})
			m.notify(LevelWarn, OpAccountChanged, "wallet exposes no accounts; session disconnected", nil)
		}
		return
	}

	m.mu.Lock()
	same := m.epoch == epoch && m.state == Connected && m.account != nil && *m.account == addr
	m.mu.Unlock()
	if same {
		return
	}

	signer, err := m.provider.GetSigner(addr)

	m.mu.Lock()
	if m.epoch != epoch || m.state != Connected {
		m.mu.Unlock()
		if signer != nil {
			wallet.Lock(signer)
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		if m.teardown(epoch) {
			m.fail(OpSigner, fmt.Errorf("get signer for %s: %w", addr.Hex(), err))
		}
		return
	}

	old := m.signer
	account := addr
	m.account = &account
	m.signer = signer
	m.balance = NoBalance
	m.balanceSeq++
	seq := m.balanceSeq
	sctx := m.ctx
	m.mu.Unlock()

	wallet.Lock(old)
	m.journal.record(journalRecord{Type: "account_changed", Account: addr.Hex()})
	m.log.Info("Account changed", "account", addr)

	m.watchers.Add(1)
	go func() {
		defer m.watchers.Done()
		m.refreshBalance(sctx, epoch, seq, addr)
	}()
}

// refreshBalance fetches the balance of addr and commits it unless a newer
// account change or a reset superseded the request.
func (m *Manager) refreshBalance(sctx context.Context, epoch, seq uint64, addr common.Address) {
	wei, err := m.provider.GetBalance(sctx, addr)

	m.mu.Lock()
	if m.epoch != epoch || m.balanceSeq != seq {
		m.mu.Unlock()
		m.log.Debug("Discarding stale balance", "account", addr)
		return
	}
	if err != nil {
		m.mu.Unlock()
		if sctx.Err() == nil {
			m.warn(OpBalance, fmt.Errorf("%w: balance: %w", ErrNetworkQueryFailed, err))
		}
		return
	}
	m.balance = display.Ether(wei)
	m.mu.Unlock()
}

// onChainChanged abandons the whole session. Chain-dependent state cannot be
// patched in place, so the session is rebuilt from scratch when reload is on.
// Teardown and the move into Connecting share one critical section; a
// Disconnect arriving during the reload cancels it like any other connect.
func (m *Manager) onChainChanged(epoch uint64, chainID int64) {
	m.mu.Lock()
	if m.epoch != epoch || m.state != Connected {
		m.mu.Unlock()
		return
	}
	signer := m.closeLocked()
	var (
		next uint64
		sctx context.Context
	)
	if m.reload {
		next, sctx = m.beginLocked()
	}
	m.mu.Unlock()

	wallet.Lock(signer)
	m.journal.record(journalRecord{Type: "chain_changed", ChainID: chainID})

	if sctx == nil {
		m.log.Info("Chain changed, session closed", "chain", chainID)
		m.notify(LevelInfo, OpChainChanged, fmt.Sprintf("chain changed to %d; session closed", chainID), nil)
		return
	}
	m.log.Info("Chain changed, reloading session", "chain", chainID)
	m.notify(LevelInfo, OpChainChanged, fmt.Sprintf("chain changed to %d; reloading session", chainID), nil)

	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	// Failures were already reported through the notifier.
	_ = m.establish(ctx, next, sctx)
}

// Sign signs message with the session's signer. Without a connected session
// it fails with ErrNotConnected and leaves the record untouched. There is no
// retry; if the session resets before the wallet answers, the signature is
// dropped and ErrSessionReset returned.
func (m *Manager) Sign(ctx context.Context, message string) (string, error) {
	m.mu.Lock()
	if m.state != Connected || m.signer == nil {
		m.mu.Unlock()
		return "", m.fail(OpSign, ErrNotConnected)
	}
	signer, epoch, sctx := m.signer, m.epoch, m.ctx
	m.mu.Unlock()

	opCtx, stop := bind(ctx, sctx)
	defer stop()

	type result struct {
		sig string
		err error
	}
	done := make(chan result, 1)
	go func() {
		sig, err := signature.Sign(signer, message)
		done <- result{sig, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-opCtx.Done():
		if err := interrupted(opCtx, sctx); errors.Is(err, ErrSessionReset) {
			return "", err
		}
		return "", m.fail(OpSign, opCtx.Err())
	}

	m.mu.Lock()
	if m.epoch != epoch || m.signer != signer {
		m.mu.Unlock()
		m.log.Debug("Discarding signature from superseded session")
		return "", ErrSessionReset
	}
	if r.err != nil {
		m.mu.Unlock()
		return "", m.fail(OpSign, fmt.Errorf("sign message: %w", r.err))
	}
	m.record.Signature = r.sig
	m.mu.Unlock()

	m.journal.record(journalRecord{Type: "signed", Account: signer.Address().Hex(), MsgLen: len(message)})
	return r.sig, nil
}

// Verify recovers the signer of sig over message. It works in any state and
// only touches the SignatureRecord: the recovered address on success,
// cleared when the signature is malformed. Missing input leaves it as is.
func (m *Manager) Verify(message, sig string) (common.Address, error) {
	addr, err := signature.Verify(message, sig)

	m.mu.Lock()
	switch {
	case err == nil:
		a := addr
		m.record.Recovered = &a
	case errors.Is(err, signature.ErrMalformedSignature):
		m.record.Recovered = nil
	}
	m.mu.Unlock()

	if err != nil {
		return common.Address{}, m.fail(OpVerify, err)
	}
	m.journal.record(journalRecord{Type: "verified", MsgLen: len(message)})
	return addr, nil
}

func (m *Manager) fail(op Op, err error) error {
	m.notify(LevelError, op, err.Error(), err)
	return err
}

func (m *Manager) warn(op Op, err error) {
	m.notify(LevelWarn, op, err.Error(), err)
}

func (m *Manager) notify(level Level, op Op, msg string, err error) {
	switch level {
	case LevelError:
		m.log.Error("Session operation failed", "op", op, "err", msg)
	case LevelWarn:
		m.log.Warn("Session step degraded", "op", op, "err", msg)
	default:
		m.log.Info("Session notice", "op", op, "msg", msg)
	}
	m.notifier.Notify(Notice{Time: time.Now(), Level: level, Op: op, Message: msg, Err: err})
}

// bind derives a context that ends when either ctx or scope ends.
func bind(ctx, scope context.Context) (context.Context, context.CancelFunc) {
	out, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(scope, cancel)
	return out, func() {
		stop()
		cancel()
	}
}

// interrupted reports why ctx ended, preferring ErrSessionReset when the
// session scope was cancelled. It returns nil while ctx is live.
func interrupted(ctx, scope context.Context) error {
	if scope.Err() != nil {
		return ErrSessionReset
	}
	return ctx.Err()
}

func networkName(n *provider.Network) string {
	if n == nil {
		return display.Placeholder
	}
	return n.Name
}
