package provider

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/yolodolo42/walletsig/internal/chain"
	"github.com/yolodolo42/walletsig/internal/ens"
	"github.com/yolodolo42/walletsig/internal/wallet"
)

// DefaultPollInterval is how often a Local provider checks for chain switches.
const DefaultPollInterval = 4 * time.Second

// ChainReader is the RPC surface a Local provider needs; *chain.Client
// satisfies it.
type ChainReader interface {
	ethereum.ContractCaller
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// LocalConfig configures a Local provider.
type LocalConfig struct {
	Keys  KeySource
	Chain ChainReader

	// Account, when set and present in Keys, is the initially active account.
	Account common.Address

	// PollInterval between chain id checks; DefaultPollInterval when zero.
	PollInterval time.Duration
}

// Local is a wallet provider running in-process: accounts and signing come
// from a KeySource, chain state from an RPC endpoint.
type Local struct {
	keys     KeySource
	chain    ChainReader
	interval time.Duration
	log      log.Logger

	mu        sync.Mutex
	preferred common.Address
	active    common.Address
	lastChain int64

	accountsFeed event.Feed
	chainFeed    event.Feed
	scope        event.SubscriptionScope

	startOnce sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

// NewLocal assembles a provider. It fails with ErrNoProvider when either the
// key source or the chain backend is missing.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.Keys == nil || cfg.Chain == nil {
		return nil, ErrNoProvider
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	p := &Local{
		keys:      cfg.Keys,
		chain:     cfg.Chain,
		interval:  interval,
		log:       log.New("module", "provider"),
		preferred: cfg.Account,
		quit:      make(chan struct{}),
	}
	p.active = p.pickActive()
	return p, nil
}

// pickActive returns the preferred account if present, else the first one.
func (p *Local) pickActive() common.Address {
	accs := p.keys.Accounts()
	if len(accs) == 0 {
		return common.Address{}
	}
	for _, a := range accs {
		if a == p.preferred {
			return a
		}
	}
	return accs[0]
}

// ListAccounts returns the accounts with the active one first.
func (p *Local) ListAccounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	active := p.pickActive()
	p.active = active
	p.mu.Unlock()

	accs := p.keys.Accounts()
	out := make([]common.Address, 0, len(accs))
	if active != (common.Address{}) {
		out = append(out, active)
	}
	for _, a := range accs {
		if a != active {
			out = append(out, a)
		}
	}
	return out, nil
}

// SelectAccount makes account the active one and notifies subscribers.
func (p *Local) SelectAccount(account common.Address) error {
	found := false
	for _, a := range p.keys.Accounts() {
		if a == account {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", wallet.ErrAccountNotFound, account.Hex())
	}

	p.mu.Lock()
	p.preferred = account
	changed := p.active != account
	p.active = account
	p.mu.Unlock()

	if changed {
		p.log.Info("Active account selected", "account", account)
		p.accountsFeed.Send(account)
	}
	return nil
}

func (p *Local) GetBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return p.chain.BalanceAt(ctx, account)
}

// GetNetwork reports the endpoint's chain, named from the known network table.
func (p *Local) GetNetwork(ctx context.Context) (Network, error) {
	id, err := p.chain.ChainID(ctx)
	if err != nil {
		return Network{}, err
	}

	p.mu.Lock()
	p.lastChain = id.Int64()
	p.mu.Unlock()

	n := chain.LookupNetwork(id.Int64())
	return Network{ChainID: n.ChainID, ENSAddress: n.ENSRegistry, Name: n.Name}, nil
}

func (p *Local) resolver(ctx context.Context) (*ens.Resolver, error) {
	n, err := p.GetNetwork(ctx)
	if err != nil {
		return nil, err
	}
	if n.ENSAddress == nil {
		return nil, fmt.Errorf("%w (chain %d)", ErrENSUnsupported, n.ChainID)
	}
	return ens.NewResolver(p.chain, *n.ENSAddress), nil
}

func (p *Local) LookupAddress(ctx context.Context, account common.Address) (string, error) {
	r, err := p.resolver(ctx)
	if err != nil {
		return "", err
	}
	return r.LookupAddress(ctx, account)
}

func (p *Local) GetAvatar(ctx context.Context, name string) (string, error) {
	r, err := p.resolver(ctx)
	if err != nil {
		return "", err
	}
	return r.Avatar(ctx, name)
}

func (p *Local) GetSigner(account common.Address) (wallet.Signer, error) {
	return p.keys.Signer(account)
}

func (p *Local) SubscribeAccountsChanged(sink chan<- common.Address) event.Subscription {
	p.startOnce.Do(p.start)
	return p.scope.Track(p.accountsFeed.Subscribe(sink))
}

func (p *Local) SubscribeChainChanged(sink chan<- int64) event.Subscription {
	p.startOnce.Do(p.start)
	return p.scope.Track(p.chainFeed.Subscribe(sink))
}

// start launches the account and chain watchers on first subscription.
func (p *Local) start() {
	p.wg.Add(2)
	go p.watchAccounts()
	go p.pollChain()
}

func (p *Local) watchAccounts() {
	defer p.wg.Done()

	events := make(chan accounts.WalletEvent, 16)
	sub := p.keys.Subscribe(events)
	defer sub.Unsubscribe()

	for {
		select {
		case <-events:
			p.mu.Lock()
			next := p.pickActive()
			changed := next != p.active
			p.active = next
			p.mu.Unlock()

			if changed {
				p.log.Info("Active account changed", "account", next)
				p.accountsFeed.Send(next)
			}
		case err := <-sub.Err():
			if err != nil {
				p.log.Warn("Keystore subscription failed", "err", err)
			}
			return
		case <-p.quit:
			return
		}
	}
}

func (p *Local) pollChain() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.interval)
			id, err := p.chain.ChainID(ctx)
			cancel()
			if err != nil {
				p.log.Debug("Chain id poll failed", "err", err)
				continue
			}

			p.mu.Lock()
			prev := p.lastChain
			p.lastChain = id.Int64()
			p.mu.Unlock()

			if prev != 0 && prev != id.Int64() {
				p.log.Info("Chain changed", "from", prev, "to", id)
				p.chainFeed.Send(id.Int64())
			}
		case <-p.quit:
			return
		}
	}
}

// Close stops the watchers and ends every subscription.
func (p *Local) Close() {
	select {
	case <-p.quit:
		return
	default:
		close(p.quit)
	}
	p.scope.Close()
	p.wg.Wait()
}
