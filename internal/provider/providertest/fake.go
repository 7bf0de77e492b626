// Package providertest provides an in-memory wallet provider for tests.
package providertest

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/yolodolo42/walletsig/internal/provider"
	"github.com/yolodolo42/walletsig/internal/wallet"
)

// Method names accepted by FailOn, Gate and Calls.
const (
	MethodListAccounts  = "ListAccounts"
	MethodGetBalance    = "GetBalance"
	MethodGetNetwork    = "GetNetwork"
	MethodLookupAddress = "LookupAddress"
	MethodGetAvatar     = "GetAvatar"
	MethodGetSigner     = "GetSigner"
)

// Provider is a scriptable provider.Provider. Zero values mean "nothing
// registered": no accounts, zero balances, no names.
type Provider struct {
	mu       sync.Mutex
	accounts []common.Address
	keys     map[common.Address]*ecdsa.PrivateKey
	balances map[common.Address]*big.Int
	network  provider.Network
	names    map[common.Address]string
	avatars  map[string]string
	errs     map[string]error
	gates    map[string]chan struct{}
	calls    map[string]int

	accountsFeed event.Feed
	chainFeed    event.Feed
	accountSubs  atomic.Int32
	chainSubs    atomic.Int32
}

var _ provider.Provider = (*Provider)(nil)

// New returns a provider on chain 1 with no accounts.
func New() *Provider {
	return &Provider{
		keys:     map[common.Address]*ecdsa.PrivateKey{},
		balances: map[common.Address]*big.Int{},
		network:  provider.Network{ChainID: 1, Name: "homestead"},
		names:    map[common.Address]string{},
		avatars:  map[string]string{},
		errs:     map[string]error{},
		gates:    map[string]chan struct{}{},
		calls:    map[string]int{},
	}
}

// AddAccount registers a fresh key and returns its address.
func (p *Provider) AddAccount() common.Address {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return p.AddKey(key)
}

// AddKey registers key and returns its address.
func (p *Provider) AddKey(key *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = append(p.accounts, addr)
	p.keys[addr] = key
	return addr
}

// SetAccounts overrides the ListAccounts result without touching keys.
func (p *Provider) SetAccounts(accs ...common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = accs
}

// SelectAccount moves account to the front of the list and notifies
// listeners, the way a wallet switching accounts does.
func (p *Provider) SelectAccount(account common.Address) error {
	p.mu.Lock()
	idx := -1
	for i, a := range p.accounts {
		if a == account {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return fmt.Errorf("unknown account %s", account.Hex())
	}
	rest := append(append([]common.Address{}, p.accounts[:idx]...), p.accounts[idx+1:]...)
	p.accounts = append([]common.Address{account}, rest...)
	p.mu.Unlock()

	p.accountsFeed.Send(account)
	return nil
}

func (p *Provider) SetBalance(account common.Address, wei *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[account] = wei
}

func (p *Provider) SetNetwork(n provider.Network) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.network = n
}

func (p *Provider) SetName(account common.Address, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names[account] = name
}

func (p *Provider) SetAvatar(name, uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.avatars[name] = uri
}

// FailOn makes method return err until cleared with a nil err.
func (p *Provider) FailOn(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, method)
		return
	}
	p.errs[method] = err
}

// Gate blocks method until the returned release func is called or the
// call's context ends.
func (p *Provider) Gate(method string) (release func()) {
	ch := make(chan struct{})
	p.mu.Lock()
	p.gates[method] = ch
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.gates[method] == ch {
				delete(p.gates, method)
			}
			p.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many times method has been invoked.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// Subscribers returns the live account and chain listener counts.
func (p *Provider) Subscribers() (accounts, chains int) {
	return int(p.accountSubs.Load()), int(p.chainSubs.Load())
}

// EmitAccountsChanged delivers account to every account listener and
// returns how many received it.
func (p *Provider) EmitAccountsChanged(account common.Address) int {
	return p.accountsFeed.Send(account)
}

// EmitChainChanged delivers chainID to every chain listener.
func (p *Provider) EmitChainChanged(chainID int64) int {
	p.mu.Lock()
	p.network.ChainID = chainID
	p.mu.Unlock()
	return p.chainFeed.Send(chainID)
}

func (p *Provider) enter(ctx context.Context, method string) error {
	p.mu.Lock()
	p.calls[method]++
	gate := p.gates[method]
	err := p.errs[method]
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *Provider) ListAccounts(ctx context.Context) ([]common.Address, error) {
	if err := p.enter(ctx, MethodListAccounts); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]common.Address(nil), p.accounts...), nil
}

func (p *Provider) GetBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	if err := p.enter(ctx, MethodGetBalance); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (p *Provider) GetNetwork(ctx context.Context) (provider.Network, error) {
	if err := p.enter(ctx, MethodGetNetwork); err != nil {
		return provider.Network{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.network, nil
}

func (p *Provider) LookupAddress(ctx context.Context, account common.Address) (string, error) {
	if err := p.enter(ctx, MethodLookupAddress); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.names[account], nil
}

func (p *Provider) GetAvatar(ctx context.Context, name string) (string, error) {
	if err := p.enter(ctx, MethodGetAvatar); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.avatars[name], nil
}

// GetSigner returns a new signer per call, like an injected wallet handing
// out a fresh signer object.
func (p *Provider) GetSigner(account common.Address) (wallet.Signer, error) {
	if err := p.enter(context.Background(), MethodGetSigner); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.keys[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", wallet.ErrAccountNotFound, account.Hex())
	}
	return wallet.NewKeySignerFromKey(key), nil
}

func (p *Provider) SubscribeAccountsChanged(sink chan<- common.Address) event.Subscription {
	return counted(&p.accountSubs, p.accountsFeed.Subscribe(sink))
}

func (p *Provider) SubscribeChainChanged(sink chan<- int64) event.Subscription {
	return counted(&p.chainSubs, p.chainFeed.Subscribe(sink))
}

type countedSub struct {
	event.Subscription
	n    *atomic.Int32
	once sync.Once
}

func counted(n *atomic.Int32, sub event.Subscription) event.Subscription {
	n.Add(1)
	return &countedSub{Subscription: sub, n: n}
}

func (s *countedSub) Unsubscribe() {
	s.once.Do(func() { s.n.Add(-1) })
	s.Subscription.Unsubscribe()
}
