package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
)

// ErrNoEndpoints is returned when a Client has no RPC URLs to dial.
var ErrNoEndpoints = errors.New("no RPC endpoints configured")

const (
	dialTimeout    = 10 * time.Second
	chainIDTimeout = 5 * time.Second
)

// Backend is the subset of ethclient.Client the wallet provider needs.
type Backend interface {
	ethereum.ChainIDReader
	ethereum.ContractCaller
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// Dialer opens a Backend for an RPC URL.
type Dialer func(ctx context.Context, rawurl string) (Backend, error)

// DialEthclient is the default Dialer.
func DialEthclient(ctx context.Context, rawurl string) (Backend, error) {
	c, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Client talks to the first reachable endpoint of an ordered URL list and
// redials on demand after Reset.
type Client struct {
	urls   []string
	dial   Dialer
	log    log.Logger
	mu     sync.Mutex
	conn   Backend
	active string
}

// NewClient creates a client over urls, tried in order.
func NewClient(urls []string, dial Dialer) *Client {
	if dial == nil {
		dial = DialEthclient
	}
	return &Client{
		urls: urls,
		dial: dial,
		log:  log.New("module", "chain"),
	}
}

// Endpoint returns the URL of the live connection, if any.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// backend returns the live connection, dialing one if needed. The lock is
// held across dialing so concurrent callers never open duplicate connections.
func (c *Client) backend(ctx context.Context) (Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}
	if len(c.urls) == 0 {
		return nil, ErrNoEndpoints
	}

	var lastErr error
	for _, url := range c.urls {
		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := c.dial(dctx, url)
		cancel()
		if err != nil {
			c.log.Debug("RPC dial failed", "url", url, "err", err)
			lastErr = err
			continue
		}

		// A dial can succeed lazily; check the chain id before committing to the endpoint.
		pctx, cancel := context.WithTimeout(ctx, chainIDTimeout)
		_, err = conn.ChainID(pctx)
		cancel()
		if err != nil {
			conn.Close()
			c.log.Debug("RPC health check failed", "url", url, "err", err)
			lastErr = err
			continue
		}

		c.conn = conn
		c.active = url
		c.log.Info("Connected to RPC endpoint", "url", url)
		return conn, nil
	}

	return nil, fmt.Errorf("failed to connect to any RPC endpoint: %w", lastErr)
}

// ChainID returns the chain id reported by the endpoint.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	b, err := c.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.ChainID(ctx)
}

// BalanceAt returns the latest native balance of account in wei.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	b, err := c.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.BalanceAt(ctx, account, nil)
}

// CallContract executes a read-only call. It satisfies ethereum.ContractCaller.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b, err := c.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.CallContract(ctx, msg, blockNumber)
}

// Reset drops the live connection so the next call redials.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.active = ""
	}
}

// Close closes the live connection.
func (c *Client) Close() {
	c.Reset()
}
