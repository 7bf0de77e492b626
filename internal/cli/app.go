package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/yolodolo42/walletsig/internal/chain"
	"github.com/yolodolo42/walletsig/internal/config"
	"github.com/yolodolo42/walletsig/internal/provider"
	"github.com/yolodolo42/walletsig/internal/session"
	"github.com/yolodolo42/walletsig/internal/wallet"
	"golang.org/x/term"
)

const logFileName = "walletsig.log"

// setupLogging installs the root logger. Interactive screens log to a file
// in the data directory so records do not draw over the card.
func setupLogging(cfg *config.Config, toFile bool) (io.Closer, error) {
	lvl, err := log.LvlFromString(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	if !toFile {
		color := term.IsTerminal(int(os.Stderr.Fd()))
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, color)))
		return io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(cfg.DataDir, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetDefault(log.NewLogger(log.JSONHandlerWithLevel(f, lvl)))
	return f, nil
}

// app holds everything behind one session manager.
type app struct {
	session *session.Manager
	notices *session.NoticeBuffer
	local   *provider.Local
	client  *chain.Client
	journal *session.Journal
}

type appOptions struct {
	notifier       session.Notifier
	promptPassword bool
}

// newApp wires configuration into a provider and a session manager. A
// missing RPC endpoint or key source leaves the manager without provider,
// so connecting reports the provider as unavailable.
func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{notices: session.NewNoticeBuffer(100)}

	var p provider.Provider
	keys, err := loadKeySource(cfg, opts.promptPassword)
	if err != nil {
		return nil, err
	}
	if keys != nil && cfg.HasEndpoint() {
		a.client = chain.NewClient(cfg.RPCURLs, chain.DialEthclient)
		local, err := provider.NewLocal(provider.LocalConfig{
			Keys:         keys,
			Chain:        a.client,
			Account:      cfg.AccountAddress(),
			PollInterval: cfg.ChainPollInterval,
		})
		if err != nil {
			a.client.Close()
			return nil, err
		}
		a.local = local
		p = local
	}

	sessionOpts := []session.Option{
		session.WithReloadOnChainChange(cfg.ReloadOnChainChange),
	}
	if cfg.Journal {
		j, err := session.OpenJournal(cfg.DataDir)
		if err != nil {
			log.Warn("Session journal disabled", "err", err)
		} else {
			a.journal = j
			sessionOpts = append(sessionOpts, session.WithJournal(j))
		}
	}

	var notifier session.Notifier = a.notices
	if opts.notifier != nil {
		notifier = session.Fanout{a.notices, opts.notifier}
	}
	sessionOpts = append(sessionOpts, session.WithNotifier(notifier))

	a.session = session.New(p, sessionOpts...)
	return a, nil
}

// loadKeySource prefers a raw private key, then the keystore. It returns nil
// when neither holds an account.
func loadKeySource(cfg *config.Config, prompt bool) (provider.KeySource, error) {
	if cfg.PrivateKey != "" {
		src, err := provider.NewRawKeySource(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid private_key: %w", err)
		}
		return src, nil
	}

	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keystore: %w", err)
	}
	if len(km.Accounts()) == 0 {
		return nil, nil
	}

	password := cfg.Password
	if password == "" && prompt && term.IsTerminal(int(os.Stdin.Fd())) {
		password, err = readPassword("Keystore password: ")
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
	}
	return provider.NewKeystoreSource(km, password), nil
}

func (a *app) Close() {
	a.session.Disconnect()
	a.session.Wait()
	if a.local != nil {
		a.local.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	if err := a.journal.Close(); err != nil {
		log.Warn("Failed to close session journal", "err", err)
	}
}
