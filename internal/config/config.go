// Package config loads walletsig settings from viper: config file, WALLETSIG_*
// environment variables and bound command-line flags, in viper's usual
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "WALLETSIG"
	DirName    = ".walletsig"
	FileName   = "config"
	FileType   = "yaml"
	DefaultLog = "info"
)

// Keys understood by Load.
const (
	KeyDataDir             = "data_dir"
	KeyRPCURLs             = "rpc_urls"
	KeyAccount             = "account"
	KeyPassword            = "password"
	KeyPrivateKey          = "private_key"
	KeyChainPollInterval   = "chain_poll_interval"
	KeyReloadOnChainChange = "reload_on_chain_change"
	KeyLogLevel            = "log_level"
	KeyListen              = "listen"
	KeyJournal             = "journal"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	DataDir             string        `mapstructure:"data_dir"`
	RPCURLs             []string      `mapstructure:"rpc_urls"`
	Account             string        `mapstructure:"account"`
	Password            string        `mapstructure:"password"`
	PrivateKey          string        `mapstructure:"private_key"`
	ChainPollInterval   time.Duration `mapstructure:"chain_poll_interval"`
	ReloadOnChainChange bool          `mapstructure:"reload_on_chain_change"`
	LogLevel            string        `mapstructure:"log_level"`
	Listen              string        `mapstructure:"listen"`
	Journal             bool          `mapstructure:"journal"`
}

// DefaultDataDir returns $HOME/.walletsig.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// SetDefaults registers defaults and environment binding on v.
func SetDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault(KeyDataDir, dataDir)
	v.SetDefault(KeyRPCURLs, []string{})
	v.SetDefault(KeyAccount, "")
	v.SetDefault(KeyPassword, "")
	v.SetDefault(KeyPrivateKey, "")
	v.SetDefault(KeyChainPollInterval, 4*time.Second)
	v.SetDefault(KeyReloadOnChainChange, true)
	v.SetDefault(KeyLogLevel, DefaultLog)
	v.SetDefault(KeyListen, "127.0.0.1:8787")
	v.SetDefault(KeyJournal, false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load decodes v into a Config and normalizes it.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) normalize() error {
	urls := make([]string, 0, len(c.RPCURLs))
	for _, u := range c.RPCURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	c.RPCURLs = urls

	if a := strings.TrimSpace(c.Account); a != "" {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("%w: account %q is not an address", ErrInvalidConfig, c.Account)
		}
		c.Account = common.HexToAddress(a).Hex()
	}

	if c.ChainPollInterval < 0 {
		return fmt.Errorf("%w: chain_poll_interval must not be negative", ErrInvalidConfig)
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = DefaultLog
	}
	return nil
}

// AccountAddress returns the preferred account, or the zero address.
func (c *Config) AccountAddress() common.Address {
	if c.Account == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Account)
}

// KeystoreDir is where encrypted keys live.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.DataDir, "keystore")
}

// HasEndpoint reports whether an RPC endpoint is configured.
func (c *Config) HasEndpoint() bool {
	return len(c.RPCURLs) > 0
}

// SaveEndpoint writes rpc_urls into the config file at path, keeping any
// other keys already there.
func SaveEndpoint(path string, urls []string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(FileType)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	v.Set(KeyRPCURLs, urls)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// FilePath returns the default config file location inside dataDir.
func FilePath(dataDir string) string {
	return filepath.Join(dataDir, FileName+"."+FileType)
}
