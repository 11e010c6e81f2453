package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// DefaultProgramAddress is the ORE v2 program.
const DefaultProgramAddress = "oreV2ZymfyeXgNgBdqMkumTqqAprVqgBWQfoYkrtKWQ"

// ErrAccountNotFound is returned when the ledger has no account at an address.
var ErrAccountNotFound = errors.New("account not found")

// Config holds ledger RPC settings.
type Config struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`

	ProgramAddress string `yaml:"program_address"`
	// ConfigAddress and BusAddresses are derived from the program when empty.
	ConfigAddress string   `yaml:"config_address"`
	BusAddresses  []string `yaml:"bus_addresses"`

	// CacheTTL is how long account reads are cached. Zero disables caching.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// HistoryWindow is how far back from the newest signature the miners report looks.
	HistoryWindow time.Duration `yaml:"history_window"`
	// HistoryLimit caps the number of reported difficulties.
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		URL:            "https://api.mainnet-beta.solana.com",
		Timeout:        30 * time.Second,
		ProgramAddress: DefaultProgramAddress,
		CacheTTL:       5 * time.Second,
		HistoryWindow:  60 * time.Second,
		HistoryLimit:   100,
	}
}

// AccountReader reads raw account data.
type AccountReader interface {
	ReadAccount(ctx context.Context, address string) ([]byte, error)
}

// HistoryReader reads a program's recent transaction history.
type HistoryReader interface {
	ListRecentSignatures(ctx context.Context, program string) ([]SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*TransactionMeta, error)
}

// Client talks JSON-RPC to a ledger node.
type Client struct {
	logger  *zap.Logger
	config  Config
	rpc     *rpc.Client
	cache   *bigcache.BigCache
	timeout time.Duration
}

// NewClient dials the configured node.
func NewClient(ctx context.Context, logger *zap.Logger, config Config) (*Client, error) {
	httpClient := &http.Client{Timeout: config.Timeout}
	rc, err := rpc.DialOptions(ctx, config.URL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", config.URL, err)
	}

	c := &Client{
		logger:  logger,
		config:  config,
		rpc:     rc,
		timeout: config.Timeout,
	}

	if config.CacheTTL > 0 {
		cacheConfig := bigcache.DefaultConfig(config.CacheTTL)
		cacheConfig.Shards = 16
		cacheConfig.MaxEntriesInWindow = 1024
		cacheConfig.CleanWindow = config.CacheTTL
		cacheConfig.Verbose = false
		cache, err := bigcache.New(ctx, cacheConfig)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("failed to create account cache: %w", err)
		}
		c.cache = cache
	}

	return c, nil
}

// Close releases the connection and cache.
func (c *Client) Close() {
	c.rpc.Close()
	if c.cache != nil {
		_ = c.cache.Close()
	}
}

type accountInfo struct {
	Value *struct {
		Data []string `json:"data"`
	} `json:"value"`
}

// ReadAccount implements AccountReader.
func (c *Client) ReadAccount(ctx context.Context, address string) ([]byte, error) {
	if c.cache != nil {
		data, err := c.cache.Get(address)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			c.logger.Warn("Account cache read failed", zap.String("address", address), zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var info accountInfo
	err := c.rpc.CallContext(ctx, &info, "getAccountInfo", address, map[string]any{
		"encoding": "base64",
	})
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo %s: %w", address, err)
	}
	if info.Value == nil || len(info.Value.Data) == 0 {
		return nil, fmt.Errorf("%s: %w", address, ErrAccountNotFound)
	}

	data, err := base64.StdEncoding.DecodeString(info.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("account %s: invalid data encoding: %w", address, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(address, data); err != nil {
			c.logger.Debug("Account cache write failed", zap.String("address", address), zap.Error(err))
		}
	}
	return data, nil
}

// ListRecentSignatures implements HistoryReader. Entries are newest first.
func (c *Client) ListRecentSignatures(ctx context.Context, program string) ([]SignatureInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var sigs []SignatureInfo
	if err := c.rpc.CallContext(ctx, &sigs, "getSignaturesForAddress", program); err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress %s: %w", program, err)
	}
	return sigs, nil
}

// GetTransaction implements HistoryReader.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*TransactionMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var tx *TransactionMeta
	err := c.rpc.CallContext(ctx, &tx, "getTransaction", signature, map[string]any{
		"encoding":                       "json",
		"maxSupportedTransactionVersion": 0,
	})
	if err != nil {
		return nil, fmt.Errorf("getTransaction %s: %w", signature, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s not found", signature)
	}
	return tx, nil
}

// Addresses resolves the config and bus account addresses, deriving any
// that are not configured.
func (c Config) Addresses() (Address, []Address, error) {
	program, err := ParseAddress(c.ProgramAddress)
	if err != nil {
		return Address{}, nil, err
	}

	var configAddr Address
	if c.ConfigAddress != "" {
		configAddr, err = ParseAddress(c.ConfigAddress)
	} else {
		configAddr, err = DeriveConfigAddress(program)
	}
	if err != nil {
		return Address{}, nil, err
	}

	var busses []Address
	if len(c.BusAddresses) > 0 {
		for _, s := range c.BusAddresses {
			a, err := ParseAddress(s)
			if err != nil {
				return Address{}, nil, err
			}
			busses = append(busses, a)
		}
	} else if busses, err = DeriveBusAddresses(program); err != nil {
		return Address{}, nil, err
	}

	return configAddr, busses, nil
}
