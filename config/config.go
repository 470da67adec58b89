package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Global config instance
var global *Config

// Config process-wide client settings (loaded from environment / .env)
// Deployment data (contract addresses, pair table) lives in the trader
// package registry, not here; this only carries operator-level knobs.
type Config struct {
	// Wallet
	PrivateKeyHex string // trading key, hex with or without 0x prefix

	// Network selection and overrides
	Network         string            // logical network id, e.g. "arbitrum"
	RPCOverrides    map[string]string // network id -> RPC endpoint override
	DeploymentsFile string            // optional YAML file overriding the registry

	// Collaborators
	IndexerURL  string // read-side indexing service base URL
	JournalPath string // sqlite path for the submission journal, empty = disabled

	// Behavior
	SubmitTimeout time.Duration // patience window for inclusion waits
	HTTPDebug     bool          // wire-level logging of outbound HTTP
	LogLevel      string
}

// Init loads global config from environment variables
func Init() {
	cfg := &Config{
		Network:       "arbitrum",
		RPCOverrides:  map[string]string{},
		SubmitTimeout: 180 * time.Second,
		LogLevel:      "info",
	}

	if v := os.Getenv("PERPX_PRIVATE_KEY"); v != "" {
		cfg.PrivateKeyHex = strings.TrimSpace(v)
	}
	if v := os.Getenv("PERPX_NETWORK"); v != "" {
		cfg.Network = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("PERPX_INDEXER_URL"); v != "" {
		cfg.IndexerURL = strings.TrimRight(strings.TrimSpace(v), "/")
	}
	if v := os.Getenv("PERPX_JOURNAL_PATH"); v != "" {
		cfg.JournalPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("PERPX_DEPLOYMENTS"); v != "" {
		cfg.DeploymentsFile = strings.TrimSpace(v)
	}
	if v := os.Getenv("PERPX_SUBMIT_TIMEOUT_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.SubmitTimeout = time.Duration(sec) * time.Second
		}
	}
	if v := os.Getenv("PERPX_HTTP_DEBUG"); v != "" {
		cfg.HTTPDebug = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("PERPX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}

	// PERPX_RPC_<NETWORK> overrides the registry's default endpoint,
	// e.g. PERPX_RPC_ARBITRUM=https://my-node:8547
	for _, kv := range os.Environ() {
		const prefix = "PERPX_RPC_"
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		rest := strings.TrimPrefix(kv, prefix)
		eq := strings.Index(rest, "=")
		if eq <= 0 {
			continue
		}
		network := strings.ToLower(rest[:eq])
		endpoint := strings.TrimSpace(rest[eq+1:])
		if endpoint != "" {
			cfg.RPCOverrides[network] = endpoint
		}
	}

	global = cfg
}

// Get returns the global config, initializing it on first use
func Get() *Config {
	if global == nil {
		Init()
	}
	return global
}

// Reset clears the global config (tests only)
func Reset() {
	global = nil
}
