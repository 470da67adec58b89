package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Defaults(t *testing.T) {
	t.Setenv("PERPX_PRIVATE_KEY", "")
	t.Setenv("PERPX_NETWORK", "")
	t.Setenv("PERPX_INDEXER_URL", "")
	t.Setenv("PERPX_SUBMIT_TIMEOUT_SEC", "")
	t.Setenv("PERPX_LOG_LEVEL", "")
	Reset()

	cfg := Get()
	assert.Equal(t, "arbitrum", cfg.Network)
	assert.Equal(t, 180*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.PrivateKeyHex)
	assert.Empty(t, cfg.IndexerURL)
	assert.Empty(t, cfg.JournalPath)
	assert.False(t, cfg.HTTPDebug)
	assert.NotNil(t, cfg.RPCOverrides)
}

func TestConfig_FromEnvironment(t *testing.T) {
	t.Setenv("PERPX_PRIVATE_KEY", " 0xabc123 ")
	t.Setenv("PERPX_NETWORK", "Base")
	t.Setenv("PERPX_INDEXER_URL", "https://indexer.example.org/")
	t.Setenv("PERPX_JOURNAL_PATH", "/var/lib/perpx/journal.db")
	t.Setenv("PERPX_SUBMIT_TIMEOUT_SEC", "45")
	t.Setenv("PERPX_HTTP_DEBUG", "true")
	t.Setenv("PERPX_LOG_LEVEL", "DEBUG")
	Reset()

	cfg := Get()
	assert.Equal(t, "0xabc123", cfg.PrivateKeyHex)
	assert.Equal(t, "base", cfg.Network)
	assert.Equal(t, "https://indexer.example.org", cfg.IndexerURL)
	assert.Equal(t, "/var/lib/perpx/journal.db", cfg.JournalPath)
	assert.Equal(t, 45*time.Second, cfg.SubmitTimeout)
	assert.True(t, cfg.HTTPDebug)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestConfig_BadTimeoutKeepsDefault(t *testing.T) {
	t.Setenv("PERPX_SUBMIT_TIMEOUT_SEC", "soon")
	Reset()
	assert.Equal(t, 180*time.Second, Get().SubmitTimeout)

	t.Setenv("PERPX_SUBMIT_TIMEOUT_SEC", "-5")
	Reset()
	assert.Equal(t, 180*time.Second, Get().SubmitTimeout)
}

func TestConfig_RPCOverrides(t *testing.T) {
	t.Setenv("PERPX_RPC_ARBITRUM", "https://my-node.internal:8547")
	t.Setenv("PERPX_RPC_BASE", "https://base-node.internal")
	Reset()

	cfg := Get()
	assert.Equal(t, "https://my-node.internal:8547", cfg.RPCOverrides["arbitrum"])
	assert.Equal(t, "https://base-node.internal", cfg.RPCOverrides["base"])
}

func TestConfig_GetInitializesOnce(t *testing.T) {
	Reset()
	first := Get()
	second := Get()
	assert.Same(t, first, second)
}
