package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMemoryStoreSkipsDatabase(t *testing.T) {
	t.Setenv("APP_PORT", "8080")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "15")
	t.Setenv("ADMIN_PUBKEY", "abc")
	t.Setenv("ADMIN_PASSWORD_HASH", "$2a$10$x")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("AMQP_ENABLED", "yes")

	cfg := Load()
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 15, cfg.AccessTTLMin)
	assert.True(t, cfg.AMQPEnabled)
	assert.Equal(t, 18, cfg.ScryptWorkFactor)
	assert.Empty(t, cfg.DBHost)
}

func TestLoadEnvFileDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BUNKER_TEST_A=file\nBUNKER_TEST_B=file\n"), 0o600))
	t.Setenv("BUNKER_TEST_A", "env")
	t.Cleanup(func() { os.Unsetenv("BUNKER_TEST_B") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "env", os.Getenv("BUNKER_TEST_A"))
	assert.Equal(t, "file", os.Getenv("BUNKER_TEST_B"))
	assert.NoError(t, LoadEnvFile(""))
}

func TestRateLimitDefaultsAreClamped(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 1, cfg.Capacity)
	assert.Equal(t, 10*time.Second, cfg.TTL)
}

func TestCacheMethods(t *testing.T) {
	t.Setenv("CACHE_METHODS", "get, head,")
	cfg := LoadCacheConfig()
	assert.Equal(t, map[string]bool{"GET": true, "HEAD": true}, cfg.Methods)
}
