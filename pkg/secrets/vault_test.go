package secrets_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/concussionrehab/pkg/secrets"
)

func vaultServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func baseConfig(addr string) secrets.VaultConfig {
	return secrets.VaultConfig{
		Enabled:   true,
		Addr:      addr,
		Token:     "root",
		Mount:     "secret",
		Path:      "concussion-rehab",
		KVVersion: 2,
		Timeout:   time.Second,
	}
}

func clearManaged(t *testing.T) {
	t.Helper()
	for _, key := range secrets.ManagedKeys {
		t.Setenv(key, "")
	}
}

func TestApplyOverlay_Disabled(t *testing.T) {
	result, err := secrets.ApplyOverlay(context.Background(), secrets.VaultConfig{})
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
}

func TestApplyOverlay_KV2(t *testing.T) {
	clearManaged(t)
	t.Setenv("REDIS_PASSWORD", "from-env")

	srv := vaultServer(t, http.StatusOK,
		`{"data":{"data":{"GITHUB_TOKEN":"ghp_test","DB_PASSWORD":"pg-secret","REDIS_PASSWORD":"vault-redis","UNRELATED":"x"},"metadata":{"version":3}}}`, nil)

	result, err := secrets.ApplyOverlay(context.Background(), baseConfig(srv.URL))
	require.NoError(t, err)

	assert.Equal(t, []string{"GITHUB_TOKEN", "DB_PASSWORD"}, result.Applied)
	assert.Equal(t, []string{"REDIS_PASSWORD"}, result.Skipped)
	assert.Equal(t, "ghp_test", os.Getenv("GITHUB_TOKEN"))
	assert.Equal(t, "pg-secret", os.Getenv("DB_PASSWORD"))
	assert.Equal(t, "from-env", os.Getenv("REDIS_PASSWORD"))
	_, set := os.LookupEnv("UNRELATED")
	assert.False(t, set)
}

func TestApplyOverlay_KV1Overwrite(t *testing.T) {
	clearManaged(t)
	t.Setenv("DB_PASSWORD", "old")

	srv := vaultServer(t, http.StatusOK, `{"data":{"DB_PASSWORD":12345}}`, nil)
	cfg := baseConfig(srv.URL)
	cfg.KVVersion = 1
	cfg.Overwrite = true

	result, err := secrets.ApplyOverlay(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"DB_PASSWORD"}, result.Applied)
	assert.Equal(t, "12345", os.Getenv("DB_PASSWORD"))
}

func TestApplyOverlay_Errors(t *testing.T) {
	t.Run("incomplete config", func(t *testing.T) {
		_, err := secrets.ApplyOverlay(context.Background(), secrets.VaultConfig{Enabled: true, Addr: "http://vault"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "incomplete")
	})

	t.Run("forbidden is not retried", func(t *testing.T) {
		var hits int32
		srv := vaultServer(t, http.StatusOK, `{}`, &hits)
		cfg := baseConfig(srv.URL)
		cfg.Token = "wrong"

		_, err := secrets.ApplyOverlay(context.Background(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})

	t.Run("server errors are retried", func(t *testing.T) {
		var hits int32
		srv := vaultServer(t, http.StatusServiceUnavailable, `sealed`, &hits)

		_, err := secrets.ApplyOverlay(context.Background(), baseConfig(srv.URL))
		require.Error(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	})

	t.Run("missing data", func(t *testing.T) {
		srv := vaultServer(t, http.StatusOK, `{"data":null}`, nil)
		_, err := secrets.ApplyOverlay(context.Background(), baseConfig(srv.URL))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no secret data")
	})
}

func TestVaultConfigFromEnv(t *testing.T) {
	t.Setenv("VAULT_ENABLED", "TRUE")
	t.Setenv("VAULT_ADDR", "http://vault:8200")
	t.Setenv("VAULT_MOUNT", "")
	t.Setenv("VAULT_KV_VERSION", "1")
	t.Setenv("VAULT_TIMEOUT_MS", "250")

	cfg := secrets.VaultConfigFromEnv()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "secret", cfg.Mount)
	assert.Equal(t, 1, cfg.KVVersion)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
}
