// Package secrets fills credential environment variables from a HashiCorp
// Vault KV secret before configuration is loaded.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/concussionrehab/pkg/retry"
)

// ManagedKeys are the only variables the overlay will set.
var ManagedKeys = []string{"GITHUB_TOKEN", "DB_PASSWORD", "REDIS_PASSWORD"}

// VaultConfig describes where the credentials secret lives.
type VaultConfig struct {
	Enabled   bool
	Addr      string
	Token     string
	Namespace string
	Mount     string
	Path      string
	KVVersion int
	Timeout   time.Duration
	Overwrite bool
}

// OverlayResult reports what an overlay run changed.
type OverlayResult struct {
	Applied []string
	Skipped []string
}

// VaultConfigFromEnv reads VAULT_* variables. The overlay is off unless
// VAULT_ENABLED=true.
func VaultConfigFromEnv() VaultConfig {
	cfg := VaultConfig{
		Enabled:   strings.EqualFold(os.Getenv("VAULT_ENABLED"), "true"),
		Addr:      os.Getenv("VAULT_ADDR"),
		Token:     os.Getenv("VAULT_TOKEN"),
		Namespace: os.Getenv("VAULT_NAMESPACE"),
		Mount:     "secret",
		Path:      os.Getenv("VAULT_PATH"),
		KVVersion: 2,
		Timeout:   5 * time.Second,
		Overwrite: strings.EqualFold(os.Getenv("VAULT_OVERWRITE"), "true"),
	}
	if v := os.Getenv("VAULT_MOUNT"); v != "" {
		cfg.Mount = v
	}
	if v, err := strconv.Atoi(os.Getenv("VAULT_KV_VERSION")); err == nil && (v == 1 || v == 2) {
		cfg.KVVersion = v
	}
	if v, err := strconv.Atoi(os.Getenv("VAULT_TIMEOUT_MS")); err == nil && v > 0 {
		cfg.Timeout = time.Duration(v) * time.Millisecond
	}
	return cfg
}

func (c VaultConfig) secretURL() (string, error) {
	addr := strings.TrimRight(c.Addr, "/")
	mount := strings.Trim(c.Mount, "/")
	path := strings.Trim(c.Path, "/")
	if addr == "" || c.Token == "" || mount == "" || path == "" {
		return "", errors.New("vault configuration incomplete (VAULT_ADDR, VAULT_TOKEN, VAULT_PATH)")
	}
	if c.KVVersion == 1 {
		return fmt.Sprintf("%s/v1/%s/%s", addr, mount, path), nil
	}
	return fmt.Sprintf("%s/v1/%s/data/%s", addr, mount, path), nil
}

// ApplyOverlay fetches the secret and exports its managed keys. Variables
// already set are left alone unless Overwrite is true. Unmanaged keys in the
// secret are ignored.
func ApplyOverlay(ctx context.Context, cfg VaultConfig) (OverlayResult, error) {
	var result OverlayResult
	if !cfg.Enabled {
		return result, nil
	}

	url, err := cfg.secretURL()
	if err != nil {
		return result, err
	}

	client := &http.Client{Timeout: cfg.Timeout}
	var data map[string]any
	retryCfg := retry.Config{
		MaxAttempts:     3,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		BackoffFactor:   2,
		MaxTotalTimeout: 3*cfg.Timeout + 5*time.Second,
	}
	err = retry.DoWithLog(ctx, retryCfg, "vault", func() error {
		var fetchErr error
		data, fetchErr = fetchSecret(ctx, client, url, cfg)
		return fetchErr
	}, func(attempt int, err error, next time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("Vault fetch failed")
	})
	if err != nil {
		return result, err
	}

	for _, key := range ManagedKeys {
		raw, ok := data[key]
		if !ok {
			continue
		}
		if !cfg.Overwrite && os.Getenv(key) != "" {
			result.Skipped = append(result.Skipped, key)
			continue
		}
		if err := os.Setenv(key, stringify(raw)); err != nil {
			return result, fmt.Errorf("failed to set %s: %w", key, err)
		}
		result.Applied = append(result.Applied, key)
	}

	log.Info().
		Str("path", cfg.Path).
		Strs("applied", result.Applied).
		Strs("skipped", result.Skipped).
		Msg("Vault credentials applied")
	return result, nil
}

type kvResponse struct {
	Data json.RawMessage `json:"data"`
}

func fetchSecret(ctx context.Context, client *http.Client, url string, cfg VaultConfig) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("X-Vault-Token", cfg.Token)
	if cfg.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", cfg.Namespace)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("vault returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var outer kvResponse
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to decode vault response: %w", err))
	}
	payload := outer.Data
	if cfg.KVVersion == 2 {
		var inner kvResponse
		if err := json.Unmarshal(payload, &inner); err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to decode KV v2 envelope: %w", err))
		}
		payload = inner.Data
	}

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil || data == nil {
		return nil, retry.Permanent(errors.New("vault response has no secret data"))
	}
	return data, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(encoded)
	}
}
