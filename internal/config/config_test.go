package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) Lookup {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "absences.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil, env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 500*time.Millisecond, cfg.Shell.SettleDelay)
	assert.Equal(t, "implicit", cfg.Auth.DeliveryMode)
}

func TestLoad_LayersInOrder(t *testing.T) {
	path := writeFile(t, `
site_url: https://file.test/
auth:
  delivery_mode: pkce
  min_password_length: 8
shell:
  settle_delay: 1s
  error_scrub_delay: 3s
`)
	cfg, err := Load([]string{"--config", path, "--settle-delay", "250ms"}, env(map[string]string{
		"ABSENCES_MIN_PASSWORD_LENGTH": "10",
		"ABSENCES_SETTLE_DELAY":        "2s",
		"ABSENCES_ALLOWED_REDIRECTS":   "https://a.test, https://b.test",
	}))
	require.NoError(t, err)

	assert.Equal(t, "https://file.test/", cfg.SiteURL)
	assert.Equal(t, "pkce", cfg.Auth.DeliveryMode)
	assert.Equal(t, 10, cfg.Auth.MinPasswordLength)
	assert.Equal(t, 250*time.Millisecond, cfg.Shell.SettleDelay)
	assert.Equal(t, 3*time.Second, cfg.Shell.ErrorScrubDelay)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Auth.AllowedRedirects)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	path := writeFile(t, "addr: \":9090\"\n")
	cfg, err := Load(nil, env(map[string]string{"ABSENCES_CONFIG": path}))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "auth:\n  deliverymode: pkce\n")
	_, err := Load([]string{"--config", path}, env(nil))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
		want string
	}{
		{"bad mode", []string{"--delivery-mode", "magic"}, nil, "delivery_mode"},
		{"short passwords", nil, map[string]string{"ABSENCES_MIN_PASSWORD_LENGTH": "4"}, "min_password_length"},
		{"relative site", []string{"--site-url", "/app"}, nil, "site_url"},
		{"bad duration", nil, map[string]string{"ABSENCES_SETTLE_DELAY": "soon"}, "ABSENCES_SETTLE_DELAY"},
		{"production secrets", []string{"--env", "production"}, nil, "signing_key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args, env(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestKeys(t *testing.T) {
	cfg := Default()
	key, generated, err := cfg.CSRFKeyBytes()
	require.NoError(t, err)
	assert.True(t, generated)
	assert.Len(t, key, 32)

	cfg.HTTP.CSRFKey = strings.Repeat("ab", 16)
	_, _, err = cfg.CSRFKeyBytes()
	assert.Error(t, err, "a 16 byte CSRF key is too short")

	cfg.Auth.SigningKey = strings.Repeat("cd", 48)
	key, generated, err = cfg.SigningKeyBytes()
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Len(t, key, 48)

	cfg.Environment = Production
	cfg.HTTP.CSRFKey = ""
	_, _, err = cfg.CSRFKeyBytes()
	assert.Error(t, err)
}
