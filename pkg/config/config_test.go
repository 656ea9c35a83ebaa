package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolatedOptions(t *testing.T) LoadOptions {
	t.Helper()
	opts := DefaultLoadOptions()
	opts.EnvFile = filepath.Join(t.TempDir(), "missing.env")
	return opts
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithOptions(isolatedOptions(t))
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.API.Port)
	assert.Equal(t, TestnetHorizonURL, cfg.Stellar.HorizonURL)
	assert.Equal(t, TestnetPassphrase, cfg.Stellar.NetworkPassphrase)
	assert.Equal(t, int64(100), cfg.Submission.BaseFee)
	assert.Equal(t, 300*time.Second, cfg.Submission.ValidityWindow)
	assert.Equal(t, 15*time.Second, cfg.Stellar.RequestTimeout)
	assert.False(t, cfg.Submission.Serialize)
	assert.Empty(t, cfg.Stellar.ServerSecret)
}

func TestLoadUnprefixedEnvNames(t *testing.T) {
	t.Setenv("SERVER_SECRET", "SBEXAMPLE")
	t.Setenv("PORT", "7000")

	cfg, err := LoadWithOptions(isolatedOptions(t))
	require.NoError(t, err)

	assert.Equal(t, "SBEXAMPLE", cfg.Stellar.ServerSecret)
	assert.Equal(t, "7000", cfg.API.Port)
}

func TestLoadPrefixedEnv(t *testing.T) {
	t.Setenv("LUMENPAY_STELLAR_HORIZON_URL", "http://localhost:8000")
	t.Setenv("LUMENPAY_SUBMISSION_VALIDITY_WINDOW", "2m")
	t.Setenv("LUMENPAY_API_CORS_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := LoadWithOptions(isolatedOptions(t))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Stellar.HorizonURL)
	assert.Equal(t, 2*time.Minute, cfg.Submission.ValidityWindow)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.API.CORSAllowedOrigins)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LUMENPAY_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LUMENPAY_LOG_LEVEL") })

	opts := DefaultLoadOptions()
	opts.EnvFile = envFile

	cfg, err := LoadWithOptions(opts)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("api:\n  port: \"6000\"\nredis:\n  enabled: true\n"), 0o600))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--port", "6500", "--serialize"}))

	opts := isolatedOptions(t)
	opts.ConfigFile = file
	opts.Flags = fs

	cfg, err := LoadWithOptions(opts)
	require.NoError(t, err)

	assert.Equal(t, "6500", cfg.API.Port, "flags override the file")
	assert.True(t, cfg.Redis.Enabled)
	assert.True(t, cfg.Submission.Serialize)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadWithOptions(isolatedOptions(t))
	require.NoError(t, err)

	bad := *cfg
	bad.Submission.BaseFee = 10
	bad.Submission.Serialize = true
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_fee")
	assert.Contains(t, err.Error(), "requires redis.enabled")
}

func TestRedacted(t *testing.T) {
	cfg := Config{}
	cfg.Stellar.ServerSecret = "SBSECRET"
	cfg.Auth.JWTSecret = "jwt"

	r := cfg.Redacted()
	assert.Equal(t, "***", r.Stellar.ServerSecret)
	assert.Equal(t, "***", r.Auth.JWTSecret)
	assert.Equal(t, "SBSECRET", cfg.Stellar.ServerSecret)
}
