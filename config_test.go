package rpcflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, 4, cfg.MaxIdlePerAddress)
	require.Equal(t, 60*time.Second, cfg.Timeout)
	require.Equal(t, 3, cfg.Retries)
	require.Equal(t, 15*time.Minute, cfg.AuthTimeout)
	require.Equal(t, 5*time.Second, cfg.LockTimeout)
	require.Equal(t, 5*time.Minute, cfg.ThrottleWindow)
	require.Equal(t, time.Minute, cfg.SafetyMargin)
	require.Equal(t, "default", cfg.CredentialName)
	require.Empty(t, cfg.CredentialFile)
}

func TestLoadConfig_FileOverlaysDefaults(t *testing.T) {
	path := writeConfigFile(t, `{
		"endpoint": "svc:9000",
		"method_endpoints": {"/svc.Jobs/Submit": "jobs:9000"},
		"max_idle_per_address": 8,
		"timeout": "90s",
		"attempt_timeout": "20s",
		"retries": 5,
		"auth_timeout": "10m",
		"credential_file": "/var/cache/creds.json",
		"credential_name": "svc-a",
		"lock_timeout": "2s",
		"throttle_window": "1m",
		"safety_margin": "30s"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "svc:9000", cfg.Endpoint)
	require.Equal(t, map[string]string{"/svc.Jobs/Submit": "jobs:9000"}, cfg.MethodEndpoints)
	require.Equal(t, 8, cfg.MaxIdlePerAddress)
	require.Equal(t, 90*time.Second, cfg.Timeout)
	require.Equal(t, 20*time.Second, cfg.AttemptTimeout)
	require.Equal(t, 5, cfg.Retries)
	require.Equal(t, 10*time.Minute, cfg.AuthTimeout)
	require.Equal(t, "/var/cache/creds.json", cfg.CredentialFile)
	require.Equal(t, "svc-a", cfg.CredentialName)
	require.Equal(t, 2*time.Second, cfg.LockTimeout)
	require.Equal(t, time.Minute, cfg.ThrottleWindow)
	require.Equal(t, 30*time.Second, cfg.SafetyMargin)
}

func TestLoadConfig_PartialFileKeepsOtherDefaults(t *testing.T) {
	path := writeConfigFile(t, `{"timeout": "30s"}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, 3, cfg.Retries)
	require.Equal(t, 15*time.Minute, cfg.AuthTimeout)
}

func TestLoadConfig_DurationAsNanoseconds(t *testing.T) {
	path := writeConfigFile(t, `{"timeout": 30000000000}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfigFile(t, `{broken`))
	require.Error(t, err)

	_, err = LoadConfig(writeConfigFile(t, `{"timeout": "soon"}`))
	require.Error(t, err)
}
