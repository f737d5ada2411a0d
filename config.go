package rpcflow

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/rpcflow/call"
	"github.com/dmitrijs2005/rpcflow/credcache"
	"github.com/dmitrijs2005/rpcflow/internal/timex"
	"github.com/dmitrijs2005/rpcflow/pool"
	"github.com/dmitrijs2005/rpcflow/token"
)

// Config holds the already-resolved runtime settings of a Client. Address
// resolution, TLS material loading and CLI parsing happen outside this
// package; only their results land here.
type Config struct {
	// Endpoint is the fallback host:port for methods without a dedicated
	// entry in MethodEndpoints.
	Endpoint string

	// MethodEndpoints maps full method names to host:port addresses.
	MethodEndpoints map[string]string

	// MaxIdlePerAddress caps the connection pool's idle list per address.
	MaxIdlePerAddress int

	// Timeout, AttemptTimeout, Retries and AuthTimeout are the default
	// per-call budgets.
	Timeout        time.Duration
	AttemptTimeout time.Duration
	Retries        int
	AuthTimeout    time.Duration

	// CredentialFile enables the persistent credential cache; empty
	// keeps renewed tokens in memory only.
	CredentialFile string

	// CredentialName keys this client's token in the credential file.
	CredentialName string

	// LockTimeout bounds credential file lock acquisition.
	LockTimeout time.Duration

	// ThrottleWindow is how long the in-memory credential copy is
	// trusted before re-reading the file.
	ThrottleWindow time.Duration

	// SafetyMargin is the lead time before expiry at which a token is
	// proactively renewed.
	SafetyMargin time.Duration
}

// LoadDefaults populates c with the runtime defaults.
func (c *Config) LoadDefaults() {
	c.MaxIdlePerAddress = pool.DefaultMaxIdlePerAddress
	c.Timeout = call.DefaultTimeout
	c.Retries = call.DefaultRetries
	c.AuthTimeout = call.DefaultAuthTimeout
	c.LockTimeout = credcache.DefaultLockTimeout
	c.ThrottleWindow = credcache.DefaultThrottleWindow
	c.SafetyMargin = token.DefaultSafetyMargin
	c.CredentialName = "default"
}

// jsonConfig is a DTO used exclusively for JSON unmarshalling. Durations
// may be given as strings like "90s" or as integer nanoseconds.
type jsonConfig struct {
	Endpoint          string            `json:"endpoint"`
	MethodEndpoints   map[string]string `json:"method_endpoints"`
	MaxIdlePerAddress *int              `json:"max_idle_per_address"`
	Timeout           *timex.Duration   `json:"timeout"`
	AttemptTimeout    *timex.Duration   `json:"attempt_timeout"`
	Retries           *int              `json:"retries"`
	AuthTimeout       *timex.Duration   `json:"auth_timeout"`
	CredentialFile    string            `json:"credential_file"`
	CredentialName    string            `json:"credential_name"`
	LockTimeout       *timex.Duration   `json:"lock_timeout"`
	ThrottleWindow    *timex.Duration   `json:"throttle_window"`
	SafetyMargin      *timex.Duration   `json:"safety_margin"`
}

// LoadConfig constructs a Config from defaults overlaid with values from
// the JSON file at path. An empty path yields pure defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if jc.Endpoint != "" {
		cfg.Endpoint = jc.Endpoint
	}
	if jc.MethodEndpoints != nil {
		cfg.MethodEndpoints = jc.MethodEndpoints
	}
	if jc.MaxIdlePerAddress != nil {
		cfg.MaxIdlePerAddress = *jc.MaxIdlePerAddress
	}
	if jc.Timeout != nil {
		cfg.Timeout = jc.Timeout.Duration
	}
	if jc.AttemptTimeout != nil {
		cfg.AttemptTimeout = jc.AttemptTimeout.Duration
	}
	if jc.Retries != nil {
		cfg.Retries = *jc.Retries
	}
	if jc.AuthTimeout != nil {
		cfg.AuthTimeout = jc.AuthTimeout.Duration
	}
	if jc.CredentialFile != "" {
		cfg.CredentialFile = jc.CredentialFile
	}
	if jc.CredentialName != "" {
		cfg.CredentialName = jc.CredentialName
	}
	if jc.LockTimeout != nil {
		cfg.LockTimeout = jc.LockTimeout.Duration
	}
	if jc.ThrottleWindow != nil {
		cfg.ThrottleWindow = jc.ThrottleWindow.Duration
	}
	if jc.SafetyMargin != nil {
		cfg.SafetyMargin = jc.SafetyMargin.Duration
	}
	return cfg, nil
}

func (c *Config) callDefaults() call.Options {
	return call.Options{
		Timeout:        c.Timeout,
		AttemptTimeout: c.AttemptTimeout,
		Retries:        c.Retries,
		AuthTimeout:    c.AuthTimeout,
	}
}
