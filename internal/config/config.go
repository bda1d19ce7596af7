// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds the agent configuration loaded from environment variables.
type Config struct {
	DBPath     string
	ListenAddr string

	AnalyzeEndpoint string
	Pages           []string

	BaseInterval time.Duration
	IdleDelay    time.Duration
	MinInterval  time.Duration

	AuthorizeURL string
	TokenURL     string
	UserinfoURL  string
	RevokeURL    string
	ClientID     string
	Scopes       string
	RedirectAddr string

	// StrictState rejects authorization redirects whose state does not match
	// the login nonce. Off by default: the lenient mode matches the system
	// this agent descends from, which logs the mismatch and proceeds.
	// Integrators who cannot accept forged redirects should set
	// PROMPTWATCH_STRICT_STATE=true.
	StrictState bool

	SaveData bool

	// SecretKey enables AES-256-GCM encryption of persisted state values.
	// nil disables encryption.
	SecretKey []byte
}

// HasAuthProvider returns true when enough OAuth configuration is present
// for interactive login. Without it the agent still runs; deliveries are
// simply unauthenticated.
func (c *Config) HasAuthProvider() bool {
	return c.AuthorizeURL != "" && c.TokenURL != "" && c.ClientID != ""
}

// Load reads configuration from environment variables and returns a validated
// Config. All variables are optional; defaults target a local analysis
// backend on port 8000. Optional variables with defaults:
// PROMPTWATCH_LISTEN_ADDR (127.0.0.1:8091), PROMPTWATCH_DB_PATH
// (promptwatch.db), PROMPTWATCH_ANALYZE_ENDPOINT
// (http://127.0.0.1:8000/analyze), PROMPTWATCH_IDLE_DELAY (5s),
// PROMPTWATCH_BASE_INTERVAL (20s), PROMPTWATCH_MIN_INTERVAL (5s),
// PROMPTWATCH_REDIRECT_ADDR (127.0.0.1:8917).
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:          "promptwatch.db",
		ListenAddr:      "127.0.0.1:8091",
		AnalyzeEndpoint: "http://127.0.0.1:8000/analyze",
		BaseInterval:    20 * time.Second,
		IdleDelay:       5 * time.Second,
		MinInterval:     5 * time.Second,
		RedirectAddr:    "127.0.0.1:8917",
		Scopes:          "openid email",
	}

	if v, ok := os.LookupEnv("PROMPTWATCH_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("PROMPTWATCH_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}

	if v, ok := os.LookupEnv("PROMPTWATCH_ANALYZE_ENDPOINT"); ok {
		if _, err := url.ParseRequestURI(v); err != nil {
			return nil, fmt.Errorf("PROMPTWATCH_ANALYZE_ENDPOINT has invalid URL %q: %w", v, err)
		}
		cfg.AnalyzeEndpoint = v
	}

	if v, ok := os.LookupEnv("PROMPTWATCH_PAGES"); ok && v != "" {
		for _, raw := range strings.Split(v, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			u, err := url.ParseRequestURI(raw)
			if err != nil || u.Host == "" {
				return nil, fmt.Errorf("PROMPTWATCH_PAGES has invalid URL %q", raw)
			}
			cfg.Pages = append(cfg.Pages, raw)
		}
	}
	if cfg.Pages == nil {
		cfg.Pages = []string{}
	}

	var err error
	if cfg.BaseInterval, err = durationEnv("PROMPTWATCH_BASE_INTERVAL", cfg.BaseInterval); err != nil {
		return nil, err
	}
	if cfg.IdleDelay, err = durationEnv("PROMPTWATCH_IDLE_DELAY", cfg.IdleDelay); err != nil {
		return nil, err
	}
	if cfg.MinInterval, err = durationEnv("PROMPTWATCH_MIN_INTERVAL", cfg.MinInterval); err != nil {
		return nil, err
	}

	cfg.AuthorizeURL = os.Getenv("PROMPTWATCH_AUTH_URL")
	cfg.TokenURL = os.Getenv("PROMPTWATCH_TOKEN_URL")
	cfg.UserinfoURL = os.Getenv("PROMPTWATCH_USERINFO_URL")
	cfg.RevokeURL = os.Getenv("PROMPTWATCH_REVOKE_URL")
	cfg.ClientID = os.Getenv("PROMPTWATCH_CLIENT_ID")
	if v, ok := os.LookupEnv("PROMPTWATCH_OAUTH_SCOPES"); ok {
		cfg.Scopes = v
	}
	if v, ok := os.LookupEnv("PROMPTWATCH_REDIRECT_ADDR"); ok {
		cfg.RedirectAddr = v
	}

	cfg.StrictState = boolEnv("PROMPTWATCH_STRICT_STATE")
	cfg.SaveData = boolEnv("PROMPTWATCH_SAVE_DATA")

	if v, ok := os.LookupEnv("PROMPTWATCH_SECRET_KEY"); ok && v != "" {
		key, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("PROMPTWATCH_SECRET_KEY is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("PROMPTWATCH_SECRET_KEY must decode to 32 bytes, got %d", len(key))
		}
		cfg.SecretKey = key
	}

	return cfg, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", name, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", name, v)
	}
	return parsed, nil
}

func boolEnv(name string) bool {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
