package streamlink

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// GatewayConfig holds the configuration for a chat gateway client.
type GatewayConfig struct {
	// Token is the bot token sent in identify and resume.
	// Fallback: DISCORD_TOKEN environment variable.
	Token string

	// URL is the gateway endpoint for fresh connections.
	// Default: DefaultGatewayURL.
	URL string

	// ResolveURL, if set, is asked for the endpoint before every fresh
	// connection and takes precedence over URL.
	ResolveURL func(ctx context.Context) (string, error)

	// Intents is the capability bitmask sent in identify.
	// Default: DefaultIntents.
	Intents int

	// ClientName is reported as browser and device in identify.
	ClientName string
}

// CredentialFunc returns the login-session credential ("user:session")
// that authenticates a push connection.
type CredentialFunc func(ctx context.Context) (string, error)

// PushConfig holds the configuration for a device status push client.
type PushConfig struct {
	// BaseURL is the device's web root, http(s) or ws(s).
	// Fallback: OCTOPRINT_URL environment variable.
	BaseURL string

	// Credential supplies the auth message sent after the session opens.
	// If nil no auth is sent and the server decides what is visible.
	Credential CredentialFunc

	// Subscription is sent as {"subscribe": Subscription} on open.
	// Default: DefaultSubscription.
	Subscription any

	// Watchdog is how long the connection may stay silent before it is
	// presumed dead. Default: DefaultWatchdog.
	Watchdog time.Duration
}

// resolveGatewayConfig fills empty fields from the environment and defaults.
func resolveGatewayConfig(cfg GatewayConfig) (GatewayConfig, error) {
	if cfg.Token == "" {
		cfg.Token = os.Getenv("DISCORD_TOKEN")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultGatewayURL
	}
	if cfg.Intents == 0 {
		cfg.Intents = DefaultIntents
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "streamlink"
	}

	if cfg.Token == "" {
		return cfg, fmt.Errorf("Token is required (set in GatewayConfig or DISCORD_TOKEN env)")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return cfg, fmt.Errorf("invalid gateway URL: %w", err)
	}
	return cfg, nil
}

// resolvePushConfig fills empty fields from the environment and defaults.
func resolvePushConfig(cfg PushConfig) (PushConfig, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OCTOPRINT_URL")
	}
	if cfg.Subscription == nil {
		cfg.Subscription = DefaultSubscription
	}
	if cfg.Watchdog <= 0 {
		cfg.Watchdog = DefaultWatchdog
	}

	if cfg.BaseURL == "" {
		return cfg, fmt.Errorf("BaseURL is required (set in PushConfig or OCTOPRINT_URL env)")
	}
	base, err := websocketBase(cfg.BaseURL)
	if err != nil {
		return cfg, err
	}
	cfg.BaseURL = base
	return cfg, nil
}

// websocketBase maps an http(s) web root onto the matching ws(s) scheme.
func websocketBase(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid base URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q: missing host", raw)
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}
