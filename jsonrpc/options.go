package jsonrpc

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"
)

// Server connection configurable options.
type Options struct {
	// URL is the server's base address, e.g. "https://erp.example.com".
	URL string
	// Database to log into.
	Database string
	// Username of the account the client acts as.
	Username string
	// Password of the account; an API key works here too.
	Password string
	// Timeout bounds one HTTP round trip, defaults to a minute.
	Timeout time.Duration
	// MaxSessions caps concurrent in-flight calls, defaults to 4.
	MaxSessions int
	// TLS config.
	TLSConfig *tls.Config
}

// DefaultOptions for a local dev server.
func DefaultOptions() Options {
	return Options{
		URL:         "http://localhost:8069",
		Database:    "odoo",
		Username:    "admin",
		Password:    "admin",
		Timeout:     time.Minute,
		MaxSessions: 4,
	}
}

func (o Options) validate() error {
	if o.URL == "" {
		return fmt.Errorf("server URL is required")
	}
	if o.Database == "" {
		return fmt.Errorf("database is required")
	}
	if o.Username == "" || o.Password == "" {
		return fmt.Errorf("username and password are required")
	}
	return nil
}

// endpoint is the JSON-RPC entry point derived from the base URL.
func (o Options) endpoint() string {
	return strings.TrimRight(o.URL, "/") + "/jsonrpc"
}
