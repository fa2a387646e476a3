// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package eventsync

import (
	"context"
	"log/slog"
	"time"
)

// Config holds configuration for the sync engine.
type Config struct {
	URL      string // server endpoint handed to the transport
	UserID   string // signed-in user; attributed on every outbound frame
	UserName string // display name used for host/author fields

	HeartbeatInterval    time.Duration // e.g. 30s while connected
	ReconnectBaseDelay   time.Duration // backoff is base * 2^attempt
	MaxReconnectAttempts int           // after this many, stop and surface an error

	// TokenProvider optionally supplies an auth token (e.g. a JWT) included
	// in the auth frame sent on every fresh connection.
	TokenProvider func(ctx context.Context) (string, error)

	Logger *slog.Logger // nil means slog.Default()
}

// DefaultConfig returns a configuration with production defaults. URL and
// user identity must be provided by the caller.
func DefaultConfig(url, userID, userName string) *Config {
	return &Config{
		URL:                  url,
		UserID:               userID,
		UserName:             userName,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
