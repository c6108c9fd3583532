package connection

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/logbookhq/logbook/internal/codec"
	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/logger"
)

// Config holds everything a WebSocketConnection needs.
type Config struct {
	URL         url.URL
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger

	// Timeout bounds the wait for each RPC response. 0 disables it.
	Timeout time.Duration
	// Retryer decides how Connect retries a failed dial. nil dials once.
	Retryer Retryer
}

// NewConfig creates a Config for the server at u, e.g. "ws://127.0.0.1:8765".
func NewConfig(u *url.URL) *Config {
	c := codec.NewCBOR()
	return &Config{
		URL:         *u,
		BaseURL:     fmt.Sprintf("%s://%s", u.Scheme, u.Host),
		Marshaler:   c,
		Unmarshaler: c,
		Logger:      logger.New(slog.NewTextHandler(os.Stdout, nil)),
		Timeout:     constants.DefaultRequestTimeout,
	}
}

// ParseConfig parses rawURL and returns NewConfig for it.
func ParseConfig(rawURL string) (*Config, error) {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case constants.WebsocketScheme, constants.WebsocketSecureScheme:
	default:
		return nil, fmt.Errorf("invalid websocket url scheme %q", u.Scheme)
	}
	return NewConfig(u), nil
}
