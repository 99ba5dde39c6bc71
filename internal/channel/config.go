package channel

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"roomsync/internal/httputil"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultDialTimeout    = 10 * time.Second
	DefaultPingInterval   = 10 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
)

// Backoff controls the delay before reconnect attempt N (1-based). A
// Multiplier of 1 (the default) keeps the delay constant.
type Backoff struct {
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     bool
}

// Next returns the delay for attempt n. With Jitter the delay is scaled by
// a random factor in [0.5, 1.5).
func (b Backoff) Next(n int) time.Duration {
	delay := float64(b.Delay)
	if n > 1 && b.Multiplier > 1 {
		delay *= math.Pow(b.Multiplier, float64(n-1))
	}
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	if delay < 1 {
		delay = 1
	}
	return time.Duration(delay)
}

type Config struct {
	// URL is the ws:// or wss:// notification endpoint.
	URL          string
	DialTimeout  time.Duration
	PingInterval time.Duration // zero disables keepalive pings
	WriteTimeout time.Duration
	Backoff      Backoff
}

func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		DialTimeout:  DefaultDialTimeout,
		PingInterval: DefaultPingInterval,
		WriteTimeout: DefaultWriteTimeout,
		Backoff:      Backoff{Delay: DefaultReconnectDelay, Multiplier: 1},
	}
}

func (c *Config) Validate() error {
	if err := httputil.ValidateSocketURL(c.URL); err != nil {
		return err
	}
	if c.Backoff.Delay <= 0 {
		return errors.New("reconnect delay must be positive")
	}
	if c.Backoff.Multiplier != 0 && c.Backoff.Multiplier < 1 {
		return errors.New("backoff multiplier must be at least 1")
	}
	if c.PingInterval < 0 {
		return errors.New("ping interval must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}
