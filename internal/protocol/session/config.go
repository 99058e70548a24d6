package session

import (
	"time"

	"github.com/danmuck/mpdctl/internal/protocol/frame"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport defaults for one daemon connection.
type Config struct {
	ConnectTimeout  time.Duration
	GreetingTimeout time.Duration
	WriteTimeout    time.Duration
	ReadBufferSize  int
	Frame           frame.Limits
	Backoff         BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  5 * time.Second,
		GreetingTimeout: 5 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadBufferSize:  32 * 1024,
		Frame:           frame.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     10 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.GreetingTimeout <= 0 {
		c.GreetingTimeout = def.GreetingTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.Frame.MaxBuffer <= 0 {
		c.Frame = def.Frame
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
