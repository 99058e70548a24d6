package config

import (
	"github.com/danmuck/mpdctl/internal/mpd"
)

// ClientConfig maps the [mpd] section onto client settings. Unset values keep
// the client defaults. The config is expected to be validated.
func (c WatchConfig) ClientConfig() mpd.Config {
	out := mpd.DefaultConfig()
	if c.MPD.AutoReconnect != nil {
		out.AutoReconnect = *c.MPD.AutoReconnect
	}
	if d, _ := parseDuration(c.MPD.ConnectTimeout); d > 0 {
		out.Session.ConnectTimeout = d
	}
	if d, _ := parseDuration(c.MPD.GreetingTimeout); d > 0 {
		out.Session.GreetingTimeout = d
	}
	if d, _ := parseDuration(c.MPD.WriteTimeout); d > 0 {
		out.Session.WriteTimeout = d
	}
	return out
}
