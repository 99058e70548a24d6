package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/mpdctl/internal/config"
	"github.com/danmuck/mpdctl/internal/watch"
)

// loadServiceConfig validates the file, then applies only the keys it sets
// on top of the service defaults.
func loadServiceConfig(path string) (watch.ServiceConfig, error) {
	cfg := watch.DefaultServiceConfig()

	validated, err := config.LoadWatchConfig(path)
	if err != nil {
		return watch.ServiceConfig{}, err
	}

	var raw config.WatchConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return watch.ServiceConfig{}, fmt.Errorf("load watch config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return watch.ServiceConfig{}, fmt.Errorf("load watch config: unknown key %s", undecoded[0])
	}

	if meta.IsDefined("mpd", "host") {
		cfg.Host = validated.MPD.Host
	}
	if meta.IsDefined("mpd", "port") {
		cfg.Port = validated.MPD.Port
	}
	cfg.Client = validated.ClientConfig()

	if meta.IsDefined("watch", "name") {
		cfg.Name = strings.TrimSpace(validated.Watch.Name)
	}
	if meta.IsDefined("watch", "poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(validated.Watch.PollInterval))
		if err != nil {
			return watch.ServiceConfig{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if meta.IsDefined("watch", "admin_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(validated.Watch.AdminAddr)
	}
	if meta.IsDefined("watch", "cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(validated.Watch.CorsOrigins)
	}
	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
