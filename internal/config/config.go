package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// WatchConfig is the file model of the monitoring service.
type WatchConfig struct {
	MPD   MPDSection   `toml:"mpd"`
	Watch WatchSection `toml:"watch"`
}

type MPDSection struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	AutoReconnect   *bool  `toml:"auto_reconnect"`
	ConnectTimeout  string `toml:"connect_timeout"`
	GreetingTimeout string `toml:"greeting_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
}

type WatchSection struct {
	Name         string   `toml:"name"`
	PollInterval string   `toml:"poll_interval"`
	AdminAddr    string   `toml:"admin_addr"`
	CorsOrigins  []string `toml:"cors_origins"`
}

const (
	DefaultHost         = "localhost"
	DefaultPort         = 6600
	DefaultName         = "mpdwatch"
	DefaultPollInterval = "2s"
)

func LoadWatchConfig(path string) (WatchConfig, error) {
	var cfg WatchConfig
	if err := loadToml(path, &cfg); err != nil {
		return WatchConfig{}, err
	}
	cfg.applyDefaults()
	if err := ValidateWatchConfig(cfg); err != nil {
		return WatchConfig{}, err
	}
	return cfg, nil
}

func (c *WatchConfig) applyDefaults() {
	if strings.TrimSpace(c.MPD.Host) == "" {
		c.MPD.Host = DefaultHost
	}
	if c.MPD.Port == 0 {
		c.MPD.Port = DefaultPort
	}
	if strings.TrimSpace(c.Watch.Name) == "" {
		c.Watch.Name = DefaultName
	}
	if strings.TrimSpace(c.Watch.PollInterval) == "" {
		c.Watch.PollInterval = DefaultPollInterval
	}
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateWatchConfig(cfg WatchConfig) error {
	if strings.TrimSpace(cfg.MPD.Host) == "" {
		return fmt.Errorf("mpd config missing host")
	}
	if cfg.MPD.Port <= 0 || cfg.MPD.Port > 65535 {
		return fmt.Errorf("mpd config port out of range: %d", cfg.MPD.Port)
	}
	for key, raw := range map[string]string{
		"mpd.connect_timeout":  cfg.MPD.ConnectTimeout,
		"mpd.greeting_timeout": cfg.MPD.GreetingTimeout,
		"mpd.write_timeout":    cfg.MPD.WriteTimeout,
		"watch.poll_interval":  cfg.Watch.PollInterval,
	} {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("%s invalid: %w", key, err)
		}
	}
	if poll, _ := parseDuration(cfg.Watch.PollInterval); poll != 0 && poll < 100*time.Millisecond {
		return fmt.Errorf("watch.poll_interval too short: %s", cfg.Watch.PollInterval)
	}
	if addr := strings.TrimSpace(cfg.Watch.AdminAddr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("watch.admin_addr invalid: %w", err)
		}
	}
	return nil
}

// parseDuration treats an empty value as unset.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", raw)
	}
	return d, nil
}
