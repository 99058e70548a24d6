package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "watch":
		return watchTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const watchTemplate = `[mpd]
host = "localhost"
port = 6600
auto_reconnect = true
connect_timeout = "5s"
greeting_timeout = "5s"
write_timeout = "10s"

[watch]
name = "mpdwatch"
poll_interval = "2s"
admin_addr = "127.0.0.1:9660"
cors_origins = ["http://localhost:3000"]
`
