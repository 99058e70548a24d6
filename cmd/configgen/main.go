package main

import (
	"os"

	"github.com/danmuck/mpdctl/internal/config"
	"github.com/danmuck/mpdctl/internal/logging"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

const defaultPath = "cmd/mpdwatch/watch.toml"

func main() {
	kind := flag.StringP("kind", "k", "watch", "config kind: watch")
	output := flag.StringP("output", "o", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.StringP("input", "i", "", "config path for validation (defaults to "+defaultPath+")")
	force := flag.BoolP("force", "f", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime()

	if *kind != "watch" {
		log.Error().Msgf("unknown kind: %s", *kind)
		os.Exit(2)
	}

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		if _, err := config.LoadWatchConfig(path); err != nil {
			log.Error().Err(err).Msg("validation failed")
			os.Exit(1)
		}
		log.Info().Msgf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Error().Err(err).Msg("write template failed")
		os.Exit(1)
	}
	log.Info().Msgf("Wrote %s config template to %s", *kind, target)
}
