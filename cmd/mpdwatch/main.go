package main

import (
	"fmt"
	"os"

	"github.com/danmuck/mpdctl/internal/logging"
	"github.com/danmuck/mpdctl/internal/watch"
	flag "github.com/spf13/pflag"
)

type options struct {
	configPath string
	host       string
	port       int
	admin      string
	poll       string
}

func parseFlags(args []string) (options, *flag.FlagSet, error) {
	var opts options
	fs := flag.NewFlagSet("mpdwatch", flag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to a watch config file")
	fs.StringVar(&opts.host, "host", "", "daemon host (overrides config)")
	fs.IntVarP(&opts.port, "port", "p", 0, "daemon port (overrides config)")
	fs.StringVar(&opts.admin, "admin", "", "admin HTTP listen address (overrides config)")
	fs.StringVar(&opts.poll, "poll", "", "status poll interval, e.g. 2s (overrides config)")
	err := fs.Parse(args)
	return opts, fs, err
}

func resolveConfig(opts options, fs *flag.FlagSet) (watch.ServiceConfig, error) {
	cfg := watch.DefaultServiceConfig()
	if opts.configPath != "" {
		loaded, err := loadServiceConfig(opts.configPath)
		if err != nil {
			return watch.ServiceConfig{}, err
		}
		cfg = loaded
	}
	if fs.Changed("host") {
		cfg.Host = opts.host
	}
	if fs.Changed("port") {
		cfg.Port = opts.port
	}
	if fs.Changed("admin") {
		cfg.AdminListenAddr = opts.admin
	}
	if fs.Changed("poll") {
		d, err := parseDurationFlag(opts.poll)
		if err != nil {
			return watch.ServiceConfig{}, fmt.Errorf("--poll: %w", err)
		}
		cfg.PollInterval = d
	}
	return cfg, nil
}

func main() {
	opts, fs, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "mpdwatch: %v\n", err)
		os.Exit(2)
	}
	logging.ConfigureRuntime()

	cfg, err := resolveConfig(opts, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mpdwatch: %v\n", err)
		os.Exit(1)
	}
	svc := watch.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "mpdwatch: %v\n", err)
		os.Exit(1)
	}
}
