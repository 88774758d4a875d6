package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dokzlo13/huey/internal/app"
	"github.com/dokzlo13/huey/internal/config"
)

const usage = `Usage: huey [global flags] <command> [flags]

Commands:
  discover                      find a bridge on the local network
  pair [--address A] [--wait]   register with a bridge (press its link button)
  lights list [--cached]        list lights
  lights power <light>|--all --on|--off
  lights toggle <light>
  lights color <light> [-x X -y Y | --rgb #rrggbb] [--brightness B]
  history [-n N] [--light ID]   show recent bridge operations
  forget                        discard the stored credential
  shell                         interactive mode

Global flags:
`

type globalArgs struct {
	ConfigPath string
	Bridge     string
	Key        string
	Verbose    bool
}

func main() {
	if err := run(os.Args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(2)
		}
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func run(argv []string) error {
	var args globalArgs

	fs := pflag.NewFlagSet(argv[0], pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}

	fs.StringVarP(&args.ConfigPath, "config", "c", "config.yaml", "Path to configuration file")
	fs.StringVarP(&args.Bridge, "bridge", "b", "", "Bridge address, overrides config and stored endpoint")
	fs.StringVarP(&args.Key, "key", "k", "", "Application key, overrides config and stored endpoint")
	fs.BoolVarP(&args.Verbose, "verbose", "v", false, "Enable debug logging")

	if err := fs.Parse(argv[1:]); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return pflag.ErrHelp
	}

	// Load configuration
	cfg, err := config.LoadOrDefault(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if args.Bridge != "" {
		cfg.Hue.Bridge = args.Bridge
	}
	if args.Key != "" {
		// Allows -k '${HUE_KEY}' so the key stays out of shell history.
		cfg.Hue.Token = config.ExpandEnvString(args.Key)
	}

	// Setup logging
	level := cfg.Log.Level
	if args.Verbose {
		level = "debug"
	}
	setupLogging(level, cfg.Log.JSON, cfg.Log.Colors)

	log.Debug().Str("config", args.ConfigPath).Str("database", cfg.Database.Path).Msg("Starting huey")

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	ctx := app.SignalContext()

	cmd := &command{app: application, cfg: cfg, ctx: ctx, out: os.Stdout}
	return cmd.dispatch(fs.Args())
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for scripting
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
