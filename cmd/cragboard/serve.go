package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abrezinsky/cragboard/internal/app"
	"github.com/abrezinsky/cragboard/internal/auth"
	"github.com/abrezinsky/cragboard/internal/config"
	"github.com/abrezinsky/cragboard/internal/logger"
)

type serveOptions struct {
	envFile          string
	addr             string
	dbPath           string
	operatorPassword string
	logLevel         string
	logFormat        string
	eventFile        string
	resultsURL       string
	natsURL          string
	baseURL          string
	heartbeat        time.Duration
	timerSync        time.Duration
	noLogo           bool
}

// NewServeCommand runs the scoring server
func NewServeCommand() *cobra.Command {
	return newServeCommand(&serveOptions{})
}

func newServeCommand(opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scoring server",
		Long: `Run the scoring server.

Settings come from flags, then CRAGBOARD_* environment variables, then the
.env file, then built-in defaults. When no operator password is configured
one is generated and logged at startup.`,
		Example: `  cragboard serve                              # :8081 with cragboard.db
  cragboard serve --addr :8080 --db /data/comp.db
  cragboard serve --event-file boxes.yaml      # preload rosters
  cragboard serve --nats-url nats://localhost:4222`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	def := config.Default()
	f := cmd.Flags()
	f.StringVar(&opts.envFile, "env-file", ".env", "dotenv file to read before the environment")
	f.StringVar(&opts.addr, "addr", def.Addr, "HTTP listen address")
	f.StringVar(&opts.dbPath, "db", def.DBPath, "SQLite database path")
	f.StringVar(&opts.operatorPassword, "operator-password", "", "operator password (generated if not set)")
	f.StringVar(&opts.logLevel, "log-level", def.LogLevel, "log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", def.LogFormat, "log format: text or json")
	f.StringVar(&opts.eventFile, "event-file", "", "YAML file of boxes to ingest at startup")
	f.StringVar(&opts.resultsURL, "results-url", "", "results service base URL")
	f.StringVar(&opts.natsURL, "nats-url", "", "NATS server URL for mirroring box events")
	f.StringVar(&opts.baseURL, "base-url", "", "public base URL used in judge links")
	f.DurationVar(&opts.heartbeat, "heartbeat", def.HeartbeatInterval, "websocket heartbeat interval")
	f.DurationVar(&opts.timerSync, "timer-sync", def.TimerSyncInterval, "timer sync broadcast interval (0 disables)")
	f.BoolVar(&opts.noLogo, "nologo", false, "skip the startup banner")

	return cmd
}

// overrides applies only the flags the user actually set, so environment
// values survive flag defaults.
func (o *serveOptions) overrides(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Addr = o.addr
	}
	if changed("db") {
		cfg.DBPath = o.dbPath
	}
	if changed("operator-password") {
		cfg.OperatorPassword = o.operatorPassword
	}
	if changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = o.logFormat
	}
	if changed("event-file") {
		cfg.EventFile = o.eventFile
	}
	if changed("results-url") {
		cfg.ResultsURL = o.resultsURL
	}
	if changed("nats-url") {
		cfg.NATSURL = o.natsURL
	}
	if changed("base-url") {
		cfg.BaseURL = o.baseURL
	}
	if changed("heartbeat") {
		cfg.HeartbeatInterval = o.heartbeat
	}
	if changed("timer-sync") {
		cfg.TimerSyncInterval = o.timerSync
	}
}

// resolveConfig builds the effective configuration for serve
func resolveConfig(cmd *cobra.Command, opts *serveOptions) (config.Config, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return config.Config{}, err
	}
	opts.overrides(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		return err
	}

	if !opts.noLogo {
		printLogo(cmd.OutOrStdout())
	}

	password := cfg.OperatorPassword
	generated := password == ""
	if generated {
		password = auth.GeneratePassword()
	}
	operatorAuth := auth.New(password)

	appLog := logger.NewWithOptions(cfg.LoggerOptions())

	a, err := app.New(cfg, appLog, operatorAuth)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if generated {
		appLog.Info("Operator password", "password", password)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}
