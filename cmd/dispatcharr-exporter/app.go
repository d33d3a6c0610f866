package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	exporter "github.com/dispatcharr/exporter"
	"github.com/dispatcharr/exporter/internal/logfields"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("DISPATCHARR_EXPORTER_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "dispatcharr-exporter")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if dir, err := exporter.DefaultConfigDir(); err == nil {
			candidate := filepath.Join(dir, exporter.DefaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}

	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg exporter.Config

	cmd := &cobra.Command{
		Use:           "dispatcharr-exporter",
		Short:         "dispatcharr-exporter serves Dispatcharr operational state as Prometheus metrics",
		SilenceErrors: true,
		Example: `
  # Run against the stock Dispatcharr container services
  dispatcharr-exporter

  # Point at explicit backends
  dispatcharr-exporter --postgres-dsn postgres://dispatch:secret@db:5432/dispatcharr --redis-url redis://cache:6379/0

  # Export traces to an OTLP collector
  dispatcharr-exporter --otlp-endpoint grpc://localhost:4317
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := logfields.WithComponent(logger, "cli.root")
			ctx := cmd.Context()
			cmd.SilenceUsage = true

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}

			bindConfig(&cfg)
			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}
			if level, ok := pslog.ParseLevel(logLevel); ok {
				logger = logger.LogLevel(level)
				cliLogger = logfields.WithComponent(logger, "cli.root")
			}

			cliLogger.Info("starting",
				"pid", os.Getpid(),
				"postgres", redactDSN(cfg.PostgresDSN),
				"redis", redactDSN(cfg.RedisURL),
			)

			telemetry, err := exporter.SetupTelemetry(ctx, cfg.OTLPEndpoint, logger)
			if err != nil {
				return err
			}
			defer func() {
				if telemetry == nil {
					return
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = telemetry.Shutdown(shutdownCtx)
			}()

			plugin, err := exporter.NewPlugin(ctx, cfg, exporter.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := plugin.Close(shutdownCtx); err != nil {
					cliLogger.Warn("shutdown incomplete", "error", err)
				}
			}()

			plugin.StartElection(ctx)
			<-ctx.Done()
			return nil
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.dispatcharr-exporter/"+exporter.DefaultConfigFileName+")")
	persistentFlags.String("postgres-dsn", exporter.DefaultPostgresDSN, "Dispatcharr database connection string")
	persistentFlags.String("redis-url", exporter.DefaultRedisURL, "Dispatcharr shared cache URL")
	persistentFlags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	flags := cmd.Flags()
	flags.String("lock-file", "", "advisory lock file for same-host auto-start elections")
	flags.Duration("startup-delay", exporter.DefaultStartupDelay, "delay before the first auto-start attempt")
	flags.Int("max-start-retries", exporter.DefaultMaxStartRetries, "maximum auto-start attempts per election")
	flags.Duration("retry-delay", exporter.DefaultRetryDelay, "base backoff between auto-start attempts")
	flags.Duration("poll-interval", exporter.DefaultPollInterval, "stop-request poll cadence while the listener runs")
	flags.Duration("stop-wait-timeout", exporter.DefaultStopWaitTimeout, "how long a cross-worker stop waits for confirmation")
	flags.Duration("stop-poll-interval", exporter.DefaultStopPollInterval, "poll cadence while waiting for stop confirmation")
	flags.Duration("settle-delay", exporter.DefaultSettleDelay, "pause inserted around coordination cleanup during restart")
	flags.String("host-version-path", exporter.DefaultHostVersionPath, "path to Dispatcharr's version module")
	flags.String("update-manifest-url", exporter.DefaultUpdateManifestURL, "latest-release manifest URL for update checks")
	flags.Duration("update-timeout", exporter.DefaultUpdateTimeout, "timeout for the release manifest fetch")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")

	lookup := func(name string) *pflag.Flag {
		if flag := flags.Lookup(name); flag != nil {
			return flag
		}
		return persistentFlags.Lookup(name)
	}
	bindFlag := func(name string) {
		flag := lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("DISPATCHARR_EXPORTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	names := []string{
		"config", "postgres-dsn", "redis-url", "log-level",
		"lock-file", "startup-delay", "max-start-retries", "retry-delay",
		"poll-interval", "stop-wait-timeout", "stop-poll-interval", "settle-delay",
		"host-version-path", "update-manifest-url", "update-timeout",
		"otlp-endpoint",
	}
	for _, name := range names {
		bindFlag(name)
	}

	cmd.AddCommand(newActionCommand(baseLogger, &cfg))
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func bindConfig(cfg *exporter.Config) {
	cfg.PostgresDSN = viper.GetString("postgres-dsn")
	cfg.RedisURL = viper.GetString("redis-url")
	cfg.LockFilePath = viper.GetString("lock-file")
	cfg.StartupDelay = viper.GetDuration("startup-delay")
	cfg.MaxStartRetries = viper.GetInt("max-start-retries")
	cfg.RetryDelay = viper.GetDuration("retry-delay")
	cfg.PollInterval = viper.GetDuration("poll-interval")
	cfg.StopWaitTimeout = viper.GetDuration("stop-wait-timeout")
	cfg.StopPollInterval = viper.GetDuration("stop-poll-interval")
	cfg.SettleDelay = viper.GetDuration("settle-delay")
	cfg.HostVersionPath = viper.GetString("host-version-path")
	cfg.UpdateManifestURL = viper.GetString("update-manifest-url")
	cfg.UpdateTimeout = viper.GetDuration("update-timeout")
	cfg.OTLPEndpoint = viper.GetString("otlp-endpoint")
}

// redactDSN hides credentials in connection strings before logging them.
func redactDSN(dsn string) string {
	at := strings.LastIndexByte(dsn, '@')
	if at < 0 {
		return dsn
	}
	scheme := strings.Index(dsn, "://")
	if scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
