package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	exporter "github.com/dispatcharr/exporter"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage dispatcharr-exporter configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.dispatcharr-exporter/" + exporter.DefaultConfigFileName
	if dir, err := exporter.DefaultConfigDir(); err == nil {
		defaultOutput = filepath.Join(dir, exporter.DefaultConfigFileName)
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			if outPath == "" {
				dir, err := exporter.DefaultConfigDir()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = filepath.Join(dir, exporter.DefaultConfigFileName)
			}

			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}

			if stdout {
				fmt.Print(string(data))
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

type configDefaults struct {
	PostgresDSN       string `yaml:"postgres-dsn"`
	RedisURL          string `yaml:"redis-url"`
	LockFile          string `yaml:"lock-file"`
	StartupDelay      string `yaml:"startup-delay"`
	MaxStartRetries   int    `yaml:"max-start-retries"`
	RetryDelay        string `yaml:"retry-delay"`
	PollInterval      string `yaml:"poll-interval"`
	StopWaitTimeout   string `yaml:"stop-wait-timeout"`
	StopPollInterval  string `yaml:"stop-poll-interval"`
	SettleDelay       string `yaml:"settle-delay"`
	HostVersionPath   string `yaml:"host-version-path"`
	UpdateManifestURL string `yaml:"update-manifest-url"`
	UpdateTimeout     string `yaml:"update-timeout"`
	OTLPEndpoint      string `yaml:"otlp-endpoint"`
	LogLevel          string `yaml:"log-level"`
}

func defaultConfigYAML(overrides ...func(*configDefaults)) ([]byte, error) {
	defaults := configDefaults{
		PostgresDSN:       exporter.DefaultPostgresDSN,
		RedisURL:          exporter.DefaultRedisURL,
		LockFile:          "",
		StartupDelay:      exporter.DefaultStartupDelay.String(),
		MaxStartRetries:   exporter.DefaultMaxStartRetries,
		RetryDelay:        exporter.DefaultRetryDelay.String(),
		PollInterval:      exporter.DefaultPollInterval.String(),
		StopWaitTimeout:   exporter.DefaultStopWaitTimeout.String(),
		StopPollInterval:  exporter.DefaultStopPollInterval.String(),
		SettleDelay:       exporter.DefaultSettleDelay.String(),
		HostVersionPath:   exporter.DefaultHostVersionPath,
		UpdateManifestURL: exporter.DefaultUpdateManifestURL,
		UpdateTimeout:     exporter.DefaultUpdateTimeout.String(),
		OTLPEndpoint:      "",
		LogLevel:          "info",
	}
	for _, fn := range overrides {
		if fn != nil {
			fn(&defaults)
		}
	}

	out, err := yaml.Marshal(&defaults)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
