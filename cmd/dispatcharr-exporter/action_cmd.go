package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	exporter "github.com/dispatcharr/exporter"
	"github.com/dispatcharr/exporter/api"
)

// actionTimeout bounds a one-shot action invocation, connections included.
// The slowest action is a cross-worker restart, which waits out the stop
// timeout plus two settle delays before rebinding.
const actionTimeout = 30 * time.Second

func newActionCommand(baseLogger pslog.Logger, cfg *exporter.Config) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "action <name>",
		Short: "Invoke a plugin action against the running deployment",
		Long: `Invoke one of the plugin actions (` + strings.Join(actionNames(), ", ") + `)
against the deployment's shared cache and database, the same way the host
application would.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if _, err := loadConfigFile(); err != nil {
				return err
			}
			bindConfig(cfg)

			ctx, cancel := context.WithTimeout(cmd.Context(), actionTimeout)
			defer cancel()

			plugin, err := exporter.NewPlugin(ctx, *cfg, exporter.WithLogger(baseLogger))
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = plugin.Close(closeCtx)
			}()

			result := plugin.Run(ctx, args[0], nil)
			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(result); err != nil {
					return err
				}
			} else {
				printResult(cmd, result)
			}
			if result.Status == api.StatusError {
				return fmt.Errorf("action %s failed", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func actionNames() []string {
	return []string{
		api.ActionStartServer,
		api.ActionStopServer,
		api.ActionRestartServer,
		api.ActionServerStatus,
		api.ActionCheckForUpdates,
	}
}

func printResult(cmd *cobra.Command, result api.ActionResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n", result.Status, result.Message)
	if result.Endpoint != "" {
		fmt.Fprintf(out, "endpoint: %s\n", result.Endpoint)
	}
	if result.HealthCheck != "" {
		fmt.Fprintf(out, "health: %s\n", result.HealthCheck)
	}
	if result.CurrentVersion != "" {
		fmt.Fprintf(out, "current version: %s\n", result.CurrentVersion)
	}
	if result.LatestVersion != "" {
		fmt.Fprintf(out, "latest version: %s\n", result.LatestVersion)
	}
	if result.Note != "" {
		fmt.Fprintf(out, "note: %s\n", result.Note)
	}
}
