// Package cli is the mediatasks command line: a long-running serve command
// plus one-shot operator commands against the same config and store.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mediatasks/internal/app"
)

const stopTimeout = 20 * time.Second

var configFile string

func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:           "mediatasks",
		Short:         "Scheduled maintenance tasks for tracked media items",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "./config.yaml", "config file path (yaml or json)")

	root.AddCommand(
		buildServeCommand(),
		buildRunCommand(),
		buildValidateCommand(),
		buildStatusCommand(),
		buildTasksCommand(),
	)
	return root
}

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Arm timers and run tasks until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := app.New(configFile)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := a.Start(parent); err != nil {
		stopApp(a, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-parent.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}
	stopApp(a, reason)
	return a.Err()
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task-id>",
		Short: "Run one task now, outside its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Scheduler().RunTaskNow(ctx, args[0])
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if err != nil {
					return err
				}
				if !res.Success {
					return errors.New(res.Message)
				}
				return nil
			})
		},
	}
}

func buildValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every task's item association and repair or remove broken ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Scheduler().ValidateAndFixAll(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print tasks, next fire times and recent runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				// read-only: fire times are computed, not armed or persisted
				st, err := a.Scheduler().Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

// withApp builds the app without starting timers or watchers, runs fn, and
// always stops the app afterwards.
func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(configFile)
	if err != nil {
		return err
	}
	defer stopApp(a, app.StopCommand)
	return fn(ctx, a)
}

func stopApp(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = a.Stop(ctx, reason)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
