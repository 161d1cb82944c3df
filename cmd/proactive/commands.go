package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/auralink/proactive/internal/app"
	"github.com/auralink/proactive/internal/conf"
	"github.com/auralink/proactive/internal/logger"
)

// cliState carries what PersistentPreRunE prepared for the subcommands.
type cliState struct {
	configFile string
	settings   *conf.Settings
	log        logger.Logger
	logCloser  io.Closer
}

func newRootCommand() *cobra.Command {
	rt := &cliState{}

	root := &cobra.Command{
		Use:           "proactive",
		Short:         "Proactive rule evaluation and notification delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			settings, err := conf.Load(rt.configFile)
			if err != nil {
				return err
			}
			log, closer, err := app.NewLogger(settings)
			if err != nil {
				return err
			}
			rt.settings, rt.log, rt.logCloser = settings, log, closer
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.logCloser != nil {
				_ = rt.logCloser.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&rt.configFile, "config", "c", "",
		"path to config file (default searches ./config.yaml and ~/.config/proactive)")

	root.AddCommand(
		serveCommand(rt),
		runCommand(rt),
		migrateCommand(rt),
		versionCommand(),
	)
	return root
}

// withApp builds the App, runs fn, and always closes it. The context is
// cancelled on SIGINT or SIGTERM.
func (rt *cliState) withApp(cmd *cobra.Command, migrate bool, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, rt.settings, rt.log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			rt.log.Warn("shutdown cleanup failed", logger.Error(cerr))
		}
	}()

	if migrate {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, a)
}

func serveCommand(rt *cliState) *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, sensor feed and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withApp(cmd, !skipMigrate, func(ctx context.Context, a *app.App) error {
				rt.log.Info("starting proactive service",
					logger.String("version", app.Version),
					logger.String("listen", rt.settings.API.Listen))
				return a.Serve(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not migrate the schema on startup")
	return cmd
}

func runCommand(rt *cliState) *cobra.Command {
	var processQueue bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one rule evaluation cycle and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				res, runErr := a.RunOnce(ctx)
				out := map[string]any{"evaluation": res}
				if processQueue && runErr == nil {
					qres, err := a.Notifications.ProcessQueue(ctx)
					if err != nil {
						return err
					}
					out["queue"] = qres
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	cmd.Flags().BoolVar(&processQueue, "process-queue", false, "also drain queued notifications after the run")
	return cmd
}

func migrateCommand(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withApp(cmd, true, func(context.Context, *app.App) error {
				rt.log.Info("schema migrated", logger.String("database", rt.settings.Database.Type))
				return nil
			})
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(app.Version)
		},
	}
}
