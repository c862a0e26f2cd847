package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aexvir/py2droid/config"
	"github.com/aexvir/py2droid/envfile"
	"github.com/aexvir/py2droid/wrapper"
)

// logFlags truncate the log, it only ever describes the last pass.
const logFlags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC

func newSyncCommand(load func() (config.Config, error)) *cobra.Command {
	var logPath string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the command wrappers with the installed executables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if logPath != "" {
				cfg.Wrapper.LogFile = logPath
			}

			if err := os.MkdirAll(filepath.Dir(cfg.LogPath()), 0o755); err != nil {
				return err
			}
			logfile, err := os.OpenFile(cfg.LogPath(), logFlags, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer logfile.Close()

			return syncWrappers(cmd.Context(), cfg, logfile)
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "", "log file, relative to the module directory")

	return cmd
}

func syncWrappers(ctx context.Context, cfg config.Config, out io.Writer) error {
	logger := newLogger(out)

	env, err := envfile.Load(cfg.DescriptorPath(), envfile.WithInstalling(false))
	if err != nil {
		logger.WithError(err).Error("failed to sync wrappers")
		return err
	}

	synchronizer := wrapper.New(
		cfg.CommandDir(),
		filepath.Join(env.Home, envfile.FileName),
		cfg.Sources(env.Home),
		wrapper.WithShell(cfg.Wrapper.Shell),
		wrapper.WithLogger(logger),
	)

	report, err := synchronizer.Sync(ctx)
	if err != nil {
		logger.WithError(err).Error("failed to sync wrappers")
		return err
	}

	logger.WithFields(logrus.Fields{
		"created":   len(report.Created),
		"removed":   len(report.Removed),
		"kept":      len(report.Kept),
		"conflicts": len(report.Conflicts),
		"failures":  len(report.Failures),
	}).Info("wrappers in sync")

	return nil
}
