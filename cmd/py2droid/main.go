// Command py2droid installs the managed python runtime and maintains the
// command wrappers exposing it on the system PATH.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aexvir/py2droid"
	"github.com/aexvir/py2droid/config"
)

// version is set at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		py2droid.LogError(err.Error())
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "py2droid",
		Short:         "Python runtime for Android",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a yaml config file")

	load := func() (config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(
		newInstallCommand(load),
		newSyncCommand(load),
		newUninstallCommand(load),
		newStatusCommand(load),
	)

	return root
}
