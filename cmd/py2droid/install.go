package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aexvir/py2droid"
	"github.com/aexvir/py2droid/archive"
	"github.com/aexvir/py2droid/config"
	"github.com/aexvir/py2droid/envfile"
	"github.com/aexvir/py2droid/installer"
	"github.com/aexvir/py2droid/perms"
)

func newInstallCommand(load func() (config.Config, error)) *cobra.Command {
	var container, arch string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install or update the runtime from a module archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if arch != "" {
				cfg.Runtime.Arch = arch
			}

			inst := newInstaller(cfg, container)
			result, err := inst.Install(cmd.Context())
			if err != nil {
				return err
			}

			if result.Backup.Written() {
				py2droid.LogInfo(fmt.Sprintf("reinstall your packages with: pip install -r %s", result.Backup.Manifest))
			}

			// new commands are available right away, not at the next boot
			if err := syncWrappers(cmd.Context(), cfg, os.Stdout); err != nil {
				// the runtime is in place, the boot time sync catches up
				py2droid.LogWarn(fmt.Sprintf("runtime installed but wrappers not synced: %s", err))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&container, "zip", "", "module archive holding the runtime archives")
	cmd.Flags().StringVar(&arch, "arch", "", "architecture to install, the host one by default")
	_ = cmd.MarkFlagRequired("zip")

	return cmd
}

func newInstaller(cfg config.Config, container string) *installer.Installer {
	runtimeVersion := cfg.Runtime.Version
	if runtimeVersion == "" {
		runtimeVersion = version
	}

	var opts []archive.Option
	if cfg.Runtime.ArchMapping != nil {
		opts = append(opts, archive.WithArchMapping(cfg.Runtime.ArchMapping))
	}

	return installer.New(
		installer.Config{
			Container:    container,
			Component:    cfg.Runtime.Component,
			Arch:         cfg.Runtime.Arch,
			Version:      runtimeVersion,
			Descriptor:   cfg.DescriptorPath(),
			Home:         cfg.Home,
			Prefix:       cfg.Prefix,
			ModuleDir:    cfg.ModuleDir,
			Manifest:     cfg.Manifest,
			OriginalHome: os.Getenv(envfile.HomeVar),
			Owner:        perms.Owner{UID: cfg.Owner.UID, GID: cfg.Owner.GID},
		},
		installer.WithExtractorOptions(opts...),
	)
}

func newUninstallCommand(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the managed home",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return newInstaller(cfg, "").Uninstall(cmd.Context())
		},
	}
}
