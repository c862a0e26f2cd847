package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aexvir/py2droid"
	"github.com/aexvir/py2droid/config"
	"github.com/aexvir/py2droid/envfile"
	"github.com/aexvir/py2droid/installer"
)

func newStatusCommand(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the managed installation",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			env, err := envfile.Load(cfg.DescriptorPath(), envfile.WithInstalling(false))
			if err != nil {
				return err
			}

			prefix := cfg.PrefixIn(env.Home)
			detection, err := installer.Detect(env.Home, prefix)
			if err != nil {
				return err
			}

			py2droid.LogStep(fmt.Sprintf("%s: %s", prefix, detection.State))
			if detection.Legacy {
				py2droid.LogInfo("installed without marker")
			}
			if marker := detection.Marker; marker != nil {
				py2droid.LogInfo(fmt.Sprintf("version %s (%s)", marker.Version, marker.Arch))
				py2droid.LogDetail(fmt.Sprintf("install %s", marker.ID))
				py2droid.LogDetail(fmt.Sprintf("prefix %s", marker.Prefix))
				py2droid.LogDetail(fmt.Sprintf("installed at %s", marker.InstalledAt.Local().Format("2006-01-02 15:04:05")))
			}

			return nil
		},
	}
}
