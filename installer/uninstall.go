package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aexvir/py2droid"
	"github.com/aexvir/py2droid/envfile"
)

// Uninstall removes the managed home after the same integrity checks an
// install runs. A home holding no runtime and no marker is left untouched.
func (i *Installer) Uninstall(ctx context.Context) error {
	var home string

	return py2droid.NewPipeline().Execute(
		ctx,
		py2droid.Step{
			Name: "verify managed home",
			Run: func(_ context.Context) error {
				env, err := envfile.Load(i.config.Descriptor)
				if err != nil {
					return fmt.Errorf("%w: %w", ErrIntegrity, err)
				}
				home, err = checkHome(env, i.config.Home, i.config.OriginalHome)
				return err
			},
		},
		py2droid.Step{
			Name: "remove managed home",
			Run: func(_ context.Context) error {
				prefix := i.config.Prefix
				if prefix == "" {
					prefix = filepath.Join(home, "usr")
				}

				detection, err := Detect(home, prefix)
				if err != nil {
					return err
				}
				if detection.State == StateAbsent {
					py2droid.LogDetail(fmt.Sprintf("nothing installed at %s", home))
					return nil
				}

				if err := os.RemoveAll(home); err != nil {
					return fmt.Errorf("failed to remove %s: %w", home, err)
				}
				py2droid.LogDetail(fmt.Sprintf("removed %s", home))

				if i.config.ModuleDir != "" {
					err := os.Remove(filepath.Join(i.config.ModuleDir, UninstallFile))
					if err != nil && !errors.Is(err, fs.ErrNotExist) {
						py2droid.LogWarn(err.Error())
					}
				}

				return nil
			},
		},
	)
}
