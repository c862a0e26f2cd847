package installer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// UninstallFile is the uninstall action persisted into the module directory.
const UninstallFile = "uninstall.sh"

const uninstallSignature = "# py2droid-uninstall"

// UninstallScript renders the uninstall action for home.
func UninstallScript(home string) string {
	return strings.Join([]string{
		"#!/system/bin/sh",
		uninstallSignature,
		fmt.Sprintf("rm -rf %q", home),
		"",
	}, "\n")
}

func writeUninstallAction(moduledir, home string) error {
	if moduledir == "" {
		return nil
	}

	if err := os.MkdirAll(moduledir, 0o755); err != nil {
		return fmt.Errorf("failed to create module directory: %w", err)
	}

	return replaceFile(filepath.Join(moduledir, UninstallFile), strings.NewReader(UninstallScript(home)), 0o755)
}

// relocate installs the environment descriptor at dest. The source is left
// in place, so a run failing later can be retried from the same module.
func relocate(source, dest string) error {
	if samePath(source, dest) {
		return nil
	}

	f, err := os.Open(source)
	if err != nil {
		return err
	}
	defer f.Close()

	return replaceFile(dest, f, 0o644)
}

// replaceFile writes the contents of r to a sibling temporary file and renames
// it onto path.
func replaceFile(path string, r io.Reader, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set mode of %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
