package backup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// unmanagedPrefix marks foreign entries the package manager didn't report.
// pip ignores comment lines, so the manifest stays installable with -r.
const unmanagedPrefix = "# unmanaged: "

// Record is a single frozen requirement.
type Record struct {
	Name    string
	Version string
	// Line is the requirement as written by the package manager.
	Line string
}

func (r Record) String() string {
	return r.Line
}

// Manifest is the frozen package list written before an update removes the old tree.
type Manifest struct {
	Records   []Record
	Unmanaged []string
}

// Empty reports whether the manifest holds nothing at all.
func (m Manifest) Empty() bool {
	return len(m.Records) == 0 && len(m.Unmanaged) == 0
}

// ParseManifest reads freeze output. Requirements that aren't pinned with ==
// (editable installs, direct URLs) are kept with an empty Version.
func ParseManifest(r io.Reader) (Manifest, error) {
	var manifest Manifest

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, unmanagedPrefix):
			manifest.Unmanaged = append(manifest.Unmanaged, strings.TrimPrefix(line, unmanagedPrefix))
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}

		record := Record{Name: line, Line: line}
		if name, version, ok := strings.Cut(line, "=="); ok {
			record.Name = strings.TrimSpace(name)
			record.Version = strings.TrimSpace(version)
		}
		manifest.Records = append(manifest.Records, record)
	}

	if err := scanner.Err(); err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	return manifest, nil
}

// writeAtomic writes data to path through a temporary sibling file so
// readers never observe a partial manifest.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmppath := tmp.Name()
	defer os.Remove(tmppath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmppath, err)
	}
	// shared storage may not support modes at all
	_ = tmp.Chmod(0o644)
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmppath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmppath, err)
	}

	if err := os.Rename(tmppath, path); err != nil {
		return fmt.Errorf("failed to move manifest into %s: %w", path, err)
	}
	return nil
}
