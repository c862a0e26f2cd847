// Package backup preserves packages installed into the shared site-packages
// directory of a runtime that is about to be replaced.
//
// Updates swap the whole runtime tree, so anything installed with a plain
// `pip install` (as opposed to `pip install --user`) would be lost. Before the
// old tree goes away, [Backup.Run] freezes those packages into a manifest on
// storage the user can reach, so they can be reinstalled with `pip install -r`.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aexvir/py2droid"
)

// ErrUnavailable is returned when foreign packages exist but no package
// manager can be found to freeze them.
var ErrUnavailable = errors.New("package backup unavailable")

// DefaultPackageManagers are the executables tried, in order, to freeze packages.
var DefaultPackageManagers = []string{"pip3", "pip"}

// Result describes what a backup run found and did.
type Result struct {
	// Foreign are the site-packages entries that triggered the backup.
	Foreign []string
	// Manifest is the path written to; empty when nothing was written.
	Manifest string
	// Contents is the parsed manifest that was written.
	Contents Manifest
}

// Written reports whether a manifest was produced.
func (r Result) Written() bool {
	return r.Manifest != ""
}

// Backup detects foreign packages and freezes them into a manifest.
type Backup struct {
	manifest   string
	classifier *Classifier
	searchpath []string
	managers   []string
	environ    []string
	freeze     func(ctx context.Context, manager, site string) ([]byte, error)
}

type Option func(b *Backup)

// WithClassifier replaces the default ignorable predicates.
func WithClassifier(c *Classifier) Option {
	return func(b *Backup) {
		b.classifier = c
	}
}

// WithSearchPath sets the directories where the package manager is looked up.
// Only directories of the managed install should be passed; a package manager
// from somewhere else would freeze the wrong environment.
func WithSearchPath(dirs ...string) Option {
	return func(b *Backup) {
		b.searchpath = dirs
	}
}

// WithPackageManagers overrides the executable names tried when freezing.
func WithPackageManagers(names ...string) Option {
	return func(b *Backup) {
		b.managers = names
	}
}

// WithEnviron sets the full environment the package manager runs with.
func WithEnviron(environ []string) Option {
	return func(b *Backup) {
		b.environ = environ
	}
}

// New creates a backup writing its manifest to manifestPath.
func New(manifestPath string, opts ...Option) *Backup {
	b := Backup{
		manifest:   manifestPath,
		classifier: MustClassifier(DefaultIgnorable...),
		managers:   DefaultPackageManagers,
		environ:    os.Environ(),
	}
	b.freeze = b.runFreeze

	for _, opt := range opts {
		opt(&b)
	}

	return &b
}

// FindSitePackages returns the site-packages directories of the runtime
// installed at prefix, sorted. A prefix without any yields no error.
func FindSitePackages(prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(prefix, "lib", "python3*", "site-packages"))
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, match := range matches {
		if info, err := os.Stat(match); err == nil && info.IsDir() {
			dirs = append(dirs, match)
		}
	}

	sort.Strings(dirs)
	return dirs, nil
}

// Scan lists the foreign entries of a site-packages directory.
func (b *Backup) Scan(site string) ([]string, error) {
	entries, err := os.ReadDir(site)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", site, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return b.classifier.Foreign(names), nil
}

// Run backs up the foreign packages of the given site-packages directories.
// If none of them hold foreign entries nothing is written and the result is
// empty. Otherwise a package manager must be found on the search path, or
// [ErrUnavailable] is returned before anything is written.
func (b *Backup) Run(ctx context.Context, sites ...string) (Result, error) {
	var result Result

	var scanned []string
	for _, site := range sites {
		foreign, err := b.Scan(site)
		if err != nil {
			return result, err
		}
		if len(foreign) == 0 {
			continue
		}

		scanned = append(scanned, site)
		for _, name := range foreign {
			result.Foreign = append(result.Foreign, filepath.Join(filepath.Base(filepath.Dir(site)), name))
		}
	}

	if len(result.Foreign) == 0 {
		py2droid.LogDetail("no foreign packages found, nothing to back up")
		return result, nil
	}

	py2droid.LogInfo(fmt.Sprintf("found %d foreign entries: %s", len(result.Foreign), strings.Join(result.Foreign, ", ")))

	manager, err := b.packageManager()
	if err != nil {
		return result, err
	}

	var output bytes.Buffer
	for _, site := range scanned {
		frozen, err := b.freeze(ctx, manager, site)
		if err != nil {
			return result, fmt.Errorf("failed to freeze packages in %s: %w", site, err)
		}
		output.Write(frozen)
		if len(frozen) > 0 && !bytes.HasSuffix(frozen, []byte("\n")) {
			output.WriteByte('\n')
		}
	}

	contents, err := ParseManifest(bytes.NewReader(output.Bytes()))
	if err != nil {
		return result, err
	}

	// foreign entries the package manager doesn't know about (plain modules,
	// leftovers) still have to leave a trace
	if len(contents.Records) == 0 {
		for _, name := range result.Foreign {
			fmt.Fprintf(&output, "%s%s\n", unmanagedPrefix, name)
			contents.Unmanaged = append(contents.Unmanaged, name)
		}
	}

	if err := writeAtomic(b.manifest, output.Bytes()); err != nil {
		return result, err
	}

	py2droid.LogInfo(fmt.Sprintf("saved %d packages to %s", len(contents.Records), b.manifest))
	for _, record := range contents.Records {
		py2droid.LogDetail(record.String())
	}

	result.Manifest = b.manifest
	result.Contents = contents
	return result, nil
}

func (b *Backup) packageManager() (string, error) {
	for _, dir := range b.searchpath {
		for _, name := range b.managers {
			candidate := filepath.Join(dir, name)
			info, err := os.Stat(candidate)
			if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
				continue
			}
			return candidate, nil
		}
	}

	return "", fmt.Errorf(
		"%w: none of %s found in %s",
		ErrUnavailable,
		strings.Join(b.managers, ", "),
		strings.Join(b.searchpath, string(filepath.ListSeparator)),
	)
}

func (b *Backup) runFreeze(ctx context.Context, manager, site string) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	err := py2droid.Run(
		ctx,
		manager,
		py2droid.WithArgs("freeze", "--path", site),
		py2droid.WithEnviron(b.environ),
		py2droid.WithoutNoise(),
		py2droid.WithStdOut(&stdout),
		py2droid.WithStdErr(&stderr),
	)
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}

	return stdout.Bytes(), nil
}
