// Package installer installs and updates the managed runtime.
//
// A run is a pipeline of steps: locate the runtime archive in the container,
// verify the managed home, detect a previous install, back up packages that
// would be lost, unpack the new runtime into a scratch directory, swap it in,
// fix ownership and record the install. Every step either succeeds or stops
// the run, after which a single rollback restores the state the run found:
//
//   - fresh installs remove everything they created, including the managed
//     home when it's left empty;
//   - upgrades never remove the working runtime unless its replacement is
//     fully in place, and put it back if a later step fails.
//
// The installer assumes it's the only process writing to the managed home for
// the whole duration of a run.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aexvir/py2droid"
	"github.com/aexvir/py2droid/archive"
	"github.com/aexvir/py2droid/backup"
	"github.com/aexvir/py2droid/envfile"
	"github.com/aexvir/py2droid/perms"
)

var (
	// ErrMissingArchiveEntry means the container has no runtime for the requested architecture.
	ErrMissingArchiveEntry = errors.New("no runtime archive for this architecture")
	// ErrExtraction means the runtime archive couldn't be unpacked.
	ErrExtraction = errors.New("failed to extract runtime")
	// ErrMove means the unpacked runtime couldn't be moved into place.
	ErrMove = errors.New("failed to move runtime into place")
	// ErrIntegrity means the managed home can't be told apart from a home
	// the installer must never operate on.
	ErrIntegrity = errors.New("managed home failed integrity checks")
)

// DefaultComponent is the name runtime archives are published under.
const DefaultComponent = "cpython"

// Config holds the inputs of a run.
type Config struct {
	// Container is the path to the zip shipping the runtime archives.
	Container string
	// Component and Arch select the archive, see [archive.New].
	Component string
	Arch      string
	// Version is recorded in the install marker.
	Version string

	// Descriptor is the environment descriptor shipped with the module.
	// It's relocated into Home at the end of a successful run.
	Descriptor string
	// Home is the managed home. When empty, the descriptor's HOME is used;
	// when set, it must match it.
	Home string
	// Prefix is the runtime prefix, Home/usr when empty. It must be inside Home.
	Prefix string
	// ModuleDir receives the uninstall action. Skipped when empty.
	ModuleDir string
	// Manifest is where foreign packages are frozen to before an update.
	Manifest string
	// OriginalHome is the home of the caller, which the installer must
	// never mistake for the managed one.
	OriginalHome string

	// Owner the installed tree is handed to.
	Owner perms.Owner
}

// Result describes a completed run.
type Result struct {
	Detection Detection
	Backup    backup.Result
	Ownership perms.Report
	Marker    Marker
}

// Installer runs installs and updates.
type Installer struct {
	config     Config
	extractopt []archive.Option
	backupopt  []backup.Option
	now        func() time.Time
	newID      func() string
}

type Option func(i *Installer)

// WithExtractorOptions are passed through to [archive.New].
func WithExtractorOptions(opts ...archive.Option) Option {
	return func(i *Installer) {
		i.extractopt = append(i.extractopt, opts...)
	}
}

// WithBackupOptions are passed through to [backup.New], after the defaults
// derived from the environment descriptor.
func WithBackupOptions(opts ...backup.Option) Option {
	return func(i *Installer) {
		i.backupopt = append(i.backupopt, opts...)
	}
}

// WithClock overrides the time source used for the marker.
func WithClock(now func() time.Time) Option {
	return func(i *Installer) {
		i.now = now
	}
}

// New creates an installer for the given config.
func New(config Config, opts ...Option) *Installer {
	if config.Component == "" {
		config.Component = DefaultComponent
	}

	i := Installer{
		config: config,
		now:    time.Now,
		newID:  uuid.NewString,
	}

	for _, opt := range opts {
		opt(&i)
	}

	return &i
}

// run holds the state shared by the steps of a single install.
type run struct {
	container *archive.Container
	extractor *archive.Extractor
	entry     *archive.Entry
	env       envfile.Config
	home      string
	prefix    string
	tx        *transaction
	result    Result
}

// Install runs the whole pipeline.
func (i *Installer) Install(ctx context.Context) (Result, error) {
	r := run{}
	defer func() {
		if r.container != nil {
			r.container.Close()
		}
	}()

	pipeline := py2droid.NewPipeline(
		py2droid.WithFailureHook(func(_ context.Context, failed py2droid.Step, _ error) {
			if r.tx == nil {
				return
			}
			py2droid.LogInfo(fmt.Sprintf("rolling back %s install after %q failed", r.tx.kind, failed.Name))
			for _, err := range r.tx.rollback() {
				py2droid.LogError(err.Error())
			}
		}),
		py2droid.WithSuccessHook(func(_ context.Context) {
			r.tx.commit()
		}),
	)

	err := pipeline.Execute(
		ctx,
		py2droid.Step{Name: "locate runtime archive", Run: func(_ context.Context) error { return i.locate(&r) }},
		py2droid.Step{Name: "verify managed home", Run: func(_ context.Context) error { return i.verify(&r) }},
		py2droid.Step{Name: "detect existing installation", Run: func(_ context.Context) error { return i.detect(&r) }},
		py2droid.Step{Name: "back up foreign packages", Run: func(ctx context.Context) error { return i.backup(ctx, &r) }},
		py2droid.Step{Name: "extract runtime", Run: func(ctx context.Context) error { return i.extract(ctx, &r) }},
		py2droid.Step{Name: "swap runtime", Run: func(_ context.Context) error { return r.tx.swap() }},
		py2droid.Step{Name: "normalize ownership", Run: func(_ context.Context) error { return i.normalize(&r) }},
		py2droid.Step{Name: "finalize", Run: func(_ context.Context) error { return i.finalize(&r) }},
	)

	return r.result, err
}

func (i *Installer) locate(r *run) error {
	container, err := archive.OpenContainer(i.config.Container)
	if err != nil {
		return err
	}
	r.container = container

	r.extractor = archive.New(i.config.Component, i.config.Arch, i.extractopt...)
	entry, err := r.extractor.Locate(container)
	if err != nil {
		return fmt.Errorf("%w (%s): %w", ErrMissingArchiveEntry, r.extractor.Arch(), err)
	}
	r.entry = entry

	py2droid.LogDetail(fmt.Sprintf("found %s (%d bytes)", entry.Name, entry.Size()))
	return nil
}

func (i *Installer) verify(r *run) error {
	env, err := envfile.Load(i.config.Descriptor, envfile.WithInstalling(true))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	r.env = env

	home, err := checkHome(env, i.config.Home, i.config.OriginalHome)
	if err != nil {
		return err
	}
	r.home = home

	r.prefix = i.config.Prefix
	if r.prefix == "" {
		r.prefix = filepath.Join(home, "usr")
	}
	r.prefix = filepath.Clean(r.prefix)
	if r.prefix == home || !env.Contains(r.prefix) {
		return fmt.Errorf("%w: prefix %s must be inside %s", ErrIntegrity, r.prefix, home)
	}

	py2droid.LogDetail(fmt.Sprintf("home %s, prefix %s", home, r.prefix))
	return nil
}

// checkHome validates the home declared by the descriptor.
// It must be absolute, not the filesystem root, match the configured home if
// any, and differ from the caller's own home unless it already carries an
// install marker.
func checkHome(env envfile.Config, configured, original string) (string, error) {
	home := env.Home

	if !filepath.IsAbs(home) || home == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q is not a usable home", ErrIntegrity, home)
	}

	if configured != "" && !samePath(configured, home) {
		return "", fmt.Errorf("%w: descriptor home %s differs from configured %s", ErrIntegrity, home, configured)
	}

	if original != "" && samePath(original, home) {
		if _, err := os.Stat(filepath.Join(home, MarkerFile)); err != nil {
			return "", fmt.Errorf("%w: %s is the caller's own home and carries no install marker", ErrIntegrity, home)
		}
	}

	return home, nil
}

func (i *Installer) detect(r *run) error {
	detection, err := Detect(r.home, r.prefix)
	if err != nil {
		return err
	}
	r.result.Detection = detection

	switch detection.State {
	case StatePresentMatching:
		r.tx = begin(upgrade, r.home, r.prefix)
		previous := ""
		if detection.Marker != nil {
			previous = detection.Marker.Version
		}
		if detection.Legacy {
			py2droid.LogInfo("found a runtime installed without marker")
		}
		py2droid.LogInfo(describeVersionChange(previous, i.config.Version))

	case StatePresentOther:
		r.tx = begin(fresh, r.home, r.prefix)
		if detection.Marker != nil {
			py2droid.LogWarn(fmt.Sprintf("install marker points to %s, leaving it alone", detection.Marker.Prefix))
		} else {
			py2droid.LogWarn("install marker is unreadable, treating this as a fresh install")
		}

	default:
		r.tx = begin(fresh, r.home, r.prefix)
		py2droid.LogInfo("no previous installation, installing from scratch")
	}

	return nil
}

func (i *Installer) backup(ctx context.Context, r *run) error {
	if r.tx.kind != upgrade {
		py2droid.LogDetail("nothing to back up on a fresh install")
		return nil
	}

	sites, err := backup.FindSitePackages(r.prefix)
	if err != nil {
		return fmt.Errorf("failed to look for site-packages: %w", err)
	}

	searchpath := r.env.PathAdditions
	if len(searchpath) == 0 {
		searchpath = []string{filepath.Join(r.prefix, "bin")}
	}

	// the package manager stages into TMPDIR, which may not exist yet
	if r.env.TmpDir != "" {
		if _, err := os.Stat(r.env.TmpDir); errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(r.env.TmpDir, 0o700); err != nil {
				return fmt.Errorf("failed to create temporary directory: %w", err)
			}
			defer os.RemoveAll(r.env.TmpDir)
		}
	}

	opts := append(
		[]backup.Option{
			backup.WithSearchPath(searchpath...),
			backup.WithEnviron(r.env.Environ(os.Environ())),
		},
		i.backupopt...,
	)

	result, err := backup.New(i.config.Manifest, opts...).Run(ctx, sites...)
	r.result.Backup = result
	return err
}

func (i *Installer) extract(ctx context.Context, r *run) error {
	scratch, err := r.tx.stage()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	if err := r.extractor.Extract(ctx, r.entry, scratch); err != nil {
		return fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	return nil
}

func (i *Installer) normalize(r *run) error {
	report, err := perms.New(i.config.Owner).Normalize(r.prefix)
	r.result.Ownership = report
	if err != nil {
		// the tree is in place, ownership is best effort
		py2droid.LogWarn(err.Error())
		return nil
	}

	py2droid.LogDetail(fmt.Sprintf("%d entries handed to %s", report.Changed, i.config.Owner))
	for n, failure := range report.Failures {
		if n == 10 {
			py2droid.LogWarn(fmt.Sprintf("... and %d more", len(report.Failures)-n))
			break
		}
		py2droid.LogWarn(fmt.Sprintf("failed to chown %s: %s", failure.Path, failure.Err))
	}

	return nil
}

func (i *Installer) finalize(r *run) error {
	if err := writeUninstallAction(i.config.ModuleDir, r.home); err != nil {
		return err
	}

	if err := relocate(r.env.Source, filepath.Join(r.home, envfile.FileName)); err != nil {
		return fmt.Errorf("failed to relocate environment descriptor: %w", err)
	}

	marker := Marker{
		ID:          i.newID(),
		Version:     i.config.Version,
		Arch:        r.extractor.Arch(),
		Prefix:      r.prefix,
		InstalledAt: i.now().UTC(),
	}
	if err := WriteMarker(r.home, marker); err != nil {
		return err
	}
	r.result.Marker = marker

	py2droid.LogDetail(fmt.Sprintf("recorded install %s", marker.ID))
	return nil
}
