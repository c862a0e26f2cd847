// Package wrapper keeps a directory of command wrappers in sync with the
// executables of the managed runtime.
//
// The host only puts a fixed directory on the system PATH. Every executable
// found in the runtime's bin directories gets a small shell wrapper there,
// which loads the runtime environment and execs the real command. A pass of
// [Synchronizer.Sync] creates wrappers for new commands and removes the ones
// whose command disappeared, touching only files it created itself.
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// Failure is a single wrapper that couldn't be created or removed.
type Failure struct {
	Name string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Name, f.Err)
}

// Report summarizes a synchronization pass. All name lists are sorted.
type Report struct {
	Created []string
	Removed []string
	// Kept are the owned wrappers whose command still exists.
	Kept []string
	// Conflicts are commands whose name is taken by a file the synchronizer
	// doesn't own.
	Conflicts []string
	Failures  []Failure
}

// Changed reports whether the pass wrote or removed anything.
func (r Report) Changed() bool {
	return len(r.Created) > 0 || len(r.Removed) > 0
}

// Synchronizer reconciles the command directory with the source directories.
type Synchronizer struct {
	commands string
	envfile  string
	sources  []string
	shell    string
	log      logrus.FieldLogger
}

type Option func(s *Synchronizer)

// WithShell sets the interpreter line of the generated wrappers.
func WithShell(shell string) Option {
	return func(s *Synchronizer) {
		s.shell = shell
	}
}

// WithLogger sets the logger the pass reports to.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Synchronizer) {
		s.log = log
	}
}

// New creates a synchronizer maintaining wrappers in commands for the
// executables of sources. Sources are listed by precedence: when two of them
// hold a command with the same name, the first one is reported.
// Every wrapper sources envfile and runs its command by name, so which
// executable runs is decided by the PATH envfile exports.
func New(commands, envfile string, sources []string, opts ...Option) *Synchronizer {
	s := Synchronizer{
		commands: commands,
		envfile:  envfile,
		sources:  sources,
		shell:    DefaultShell,
		log:      logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(&s)
	}

	return &s
}

// Sync runs a reconciliation pass.
// An error is returned only if the command directory can't be created or
// read; failures on single wrappers are logged and collected in the report.
// Running it again without changes to the sources writes nothing.
func (s *Synchronizer) Sync(ctx context.Context) (Report, error) {
	var report Report

	if err := os.MkdirAll(s.commands, 0o755); err != nil {
		return report, fmt.Errorf("failed to create command directory: %w", err)
	}

	wanted := s.candidates()

	owned, foreign, err := s.existing()
	if err != nil {
		return report, err
	}

	for _, name := range sortedKeys(wanted) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		target := wanted[name]
		log := s.log.WithFields(logrus.Fields{"command": name, "path": target})

		switch {
		case owned[name]:
			report.Kept = append(report.Kept, name)

		case foreign[name]:
			log.Warn("name taken by a file not managed by py2droid, skipping")
			report.Conflicts = append(report.Conflicts, name)

		default:
			if err := write(filepath.Join(s.commands, name), Render(s.shell, s.envfile, name)); err != nil {
				log.WithError(err).Error("failed to create wrapper")
				report.Failures = append(report.Failures, Failure{Name: name, Err: err})
				continue
			}
			log.Info("created")
			report.Created = append(report.Created, name)
		}
	}

	for _, name := range sortedKeys(owned) {
		if _, ok := wanted[name]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		path := filepath.Join(s.commands, name)
		log := s.log.WithFields(logrus.Fields{"command": name, "path": path})

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Error("failed to remove wrapper")
			report.Failures = append(report.Failures, Failure{Name: name, Err: err})
			continue
		}
		log.Info("removed")
		report.Removed = append(report.Removed, name)
	}

	return report, nil
}

// candidates maps command names to the executable they run.
// Source directories that don't exist are skipped.
func (s *Synchronizer) candidates() map[string]string {
	commands := make(map[string]string)

	for _, dir := range s.sources {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.log.WithField("path", dir).WithError(err).Warn("failed to read source directory")
			}
			continue
		}

		for _, entry := range entries {
			name := entry.Name()
			if _, ok := commands[name]; ok {
				continue
			}

			path := filepath.Join(dir, name)
			// stat follows symlinks, a dangling one is just not a command
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
				continue
			}

			commands[name] = path
		}
	}

	return commands
}

// existing splits the regular files of the command directory into owned
// wrappers and foreign files.
func (s *Synchronizer) existing() (owned, foreign map[string]bool, err error) {
	entries, err := os.ReadDir(s.commands)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read command directory: %w", err)
	}

	owned = make(map[string]bool)
	foreign = make(map[string]bool)

	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() {
			// directories, symlinks and the like are never ours
			foreign[name] = true
			continue
		}

		mine, err := Owned(filepath.Join(s.commands, name))
		if err != nil {
			s.log.WithField("command", name).WithError(err).Warn("failed to inspect file, leaving it alone")
			foreign[name] = true
			continue
		}

		if mine {
			owned[name] = true
		} else {
			foreign[name] = true
		}
	}

	return owned, foreign, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
