package installer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/aexvir/py2droid"
)

// kind tells a transaction what it's allowed to clean up when it fails.
type kind int

const (
	// fresh installs own everything they create, rollback removes it all.
	fresh kind = iota
	// upgrades must leave the previous runtime exactly as it was.
	upgrade
)

func (k kind) String() string {
	if k == upgrade {
		return "upgrade"
	}
	return "fresh"
}

// transaction tracks the filesystem changes of a single run.
//
// The managed home is assumed to be owned exclusively by the running
// process: nothing is locked, a concurrent run would corrupt the state.
type transaction struct {
	kind   kind
	home   string
	prefix string

	prefixExisted bool

	// scratch is the directory the new runtime is unpacked into
	scratch string
	// aside is where the previous runtime waits until the run commits
	aside string
	// swapped is set once the new runtime sits at prefix
	swapped bool
}

func begin(k kind, home, prefix string) *transaction {
	_, err := os.Lstat(prefix)
	return &transaction{
		kind:          k,
		home:          home,
		prefix:        prefix,
		prefixExisted: err == nil,
	}
}

// stage creates the scratch directory next to the prefix, so the final
// move is a rename within the same filesystem.
func (tx *transaction) stage() (string, error) {
	parent := filepath.Dir(tx.prefix)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", parent, err)
	}

	scratch, err := os.MkdirTemp(parent, ".py2droid-stage-")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	tx.scratch = scratch

	// MkdirTemp creates it 0700, it ends up being the prefix
	if err := os.Chmod(scratch, 0o755); err != nil {
		return "", fmt.Errorf("failed to prepare scratch directory: %w", err)
	}

	return scratch, nil
}

// swap puts the staged runtime in place of the current one.
// For upgrades the previous tree is renamed aside first; the new tree is
// renamed onto the prefix afterwards. Both are single renames, so the prefix
// holds either the complete old tree or the complete new one.
func (tx *transaction) swap() error {
	if tx.scratch == "" {
		return fmt.Errorf("%w: nothing staged", ErrMove)
	}

	if tx.kind == upgrade {
		aside, err := os.MkdirTemp(filepath.Dir(tx.prefix), ".py2droid-old-")
		if err != nil {
			return fmt.Errorf("%w: failed to reserve a path for the old runtime: %w", ErrMove, err)
		}
		// MkdirTemp only reserved the name; rename needs it gone or empty
		if err := os.Remove(aside); err != nil {
			return fmt.Errorf("%w: %w", ErrMove, err)
		}
		if err := os.Rename(tx.prefix, aside); err != nil {
			return fmt.Errorf("%w: failed to move the old runtime aside: %w", ErrMove, err)
		}
		tx.aside = aside
	}

	if err := os.Rename(tx.scratch, tx.prefix); err != nil {
		return fmt.Errorf("%w: failed to move %s to %s: %w", ErrMove, tx.scratch, tx.prefix, err)
	}

	tx.scratch = ""
	tx.swapped = true
	return nil
}

// commit drops the previous runtime. Failing to remove it doesn't undo the
// install, it only leaves disk space behind.
func (tx *transaction) commit() {
	if tx.aside == "" {
		return
	}

	if err := os.RemoveAll(tx.aside); err != nil {
		py2droid.LogWarn(fmt.Sprintf("failed to remove previous runtime at %s: %s", tx.aside, err))
		return
	}
	tx.aside = ""
}

// rollback undoes the run according to its kind and reports what couldn't
// be undone. It's safe to call at any point of the run.
func (tx *transaction) rollback() []error {
	var errs []error

	if tx.scratch != "" {
		if err := os.RemoveAll(tx.scratch); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove scratch directory %s: %w", tx.scratch, err))
		}
		tx.scratch = ""
	}

	switch tx.kind {
	case upgrade:
		if tx.aside == "" {
			// the previous runtime never left the prefix
			return errs
		}
		if tx.swapped {
			if err := os.RemoveAll(tx.prefix); err != nil {
				return append(errs, fmt.Errorf("failed to remove new runtime %s: %w", tx.prefix, err))
			}
			tx.swapped = false
		}
		if err := os.Rename(tx.aside, tx.prefix); err != nil {
			return append(errs, fmt.Errorf("failed to restore previous runtime from %s: %w", tx.aside, err))
		}
		tx.aside = ""
		py2droid.LogDetail("previous runtime restored")

	case fresh:
		if tx.swapped || !tx.prefixExisted {
			if err := os.RemoveAll(tx.prefix); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove %s: %w", tx.prefix, err))
			}
			tx.swapped = false
		}
		removeIfEmpty(filepath.Dir(tx.prefix), tx.home)
		if err := os.Remove(tx.home); err != nil && !errors.Is(err, fs.ErrNotExist) && !isNotEmpty(err) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", tx.home, err))
		}
	}

	return errs
}

// removeIfEmpty removes empty directories from dir up to, excluding, stop.
func removeIfEmpty(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func isNotEmpty(err error) bool {
	return errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST)
}
