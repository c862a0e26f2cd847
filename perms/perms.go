// Package perms resets the ownership of an installed runtime tree.
package perms

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Owner is a numeric uid:gid pair.
type Owner struct {
	UID int
	GID int
}

// Root is the fixed system owner of the runtime tree on device.
var Root = Owner{UID: 0, GID: 0}

func (o Owner) String() string {
	return fmt.Sprintf("%d:%d", o.UID, o.GID)
}

// Failure is a single entry whose ownership couldn't be changed.
type Failure struct {
	Path string
	Err  error
}

// Report summarizes a normalization pass.
type Report struct {
	Changed  int
	Skipped  int
	Failures []Failure
}

// Normalizer walks trees and changes their ownership, leaving modes alone.
type Normalizer struct {
	owner Owner
	chown func(path string, uid, gid int) error
}

// New creates a normalizer that hands every entry over to owner.
func New(owner Owner) *Normalizer {
	return &Normalizer{owner: owner, chown: os.Lchown}
}

// Normalize walks root and chowns every entry, symlinks included (the link,
// never its target). Entries vanishing mid-walk are skipped. Every other
// per-entry failure is recorded in the report without stopping the walk;
// only a failure to stat root itself is returned as an error.
func (n *Normalizer) Normalize(root string) (Report, error) {
	var report Report

	if _, err := os.Lstat(root); err != nil {
		return report, fmt.Errorf("failed to access %s: %w", root, err)
	}

	err := filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				report.Skipped++
				return nil
			}
			report.Failures = append(report.Failures, Failure{Path: path, Err: err})
			return nil
		}

		if err := n.chown(path, n.owner.UID, n.owner.GID); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				report.Skipped++
				return nil
			}
			report.Failures = append(report.Failures, Failure{Path: path, Err: err})
			return nil
		}

		report.Changed++
		return nil
	})

	return report, err
}
