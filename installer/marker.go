package installer

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// MarkerFile is the install record kept at the root of the managed home.
const MarkerFile = ".py2droid.yaml"

// Marker records a completed installation. It's written as the last step of
// every successful run and read back at the start of the next one.
type Marker struct {
	ID          string    `yaml:"install_id"`
	Version     string    `yaml:"version"`
	Arch        string    `yaml:"arch"`
	Prefix      string    `yaml:"prefix"`
	InstalledAt time.Time `yaml:"installed_at"`
}

// ReadMarker loads the marker of the given home.
func ReadMarker(home string) (Marker, error) {
	data, err := os.ReadFile(filepath.Join(home, MarkerFile))
	if err != nil {
		return Marker{}, err
	}

	var marker Marker
	if err := yaml.Unmarshal(data, &marker); err != nil {
		return Marker{}, fmt.Errorf("invalid install marker: %w", err)
	}
	if marker.Prefix == "" {
		return Marker{}, fmt.Errorf("invalid install marker: prefix is missing")
	}

	return marker, nil
}

// WriteMarker stores the marker in home, replacing any previous one atomically.
func WriteMarker(home string, marker Marker) error {
	data, err := yaml.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to encode install marker: %w", err)
	}

	if err := replaceFile(filepath.Join(home, MarkerFile), bytes.NewReader(data), 0o644); err != nil {
		return fmt.Errorf("failed to write install marker: %w", err)
	}

	return nil
}

// State is what a run finds at the managed location before touching it.
type State int

const (
	// StateAbsent means there's no runtime to preserve.
	StateAbsent State = iota
	// StatePresentMatching means the runtime at the managed prefix is ours
	// and will be upgraded in place.
	StatePresentMatching
	// StatePresentOther means a marker exists but doesn't describe the
	// managed prefix, or can't be read. Nothing it points to is touched.
	StatePresentOther
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StatePresentMatching:
		return "present-and-matching"
	case StatePresentOther:
		return "present-other"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Detection is the outcome of inspecting the managed location.
type Detection struct {
	State State
	// Marker is set when a readable marker was found.
	Marker *Marker
	// Legacy is set for runtimes installed before markers were written.
	Legacy bool
}

// Detect computes the installation state of prefix within home.
func Detect(home, prefix string) (Detection, error) {
	hasRuntime := isRuntime(prefix)

	marker, err := ReadMarker(home)
	switch {
	case err == nil:
		detection := Detection{Marker: &marker, State: StatePresentOther}
		if samePath(marker.Prefix, prefix) && hasRuntime {
			detection.State = StatePresentMatching
		}
		return detection, nil

	case errors.Is(err, fs.ErrNotExist):
		if hasRuntime {
			return Detection{State: StatePresentMatching, Legacy: true}, nil
		}
		return Detection{State: StateAbsent}, nil

	default:
		// unreadable marker: keep away from whatever is there
		return Detection{State: StatePresentOther}, nil
	}
}

// isRuntime reports whether prefix holds an interpreter.
func isRuntime(prefix string) bool {
	for _, name := range []string{"python3", "python"} {
		info, err := os.Stat(filepath.Join(prefix, "bin", name))
		if err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0 {
			return true
		}
	}
	return false
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// describeVersionChange classifies an update for the log.
func describeVersionChange(from, to string) string {
	switch {
	case from == "" || to == "":
		return "reinstalling"
	case !semver.IsValid("v"+from) || !semver.IsValid("v"+to):
		if from == to {
			return "reinstalling " + to
		}
		return fmt.Sprintf("replacing %s with %s", from, to)
	}

	switch semver.Compare("v"+from, "v"+to) {
	case -1:
		return fmt.Sprintf("upgrading %s to %s", from, to)
	case 1:
		return fmt.Sprintf("downgrading %s to %s", from, to)
	default:
		return "reinstalling " + to
	}
}
