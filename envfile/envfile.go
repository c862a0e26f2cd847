// Package envfile loads the environment descriptor, the shell file sourced by
// every wrapper before it hands over to the real command.
//
// The descriptor is a list of `export KEY=value` lines. Only the variables
// below are interpreted, everything else is passed through untouched when
// building the environment of child processes.
package envfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// FileName is the name of the descriptor inside the managed home.
const FileName = "env.sh"

const (
	HomeVar        = "HOME"
	PathVar        = "PATH"
	LibraryPathVar = "LD_LIBRARY_PATH"
	CacheVar       = "XDG_CACHE_HOME"
	ConfigVar      = "XDG_CONFIG_HOME"
	DataVar        = "XDG_DATA_HOME"
	StateVar       = "XDG_STATE_HOME"
	TmpVar         = "TMPDIR"

	// InstallingVar is set by the host while the module is being installed.
	InstallingVar = "PY2DROID_INSTALLING"
	// InstallTmpVar is the temp directory to use while installing, the host
	// uses TMPDIR for its own staging at that point.
	InstallTmpVar = "PY2DROID_INSTALL_TMPDIR"
)

// Config is the parsed descriptor. It's a value; nothing in this module
// mutates it after loading.
type Config struct {
	// Source is the file the descriptor was read from, empty when parsed from a reader.
	Source string

	Home string
	// PathAdditions are the PATH entries living under Home, in descriptor order.
	PathAdditions []string
	// LibraryPathAdditions are the LD_LIBRARY_PATH entries living under Home.
	LibraryPathAdditions []string

	CacheDir  string
	ConfigDir string
	DataDir   string
	StateDir  string
	TmpDir    string

	// Installing reports whether the install phase override was applied.
	Installing bool

	vars map[string]string
}

type Option func(o *options)

type options struct {
	installing bool
}

// WithInstalling forces the install phase on or off.
// By default it follows the InstallingVar of the current process.
func WithInstalling(installing bool) Option {
	return func(o *options) {
		o.installing = installing
	}
}

// Load reads and parses the descriptor at path.
func Load(path string, opts ...Option) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open environment descriptor: %w", err)
	}
	defer file.Close()

	cfg, err := Parse(file, opts...)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	cfg.Source = path
	return cfg, nil
}

// Parse reads a descriptor from r.
func Parse(r io.Reader, opts ...Option) (Config, error) {
	o := options{installing: os.Getenv(InstallingVar) != ""}
	for _, opt := range opts {
		opt(&o)
	}

	vars, err := godotenv.Parse(r)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment descriptor: %w", err)
	}

	home := vars[HomeVar]
	if home == "" {
		return Config{}, fmt.Errorf("environment descriptor doesn't define %s", HomeVar)
	}
	home = filepath.Clean(home)

	cfg := Config{
		Home:                 home,
		PathAdditions:        underHome(vars[PathVar], home),
		LibraryPathAdditions: underHome(vars[LibraryPathVar], home),
		CacheDir:             vars[CacheVar],
		ConfigDir:            vars[ConfigVar],
		DataDir:              vars[DataVar],
		StateDir:             vars[StateVar],
		TmpDir:               vars[TmpVar],
		vars:                 vars,
	}

	if o.installing {
		cfg.Installing = true
		cfg.TmpDir = vars[InstallTmpVar]
		if cfg.TmpDir == "" {
			cfg.TmpDir = filepath.Join(home, ".install-tmp")
		}
	}

	return cfg, nil
}

// Get returns the raw value of a descriptor variable.
func (c Config) Get(key string) string {
	return c.vars[key]
}

// Environ overlays the descriptor on top of base, usually os.Environ().
// PATH and LD_LIBRARY_PATH get the additions prepended to the base value, so
// the outcome is the same as sourcing the descriptor from a shell started
// with base.
func (c Config) Environ(base []string) []string {
	env := make(map[string]string, len(base)+len(c.vars))
	var order []string

	set := func(key, value string) {
		if _, ok := env[key]; !ok {
			order = append(order, key)
		}
		env[key] = value
	}

	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		set(key, value)
	}

	keys := make([]string, 0, len(c.vars))
	for key := range c.vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch key {
		case PathVar:
			set(key, prepend(c.PathAdditions, env[key]))
		case LibraryPathVar:
			set(key, prepend(c.LibraryPathAdditions, env[key]))
		case TmpVar, InstallTmpVar:
			// handled below
		default:
			set(key, c.vars[key])
		}
	}

	if c.TmpDir != "" {
		set(TmpVar, c.TmpDir)
	}

	out := make([]string, 0, len(order))
	for _, key := range order {
		out = append(out, key+"="+env[key])
	}
	return out
}

// Contains reports whether path is Home or lives below it.
func (c Config) Contains(path string) bool {
	return isUnder(filepath.Clean(path), c.Home)
}

func underHome(value, home string) []string {
	var entries []string
	for _, entry := range filepath.SplitList(value) {
		if entry == "" {
			continue
		}
		entry = filepath.Clean(entry)
		if isUnder(entry, home) {
			entries = append(entries, entry)
		}
	}
	return entries
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func prepend(additions []string, current string) string {
	if current == "" {
		return strings.Join(additions, string(filepath.ListSeparator))
	}
	return strings.Join(append(append([]string{}, additions...), current), string(filepath.ListSeparator))
}
