// Package config holds the settings of the py2droid entry points.
//
// Every field has a default matching the on-device layout, so a config file
// is optional and only needs the values it changes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/aexvir/py2droid/envfile"
)

const (
	DefaultModuleDir = "/data/adb/modules/py2droid"
	DefaultManifest  = "/sdcard/py2droid-packages.txt"
	DefaultLogFile   = "update-bin.log"
)

type Config struct {
	// ModuleDir is where the host installed the module.
	ModuleDir string `yaml:"module_dir"`
	// Descriptor defaults to env.sh inside ModuleDir.
	Descriptor string `yaml:"descriptor"`
	// Home must match the descriptor's HOME when set.
	Home string `yaml:"home"`
	// Prefix defaults to usr inside the managed home.
	Prefix   string `yaml:"prefix"`
	Manifest string `yaml:"manifest"`

	Runtime Runtime `yaml:"runtime"`
	Owner   Owner   `yaml:"owner"`
	Wrapper Wrapper `yaml:"wrapper"`
}

type Runtime struct {
	Component string `yaml:"component"`
	Arch      string `yaml:"arch"`
	Version   string `yaml:"version"`
	// ArchMapping translates GOARCH names to archive names.
	ArchMapping map[string]string `yaml:"arch_mapping"`
}

type Owner struct {
	UID int `yaml:"uid"`
	GID int `yaml:"gid"`
}

type Wrapper struct {
	// CommandDir defaults to system/bin inside ModuleDir.
	CommandDir string `yaml:"command_dir"`
	Shell      string `yaml:"shell"`
	// Sources default to the prefix bin directory followed by ~/.local/bin.
	Sources []string `yaml:"sources"`
	// LogFile is relative to ModuleDir unless absolute.
	LogFile string `yaml:"log_file"`
}

// Default returns the on-device configuration.
func Default() Config {
	return Config{
		ModuleDir: DefaultModuleDir,
		Manifest:  DefaultManifest,
		Runtime: Runtime{
			Component: "cpython",
		},
		Wrapper: Wrapper{
			Shell:   "/system/bin/sh",
			LogFile: DefaultLogFile,
		},
	}
}

// Load reads the config file at path over the defaults.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes YAML data over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// DescriptorPath is the environment descriptor shipped with the module.
func (c Config) DescriptorPath() string {
	if c.Descriptor != "" {
		return c.Descriptor
	}
	return filepath.Join(c.ModuleDir, envfile.FileName)
}

// PrefixIn resolves the runtime prefix for the given managed home.
func (c Config) PrefixIn(home string) string {
	if c.Prefix != "" {
		return c.Prefix
	}
	return filepath.Join(home, "usr")
}

// CommandDir is where wrappers are maintained.
func (c Config) CommandDir() string {
	if c.Wrapper.CommandDir != "" {
		return c.Wrapper.CommandDir
	}
	return filepath.Join(c.ModuleDir, "system", "bin")
}

// Sources lists the directories whose executables get wrappers, by precedence.
func (c Config) Sources(home string) []string {
	if len(c.Wrapper.Sources) > 0 {
		return c.Wrapper.Sources
	}
	return []string{
		filepath.Join(c.PrefixIn(home), "bin"),
		filepath.Join(home, ".local", "bin"),
	}
}

// LogPath is the file the synchronizer logs to.
func (c Config) LogPath() string {
	if filepath.IsAbs(c.Wrapper.LogFile) {
		return c.Wrapper.LogFile
	}
	return filepath.Join(c.ModuleDir, c.Wrapper.LogFile)
}
