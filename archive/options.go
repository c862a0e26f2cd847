package archive

import "fmt"

type Option func(e *Extractor)

// DefaultArchMapping translates GOARCH values into the architecture names
// used by the host platform when the caller didn't specify one.
var DefaultArchMapping = map[string]string{
	"arm":   "arm",
	"arm64": "arm64",
	"386":   "x86",
	"amd64": "x64",
}

// WithArchMapping allows remapping the value of Arch in the template
// before resolving the entry name.
// This is useful when the build pipeline names its archives differently,
// e.g. `cpython-aarch64.tar.xz` where the platform reports `arm64`.
// The key of the map is the Arch value and the value is the wanted
// replacement; for the case mentioned earlier, pass {"arm64": "aarch64"}.
func WithArchMapping(mapping map[string]string) Option {
	return func(e *Extractor) {
		if replacement, ok := mapping[e.template.Arch]; ok {
			e.template.Arch = replacement
		}
	}
}

// WithEntryFormat overrides the template used to name the archive entry.
func WithEntryFormat(format string) Option {
	return func(e *Extractor) {
		e.format = format
	}
}

// WithExtension sets the archive extension used by the entry template.
func WithExtension(ext string) Option {
	return func(e *Extractor) {
		e.template.Extension = ext
	}
}

// WithProgress forces the progress bar on or off.
// By default it's only shown when stderr is a terminal.
func WithProgress(enabled bool) Option {
	return func(e *Extractor) {
		e.progress = &enabled
	}
}

// WithStripComponents changes how many leading path components are removed
// from every unpacked path.
func WithStripComponents(n int) Option {
	return func(e *Extractor) {
		if n < 0 {
			panic(fmt.Sprintf("strip components must be positive, got %d", n))
		}
		e.strip = n
	}
}
