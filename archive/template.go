package archive

import (
	"strings"
	"text/template"
)

// DefaultEntryFormat is the naming scheme of runtime archives inside the container.
const DefaultEntryFormat = "{{.Component}}-{{.Arch}}{{.Extension}}"

// Template contains the fields used to resolve the name of an archive entry.
type Template struct {
	// Component is the name of the packaged runtime (e.g., "cpython")
	Component string
	// Arch is the device architecture in the host platform's naming (e.g., "arm64", "x64")
	Arch string
	// GOOS is the operating system this code is running on
	GOOS string
	// GOARCH is the architecture this code was compiled for
	GOARCH string
	// Extension is the archive file extension, including the leading dot
	Extension string
}

// Resolve executes the provided format string as a template with the Template's fields.
// It returns the resolved string and any error that occurred during template parsing or execution.
func (t Template) Resolve(format string) (string, error) {
	tmpl, err := template.New("entry").Option("missingkey=error").Parse(format)
	if err != nil {
		return "", err
	}

	var bld strings.Builder
	if err := tmpl.Execute(&bld, t); err != nil {
		return "", err
	}

	return bld.String(), nil
}

// MustResolve executes the provided format string as a template with the Template's fields.
// Panics if the template can't be resolved correctly.
func (t Template) MustResolve(format string) string {
	resolved, err := t.Resolve(format)
	if err != nil {
		panic(err)
	}
	return resolved
}
