package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aexvir/py2droid"
	"github.com/aexvir/py2droid/archive/archivetest"
)

func TestMain(m *testing.M) {
	py2droid.Output = io.Discard
	os.Exit(m.Run())
}

func TestNewDefaults(t *testing.T) {
	extractor := New("cpython", "arm64")

	name, err := extractor.EntryName()
	require.NoError(t, err)
	assert.Equal(t, "cpython-arm64.tar.xz", name)
	assert.Equal(t, 1, extractor.strip)
}

func TestNewWithArchMapping(t *testing.T) {
	extractor := New("cpython", "arm64", WithArchMapping(map[string]string{"arm64": "aarch64"}))

	name, err := extractor.EntryName()
	require.NoError(t, err)
	assert.Equal(t, "cpython-aarch64.tar.xz", name)
	assert.Equal(t, "aarch64", extractor.Arch())
}

func TestNewWithoutArchUsesHost(t *testing.T) {
	extractor := New("cpython", "")
	assert.Equal(t, DefaultArchMapping[extractor.template.GOARCH], extractor.Arch())
}

func TestEntryNameInvalidFormat(t *testing.T) {
	extractor := New("cpython", "x64", WithEntryFormat("{{.Nope}}"))

	_, err := extractor.EntryName()
	assert.Error(t, err)
}

func TestLocate(t *testing.T) {
	dir := t.TempDir()
	payload := archivetest.TarXZ(t, "cpython", archivetest.Runtime("3.12.4"))
	zippath := archivetest.Container(t, filepath.Join(dir, "module.zip"), map[string][]byte{
		"cpython-arm64.tar.xz": payload,
		"module.prop":          []byte("id=py2droid\n"),
	})

	container, err := OpenContainer(zippath)
	require.NoError(t, err)
	defer container.Close()

	t.Run("found", func(t *testing.T) {
		entry, err := New("cpython", "arm64").Locate(container)
		require.NoError(t, err)
		assert.Equal(t, "cpython-arm64.tar.xz", entry.Name)
		assert.Equal(t, int64(len(payload)), entry.Size())
	})

	t.Run("missing architecture", func(t *testing.T) {
		_, err := New("cpython", "x86").Locate(container)
		assert.ErrorIs(t, err, ErrEntryNotFound)
		assert.Contains(t, err.Error(), "cpython-x86.tar.xz")
	})

	t.Run("exact match only", func(t *testing.T) {
		_, err := container.Locate("cpython-arm64.tar")
		assert.ErrorIs(t, err, ErrEntryNotFound)
	})
}

func TestExtractStripsWrappingDirectory(t *testing.T) {
	dir := t.TempDir()
	zippath := archivetest.Container(t, filepath.Join(dir, "module.zip"), map[string][]byte{
		"cpython-arm64.tar.xz": archivetest.TarXZ(t, "cpython-3.12.4", archivetest.Runtime("3.12.4")),
	})

	container, err := OpenContainer(zippath)
	require.NoError(t, err)
	defer container.Close()

	extractor := New("cpython", "arm64", WithProgress(false))
	entry, err := extractor.Locate(container)
	require.NoError(t, err)

	dest := filepath.Join(dir, "out")
	require.NoError(t, extractor.Extract(context.Background(), entry, dest))

	assert.NoDirExists(t, filepath.Join(dest, "cpython-3.12.4"))
	assert.FileExists(t, filepath.Join(dest, "VERSION"))
	assert.DirExists(t, filepath.Join(dest, "lib", "python3.12", "site-packages", "pip"))

	version, err := os.ReadFile(filepath.Join(dest, "VERSION"))
	require.NoError(t, err)
	assert.Equal(t, "3.12.4", string(version))

	// modes come from the archive
	info, err := os.Stat(filepath.Join(dest, "bin", "python3.12"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(dest, "VERSION"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	link, err := os.Readlink(filepath.Join(dest, "bin", "python3"))
	require.NoError(t, err)
	assert.Equal(t, "python3.12", link)
}

func TestExtractTruncatedStream(t *testing.T) {
	dir := t.TempDir()
	payload := archivetest.TarXZ(t, "cpython", archivetest.Runtime("3.12.4"))
	zippath := archivetest.Container(t, filepath.Join(dir, "module.zip"), map[string][]byte{
		"cpython-arm64.tar.xz": archivetest.Truncated(payload),
	})

	container, err := OpenContainer(zippath)
	require.NoError(t, err)
	defer container.Close()

	extractor := New("cpython", "arm64", WithProgress(false))
	entry, err := extractor.Locate(container)
	require.NoError(t, err)

	err = extractor.Extract(context.Background(), entry, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrStream)
}

func TestExtractNotXZ(t *testing.T) {
	dir := t.TempDir()
	zippath := archivetest.Container(t, filepath.Join(dir, "module.zip"), map[string][]byte{
		"cpython-arm64.tar.xz": []byte("definitely not an xz stream"),
	})

	container, err := OpenContainer(zippath)
	require.NoError(t, err)
	defer container.Close()

	extractor := New("cpython", "arm64", WithProgress(false))
	entry, err := extractor.Locate(container)
	require.NoError(t, err)

	err = extractor.Extract(context.Background(), entry, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrStream)
}

func TestExtractRejectsEscapingPaths(t *testing.T) {
	dir := t.TempDir()
	zippath := archivetest.Container(t, filepath.Join(dir, "module.zip"), map[string][]byte{
		"cpython-arm64.tar.xz": archivetest.TarXZ(t, "cpython", []archivetest.File{
			{Name: "../../evil", Body: "nope", Mode: 0o644},
		}),
	})

	container, err := OpenContainer(zippath)
	require.NoError(t, err)
	defer container.Close()

	extractor := New("cpython", "arm64", WithProgress(false))
	entry, err := extractor.Locate(container)
	require.NoError(t, err)

	err = extractor.Extract(context.Background(), entry, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrStream)
	assert.NoFileExists(t, filepath.Join(dir, "evil"))
}

func TestExtractRejectsEscapingSymlinks(t *testing.T) {
	tests := map[string]struct {
		files []archivetest.File
	}{
		"absolute target": {files: []archivetest.File{
			{Name: "lib", Symlink: "OUTSIDE"},
			{Name: "lib/evil", Body: "pwned"},
		}},
		"relative target": {files: []archivetest.File{
			{Name: "bin", Dir: true},
			{Name: "bin/lib", Symlink: "../../outside"},
			{Name: "bin/lib/evil", Body: "pwned"},
		}},
		"chained links": {files: []archivetest.File{
			{Name: "p/q", Dir: true},
			{Name: "p/q/r", Symlink: "../.."},
			{Name: "up", Symlink: "p/q/r/../outside"},
			{Name: "up/evil", Body: "pwned"},
		}},
		"write through a local link": {files: []archivetest.File{
			{Name: "p", Dir: true},
			{Name: "p/r", Symlink: ".."},
			{Name: "p/r/r", Symlink: "."},
			{Name: "p/r/r/evil", Body: "pwned"},
		}},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			outside := filepath.Join(dir, "outside")
			require.NoError(t, os.Mkdir(outside, 0o755))

			files := make([]archivetest.File, len(test.files))
			for i, file := range test.files {
				if file.Symlink == "OUTSIDE" {
					file.Symlink = outside
				}
				files[i] = file
			}

			zippath := archivetest.Container(t, filepath.Join(dir, "module.zip"), map[string][]byte{
				"cpython-arm64.tar.xz": archivetest.TarXZ(t, "cpython", files),
			})

			container, err := OpenContainer(zippath)
			require.NoError(t, err)
			defer container.Close()

			extractor := New("cpython", "arm64", WithProgress(false))
			entry, err := extractor.Locate(container)
			require.NoError(t, err)

			err = extractor.Extract(context.Background(), entry, filepath.Join(dir, "out", "prefix"))
			assert.ErrorIs(t, err, ErrStream)
			assert.NoFileExists(t, filepath.Join(outside, "evil"))
			assert.NoFileExists(t, filepath.Join(dir, "out", "evil"))
		})
	}
}

func TestExtractHardLinkBeforeItsDirectory(t *testing.T) {
	dir := t.TempDir()
	zippath := archivetest.Container(t, filepath.Join(dir, "module.zip"), map[string][]byte{
		"cpython-arm64.tar.xz": archivetest.TarXZ(t, "cpython", []archivetest.File{
			{Name: "bin/python3.12", Body: "#!/bin/sh\n", Mode: 0o755},
			{Name: "libexec/python3.12", Hardlink: "bin/python3.12"},
		}),
	})

	container, err := OpenContainer(zippath)
	require.NoError(t, err)
	defer container.Close()

	extractor := New("cpython", "arm64", WithProgress(false))
	entry, err := extractor.Locate(container)
	require.NoError(t, err)

	out := filepath.Join(dir, "out")
	require.NoError(t, extractor.Extract(context.Background(), entry, out))

	original, err := os.Stat(filepath.Join(out, "bin", "python3.12"))
	require.NoError(t, err)
	linked, err := os.Stat(filepath.Join(out, "libexec", "python3.12"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(original, linked))
}

func TestExtractCancelled(t *testing.T) {
	dir := t.TempDir()
	zippath := archivetest.Container(t, filepath.Join(dir, "module.zip"), map[string][]byte{
		"cpython-arm64.tar.xz": archivetest.TarXZ(t, "cpython", archivetest.Runtime("3.12.4")),
	})

	container, err := OpenContainer(zippath)
	require.NoError(t, err)
	defer container.Close()

	extractor := New("cpython", "arm64", WithProgress(false))
	entry, err := extractor.Locate(container)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = extractor.Extract(ctx, entry, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrStream)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStripComponents(t *testing.T) {
	tests := map[string]struct {
		name string
		want string
		ok   bool
	}{
		"wrapping dir":          {name: "cpython/", ok: false},
		"wrapping dir no slash": {name: "cpython", ok: false},
		"nested file":           {name: "cpython/bin/python3", want: "bin/python3", ok: true},
		"dot prefix":            {name: "./cpython/lib", want: "lib", ok: true},
		"dot":                   {name: ".", ok: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, ok := stripComponents(tc.name, 1)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
