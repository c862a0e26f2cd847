// Package archivetest builds runtime containers for tests.
package archivetest

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"os"
	"testing"

	"github.com/ulikunitz/xz"
)

// File describes a single archive member, relative to the wrapping directory.
type File struct {
	Name string
	Body string
	Mode int64
	// Symlink makes the member a symbolic link pointing at this target.
	Symlink string
	// Hardlink makes the member a hard link to this other member.
	Hardlink string
	Dir      bool
}

// Runtime is a minimal runtime tree: an interpreter, a package manager and
// an isolated site-packages directory.
func Runtime(version string) []File {
	site := "lib/python3.12/site-packages"
	return []File{
		{Name: "bin", Dir: true},
		{Name: "bin/python3.12", Body: "#!/bin/sh\necho python " + version + "\n", Mode: 0o755},
		{Name: "bin/python3", Symlink: "python3.12"},
		{Name: "bin/pip3", Body: "#!/bin/sh\nexit 0\n", Mode: 0o755},
		{Name: "lib", Dir: true},
		{Name: "lib/python3.12", Dir: true},
		{Name: site, Dir: true},
		{Name: site + "/README.txt", Body: "This directory exists so that 3rd party packages can be installed here.\n", Mode: 0o644},
		{Name: site + "/pip", Dir: true},
		{Name: site + "/pip/__init__.py", Body: "", Mode: 0o644},
		{Name: site + "/pip-24.0.dist-info", Dir: true},
		{Name: site + "/pip-24.0.dist-info/METADATA", Body: "Name: pip\n", Mode: 0o644},
		{Name: "VERSION", Body: version, Mode: 0o644},
	}
}

// TarXZ packs files under the root wrapping directory and compresses them with xz.
func TarXZ(t testing.TB, root string, files []File) []byte {
	t.Helper()

	var tarbuf bytes.Buffer
	tw := tar.NewWriter(&tarbuf)

	write := func(hdr *tar.Header, body string) {
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write tar header %s: %v", hdr.Name, err)
		}
		if body != "" {
			if _, err := tw.Write([]byte(body)); err != nil {
				t.Fatalf("failed to write tar body %s: %v", hdr.Name, err)
			}
		}
	}

	write(&tar.Header{Name: root + "/", Typeflag: tar.TypeDir, Mode: 0o755}, "")

	for _, file := range files {
		// not path.Join: tests need to craft uncleaned names
		name := root + "/" + file.Name
		switch {
		case file.Dir:
			write(&tar.Header{Name: name + "/", Typeflag: tar.TypeDir, Mode: 0o755}, "")
		case file.Symlink != "":
			write(&tar.Header{Name: name, Typeflag: tar.TypeSymlink, Linkname: file.Symlink, Mode: 0o777}, "")
		case file.Hardlink != "":
			write(&tar.Header{Name: name, Typeflag: tar.TypeLink, Linkname: root + "/" + file.Hardlink, Mode: 0o644}, "")
		default:
			mode := file.Mode
			if mode == 0 {
				mode = 0o644
			}
			write(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: mode, Size: int64(len(file.Body))}, file.Body)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}

	var xzbuf bytes.Buffer
	xw, err := xz.NewWriter(&xzbuf)
	if err != nil {
		t.Fatalf("failed to create xz writer: %v", err)
	}
	if _, err := xw.Write(tarbuf.Bytes()); err != nil {
		t.Fatalf("failed to compress tar: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("failed to close xz writer: %v", err)
	}

	return xzbuf.Bytes()
}

// Truncated cuts a compressed archive in half, so the stream fails mid-way.
func Truncated(data []byte) []byte {
	return data[:len(data)/2]
}

// Container writes a zip file at path holding the given entries.
func Container(t testing.TB, path string, entries map[string][]byte) string {
	t.Helper()

	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for name, data := range entries {
		// stored, the payload is already compressed
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			t.Fatalf("failed to create zip entry %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("failed to write zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip writer: %v", err)
	}

	return path
}
