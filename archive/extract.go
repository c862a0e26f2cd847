package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"

	"github.com/aexvir/py2droid"
)

var (
	// ErrEntryNotFound is returned when the container has no entry with the requested name.
	ErrEntryNotFound = errors.New("archive entry not found")
	// ErrStream is returned for any failure of the decompress and unpack pipeline.
	ErrStream = errors.New("archive stream failure")
)

// Container is the resource shipping the runtime archives, a zip file.
type Container struct {
	reader *zip.Reader
	closer io.Closer
}

// OpenContainer opens the zip file at path.
func OpenContainer(path string) (*Container, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open container %s: %w", path, err)
	}

	return &Container{reader: &rc.Reader, closer: rc}, nil
}

// NewContainer wraps an already opened zip resource.
func NewContainer(file io.ReaderAt, size int64) (*Container, error) {
	reader, err := zip.NewReader(file, size)
	if err != nil {
		return nil, fmt.Errorf("failed to create zip reader: %w", err)
	}

	return &Container{reader: reader}, nil
}

// Close releases the underlying file, if the container owns one.
func (c *Container) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Entry is a located archive inside a container.
type Entry struct {
	Name string
	file *zip.File
}

// Size is the size in bytes of the still compressed archive.
func (e *Entry) Size() int64 {
	return int64(e.file.UncompressedSize64)
}

// Locate finds the entry with exactly the given name.
func (c *Container) Locate(name string) (*Entry, error) {
	for _, file := range c.reader.File {
		if file.Name == name {
			return &Entry{Name: name, file: file}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
}

// Extractor unpacks architecture specific runtime archives.
type Extractor struct {
	template Template
	format   string
	strip    int
	progress *bool
}

// New creates an extractor for the archives of component built for arch.
// An empty arch means the architecture this code is running on.
func New(component, arch string, opts ...Option) *Extractor {
	tmpl := Template{
		Component: component,
		Arch:      arch,
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
		Extension: ".tar.xz",
	}

	if tmpl.Arch == "" {
		tmpl.Arch = DefaultArchMapping[runtime.GOARCH]
	}

	e := Extractor{
		template: tmpl,
		format:   DefaultEntryFormat,
		strip:    1,
	}

	for _, opt := range opts {
		opt(&e)
	}

	return &e
}

// Arch is the resolved architecture the extractor targets.
func (e *Extractor) Arch() string {
	return e.template.Arch
}

// EntryName resolves the name of the archive entry for the configured architecture.
func (e *Extractor) EntryName() (string, error) {
	return e.template.Resolve(e.format)
}

// Locate finds the archive for the configured architecture inside the container.
func (e *Extractor) Locate(container *Container) (*Entry, error) {
	name, err := e.EntryName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve entry name: %w", err)
	}

	return container.Locate(name)
}

// Extract streams the entry through the xz decompressor into a tar unpacker
// writing to destination. The decompressor and the unpacker are connected
// through a synchronous pipe, so only the buffers of each stage are ever held
// in memory.
// Any failure is reported as [ErrStream]; partially written files are left
// behind for the caller to clean up.
func (e *Extractor) Extract(ctx context.Context, entry *Entry, destination string) (err error) {
	py2droid.LogDetail(fmt.Sprintf("extracting %s to %s", entry.Name, destination))

	start := time.Now()
	defer func() {
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			py2droid.LogDetail(color.RedString("✘ %s", elapsed))
			return
		}
		py2droid.LogDetail(color.GreenString("✔ %s", elapsed))
	}()

	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create destination %s: %w", ErrStream, destination, err)
	}

	src, err := entry.file.Open()
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %w", ErrStream, entry.Name, err)
	}
	defer src.Close()

	data, finish := progress(src, entry.Size(), e.showProgress())
	defer finish()

	pr, pw := io.Pipe()
	group, gctx := errgroup.WithContext(ctx)

	// producer: decompress the entry into the pipe
	group.Go(func() error {
		decompressor, err := xz.NewReader(bufio.NewReader(data))
		if err != nil {
			err = fmt.Errorf("failed to create xz reader: %w", err)
			pw.CloseWithError(err)
			return err
		}

		if _, err := io.Copy(pw, decompressor); err != nil {
			err = fmt.Errorf("failed to decompress: %w", err)
			pw.CloseWithError(err)
			return err
		}

		return pw.Close()
	})

	// consumer: unpack the tar stream coming out of the pipe
	group.Go(func() error {
		err := untar(gctx, pr, destination, e.strip)
		if err != nil {
			pr.CloseWithError(err)
			return err
		}

		// drain the tar padding so the producer never blocks on a full pipe
		_, err = io.Copy(io.Discard, pr)
		return err
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStream, entry.Name, err)
	}

	return nil
}

func (e *Extractor) showProgress() bool {
	if e.progress != nil {
		return *e.progress
	}
	return isTerminal()
}

// untar unpacks a tar stream into destination removing strip leading path components.
func untar(ctx context.Context, stream io.Reader, destination string, strip int) error {
	reader := tar.NewReader(stream)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		if escapes(header.Name) {
			return fmt.Errorf("refusing to unpack %s: path escapes the archive root", header.Name)
		}

		rel, ok := stripComponents(header.Name, strip)
		if !ok {
			continue
		}

		target, err := within(destination, rel)
		if err != nil {
			return err
		}
		if err := noSymlinkParents(destination, rel); err != nil {
			return err
		}

		mode := header.FileInfo().Mode().Perm()

		switch header.Typeflag {
		case tar.TypeDir:
			if isSymlink(target) {
				return fmt.Errorf("refusing to unpack directory %s over a symlink", header.Name)
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			if err := os.Chmod(target, mode); err != nil {
				return fmt.Errorf("failed to set mode on %s: %w", target, err)
			}

		case tar.TypeReg:
			if isSymlink(target) {
				// the member replaces the link, it's never written through it
				_ = os.Remove(target)
			}
			if err := writeFile(target, reader, mode); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if !linkWithin(rel, header.Linkname) {
				return fmt.Errorf("refusing to unpack symlink %s pointing outside the archive root: %s", header.Name, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(target), err)
			}
			_ = os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("failed to create symlink %s: %w", target, err)
			}

		case tar.TypeLink:
			linkrel, ok := stripComponents(header.Linkname, strip)
			if !ok {
				return fmt.Errorf("hard link %s points outside the archive root: %s", header.Name, header.Linkname)
			}
			source, err := within(destination, linkrel)
			if err != nil {
				return err
			}
			if err := noSymlinkParents(destination, linkrel); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(target), err)
			}
			_ = os.Remove(target)
			if err := os.Link(source, target); err != nil {
				return fmt.Errorf("failed to create hard link %s: %w", target, err)
			}

		default:
			py2droid.LogDetail(fmt.Sprintf("  skipping %s (unsupported entry type %q)", header.Name, header.Typeflag))
		}
	}
}

func writeFile(target string, contents io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(target), err)
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", target, err)
	}

	if _, err := io.Copy(out, contents); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy data to file %s: %w", target, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close file %s: %w", target, err)
	}

	// archive modes are authoritative, don't let the umask alter them
	return os.Chmod(target, mode)
}

// stripComponents removes n leading components from an archive path.
// Returns false when nothing is left, e.g. for the wrapping directory itself.
func stripComponents(name string, n int) (string, bool) {
	cleaned := path.Clean(strings.TrimPrefix(name, "./"))
	if cleaned == "." || cleaned == "/" {
		return "", false
	}

	parts := strings.Split(strings.TrimPrefix(cleaned, "/"), "/")
	if len(parts) <= n {
		return "", false
	}

	return path.Join(parts[n:]...), true
}

func escapes(name string) bool {
	if path.IsAbs(name) {
		return true
	}
	cleaned := path.Clean(name)
	return cleaned == ".." || strings.HasPrefix(cleaned, "../")
}

// within joins rel to root refusing anything that would escape root.
func within(root, rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("refusing to unpack %s outside of %s", rel, root)
	}
	return filepath.Join(root, local), nil
}

// linkWithin reports whether a symlink at rel pointing at link resolves
// inside the archive root.
func linkWithin(rel, link string) bool {
	if link == "" || path.IsAbs(link) || filepath.IsAbs(link) {
		return false
	}
	resolved := filepath.Join(filepath.Dir(filepath.FromSlash(rel)), filepath.FromSlash(link))
	return filepath.IsLocal(resolved)
}

// noSymlinkParents refuses rel when one of its parent directories under
// root is a symlink, since writing through it could land anywhere.
func noSymlinkParents(root, rel string) error {
	parent := filepath.Dir(filepath.FromSlash(rel))
	if parent == "." {
		return nil
	}

	dir := root
	for _, part := range strings.Split(parent, string(filepath.Separator)) {
		dir = filepath.Join(dir, part)
		info, err := os.Lstat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", dir, err)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("refusing to unpack %s through symlink %s", rel, dir)
		}
	}

	return nil
}

func isSymlink(name string) bool {
	info, err := os.Lstat(name)
	return err == nil && info.Mode()&fs.ModeSymlink != 0
}
