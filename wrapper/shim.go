package wrapper

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Signature marks a file in the command directory as a wrapper owned by the
// synchronizer. Files without it are never modified or removed.
const Signature = "# py2droid-wrapper"

// DefaultShell is the interpreter of the generated wrappers on device.
const DefaultShell = "/system/bin/sh"

// sniffSize is how much of a file is read looking for the signature.
const sniffSize = 512

// Render returns the wrapper script for command. The wrapper loads the
// environment descriptor and replaces itself with command, looked up on the
// PATH the descriptor exports, forwarding every argument and, through exec,
// the exit status.
func Render(shell, envfile, command string) string {
	return fmt.Sprintf(
		"#!%s\n%s\n. %s && exec %s \"$@\"\n",
		shell, Signature, quote(envfile), quote(command),
	)
}

// quote wraps s in double quotes, escaping what the shell would expand.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\', '$', '`':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// Owned reports whether the file at path carries the wrapper signature.
func Owned(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, err
	}

	return bytes.Contains(head[:n], []byte(Signature)), nil
}

// write puts contents at path through a temporary sibling and a rename,
// so a reader never observes a partial wrapper.
func write(path, contents string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(contents); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o755); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
