package wrapper

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type layout struct {
	home     string
	bin      string
	local    string
	commands string
	envfile  string
}

func newLayout(t *testing.T) layout {
	t.Helper()
	root := t.TempDir()
	l := layout{
		home:     filepath.Join(root, "home"),
		commands: filepath.Join(root, "module", "system", "bin"),
	}
	l.bin = filepath.Join(l.home, "usr", "bin")
	l.local = filepath.Join(l.home, ".local", "bin")
	l.envfile = filepath.Join(l.home, "env.sh")

	require.NoError(t, os.MkdirAll(l.bin, 0o755))
	require.NoError(t, os.MkdirAll(l.local, 0o755))
	descriptor := "export GREETING=hello\nexport PATH=\"" + l.bin + ":" + l.local + ":$PATH\"\n"
	require.NoError(t, os.WriteFile(l.envfile, []byte(descriptor), 0o644))
	return l
}

func (l layout) synchronizer(opts ...Option) (*Synchronizer, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	opts = append([]Option{WithShell("/bin/sh"), WithLogger(logger)}, opts...)
	return New(l.commands, l.envfile, []string{l.bin, l.local}, opts...), hook
}

func executable(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

// invoke runs the wrapper for name and returns its stdout and exit status.
func (l layout) invoke(t *testing.T, name string, args ...string) (string, int) {
	t.Helper()

	var stdout bytes.Buffer
	cmd := exec.Command(filepath.Join(l.commands, name), args...)
	cmd.Stdout = &stdout
	err := cmd.Run()

	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return stdout.String(), exit.ExitCode()
	}
	require.NoError(t, err)
	return stdout.String(), 0
}

func modtimes(t *testing.T, dir string) map[string]int64 {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	times := make(map[string]int64)
	for _, entry := range entries {
		info, err := entry.Info()
		require.NoError(t, err)
		times[entry.Name()] = info.ModTime().UnixNano()
	}
	return times
}

func TestSyncCreatesWrappers(t *testing.T) {
	l := newLayout(t)
	executable(t, filepath.Join(l.bin, "python3.12"), "exit 0")
	require.NoError(t, os.Symlink("python3.12", filepath.Join(l.bin, "python3")))
	executable(t, filepath.Join(l.local, "black"), "exit 0")
	require.NoError(t, os.WriteFile(filepath.Join(l.bin, "README"), []byte("not a command"), 0o644))
	require.NoError(t, os.Symlink("missing", filepath.Join(l.bin, "dangling")))
	require.NoError(t, os.Mkdir(filepath.Join(l.bin, "subdir"), 0o755))

	s, hook := l.synchronizer()
	report, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"black", "python3", "python3.12"}, report.Created)
	assert.Empty(t, report.Removed)
	assert.Empty(t, report.Failures)
	assert.True(t, report.Changed())

	shim, err := os.ReadFile(filepath.Join(l.commands, "python3"))
	require.NoError(t, err)
	assert.Equal(t, Render("/bin/sh", l.envfile, "python3"), string(shim))

	info, err := os.Stat(filepath.Join(l.commands, "black"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	assert.Len(t, hook.AllEntries(), 3)
	assert.Equal(t, "created", hook.LastEntry().Message)
	assert.Equal(t, "python3.12", hook.LastEntry().Data["command"])
}

func TestSyncIsIdempotent(t *testing.T) {
	l := newLayout(t)
	executable(t, filepath.Join(l.bin, "python3"), "exit 0")
	executable(t, filepath.Join(l.bin, "pip3"), "exit 0")

	s, _ := l.synchronizer()
	_, err := s.Sync(context.Background())
	require.NoError(t, err)
	before := modtimes(t, l.commands)

	report, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Changed())
	assert.Equal(t, []string{"pip3", "python3"}, report.Kept)
	assert.Equal(t, before, modtimes(t, l.commands))
}

func TestSyncRemovesVanishedCommands(t *testing.T) {
	l := newLayout(t)
	executable(t, filepath.Join(l.bin, "python3"), "exit 0")
	executable(t, filepath.Join(l.local, "black"), "exit 0")

	s, _ := l.synchronizer()
	_, err := s.Sync(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(l.local, "black")))
	executable(t, filepath.Join(l.local, "ruff"), "exit 0")

	report, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"ruff"}, report.Created)
	assert.Equal(t, []string{"black"}, report.Removed)
	assert.Equal(t, []string{"python3"}, report.Kept)
	assert.NoFileExists(t, filepath.Join(l.commands, "black"))
	assert.FileExists(t, filepath.Join(l.commands, "ruff"))
}

func TestSyncLeavesUnsignedFilesAlone(t *testing.T) {
	l := newLayout(t)
	executable(t, filepath.Join(l.bin, "python3"), "exit 0")
	require.NoError(t, os.MkdirAll(l.commands, 0o755))

	// same name as a command, but not ours
	require.NoError(t, os.WriteFile(filepath.Join(l.commands, "python3"), []byte("#!/bin/sh\necho system\n"), 0o755))
	// no command at all, still not ours
	require.NoError(t, os.WriteFile(filepath.Join(l.commands, "busybox"), []byte("binary"), 0o755))

	s, hook := l.synchronizer()
	report, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"python3"}, report.Conflicts)
	assert.Empty(t, report.Created)
	assert.Empty(t, report.Removed)

	content, err := os.ReadFile(filepath.Join(l.commands, "python3"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho system\n", string(content))
	assert.FileExists(t, filepath.Join(l.commands, "busybox"))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestSyncPrefersEarlierSources(t *testing.T) {
	l := newLayout(t)
	executable(t, filepath.Join(l.bin, "pip3"), "echo runtime")
	executable(t, filepath.Join(l.local, "pip3"), "echo user")

	s, hook := l.synchronizer()
	_, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.bin, "pip3"), hook.LastEntry().Data["path"])

	out, status := l.invoke(t, "pip3")
	assert.Equal(t, 0, status)
	assert.Equal(t, "runtime\n", out)
}

func TestSyncCommandMovingBetweenSources(t *testing.T) {
	l := newLayout(t)
	executable(t, filepath.Join(l.bin, "black"), "echo runtime")
	executable(t, filepath.Join(l.local, "black"), "echo user")

	s, _ := l.synchronizer()
	_, err := s.Sync(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(l.bin, "black")))

	report, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Changed())
	assert.Equal(t, []string{"black"}, report.Kept)

	out, status := l.invoke(t, "black")
	assert.Equal(t, 0, status)
	assert.Equal(t, "user\n", out)
}

func TestSyncSkipsMissingSources(t *testing.T) {
	l := newLayout(t)
	require.NoError(t, os.RemoveAll(l.local))
	executable(t, filepath.Join(l.bin, "python3"), "exit 0")

	s, _ := l.synchronizer()
	report, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"python3"}, report.Created)
}

func TestSyncCommandDirectoryFailure(t *testing.T) {
	l := newLayout(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.commands), 0o755))
	require.NoError(t, os.WriteFile(l.commands, nil, 0o644))

	s, _ := l.synchronizer()
	_, err := s.Sync(context.Background())
	assert.ErrorContains(t, err, "command directory")
}

func TestSyncCancelled(t *testing.T) {
	l := newLayout(t)
	executable(t, filepath.Join(l.bin, "python3"), "exit 0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, _ := l.synchronizer()
	_, err := s.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, filepath.Join(l.commands, "python3"))
}

func TestWrapperRunsCommand(t *testing.T) {
	l := newLayout(t)
	executable(t, filepath.Join(l.bin, "greet"), `echo "$GREETING $*"; exit 3`)

	s, _ := l.synchronizer()
	_, err := s.Sync(context.Background())
	require.NoError(t, err)

	out, status := l.invoke(t, "greet", "a", "b c")
	assert.Equal(t, 3, status)
	assert.Equal(t, "hello a b c\n", out)
}

func TestOwned(t *testing.T) {
	dir := t.TempDir()

	signed := filepath.Join(dir, "signed")
	require.NoError(t, os.WriteFile(signed, []byte(Render(DefaultShell, "/h/env.sh", "x")), 0o755))
	owned, err := Owned(signed)
	require.NoError(t, err)
	assert.True(t, owned)

	late := filepath.Join(dir, "late")
	require.NoError(t, os.WriteFile(late, append(bytes.Repeat([]byte("x"), sniffSize), []byte(Signature)...), 0o755))
	owned, err = Owned(late)
	require.NoError(t, err)
	assert.False(t, owned, "signature past the sniffed prefix")

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o755))
	owned, err = Owned(empty)
	require.NoError(t, err)
	assert.False(t, owned)

	_, err = Owned(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRenderQuotes(t *testing.T) {
	shim := Render(DefaultShell, `/data/my "home"/env.sh`, "x$y")
	assert.Equal(t,
		"#!/system/bin/sh\n# py2droid-wrapper\n. \"/data/my \\\"home\\\"/env.sh\" && exec \"x\\$y\" \"$@\"\n",
		shim,
	)
}
