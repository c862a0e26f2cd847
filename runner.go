package py2droid

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
)

// CommandRunner holds the metadata for a specific external command.
type CommandRunner struct {
	Executable string
	Arguments  []string

	cmd    *exec.Cmd
	errmsg string
	quiet  bool
}

// Cmd builds a command runner for a specific executable.
// Relative executable paths are resolved against the current directory and
// bare names are looked up in PATH, so [WithDir] never changes which binary
// gets run.
func Cmd(ctx context.Context, executable string, opts ...RunnerOpt) (*CommandRunner, error) {
	resolved, err := resolveExecutable(executable)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, resolved)

	cmd.Stdout = Output
	cmd.Stderr = os.Stderr

	r := CommandRunner{
		Executable: resolved,
		cmd:        cmd,
	}

	for _, opt := range opts {
		if err := opt(&r); err != nil {
			return nil, err
		}
	}

	cmd.Args = append([]string{resolved}, r.Arguments...)

	return &r, nil
}

// Exec a command returning its error and printing its outcome.
func (r *CommandRunner) Exec() error {
	var err error

	start := time.Now()
	defer func() {
		if r.quiet {
			return
		}
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			LogDetail(color.RedString("✘ %s", elapsed))
			return
		}
		LogDetail(color.GreenString("✔ %s", elapsed))
	}()

	if !r.quiet {
		LogDetail(fmt.Sprint(filepath.Base(r.Executable), " ", strings.Join(r.Arguments, " ")))
	}

	err = r.cmd.Run()
	if err != nil {
		if !r.quiet && r.errmsg != "" {
			LogError(r.errmsg)
		}
		return fmt.Errorf("%s: %w", filepath.Base(r.Executable), err)
	}

	return nil
}

// Run is a helper function to build and execute a command in a single call.
func Run(ctx context.Context, program string, opts ...RunnerOpt) error {
	rnr, err := Cmd(ctx, program, opts...)
	if err != nil {
		return err
	}

	return rnr.Exec()
}

func resolveExecutable(executable string) (string, error) {
	if filepath.IsAbs(executable) {
		return executable, nil
	}

	if strings.ContainsRune(executable, filepath.Separator) {
		abs, err := filepath.Abs(executable)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", executable, err)
		}
		return abs, nil
	}

	found, err := exec.LookPath(executable)
	if err != nil {
		return "", fmt.Errorf("failed to find %s: %w", executable, err)
	}

	return filepath.Abs(found)
}

// RunnerOpt allows customizing the behavior of the command runner.
type RunnerOpt func(r *CommandRunner) error

// WithEnv adds environment variables on top of the current process environment.
func WithEnv(vars ...string) RunnerOpt {
	return func(r *CommandRunner) error {
		if r.cmd.Env == nil {
			r.cmd.Env = os.Environ()
		}
		for _, vrb := range vars {
			if !strings.Contains(vrb, "=") {
				return fmt.Errorf("invalid env format; %s doesn't match NAME=value expectation", vrb)
			}
			r.cmd.Env = append(r.cmd.Env, vrb)
		}
		return nil
	}
}

// WithEnviron replaces the whole environment of the command.
func WithEnviron(environ []string) RunnerOpt {
	return func(r *CommandRunner) error {
		r.cmd.Env = append([]string{}, environ...)
		return nil
	}
}

// WithArgs command arguments.
func WithArgs(args ...string) RunnerOpt {
	return func(r *CommandRunner) error {
		r.Arguments = args
		return nil
	}
}

// WithErrMsg sets a message to be printed when the command fails.
func WithErrMsg(msg string) RunnerOpt {
	return func(r *CommandRunner) error {
		r.errmsg = msg
		return nil
	}
}

// WithDir sets the directory where the command should be run inside.
func WithDir(dir string) RunnerOpt {
	return func(r *CommandRunner) error {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve dir %s: %w", dir, err)
		}
		r.cmd.Dir = abs
		return nil
	}
}

// WithoutNoise silences all output for the command; useful when handling that on the caller side.
func WithoutNoise() RunnerOpt {
	return func(r *CommandRunner) error {
		r.quiet = true
		r.cmd.Stdout = nil
		r.cmd.Stderr = nil

		return nil
	}
}

// WithStdOut set up stdout writer.
func WithStdOut(w io.Writer) RunnerOpt {
	return func(r *CommandRunner) error {
		r.cmd.Stdout = w
		return nil
	}
}

// WithStdErr set up stderr writer.
func WithStdErr(w io.Writer) RunnerOpt {
	return func(r *CommandRunner) error {
		r.cmd.Stderr = w
		return nil
	}
}
