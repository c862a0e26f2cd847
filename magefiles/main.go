//go:build mage

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aexvir/py2droid"
	"github.com/aexvir/py2droid/archive"
)

const pkgName = "github.com/aexvir/py2droid"

// android abi names and the go toolchain settings producing a static binary for them
var targets = map[string][]string{
	"arm64": {"GOARCH=arm64"},
	"arm":   {"GOARCH=arm", "GOARM=7"},
	"x86":   {"GOARCH=386"},
	"x64":   {"GOARCH=amd64"},
}

func step(name, program string, opts ...py2droid.RunnerOpt) py2droid.Step {
	return py2droid.Step{
		Name: name,
		Run: func(ctx context.Context) error {
			return py2droid.Run(ctx, program, opts...)
		},
	}
}

// format codebase using gofmt
func Format(ctx context.Context) error {
	return py2droid.NewPipeline().Execute(
		ctx,
		step("gofmt", "gofmt", py2droid.WithArgs("-s", "-w", ".")),
	)
}

// run go mod tidy and go vet
func Lint(ctx context.Context) error {
	return py2droid.NewPipeline().Execute(
		ctx,
		step("go mod tidy", "go", py2droid.WithArgs("mod", "tidy")),
		step("go vet", "go", py2droid.WithArgs("vet", "./...")),
	)
}

// run unit tests
func Test(ctx context.Context) error {
	return py2droid.NewPipeline().Execute(
		ctx,
		step("go test", "go", py2droid.WithArgs("test", "-race", "-cover", "./...")),
	)
}

// build the py2droid binary for every android abi into dist/
func Build(ctx context.Context) error {
	version := os.Getenv("PY2DROID_VERSION")
	if version == "" {
		version = "dev"
	}

	steps := make([]py2droid.Step, 0, len(targets))
	for _, abi := range []string{"arm64", "arm", "x86", "x64"} {
		tmpl := archive.Template{Component: "py2droid", Arch: abi}
		out := filepath.Join("dist", tmpl.MustResolve(archive.DefaultEntryFormat))

		steps = append(steps, step(
			fmt.Sprintf("build %s", abi),
			"go",
			py2droid.WithArgs(
				"build",
				"-trimpath",
				"-ldflags", fmt.Sprintf("-s -w -X 'main.version=%s'", version),
				"-o", out,
				pkgName+"/cmd/py2droid",
			),
			py2droid.WithEnv(append([]string{"GOOS=linux", "CGO_ENABLED=0"}, targets[abi]...)...),
		))
	}

	return py2droid.NewPipeline().Execute(ctx, steps...)
}
