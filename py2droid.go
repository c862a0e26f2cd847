// Package py2droid holds the plumbing shared by the installer and the wrapper
// synchronizer: a sequential step pipeline, a command runner used to drive
// external tools such as pip, and the console output helpers.
package py2droid

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Output is where the console helpers write to.
// It defaults to the color-aware stdout and can be pointed at a file by
// lifecycle hooks that have no terminal attached.
var Output io.Writer = color.Output

// LogStep prints a top level step of an operation.
func LogStep(text string) {
	fmt.Fprintln(
		Output,
		color.MagentaString(" ⌘"),
		color.New(color.Bold).Sprint(text),
	)
}

// LogInfo prints an informational line nested under the current step.
func LogInfo(text string) {
	fmt.Fprintln(
		Output,
		color.BlueString(" •"),
		color.New(color.FgHiBlack).Sprint(text),
	)
}

// LogDetail prints a low priority detail nested under the current step.
func LogDetail(text string) {
	fmt.Fprintln(
		Output,
		color.New(color.FgHiBlack).Sprint("   └"),
		color.New(color.FgHiBlack).Sprint(text),
	)
}

// LogWarn prints a non fatal problem.
func LogWarn(text string) {
	fmt.Fprintln(Output, color.YellowString(" ! %s", text))
}

// LogError prints a fatal problem.
func LogError(text string) {
	fmt.Fprintln(Output, color.RedString(" ✘ %s", text))
}
