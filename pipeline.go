package py2droid

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
)

// Step is a single named unit of work of a [Pipeline].
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pipeline runs steps sequentially, showing a consistent output where the
// step status and timing info are clearly visible.
// Unlike a task list, a pipeline stops at the first failing step: every
// step is assumed to depend on the ones before it.
type Pipeline struct {
	// OnFailure is called once with the failed step and its error before
	// [Pipeline.Execute] returns. It is where rollback logic lives.
	OnFailure func(ctx context.Context, failed Step, err error)
	// OnSuccess is called once after every step completed.
	OnSuccess func(ctx context.Context)
}

type PipelineOption func(p *Pipeline)

// NewPipeline constructs a pipeline with no-op hooks.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := Pipeline{
		OnFailure: func(_ context.Context, _ Step, _ error) {},
		OnSuccess: func(_ context.Context) {},
	}

	for _, opt := range opts {
		opt(&p)
	}

	return &p
}

// WithFailureHook sets the function run when a step fails.
func WithFailureHook(hook func(ctx context.Context, failed Step, err error)) PipelineOption {
	return func(p *Pipeline) {
		p.OnFailure = hook
	}
}

// WithSuccessHook sets the function run after all steps succeeded.
func WithSuccessHook(hook func(ctx context.Context)) PipelineOption {
	return func(p *Pipeline) {
		p.OnSuccess = hook
	}
}

// Execute runs the steps in order.
// The returned error wraps the failing step's error so callers can still
// match sentinels with errors.Is.
func (p *Pipeline) Execute(ctx context.Context, steps ...Step) error {
	start := time.Now()

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			p.OnFailure(ctx, step, err)
			return fmt.Errorf("%s: %w", step.Name, err)
		}

		LogStep(step.Name)
		stepstart := time.Now()

		if err := step.Run(ctx); err != nil {
			elapsed := time.Since(stepstart).Round(time.Millisecond)
			fmt.Fprint(Output, color.RedString(" ✘ %s\n\n", elapsed))

			p.OnFailure(ctx, step, err)

			color.New(color.FgHiBlack).Fprintf(Output, "------------------------\n\n")
			fmt.Fprint(Output, color.RedString(" ✘ %s failed after %s\n", step.Name, time.Since(start).Round(time.Millisecond)))
			fmt.Fprint(Output, color.RedString("   • %s\n\n", err))

			return fmt.Errorf("%s: %w", step.Name, err)
		}

		elapsed := time.Since(stepstart).Round(time.Millisecond)
		fmt.Fprint(Output, color.GreenString(" ✔ %s\n\n", elapsed))
	}

	p.OnSuccess(ctx)

	color.New(color.FgHiBlack).Fprintf(Output, "------------------------\n\n")
	fmt.Fprint(Output, color.GreenString(" ✔ all good after %s\n\n", time.Since(start).Round(time.Millisecond)))

	return nil
}
