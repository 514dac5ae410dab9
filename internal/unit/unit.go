// Package unit defines the contract between the pipeline engine and the
// pieces of work it runs. A stage is implemented by a Processor and an
// optional PostProcessor; both receive the shared ExecutionContext and a
// payload envelope, and both may declare optional validation capabilities
// that the engine detects with type assertions.
package unit

import (
	"context"
	"errors"
)

// Input is the envelope handed to a processor: the payload produced by the
// previous stage plus accumulated metadata. The first stage of a pipeline
// receives a zero-value envelope.
type Input struct {
	Payload  any
	Metadata map[string]any
}

// Output is the envelope a unit returns. Metadata returned here is merged
// forward into the next stage's Input; nil metadata leaves the accumulated
// map untouched.
type Output struct {
	Payload  any
	Metadata map[string]any
}

// Processor is the primary unit of a stage. Process performs the stage's
// work, reporting progress and problems through the execution context.
type Processor interface {
	Process(ctx context.Context, in Input, ec *ExecutionContext) (Output, error)
}

// PostProcessor refines a processor's output before it leaves the stage.
// Stages without a configured postprocessor run Identity.
type PostProcessor interface {
	Postprocess(ctx context.Context, out Output, ec *ExecutionContext) (Output, error)
}

// InputValidator is an optional capability. When a processor implements it,
// the engine calls ValidateInput before Process and converts a non-fatal
// failure into a recorded warning; the stage still runs. Failures marked
// with Fatal abort the stage instead.
type InputValidator interface {
	ValidateInput(in Input) error
}

// OutputValidator is the output-side counterpart of InputValidator, checked
// after the postprocessor has run.
type OutputValidator interface {
	ValidateOutput(out Output) error
}

// Identity is the no-op postprocessor substituted for stages that do not
// declare one.
type Identity struct{}

// Postprocess returns out unchanged.
func (Identity) Postprocess(_ context.Context, out Output, _ *ExecutionContext) (Output, error) {
	return out, nil
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, in Input, ec *ExecutionContext) (Output, error)

func (f ProcessorFunc) Process(ctx context.Context, in Input, ec *ExecutionContext) (Output, error) {
	return f(ctx, in, ec)
}

// PostProcessorFunc adapts a plain function to the PostProcessor interface.
type PostProcessorFunc func(ctx context.Context, out Output, ec *ExecutionContext) (Output, error)

func (f PostProcessorFunc) Postprocess(ctx context.Context, out Output, ec *ExecutionContext) (Output, error) {
	return f(ctx, out, ec)
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks a validation error as stage-aborting. Unmarked validation
// errors are downgraded to warnings by the engine.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err carries the Fatal marker anywhere in its chain.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
