// Package step defines the research step contract, the step catalog, and
// the registry that binds step names to executable implementations.
package step

import "context"

// Inputs is the accumulated results map a step executes against. Steps read
// the keys named in their descriptor; everything else is opaque to them.
type Inputs map[string]any

// Step is one named unit of research or synthesis work. Implementations are
// external collaborators; no contract is imposed beyond Execute, which keeps
// individual steps swappable.
type Step interface {
	// Execute runs the step against prior results and returns its output.
	// The context carries the per-step deadline and the job's cancellation.
	Execute(ctx context.Context, in Inputs) (any, error)
}

// Func adapts a plain function to the Step interface.
type Func func(ctx context.Context, in Inputs) (any, error)

// Execute implements Step.
func (f Func) Execute(ctx context.Context, in Inputs) (any, error) {
	return f(ctx, in)
}

// Descriptor describes how a step plugs into a pipeline: the result keys it
// reads, the key it writes, and whether a workflow may skip it.
type Descriptor struct {
	Name     string
	Needs    []string // result keys consumed from earlier steps
	Produces string   // result key this step owns
	Optional bool     // skippable by workflow gating, never counted as a failure
}

// Provider supplies executable steps for the registry. Exactly one provider
// is selected at startup; the registry is read-only afterwards.
type Provider interface {
	// Step returns the executable for a named step.
	Step(name string) (Step, error)

	// Ready checks whether the provider's backend is reachable.
	Ready(ctx context.Context) error

	// Close releases resources held by the provider.
	Close() error
}
