package step

import (
	"context"
	"fmt"
)

// StubProvider supplies canned in-process steps. It backs local development
// and any deployment where the research endpoints are not configured; the
// selection happens once at startup, never silently per call.
type StubProvider struct{}

// NewStubProvider creates a stub provider.
func NewStubProvider() *StubProvider {
	return &StubProvider{}
}

// Step returns a canned step for any name. The output echoes the step name
// so pipeline wiring stays observable end to end.
func (p *StubProvider) Step(name string) (Step, error) {
	return Func(func(ctx context.Context, in Inputs) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fmt.Sprintf("[stub] %s output (%d inputs)", name, len(in)), nil
	}), nil
}

// Ready always succeeds; the stub has no backend.
func (p *StubProvider) Ready(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (p *StubProvider) Close() error {
	return nil
}

var _ Provider = (*StubProvider)(nil)
