// Package safety defines the policy contract the command queue consults
// before any command is dispatched, plus a configuration-driven reference
// policy. The queue depends only on the Gate interface; operators may swap
// in any policy engine that satisfies it.
package safety

import (
	"context"
	"time"

	"github.com/mattjoyce/pulsegate/internal/command"
)

//go:generate mockgen -destination=../queue/mocks/mock_gate.go -package=mocks github.com/mattjoyce/pulsegate/internal/safety Gate

// Result is the policy verdict for one command. When Allowed is true the
// caller must use the adjusted values if present, falling back to the
// originals otherwise. Allowed=false is terminal: the command was rejected
// by policy, not by transient failure, and must not be retried.
type Result struct {
	Allowed           bool
	Reason            string
	AdjustedIntensity *int
	AdjustedDuration  *time.Duration
}

// Gate validates and optionally clamps a command before dispatch.
type Gate interface {
	CheckCommand(ctx context.Context, kind command.Kind, resourceID string, intensity int, duration time.Duration, userID string) Result
}

// Intensity returns the effective intensity after policy adjustment.
func (r Result) Intensity(original int) int {
	if r.AdjustedIntensity != nil {
		return *r.AdjustedIntensity
	}
	return original
}

// Duration returns the effective duration after policy adjustment.
func (r Result) Duration(original time.Duration) time.Duration {
	if r.AdjustedDuration != nil {
		return *r.AdjustedDuration
	}
	return original
}
