package safety

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/pulsegate/internal/command"
	"github.com/mattjoyce/pulsegate/internal/log"
)

// KindLimit bounds one command kind. A disabled kind is rejected outright;
// an enabled kind has its intensity and duration clamped to the ceilings.
type KindLimit struct {
	Enabled      bool
	MaxIntensity int
	MaxDuration  time.Duration
}

// LimitPolicy is the reference Gate implementation: per-kind enable flags
// and ceilings loaded from configuration. The ceilings themselves are an
// operator decision, not part of this package.
type LimitPolicy struct {
	limits map[command.Kind]KindLimit
	logger *slog.Logger
}

// NewLimitPolicy creates a LimitPolicy from per-kind limits. Kinds absent
// from the map are treated as disabled.
func NewLimitPolicy(limits map[command.Kind]KindLimit) *LimitPolicy {
	return &LimitPolicy{
		limits: limits,
		logger: log.WithComponent("safety"),
	}
}

// CheckCommand applies the configured limits to one command.
func (p *LimitPolicy) CheckCommand(ctx context.Context, kind command.Kind, resourceID string, intensity int, duration time.Duration, userID string) Result {
	limit, ok := p.limits[kind]
	if !ok || !limit.Enabled {
		p.logger.Warn("command kind disabled by policy",
			"kind", kind.String(), "resource_id", resourceID, "user_id", userID)
		return Result{Allowed: false, Reason: fmt.Sprintf("command kind %q is disabled", kind)}
	}

	res := Result{Allowed: true}
	if limit.MaxIntensity > 0 && intensity > limit.MaxIntensity {
		clamped := limit.MaxIntensity
		res.AdjustedIntensity = &clamped
		p.logger.Info("intensity clamped by policy",
			"kind", kind.String(), "requested", intensity, "clamped", clamped, "user_id", userID)
	}
	if limit.MaxDuration > 0 && duration > limit.MaxDuration {
		clamped := limit.MaxDuration
		res.AdjustedDuration = &clamped
		p.logger.Info("duration clamped by policy",
			"kind", kind.String(), "requested", duration, "clamped", clamped, "user_id", userID)
	}
	return res
}
