package safety

import (
	"context"
	"testing"
	"time"

	"github.com/mattjoyce/pulsegate/internal/command"
)

func testPolicy() *LimitPolicy {
	return NewLimitPolicy(map[command.Kind]KindLimit{
		command.KindVibrate: {Enabled: true, MaxIntensity: 80, MaxDuration: 10 * time.Second},
		command.KindSound:   {Enabled: true},
		command.KindShock:   {Enabled: false},
	})
}

func TestDisabledKindRejected(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	res := p.CheckCommand(context.Background(), command.KindShock, "d1", 10, time.Second, "u1")
	if res.Allowed {
		t.Fatal("expected shock to be rejected")
	}
	if res.Reason == "" {
		t.Fatal("expected a rejection reason")
	}
}

func TestUnknownKindRejected(t *testing.T) {
	t.Parallel()

	p := NewLimitPolicy(nil)
	res := p.CheckCommand(context.Background(), command.KindVibrate, "d1", 10, time.Second, "u1")
	if res.Allowed {
		t.Fatal("kind absent from limits must be rejected")
	}
}

func TestClamping(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	res := p.CheckCommand(context.Background(), command.KindVibrate, "d1", 95, time.Minute, "u1")
	if !res.Allowed {
		t.Fatalf("expected allowed, got reason %q", res.Reason)
	}
	if got := res.Intensity(95); got != 80 {
		t.Fatalf("intensity = %d, want clamped 80", got)
	}
	if got := res.Duration(time.Minute); got != 10*time.Second {
		t.Fatalf("duration = %v, want clamped 10s", got)
	}
}

func TestWithinLimitsUnadjusted(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	res := p.CheckCommand(context.Background(), command.KindVibrate, "d1", 40, time.Second, "u1")
	if !res.Allowed {
		t.Fatalf("expected allowed, got reason %q", res.Reason)
	}
	if res.AdjustedIntensity != nil || res.AdjustedDuration != nil {
		t.Fatal("no adjustment expected within limits")
	}
	if res.Intensity(40) != 40 || res.Duration(time.Second) != time.Second {
		t.Fatal("fallback to originals broken")
	}
}
