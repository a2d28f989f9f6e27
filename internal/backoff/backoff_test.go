package backoff

import (
	"testing"
	"time"
)

func TestConstant(t *testing.T) {
	t.Parallel()

	c := NewConstant(250 * time.Millisecond)
	for _, n := range []int{1, 2, 10} {
		if got := c.Delay(n); got != 250*time.Millisecond {
			t.Fatalf("Delay(%d) = %v, want 250ms", n, got)
		}
	}
}

func TestExponentialDoubles(t *testing.T) {
	t.Parallel()

	e := NewExponential(100*time.Millisecond, 0)
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, w := range want {
		if got := e.Delay(i + 1); got != w {
			t.Fatalf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestExponentialCap(t *testing.T) {
	t.Parallel()

	e := NewExponential(time.Second, 5*time.Second)
	if got := e.Delay(10); got != 5*time.Second {
		t.Fatalf("Delay(10) = %v, want cap 5s", got)
	}
}

func TestExponentialClampsAttempt(t *testing.T) {
	t.Parallel()

	e := NewExponential(time.Second, 0)
	if got := e.Delay(0); got != time.Second {
		t.Fatalf("Delay(0) = %v, want 1s", got)
	}
}

func TestExponentialWithJitterBounds(t *testing.T) {
	t.Parallel()

	e := NewExponentialWithJitter(100*time.Millisecond, time.Second)
	for i := 0; i < 100; i++ {
		d := e.Delay(4)
		if d < 0 || d > 800*time.Millisecond {
			t.Fatalf("jittered delay %v outside [0, 800ms]", d)
		}
	}
}
