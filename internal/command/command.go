// Package command defines the actuator command model shared by the queue and
// the dispatch client. Command kinds are a closed set; unknown kinds are
// rejected at construction, not at dispatch time.
package command

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the physical action a command performs.
type Kind string

const (
	KindShock   Kind = "shock"
	KindVibrate Kind = "vibrate"
	KindSound   Kind = "sound"
)

const (
	// MinIntensity and MaxIntensity bound the intensity scale understood by
	// the device-control API.
	MinIntensity = 1
	MaxIntensity = 100
)

var ErrUnknownKind = errors.New("unknown command kind")

// ParseKind normalizes a raw string into a Kind, rejecting anything outside
// the closed set.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindShock, KindVibrate, KindSound:
		return Kind(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindShock, KindVibrate, KindSound:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Command is one actuator instruction addressed to a single device resource.
type Command struct {
	Kind       Kind          `json:"kind"`
	ResourceID string        `json:"resource_id"`
	Intensity  int           `json:"intensity"`
	Duration   time.Duration `json:"duration"`
}

// New builds a Command, validating the kind and basic field shape. Duration
// bounds are enforced at the dispatch boundary where they are configured.
func New(kind, resourceID string, intensity int, duration time.Duration) (Command, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return Command{}, err
	}
	c := Command{Kind: k, ResourceID: resourceID, Intensity: intensity, Duration: duration}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

// Validate checks the fields every layer agrees on. It does not apply the
// configured duration window; that belongs to the dispatch client.
func (c Command) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	if c.ResourceID == "" {
		return fmt.Errorf("resource id is empty")
	}
	if c.Intensity < MinIntensity || c.Intensity > MaxIntensity {
		return fmt.Errorf("intensity %d out of range [%d,%d]", c.Intensity, MinIntensity, MaxIntensity)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	return nil
}
