package cooldown

import (
	"errors"
	"fmt"
	"time"
)

// DefaultWindow is the minimum interval between two accepted submissions
// of the same action for one reporter and hall.
const DefaultWindow = 300 * time.Second

// Store persists the last accepted timestamp per key.
type Store interface {
	Last(key string) (time.Time, bool, error)
	Set(key string, at time.Time) error
}

// Key identifies one cooldown marker.
type Key struct {
	Identity string
	HallID   string
	Action   string
}

// String returns the storage key for k.
func (k Key) String() string {
	return fmt.Sprintf("cooldown.%s.%s.%s", k.Identity, k.HallID, k.Action)
}

// Decision is the result of a Check.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
}

// Gate is a per-(identity, hall, action) rate limiter.
type Gate struct {
	store  Store
	window time.Duration
}

// NewGate creates a gate over store. A non-positive window falls back to DefaultWindow.
func NewGate(store Store, window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{store: store, window: window}
}

// Window returns the configured cooldown duration.
func (g *Gate) Window() time.Duration { return g.window }

// Check reports whether an action for k is allowed at now.
func (g *Gate) Check(k Key, now time.Time) (Decision, error) {
	if k.Identity == "" || k.HallID == "" || k.Action == "" {
		return Decision{}, errors.New("cooldown key incomplete")
	}
	last, ok, err := g.store.Last(k.String())
	if err != nil {
		return Decision{}, fmt.Errorf("read cooldown %s: %w", k, err)
	}
	if !ok {
		return Decision{Allowed: true}, nil
	}
	if elapsed := now.Sub(last); elapsed < g.window {
		return Decision{Remaining: g.window - elapsed}, nil
	}
	return Decision{Allowed: true}, nil
}

// Record overwrites the marker for k with now. Call it only once the action
// has been accepted.
func (g *Gate) Record(k Key, now time.Time) error {
	if err := g.store.Set(k.String(), now); err != nil {
		return fmt.Errorf("record cooldown %s: %w", k, err)
	}
	return nil
}
