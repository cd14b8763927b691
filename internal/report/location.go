package report

import (
	"context"
	"time"

	"forked/internal/geofence"
)

// Authorization is the device's location permission state.
type Authorization int

const (
	AuthorizationNotDetermined Authorization = iota
	AuthorizationDenied
	AuthorizationRestricted
	AuthorizationAuthorized
)

// ParseAuthorization maps the wire names used by clients.
func ParseAuthorization(s string) Authorization {
	switch s {
	case "authorized", "authorizedWhenInUse", "authorizedAlways":
		return AuthorizationAuthorized
	case "denied":
		return AuthorizationDenied
	case "restricted":
		return AuthorizationRestricted
	default:
		return AuthorizationNotDetermined
	}
}

// LocationProvider supplies the reporter's position.
type LocationProvider interface {
	Authorization() Authorization
	// RequestFix asks for a fresh fix. The channel yields at most one fix and
	// may never yield.
	RequestFix() <-chan geofence.Fix
	LastFix() *geofence.Fix
}

// StaticLocation is a provider whose answer is already known, such as a fix
// carried in a request body.
type StaticLocation struct {
	Auth Authorization
	Fix  *geofence.Fix
}

func (s StaticLocation) Authorization() Authorization { return s.Auth }

func (s StaticLocation) RequestFix() <-chan geofence.Fix {
	ch := make(chan geofence.Fix, 1)
	if s.Fix != nil {
		ch <- *s.Fix
	}
	close(ch)
	return ch
}

func (s StaticLocation) LastFix() *geofence.Fix { return s.Fix }

// awaitFix requests a fresh fix and waits up to wait for it, falling back to
// the last known fix.
func awaitFix(ctx context.Context, p LocationProvider, wait time.Duration) *geofence.Fix {
	if p == nil {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case fix, ok := <-p.RequestFix():
		if ok {
			return &fix
		}
	case <-timer.C:
	case <-ctx.Done():
	}
	return p.LastFix()
}
