// Package hall holds the dining hall (venue) model, the local view of all
// halls, and its persistence and realtime sync.
package hall

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"forked/internal/geofence"
)

var (
	ErrNotFound     = errors.New("hall not found")
	ErrItemNotFound = errors.New("menu item not found")
)

// Status is the operating status of a hall.
type Status string

const (
	StatusOpen    Status = "open"
	StatusBusy    Status = "busy"
	StatusClosed  Status = "closed"
	StatusUnknown Status = "unknown"
)

// ParseStatus maps unknown values to StatusUnknown.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(s)) {
	case StatusOpen:
		return StatusOpen
	case StatusBusy:
		return StatusBusy
	case StatusClosed:
		return StatusClosed
	default:
		return StatusUnknown
	}
}

// Seating is the seating-availability label. The empty value means no report yet.
type Seating string

const (
	SeatingPlenty Seating = "Plenty"
	SeatingSome   Seating = "Some"
	SeatingFew    Seating = "Few"
	SeatingPacked Seating = "Packed"
	SeatingClosed Seating = "Closed"
)

// SeatingLabels lists every valid label, emptiest first.
var SeatingLabels = []Seating{SeatingPlenty, SeatingSome, SeatingFew, SeatingPacked, SeatingClosed}

// ParseSeating accepts labels case-insensitively.
func ParseSeating(s string) (Seating, error) {
	for _, l := range SeatingLabels {
		if strings.EqualFold(string(l), strings.TrimSpace(s)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown seating label %q", s)
}

// MenuItem is a rateable item on a hall's menu.
type MenuItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
}

// Venue is a dining hall with its crowd-reported state.
type Venue struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Lat                  *float64   `json:"lat,omitempty"`
	Lon                  *float64   `json:"lon,omitempty"`
	WaitTime             string     `json:"wait_time"`
	Seating              Seating    `json:"seating,omitempty"`
	Status               Status     `json:"status"`
	LastUpdatedAt        *time.Time `json:"last_updated_at,omitempty"`
	VerifiedCount        int        `json:"verified_count"`
	SeatingLastUpdatedAt *time.Time `json:"seating_last_updated_at,omitempty"`
	SeatingVerifiedCount int        `json:"seating_verified_count"`
	MenuItems            []MenuItem `json:"menu_items,omitempty"`
}

// Coordinate returns nil when the hall has no location configured.
func (v Venue) Coordinate() *geofence.Coordinate {
	if v.Lat == nil || v.Lon == nil {
		return nil
	}
	return &geofence.Coordinate{Lat: *v.Lat, Lon: *v.Lon}
}

// LastUpdatedText renders the last wait-time update relative to now.
func (v Venue) LastUpdatedText(now time.Time) string {
	if v.LastUpdatedAt == nil {
		return "Unknown"
	}
	elapsed := now.Sub(*v.LastUpdatedAt)
	switch {
	case elapsed < time.Minute:
		return "now"
	case elapsed < time.Hour:
		return fmt.Sprintf("%dm ago", int(elapsed/time.Minute))
	case elapsed < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(elapsed/time.Hour))
	default:
		return v.LastUpdatedAt.Format("Jan 2, 2006 3:04 PM")
	}
}

func (v Venue) clone() Venue {
	out := v
	if v.MenuItems != nil {
		out.MenuItems = append([]MenuItem(nil), v.MenuItems...)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
