package hall

import (
	"sort"
	"sync"
	"time"
)

// Cache is the process-local view of every hall. Commits are applied here
// first; the realtime feed later replaces entries with the authoritative copy.
type Cache struct {
	mu    sync.RWMutex
	halls map[string]Venue
}

// NewCache creates a cache seeded with halls.
func NewCache(halls []Venue) *Cache {
	c := &Cache{halls: make(map[string]Venue, len(halls))}
	for _, h := range halls {
		c.halls[h.ID] = h.clone()
	}
	return c
}

// All returns every hall ordered by id.
func (c *Cache) All() []Venue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Venue, 0, len(c.halls))
	for _, h := range c.halls {
		out = append(out, h.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a copy of the hall with id.
func (c *Cache) Get(id string) (Venue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.halls[id]
	if !ok {
		return Venue{}, false
	}
	return h.clone(), true
}

// Replace stores v as received from the shared store. Announcements can
// arrive out of order, so the wait time and seating held locally are kept
// when they are newer than v's, and counters never go backwards.
func (c *Cache) Replace(v Venue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := v.clone()
	if held, ok := c.halls[v.ID]; ok {
		if before(next.LastUpdatedAt, held.LastUpdatedAt) {
			next.WaitTime, next.LastUpdatedAt = held.WaitTime, held.LastUpdatedAt
		}
		if before(next.SeatingLastUpdatedAt, held.SeatingLastUpdatedAt) {
			next.Seating, next.SeatingLastUpdatedAt = held.Seating, held.SeatingLastUpdatedAt
		}
		next.VerifiedCount = max(next.VerifiedCount, held.VerifiedCount)
		next.SeatingVerifiedCount = max(next.SeatingVerifiedCount, held.SeatingVerifiedCount)
		for i, item := range next.MenuItems {
			for _, old := range held.MenuItems {
				if old.ID == item.ID && old.ReviewCount > item.ReviewCount {
					next.MenuItems[i] = old
				}
			}
		}
	}
	c.halls[v.ID] = next
}

// before reports whether a is strictly older than b. A missing time is
// older than any set one.
func before(a, b *time.Time) bool {
	if b == nil {
		return false
	}
	return a == nil || a.Before(*b)
}

// CommitWaitTime publishes a quorum-backed wait time locally. A label older
// than the one held only adds its votes.
func (c *Cache) CommitWaitTime(hallID, label string, votes int, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.halls[hallID]
	if !ok {
		return ErrNotFound
	}
	if !before(&at, h.LastUpdatedAt) {
		h.WaitTime = label
		h.LastUpdatedAt = ptr(at)
	}
	h.VerifiedCount += votes
	c.halls[hallID] = h
	return nil
}

// CommitSeating overwrites the seating label unless a newer one is held.
func (c *Cache) CommitSeating(hallID string, seating Seating, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.halls[hallID]
	if !ok {
		return ErrNotFound
	}
	if !before(&at, h.SeatingLastUpdatedAt) {
		h.Seating = seating
		h.SeatingLastUpdatedAt = ptr(at)
	}
	h.SeatingVerifiedCount++
	c.halls[hallID] = h
	return nil
}

// ApplyRating folds a 1-5 star rating into the item's running average.
func (c *Cache) ApplyRating(hallID, itemID string, rating int) (MenuItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.halls[hallID]
	if !ok {
		return MenuItem{}, ErrNotFound
	}
	for i, item := range h.MenuItems {
		if item.ID != itemID {
			continue
		}
		total := item.Rating*float64(item.ReviewCount) + float64(rating)
		item.ReviewCount++
		item.Rating = total / float64(item.ReviewCount)
		h = h.clone()
		h.MenuItems[i] = item
		c.halls[hallID] = h
		return item, nil
	}
	return MenuItem{}, ErrItemNotFound
}
