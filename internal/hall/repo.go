package hall

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository persists halls in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const hallColumns = `id, name, lat, lon, wait_time, seating, status, last_updated_at, verified_count,
	seating_last_updated_at, seating_verified_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVenue(row rowScanner) (Venue, error) {
	var (
		v                 Venue
		lat, lon          sql.NullFloat64
		seating           sql.NullString
		status            string
		lastAt, seatingAt sql.NullTime
	)
	if err := row.Scan(&v.ID, &v.Name, &lat, &lon, &v.WaitTime, &seating, &status, &lastAt,
		&v.VerifiedCount, &seatingAt, &v.SeatingVerifiedCount); err != nil {
		return Venue{}, err
	}
	if lat.Valid {
		v.Lat = ptr(lat.Float64)
	}
	if lon.Valid {
		v.Lon = ptr(lon.Float64)
	}
	v.Seating = Seating(seating.String)
	v.Status = ParseStatus(status)
	if lastAt.Valid {
		v.LastUpdatedAt = ptr(lastAt.Time.UTC())
	}
	if seatingAt.Valid {
		v.SeatingLastUpdatedAt = ptr(seatingAt.Time.UTC())
	}
	return v, nil
}

// List returns every hall with its menu.
func (r *Repository) List(ctx context.Context) ([]Venue, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+hallColumns+` FROM halls ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var halls []Venue
	index := map[string]int{}
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, err
		}
		index[v.ID] = len(halls)
		halls = append(halls, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := r.db.QueryContext(ctx, `
		SELECT hall_id, id, name, category, rating, review_count
		FROM menu_items ORDER BY hall_id, name
	`)
	if err != nil {
		return nil, err
	}
	defer items.Close()
	for items.Next() {
		var hallID string
		var it MenuItem
		if err := items.Scan(&hallID, &it.ID, &it.Name, &it.Category, &it.Rating, &it.ReviewCount); err != nil {
			return nil, err
		}
		if i, ok := index[hallID]; ok {
			halls[i].MenuItems = append(halls[i].MenuItems, it)
		}
	}
	return halls, items.Err()
}

// Get returns a single hall with its menu.
func (r *Repository) Get(ctx context.Context, id string) (Venue, error) {
	v, err := scanVenue(r.db.QueryRowContext(ctx, `SELECT `+hallColumns+` FROM halls WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Venue{}, ErrNotFound
	}
	if err != nil {
		return Venue{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, category, rating, review_count
		FROM menu_items WHERE hall_id = $1 ORDER BY name
	`, id)
	if err != nil {
		return Venue{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it MenuItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Category, &it.Rating, &it.ReviewCount); err != nil {
			return Venue{}, err
		}
		v.MenuItems = append(v.MenuItems, it)
	}
	return v, rows.Err()
}

// CommitWaitTime adds votes to the verified counter and stores label unless
// a newer wait time is already stored.
func (r *Repository) CommitWaitTime(ctx context.Context, hallID, label string, votes int, at time.Time) error {
	return r.execOne(ctx, `
		UPDATE halls
		SET wait_time = CASE WHEN last_updated_at IS NULL OR last_updated_at <= $3 THEN $2 ELSE wait_time END,
		    last_updated_at = GREATEST(last_updated_at, $3),
		    verified_count = verified_count + $4
		WHERE id = $1
	`, hallID, label, at, votes)
}

// CommitSeating counts a seating report and stores its label unless a newer
// one is already stored.
func (r *Repository) CommitSeating(ctx context.Context, hallID string, seating Seating, at time.Time) error {
	return r.execOne(ctx, `
		UPDATE halls
		SET seating = CASE WHEN seating_last_updated_at IS NULL OR seating_last_updated_at <= $3 THEN $2 ELSE seating END,
		    seating_last_updated_at = GREATEST(seating_last_updated_at, $3),
		    seating_verified_count = seating_verified_count + 1
		WHERE id = $1
	`, hallID, string(seating), at)
}

// RateItem folds rating into the stored running average.
func (r *Repository) RateItem(ctx context.Context, hallID, itemID string, rating int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE menu_items
		SET rating = (rating * review_count + $3) / (review_count + 1),
		    review_count = review_count + 1
		WHERE hall_id = $1 AND id = $2
	`, hallID, itemID, float64(rating))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Seed inserts halls that do not exist yet.
func (r *Repository) Seed(ctx context.Context, halls []Venue) error {
	for _, h := range halls {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO halls (id, name, lat, lon, wait_time, seating, status, last_updated_at,
				verified_count, seating_verified_count)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`, h.ID, h.Name, h.Lat, h.Lon, h.WaitTime, string(h.Seating), string(h.Status), h.LastUpdatedAt,
			h.VerifiedCount, h.SeatingVerifiedCount)
		if err != nil {
			return fmt.Errorf("seed hall %s: %w", h.ID, err)
		}
		for _, it := range h.MenuItems {
			if _, err := r.db.ExecContext(ctx, `
				INSERT INTO menu_items (hall_id, id, name, category, rating, review_count)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (hall_id, id) DO NOTHING
			`, h.ID, it.ID, it.Name, it.Category, it.Rating, it.ReviewCount); err != nil {
				return fmt.Errorf("seed item %s/%s: %w", h.ID, it.ID, err)
			}
		}
	}
	return nil
}

func (r *Repository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
