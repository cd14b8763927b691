package submission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"forked/internal/geofence"
)

// Repository persists submissions and rate-limit markers in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new record, assigning an id and creation time if unset.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var lat, lon, acc sql.NullFloat64
	if rec.Location != nil {
		lat = sql.NullFloat64{Float64: rec.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: rec.Location.Lon, Valid: true}
		if rec.Location.AccuracyMeters != nil {
			acc = sql.NullFloat64{Float64: *rec.Location.AccuracyMeters, Valid: true}
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO submissions (id, hall_id, kind, uid, client_identifier_hash, value, lat, lon, accuracy_meters, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.HallID, string(rec.Kind), nullString(rec.UID), nullString(rec.ClientIdentifierHash),
		rec.Value, lat, lon, acc, rec.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("insert submission: %w", err)
	}
	return rec, nil
}

// Get loads a record by id.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, hall_id, kind, uid, client_identifier_hash, value, lat, lon, accuracy_meters, created_at,
			server_validated, server_validation_reason, server_validated_at, location_verified
		FROM submissions
		WHERE id = $1
	`, id)

	var (
		rec           Record
		kind          string
		uid, hash     sql.NullString
		lat, lon, acc sql.NullFloat64
		validated     sql.NullBool
		reason        sql.NullString
		validatedAt   sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.HallID, &kind, &uid, &hash, &rec.Value, &lat, &lon, &acc, &rec.CreatedAt,
		&validated, &reason, &validatedAt, &rec.LocationVerified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	rec.Kind = Kind(kind)
	rec.UID = uid.String
	rec.ClientIdentifierHash = hash.String
	if lat.Valid && lon.Valid {
		rec.Location = &Location{Lat: lat.Float64, Lon: lon.Float64}
		if acc.Valid {
			rec.Location.AccuracyMeters = &acc.Float64
		}
	}
	if validated.Valid {
		rec.ServerValidated = &validated.Bool
	}
	if reason.Valid {
		rr := Reason(reason.String)
		rec.ServerValidationReason = &rr
	}
	if validatedAt.Valid {
		at := validatedAt.Time.UTC()
		rec.ServerValidatedAt = &at
	}
	return rec, nil
}

// SetVerdict stamps a record outside any transaction.
func (r *Repository) SetVerdict(ctx context.Context, id string, v Verdict) error {
	return setVerdict(ctx, r.db, id, v)
}

// RunInTx runs fn in a READ COMMITTED transaction. Markers are locked with
// SELECT ... FOR UPDATE, which serializes racing validations of the same key.
func (r *Repository) RunInTx(ctx context.Context, fn func(Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setVerdict(ctx context.Context, db execer, id string, v Verdict) error {
	res, err := db.ExecContext(ctx, `
		UPDATE submissions
		SET server_validated = $2, server_validation_reason = $3, server_validated_at = $4, location_verified = $5
		WHERE id = $1
	`, id, v.Validated, nullString(string(v.Reason)), v.At, v.LocationVerified)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

// MarkerLast creates the marker row if missing so that it can be locked.
// A freshly created row holds the epoch and reads as absent.
func (t *pgTx) MarkerLast(ctx context.Context, id string) (time.Time, bool, error) {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO submission_markers (id, last) VALUES ($1, 'epoch')
		ON CONFLICT (id) DO NOTHING
	`, id); err != nil {
		return time.Time{}, false, err
	}
	var last time.Time
	if err := t.tx.QueryRowContext(ctx, `SELECT last FROM submission_markers WHERE id = $1 FOR UPDATE`, id).Scan(&last); err != nil {
		return time.Time{}, false, err
	}
	if last.Unix() == 0 {
		return time.Time{}, false, nil
	}
	return last.UTC(), true, nil
}

func (t *pgTx) SetMarker(ctx context.Context, id string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO submission_markers (id, last) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET last = EXCLUDED.last
	`, id, at)
	return err
}

func (t *pgTx) HallCoordinate(ctx context.Context, hallID string) (*geofence.Coordinate, error) {
	var lat, lon sql.NullFloat64
	err := t.tx.QueryRowContext(ctx, `SELECT lat, lon FROM halls WHERE id = $1`, hallID).Scan(&lat, &lon)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !lat.Valid || !lon.Valid {
		return nil, nil
	}
	return &geofence.Coordinate{Lat: lat.Float64, Lon: lon.Float64}, nil
}

func (t *pgTx) SetVerdict(ctx context.Context, id string, v Verdict) error {
	return setVerdict(ctx, t.tx, id, v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
