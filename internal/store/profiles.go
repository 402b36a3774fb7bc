package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Profile is a user's body profile: self-reported body data and the
// baseline measures taken by a calibration session.
type Profile struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Version   int            `json:"version"`
	Body      map[string]any `json:"body"`
	Measures  map[string]any `json:"measures"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HeightCM returns body.height_cm when it is a positive number.
func (p Profile) HeightCM() (float64, bool) {
	switch v := p.Body["height_cm"].(type) {
	case float64:
		return v, v > 0
	case int:
		return float64(v), v > 0
	case json.Number:
		f, err := v.Float64()
		return f, err == nil && f > 0
	}
	return 0, false
}

// Profiles is the profile table.
type Profiles struct {
	s *Store
}

const profileColumns = "id, user_id, version, body, measures, created_at, updated_at"

// Create inserts p, assigning ID and timestamps. Measures are required.
func (r *Profiles) Create(ctx context.Context, p Profile) (Profile, error) {
	if p.Measures == nil {
		return Profile{}, fmt.Errorf("measures missing")
	}
	if p.Body == nil {
		p.Body = map[string]any{}
	}
	if p.Version <= 0 {
		p.Version = 1
	}
	body, err := json.Marshal(p.Body)
	if err != nil {
		return Profile{}, fmt.Errorf("encode body: %w", err)
	}
	measures, err := json.Marshal(p.Measures)
	if err != nil {
		return Profile{}, fmt.Errorf("encode measures: %w", err)
	}

	p.ID = uuid.NewString()
	now := r.s.now()
	_, err = r.s.db.ExecContext(ctx,
		"INSERT INTO profiles ("+profileColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		p.ID, nullString(p.UserID), p.Version, string(body), string(measures), now, now)
	if err != nil {
		return Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	p.CreatedAt = parseTime(now)
	p.UpdatedAt = p.CreatedAt
	return p, nil
}

// Get returns the profile with id, or ErrNotFound.
func (r *Profiles) Get(ctx context.Context, id string) (Profile, error) {
	row := r.s.db.QueryRowContext(ctx, "SELECT "+profileColumns+" FROM profiles WHERE id = ?", id)
	return scanProfile(row)
}

// List returns profiles newest first.
func (r *Profiles) List(ctx context.Context, limit, offset int) ([]Profile, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.s.db.QueryContext(ctx,
		"SELECT "+profileColumns+" FROM profiles ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	out := []Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Latest returns the newest profile of userID, or the newest overall when
// userID is empty.
func (r *Profiles) Latest(ctx context.Context, userID string) (Profile, error) {
	q := "SELECT " + profileColumns + " FROM profiles"
	var args []any
	if userID != "" {
		q += " WHERE user_id = ?"
		args = append(args, userID)
	}
	q += " ORDER BY created_at DESC, rowid DESC LIMIT 1"
	return scanProfile(r.s.db.QueryRowContext(ctx, q, args...))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(sc scanner) (Profile, error) {
	var (
		p                Profile
		userID           sql.NullString
		body, measures   string
		created, updated string
	)
	err := sc.Scan(&p.ID, &userID, &p.Version, &body, &measures, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("scan profile: %w", err)
	}
	p.UserID = userID.String
	if err := json.Unmarshal([]byte(body), &p.Body); err != nil {
		return Profile{}, fmt.Errorf("profile %s: decode body: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(measures), &p.Measures); err != nil {
		return Profile{}, fmt.Errorf("profile %s: decode measures: %w", p.ID, err)
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
