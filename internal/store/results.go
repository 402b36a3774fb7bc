package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkoutResult is the saved outcome of a finished workout.
type WorkoutResult struct {
	ID            string           `json:"id"`
	ExerciseName  string           `json:"exercise_name"`
	TotalReps     int              `json:"total_reps"`
	TotalSets     int              `json:"total_sets"`
	AvgAccuracy   int              `json:"avg_accuracy"`
	TotalCalories int              `json:"total_calories"`
	FinalFeedback string           `json:"final_feedback,omitempty"`
	AllSetResults []map[string]any `json:"all_set_results"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Results is the workout result table.
type Results struct {
	s *Store
}

const resultColumns = "id, exercise_name, total_reps, total_sets, avg_accuracy, total_calories, final_feedback, all_set_results, created_at"

// Save inserts res and returns it with ID and CreatedAt set.
func (r *Results) Save(ctx context.Context, res WorkoutResult) (WorkoutResult, error) {
	if res.ExerciseName == "" {
		return WorkoutResult{}, fmt.Errorf("exercise_name missing")
	}
	if res.AllSetResults == nil {
		res.AllSetResults = []map[string]any{}
	}
	sets, err := json.Marshal(res.AllSetResults)
	if err != nil {
		return WorkoutResult{}, fmt.Errorf("encode set results: %w", err)
	}

	res.ID = uuid.NewString()
	now := r.s.now()
	_, err = r.s.db.ExecContext(ctx,
		"INSERT INTO workout_results ("+resultColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		res.ID, res.ExerciseName, res.TotalReps, res.TotalSets, res.AvgAccuracy, res.TotalCalories,
		nullString(res.FinalFeedback), string(sets), now)
	if err != nil {
		return WorkoutResult{}, fmt.Errorf("insert result: %w", err)
	}
	res.CreatedAt = parseTime(now)
	log.Debug("Saved result %s (%s, %d reps)", res.ID, res.ExerciseName, res.TotalReps)
	return res, nil
}

// List returns up to limit results, newest first.
func (r *Results) List(ctx context.Context, limit int) ([]WorkoutResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.s.db.QueryContext(ctx,
		"SELECT "+resultColumns+" FROM workout_results ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := []WorkoutResult{}
	for rows.Next() {
		var (
			res      WorkoutResult
			feedback sql.NullString
			sets     string
			created  string
		)
		if err := rows.Scan(&res.ID, &res.ExerciseName, &res.TotalReps, &res.TotalSets,
			&res.AvgAccuracy, &res.TotalCalories, &feedback, &sets, &created); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.FinalFeedback = feedback.String
		if err := json.Unmarshal([]byte(sets), &res.AllSetResults); err != nil {
			return nil, fmt.Errorf("result %s: decode set results: %w", res.ID, err)
		}
		res.CreatedAt = parseTime(created)
		out = append(out, res)
	}
	return out, rows.Err()
}
