package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"ride-tracking-system/ride"
)

// ErrDuplicateStage is returned when a stage was already recorded for a ride.
var ErrDuplicateStage = errors.New("ride stage already recorded")

const uniqueViolation = "23505"

// RideStore persists the stage history of each ride session.
type RideStore struct {
	db *sql.DB
}

func NewRideStore(db *sql.DB) *RideStore {
	return &RideStore{db: db}
}

// RecordStage upserts the ride row and appends the stage to its history.
func (s *RideStore) RecordStage(ctx context.Context, sessionID string, stage ride.Stage, dest ride.Destination) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rides (session_id, stage, destination_name, destination_address, updated_at)
         VALUES ($1, $2, $3, $4, NOW())
         ON CONFLICT (session_id) DO UPDATE
         SET stage = EXCLUDED.stage,
             destination_name = EXCLUDED.destination_name,
             destination_address = EXCLUDED.destination_address,
             updated_at = NOW()`,
		sessionID, stage.String(), dest.Name, dest.Address,
	)
	if err != nil {
		return fmt.Errorf("upsert ride %s: %w", sessionID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ride_events (session_id, stage) VALUES ($1, $2)`,
		sessionID, stage.String(),
	)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s %s", ErrDuplicateStage, sessionID, stage)
		}
		return fmt.Errorf("insert ride event %s: %w", sessionID, err)
	}

	return tx.Commit()
}

// Stage returns the last recorded stage of a ride.
func (s *RideStore) Stage(ctx context.Context, sessionID string) (ride.Stage, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT stage FROM rides WHERE session_id=$1`,
		sessionID,
	).Scan(&name)
	if err != nil {
		return 0, err
	}
	return ride.ParseStage(name)
}

// History returns the recorded stages of a ride, oldest first.
func (s *RideStore) History(ctx context.Context, sessionID string) ([]ride.Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage FROM ride_events WHERE session_id=$1 ORDER BY recorded_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []ride.Stage
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		stage, err := ride.ParseStage(name)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}
