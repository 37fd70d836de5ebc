package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"house_hunter/internal/domain"
)

type RunStateStore struct {
	db *sqlx.DB
}

func NewRunStateStore(db *sqlx.DB) *RunStateStore {
	return &RunStateStore{db: db}
}

func (s *RunStateStore) Get(ctx context.Context, sourceID string) (*domain.RunState, error) {
	var state domain.RunState
	query := `
		SELECT id, source_id, last_run_at, last_run_id, total_created, total_updated, total_failed
		FROM run_state
		WHERE source_id = $1`

	err := s.db.GetContext(ctx, &state, query, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		// First run for this source.
		return &domain.RunState{SourceID: sourceID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *RunStateStore) Update(ctx context.Context, state *domain.RunState) error {
	query := `
		INSERT INTO run_state (source_id, last_run_at, last_run_id, total_created, total_updated, total_failed)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_id) DO UPDATE SET
			last_run_at = EXCLUDED.last_run_at,
			last_run_id = EXCLUDED.last_run_id,
			total_created = EXCLUDED.total_created,
			total_updated = EXCLUDED.total_updated,
			total_failed = EXCLUDED.total_failed`

	_, err := s.db.ExecContext(ctx, query,
		state.SourceID,
		state.LastRunAt,
		state.LastRunID,
		state.TotalCreated,
		state.TotalUpdated,
		state.TotalFailed,
	)
	return err
}
