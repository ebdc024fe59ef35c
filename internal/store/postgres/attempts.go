package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"boltrunner/internal/store"

	"github.com/lib/pq"
)

// RecordDispatch inserts a new attempt in the pending state.
func (s *Store) RecordDispatch(ctx context.Context, attempt *store.Attempt) error {
	query := `
		INSERT INTO attempts (
			id, batch_id, item_index, owner, repo, workflow, ref, artifact_dir, triggered_at, outcome
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	outcome := attempt.Outcome
	if outcome == "" {
		outcome = store.OutcomePending
	}

	_, err := s.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.BatchID,
		attempt.Index,
		attempt.Owner,
		attempt.Repo,
		attempt.Workflow,
		attempt.Ref,
		attempt.ArtifactDir,
		attempt.TriggeredAt,
		outcome,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// RecordOutcome stores the run binding and the final outcome of an attempt.
// triggered_at is rewritten with the instant the dispatch was actually sent.
func (s *Store) RecordOutcome(ctx context.Context, attempt *store.Attempt) error {
	query := `
		UPDATE attempts
		SET run_id = $2, run_url = $3, status = $4, conclusion = $5,
		    outcome = $6, error_message = $7, finished_at = $8, triggered_at = $9
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.RunID,
		attempt.RunURL,
		attempt.Status,
		attempt.Conclusion,
		attempt.Outcome,
		attempt.Error,
		attempt.FinishedAt,
		attempt.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListAttempts returns recent attempts, newest first.
func (s *Store) ListAttempts(ctx context.Context, limit int, outcomes ...store.Outcome) ([]store.Attempt, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, batch_id, item_index, owner, repo, workflow, ref, artifact_dir, triggered_at,
		       run_id, run_url, status, conclusion, outcome, error_message, finished_at
		FROM attempts
	`
	args := []interface{}{limit}
	if len(outcomes) > 0 {
		names := make([]string, len(outcomes))
		for i, o := range outcomes {
			names[i] = string(o)
		}
		query += ` WHERE outcome = ANY($2)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY triggered_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []store.Attempt
	for rows.Next() {
		var a store.Attempt
		var runID sql.NullInt64
		var finishedAt sql.NullTime
		var outcome string
		if err := rows.Scan(
			&a.ID, &a.BatchID, &a.Index, &a.Owner, &a.Repo, &a.Workflow, &a.Ref, &a.ArtifactDir, &a.TriggeredAt,
			&runID, &a.RunURL, &a.Status, &a.Conclusion, &outcome, &a.Error, &finishedAt,
		); err != nil {
			return nil, err
		}
		if runID.Valid {
			id := runID.Int64
			a.RunID = &id
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			a.FinishedAt = &t
		}
		a.Outcome = store.Outcome(outcome)
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}
