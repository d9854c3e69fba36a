package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/models"
	"github.com/mcdev12/questhunt/go/internal/sqlutil"
)

func (p *Postgres) GetTracker(ctx context.Context, userID, journeyID uuid.UUID) (*models.JourneyTracker, error) {
	row := p.dbx.QueryRowContext(ctx, `
		SELECT id, user_id, journey_id, cur_challenge_id, score,
		       completed_challenge_ids, cooldown_minimum, created_at, updated_at
		FROM journey_trackers
		WHERE user_id = $1 AND journey_id = $2`,
		userID, journeyID)

	tracker, err := scanTracker(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tracker: %w", err)
	}
	return tracker, nil
}

func (p *Postgres) SaveTracker(ctx context.Context, tracker *models.JourneyTracker) error {
	completed, err := json.Marshal(tracker.CompletedChallengeIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal completed challenge ids: %w", err)
	}

	_, err = p.dbx.ExecContext(ctx, `
		INSERT INTO journey_trackers (
			id, user_id, journey_id, cur_challenge_id, score,
			completed_challenge_ids, cooldown_minimum, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (user_id, journey_id) DO UPDATE SET
			cur_challenge_id        = EXCLUDED.cur_challenge_id,
			score                   = EXCLUDED.score,
			completed_challenge_ids = EXCLUDED.completed_challenge_ids,
			cooldown_minimum        = EXCLUDED.cooldown_minimum,
			updated_at              = now()`,
		tracker.ID, tracker.UserID, tracker.JourneyID,
		sqlutil.ToNullUUID(tracker.CurChallengeID),
		tracker.Score, completed, sqlutil.ToSqlTime(tracker.CooldownMinimum))
	if err != nil {
		return fmt.Errorf("failed to save tracker: %w", err)
	}
	return nil
}

func scanTracker(row rowScanner) (*models.JourneyTracker, error) {
	var (
		tracker      models.JourneyTracker
		curChallenge uuid.NullUUID
		completed    []byte
		cooldown     sql.NullTime
	)
	if err := row.Scan(
		&tracker.ID, &tracker.UserID, &tracker.JourneyID, &curChallenge,
		&tracker.Score, &completed, &cooldown,
		&tracker.CreatedAt, &tracker.UpdatedAt,
	); err != nil {
		return nil, err
	}
	tracker.CurChallengeID = sqlutil.FromNullUUID(curChallenge)
	if err := json.Unmarshal(completed, &tracker.CompletedChallengeIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal completed challenge ids: %w", err)
	}
	tracker.CooldownMinimum = sqlutil.FromSqlTime(cooldown)
	return &tracker, nil
}
