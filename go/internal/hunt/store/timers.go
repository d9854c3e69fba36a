package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/questhunt/go/internal/models"
	"github.com/mcdev12/questhunt/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

const timerColumns = `id, user_id, challenge_id, timer_length_sec, start_time, end_time,
	status, extensions_used, original_base_points, warning_milestones,
	warning_milestones_sent, last_warning_sent, generation, created_at, updated_at`

func (p *Postgres) GetTimer(ctx context.Context, key models.TimerKey) (*models.ChallengeTimer, error) {
	row := p.dbx.QueryRowContext(ctx, `
		SELECT `+timerColumns+`
		FROM challenge_timers
		WHERE user_id = $1 AND challenge_id = $2`,
		key.UserID, key.ChallengeID)

	timer, err := scanTimer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get timer: %w", err)
	}
	return timer, nil
}

func (p *Postgres) UpsertTimer(ctx context.Context, timer *models.ChallengeTimer) error {
	milestones, err := json.Marshal(timer.WarningMilestones)
	if err != nil {
		return fmt.Errorf("failed to marshal warning milestones: %w", err)
	}

	var sent pqtype.NullRawMessage
	if len(timer.WarningMilestonesSent) > 0 {
		raw, err := json.Marshal(timer.WarningMilestonesSent)
		if err != nil {
			return fmt.Errorf("failed to marshal sent milestones: %w", err)
		}
		sent = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	_, err = p.dbx.ExecContext(ctx, `
		INSERT INTO challenge_timers (
			id, user_id, challenge_id, timer_length_sec, start_time, end_time,
			status, extensions_used, original_base_points, warning_milestones,
			warning_milestones_sent, last_warning_sent, generation, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		ON CONFLICT (user_id, challenge_id) DO UPDATE SET
			timer_length_sec        = EXCLUDED.timer_length_sec,
			start_time              = EXCLUDED.start_time,
			end_time                = EXCLUDED.end_time,
			status                  = EXCLUDED.status,
			extensions_used         = EXCLUDED.extensions_used,
			original_base_points    = EXCLUDED.original_base_points,
			warning_milestones      = EXCLUDED.warning_milestones,
			warning_milestones_sent = EXCLUDED.warning_milestones_sent,
			last_warning_sent       = EXCLUDED.last_warning_sent,
			generation              = EXCLUDED.generation,
			updated_at              = now()`,
		timer.ID, timer.UserID, timer.ChallengeID, timer.TimerLength,
		timer.StartTime, timer.EndTime, timer.Status, timer.ExtensionsUsed,
		timer.OriginalBasePoints, milestones, sent,
		sqlutil.ToSqlTime(timer.LastWarningSent), int64(timer.Generation))
	if err != nil {
		return fmt.Errorf("failed to upsert timer: %w", err)
	}
	return nil
}

func (p *Postgres) ListActiveTimers(ctx context.Context) ([]*models.ChallengeTimer, error) {
	rows, err := p.dbx.QueryContext(ctx, `
		SELECT `+timerColumns+`
		FROM challenge_timers
		WHERE status = $1
		ORDER BY end_time ASC`,
		models.TimerStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active timers: %w", err)
	}
	defer rows.Close()

	var timers []*models.ChallengeTimer
	for rows.Next() {
		timer, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active timer: %w", err)
		}
		timers = append(timers, timer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate active timers: %w", err)
	}
	return timers, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTimer(row rowScanner) (*models.ChallengeTimer, error) {
	var (
		timer       models.ChallengeTimer
		milestones  []byte
		sent        pqtype.NullRawMessage
		lastWarning sql.NullTime
		generation  int64
	)
	if err := row.Scan(
		&timer.ID, &timer.UserID, &timer.ChallengeID, &timer.TimerLength,
		&timer.StartTime, &timer.EndTime, &timer.Status, &timer.ExtensionsUsed,
		&timer.OriginalBasePoints, &milestones, &sent, &lastWarning,
		&generation, &timer.CreatedAt, &timer.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(milestones, &timer.WarningMilestones); err != nil {
		return nil, fmt.Errorf("failed to unmarshal warning milestones: %w", err)
	}
	if sent.Valid {
		if err := json.Unmarshal(sent.RawMessage, &timer.WarningMilestonesSent); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sent milestones: %w", err)
		}
	}
	timer.LastWarningSent = sqlutil.FromSqlTime(lastWarning)
	timer.Generation = uint64(generation)
	return &timer, nil
}
