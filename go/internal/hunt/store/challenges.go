package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/models"
	"github.com/mcdev12/questhunt/go/internal/sqlutil"
)

func (p *Postgres) GetChallenge(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	row := p.dbx.QueryRowContext(ctx, `
		SELECT id, journey_id, journey_index, name, points, timer_length_sec, created_at, updated_at
		FROM challenges
		WHERE id = $1`, id)

	challenge, err := scanChallenge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return challenge, nil
}

func (p *Postgres) ListJourneyChallenges(ctx context.Context, journeyID uuid.UUID) ([]*models.Challenge, error) {
	rows, err := p.dbx.QueryContext(ctx, `
		SELECT id, journey_id, journey_index, name, points, timer_length_sec, created_at, updated_at
		FROM challenges
		WHERE journey_id = $1
		ORDER BY journey_index ASC`, journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journey challenges: %w", err)
	}
	defer rows.Close()

	var challenges []*models.Challenge
	for rows.Next() {
		challenge, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		challenges = append(challenges, challenge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate challenges: %w", err)
	}
	return challenges, nil
}

func (p *Postgres) UpdateChallengePoints(ctx context.Context, id uuid.UUID, points int) error {
	res, err := p.dbx.ExecContext(ctx, `
		UPDATE challenges SET points = $2, updated_at = now() WHERE id = $1`,
		id, points)
	if err != nil {
		return fmt.Errorf("failed to update challenge points: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanChallenge(row rowScanner) (*models.Challenge, error) {
	var (
		challenge   models.Challenge
		timerLength sql.NullInt32
	)
	if err := row.Scan(
		&challenge.ID, &challenge.JourneyID, &challenge.JourneyIndex,
		&challenge.Name, &challenge.Points, &timerLength,
		&challenge.CreatedAt, &challenge.UpdatedAt,
	); err != nil {
		return nil, err
	}
	challenge.TimerLength = sqlutil.FromSqlInt32(timerLength)
	return &challenge, nil
}
