package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mcdev12/questhunt/go/internal/sqlutil"
)

func (p *Postgres) InsertOutbox(ctx context.Context, event OutboxEvent) error {
	_, err := p.dbx.ExecContext(ctx, `
		INSERT INTO outbox_events (id, event_type, group_id, target_user_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		event.ID, event.EventType, event.GroupID,
		sqlutil.ToNullUUID(event.TargetUserID), event.Payload)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", event.EventType, err)
	}
	return nil
}

func (p *Postgres) FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := p.dbx.QueryContext(ctx, `
		SELECT id, event_type, group_id, target_user_id, payload, created_at
		FROM outbox_events
		WHERE sent_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var (
			event  OutboxEvent
			target uuid.NullUUID
		)
		if err := rows.Scan(&event.ID, &event.EventType, &event.GroupID, &target,
			&event.Payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		event.TargetUserID = sqlutil.FromNullUUID(target)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}
	return events, nil
}

func (p *Postgres) MarkOutboxSent(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.dbx.ExecContext(ctx, `
		UPDATE outbox_events SET sent_at = now() WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark outbox events as sent: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteSentOutboxBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.dbx.ExecContext(ctx, `
		DELETE FROM outbox_events WHERE sent_at IS NOT NULL AND sent_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sent outbox events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted outbox events: %w", err)
	}
	return n, nil
}
