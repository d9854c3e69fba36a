package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/models"
)

func (p *Postgres) GetGroupForUser(ctx context.Context, userID uuid.UUID) (*models.Group, error) {
	row := p.dbx.QueryRowContext(ctx, `
		SELECT g.id, g.cur_journey_id, g.created_at, g.updated_at
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1`, userID)

	var group models.Group
	if err := row.Scan(&group.ID, &group.CurJourneyID, &group.CreatedAt, &group.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get group for user: %w", err)
	}

	rows, err := p.dbx.QueryContext(ctx, `
		SELECT user_id, name, is_host
		FROM group_members
		WHERE group_id = $1
		ORDER BY member_index ASC`, group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var member models.GroupMember
		if err := rows.Scan(&member.UserID, &member.Name, &member.IsHost); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		group.Members = append(group.Members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group members: %w", err)
	}
	return &group, nil
}
