package repo

import (
	"context"
	"database/sql"

	"taskmanager/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO notifications(id,project_id,recipient_kind,recipient_id,item_id,message,created_at) VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.ProjectID, n.RecipientKind, n.RecipientID, n.ItemID, n.Message, n.CreatedAt)
	return err
}

type NotificationFilters struct {
	ProjectID   string
	RecipientID string
	ItemID      string
	Limit       int
}

func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	query := `SELECT id,project_id,recipient_kind,recipient_id,item_id,message,created_at FROM notifications WHERE project_id=?`
	args := []any{f.ProjectID}
	if f.RecipientID != "" {
		query += ` AND recipient_id=?`
		args = append(args, f.RecipientID)
	}
	if f.ItemID != "" {
		query += ` AND item_id=?`
		args = append(args, f.ItemID)
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.RecipientKind, &n.RecipientID, &n.ItemID, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// InsertApproval records a task's approval towards its story; repeated approvals are ignored.
func (r Repo) InsertApproval(ctx context.Context, tx *sql.Tx, storyID, taskID, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO story_approvals(story_id,task_id,approved_at) VALUES (?,?,?) ON CONFLICT(story_id,task_id) DO NOTHING`,
		storyID, taskID, now)
	return err
}

func (r Repo) ListApprovals(ctx context.Context, tx *sql.Tx, storyID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT task_id FROM story_approvals WHERE story_id=? ORDER BY approved_at, task_id`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}
