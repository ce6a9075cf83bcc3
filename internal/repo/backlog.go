package repo

import (
	"context"
	"database/sql"

	"taskmanager/internal/domain"
)

// BacklogKey addresses one ordered lane. SprintID is empty for project lanes.
type BacklogKey struct {
	ProjectID string
	SprintID  string
	Lane      string
}

// PutOnTop moves the item to position 0 of the lane, shifting everything else down.
func (r Repo) PutOnTop(ctx context.Context, tx *sql.Tx, key BacklogKey, itemID, now string) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM backlog_entries WHERE project_id=? AND sprint_id=? AND lane=? AND item_id=?`,
		key.ProjectID, key.SprintID, key.Lane, itemID); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `UPDATE backlog_entries SET position=position+1 WHERE project_id=? AND sprint_id=? AND lane=?`,
		key.ProjectID, key.SprintID, key.Lane); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `INSERT INTO backlog_entries(project_id,sprint_id,lane,item_id,position,updated_at) VALUES (?,?,?,?,0,?)`,
		key.ProjectID, key.SprintID, key.Lane, itemID, now)
	return err
}

// Append adds the item at the end of the lane; an item already in the lane keeps its place.
func (r Repo) Append(ctx context.Context, tx *sql.Tx, key BacklogKey, itemID, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO backlog_entries(project_id,sprint_id,lane,item_id,position,updated_at)
		SELECT ?,?,?,?,COALESCE(MAX(position)+1,0),? FROM backlog_entries WHERE project_id=? AND sprint_id=? AND lane=?
		ON CONFLICT(project_id,sprint_id,lane,item_id) DO NOTHING`,
		key.ProjectID, key.SprintID, key.Lane, itemID, now, key.ProjectID, key.SprintID, key.Lane)
	return err
}

// RemoveFromLane drops the item from the lane.
func (r Repo) RemoveFromLane(ctx context.Context, tx *sql.Tx, key BacklogKey, itemID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM backlog_entries WHERE project_id=? AND sprint_id=? AND lane=? AND item_id=?`,
		key.ProjectID, key.SprintID, key.Lane, itemID)
	return err
}

func (r Repo) ListBacklog(ctx context.Context, key BacklogKey) ([]domain.BacklogEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT b.project_id,b.sprint_id,b.lane,b.item_id,i.kind,i.title,b.position,b.updated_at
		FROM backlog_entries b JOIN items i ON i.id=b.item_id
		WHERE b.project_id=? AND b.sprint_id=? AND b.lane=? ORDER BY b.position`,
		key.ProjectID, key.SprintID, key.Lane)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BacklogEntry
	for rows.Next() {
		var e domain.BacklogEntry
		var kind string
		if err := rows.Scan(&e.ProjectID, &e.SprintID, &e.Lane, &e.ItemID, &kind, &e.Title, &e.Position, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.ItemKind = domain.Kind(kind)
		res = append(res, e)
	}
	return res, rows.Err()
}
