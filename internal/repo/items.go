package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskmanager/internal/domain"
)

// ItemRow is the flat storage shape shared by every work item kind.
type ItemRow struct {
	domain.Item
	Kind       domain.Kind `json:"kind"`
	EpicID     string      `json:"epic_id,omitempty"`
	StoryID    string      `json:"story_id,omitempty"`
	SprintID   string      `json:"sprint_id,omitempty"`
	Subtask    bool        `json:"subtask"`
	AssigneeID string      `json:"assignee_id,omitempty"`
	TeamID     string      `json:"team_id,omitempty"`
}

type ItemFilters struct {
	ProjectID string
	Kind      string
	Status    string
	StoryID   string
	SprintID  string
	Limit     int
}

const itemColumns = `id,project_id,kind,title,COALESCE(description,''),status,COALESCE(epic_id,''),COALESCE(story_id,''),COALESCE(sprint_id,''),subtask,COALESCE(assignee_id,''),COALESCE(team_id,''),created_at,updated_at`

func scanItem(row interface{ Scan(...any) error }) (ItemRow, error) {
	var it ItemRow
	var kind, status string
	err := row.Scan(&it.ID, &it.ProjectID, &kind, &it.Title, &it.Description, &status, &it.EpicID, &it.StoryID,
		&it.SprintID, &it.Subtask, &it.AssigneeID, &it.TeamID, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	it.Kind = domain.Kind(kind)
	it.Status = domain.Status(status)
	return it, err
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, it ItemRow) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO items(id,project_id,kind,title,description,status,epic_id,story_id,sprint_id,subtask,assignee_id,team_id,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.ProjectID, string(it.Kind), it.Title, nullable(it.Description), string(it.Status), nullable(it.EpicID),
		nullable(it.StoryID), nullable(it.SprintID), it.Subtask, nullable(it.AssigneeID), nullable(it.TeamID), it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) GetItem(ctx context.Context, id string) (ItemRow, error) {
	return r.getItem(ctx, nil, id)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (ItemRow, error) {
	return r.getItem(ctx, tx, id)
}

func (r Repo) getItem(ctx context.Context, tx *sql.Tx, id string) (ItemRow, error) {
	return scanItem(r.q(tx).QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id))
}

func (r Repo) UpdateItemStatus(ctx context.Context, tx *sql.Tx, id string, status domain.Status, now string) error {
	return r.updateItem(ctx, tx, id, `status=?, updated_at=?`, string(status), now)
}

// SetStoryAssignment replaces the assignee and team of a story; empty values clear them.
func (r Repo) SetStoryAssignment(ctx context.Context, tx *sql.Tx, id, assigneeID, teamID, now string) error {
	return r.updateItem(ctx, tx, id, `assignee_id=?, team_id=?, updated_at=?`, nullable(assigneeID), nullable(teamID), now)
}

func (r Repo) SetTaskSprint(ctx context.Context, tx *sql.Tx, id, sprintID, now string) error {
	return r.updateItem(ctx, tx, id, `sprint_id=?, updated_at=?`, nullable(sprintID), now)
}

func (r Repo) updateItem(ctx context.Context, tx *sql.Tx, id, set string, args ...any) error {
	args = append(args, id)
	res, err := r.q(tx).ExecContext(ctx, `UPDATE items SET `+set+` WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]ItemRow, error) {
	return r.listItems(ctx, nil, f)
}

func (r Repo) listItems(ctx context.Context, tx *sql.Tx, f ItemFilters) ([]ItemRow, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.StoryID != "" {
		clauses = append(clauses, "story_id=?")
		args = append(args, f.StoryID)
	}
	if f.SprintID != "" {
		clauses = append(clauses, "sprint_id=?")
		args = append(args, f.SprintID)
	}
	query := fmt.Sprintf(`SELECT %s FROM items WHERE %s ORDER BY created_at, id`, itemColumns, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ItemRow
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// StoryTaskStatuses returns the status of every task tracked for a story's progress.
// Subtasks are left out.
func (r Repo) StoryTaskStatuses(ctx context.Context, tx *sql.Tx, storyID string) (map[string]domain.Status, error) {
	tasks, err := r.listItems(ctx, tx, ItemFilters{Kind: string(domain.KindTask), StoryID: storyID})
	if err != nil {
		return nil, err
	}
	res := make(map[string]domain.Status, len(tasks))
	for _, t := range tasks {
		if t.Subtask {
			continue
		}
		res[t.ID] = t.Status
	}
	return res, nil
}

// LoadItem returns the work item with the relations its lifecycle actions need:
// epic->project->owner, story->project and tasks, task->story (with siblings) and sprint.
func (r Repo) LoadItem(ctx context.Context, id string) (domain.ToDoItem, error) {
	return r.LoadItemTx(ctx, nil, id)
}

func (r Repo) LoadItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.ToDoItem, error) {
	row, err := r.getItem(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	switch row.Kind {
	case domain.KindEpic:
		project, err := r.getProject(ctx, tx, row.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("load project of epic %s: %w", row.ID, err)
		}
		return &domain.Epic{Item: row.Item, Project: &project}, nil
	case domain.KindStory:
		return r.loadStory(ctx, tx, row)
	case domain.KindTask:
		if row.StoryID == "" {
			return r.taskFromRow(ctx, tx, row, nil)
		}
		storyRow, err := r.getItem(ctx, tx, row.StoryID)
		if err != nil {
			return nil, fmt.Errorf("load story of task %s: %w", row.ID, err)
		}
		story, err := r.loadStory(ctx, tx, storyRow)
		if err != nil {
			return nil, err
		}
		for _, t := range story.Tasks {
			if t.ID == row.ID {
				return t, nil
			}
		}
		return r.taskFromRow(ctx, tx, row, story)
	case domain.KindGeneric:
		return &domain.Generic{Item: row.Item}, nil
	}
	return nil, fmt.Errorf("item %s has unknown kind %q", row.ID, row.Kind)
}

func (r Repo) loadStory(ctx context.Context, tx *sql.Tx, row ItemRow) (*domain.Story, error) {
	project, err := r.getProject(ctx, tx, row.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project of story %s: %w", row.ID, err)
	}
	story := &domain.Story{
		Item:       row.Item,
		EpicID:     row.EpicID,
		AssigneeID: row.AssigneeID,
		TeamID:     row.TeamID,
		Project:    &project,
	}
	taskRows, err := r.listItems(ctx, tx, ItemFilters{Kind: string(domain.KindTask), StoryID: row.ID})
	if err != nil {
		return nil, err
	}
	for _, tr := range taskRows {
		task, err := r.taskFromRow(ctx, tx, tr, story)
		if err != nil {
			return nil, err
		}
		story.Tasks = append(story.Tasks, task)
	}
	return story, nil
}

func (r Repo) taskFromRow(ctx context.Context, tx *sql.Tx, row ItemRow, story *domain.Story) (*domain.Task, error) {
	task := &domain.Task{Item: row.Item, Subtask: row.Subtask, Story: story}
	if row.SprintID != "" {
		sprint, err := r.getSprint(ctx, tx, row.SprintID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err == nil {
			task.CurrentSprint = &sprint
		}
	}
	return task, nil
}
