package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskmanager/internal/domain"
	"taskmanager/internal/events"
	"taskmanager/internal/metrics"
	"taskmanager/internal/repo"
)

var (
	ErrNoSprint  = errors.New("task is not scheduled in a sprint")
	ErrNoProject = errors.New("item has no project")
)

// storyService tracks approvals and progress of stories as their tasks move.
type storyService struct{ e Engine }

func (s storyService) AttachPartialApprovalFor(ctx context.Context, storyID, taskID string) error {
	scope := events.ScopeFrom(ctx)
	tx, err := s.e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.e.Repo.InsertApproval(ctx, tx, storyID, taskID, s.e.stamp()); err != nil {
		return fmt.Errorf("record approval: %w", err)
	}
	approvals, err := s.e.Repo.ListApprovals(ctx, tx, storyID)
	if err != nil {
		return err
	}
	if _, err := s.e.eventLog().Append(ctx, tx, "story.partially_approved", scope.ProjectID, string(domain.KindStory), storyID, scope.ActorID, events.EventPayload{
		"task_id":   taskID,
		"approvals": len(approvals),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s storyService) UpdateProgressOf(ctx context.Context, story *domain.Story, task *domain.Task) (domain.Status, error) {
	scope := events.ScopeFrom(ctx)
	tx, err := s.e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	statuses, err := s.e.Repo.StoryTaskStatuses(ctx, tx, story.ID)
	if err != nil {
		return "", err
	}
	if task != nil && !task.Subtask {
		statuses[task.ID] = task.Status
	}
	next := progressOf(story.Status, statuses)
	if next == story.Status {
		return next, nil
	}
	if err := s.e.Repo.UpdateItemStatus(ctx, tx, story.ID, next, s.e.stamp()); err != nil {
		return "", err
	}
	if _, err := s.e.eventLog().Append(ctx, tx, "story.progress_updated", scope.ProjectID, string(domain.KindStory), story.ID, scope.ActorID, events.EventPayload{
		"from_status": story.Status,
		"to_status":   next,
		"tasks":       len(statuses),
	}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	story.Status = next
	return next, nil
}

// progressOf derives a story status from its task statuses. Released stories and
// stories without tasks keep their status.
func progressOf(current domain.Status, tasks map[string]domain.Status) domain.Status {
	if current == domain.StatusReleased || len(tasks) == 0 {
		return current
	}
	done, started := 0, 0
	for _, st := range tasks {
		switch st {
		case domain.StatusDone, domain.StatusReleased:
			done++
			started++
		case domain.StatusInProgress:
			started++
		}
	}
	switch {
	case done == len(tasks):
		return domain.StatusDone
	case started > 0:
		return domain.StatusInProgress
	}
	return current
}

// projectBacklog orders epics and ready stories in the project lanes.
type projectBacklog struct{ e Engine }

func (b projectBacklog) PutOnTop(ctx context.Context, epic *domain.Epic) error {
	tx, err := b.e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	key := repo.BacklogKey{ProjectID: epic.ProjectID, Lane: domain.LaneProject}
	if err := b.e.Repo.PutOnTop(ctx, tx, key, epic.ID, b.e.stamp()); err != nil {
		return fmt.Errorf("prioritize epic %s: %w", epic.ID, err)
	}
	return tx.Commit()
}

func (b projectBacklog) MoveToReadyForDevelopment(ctx context.Context, story *domain.Story, project *domain.Project) error {
	if project == nil {
		return fmt.Errorf("story %s: %w", story.ID, ErrNoProject)
	}
	tx, err := b.e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := b.e.Repo.RemoveFromLane(ctx, tx, repo.BacklogKey{ProjectID: project.ID, Lane: domain.LaneProject}, story.ID); err != nil {
		return err
	}
	if err := b.e.Repo.Append(ctx, tx, repo.BacklogKey{ProjectID: project.ID, Lane: domain.LaneReady}, story.ID, b.e.stamp()); err != nil {
		return fmt.Errorf("move story %s to ready: %w", story.ID, err)
	}
	return tx.Commit()
}

// sprintBacklog queues defined tasks in their sprint's ready lane.
type sprintBacklog struct{ e Engine }

func (b sprintBacklog) MoveToReadyForDevelopment(ctx context.Context, task *domain.Task, sprint *domain.Sprint) error {
	if sprint == nil {
		return fmt.Errorf("task %s: %w", task.ID, ErrNoSprint)
	}
	if sprint.ProjectID != task.ProjectID {
		return fmt.Errorf("task %s and sprint %s belong to different projects", task.ID, sprint.ID)
	}
	key := repo.BacklogKey{ProjectID: sprint.ProjectID, SprintID: sprint.ID, Lane: domain.LaneReady}
	return b.e.Repo.Append(ctx, nil, key, task.ID, b.e.stamp())
}

// communication records notifications rendered from the project's templates.
type communication struct{ e Engine }

func (c communication) Notify(ctx context.Context, epic *domain.Epic, owner *domain.ProductOwner) error {
	cfg, err := c.e.projectConfig(ctx, epic.ProjectID)
	if err != nil {
		return err
	}
	n := domain.Notification{
		ID:            uuid.NewString(),
		ProjectID:     epic.ProjectID,
		RecipientKind: "product_owner",
		RecipientID:   owner.ID,
		ItemID:        epic.ID,
		Message:       cfg.RenderEpic(epic.Title, owner.FullName()),
		CreatedAt:     c.e.stamp(),
	}
	if err := c.e.Repo.InsertNotification(ctx, nil, n); err != nil {
		return fmt.Errorf("notify product owner: %w", err)
	}
	return nil
}

func (c communication) NotifyTeamsAbout(ctx context.Context, story *domain.Story, project *domain.Project) error {
	if project == nil {
		return fmt.Errorf("story %s: %w", story.ID, ErrNoProject)
	}
	cfg, err := c.e.projectConfig(ctx, project.ID)
	if err != nil {
		return err
	}
	teams, err := c.e.Repo.ListTeams(ctx, project.ID)
	if err != nil {
		return err
	}
	if len(teams) == 0 {
		c.e.log().WithFields(logrus.Fields{"project": project.ID, "story": story.ID}).Warn("no teams to notify")
		return nil
	}
	tx, err := c.e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := c.e.stamp()
	for _, team := range teams {
		n := domain.Notification{
			ID:            uuid.NewString(),
			ProjectID:     project.ID,
			RecipientKind: "team",
			RecipientID:   team.ID,
			ItemID:        story.ID,
			Message:       cfg.RenderStory(story.Title, team.Name),
			CreatedAt:     now,
		}
		if err := c.e.Repo.InsertNotification(ctx, tx, n); err != nil {
			return fmt.Errorf("notify team %s: %w", team.ID, err)
		}
	}
	return tx.Commit()
}

// countPublished is subscribed to every engine registry.
func countPublished(_ context.Context, evt domain.Event) {
	metrics.EventsPublishedTotal.WithLabelValues(evt.Type()).Inc()
}
