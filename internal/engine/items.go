package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"taskmanager/internal/domain"
	"taskmanager/internal/events"
	"taskmanager/internal/metrics"
	"taskmanager/internal/processor"
	"taskmanager/internal/repo"
)

const tracerName = "taskmanager/engine"

// ItemCreateOptions are parameters for creating a work item. New items start TO_BE_DEFINED.
type ItemCreateOptions struct {
	ID          string
	ProjectID   string      `validate:"required"`
	Kind        domain.Kind `validate:"required,oneof=epic story task generic"`
	Title       string      `validate:"required,max=200"`
	Description string      `validate:"max=5000"`
	EpicID      string      `validate:"excluded_unless=Kind story"`
	StoryID     string      `validate:"excluded_unless=Kind task"`
	SprintID    string      `validate:"excluded_unless=Kind task"`
	Subtask     bool
	ActorID     string
}

func (e Engine) CreateItem(ctx context.Context, opts ItemCreateOptions) (repo.ItemRow, error) {
	if err := e.check(opts); err != nil {
		return repo.ItemRow{}, err
	}
	if opts.Subtask && opts.Kind != domain.KindTask {
		return repo.ItemRow{}, ValidationError{Field: "subtask", Message: "only tasks can be subtasks"}
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return repo.ItemRow{}, err
	}
	if opts.EpicID != "" {
		if err := e.expectItem(ctx, opts.EpicID, opts.ProjectID, domain.KindEpic); err != nil {
			return repo.ItemRow{}, err
		}
	}
	if opts.StoryID != "" {
		if err := e.expectItem(ctx, opts.StoryID, opts.ProjectID, domain.KindStory); err != nil {
			return repo.ItemRow{}, err
		}
	}
	if opts.SprintID != "" {
		if err := e.expectSprint(ctx, opts.SprintID, opts.ProjectID); err != nil {
			return repo.ItemRow{}, err
		}
	}
	now := e.stamp()
	it := repo.ItemRow{
		Item: domain.Item{
			ID:          opts.ID,
			ProjectID:   opts.ProjectID,
			Title:       opts.Title,
			Description: opts.Description,
			Status:      domain.StatusToBeDefined,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Kind:     opts.Kind,
		EpicID:   opts.EpicID,
		StoryID:  opts.StoryID,
		SprintID: opts.SprintID,
		Subtask:  opts.Subtask,
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return repo.ItemRow{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
		return repo.ItemRow{}, fmt.Errorf("insert item: %w", err)
	}
	if _, err := e.eventLog().Append(ctx, tx, "item.created", it.ProjectID, string(it.Kind), it.ID, opts.ActorID, events.EventPayload{
		"title":  it.Title,
		"status": it.Status,
	}); err != nil {
		return repo.ItemRow{}, err
	}
	if err := tx.Commit(); err != nil {
		return repo.ItemRow{}, err
	}
	return it, nil
}

func (e Engine) expectItem(ctx context.Context, id, projectID string, kind domain.Kind) error {
	row, err := e.Repo.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ValidationError{Field: string(kind) + "_id", Message: fmt.Sprintf("%s %s not found", kind, id)}
		}
		return err
	}
	if row.Kind != kind {
		return ValidationError{Field: string(kind) + "_id", Message: fmt.Sprintf("item %s is a %s, not a %s", id, row.Kind, kind)}
	}
	if row.ProjectID != projectID {
		return ValidationError{Field: string(kind) + "_id", Message: fmt.Sprintf("%s %s belongs to another project", kind, id)}
	}
	return nil
}

func (e Engine) expectSprint(ctx context.Context, id, projectID string) error {
	s, err := e.Repo.GetSprint(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ValidationError{Field: "sprint_id", Message: fmt.Sprintf("sprint %s not found", id)}
		}
		return err
	}
	if s.ProjectID != projectID {
		return ValidationError{Field: "sprint_id", Message: fmt.Sprintf("sprint %s belongs to another project", id)}
	}
	return nil
}

func (e Engine) GetItem(ctx context.Context, id string) (repo.ItemRow, error) {
	return e.Repo.GetItem(ctx, id)
}

func (e Engine) ListItems(ctx context.Context, f repo.ItemFilters) ([]repo.ItemRow, error) {
	if f.Kind != "" {
		if _, err := domain.ParseKind(f.Kind); err != nil {
			return nil, ValidationError{Field: "kind", Message: err.Error()}
		}
	}
	if f.Status != "" {
		if _, err := domain.ParseStatus(f.Status); err != nil {
			return nil, ValidationError{Field: "status", Message: err.Error()}
		}
	}
	return e.Repo.ListItems(ctx, f)
}

// StatusChange is the outcome of ChangeStatus.
type StatusChange struct {
	Item       repo.ItemRow
	FromStatus domain.Status
	// Outcome is one of the metrics outcome labels: processed or unsupported.
	Outcome string
	// Detail explains an unsupported outcome.
	Detail string
}

// ChangeStatus persists a new status and then runs the lifecycle actions bound to it.
// The status change is committed before any action runs; an item with no actions for
// its new status yields an unsupported outcome, not an error.
func (e Engine) ChangeStatus(ctx context.Context, itemID string, status domain.Status, actorID string) (StatusChange, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.ChangeStatus")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", itemID), attribute.String("item.status", string(status)))

	if _, err := domain.ParseStatus(string(status)); err != nil {
		return StatusChange{}, ValidationError{Field: "status", Message: err.Error()}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return StatusChange{}, err
	}
	defer tx.Rollback()
	row, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		return StatusChange{}, err
	}
	from := row.Status
	now := e.stamp()
	if err := e.Repo.UpdateItemStatus(ctx, tx, itemID, status, now); err != nil {
		return StatusChange{}, err
	}
	if _, err := e.eventLog().Append(ctx, tx, "item.status_changed", row.ProjectID, string(row.Kind), row.ID, actorID, events.EventPayload{
		"from_status": from,
		"to_status":   status,
	}); err != nil {
		return StatusChange{}, err
	}
	if err := tx.Commit(); err != nil {
		return StatusChange{}, err
	}
	span.SetAttributes(attribute.String("item.kind", string(row.Kind)))

	item, err := e.Repo.LoadItem(ctx, itemID)
	if err != nil {
		return StatusChange{}, fmt.Errorf("load item %s: %w", itemID, err)
	}
	change := StatusChange{FromStatus: from, Outcome: metrics.OutcomeProcessed}
	log := e.log().WithFields(logrus.Fields{
		"item":    itemID,
		"kind":    row.Kind,
		"from":    from,
		"to":      status,
		"actor":   actorID,
		"project": row.ProjectID,
	})
	scoped := events.WithScope(ctx, events.Scope{ProjectID: row.ProjectID, ActorID: actorID})
	err = e.Processor().ProcessFor(scoped, item)
	switch {
	case errors.Is(err, processor.ErrUnsupportedToDoItemType):
		change.Outcome = metrics.OutcomeUnsupported
		change.Detail = err.Error()
		log.WithError(err).Info("no lifecycle action for status")
	case err != nil:
		metrics.ItemsProcessedTotal.WithLabelValues(string(row.Kind), string(status), metrics.OutcomeFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "lifecycle action failed")
		log.WithError(err).Error("lifecycle action failed")
		return StatusChange{}, err
	default:
		log.Info("item status changed")
	}
	metrics.ItemsProcessedTotal.WithLabelValues(string(row.Kind), string(status), change.Outcome).Inc()
	span.SetAttributes(attribute.String("dispatch.outcome", change.Outcome))

	change.Item, err = e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return StatusChange{}, err
	}
	return change, nil
}

// Processor wires the item processor to the engine's storage-backed services.
func (e Engine) Processor() *processor.ToDoItemProcessor {
	var registry *events.Registry
	if e.Registry != nil {
		registry = e.Registry.With(e.eventLog())
	} else {
		registry = events.NewRegistry(e.eventLog())
		registry.Subscribe(countPublished)
	}
	return processor.New(
		storyService{e},
		registry,
		projectBacklog{e},
		communication{e},
		sprintBacklog{e},
	)
}

// AssignStory sets the person and/or team working on a story. Empty values clear them.
func (e Engine) AssignStory(ctx context.Context, storyID, assigneeID, teamID, actorID string) (repo.ItemRow, error) {
	row, err := e.Repo.GetItem(ctx, storyID)
	if err != nil {
		return repo.ItemRow{}, err
	}
	if row.Kind != domain.KindStory {
		return repo.ItemRow{}, ValidationError{Field: "story_id", Message: fmt.Sprintf("item %s is a %s, not a story", storyID, row.Kind)}
	}
	if teamID != "" {
		team, err := e.Repo.GetTeam(ctx, teamID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return repo.ItemRow{}, ValidationError{Field: "team_id", Message: fmt.Sprintf("team %s not found", teamID)}
			}
			return repo.ItemRow{}, err
		}
		if team.ProjectID != row.ProjectID {
			return repo.ItemRow{}, ValidationError{Field: "team_id", Message: fmt.Sprintf("team %s belongs to another project", teamID)}
		}
	}
	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return repo.ItemRow{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetStoryAssignment(ctx, tx, storyID, assigneeID, teamID, now); err != nil {
		return repo.ItemRow{}, err
	}
	if _, err := e.eventLog().Append(ctx, tx, "story.assigned", row.ProjectID, string(domain.KindStory), storyID, actorID, events.EventPayload{
		"assignee_id": assigneeID,
		"team_id":     teamID,
	}); err != nil {
		return repo.ItemRow{}, err
	}
	if err := tx.Commit(); err != nil {
		return repo.ItemRow{}, err
	}
	row.AssigneeID, row.TeamID, row.UpdatedAt = assigneeID, teamID, now
	return row, nil
}

// ScheduleTask puts a task in a sprint; an empty sprintID unschedules it.
func (e Engine) ScheduleTask(ctx context.Context, taskID, sprintID, actorID string) (repo.ItemRow, error) {
	row, err := e.Repo.GetItem(ctx, taskID)
	if err != nil {
		return repo.ItemRow{}, err
	}
	if row.Kind != domain.KindTask {
		return repo.ItemRow{}, ValidationError{Field: "task_id", Message: fmt.Sprintf("item %s is a %s, not a task", taskID, row.Kind)}
	}
	if sprintID != "" {
		if err := e.expectSprint(ctx, sprintID, row.ProjectID); err != nil {
			return repo.ItemRow{}, err
		}
	}
	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return repo.ItemRow{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetTaskSprint(ctx, tx, taskID, sprintID, now); err != nil {
		return repo.ItemRow{}, err
	}
	if row.SprintID != "" && row.SprintID != sprintID {
		if err := e.Repo.RemoveFromLane(ctx, tx, repo.BacklogKey{ProjectID: row.ProjectID, SprintID: row.SprintID, Lane: domain.LaneReady}, taskID); err != nil {
			return repo.ItemRow{}, err
		}
	}
	if _, err := e.eventLog().Append(ctx, tx, "task.scheduled", row.ProjectID, string(domain.KindTask), taskID, actorID, events.EventPayload{
		"from_sprint_id": row.SprintID,
		"sprint_id":      sprintID,
	}); err != nil {
		return repo.ItemRow{}, err
	}
	if err := tx.Commit(); err != nil {
		return repo.ItemRow{}, err
	}
	row.SprintID, row.UpdatedAt = sprintID, now
	return row, nil
}
