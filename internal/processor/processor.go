// Package processor routes work items that changed status to the services that
// react to them.
package processor

import (
	"context"
	"errors"
	"fmt"

	"taskmanager/internal/domain"
)

// ErrUnsupportedToDoItemType is returned when no action is defined for an item's
// variant and status. No collaborator is called in that case.
var ErrUnsupportedToDoItemType = errors.New("unsupported to-do item type")

type StoryService interface {
	AttachPartialApprovalFor(ctx context.Context, storyID, taskID string) error
	// UpdateProgressOf recalculates the story's progress after task changed and
	// returns the story status that results from it.
	UpdateProgressOf(ctx context.Context, story *domain.Story, task *domain.Task) (domain.Status, error)
}

type EventsRegistry interface {
	Publish(ctx context.Context, event domain.Event) error
}

type ProjectBacklogService interface {
	PutOnTop(ctx context.Context, epic *domain.Epic) error
	MoveToReadyForDevelopment(ctx context.Context, story *domain.Story, project *domain.Project) error
}

type CommunicationService interface {
	Notify(ctx context.Context, epic *domain.Epic, owner *domain.ProductOwner) error
	NotifyTeamsAbout(ctx context.Context, story *domain.Story, project *domain.Project) error
}

type SprintBacklogService interface {
	MoveToReadyForDevelopment(ctx context.Context, task *domain.Task, sprint *domain.Sprint) error
}

// ToDoItemProcessor holds no state of its own; it is safe for concurrent use as
// long as its collaborators are.
type ToDoItemProcessor struct {
	stories        StoryService
	events         EventsRegistry
	projectBacklog ProjectBacklogService
	communication  CommunicationService
	sprintBacklog  SprintBacklogService
}

func New(stories StoryService, events EventsRegistry, projectBacklog ProjectBacklogService, communication CommunicationService, sprintBacklog SprintBacklogService) *ToDoItemProcessor {
	return &ToDoItemProcessor{
		stories:        stories,
		events:         events,
		projectBacklog: projectBacklog,
		communication:  communication,
		sprintBacklog:  sprintBacklog,
	}
}

// ProcessFor performs the actions bound to the item's current status. Errors from
// collaborators are returned unchanged and stop the remaining actions.
func (p *ToDoItemProcessor) ProcessFor(ctx context.Context, item domain.ToDoItem) error {
	if item == nil {
		return fmt.Errorf("%w: nil item", ErrUnsupportedToDoItemType)
	}
	base := item.Base()
	if base.Status == domain.StatusReleased {
		return p.events.Publish(ctx, domain.ToDoItemReleasedEvent{ToDoItemID: base.ID})
	}
	switch v := item.(type) {
	case *domain.Epic:
		return p.processEpic(ctx, v)
	case *domain.Story:
		return p.processStory(ctx, v)
	case *domain.Task:
		return p.processTask(ctx, v)
	default:
		return unsupported(item)
	}
}

func (p *ToDoItemProcessor) processEpic(ctx context.Context, epic *domain.Epic) error {
	switch epic.Status {
	case domain.StatusApproved, domain.StatusInProgress, domain.StatusDone:
		return nil
	case domain.StatusDefined:
		if epic.Project == nil || epic.Project.ProductOwner == nil {
			return fmt.Errorf("%w: epic %s has no product owner", ErrUnsupportedToDoItemType, epic.ID)
		}
		if err := p.projectBacklog.PutOnTop(ctx, epic); err != nil {
			return err
		}
		if err := p.events.Publish(ctx, domain.EpicReadyToPrioritize{EpicID: epic.ID}); err != nil {
			return err
		}
		return p.communication.Notify(ctx, epic, epic.Project.ProductOwner)
	}
	return unsupported(epic)
}

func (p *ToDoItemProcessor) processStory(ctx context.Context, story *domain.Story) error {
	switch story.Status {
	case domain.StatusApproved:
		return p.events.Publish(ctx, domain.StoryApprovedEvent{StoryID: story.ID})
	case domain.StatusDone:
		return p.events.Publish(ctx, domain.StoryDoneEvent{StoryID: story.ID})
	case domain.StatusInProgress:
		return nil
	case domain.StatusDefined:
		switch {
		case len(story.Tasks) == 0:
			return p.projectBacklog.MoveToReadyForDevelopment(ctx, story, story.Project)
		case !story.IsAssigned():
			return p.communication.NotifyTeamsAbout(ctx, story, story.Project)
		default:
			return nil
		}
	}
	return unsupported(story)
}

func (p *ToDoItemProcessor) processTask(ctx context.Context, task *domain.Task) error {
	switch task.Status {
	case domain.StatusApproved:
		if task.Subtask {
			return p.events.Publish(ctx, domain.TaskApprovedEvent{TaskID: task.ID})
		}
		if task.Story == nil {
			return orphaned(task)
		}
		return p.stories.AttachPartialApprovalFor(ctx, task.Story.ID, task.ID)
	case domain.StatusDone:
		if task.Story == nil {
			return orphaned(task)
		}
		status, err := p.stories.UpdateProgressOf(ctx, task.Story, task)
		if err != nil {
			return err
		}
		if status == domain.StatusDone {
			return p.events.Publish(ctx, domain.StoryDoneEvent{StoryID: task.Story.ID})
		}
		return nil
	case domain.StatusInProgress:
		if task.Story == nil {
			return orphaned(task)
		}
		_, err := p.stories.UpdateProgressOf(ctx, task.Story, task)
		return err
	case domain.StatusDefined:
		return p.sprintBacklog.MoveToReadyForDevelopment(ctx, task, task.CurrentSprint)
	}
	return unsupported(task)
}

func unsupported(item domain.ToDoItem) error {
	base := item.Base()
	return fmt.Errorf("%w: %s %s in status %s", ErrUnsupportedToDoItemType, domain.KindOf(item), base.ID, base.Status)
}

func orphaned(task *domain.Task) error {
	return fmt.Errorf("%w: task %s has no story", ErrUnsupportedToDoItemType, task.ID)
}
