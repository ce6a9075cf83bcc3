package processor_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"taskmanager/internal/domain"
	"taskmanager/internal/processor"
)

const (
	itemID  = "item-123"
	storyID = "story-246"
)

// recorder collects every collaborator call as a readable line, in call order.
type recorder struct {
	calls       []string
	published   []domain.Event
	storyStatus domain.Status
	failOn      string
	err         error
}

func (r *recorder) record(call string) error {
	r.calls = append(r.calls, call)
	if r.failOn != "" && strings.HasPrefix(call, r.failOn) {
		return r.err
	}
	return nil
}

type fakeStories struct{ r *recorder }

func (f fakeStories) AttachPartialApprovalFor(_ context.Context, storyID, taskID string) error {
	return f.r.record(fmt.Sprintf("stories.AttachPartialApprovalFor(%s,%s)", storyID, taskID))
}

func (f fakeStories) UpdateProgressOf(_ context.Context, story *domain.Story, task *domain.Task) (domain.Status, error) {
	if err := f.r.record(fmt.Sprintf("stories.UpdateProgressOf(%s,%s)", story.ID, task.ID)); err != nil {
		return "", err
	}
	return f.r.storyStatus, nil
}

type fakeEvents struct{ r *recorder }

func (f fakeEvents) Publish(_ context.Context, evt domain.Event) error {
	f.r.published = append(f.r.published, evt)
	return f.r.record(fmt.Sprintf("events.Publish(%s,%s)", evt.Type(), evt.EntityID()))
}

type fakeProjectBacklog struct{ r *recorder }

func (f fakeProjectBacklog) PutOnTop(_ context.Context, epic *domain.Epic) error {
	return f.r.record(fmt.Sprintf("projectBacklog.PutOnTop(%s)", epic.ID))
}

func (f fakeProjectBacklog) MoveToReadyForDevelopment(_ context.Context, story *domain.Story, project *domain.Project) error {
	return f.r.record(fmt.Sprintf("projectBacklog.MoveToReadyForDevelopment(%s,%s)", story.ID, projectID(project)))
}

type fakeCommunication struct{ r *recorder }

func (f fakeCommunication) Notify(_ context.Context, epic *domain.Epic, owner *domain.ProductOwner) error {
	return f.r.record(fmt.Sprintf("communication.Notify(%s,%s)", epic.ID, owner.ID))
}

func (f fakeCommunication) NotifyTeamsAbout(_ context.Context, story *domain.Story, project *domain.Project) error {
	return f.r.record(fmt.Sprintf("communication.NotifyTeamsAbout(%s,%s)", story.ID, projectID(project)))
}

type fakeSprintBacklog struct{ r *recorder }

func (f fakeSprintBacklog) MoveToReadyForDevelopment(_ context.Context, task *domain.Task, sprint *domain.Sprint) error {
	sprintID := "<nil>"
	if sprint != nil {
		sprintID = sprint.ID
	}
	return f.r.record(fmt.Sprintf("sprintBacklog.MoveToReadyForDevelopment(%s,%s)", task.ID, sprintID))
}

func projectID(p *domain.Project) string {
	if p == nil {
		return "<nil>"
	}
	return p.ID
}

func newProcessor() (*processor.ToDoItemProcessor, *recorder) {
	r := &recorder{storyStatus: domain.StatusToBeDefined}
	p := processor.New(fakeStories{r}, fakeEvents{r}, fakeProjectBacklog{r}, fakeCommunication{r}, fakeSprintBacklog{r})
	return p, r
}

func item(status domain.Status) domain.Item {
	return domain.Item{ID: itemID, Status: status}
}

func project() *domain.Project {
	return &domain.Project{ID: "proj-1", ProductOwner: &domain.ProductOwner{ID: "po-1"}}
}

func TestProcessForDispatchTable(t *testing.T) {
	story := &domain.Story{Item: domain.Item{ID: storyID, Status: domain.StatusInProgress}}
	cases := []struct {
		name      string
		item      domain.ToDoItem
		storyDone bool
		calls     []string
		published []domain.Event
	}{
		{
			name:      "released generic",
			item:      &domain.Generic{Item: item(domain.StatusReleased)},
			calls:     []string{"events.Publish(todo_item.released,item-123)"},
			published: []domain.Event{domain.ToDoItemReleasedEvent{ToDoItemID: itemID}},
		},
		{
			name:      "released task",
			item:      &domain.Task{Item: item(domain.StatusReleased), Story: story},
			calls:     []string{"events.Publish(todo_item.released,item-123)"},
			published: []domain.Event{domain.ToDoItemReleasedEvent{ToDoItemID: itemID}},
		},
		{
			name:      "approved story",
			item:      &domain.Story{Item: item(domain.StatusApproved)},
			calls:     []string{"events.Publish(story.approved,item-123)"},
			published: []domain.Event{domain.StoryApprovedEvent{StoryID: itemID}},
		},
		{
			name: "approved epic",
			item: &domain.Epic{Item: item(domain.StatusApproved)},
		},
		{
			name:  "approved task",
			item:  &domain.Task{Item: item(domain.StatusApproved), Story: story},
			calls: []string{"stories.AttachPartialApprovalFor(story-246,item-123)"},
		},
		{
			name:      "approved subtask",
			item:      &domain.Task{Item: item(domain.StatusApproved), Subtask: true},
			calls:     []string{"events.Publish(task.approved,item-123)"},
			published: []domain.Event{domain.TaskApprovedEvent{TaskID: itemID}},
		},
		{
			name: "done epic",
			item: &domain.Epic{Item: item(domain.StatusDone)},
		},
		{
			name:      "done story",
			item:      &domain.Story{Item: item(domain.StatusDone)},
			calls:     []string{"events.Publish(story.done,item-123)"},
			published: []domain.Event{domain.StoryDoneEvent{StoryID: itemID}},
		},
		{
			name:  "done task, story not done",
			item:  &domain.Task{Item: item(domain.StatusDone), Story: story},
			calls: []string{"stories.UpdateProgressOf(story-246,item-123)"},
		},
		{
			name:      "done task, story done",
			item:      &domain.Task{Item: item(domain.StatusDone), Story: story},
			storyDone: true,
			calls: []string{
				"stories.UpdateProgressOf(story-246,item-123)",
				"events.Publish(story.done,story-246)",
			},
			published: []domain.Event{domain.StoryDoneEvent{StoryID: storyID}},
		},
		{
			name: "in progress epic",
			item: &domain.Epic{Item: item(domain.StatusInProgress)},
		},
		{
			name: "in progress story",
			item: &domain.Story{Item: item(domain.StatusInProgress)},
		},
		{
			name:  "in progress task",
			item:  &domain.Task{Item: item(domain.StatusInProgress), Story: story},
			calls: []string{"stories.UpdateProgressOf(story-246,item-123)"},
		},
		{
			name: "defined epic",
			item: &domain.Epic{Item: item(domain.StatusDefined), Project: project()},
			calls: []string{
				"projectBacklog.PutOnTop(item-123)",
				"events.Publish(epic.ready_to_prioritize,item-123)",
				"communication.Notify(item-123,po-1)",
			},
			published: []domain.Event{domain.EpicReadyToPrioritize{EpicID: itemID}},
		},
		{
			name:  "defined story without tasks",
			item:  &domain.Story{Item: item(domain.StatusDefined), Project: project()},
			calls: []string{"projectBacklog.MoveToReadyForDevelopment(item-123,proj-1)"},
		},
		{
			name: "defined unassigned story with tasks",
			item: &domain.Story{
				Item:    item(domain.StatusDefined),
				Project: project(),
				Tasks:   []*domain.Task{{Item: domain.Item{ID: "task-1"}}},
			},
			calls: []string{"communication.NotifyTeamsAbout(item-123,proj-1)"},
		},
		{
			name: "defined story with tasks assigned to a person",
			item: &domain.Story{
				Item:       item(domain.StatusDefined),
				Project:    project(),
				AssigneeID: "user-1",
				Tasks:      []*domain.Task{{Item: domain.Item{ID: "task-1"}}},
			},
		},
		{
			name: "defined story with tasks assigned to a team",
			item: &domain.Story{
				Item:    item(domain.StatusDefined),
				Project: project(),
				TeamID:  "team-1",
				Tasks:   []*domain.Task{{Item: domain.Item{ID: "task-1"}}},
			},
		},
		{
			name:  "defined task",
			item:  &domain.Task{Item: item(domain.StatusDefined), CurrentSprint: &domain.Sprint{ID: "sprint-1"}},
			calls: []string{"sprintBacklog.MoveToReadyForDevelopment(item-123,sprint-1)"},
		},
		{
			name:  "defined task outside a sprint",
			item:  &domain.Task{Item: item(domain.StatusDefined)},
			calls: []string{"sprintBacklog.MoveToReadyForDevelopment(item-123,<nil>)"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, r := newProcessor()
			if tc.storyDone {
				r.storyStatus = domain.StatusDone
			}
			if err := p.ProcessFor(context.Background(), tc.item); err != nil {
				t.Fatalf("ProcessFor() err=%v", err)
			}
			if !reflect.DeepEqual(r.calls, tc.calls) {
				t.Fatalf("calls=%q, want %q", r.calls, tc.calls)
			}
			if !reflect.DeepEqual(r.published, tc.published) {
				t.Fatalf("published=%#v, want %#v", r.published, tc.published)
			}
		})
	}
}

func TestProcessForUnsupported(t *testing.T) {
	cases := []struct {
		name string
		item domain.ToDoItem
	}{
		{"defined generic", &domain.Generic{Item: item(domain.StatusDefined)}},
		{"approved generic", &domain.Generic{Item: item(domain.StatusApproved)}},
		{"to be defined generic", &domain.Generic{Item: item(domain.StatusToBeDefined)}},
		{"to be defined epic", &domain.Epic{Item: item(domain.StatusToBeDefined)}},
		{"to be defined story", &domain.Story{Item: item(domain.StatusToBeDefined)}},
		{"to be defined task", &domain.Task{Item: item(domain.StatusToBeDefined)}},
		{"unknown status", &domain.Story{Item: item(domain.Status("ARCHIVED"))}},
		{"nil item", nil},
		{"defined epic without project", &domain.Epic{Item: item(domain.StatusDefined)}},
		{"defined epic without owner", &domain.Epic{Item: item(domain.StatusDefined), Project: &domain.Project{ID: "proj-1"}}},
		{"approved task without story", &domain.Task{Item: item(domain.StatusApproved)}},
		{"done task without story", &domain.Task{Item: item(domain.StatusDone)}},
		{"in progress task without story", &domain.Task{Item: item(domain.StatusInProgress)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, r := newProcessor()
			err := p.ProcessFor(context.Background(), tc.item)
			if !errors.Is(err, processor.ErrUnsupportedToDoItemType) {
				t.Fatalf("ProcessFor() err=%v, want %v", err, processor.ErrUnsupportedToDoItemType)
			}
			if len(r.calls) != 0 {
				t.Fatalf("expected no collaborator calls, got %q", r.calls)
			}
		})
	}
}

func TestProcessForPropagatesCollaboratorErrors(t *testing.T) {
	boom := errors.New("boom")
	story := &domain.Story{Item: domain.Item{ID: storyID}}
	cases := []struct {
		name   string
		item   domain.ToDoItem
		failOn string
		calls  []string
	}{
		{
			name:   "publish fails",
			item:   &domain.Story{Item: item(domain.StatusApproved)},
			failOn: "events.Publish",
			calls:  []string{"events.Publish(story.approved,item-123)"},
		},
		{
			name:   "progress update fails before story done check",
			item:   &domain.Task{Item: item(domain.StatusDone), Story: story},
			failOn: "stories.UpdateProgressOf",
			calls:  []string{"stories.UpdateProgressOf(story-246,item-123)"},
		},
		{
			name:   "backlog fails stops epic fan-out",
			item:   &domain.Epic{Item: item(domain.StatusDefined), Project: project()},
			failOn: "projectBacklog.PutOnTop",
			calls:  []string{"projectBacklog.PutOnTop(item-123)"},
		},
		{
			name:   "notification fails after epic publish",
			item:   &domain.Epic{Item: item(domain.StatusDefined), Project: project()},
			failOn: "communication.Notify",
			calls: []string{
				"projectBacklog.PutOnTop(item-123)",
				"events.Publish(epic.ready_to_prioritize,item-123)",
				"communication.Notify(item-123,po-1)",
			},
		},
		{
			name:   "sprint backlog fails",
			item:   &domain.Task{Item: item(domain.StatusDefined)},
			failOn: "sprintBacklog",
			calls:  []string{"sprintBacklog.MoveToReadyForDevelopment(item-123,<nil>)"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, r := newProcessor()
			r.storyStatus = domain.StatusDone
			r.failOn = tc.failOn
			r.err = boom
			err := p.ProcessFor(context.Background(), tc.item)
			if err != boom {
				t.Fatalf("ProcessFor() err=%v, want the collaborator error unchanged", err)
			}
			if !reflect.DeepEqual(r.calls, tc.calls) {
				t.Fatalf("calls=%q, want %q", r.calls, tc.calls)
			}
		})
	}
}

func TestProcessForDoesNotMutateItem(t *testing.T) {
	p, _ := newProcessor()
	story := &domain.Story{Item: domain.Item{ID: storyID, Status: domain.StatusInProgress}}
	task := &domain.Task{Item: item(domain.StatusDone), Story: story}
	before := *task
	if err := p.ProcessFor(context.Background(), task); err != nil {
		t.Fatalf("ProcessFor() err=%v", err)
	}
	if !reflect.DeepEqual(before, *task) || story.Status != domain.StatusInProgress {
		t.Fatalf("item mutated: before=%+v after=%+v", before, *task)
	}
}
