package domain

// Event is a domain event published when a work item reaches a notable status.
type Event interface {
	Type() string
	EntityKind() string
	EntityID() string
}

type ToDoItemReleasedEvent struct {
	ToDoItemID string `json:"todo_item_id"`
}

func (ToDoItemReleasedEvent) Type() string       { return "todo_item.released" }
func (ToDoItemReleasedEvent) EntityKind() string { return "todo_item" }
func (e ToDoItemReleasedEvent) EntityID() string { return e.ToDoItemID }

type StoryApprovedEvent struct {
	StoryID string `json:"story_id"`
}

func (StoryApprovedEvent) Type() string       { return "story.approved" }
func (StoryApprovedEvent) EntityKind() string { return string(KindStory) }
func (e StoryApprovedEvent) EntityID() string { return e.StoryID }

type TaskApprovedEvent struct {
	TaskID string `json:"task_id"`
}

func (TaskApprovedEvent) Type() string       { return "task.approved" }
func (TaskApprovedEvent) EntityKind() string { return string(KindTask) }
func (e TaskApprovedEvent) EntityID() string { return e.TaskID }

type StoryDoneEvent struct {
	StoryID string `json:"story_id"`
}

func (StoryDoneEvent) Type() string       { return "story.done" }
func (StoryDoneEvent) EntityKind() string { return string(KindStory) }
func (e StoryDoneEvent) EntityID() string { return e.StoryID }

type EpicReadyToPrioritize struct {
	EpicID string `json:"epic_id"`
}

func (EpicReadyToPrioritize) Type() string       { return "epic.ready_to_prioritize" }
func (EpicReadyToPrioritize) EntityKind() string { return string(KindEpic) }
func (e EpicReadyToPrioritize) EntityID() string { return e.EpicID }
