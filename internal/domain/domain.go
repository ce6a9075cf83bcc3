package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle status shared by every work item.
type Status string

const (
	StatusToBeDefined Status = "TO_BE_DEFINED"
	StatusDefined     Status = "DEFINED"
	StatusApproved    Status = "APPROVED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusDone        Status = "DONE"
	StatusReleased    Status = "RELEASED"
)

var statuses = []Status{StatusToBeDefined, StatusDefined, StatusApproved, StatusInProgress, StatusDone, StatusReleased}

// Statuses lists all statuses in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	for _, s := range statuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("invalid status %q", raw)
}

// Kind discriminates the work item variants in storage and on the wire.
type Kind string

const (
	KindEpic    Kind = "epic"
	KindStory   Kind = "story"
	KindTask    Kind = "task"
	KindGeneric Kind = "generic"
)

// ParseKind validates a raw kind value.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindEpic, KindStory, KindTask, KindGeneric:
		return Kind(raw), nil
	}
	return "", fmt.Errorf("invalid kind %q", raw)
}

type ProductOwner struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

func (p ProductOwner) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type Project struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Status       string        `json:"status"`
	Description  string        `json:"description,omitempty"`
	ProductOwner *ProductOwner `json:"product_owner,omitempty"`
	CreatedAt    string        `json:"created_at" format:"date-time"`
}

type Team struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Sprint struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	StartDate string `json:"start_date,omitempty" format:"date"`
	EndDate   string `json:"end_date,omitempty" format:"date"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Item holds the fields every work item variant carries.
type Item struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// Base returns the shared item fields.
func (i *Item) Base() *Item { return i }

func (i *Item) toDoItem() {}

// ToDoItem is the closed set of schedulable work items: *Epic, *Story, *Task and *Generic.
type ToDoItem interface {
	Base() *Item
	toDoItem()
}

type Epic struct {
	Item
	Project *Project `json:"-"`
}

type Story struct {
	Item
	EpicID     string   `json:"epic_id,omitempty"`
	AssigneeID string   `json:"assignee_id,omitempty"`
	TeamID     string   `json:"team_id,omitempty"`
	Project    *Project `json:"-"`
	Tasks      []*Task  `json:"-"`
}

// IsAssigned reports whether a person or a team has taken the story.
func (s *Story) IsAssigned() bool {
	return s.AssigneeID != "" || s.TeamID != ""
}

type Task struct {
	Item
	Subtask       bool    `json:"subtask"`
	Story         *Story  `json:"-"`
	CurrentSprint *Sprint `json:"-"`
}

// Generic is a work item with no variant-specific behaviour.
type Generic struct {
	Item
}

// KindOf returns the storage discriminator for an item.
func KindOf(item ToDoItem) Kind {
	switch item.(type) {
	case *Epic:
		return KindEpic
	case *Story:
		return KindStory
	case *Task:
		return KindTask
	default:
		return KindGeneric
	}
}

// EventRecord is a row of the persisted event log.
type EventRecord struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// BacklogEntry positions a work item in a project or sprint backlog lane.
type BacklogEntry struct {
	ProjectID string `json:"project_id"`
	SprintID  string `json:"sprint_id,omitempty"`
	Lane      string `json:"lane" enum:"project,ready"`
	ItemID    string `json:"item_id"`
	ItemKind  Kind   `json:"item_kind"`
	Title     string `json:"title"`
	Position  int    `json:"position"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

const (
	LaneProject = "project"
	LaneReady   = "ready"
)

// Notification is a message recorded for a product owner or a team.
type Notification struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id"`
	RecipientKind string `json:"recipient_kind" enum:"product_owner,team"`
	RecipientID   string `json:"recipient_id"`
	ItemID        string `json:"item_id"`
	Message       string `json:"message"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// APIKey is a credential acting as ActorID. A key with a ProjectID only reaches that
// project; an empty ProjectID reaches every project.
type APIKey struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"-"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	LastUsedAt string `json:"last_used_at,omitempty" format:"date-time"`
}

// Reaches reports whether the key may act on projectID.
func (k APIKey) Reaches(projectID string) bool {
	return k.ProjectID == "" || k.ProjectID == projectID
}
