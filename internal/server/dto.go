package server

import (
	"encoding/json"

	"taskmanager/internal/domain"
	"taskmanager/internal/engine"
	"taskmanager/internal/repo"
)

// Request payloads

type ProductOwnerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type CreateProjectRequest struct {
	ID           string               `json:"id,omitempty"`
	Name         string               `json:"name"`
	Description  string               `json:"description,omitempty"`
	ProductOwner *ProductOwnerRequest `json:"product_owner,omitempty"`
}

type CreateTeamRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type CreateSprintRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	StartDate string `json:"start_date,omitempty" format:"date"`
	EndDate   string `json:"end_date,omitempty" format:"date"`
}

type CreateItemRequest struct {
	ID          string `json:"id,omitempty"`
	Kind        string `json:"kind" enum:"epic,story,task,generic"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	EpicID      string `json:"epic_id,omitempty"`
	StoryID     string `json:"story_id,omitempty"`
	SprintID    string `json:"sprint_id,omitempty"`
	Subtask     bool   `json:"subtask,omitempty"`
}

type ChangeStatusRequest struct {
	Status string `json:"status" enum:"TO_BE_DEFINED,DEFINED,APPROVED,IN_PROGRESS,DONE,RELEASED"`
}

type AssignStoryRequest struct {
	AssigneeID string `json:"assignee_id,omitempty"`
	TeamID     string `json:"team_id,omitempty"`
}

type ScheduleTaskRequest struct {
	SprintID string `json:"sprint_id"`
}

type IssueAPIKeyRequest struct {
	ActorID string `json:"actor_id,omitempty" doc:"Actor the key acts as; defaults to the caller"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Responses

type ItemResponse struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Kind        string `json:"kind" enum:"epic,story,task,generic"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	EpicID      string `json:"epic_id,omitempty"`
	StoryID     string `json:"story_id,omitempty"`
	SprintID    string `json:"sprint_id,omitempty"`
	Subtask     bool   `json:"subtask"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	TeamID      string `json:"team_id,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type StatusChangeResponse struct {
	Item       ItemResponse `json:"item"`
	FromStatus string       `json:"from_status"`
	Outcome    string       `json:"outcome" enum:"processed,unsupported"`
	Detail     string       `json:"detail,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

// IssuedAPIKeyResponse carries the only copy of the secret.
type IssuedAPIKeyResponse struct {
	Key    domain.APIKey `json:"key"`
	Secret string        `json:"secret"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedItems struct {
	Items []ItemResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func itemResponse(it repo.ItemRow) ItemResponse {
	return ItemResponse{
		ID:          it.ID,
		ProjectID:   it.ProjectID,
		Kind:        string(it.Kind),
		Title:       it.Title,
		Description: it.Description,
		Status:      string(it.Status),
		EpicID:      it.EpicID,
		StoryID:     it.StoryID,
		SprintID:    it.SprintID,
		Subtask:     it.Subtask,
		AssigneeID:  it.AssigneeID,
		TeamID:      it.TeamID,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
	}
}

func statusChangeResponse(c engine.StatusChange) StatusChangeResponse {
	return StatusChangeResponse{
		Item:       itemResponse(c.Item),
		FromStatus: string(c.FromStatus),
		Outcome:    c.Outcome,
		Detail:     c.Detail,
	}
}

func eventResponse(e domain.EventRecord) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
