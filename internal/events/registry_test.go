package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"taskmanager/internal/db"
	"taskmanager/internal/domain"
	"taskmanager/internal/events"
	"taskmanager/internal/migrate"
	"taskmanager/internal/repo"
)

func TestRegistryPublishAppendsAndNotifies(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	w := events.Writer{DB: conn, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	reg := events.NewRegistry(w)
	var seen []domain.Event
	reg.Subscribe(func(_ context.Context, evt domain.Event) { seen = append(seen, evt) })

	ctx := events.WithScope(context.Background(), events.Scope{ProjectID: "proj-1", ActorID: "alice"})
	if err := reg.Publish(ctx, domain.StoryDoneEvent{StoryID: "story-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(seen) != 1 || seen[0] != (domain.StoryDoneEvent{StoryID: "story-1"}) {
		t.Fatalf("listener saw %#v", seen)
	}

	r := repo.Repo{DB: conn}
	evts, err := r.LatestEvents(ctx, 10, repo.EventFilters{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evts))
	}
	got := evts[0]
	if got.Type != "story.done" || got.EntityKind != "story" || got.EntityID != "story-1" || got.ActorID != "alice" {
		t.Fatalf("unexpected event row: %+v", got)
	}
	if got.TS != "2024-01-01T00:00:00Z" {
		t.Fatalf("ts=%s", got.TS)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(got.Payload), &payload); err != nil || payload["story_id"] != "story-1" {
		t.Fatalf("payload=%s err=%v", got.Payload, err)
	}
}

func TestScopeDefaultsToSystemActor(t *testing.T) {
	s := events.ScopeFrom(context.Background())
	if s.ActorID != "system" || s.ProjectID != "" {
		t.Fatalf("scope=%+v", s)
	}
}

func TestRegistryWithSharesListeners(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	base := events.NewRegistry(events.Writer{DB: conn})
	var seen []string
	base.Subscribe(func(_ context.Context, evt domain.Event) { seen = append(seen, evt.Type()) })

	later := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	bound := base.With(events.Writer{DB: conn, Now: func() time.Time { return later }})
	ctx := events.WithScope(context.Background(), events.Scope{ProjectID: "proj-1"})
	if err := bound.Publish(ctx, domain.TaskApprovedEvent{TaskID: "task-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	base.Subscribe(func(_ context.Context, evt domain.Event) { seen = append(seen, "late:"+evt.Type()) })
	if err := bound.Publish(ctx, domain.StoryApprovedEvent{StoryID: "story-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(seen) != 3 || seen[0] != "task.approved" || seen[2] != "late:story.approved" {
		t.Fatalf("listeners saw %v", seen)
	}

	evts, err := repo.Repo{DB: conn}.LatestEvents(ctx, 10, repo.EventFilters{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	for _, evt := range evts {
		if evt.TS != "2030-06-01T12:00:00Z" || evt.ActorID != "system" {
			t.Fatalf("event not written through the bound writer: %+v", evt)
		}
	}
}
