package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"taskmanager/internal/config"
	"taskmanager/internal/db"
	"taskmanager/internal/domain"
	"taskmanager/internal/engine"
	"taskmanager/internal/migrate"
	"taskmanager/internal/repo"
)

func TestWebhookDeliversFilteredEvents(t *testing.T) {
	var mu sync.Mutex
	var got []webhookEvent
	var headers []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt)
		headers = append(headers, r.Header.Get("X-Taskmanager-Secret"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := config.Default("proj-1")
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"todo_item.released"}, Secret: "shh"}}
	e := engine.New(conn, cfg, log)
	ctx := context.Background()
	if _, err := e.CreateProject(ctx, engine.ProjectCreateOptions{ID: "proj-1", Name: "Checkout"}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	d := newWebhookDispatcher(e.Repo, cfg, log)
	d.dispatchAll(ctx) // pins the cursor at the current head

	item, err := e.CreateItem(ctx, engine.ItemCreateOptions{ProjectID: "proj-1", Kind: domain.KindGeneric, Title: "Chore"})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := e.ChangeStatus(ctx, item.ID, domain.StatusReleased, "alice"); err != nil {
		t.Fatalf("release: %v", err)
	}
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery, got %d: %+v", len(got), got)
	}
	if got[0].Type != "todo_item.released" || got[0].EntityID != item.ID || got[0].ActorID != "alice" {
		t.Fatalf("unexpected delivery %+v", got[0])
	}
	if headers[0] != "shh" {
		t.Fatalf("secret header=%q", headers[0])
	}
}

func TestStartWebhookDispatcherWithoutHooks(t *testing.T) {
	stop, err := StartWebhookDispatcher(repo.Repo{}, config.Default("proj-1"), nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	stop()
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter([]string{" ", ""})
	if !all.match("anything") {
		t.Fatalf("blank filter should match all")
	}
	some := newEventFilter([]string{"story.done"})
	if !some.match("story.done") || some.match("story.approved") {
		t.Fatalf("filter mismatch")
	}
}
