package engine_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"taskmanager/internal/config"
	"taskmanager/internal/db"
	"taskmanager/internal/domain"
	"taskmanager/internal/engine"
	"taskmanager/internal/metrics"
	"taskmanager/internal/migrate"
	"taskmanager/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Team   domain.Team
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	eng := engine.New(conn, config.Default("proj-1"), log)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{
		ID:             "proj-1",
		Name:           "Checkout",
		OwnerFirstName: "Ada",
		OwnerLastName:  "Lovelace",
		OwnerEmail:     "ada@example.com",
		ActorID:        "tester",
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	team, err := eng.CreateTeam(ctx, engine.TeamCreateOptions{ProjectID: "proj-1", Name: "Payments", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Team: team}
}

func (env testEnv) item(t *testing.T, opts engine.ItemCreateOptions) repo.ItemRow {
	t.Helper()
	if opts.ProjectID == "" {
		opts.ProjectID = "proj-1"
	}
	opts.ActorID = "tester"
	it, err := env.Engine.CreateItem(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create %s %q: %v", opts.Kind, opts.Title, err)
	}
	return it
}

func (env testEnv) change(t *testing.T, id string, status domain.Status) engine.StatusChange {
	t.Helper()
	res, err := env.Engine.ChangeStatus(env.Ctx, id, status, "tester")
	if err != nil {
		t.Fatalf("change %s to %s: %v", id, status, err)
	}
	return res
}

func (env testEnv) countEvents(t *testing.T, evtType, entityID string) int {
	t.Helper()
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 1000, repo.EventFilters{Type: evtType, EntityID: entityID})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	return len(evts)
}

func TestDefinedEpicGoesOnTopAndNotifiesOwner(t *testing.T) {
	env := newTestEnv(t)
	first := env.item(t, engine.ItemCreateOptions{Kind: domain.KindEpic, Title: "Wallets"})
	second := env.item(t, engine.ItemCreateOptions{Kind: domain.KindEpic, Title: "Refunds"})

	for _, id := range []string{first.ID, second.ID} {
		res := env.change(t, id, domain.StatusDefined)
		if res.Outcome != metrics.OutcomeProcessed || res.Item.Status != domain.StatusDefined {
			t.Fatalf("unexpected change result: %+v", res)
		}
	}

	lane, err := env.Engine.Backlog(env.Ctx, "proj-1", "", "")
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(lane) != 2 || lane[0].ItemID != second.ID || lane[1].ItemID != first.ID {
		t.Fatalf("expected latest epic on top, got %+v", lane)
	}
	if env.countEvents(t, "epic.ready_to_prioritize", second.ID) != 1 {
		t.Fatalf("expected ready-to-prioritize event")
	}
	notes, err := env.Engine.Notifications(env.Ctx, repo.NotificationFilters{ProjectID: "proj-1", ItemID: second.ID})
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notes) != 1 || notes[0].RecipientKind != "product_owner" {
		t.Fatalf("expected one owner notification, got %+v", notes)
	}
	want := "Epic 'Refunds' is defined and waits for prioritization, Ada Lovelace."
	if notes[0].Message != want {
		t.Fatalf("message=%q want %q", notes[0].Message, want)
	}
}

func TestEpicWithoutOwnerIsUnsupported(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{ID: "proj-2", Name: "Orphan"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	epic := env.item(t, engine.ItemCreateOptions{ProjectID: "proj-2", Kind: domain.KindEpic, Title: "Nobody's"})
	res := env.change(t, epic.ID, domain.StatusDefined)
	if res.Outcome != metrics.OutcomeUnsupported || res.Detail == "" {
		t.Fatalf("expected unsupported outcome, got %+v", res)
	}
	if res.Item.Status != domain.StatusDefined {
		t.Fatalf("status should still be persisted, got %s", res.Item.Status)
	}
	lane, _ := env.Engine.Backlog(env.Ctx, "proj-2", "", domain.LaneProject)
	if len(lane) != 0 {
		t.Fatalf("unsupported dispatch must not touch the backlog: %+v", lane)
	}
}

func TestDefinedStoryWithoutTasksIsReadyForDevelopment(t *testing.T) {
	env := newTestEnv(t)
	story := env.item(t, engine.ItemCreateOptions{Kind: domain.KindStory, Title: "Pay by card"})
	env.change(t, story.ID, domain.StatusDefined)

	ready, err := env.Engine.Backlog(env.Ctx, "proj-1", "", domain.LaneReady)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(ready) != 1 || ready[0].ItemID != story.ID || ready[0].ItemKind != domain.KindStory {
		t.Fatalf("expected story in ready lane, got %+v", ready)
	}
}

func TestDefinedUnassignedStoryNotifiesTeams(t *testing.T) {
	env := newTestEnv(t)
	story := env.item(t, engine.ItemCreateOptions{Kind: domain.KindStory, Title: "Pay by card"})
	env.item(t, engine.ItemCreateOptions{Kind: domain.KindTask, Title: "Card form", StoryID: story.ID})
	env.change(t, story.ID, domain.StatusDefined)

	notes, err := env.Engine.Notifications(env.Ctx, repo.NotificationFilters{ProjectID: "proj-1", RecipientID: env.Team.ID})
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notes) != 1 || notes[0].ItemID != story.ID {
		t.Fatalf("expected a team notification, got %+v", notes)
	}
	if notes[0].Message != "Story 'Pay by card' is defined and needs a team, Payments." {
		t.Fatalf("message=%q", notes[0].Message)
	}

	if _, err := env.Engine.AssignStory(env.Ctx, story.ID, "", env.Team.ID, "tester"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	env.change(t, story.ID, domain.StatusDefined)
	notes, _ = env.Engine.Notifications(env.Ctx, repo.NotificationFilters{ProjectID: "proj-1", ItemID: story.ID})
	if len(notes) != 1 {
		t.Fatalf("assigned story must not notify again, got %d notifications", len(notes))
	}
}

func TestTaskProgressDrivesStory(t *testing.T) {
	env := newTestEnv(t)
	story := env.item(t, engine.ItemCreateOptions{Kind: domain.KindStory, Title: "Pay by card"})
	a := env.item(t, engine.ItemCreateOptions{Kind: domain.KindTask, Title: "Card form", StoryID: story.ID})
	b := env.item(t, engine.ItemCreateOptions{Kind: domain.KindTask, Title: "Card API", StoryID: story.ID})

	env.change(t, a.ID, domain.StatusInProgress)
	if got, _ := env.Engine.GetItem(env.Ctx, story.ID); got.Status != domain.StatusInProgress {
		t.Fatalf("story should be in progress, got %s", got.Status)
	}
	env.change(t, a.ID, domain.StatusDone)
	if got, _ := env.Engine.GetItem(env.Ctx, story.ID); got.Status != domain.StatusInProgress {
		t.Fatalf("story should stay in progress, got %s", got.Status)
	}
	if env.countEvents(t, "story.done", story.ID) != 0 {
		t.Fatalf("story.done published too early")
	}
	env.change(t, b.ID, domain.StatusDone)
	if got, _ := env.Engine.GetItem(env.Ctx, story.ID); got.Status != domain.StatusDone {
		t.Fatalf("story should be done, got %s", got.Status)
	}
	if env.countEvents(t, "story.done", story.ID) != 1 {
		t.Fatalf("expected one story.done event")
	}
}

func TestDefinedTaskNeedsSprint(t *testing.T) {
	env := newTestEnv(t)
	story := env.item(t, engine.ItemCreateOptions{Kind: domain.KindStory, Title: "Pay by card"})
	task := env.item(t, engine.ItemCreateOptions{Kind: domain.KindTask, Title: "Card form", StoryID: story.ID})

	_, err := env.Engine.ChangeStatus(env.Ctx, task.ID, domain.StatusDefined, "tester")
	if !errors.Is(err, engine.ErrNoSprint) {
		t.Fatalf("expected ErrNoSprint, got %v", err)
	}

	sprint, err := env.Engine.CreateSprint(env.Ctx, engine.SprintCreateOptions{ProjectID: "proj-1", Name: "S1", StartDate: "2024-01-01", EndDate: "2024-01-14"})
	if err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	if _, err := env.Engine.ScheduleTask(env.Ctx, task.ID, sprint.ID, "tester"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	env.change(t, task.ID, domain.StatusDefined)
	ready, err := env.Engine.Backlog(env.Ctx, "proj-1", sprint.ID, "")
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(ready) != 1 || ready[0].ItemID != task.ID {
		t.Fatalf("expected task in sprint lane, got %+v", ready)
	}
}

func TestApprovedTasks(t *testing.T) {
	env := newTestEnv(t)
	story := env.item(t, engine.ItemCreateOptions{Kind: domain.KindStory, Title: "Pay by card"})
	task := env.item(t, engine.ItemCreateOptions{Kind: domain.KindTask, Title: "Card form", StoryID: story.ID})
	sub := env.item(t, engine.ItemCreateOptions{Kind: domain.KindTask, Title: "Validate CVC", StoryID: story.ID, Subtask: true})

	env.change(t, task.ID, domain.StatusApproved)
	if env.countEvents(t, "story.partially_approved", story.ID) != 1 {
		t.Fatalf("expected partial approval on story")
	}
	if env.countEvents(t, "task.approved", task.ID) != 0 {
		t.Fatalf("plain task must not publish task.approved")
	}

	env.change(t, sub.ID, domain.StatusApproved)
	if env.countEvents(t, "task.approved", sub.ID) != 1 {
		t.Fatalf("expected task.approved for subtask")
	}
	if env.countEvents(t, "story.partially_approved", story.ID) != 1 {
		t.Fatalf("subtask approval must not attach to story")
	}
}

func TestReleasedItemsPublishEvent(t *testing.T) {
	env := newTestEnv(t)
	generic := env.item(t, engine.ItemCreateOptions{Kind: domain.KindGeneric, Title: "Chore"})
	res := env.change(t, generic.ID, domain.StatusReleased)
	if res.Outcome != metrics.OutcomeProcessed {
		t.Fatalf("released generic should be processed: %+v", res)
	}
	if env.countEvents(t, "todo_item.released", generic.ID) != 1 {
		t.Fatalf("expected released event")
	}
	res = env.change(t, generic.ID, domain.StatusDone)
	if res.Outcome != metrics.OutcomeUnsupported {
		t.Fatalf("generic in DONE should be unsupported: %+v", res)
	}
}

func TestChangeStatusRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv(t)
	epic := env.item(t, engine.ItemCreateOptions{Kind: domain.KindEpic, Title: "Wallets"})
	_, err := env.Engine.ChangeStatus(env.Ctx, epic.ID, domain.Status("BLOCKED"), "tester")
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "status" {
		t.Fatalf("expected status validation error, got %v", err)
	}
	if _, err := env.Engine.ChangeStatus(env.Ctx, "missing", domain.StatusDone, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateItemValidation(t *testing.T) {
	env := newTestEnv(t)
	epic := env.item(t, engine.ItemCreateOptions{Kind: domain.KindEpic, Title: "Wallets"})
	cases := []struct {
		name  string
		opts  engine.ItemCreateOptions
		field string
	}{
		{"missing title", engine.ItemCreateOptions{ProjectID: "proj-1", Kind: domain.KindTask}, "title"},
		{"unknown kind", engine.ItemCreateOptions{ProjectID: "proj-1", Kind: "bug", Title: "x"}, "kind"},
		{"story id on epic", engine.ItemCreateOptions{ProjectID: "proj-1", Kind: domain.KindEpic, Title: "x", StoryID: "s"}, "story_id"},
		{"task under an epic", engine.ItemCreateOptions{ProjectID: "proj-1", Kind: domain.KindTask, Title: "x", StoryID: epic.ID}, "story_id"},
		{"subtask story", engine.ItemCreateOptions{ProjectID: "proj-1", Kind: domain.KindStory, Title: "x", Subtask: true}, "subtask"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreateItem(env.Ctx, tc.opts)
			var verr engine.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("field=%s want %s (%v)", verr.Field, tc.field, err)
			}
		})
	}
	if _, err := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{ProjectID: "nope", Kind: domain.KindEpic, Title: "x"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected missing project, got %v", err)
	}
}

func TestCreateSprintRejectsInvertedDates(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateSprint(env.Ctx, engine.SprintCreateOptions{ProjectID: "proj-1", Name: "S1", StartDate: "2024-02-01", EndDate: "2024-01-01"})
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "end_date" {
		t.Fatalf("expected end_date error, got %v", err)
	}
}

func TestConcurrentStatusChangesOnDifferentItems(t *testing.T) {
	env := newTestEnv(t)
	const n = 16
	ids := make([]string, n)
	for i := range ids {
		ids[i] = env.item(t, engine.ItemCreateOptions{Kind: domain.KindEpic, Title: "Epic"}).ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := env.Engine.ChangeStatus(env.Ctx, id, domain.StatusDefined, "tester"); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent change failed: %v", err)
	}

	lane, err := env.Engine.Backlog(env.Ctx, "proj-1", "", "")
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(lane) != n {
		t.Fatalf("backlog has %d entries, want %d", len(lane), n)
	}
	seen := map[int]bool{}
	for _, entry := range lane {
		seen[entry.Position] = true
	}
	if len(seen) != n {
		t.Fatalf("lane positions collide: %+v", lane)
	}
	notes, err := env.Engine.Notifications(env.Ctx, repo.NotificationFilters{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notes) != n {
		t.Fatalf("notifications=%d want %d", len(notes), n)
	}
}

func TestScheduleTaskMovesBetweenSprints(t *testing.T) {
	env := newTestEnv(t)
	story := env.item(t, engine.ItemCreateOptions{Kind: domain.KindStory, Title: "Pay by card"})
	s1, err := env.Engine.CreateSprint(env.Ctx, engine.SprintCreateOptions{ProjectID: "proj-1", Name: "S1"})
	if err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	s2, err := env.Engine.CreateSprint(env.Ctx, engine.SprintCreateOptions{ProjectID: "proj-1", Name: "S2"})
	if err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	task := env.item(t, engine.ItemCreateOptions{Kind: domain.KindTask, Title: "Card form", StoryID: story.ID, SprintID: s1.ID})
	env.change(t, task.ID, domain.StatusDefined)
	lane := func(sprintID string) []domain.BacklogEntry {
		t.Helper()
		entries, err := env.Engine.Backlog(env.Ctx, "proj-1", sprintID, "")
		if err != nil {
			t.Fatalf("backlog %s: %v", sprintID, err)
		}
		return entries
	}
	if got := lane(s1.ID); len(got) != 1 || got[0].ItemID != task.ID {
		t.Fatalf("expected task ready in S1, got %+v", got)
	}

	moved, err := env.Engine.ScheduleTask(env.Ctx, task.ID, s2.ID, "tester")
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved.SprintID != s2.ID {
		t.Fatalf("sprint=%s want %s", moved.SprintID, s2.ID)
	}
	if got := lane(s1.ID); len(got) != 0 {
		t.Fatalf("task must leave the old sprint lane, got %+v", got)
	}
	env.change(t, task.ID, domain.StatusDefined)
	if got := lane(s2.ID); len(got) != 1 || got[0].ItemID != task.ID {
		t.Fatalf("expected task ready in S2, got %+v", got)
	}

	unscheduled, err := env.Engine.ScheduleTask(env.Ctx, task.ID, "", "tester")
	if err != nil {
		t.Fatalf("unschedule: %v", err)
	}
	if unscheduled.SprintID != "" {
		t.Fatalf("sprint should be cleared, got %q", unscheduled.SprintID)
	}
	if stored, _ := env.Engine.GetItem(env.Ctx, task.ID); stored.SprintID != "" {
		t.Fatalf("stored sprint=%q", stored.SprintID)
	}
	if got := lane(s2.ID); len(got) != 0 {
		t.Fatalf("unscheduled task must leave the sprint lane, got %+v", got)
	}
	if _, err := env.Engine.ChangeStatus(env.Ctx, task.ID, domain.StatusDefined, "tester"); !errors.Is(err, engine.ErrNoSprint) {
		t.Fatalf("expected ErrNoSprint after unscheduling, got %v", err)
	}
	if env.countEvents(t, "task.scheduled", task.ID) != 2 {
		t.Fatalf("expected two task.scheduled events")
	}
}

func TestSubtasksDoNotHoldBackStory(t *testing.T) {
	env := newTestEnv(t)
	story := env.item(t, engine.ItemCreateOptions{Kind: domain.KindStory, Title: "Pay by card"})
	task := env.item(t, engine.ItemCreateOptions{Kind: domain.KindTask, Title: "Card form", StoryID: story.ID})
	sub := env.item(t, engine.ItemCreateOptions{Kind: domain.KindTask, Title: "Polish copy", StoryID: story.ID, Subtask: true})

	env.change(t, sub.ID, domain.StatusInProgress)
	if got, _ := env.Engine.GetItem(env.Ctx, story.ID); got.Status != domain.StatusToBeDefined {
		t.Fatalf("a subtask must not start the story, got %s", got.Status)
	}
	env.change(t, task.ID, domain.StatusDone)
	if got, _ := env.Engine.GetItem(env.Ctx, story.ID); got.Status != domain.StatusDone {
		t.Fatalf("story should be done with its subtask still open, got %s", got.Status)
	}
	if env.countEvents(t, "story.done", story.ID) != 1 {
		t.Fatalf("expected one story.done event")
	}
}

func TestEventLogUsesEngineClock(t *testing.T) {
	env := newTestEnv(t)
	epic := env.item(t, engine.ItemCreateOptions{Kind: domain.KindEpic, Title: "Wallets"})
	env.change(t, epic.ID, domain.StatusDefined)
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 100, repo.EventFilters{EntityID: epic.ID})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	types := map[string]bool{}
	for _, evt := range evts {
		types[evt.Type] = true
		if evt.TS != "2024-01-01T00:00:00Z" {
			t.Fatalf("%s written at %s, not the engine clock", evt.Type, evt.TS)
		}
	}
	for _, want := range []string{"item.created", "item.status_changed", "epic.ready_to_prioritize"} {
		if !types[want] {
			t.Fatalf("missing %s in %v", want, types)
		}
	}
}

func TestPublishedEventsAreCounted(t *testing.T) {
	env := newTestEnv(t)
	counter := metrics.EventsPublishedTotal.WithLabelValues("todo_item.released")
	before := testutil.ToFloat64(counter)
	generic := env.item(t, engine.ItemCreateOptions{Kind: domain.KindGeneric, Title: "Chore"})
	env.change(t, generic.ID, domain.StatusReleased)
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Fatalf("published counter moved by %v, want 1", got)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.Engine.IssueAPIKey(env.Ctx, engine.APIKeyIssueOptions{ProjectID: "nope", ActorID: "ci-bot"}); err == nil {
		t.Fatalf("expected error for unknown project")
	} else {
		var verr engine.ValidationError
		if !errors.As(err, &verr) || verr.Field != "project_id" {
			t.Fatalf("expected project_id validation error, got %v", err)
		}
	}
	if _, _, err := env.Engine.IssueAPIKey(env.Ctx, engine.APIKeyIssueOptions{ProjectID: "proj-1"}); err == nil {
		t.Fatalf("expected error for missing actor")
	}

	scoped, secret, err := env.Engine.IssueAPIKey(env.Ctx, engine.APIKeyIssueOptions{ProjectID: "proj-1", ActorID: "ci-bot", Name: "ci", IssuedBy: "tester"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if secret == "" || scoped.KeyHash != repo.HashAPIKey(secret) || scoped.KeyHash == secret {
		t.Fatalf("secret must be stored hashed: %+v", scoped)
	}
	if _, _, err := env.Engine.IssueAPIKey(env.Ctx, engine.APIKeyIssueOptions{ActorID: "admin"}); err != nil {
		t.Fatalf("issue unscoped: %v", err)
	}

	got, err := env.Engine.AuthenticateAPIKey(env.Ctx, secret)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != scoped.ID || got.ProjectID != "proj-1" || got.LastUsedAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected key %+v", got)
	}
	if !got.Reaches("proj-1") || got.Reaches("proj-2") {
		t.Fatalf("scoped key reach is wrong")
	}
	if _, err := env.Engine.AuthenticateAPIKey(env.Ctx, "tmk_wrong"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown secret, got %v", err)
	}

	keys, err := env.Engine.ListAPIKeys(env.Ctx, repo.APIKeyFilters{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("project listing should include unscoped keys, got %+v", keys)
	}

	if err := env.Engine.RevokeAPIKey(env.Ctx, scoped.ID, "tester"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.Engine.AuthenticateAPIKey(env.Ctx, secret); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("revoked key still authenticates: %v", err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, scoped.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound revoking twice, got %v", err)
	}
	if env.countEvents(t, "api_key.revoked", scoped.ID) != 1 || env.countEvents(t, "api_key.issued", scoped.ID) != 1 {
		t.Fatalf("expected issue and revoke events")
	}
}
