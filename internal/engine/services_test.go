package engine

import (
	"testing"

	"taskmanager/internal/domain"
)

func TestProgressOf(t *testing.T) {
	cases := []struct {
		name    string
		current domain.Status
		tasks   map[string]domain.Status
		want    domain.Status
	}{
		{"no tasks", domain.StatusDefined, nil, domain.StatusDefined},
		{"nothing started", domain.StatusApproved, map[string]domain.Status{"a": domain.StatusDefined, "b": domain.StatusApproved}, domain.StatusApproved},
		{"one started", domain.StatusApproved, map[string]domain.Status{"a": domain.StatusInProgress, "b": domain.StatusDefined}, domain.StatusInProgress},
		{"partly done", domain.StatusInProgress, map[string]domain.Status{"a": domain.StatusDone, "b": domain.StatusDefined}, domain.StatusInProgress},
		{"all done or released", domain.StatusInProgress, map[string]domain.Status{"a": domain.StatusDone, "b": domain.StatusReleased}, domain.StatusDone},
		{"reopened", domain.StatusDone, map[string]domain.Status{"a": domain.StatusDone, "b": domain.StatusInProgress}, domain.StatusInProgress},
		{"released stays", domain.StatusReleased, map[string]domain.Status{"a": domain.StatusInProgress}, domain.StatusReleased},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := progressOf(tc.current, tc.tasks); got != tc.want {
				t.Fatalf("progressOf=%s want %s", got, tc.want)
			}
		})
	}
}

func TestToSnake(t *testing.T) {
	for in, want := range map[string]string{"Title": "title", "StoryID": "story_id", "OwnerEmail": "owner_email", "EndDate": "end_date"} {
		if got := toSnake(in); got != want {
			t.Fatalf("toSnake(%s)=%s want %s", in, got, want)
		}
	}
}
