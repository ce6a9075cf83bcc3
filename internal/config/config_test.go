package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("tm")
	if cfg.Project.ID != "tm" {
		t.Fatalf("project id=%q", cfg.Project.ID)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Delivery.Schedule != "@every 2s" || cfg.Delivery.BatchSize != 100 {
		t.Fatalf("unexpected delivery defaults: %+v", cfg.Delivery)
	}
}

func TestFromYAMLRejectsBadWebhook(t *testing.T) {
	raw := GenerateDefault("tm")
	raw = strings.Replace(raw, "webhooks: []", "webhooks:\n  - url: ftp://example.com/hook\n", 1)
	if _, err := FromYAML([]byte(raw)); err == nil {
		t.Fatalf("expected webhook url error")
	}
}

func TestFromYAMLRejectsBadSchedule(t *testing.T) {
	raw := strings.Replace(GenerateDefault("tm"), `"@every 2s"`, `"every now and then"`, 1)
	if _, err := FromYAML([]byte(raw)); err == nil {
		t.Fatalf("expected schedule error")
	}
}

func TestLoadOptionalMissing(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil || cfg != nil {
		t.Fatalf("LoadOptional() = %v, %v; want nil, nil", cfg, err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default("tm")
	cfg.Webhooks = append(cfg.Webhooks, WebhookConfig{URL: "https://example.com/hook", Events: []string{"story.done"}})
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "taskmanager.yml"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Webhooks) != 1 || loaded.Webhooks[0].Events[0] != "story.done" {
		t.Fatalf("webhooks not loaded: %+v", loaded.Webhooks)
	}
}

func TestRenderTemplates(t *testing.T) {
	cfg := Default("tm")
	got := cfg.RenderEpic("Checkout", "Ada Lovelace")
	if got != "Epic 'Checkout' is defined and waits for prioritization, Ada Lovelace." {
		t.Fatalf("RenderEpic() = %q", got)
	}
	got = cfg.RenderStory("Pay by card", "Payments")
	if !strings.Contains(got, "Pay by card") || !strings.Contains(got, "Payments") {
		t.Fatalf("RenderStory() = %q", got)
	}
}
