package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models taskmanager.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Notifications struct {
		EpicTemplate  string `yaml:"epic_template"`
		StoryTemplate string `yaml:"story_template"`
	} `yaml:"notifications"`
	Delivery struct {
		Schedule  string `yaml:"schedule"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"delivery"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with tm project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if strings.TrimSpace(c.Notifications.EpicTemplate) == "" {
		return fmt.Errorf("config.notifications.epic_template is required")
	}
	if strings.TrimSpace(c.Notifications.StoryTemplate) == "" {
		return fmt.Errorf("config.notifications.story_template is required")
	}
	if c.Delivery.Schedule != "" {
		if _, err := cron.ParseStandard(c.Delivery.Schedule); err != nil {
			return fmt.Errorf("config.delivery.schedule invalid: %w", err)
		}
	}
	if c.Delivery.BatchSize < 0 {
		return fmt.Errorf("config.delivery.batch_size must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("webhook %d url %q must be http(s)", i, hook.URL)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d timeout_seconds must not be negative", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("webhook %d has empty event type", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskmanager.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML renders the config for storage.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// RenderEpic fills the epic notification template.
func (c *Config) RenderEpic(epicTitle, ownerName string) string {
	return render(c.Notifications.EpicTemplate, map[string]string{"title": epicTitle, "owner": ownerName})
}

// RenderStory fills the story notification template.
func (c *Config) RenderStory(storyTitle, teamName string) string {
	return render(c.Notifications.StoryTemplate, map[string]string{"title": storyTitle, "team": teamName})
}

func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

const defaultTemplate = `project:
  id: %s
  name: %s

notifications:
  epic_template: "Epic '{title}' is defined and waits for prioritization, {owner}."
  story_template: "Story '{title}' is defined and needs a team, {team}."

delivery:
  schedule: "@every 2s"
  batch_size: 100

webhooks: []
`
