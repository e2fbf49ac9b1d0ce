package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"taskline/internal/domain"
)

// Config models taskline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Defaults struct {
		TaskType string `yaml:"task_type"`
		Priority string `yaml:"priority"`
	} `yaml:"defaults"`
	Activity struct {
		PageSize int `yaml:"page_size"`
	} `yaml:"activity"`
	Auth struct {
		AllowActorHeaders bool `yaml:"allow_actor_headers"`
	} `yaml:"auth"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run tl project create or copy a taskline.yml", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Defaults.TaskType != "" && !domain.TaskType(c.Defaults.TaskType).Valid() {
		return fmt.Errorf("config.defaults.task_type %q is not a task type", c.Defaults.TaskType)
	}
	if c.Defaults.Priority != "" && !domain.Priority(c.Defaults.Priority).Valid() {
		return fmt.Errorf("config.defaults.priority %q is not a priority", c.Defaults.Priority)
	}
	if c.Activity.PageSize < 0 {
		return fmt.Errorf("config.activity.page_size must not be negative")
	}
	return nil
}

// DefaultTaskType returns the configured default task type.
func (c *Config) DefaultTaskType() domain.TaskType {
	if c != nil && c.Defaults.TaskType != "" {
		return domain.TaskType(c.Defaults.TaskType)
	}
	return domain.TypeFeature
}

// DefaultPriority returns the configured default priority.
func (c *Config) DefaultPriority() domain.Priority {
	if c != nil && c.Defaults.Priority != "" {
		return domain.Priority(c.Defaults.Priority)
	}
	return domain.PriorityMedium
}

// ActivityPageSize returns the configured feed page size.
func (c *Config) ActivityPageSize() int {
	if c != nil && c.Activity.PageSize > 0 {
		return c.Activity.PageSize
	}
	return 50
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
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

const defaultTemplate = `project:
  id: %s
  name: %s

defaults:
  task_type: feature
  priority: medium

activity:
  page_size: 50

auth:
  allow_actor_headers: true
`
