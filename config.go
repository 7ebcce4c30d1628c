package components

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// TaskProcessorConfig describes one named worker pool built by the Manager.
type TaskProcessorConfig struct {
	Workers int `koanf:"workers"`
}

// ComponentConfig declares one component to load plus the options subtree
// delivered to it through Manager.ComponentOptions.
type ComponentConfig struct {
	Name    string         `koanf:"name"`
	Options map[string]any `koanf:"options"`
}

// Config is the service configuration consumed by the Manager.
type Config struct {
	LogLevel       string                         `koanf:"log_level"`
	ProgressPeriod time.Duration                  `koanf:"progress_period"`
	TaskProcessors map[string]TaskProcessorConfig `koanf:"task_processors"`
	Components     []ComponentConfig              `koanf:"components"`
}

// DefaultConfig returns a configuration with a single main task processor
// and no components.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:       "info",
		ProgressPeriod: defaultProgressPeriod,
		TaskProcessors: map[string]TaskProcessorConfig{
			"main": {Workers: 4},
		},
	}
}

// LoadConfig reads a Config from a YAML file, applying defaults for omitted
// fields.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	config := DefaultConfig()
	if err := k.Unmarshal("", config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.ProgressPeriod <= 0 {
		return fmt.Errorf("progress_period must be positive, got %s", c.ProgressPeriod)
	}
	for name, processor := range c.TaskProcessors {
		if name == "" {
			return fmt.Errorf("task processor name must not be empty")
		}
		if processor.Workers < 1 {
			return fmt.Errorf("task processor %q: workers must be at least 1, got %d", name, processor.Workers)
		}
	}
	seen := make(map[string]struct{}, len(c.Components))
	for _, component := range c.Components {
		if component.Name == "" {
			return fmt.Errorf("component name must not be empty")
		}
		if _, ok := seen[component.Name]; ok {
			return fmt.Errorf("component %q is declared more than once", component.Name)
		}
		seen[component.Name] = struct{}{}
	}
	return nil
}

// ComponentNames returns the declared component names in declaration order.
func (c *Config) ComponentNames() []string {
	names := make([]string, 0, len(c.Components))
	for _, component := range c.Components {
		names = append(names, component.Name)
	}
	return names
}
