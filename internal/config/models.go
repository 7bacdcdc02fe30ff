package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelConfig describes one configured external model endpoint. Kind
// selects the provider adapter variant; Credential is resolved from the
// environment at load time so the executor never touches ambient state.
type ModelConfig struct {
	Label      string `yaml:"label"`
	Kind       string `yaml:"kind"`
	Provider   string `yaml:"provider"`
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	APIKeyEnv  string `yaml:"apiKeyEnv"`
	MaxTokens  int    `yaml:"maxTokens"`
	TimeoutMs  int    `yaml:"timeoutMs"`
	Credential string `yaml:"-"`
}

type ModelRegistry struct {
	Default string        `yaml:"default"`
	Models  []ModelConfig `yaml:"models"`
}

func LoadModels(path string) (*ModelRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}
	var reg ModelRegistry
	if err := yaml.Unmarshal(raw, &reg); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}
	if len(reg.Models) == 0 {
		return nil, fmt.Errorf("model config %s declares no models", path)
	}
	for i := range reg.Models {
		m := &reg.Models[i]
		if m.Label == "" || m.Endpoint == "" || m.Model == "" {
			return nil, fmt.Errorf("model entry %d missing label, endpoint or model", i)
		}
		if m.TimeoutMs <= 0 {
			m.TimeoutMs = 30000
		}
		if m.APIKeyEnv != "" {
			m.Credential = os.Getenv(m.APIKeyEnv)
		}
	}
	if reg.Default == "" {
		reg.Default = reg.Models[0].Label
	}
	return &reg, nil
}

// Active resolves a model label to its configuration. An empty label
// selects the registry default.
func (r *ModelRegistry) Active(label string) (ModelConfig, error) {
	if label == "" {
		label = r.Default
	}
	for _, m := range r.Models {
		if m.Label == label {
			return m, nil
		}
	}
	return ModelConfig{}, fmt.Errorf("no model configured for label %q", label)
}
