package domain

import (
	"fmt"
	"time"
)

// Catalog lists the identifiers each setting may take.
type Catalog struct {
	Chat      []ModelSpec `json:"llm" yaml:"llm"`
	Router    []ModelSpec `json:"router_llm" yaml:"router_llm"`
	Embedding []ModelSpec `json:"embedding_model" yaml:"embedding_model"`
}

// Lookup resolves id against the list that backs the given setting.
func (c Catalog) Lookup(setting, id string) (ModelSpec, error) {
	var list []ModelSpec
	switch setting {
	case SettingLLM:
		list = c.Chat
	case SettingRouterLLM:
		list = c.Router
	case SettingEmbeddingModel:
		list = c.Embedding
	default:
		return ModelSpec{}, WrapError(ErrInvalidInput, "catalog lookup", fmt.Errorf("unknown setting %q", setting))
	}
	for _, spec := range list {
		if spec.ID == id {
			return spec, nil
		}
	}
	return ModelSpec{}, WrapError(ErrUnknownModel, "catalog lookup", fmt.Errorf("%s %q is not offered", setting, id))
}

// Validate checks every non-empty setting against the catalog.
func (c Catalog) Validate(s Settings) error {
	if _, err := c.Lookup(SettingLLM, s.LLM); err != nil {
		return err
	}
	if s.RouterLLM != "" {
		if _, err := c.Lookup(SettingRouterLLM, s.RouterLLM); err != nil {
			return err
		}
	}
	if _, err := c.Lookup(SettingEmbeddingModel, s.EmbeddingModel); err != nil {
		return err
	}
	return nil
}

// SessionInfo is the driver-facing view of a session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Settings  Settings  `json:"settings"`
	Greeting  string    `json:"greeting,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SettingsUpdate reports an accepted settings change.
type SettingsUpdate struct {
	Settings Settings `json:"settings"`
	Notice   string   `json:"notice"`
}
