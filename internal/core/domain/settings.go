package domain

import (
	"fmt"
	"sort"
	"strings"
)

const (
	SettingLLM            = "llm"
	SettingRouterLLM      = "router_llm"
	SettingEmbeddingModel = "embedding_model"
)

type ModelKind string

const (
	ModelKindChat      ModelKind = "chat"
	ModelKindEmbedding ModelKind = "embedding"
)

// ModelSpec describes one selectable model identifier.
type ModelSpec struct {
	ID       string    `json:"id" yaml:"id"`
	Provider string    `json:"provider" yaml:"provider"`
	Name     string    `json:"name" yaml:"name"`
	Kind     ModelKind `json:"kind" yaml:"kind"`
}

// Settings are the per-session model choices.
type Settings struct {
	LLM            string `json:"llm"`
	RouterLLM      string `json:"router_llm"`
	EmbeddingModel string `json:"embedding_model"`
}

// Apply returns a copy of s with updates applied. Unknown keys and blank
// values are rejected.
func (s Settings) Apply(updates map[string]string) (Settings, error) {
	if len(updates) == 0 {
		return s, WrapError(ErrInvalidInput, "apply settings", fmt.Errorf("no settings given"))
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := s
	for _, key := range keys {
		value := strings.TrimSpace(updates[key])
		if value == "" {
			return s, WrapError(ErrInvalidInput, "apply settings", fmt.Errorf("%s must not be empty", key))
		}
		switch key {
		case SettingLLM:
			out.LLM = value
		case SettingRouterLLM:
			out.RouterLLM = value
		case SettingEmbeddingModel:
			out.EmbeddingModel = value
		default:
			return s, WrapError(ErrInvalidInput, "apply settings", fmt.Errorf("unknown setting %q", key))
		}
	}
	return out, nil
}

// EffectiveRouterLLM falls back to the generation model when no router model is set.
func (s Settings) EffectiveRouterLLM() string {
	if strings.TrimSpace(s.RouterLLM) != "" {
		return s.RouterLLM
	}
	return s.LLM
}
