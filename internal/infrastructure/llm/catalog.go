package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/corpus-router/internal/core/domain"
)

const (
	ProviderOllama  = "ollama"
	ProviderOpenAI  = "openai"
	ProviderHashing = "hashing"
)

// BuiltinCatalog offers the hosted models behind the OpenAI-compatible
// gateway plus local ollama and hashing fallbacks.
func BuiltinCatalog() domain.Catalog {
	chat := func(id, provider string) domain.ModelSpec {
		return domain.ModelSpec{ID: id, Provider: provider, Name: id, Kind: domain.ModelKindChat}
	}
	embed := func(id, provider string) domain.ModelSpec {
		return domain.ModelSpec{ID: id, Provider: provider, Name: id, Kind: domain.ModelKindEmbedding}
	}
	return domain.Catalog{
		Chat: []domain.ModelSpec{
			chat("Cohere-command-r-plus-08-2024", ProviderOpenAI),
			chat("Phi-3.5-mini-instruct", ProviderOpenAI),
			chat("Mistral-large-2407", ProviderOpenAI),
			chat("Mistral-small", ProviderOpenAI),
			chat("llama3.1:8b", ProviderOllama),
		},
		Router: []domain.ModelSpec{
			chat("gpt-4o-mini", ProviderOpenAI),
			chat("Mistral-small", ProviderOpenAI),
			chat("Phi-3.5-mini-instruct", ProviderOpenAI),
			chat("llama3.1:8b", ProviderOllama),
		},
		Embedding: []domain.ModelSpec{
			embed("Cohere-embed-v3-multilingual", ProviderOpenAI),
			embed("Cohere-embed-v3-english", ProviderOpenAI),
			embed("text-embedding-3-large", ProviderOpenAI),
			embed("nomic-embed-text", ProviderOllama),
			embed("hashing", ProviderHashing),
		},
	}
}

// LoadCatalog reads a YAML catalog from path, or returns the builtin one when path is empty.
func LoadCatalog(path string) (domain.Catalog, error) {
	if path == "" {
		return BuiltinCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("read model catalog: %w", err)
	}
	var catalog domain.Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return domain.Catalog{}, fmt.Errorf("parse model catalog: %w", err)
	}
	if err := normalizeCatalog(&catalog); err != nil {
		return domain.Catalog{}, err
	}
	return catalog, nil
}

func normalizeCatalog(c *domain.Catalog) error {
	lists := []struct {
		setting string
		kind    domain.ModelKind
		specs   []domain.ModelSpec
	}{
		{domain.SettingLLM, domain.ModelKindChat, c.Chat},
		{domain.SettingRouterLLM, domain.ModelKindChat, c.Router},
		{domain.SettingEmbeddingModel, domain.ModelKindEmbedding, c.Embedding},
	}
	for _, list := range lists {
		if len(list.specs) == 0 {
			return fmt.Errorf("model catalog: %s lists no models", list.setting)
		}
		seen := make(map[string]struct{}, len(list.specs))
		for i := range list.specs {
			spec := &list.specs[i]
			if spec.ID == "" {
				return fmt.Errorf("model catalog: %s entry %d has no id", list.setting, i)
			}
			if _, dup := seen[spec.ID]; dup {
				return fmt.Errorf("model catalog: %s lists %q twice", list.setting, spec.ID)
			}
			seen[spec.ID] = struct{}{}
			switch spec.Provider {
			case ProviderOllama, ProviderOpenAI:
			case ProviderHashing:
				if list.kind != domain.ModelKindEmbedding {
					return fmt.Errorf("model catalog: %q: hashing provider only embeds", spec.ID)
				}
			default:
				return fmt.Errorf("model catalog: %q: unknown provider %q", spec.ID, spec.Provider)
			}
			if spec.Name == "" {
				spec.Name = spec.ID
			}
			spec.Kind = list.kind
		}
	}
	return nil
}
