package provider

import (
	"sort"
	"strings"
)

// ID identifies a supported AI provider.
type ID string

const (
	OpenAI    ID = "openai"
	Anthropic ID = "anthropic"
	DeepSeek  ID = "deepseek"
	Gemini    ID = "gemini"
)

// IDs returns every supported provider, sorted.
func IDs() []ID {
	ids := make([]ID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ParseID accepts a provider name in any case.
func ParseID(s string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := registry[id]; !ok {
		return "", &ConfigurationError{Field: "provider", Value: s, Reason: "unsupported provider"}
	}
	return id, nil
}
