package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// BodyParams feeds a provider's request body builder.
type BodyParams struct {
	Model     string
	System    string
	User      string
	MaxTokens int
	Stream    bool
}

// Config describes one provider as data. Nothing outside this table
// branches on the provider.
type Config struct {
	Name               string
	Models             map[string]string
	DefaultModel       string
	DefaultEndpoint    string
	AlternateEndpoints []string

	BuildBody          func(p BodyParams) any
	BuildHeaders       func(apiKey string) http.Header
	ExtractText        func(body []byte) (string, error)
	ExtractStreamDelta func(payload json.RawMessage) (string, error)

	// EndpointURL derives the request URL when the model or the streaming
	// mode is part of the path. Nil means the endpoint is used as is.
	EndpointURL func(endpoint, model string, stream bool) string
}

// ResolveModel maps a logical model name to the provider's identifier,
// falling back to DefaultModel for unknown names.
func (c Config) ResolveModel(name string) string {
	if id, ok := c.Models[name]; ok {
		return id
	}
	for _, id := range c.Models {
		if id == name {
			return id
		}
	}
	return c.DefaultModel
}

// URL returns the request URL for endpoint.
func (c Config) URL(endpoint, model string, stream bool) string {
	if c.EndpointURL == nil {
		return endpoint
	}
	return c.EndpointURL(endpoint, model, stream)
}

// Lookup returns the configuration for id.
func Lookup(id ID) (Config, error) {
	cfg, ok := registry[id]
	if !ok {
		return Config{}, &ConfigurationError{Field: "provider", Value: string(id), Reason: "unsupported provider"}
	}
	return cfg, nil
}

// Registry returns a copy of the provider table.
func Registry() map[ID]Config {
	out := make(map[ID]Config, len(registry))
	for id, cfg := range registry {
		out[id] = cfg
	}
	return out
}

const temperature = 0.7

var registry = map[ID]Config{
	OpenAI: {
		Name: "OpenAI",
		Models: map[string]string{
			"gpt-4o":      "gpt-4o",
			"gpt-4o-mini": "gpt-4o-mini",
			"gpt-4-turbo": "gpt-4-turbo",
		},
		DefaultModel:       "gpt-4o-mini",
		DefaultEndpoint:    "https://api.openai.com/v1/chat/completions",
		BuildBody:          chatBody,
		BuildHeaders:       bearerHeaders,
		ExtractText:        chatText,
		ExtractStreamDelta: chatDelta,
	},
	DeepSeek: {
		Name: "DeepSeek",
		Models: map[string]string{
			"deepseek-chat":     "deepseek-chat",
			"deepseek-reasoner": "deepseek-reasoner",
		},
		DefaultModel:       "deepseek-chat",
		DefaultEndpoint:    "https://api.deepseek.com/v1/chat/completions",
		AlternateEndpoints: []string{"https://api.deepseek.com/chat/completions"},
		BuildBody:          chatBody,
		BuildHeaders:       bearerHeaders,
		ExtractText:        chatText,
		ExtractStreamDelta: chatDelta,
	},
	Anthropic: {
		Name: "Anthropic",
		Models: map[string]string{
			"claude-3-5-sonnet": "claude-3-5-sonnet-20241022",
			"claude-3-5-haiku":  "claude-3-5-haiku-20241022",
			"claude-3-opus":     "claude-3-opus-20240229",
		},
		DefaultModel:       "claude-3-5-haiku-20241022",
		DefaultEndpoint:    "https://api.anthropic.com/v1/messages",
		BuildBody:          messagesBody,
		BuildHeaders:       anthropicHeaders,
		ExtractText:        messagesText,
		ExtractStreamDelta: messagesDelta,
	},
	Gemini: {
		Name: "Gemini",
		Models: map[string]string{
			"gemini-1.5-pro":   "gemini-1.5-pro",
			"gemini-1.5-flash": "gemini-1.5-flash",
			"gemini-2.0-flash": "gemini-2.0-flash",
		},
		DefaultModel:       "gemini-1.5-flash",
		DefaultEndpoint:    "https://generativelanguage.googleapis.com/v1beta/models",
		BuildBody:          geminiBody,
		BuildHeaders:       geminiHeaders,
		ExtractText:        geminiText,
		ExtractStreamDelta: func(p json.RawMessage) (string, error) { return geminiText(p) },
		EndpointURL:        geminiURL,
	},
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAI-compatible chat completions.

func chatBody(p BodyParams) any {
	return map[string]any{
		"model": p.Model,
		"messages": []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		"max_tokens":  p.MaxTokens,
		"temperature": temperature,
		"stream":      p.Stream,
	}
}

func bearerHeaders(apiKey string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+apiKey)
	return h
}

func chatText(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func chatDelta(payload json.RawMessage) (string, error) {
	var ev struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", err
	}
	if len(ev.Choices) == 0 {
		return "", nil
	}
	return ev.Choices[0].Delta.Content, nil
}

// Anthropic messages.

func messagesBody(p BodyParams) any {
	return map[string]any{
		"model":       p.Model,
		"system":      p.System,
		"messages":    []chatMessage{{Role: "user", Content: p.User}},
		"max_tokens":  p.MaxTokens,
		"temperature": temperature,
		"stream":      p.Stream,
	}
}

func anthropicHeaders(apiKey string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", "2023-06-01")
	return h
}

func messagesText(body []byte) (string, error) {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String(), nil
}

func messagesDelta(payload json.RawMessage) (string, error) {
	var ev struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", err
	}
	if ev.Type != "content_block_delta" {
		return "", nil
	}
	return ev.Delta.Text, nil
}

// Gemini generateContent.

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

func geminiBody(p BodyParams) any {
	return map[string]any{
		"systemInstruction": geminiContent{Parts: []geminiPart{{Text: p.System}}},
		"contents":          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: p.User}}}},
		"generationConfig": map[string]any{
			"maxOutputTokens": p.MaxTokens,
			"temperature":     temperature,
		},
	}
}

func geminiHeaders(apiKey string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("x-goog-api-key", apiKey)
	return h
}

func geminiText(body []byte) (string, error) {
	var resp struct {
		Candidates []struct {
			Content geminiContent `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

func geminiURL(endpoint, model string, stream bool) string {
	base := strings.TrimRight(endpoint, "/")
	if stream {
		return fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse", base, model)
	}
	return fmt.Sprintf("%s/%s:generateContent", base, model)
}
