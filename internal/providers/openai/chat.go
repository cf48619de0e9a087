package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-mini"

// Config configures chat completion models behind one API key.
type Config struct {
	APIKey    string
	BaseURL   string
	Models    []string
	Persona   string
	MaxTokens int
}

// Model answers prompts with one chat completion model.
type Model struct {
	client    *goopenai.Client
	model     string
	persona   string
	maxTokens int
}

// NewModels returns one provider per configured model, sharing a client.
func NewModels(cfg Config) ([]*Model, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	client := goopenai.NewClientWithConfig(clientCfg)

	names := cfg.Models
	if len(names) == 0 {
		names = []string{DefaultModel}
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}

	models := make([]*Model, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		models = append(models, &Model{client: client, model: name, persona: cfg.Persona, maxTokens: maxTokens})
	}
	return models, nil
}

func (m *Model) Name() string { return "openai/" + m.model }

func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if m.persona != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: m.persona})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt})

	resp, err := m.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     m.model,
		Messages:  messages,
		MaxTokens: m.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
