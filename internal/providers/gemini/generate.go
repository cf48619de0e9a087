package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-2.5-flash"

// Client owns the genai connection shared by every configured model.
type Client struct {
	base    *genai.Client
	persona string
}

func NewClient(ctx context.Context, apiKey string, persona string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	base, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{base: base, persona: persona}, nil
}

// Models returns one provider per model name.
func (c *Client) Models(names []string) []*Model {
	if len(names) == 0 {
		names = []string{DefaultModel}
	}
	models := make([]*Model, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		models = append(models, &Model{client: c, name: name})
	}
	return models
}

func (c *Client) Close() error {
	if c.base == nil {
		return nil
	}
	return c.base.Close()
}

// Model answers prompts with a single Gemini model.
type Model struct {
	client *Client
	name   string
}

func (m *Model) Name() string { return "gemini/" + m.name }

func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	model := m.client.base.GenerativeModel(m.name)
	model.SetTemperature(0.7)
	if m.client.persona != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(m.client.persona)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", errors.New("gemini returned no text")
	}
	return out, nil
}
