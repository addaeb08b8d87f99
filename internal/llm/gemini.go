package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentoven/companion/internal/config"
	"github.com/agentoven/companion/pkg/models"
	"google.golang.org/genai"
)

// ── Gemini Provider ─────────────────────────────────────────

// GeminiDriver calls the Gemini API through the genai SDK.
type GeminiDriver struct {
	client *genai.Client
	model  string
}

// NewGeminiDriver creates a Gemini API client from cfg.
func NewGeminiDriver(ctx context.Context, cfg config.LLMConfig) (*GeminiDriver, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api_key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiDriver{client: client, model: model}, nil
}

func (d *GeminiDriver) Name() string { return "gemini:" + d.model }

func (d *GeminiDriver) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	system, contents := toGeminiContents(messages)
	var gc *genai.GenerateContentConfig
	if system != "" {
		gc = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		}
	}
	return d.generate(ctx, contents, gc)
}

func (d *GeminiDriver) Analyze(ctx context.Context, prompt string, images []models.ImageRef) (string, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		if len(img.Data) > 0 {
			parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
			continue
		}
		parts = append(parts, genai.NewPartFromURI(img.URL, img.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(prompt))
	return d.generate(ctx, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil)
}

func (d *GeminiDriver) generate(ctx context.Context, contents []*genai.Content, gc *genai.GenerateContentConfig) (string, error) {
	resp, err := d.client.Models.GenerateContent(ctx, d.model, contents, gc)
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	return resp.Text(), nil
}

// toGeminiContents folds system messages into one instruction and maps the
// assistant role to the model role.
func toGeminiContents(messages []models.ChatMessage) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			system = append(system, m.Content)
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}
