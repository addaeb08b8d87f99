package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentoven/companion/internal/config"
	"github.com/agentoven/companion/pkg/models"
)

// ── OpenAI-compatible Provider ──────────────────────────────

// OpenAIDriver calls any OpenAI-compatible /chat/completions endpoint
// (OpenAI, DeepSeek, DashScope compatible mode, Ollama).
type OpenAIDriver struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIDriver creates a driver for cfg.BaseURL.
func NewOpenAIDriver(cfg config.LLMConfig, client *http.Client) *OpenAIDriver {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIDriver{baseURL: base, apiKey: cfg.APIKey, model: cfg.Model, client: client}
}

func (d *OpenAIDriver) Name() string { return "openai:" + d.model }

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

// openAIMessage carries either a plain string or a list of content parts.
type openAIMessage struct {
	Role    models.Role `json:"role"`
	Content any         `json:"content"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (d *OpenAIDriver) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	msgs := make([]openAIMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openAIMessage{Role: m.Role, Content: m.Content}
	}
	return d.call(ctx, msgs)
}

func (d *OpenAIDriver) Analyze(ctx context.Context, prompt string, images []models.ImageRef) (string, error) {
	parts := make([]openAIPart, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, openAIPart{Type: "image_url", ImageURL: &openAIImageURL{URL: img.URL}})
	}
	parts = append(parts, openAIPart{Type: "text", Text: prompt})
	return d.call(ctx, []openAIMessage{{Role: models.RoleUser, Content: parts}})
}

func (d *OpenAIDriver) call(ctx context.Context, messages []openAIMessage) (string, error) {
	body, err := json.Marshal(openAIRequest{Model: d.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("openai: encode request: %w", err)
	}

	url := d.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return "", fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return "", fmt.Errorf("openai: response has no choices")
	}
	return oaiResp.Choices[0].Message.Content, nil
}
