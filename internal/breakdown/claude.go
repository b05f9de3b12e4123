package breakdown

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"orbit/internal/config"
)

// ClaudeProvider talks to the Anthropic relay endpoint. The relay owns the
// Anthropic credentials and retry policy; this client just posts the prompt.
type ClaudeProvider struct {
	URL    string
	APIKey string
	Model  string
	Client *http.Client
}

func NewClaudeProvider(cfg config.ClaudeProvider) *ClaudeProvider {
	return &ClaudeProvider{
		URL:    cfg.URL,
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		Client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *ClaudeProvider) Name() string { return "claude" }

type claudeRequest struct {
	APIKey   string          `json:"apiKey"`
	Model    string          `json:"model,omitempty"`
	Messages []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *ClaudeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(claudeRequest{
		APIKey:   p.APIKey,
		Model:    p.Model,
		Messages: []claudeMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var parsed claudeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("claude relay: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("claude relay: %s", parsed.Error.Message)
		}
		return "", fmt.Errorf("claude relay: status %d", resp.StatusCode)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("claude relay: empty response")
}
