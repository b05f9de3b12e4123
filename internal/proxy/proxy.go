// Package proxy relays breakdown requests to the Anthropic API so browser
// and CLI clients never hold long-lived Anthropic credentials themselves.
package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"
)

const (
	anthropicURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
	defaultModel     = "claude-3-5-sonnet-20241022"
)

type Server struct {
	// APIKey is used when the request carries no key of its own.
	APIKey string
	// Upstream overrides the Anthropic endpoint, for tests.
	Upstream string
	Retries  int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
	Client  *http.Client
	Logger  *log.Logger
}

func New(apiKey string, logger *log.Logger) *Server {
	return &Server{
		APIKey:  apiKey,
		Retries: 3,
		Backoff: 2 * time.Second,
		Client:  &http.Client{Timeout: 120 * time.Second},
		Logger:  logger,
	}
}

// Handler returns the mux for the relay: POST /api/claude plus a health endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/claude", s.handleClaude)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

type relayRequest struct {
	APIKey    string          `json:"apiKey"`
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  json.RawMessage `json:"messages"`
}

func (s *Server) handleClaude(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = s.APIKey
	}
	if apiKey == "" {
		writeError(w, http.StatusBadRequest, "API key is required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	payload, err := json.Marshal(map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   req.Messages,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "marshal upstream request")
		return
	}

	status, body, err := s.forward(r, apiKey, payload)
	if err != nil {
		s.logf("upstream request failed: %v", err)
		writeError(w, http.StatusBadGateway, "upstream request failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// forward posts to the upstream, retrying only when the upstream says the
// failure is retryable via the x-should-retry header. The delay doubles each
// attempt.
func (s *Server) forward(r *http.Request, apiKey string, payload []byte) (int, []byte, error) {
	upstream := s.Upstream
	if upstream == "" {
		upstream = anthropicURL
	}
	retries := s.Retries
	if retries <= 0 {
		retries = 3
	}
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var lastStatus int
	var lastBody []byte
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, upstream, bytes.NewReader(payload))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)

		resp, err := s.Client.Do(req)
		if err != nil {
			lastErr = err
			break
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			break
		}
		lastStatus, lastBody, lastErr = resp.StatusCode, body, nil
		if resp.StatusCode < 400 || resp.Header.Get("x-should-retry") != "true" {
			return resp.StatusCode, body, nil
		}
		if attempt < retries {
			s.logf("upstream returned %d, retrying in %s (attempt %d/%d)", resp.StatusCode, backoff, attempt, retries)
			select {
			case <-r.Context().Done():
				return 0, nil, r.Context().Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	if lastErr != nil {
		return 0, nil, lastErr
	}
	return lastStatus, lastBody, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": msg}})
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
