package breakdown

import (
	"context"
	"log"

	"github.com/google/uuid"

	"orbit/internal/config"
	"orbit/internal/domain"
)

// FallbackProvider is the provider tag on canned breakdowns.
const FallbackProvider = "fallback"

// Analyzer runs providers in order until one yields a usable breakdown.
type Analyzer struct {
	Providers []Provider
	Logger    *log.Logger
}

// NewAnalyzer builds the provider chain from config, in the configured order.
// Providers without credentials are skipped; an empty chain is fine and means
// every analysis returns the fallback.
func NewAnalyzer(ctx context.Context, cfg *config.Config, logger *log.Logger) *Analyzer {
	a := &Analyzer{Logger: logger}
	if cfg == nil {
		return a
	}
	order := cfg.Providers.Order
	if len(order) == 0 {
		order = []string{"claude", "gemini", "openai"}
	}
	for _, name := range order {
		switch name {
		case "claude":
			if cfg.Providers.Claude.URL != "" {
				a.Providers = append(a.Providers, NewClaudeProvider(cfg.Providers.Claude))
			}
		case "gemini":
			if cfg.Providers.Gemini.APIKey != "" {
				p, err := NewGeminiProvider(ctx, cfg.Providers.Gemini)
				if err != nil {
					a.logf("gemini provider unavailable: %v", err)
					continue
				}
				a.Providers = append(a.Providers, p)
			}
		case "openai":
			if cfg.Providers.OpenAI.APIKey != "" {
				a.Providers = append(a.Providers, NewOpenAIProvider(cfg.Providers.OpenAI))
			}
		}
	}
	return a
}

// Analyze asks each provider in turn for a breakdown of the task. Provider
// failures are logged and the chain moves on; when every provider fails the
// canned fallback is returned. Analyze never returns an error.
func (a *Analyzer) Analyze(ctx context.Context, task string) Result {
	prompt := buildPrompt(task)
	for _, p := range a.Providers {
		raw, err := p.Complete(ctx, prompt)
		if err != nil {
			a.logf("provider %s failed: %v", p.Name(), err)
			continue
		}
		var payload rawBreakdown
		if err := extractJSON(raw, &payload); err != nil {
			a.logf("provider %s returned unusable output: %v", p.Name(), err)
			continue
		}
		if err := payload.validate(); err != nil {
			a.logf("provider %s returned unusable output: %v", p.Name(), err)
			continue
		}
		res := normalize(payload, p.Name())
		if len(res.Subtasks) == 0 {
			a.logf("provider %s returned only empty subtasks", p.Name())
			continue
		}
		if res.Title == "" {
			res.Title = task
		}
		return res
	}
	return Fallback(task)
}

// Fallback is a fixed three step plan used when no provider can help. The
// task text stands in for a model-written title.
func Fallback(task string) Result {
	return Result{
		Title:    task,
		Provider: FallbackProvider,
		Subtasks: []domain.Subtask{
			{ID: uuid.New().String(), Title: "Plan the approach", EstimatedDuration: 15, Difficulty: domain.DifficultyEasy, Status: "pending", Position: 0},
			{ID: uuid.New().String(), Title: "Do the main work", EstimatedDuration: 30, Difficulty: domain.DifficultyMedium, Status: "pending", Position: 1},
			{ID: uuid.New().String(), Title: "Review and wrap up", EstimatedDuration: 15, Difficulty: domain.DifficultyEasy, Status: "pending", Position: 2},
		},
		Suggestions: []string{"Start with the smallest step to build momentum"},
	}
}

func (a *Analyzer) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}
