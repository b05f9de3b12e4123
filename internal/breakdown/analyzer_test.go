package breakdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name     string
	response string
	err      error
	calls    int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls++
	return s.response, s.err
}

func TestAnalyzeUsesFirstWorkingProvider(t *testing.T) {
	good := &stubProvider{name: "claude", response: `{"subtasks":[{"title":"step","estimatedDuration":10}]}`}
	later := &stubProvider{name: "gemini"}
	a := &Analyzer{Providers: []Provider{good, later}}

	res := a.Analyze(context.Background(), "do the thing")
	assert.Equal(t, "claude", res.Provider)
	require.Len(t, res.Subtasks, 1)
	assert.Equal(t, "step", res.Subtasks[0].Title)
	assert.Zero(t, later.calls)
}

func TestAnalyzeSkipsFailingProviders(t *testing.T) {
	down := &stubProvider{name: "claude", err: errors.New("connection refused")}
	prose := &stubProvider{name: "gemini", response: "I would rather not."}
	empty := &stubProvider{name: "openai", response: `{"subtasks":[{"title":"  "}]}`}
	working := &stubProvider{name: "fallback-model", response: `{"subtasks":[{"title":"recovered","estimatedDuration":"20"}],"suggestions":["tip"]}`}
	a := &Analyzer{Providers: []Provider{down, prose, empty, working}}

	res := a.Analyze(context.Background(), "anything")
	assert.Equal(t, "fallback-model", res.Provider)
	require.Len(t, res.Subtasks, 1)
	assert.Equal(t, 20, res.Subtasks[0].EstimatedDuration)
	assert.Equal(t, []string{"tip"}, res.Suggestions)
	assert.Equal(t, 1, down.calls)
	assert.Equal(t, 1, prose.calls)
	assert.Equal(t, 1, empty.calls)
}

func TestAnalyzeHandlesObjectSuggestions(t *testing.T) {
	chatty := &stubProvider{
		name:     "claude",
		response: "Sure! ```json\n{\"subtasks\":[{\"title\":\"A\",\"estimatedDuration\":\"20\"}],\"suggestions\":{}}\n```",
	}
	a := &Analyzer{Providers: []Provider{chatty}}

	res := a.Analyze(context.Background(), "write the report")
	assert.Equal(t, "claude", res.Provider)
	require.Len(t, res.Subtasks, 1)
	assert.Equal(t, "A", res.Subtasks[0].Title)
	assert.Equal(t, 20, res.Subtasks[0].EstimatedDuration)
	assert.Equal(t, "medium", res.Subtasks[0].Difficulty)
}

func TestAnalyzeTitleDefaultsToTask(t *testing.T) {
	untitled := &stubProvider{name: "claude", response: `{"subtasks":[{"title":"step"}]}`}
	titled := &stubProvider{name: "gemini", response: `{"title":"Tidy Up","subtasks":[{"title":"step"}]}`}

	res := (&Analyzer{Providers: []Provider{untitled}}).Analyze(context.Background(), "clean the desk")
	assert.Equal(t, "clean the desk", res.Title)

	res = (&Analyzer{Providers: []Provider{titled}}).Analyze(context.Background(), "clean the desk")
	assert.Equal(t, "Tidy Up", res.Title)
}

func TestAnalyzeFallsBackWhenAllFail(t *testing.T) {
	a := &Analyzer{Providers: []Provider{
		&stubProvider{name: "claude", err: errors.New("down")},
		&stubProvider{name: "gemini", response: "nope"},
	}}

	res := a.Analyze(context.Background(), "anything")
	assert.Equal(t, FallbackProvider, res.Provider)
	assert.Equal(t, "anything", res.Title)
	require.Len(t, res.Subtasks, 3)
	assert.Equal(t, 60, res.Subtasks[0].EstimatedDuration+res.Subtasks[1].EstimatedDuration+res.Subtasks[2].EstimatedDuration)
}

func TestAnalyzeEmptyChainFallsBack(t *testing.T) {
	a := &Analyzer{}
	res := a.Analyze(context.Background(), "anything")
	assert.Equal(t, FallbackProvider, res.Provider)
	assert.Len(t, res.Subtasks, 3)
}
