package breakdown

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"orbit/internal/domain"
)

// Result is a normalized breakdown ready to attach to a mission.
type Result struct {
	Title       string           `json:"title"`
	Subtasks    []domain.Subtask `json:"subtasks"`
	Suggestions []string         `json:"suggestions,omitempty"`
	Provider    string           `json:"provider"`
}

// rawBreakdown mirrors the loose shape models actually emit. Durations arrive
// as numbers or quoted strings depending on the model's mood, and suggestions
// come back as a string array, a lone string, or a keyed object.
type rawBreakdown struct {
	Title       string       `json:"title"`
	Subtasks    []rawSubtask `json:"subtasks"`
	Suggestions flexStrings  `json:"suggestions"`
}

type rawSubtask struct {
	Title             string  `json:"title"`
	EstimatedDuration flexInt `json:"estimatedDuration"`
	Difficulty        string  `json:"difficulty"`
}

// flexInt accepts a duration written as a number or a quoted string. Anything
// unparseable decodes to zero and picks up the default later.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if v, err := strconv.Atoi(s); err == nil {
		*f = flexInt(v)
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexInt(int(v))
		return nil
	}
	*f = 0
	return nil
}

// flexStrings accepts suggestions as ["tip", ...], a bare "tip", or an object
// like {"breakStrategy": "...", "timeManagement": "..."}. Unrecognized shapes
// decode to nil rather than failing the whole payload.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = trimStrings(list)
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*f = trimStrings([]string{one})
		return nil
	}
	var keyed map[string]string
	if err := json.Unmarshal(data, &keyed); err == nil {
		*f = trimStrings([]string{keyed["breakStrategy"], keyed["timeManagement"]})
		return nil
	}
	*f = nil
	return nil
}

func trimStrings(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// validate rejects payloads without a subtasks array of at least one entry.
func (r rawBreakdown) validate() error {
	if len(r.Subtasks) == 0 {
		return fmt.Errorf("response has no subtasks")
	}
	return nil
}

// normalize coerces a raw payload into clean subtasks: fresh IDs, integer
// durations with a 15 minute default, a known difficulty, pending status.
func normalize(raw rawBreakdown, provider string) Result {
	res := Result{
		Title:       strings.TrimSpace(raw.Title),
		Provider:    provider,
		Suggestions: raw.Suggestions,
	}
	for i, rs := range raw.Subtasks {
		title := strings.TrimSpace(rs.Title)
		if title == "" {
			continue
		}
		st := domain.Subtask{
			ID:                uuid.New().String(),
			Title:             title,
			EstimatedDuration: coerceDuration(rs.EstimatedDuration),
			Difficulty:        coerceDifficulty(rs.Difficulty),
			Status:            "pending",
			Position:          i,
		}
		res.Subtasks = append(res.Subtasks, st)
	}
	return res
}

func coerceDuration(n flexInt) int {
	if n > 0 {
		return int(n)
	}
	return 15
}

func coerceDifficulty(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case domain.DifficultyEasy:
		return domain.DifficultyEasy
	case domain.DifficultyHard:
		return domain.DifficultyHard
	default:
		return domain.DifficultyMedium
	}
}
