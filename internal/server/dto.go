package server

import (
	"encoding/json"

	"orbit/internal/domain"
)

// Request payloads

type SubtaskRequest struct {
	Title             string `json:"title"`
	EstimatedDuration int    `json:"estimated_duration,omitempty"`
	Difficulty        string `json:"difficulty,omitempty" enum:"easy,medium,hard"`
	Status            string `json:"status,omitempty" enum:"pending,completed"`
}

type CreateMissionRequest struct {
	Title       string           `json:"title"`
	Description *string          `json:"description,omitempty"`
	Duration    *int             `json:"duration,omitempty"`
	Subtasks    []SubtaskRequest `json:"subtasks,omitempty"`
	Recurring   map[string]any   `json:"recurring,omitempty"`
}

type UpdateMissionRequest struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Duration    *int             `json:"duration,omitempty"`
	Subtasks    []SubtaskRequest `json:"subtasks,omitempty"`
	Recurring   *map[string]any  `json:"recurring,omitempty"`
}

type FromTemplateRequest struct {
	TemplateID string `json:"template_id"`
}

type BreakdownRequest struct {
	Task string `json:"task"`
}

type SetSubtaskStatusRequest struct {
	Status string `json:"status" enum:"pending,completed"`
}

// Response payloads

type SubtaskResponse struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	EstimatedDuration int    `json:"estimated_duration"`
	Difficulty        string `json:"difficulty" enum:"easy,medium,hard"`
	Status            string `json:"status" enum:"pending,completed"`
	Position          int    `json:"position"`
}

type MissionResponse struct {
	ID              string            `json:"id"`
	OwnerID         string            `json:"owner_id"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	Status          string            `json:"status" enum:"pending,in-progress,complete"`
	Duration        int               `json:"duration"`
	ActualDuration  *int              `json:"actual_duration,omitempty"`
	Subtasks        []SubtaskResponse `json:"subtasks,omitempty"`
	Suggestions     []string          `json:"suggestions,omitempty"`
	AIProvider      string            `json:"ai_provider,omitempty"`
	Template        string            `json:"template,omitempty"`
	Recurring       map[string]any    `json:"recurring,omitempty"`
	CreatedAt       string            `json:"created_at" format:"date-time"`
	StartedAt       *string           `json:"started_at,omitempty" format:"date-time"`
	CompletedAt     *string           `json:"completed_at,omitempty" format:"date-time"`
	LastCompletedAt *string           `json:"last_completed_at,omitempty" format:"date-time"`
}

type TemplateResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Duration    int    `json:"duration"`
}

type BreakdownResponse struct {
	Title       string            `json:"title"`
	Provider    string            `json:"provider"`
	Subtasks    []SubtaskResponse `json:"subtasks"`
	Suggestions []string          `json:"suggestions,omitempty"`
}

type StatsResponse struct {
	TotalMissions      int                   `json:"total_missions"`
	CompletedMissions  int                   `json:"completed_missions"`
	ActiveMission      *MissionResponse      `json:"active_mission,omitempty"`
	CurrentStreak      int                   `json:"current_streak"`
	BestStreak         int                   `json:"best_streak"`
	Achievements       []AchievementResponse `json:"achievements,omitempty"`
	RecentAchievements []AchievementResponse `json:"recent_achievements,omitempty"`
}

type AchievementResponse struct {
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
}

type EventResponse struct {
	ID        int64           `json:"id"`
	TS        string          `json:"ts" format:"date-time"`
	Type      string          `json:"type"`
	MissionID string          `json:"mission_id,omitempty"`
	ActorID   string          `json:"actor_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type paginatedMissions struct {
	Items      []MissionResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Mappers

func missionResponse(m domain.Mission) MissionResponse {
	resp := MissionResponse{
		ID:              m.ID,
		OwnerID:         m.OwnerID,
		Title:           m.Title,
		Description:     m.Description,
		Status:          m.Status,
		Duration:        m.Duration,
		ActualDuration:  m.ActualDuration,
		Suggestions:     m.Suggestions,
		AIProvider:      m.AIProvider,
		Template:        m.Template,
		CreatedAt:       m.CreatedAt,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
		LastCompletedAt: m.LastCompletedAt,
	}
	for _, st := range m.Subtasks {
		resp.Subtasks = append(resp.Subtasks, subtaskResponse(st))
	}
	if m.RecurringJSON != nil {
		var recurring map[string]any
		if err := json.Unmarshal([]byte(*m.RecurringJSON), &recurring); err == nil {
			resp.Recurring = recurring
		}
	}
	return resp
}

func subtaskResponse(st domain.Subtask) SubtaskResponse {
	return SubtaskResponse{
		ID:                st.ID,
		Title:             st.Title,
		EstimatedDuration: st.EstimatedDuration,
		Difficulty:        st.Difficulty,
		Status:            st.Status,
		Position:          st.Position,
	}
}

func mapMissions(missions []domain.Mission) []MissionResponse {
	res := make([]MissionResponse, 0, len(missions))
	for _, m := range missions {
		res = append(res, missionResponse(m))
	}
	return res
}

func subtasksFromRequest(in []SubtaskRequest) []domain.Subtask {
	if in == nil {
		return nil
	}
	out := make([]domain.Subtask, 0, len(in))
	for _, st := range in {
		out = append(out, domain.Subtask{
			Title:             st.Title,
			EstimatedDuration: st.EstimatedDuration,
			Difficulty:        st.Difficulty,
			Status:            st.Status,
		})
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	resp := EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		MissionID: e.MissionID,
		ActorID:   e.ActorID,
	}
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		resp.Payload = json.RawMessage(e.Payload)
	}
	return resp
}
