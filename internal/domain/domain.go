package domain

// Mission status values.
const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusComplete   = "complete"
)

// Subtask difficulty values.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

type Mission struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Status          string    `json:"status" enum:"pending,in-progress,complete"`
	Duration        int       `json:"duration"`
	ActualDuration  *int      `json:"actual_duration,omitempty"`
	Subtasks        []Subtask `json:"subtasks,omitempty"`
	Suggestions     []string  `json:"suggestions,omitempty"`
	AIProvider      string    `json:"ai_provider,omitempty"`
	Template        string    `json:"template,omitempty"`
	RecurringJSON   *string   `json:"recurring_json,omitempty"`
	CreatedAt       string    `json:"created_at" format:"date-time"`
	StartedAt       *string   `json:"started_at,omitempty" format:"date-time"`
	CompletedAt     *string   `json:"completed_at,omitempty" format:"date-time"`
	LastCompletedAt *string   `json:"last_completed_at,omitempty" format:"date-time"`
}

type Subtask struct {
	ID                string `json:"id"`
	MissionID         string `json:"mission_id,omitempty"`
	Title             string `json:"title"`
	EstimatedDuration int    `json:"estimated_duration"`
	Difficulty        string `json:"difficulty" enum:"easy,medium,hard"`
	Status            string `json:"status" enum:"pending,completed"`
	Position          int    `json:"position"`
}

// Template is a built-in mission preset.
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Duration    int    `json:"duration"`
}

type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	OwnerID   string `json:"owner_id,omitempty"`
	MissionID string `json:"mission_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Stats is the derived snapshot served by the stats endpoint.
type Stats struct {
	TotalMissions     int           `json:"total_missions"`
	CompletedMissions int           `json:"completed_missions"`
	ActiveMission     *Mission      `json:"active_mission,omitempty"`
	CurrentStreak     int           `json:"current_streak"`
	BestStreak        int           `json:"best_streak"`
	Achievements      []Achievement `json:"achievements,omitempty"`
}

type Achievement struct {
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
}
