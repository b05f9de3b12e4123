package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"orbit/internal/config"
	"orbit/internal/domain"
	"orbit/internal/events"
	"orbit/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// defaultDuration is used when a mission has no subtasks and no explicit duration.
func (e Engine) defaultDuration() int {
	if e.Config != nil && e.Config.Missions.DefaultDuration > 0 {
		return e.Config.Missions.DefaultDuration
	}
	return 25
}

// MissionCreateOptions are parameters for creating a mission.
type MissionCreateOptions struct {
	ID            string
	OwnerID       string
	Title         string
	Description   string
	Duration      int
	Subtasks      []domain.Subtask
	Suggestions   []string
	AIProvider    string
	Template      string
	RecurringJSON string
	ActorID       string
}

func (e Engine) CreateMission(ctx context.Context, opts MissionCreateOptions) (domain.Mission, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Mission{}, ErrEmptyTitle
	}
	if opts.OwnerID == "" {
		return domain.Mission{}, fmt.Errorf("owner is required")
	}
	if opts.RecurringJSON != "" {
		if err := validateJSON(opts.RecurringJSON); err != nil {
			return domain.Mission{}, fmt.Errorf("recurring JSON: %w", err)
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	m := domain.Mission{
		ID:            id,
		OwnerID:       opts.OwnerID,
		Title:         opts.Title,
		Description:   opts.Description,
		Status:        domain.StatusPending,
		Subtasks:      normalizeSubtasks(id, opts.Subtasks),
		Suggestions:   opts.Suggestions,
		AIProvider:    opts.AIProvider,
		Template:      opts.Template,
		RecurringJSON: optionalString(opts.RecurringJSON),
		CreatedAt:     now,
	}
	m.Duration = e.deriveDuration(m.Subtasks, opts.Duration)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureOwner(ctx, tx, m.OwnerID, now); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Repo.InsertMission(ctx, tx, m); err != nil {
		return domain.Mission{}, fmt.Errorf("insert mission: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.MissionCreated, m.OwnerID, m.ID, opts.ActorID, events.EventPayload{"title": m.Title, "duration": m.Duration}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return m, nil
}

// CreateFromTemplate creates a mission from a built-in template. The template
// duration is used as-is and is not re-derived from subtasks.
func (e Engine) CreateFromTemplate(ctx context.Context, ownerID, templateID, actorID string) (domain.Mission, error) {
	tpl, ok := templateByID(templateID)
	if !ok {
		return domain.Mission{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, templateID)
	}
	if ownerID == "" {
		return domain.Mission{}, fmt.Errorf("owner is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	m := domain.Mission{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Title:       tpl.Name,
		Description: tpl.Description,
		Status:      domain.StatusPending,
		Duration:    tpl.Duration,
		Template:    tpl.ID,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureOwner(ctx, tx, ownerID, now); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Repo.InsertMission(ctx, tx, m); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Events.Append(ctx, tx, events.MissionCreated, m.OwnerID, m.ID, actorID, events.EventPayload{"title": m.Title, "template": tpl.ID}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return m, nil
}

// MissionUpdateOptions encapsulates allowed field updates.
type MissionUpdateOptions struct {
	ID            string
	Title         *string
	Description   *string
	Duration      *int
	Subtasks      []domain.Subtask
	RecurringJSON *string
	ActorID       string
}

func (e Engine) UpdateMission(ctx context.Context, opts MissionUpdateOptions) (domain.Mission, error) {
	m, err := e.Repo.GetMission(ctx, opts.ID)
	if err != nil {
		return m, err
	}
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return m, ErrEmptyTitle
		}
		m.Title = title
	}
	if opts.Description != nil {
		m.Description = *opts.Description
	}
	if opts.RecurringJSON != nil {
		if *opts.RecurringJSON == "" {
			m.RecurringJSON = nil
		} else {
			if err := validateJSON(*opts.RecurringJSON); err != nil {
				return m, fmt.Errorf("recurring JSON: %w", err)
			}
			m.RecurringJSON = opts.RecurringJSON
		}
	}
	replaceSubtasks := opts.Subtasks != nil
	if replaceSubtasks {
		m.Subtasks = normalizeSubtasks(m.ID, opts.Subtasks)
	}
	userDuration := 0
	if opts.Duration != nil {
		userDuration = *opts.Duration
	}
	if replaceSubtasks || opts.Duration != nil {
		m.Duration = e.deriveDuration(m.Subtasks, userDuration)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateMission(ctx, tx, m); err != nil {
		return m, err
	}
	if replaceSubtasks {
		if err := e.Repo.ReplaceSubtasks(ctx, tx, m.ID, m.Subtasks); err != nil {
			return m, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.MissionUpdated, m.OwnerID, m.ID, opts.ActorID, events.EventPayload{"title": m.Title}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

// StartMission moves a pending mission to in-progress. The single-active
// invariant is enforced by a guarded UPDATE inside the transaction, so a
// concurrent start cannot slip past a stale read.
func (e Engine) StartMission(ctx context.Context, id, actorID string) (domain.Mission, error) {
	m, err := e.Repo.GetMission(ctx, id)
	if err != nil {
		return m, err
	}
	if m.Status != domain.StatusPending {
		return m, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, domain.StatusInProgress)
	}
	startedAt := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.StartMissionIfIdle(ctx, tx, id, m.OwnerID, startedAt)
	if err != nil {
		return m, err
	}
	if !ok {
		// Either the row changed under us or another mission is running.
		fresh, ferr := e.Repo.GetMissionTx(ctx, tx, id)
		if ferr == nil && fresh.Status != domain.StatusPending {
			return m, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, fresh.Status, domain.StatusInProgress)
		}
		return m, ErrMissionActive
	}
	if err := e.Events.Append(ctx, tx, events.MissionStarted, m.OwnerID, m.ID, actorID, events.EventPayload{"started_at": startedAt}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	m.Status = domain.StatusInProgress
	m.StartedAt = &startedAt
	return m, nil
}

// CompleteMission finishes an in-progress mission. The elapsed wall time since
// start is recorded in minutes, then the start marker is cleared; completion
// time survives in both completed_at and last_completed_at, the latter kept
// through later reverts for streak history.
func (e Engine) CompleteMission(ctx context.Context, id, actorID string) (domain.Mission, error) {
	m, err := e.Repo.GetMission(ctx, id)
	if err != nil {
		return m, err
	}
	if m.Status != domain.StatusInProgress {
		return m, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, domain.StatusComplete)
	}
	now := e.now().UTC()
	completedAt := now.Format(time.RFC3339)
	if m.StartedAt != nil {
		if started, perr := time.Parse(time.RFC3339, *m.StartedAt); perr == nil {
			minutes := int(now.Sub(started).Minutes())
			if minutes < 0 {
				minutes = 0
			}
			m.ActualDuration = &minutes
		}
	}
	m.Status = domain.StatusComplete
	m.CompletedAt = &completedAt
	m.LastCompletedAt = &completedAt
	m.StartedAt = nil

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateMission(ctx, tx, m); err != nil {
		return m, err
	}
	payload := events.EventPayload{"completed_at": completedAt}
	if m.ActualDuration != nil {
		payload["actual_duration"] = *m.ActualDuration
	}
	if err := e.Events.Append(ctx, tx, events.MissionCompleted, m.OwnerID, m.ID, actorID, payload); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

// RevertMission returns a mission to pending from either in-progress or
// complete. Both start and completion markers are cleared so the mission is
// indistinguishable from one that never ran.
func (e Engine) RevertMission(ctx context.Context, id, actorID string) (domain.Mission, error) {
	m, err := e.Repo.GetMission(ctx, id)
	if err != nil {
		return m, err
	}
	if m.Status != domain.StatusInProgress && m.Status != domain.StatusComplete {
		return m, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, domain.StatusPending)
	}
	from := m.Status
	m.Status = domain.StatusPending
	m.StartedAt = nil
	m.CompletedAt = nil
	m.ActualDuration = nil

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateMission(ctx, tx, m); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, events.MissionReverted, m.OwnerID, m.ID, actorID, events.EventPayload{"from": from}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

// DeleteMission removes a mission. Deleting an unknown ID is a no-op.
func (e Engine) DeleteMission(ctx context.Context, id, actorID string) error {
	m, err := e.Repo.GetMission(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	deleted, err := e.Repo.DeleteMission(ctx, tx, id)
	if err != nil {
		return err
	}
	if deleted {
		if err := e.Events.Append(ctx, tx, events.MissionDeleted, m.OwnerID, m.ID, actorID, events.EventPayload{"title": m.Title}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AttachBreakdown replaces a mission's subtasks with an analyzer result and
// re-derives the duration from the new subtasks.
func (e Engine) AttachBreakdown(ctx context.Context, id string, subtasks []domain.Subtask, suggestions []string, provider, actorID string) (domain.Mission, error) {
	m, err := e.Repo.GetMission(ctx, id)
	if err != nil {
		return m, err
	}
	m.Subtasks = normalizeSubtasks(m.ID, subtasks)
	m.Suggestions = suggestions
	m.AIProvider = provider
	m.Duration = e.deriveDuration(m.Subtasks, 0)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateMission(ctx, tx, m); err != nil {
		return m, err
	}
	if err := e.Repo.ReplaceSubtasks(ctx, tx, m.ID, m.Subtasks); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, events.BreakdownAttached, m.OwnerID, m.ID, actorID, events.EventPayload{
		"provider": provider,
		"subtasks": len(m.Subtasks),
	}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

// SetSubtaskStatus toggles a single subtask between pending and completed.
func (e Engine) SetSubtaskStatus(ctx context.Context, missionID, subtaskID, status, actorID string) (domain.Mission, error) {
	if status != "pending" && status != "completed" {
		return domain.Mission{}, fmt.Errorf("%w: subtask status %s", ErrInvalidTransition, status)
	}
	m, err := e.Repo.GetMission(ctx, missionID)
	if err != nil {
		return m, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSubtaskStatus(ctx, tx, missionID, subtaskID, status); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, events.SubtaskUpdated, m.OwnerID, m.ID, actorID, events.EventPayload{
		"subtask_id": subtaskID,
		"status":     status,
	}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	for i := range m.Subtasks {
		if m.Subtasks[i].ID == subtaskID {
			m.Subtasks[i].Status = status
		}
	}
	return m, nil
}

// deriveDuration sums subtask estimates when subtasks exist; otherwise uses
// the caller's value, falling back to the configured default.
func (e Engine) deriveDuration(subtasks []domain.Subtask, userDuration int) int {
	if len(subtasks) > 0 {
		total := 0
		for _, st := range subtasks {
			total += st.EstimatedDuration
		}
		return total
	}
	if userDuration > 0 {
		return userDuration
	}
	return e.defaultDuration()
}

// normalizeSubtasks assigns IDs, positions and defaults to incoming subtasks.
func normalizeSubtasks(missionID string, subtasks []domain.Subtask) []domain.Subtask {
	if len(subtasks) == 0 {
		return nil
	}
	out := make([]domain.Subtask, 0, len(subtasks))
	for i, st := range subtasks {
		if st.ID == "" {
			st.ID = uuid.New().String()
		}
		st.MissionID = missionID
		st.Position = i
		if st.EstimatedDuration <= 0 {
			st.EstimatedDuration = 15
		}
		switch st.Difficulty {
		case domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard:
		default:
			st.Difficulty = domain.DifficultyMedium
		}
		if st.Status != "completed" {
			st.Status = "pending"
		}
		out = append(out, st)
	}
	return out
}

func validateJSON(in string) error {
	var tmp any
	if err := json.Unmarshal([]byte(in), &tmp); err != nil {
		return err
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
