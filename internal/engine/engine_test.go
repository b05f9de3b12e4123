package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"orbit/internal/config"
	"orbit/internal/db"
	"orbit/internal/domain"
	"orbit/internal/engine"
	"orbit/internal/migrate"
	"orbit/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("owner-1"))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) create(t *testing.T, opts engine.MissionCreateOptions) domain.Mission {
	t.Helper()
	if opts.OwnerID == "" {
		opts.OwnerID = "owner-1"
	}
	if opts.ActorID == "" {
		opts.ActorID = "tester"
	}
	m, err := env.Engine.CreateMission(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	return m
}

func TestCreateRequiresTitle(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateMission(env.Ctx, engine.MissionCreateOptions{
		OwnerID: "owner-1",
		Title:   "   ",
		ActorID: "tester",
	})
	if !errors.Is(err, engine.ErrEmptyTitle) {
		t.Fatalf("expected empty title error, got %v", err)
	}
}

func TestDurationDerivation(t *testing.T) {
	env := newTestEnv(t)

	// no subtasks, no user value: default applies
	m := env.create(t, engine.MissionCreateOptions{Title: "plain"})
	if m.Duration != 25 {
		t.Fatalf("expected default duration 25, got %d", m.Duration)
	}

	// user value wins when there are no subtasks
	m = env.create(t, engine.MissionCreateOptions{Title: "timed", Duration: 40})
	if m.Duration != 40 {
		t.Fatalf("expected duration 40, got %d", m.Duration)
	}

	// subtask estimates override the user value
	m = env.create(t, engine.MissionCreateOptions{
		Title:    "broken down",
		Duration: 99,
		Subtasks: []domain.Subtask{
			{Title: "a", EstimatedDuration: 10},
			{Title: "b", EstimatedDuration: 15},
		},
	})
	if m.Duration != 25 {
		t.Fatalf("expected summed duration 25, got %d", m.Duration)
	}
	if len(m.Subtasks) != 2 || m.Subtasks[0].ID == "" || m.Subtasks[1].Position != 1 {
		t.Fatalf("expected normalized subtasks, got %+v", m.Subtasks)
	}
}

func TestSingleActiveMission(t *testing.T) {
	env := newTestEnv(t)
	first := env.create(t, engine.MissionCreateOptions{Title: "first"})
	second := env.create(t, engine.MissionCreateOptions{Title: "second"})

	started, err := env.Engine.StartMission(env.Ctx, first.ID, "tester")
	if err != nil {
		t.Fatalf("start first: %v", err)
	}
	if started.Status != domain.StatusInProgress || started.StartedAt == nil {
		t.Fatalf("expected in-progress with start time, got %+v", started)
	}

	// second mission for the same owner is blocked
	_, err = env.Engine.StartMission(env.Ctx, second.ID, "tester")
	if !errors.Is(err, engine.ErrMissionActive) {
		t.Fatalf("expected active mission conflict, got %v", err)
	}

	// a different owner is unaffected
	other := env.create(t, engine.MissionCreateOptions{OwnerID: "owner-2", Title: "elsewhere"})
	if _, err := env.Engine.StartMission(env.Ctx, other.ID, "tester"); err != nil {
		t.Fatalf("start for other owner: %v", err)
	}
}

func TestStartRequiresPending(t *testing.T) {
	env := newTestEnv(t)
	m := env.create(t, engine.MissionCreateOptions{Title: "once"})
	if _, err := env.Engine.StartMission(env.Ctx, m.ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := env.Engine.StartMission(env.Ctx, m.ID, "tester")
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected transition error, got %v", err)
	}
}

func TestCompleteRecordsActualDuration(t *testing.T) {
	env := newTestEnv(t)
	m := env.create(t, engine.MissionCreateOptions{Title: "timed run", Duration: 30})
	if _, err := env.Engine.StartMission(env.Ctx, m.ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// advance the clock 42 minutes before completing
	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 42, 0, 0, time.UTC) }
	done, err := env.Engine.CompleteMission(env.Ctx, m.ID, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.StatusComplete {
		t.Fatalf("expected complete, got %s", done.Status)
	}
	if done.ActualDuration == nil || *done.ActualDuration != 42 {
		t.Fatalf("expected actual duration 42, got %v", done.ActualDuration)
	}
	if done.StartedAt != nil {
		t.Fatalf("expected start marker cleared")
	}
	if done.CompletedAt == nil || done.LastCompletedAt == nil || *done.CompletedAt != *done.LastCompletedAt {
		t.Fatalf("expected matching completion markers, got %+v", done)
	}

	// completing again is not allowed
	_, err = env.Engine.CompleteMission(env.Ctx, m.ID, "tester")
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected transition error, got %v", err)
	}
}

func TestRevertKeepsCompletionHistory(t *testing.T) {
	env := newTestEnv(t)
	m := env.create(t, engine.MissionCreateOptions{Title: "redo"})
	_, _ = env.Engine.StartMission(env.Ctx, m.ID, "tester")
	done, err := env.Engine.CompleteMission(env.Ctx, m.ID, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	reverted, err := env.Engine.RevertMission(env.Ctx, m.ID, "tester")
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", reverted.Status)
	}
	if reverted.StartedAt != nil || reverted.CompletedAt != nil || reverted.ActualDuration != nil {
		t.Fatalf("expected run markers cleared, got %+v", reverted)
	}
	if reverted.LastCompletedAt == nil || *reverted.LastCompletedAt != *done.CompletedAt {
		t.Fatalf("expected last completion kept, got %v", reverted.LastCompletedAt)
	}

	// reverting a pending mission is an error
	_, err = env.Engine.RevertMission(env.Ctx, m.ID, "tester")
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected transition error, got %v", err)
	}
}

func TestRevertFromInProgress(t *testing.T) {
	env := newTestEnv(t)
	m := env.create(t, engine.MissionCreateOptions{Title: "abort"})
	_, _ = env.Engine.StartMission(env.Ctx, m.ID, "tester")

	reverted, err := env.Engine.RevertMission(env.Ctx, m.ID, "tester")
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted.Status != domain.StatusPending || reverted.StartedAt != nil {
		t.Fatalf("expected clean pending mission, got %+v", reverted)
	}

	// the owner can start a new mission again
	next := env.create(t, engine.MissionCreateOptions{Title: "next"})
	if _, err := env.Engine.StartMission(env.Ctx, next.ID, "tester"); err != nil {
		t.Fatalf("start after revert: %v", err)
	}
}

func TestCreateFromTemplate(t *testing.T) {
	env := newTestEnv(t)
	m, err := env.Engine.CreateFromTemplate(env.Ctx, "owner-1", "deep-focus", "tester")
	if err != nil {
		t.Fatalf("from template: %v", err)
	}
	if m.Template != "deep-focus" || m.Duration != 45 {
		t.Fatalf("unexpected template mission: %+v", m)
	}
	_, err = env.Engine.CreateFromTemplate(env.Ctx, "owner-1", "nope", "tester")
	if !errors.Is(err, engine.ErrUnknownTemplate) {
		t.Fatalf("expected unknown template error, got %v", err)
	}
}

func TestAttachBreakdownReplacesSubtasks(t *testing.T) {
	env := newTestEnv(t)
	m := env.create(t, engine.MissionCreateOptions{
		Title:    "rework",
		Subtasks: []domain.Subtask{{Title: "old", EstimatedDuration: 5}},
	})
	updated, err := env.Engine.AttachBreakdown(env.Ctx, m.ID, []domain.Subtask{
		{Title: "plan", EstimatedDuration: 10, Difficulty: domain.DifficultyEasy},
		{Title: "do", EstimatedDuration: 20, Difficulty: domain.DifficultyMedium},
	}, []string{"take a break after"}, "claude", "tester")
	if err != nil {
		t.Fatalf("attach breakdown: %v", err)
	}
	if len(updated.Subtasks) != 2 || updated.AIProvider != "claude" {
		t.Fatalf("unexpected breakdown result: %+v", updated)
	}
	if updated.Duration != 30 {
		t.Fatalf("expected rederived duration 30, got %d", updated.Duration)
	}
	fetched, err := env.Engine.Repo.GetMission(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("get mission: %v", err)
	}
	if len(fetched.Subtasks) != 2 || fetched.Subtasks[0].Title != "plan" {
		t.Fatalf("expected stored subtasks replaced, got %+v", fetched.Subtasks)
	}
}

func TestSetSubtaskStatus(t *testing.T) {
	env := newTestEnv(t)
	m := env.create(t, engine.MissionCreateOptions{
		Title:    "checklist",
		Subtasks: []domain.Subtask{{Title: "only", EstimatedDuration: 5}},
	})
	updated, err := env.Engine.SetSubtaskStatus(env.Ctx, m.ID, m.Subtasks[0].ID, "completed", "tester")
	if err != nil {
		t.Fatalf("set subtask status: %v", err)
	}
	if updated.Subtasks[0].Status != "completed" {
		t.Fatalf("expected completed subtask, got %+v", updated.Subtasks[0])
	}
	_, err = env.Engine.SetSubtaskStatus(env.Ctx, m.ID, m.Subtasks[0].ID, "done", "tester")
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestDeleteMissionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	m := env.create(t, engine.MissionCreateOptions{Title: "gone"})
	if err := env.Engine.DeleteMission(env.Ctx, m.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetMission(env.Ctx, m.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := env.Engine.DeleteMission(env.Ctx, m.ID, "tester"); err != nil {
		t.Fatalf("expected delete to be a no-op, got %v", err)
	}
}

func TestEventAppendOnLifecycle(t *testing.T) {
	env := newTestEnv(t)
	m := env.create(t, engine.MissionCreateOptions{Title: "evented"})
	_, _ = env.Engine.StartMission(env.Ctx, m.ID, "tester")
	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC) }
	_, _ = env.Engine.CompleteMission(env.Ctx, m.ID, "tester")

	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE mission_id=? ORDER BY id`, m.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var types []string
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			t.Fatalf("scan: %v", err)
		}
		types = append(types, typ)
	}
	if len(types) != 3 || types[0] != "mission.created" || types[2] != "mission.completed" {
		t.Fatalf("unexpected event trail: %v", types)
	}
}
