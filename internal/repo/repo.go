package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"orbit/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const missionColumns = `id,owner_id,title,description,status,duration,actual_duration,suggestions_json,ai_provider,template,recurring_json,created_at,started_at,completed_at,last_completed_at`

func (r Repo) InsertMission(ctx context.Context, tx *sql.Tx, m domain.Mission) error {
	suggestions, err := marshalSuggestions(m.Suggestions)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO missions(`+missionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.OwnerID, m.Title, m.Description, m.Status, m.Duration, nullableIntPtr(m.ActualDuration),
		suggestions, m.AIProvider, m.Template, nullableStringPtr(m.RecurringJSON),
		m.CreatedAt, nullableStringPtr(m.StartedAt), nullableStringPtr(m.CompletedAt), nullableStringPtr(m.LastCompletedAt))
	if err != nil {
		return err
	}
	return r.replaceSubtasks(ctx, tx, m.ID, m.Subtasks)
}

func (r Repo) UpdateMission(ctx context.Context, tx *sql.Tx, m domain.Mission) error {
	suggestions, err := marshalSuggestions(m.Suggestions)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE missions SET title=?, description=?, status=?, duration=?, actual_duration=?, suggestions_json=?, ai_provider=?, template=?, recurring_json=?, started_at=?, completed_at=?, last_completed_at=? WHERE id=?`,
		m.Title, m.Description, m.Status, m.Duration, nullableIntPtr(m.ActualDuration),
		suggestions, m.AIProvider, m.Template, nullableStringPtr(m.RecurringJSON),
		nullableStringPtr(m.StartedAt), nullableStringPtr(m.CompletedAt), nullableStringPtr(m.LastCompletedAt), m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// StartMissionIfIdle flips the mission to in-progress only when the owner has
// no other in-progress mission. The guard lives in the statement itself so two
// concurrent starts cannot both succeed. Returns false on conflict.
func (r Repo) StartMissionIfIdle(ctx context.Context, tx *sql.Tx, id, ownerID, startedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE missions SET status=?, started_at=? WHERE id=? AND owner_id=? AND status=?
AND NOT EXISTS (SELECT 1 FROM missions WHERE owner_id=? AND status=? AND id != ?)`,
		domain.StatusInProgress, startedAt, id, ownerID, domain.StatusPending,
		ownerID, domain.StatusInProgress, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	m, err := scanMission(r.DB.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id=?`, id))
	if err != nil {
		return m, err
	}
	m.Subtasks, err = r.ListSubtasks(ctx, m.ID)
	return m, err
}

func (r Repo) GetMissionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Mission, error) {
	m, err := scanMission(tx.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id=?`, id))
	if err != nil {
		return m, err
	}
	m.Subtasks, err = listSubtasks(ctx, tx, m.ID)
	return m, err
}

// ActiveMission returns the owner's in-progress mission, or ErrNotFound.
func (r Repo) ActiveMission(ctx context.Context, ownerID string) (domain.Mission, error) {
	m, err := scanMission(r.DB.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE owner_id=? AND status=? LIMIT 1`, ownerID, domain.StatusInProgress))
	if err != nil {
		return m, err
	}
	m.Subtasks, err = r.ListSubtasks(ctx, m.ID)
	return m, err
}

type MissionFilters struct {
	OwnerID         string
	Status          string
	Template        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListMissions(ctx context.Context, f MissionFilters) ([]domain.Mission, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Template != "" {
		clauses = append(clauses, "template=?")
		args = append(args, f.Template)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + missionColumns + ` FROM missions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMissionRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Subtasks, err = r.ListSubtasks(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// CompletedMissions returns completions newest first, for streak and
// achievement computation. Subtasks are not loaded.
func (r Repo) CompletedMissions(ctx context.Context, ownerID string) ([]domain.Mission, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE owner_id=? AND status=? AND completed_at IS NOT NULL ORDER BY completed_at DESC, id DESC`,
		ownerID, domain.StatusComplete)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMissionRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) DeleteMission(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM missions WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) CountMissionsByStatus(ctx context.Context, ownerID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM missions WHERE owner_id=? GROUP BY status`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) ReplaceSubtasks(ctx context.Context, tx *sql.Tx, missionID string, subtasks []domain.Subtask) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE mission_id=?`, missionID); err != nil {
		return err
	}
	return r.replaceSubtasks(ctx, tx, missionID, subtasks)
}

func (r Repo) replaceSubtasks(ctx context.Context, tx *sql.Tx, missionID string, subtasks []domain.Subtask) error {
	for i, st := range subtasks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO subtasks(id,mission_id,title,estimated_duration,difficulty,status,position) VALUES (?,?,?,?,?,?,?)`,
			st.ID, missionID, st.Title, st.EstimatedDuration, st.Difficulty, st.Status, i); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListSubtasks(ctx context.Context, missionID string) ([]domain.Subtask, error) {
	return listSubtasks(ctx, r.DB, missionID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listSubtasks(ctx context.Context, q querier, missionID string) ([]domain.Subtask, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,mission_id,title,estimated_duration,difficulty,status,position FROM subtasks WHERE mission_id=? ORDER BY position ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Subtask
	for rows.Next() {
		var st domain.Subtask
		if err := rows.Scan(&st.ID, &st.MissionID, &st.Title, &st.EstimatedDuration, &st.Difficulty, &st.Status, &st.Position); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

func (r Repo) UpdateSubtaskStatus(ctx context.Context, tx *sql.Tx, missionID, subtaskID, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE subtasks SET status=? WHERE id=? AND mission_id=?`, status, subtaskID, missionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, ownerID, evtType, missionID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, ownerID, evtType, missionID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, ownerID, evtType, missionID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if ownerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, ownerID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if missionID != "" {
		clauses = append(clauses, "mission_id=?")
		args = append(args, missionID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,owner_id,mission_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, ownerID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if ownerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, ownerID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,owner_id,mission_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OwnerID, &e.MissionID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for an owner.
func (r Repo) LatestEventID(ctx context.Context, ownerID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE owner_id=?`, ownerID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(row *sql.Row) (domain.Mission, error) {
	m, err := scanMissionFrom(row)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func scanMissionRows(rows *sql.Rows) (domain.Mission, error) {
	return scanMissionFrom(rows)
}

func scanMissionFrom(s rowScanner) (domain.Mission, error) {
	var m domain.Mission
	var actualDuration sql.NullInt64
	var suggestions, recurring, startedAt, completedAt, lastCompletedAt sql.NullString
	err := s.Scan(&m.ID, &m.OwnerID, &m.Title, &m.Description, &m.Status, &m.Duration, &actualDuration,
		&suggestions, &m.AIProvider, &m.Template, &recurring, &m.CreatedAt, &startedAt, &completedAt, &lastCompletedAt)
	if err != nil {
		return m, err
	}
	if actualDuration.Valid {
		v := int(actualDuration.Int64)
		m.ActualDuration = &v
	}
	if suggestions.Valid && suggestions.String != "" {
		if err := json.Unmarshal([]byte(suggestions.String), &m.Suggestions); err != nil {
			return m, fmt.Errorf("decode suggestions for %s: %w", m.ID, err)
		}
	}
	if recurring.Valid {
		m.RecurringJSON = &recurring.String
	}
	if startedAt.Valid {
		m.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		m.CompletedAt = &completedAt.String
	}
	if lastCompletedAt.Valid {
		m.LastCompletedAt = &lastCompletedAt.String
	}
	return m, nil
}

func marshalSuggestions(suggestions []string) (any, error) {
	if len(suggestions) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(suggestions)
	if err != nil {
		return nil, fmt.Errorf("marshal suggestions: %w", err)
	}
	return string(data), nil
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
