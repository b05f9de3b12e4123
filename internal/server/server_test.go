package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"

	"orbit/internal/breakdown"
	"orbit/internal/config"
	"orbit/internal/db"
	"orbit/internal/domain"
	"orbit/internal/engine"
	"orbit/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("owner-1"))
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyOwnerHeader: true},
		Analyzer: &breakdown.Analyzer{},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-Id", "owner-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createMission(t *testing.T, srv *testServer, body map[string]any) MissionResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/missions", body, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create mission status %d: %s", res.StatusCode, string(data))
	}
	var m MissionResponse
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal mission: %v", err)
	}
	return m
}

func TestMissionLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createMission(t, srv, map[string]any{
		"title":    "Write report",
		"duration": 30,
	})
	if created.Status != "pending" || created.Duration != 30 {
		t.Fatalf("unexpected created mission: %+v", created)
	}

	startRes, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/missions/"+created.ID+"/start", nil, nil)
	if startRes.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", startRes.StatusCode, string(startBody))
	}
	var started MissionResponse
	_ = json.Unmarshal(startBody, &started)
	if started.Status != "in-progress" || started.StartedAt == nil {
		t.Fatalf("expected running mission, got %+v", started)
	}

	doneRes, doneBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/missions/"+created.ID+"/complete", nil, nil)
	if doneRes.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", doneRes.StatusCode, string(doneBody))
	}
	var done MissionResponse
	_ = json.Unmarshal(doneBody, &done)
	if done.Status != "complete" || done.CompletedAt == nil {
		t.Fatalf("expected completed mission, got %+v", done)
	}

	revertRes, revertBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/missions/"+created.ID+"/revert", nil, nil)
	if revertRes.StatusCode != http.StatusOK {
		t.Fatalf("revert status %d: %s", revertRes.StatusCode, string(revertBody))
	}
	var reverted MissionResponse
	_ = json.Unmarshal(revertBody, &reverted)
	if reverted.Status != "pending" || reverted.CompletedAt != nil {
		t.Fatalf("expected pending mission, got %+v", reverted)
	}
	if reverted.LastCompletedAt == nil {
		t.Fatalf("expected completion history kept")
	}
}

func TestStartConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	first := createMission(t, srv, map[string]any{"title": "first"})
	second := createMission(t, srv, map[string]any{"title": "second"})

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/missions/"+first.ID+"/start", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start first: %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/missions/"+second.ID+"/start", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "mission_active" {
		t.Fatalf("expected mission_active code, got %q", envelope.Error.Code)
	}
}

func TestOwnerIsolation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	mine := createMission(t, srv, map[string]any{"title": "mine"})

	// another owner cannot see or act on it
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/missions/"+mine.ID, nil, map[string]string{"X-Owner-Id": "owner-2"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for other owner, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/missions/"+mine.ID+"/start", nil, map[string]string{"X-Owner-Id": "owner-2"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on start for other owner, got %d %s", res.StatusCode, string(body))
	}

	// listing only returns your own missions
	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/missions", nil, map[string]string{"X-Owner-Id": "owner-2"})
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", listRes.StatusCode, string(listBody))
	}
	var page paginatedMissions
	_ = json.Unmarshal(listBody, &page)
	if len(page.Items) != 0 {
		t.Fatalf("expected empty list for other owner, got %d items", len(page.Items))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/missions", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	// health stays open
	healthReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/health", nil)
	healthRes, err := srv.Client().Do(healthReq)
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer healthRes.Body.Close()
	if healthRes.StatusCode != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", healthRes.StatusCode)
	}
}

func TestListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, title := range []string{"a", "b", "c"} {
		createMission(t, srv, map[string]any{"title": title})
	}

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/missions?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	var page paginatedMissions
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected 2 items with cursor, got %d items cursor %q", len(page.Items), page.NextCursor)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/missions?limit=2&cursor="+url.QueryEscape(page.NextCursor), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page status %d: %s", res.StatusCode, string(body))
	}
	var rest paginatedMissions
	_ = json.Unmarshal(body, &rest)
	if len(rest.Items) != 1 || rest.NextCursor != "" {
		t.Fatalf("expected final page with 1 item, got %d items cursor %q", len(rest.Items), rest.NextCursor)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	m := createMission(t, srv, map[string]any{"title": "gone"})
	res, body := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/missions/"+m.ID, nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/missions/"+m.ID, nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected idempotent delete, got %d %s", res.StatusCode, string(body))
	}
}

func TestTemplates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/templates", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("templates status %d: %s", res.StatusCode, string(body))
	}
	var templates []TemplateResponse
	if err := json.Unmarshal(body, &templates); err != nil {
		t.Fatalf("unmarshal templates: %v", err)
	}
	if len(templates) != 4 {
		t.Fatalf("expected 4 templates, got %d", len(templates))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/missions/from-template", map[string]any{
		"template_id": "quick-task",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("from-template status %d: %s", res.StatusCode, string(body))
	}
	var m MissionResponse
	_ = json.Unmarshal(body, &m)
	if m.Template != "quick-task" || m.Duration != 15 {
		t.Fatalf("unexpected template mission: %+v", m)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/missions/from-template", map[string]any{
		"template_id": "nope",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown template, got %d %s", res.StatusCode, string(body))
	}
}

func TestBreakdownFallback(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/breakdown", map[string]any{
		"task": "clean the kitchen",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("breakdown status %d: %s", res.StatusCode, string(body))
	}
	var breakdownOut BreakdownResponse
	if err := json.Unmarshal(body, &breakdownOut); err != nil {
		t.Fatalf("unmarshal breakdown: %v", err)
	}
	if breakdownOut.Provider != "fallback" || len(breakdownOut.Subtasks) != 3 {
		t.Fatalf("expected canned fallback, got %+v", breakdownOut)
	}
	if breakdownOut.Title != "clean the kitchen" {
		t.Fatalf("expected task text as title, got %q", breakdownOut.Title)
	}

	m := createMission(t, srv, map[string]any{"title": "big chore"})
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/missions/"+m.ID+"/breakdown", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mission breakdown status %d: %s", res.StatusCode, string(body))
	}
	var withPlan MissionResponse
	_ = json.Unmarshal(body, &withPlan)
	if len(withPlan.Subtasks) != 3 || withPlan.AIProvider != "fallback" {
		t.Fatalf("expected attached breakdown, got %+v", withPlan)
	}
}

func TestQueueLatestKeepsNewestSnapshot(t *testing.T) {
	updates := make(chan []domain.Mission, 2)
	queueLatest(updates, []domain.Mission{{ID: "a"}})
	queueLatest(updates, []domain.Mission{{ID: "b"}})
	queueLatest(updates, []domain.Mission{{ID: "c"}})

	first := <-updates
	second := <-updates
	if first[0].ID != "b" || second[0].ID != "c" {
		t.Fatalf("expected oldest snapshot evicted, got %q then %q", first[0].ID, second[0].ID)
	}
	select {
	case extra := <-updates:
		t.Fatalf("unexpected extra snapshot %v", extra)
	default:
	}
}

func TestStatsAndEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	m := createMission(t, srv, map[string]any{"title": "count me"})
	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/missions/"+m.ID+"/start", nil, nil)
	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/missions/"+m.ID+"/complete", nil, nil)

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/stats", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d: %s", res.StatusCode, string(body))
	}
	var stats StatsResponse
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.TotalMissions != 1 || stats.CompletedMissions != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.CurrentStreak != 1 || stats.BestStreak != 1 {
		t.Fatalf("expected one-day streak, got %+v", stats)
	}
	if len(stats.Achievements) == 0 {
		t.Fatalf("expected first mission achievement")
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(body))
	}
	var events paginatedEvents
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events.Items) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events.Items))
	}
}
