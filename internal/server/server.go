package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"orbit/internal/breakdown"
	"orbit/internal/domain"
	"orbit/internal/engine"
	"orbit/internal/repo"
	"orbit/internal/stats"
	"orbit/internal/watch"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Analyzer *breakdown.Analyzer
	Watcher  *watch.Watcher
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"mission_active"`
	Message string         `json:"message" example:"another mission is already in progress"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"cursor\":\"abc\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope used by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Orbit API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	analyzer := cfg.Analyzer
	if analyzer == nil {
		analyzer = breakdown.NewAnalyzer(context.Background(), cfg.Engine.Config, cfg.Auth.Logger)
	}
	watcher := cfg.Watcher
	if watcher == nil {
		watcher = watch.New(cfg.Engine.Repo)
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Orbit API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMissions(group, cfg.Engine)
	registerTemplates(group, cfg.Engine)
	registerBreakdown(group, cfg.Engine, analyzer)
	registerStats(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerWatch(router, basePath, watcher)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrMissionActive):
		return newAPIError(http.StatusConflict, "mission_active", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, engine.ErrEmptyTitle):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, engine.ErrUnknownTemplate):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// ownedMission fetches a mission and hides it behind not_found when it
// belongs to somebody else.
func ownedMission(ctx context.Context, e engine.Engine, ownerID, id string) (domain.Mission, error) {
	m, err := e.Repo.GetMission(ctx, id)
	if err != nil {
		return domain.Mission{}, err
	}
	if m.OwnerID != ownerID {
		return domain.Mission{}, repo.ErrNotFound
	}
	return m, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Orbit API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-mission",
		Method:        http.MethodPost,
		Path:          "/missions",
		Summary:       "Create mission",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateMissionRequest `json:"body"`
	}) (*struct {
		Body MissionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		ownerID, authErr := ownerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.MissionCreateOptions{
			OwnerID:     ownerID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Subtasks:    subtasksFromRequest(input.Body.Subtasks),
			ActorID:     ownerID,
		}
		if input.Body.Duration != nil {
			opts.Duration = *input.Body.Duration
		}
		if input.Body.Recurring != nil {
			data, err := json.Marshal(input.Body.Recurring)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid recurring", map[string]any{"error": err.Error()})
			}
			opts.RecurringJSON = string(data)
		}
		m, err := e.CreateMission(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MissionResponse `json:"body"`
		}{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:",pending,in-progress,complete"`
		Template string `query:"template"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedMissions `json:"body"`
	}, error) {
		ownerID, authErr := ownerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filter := repo.MissionFilters{
			OwnerID:         ownerID,
			Status:          input.Status,
			Template:        input.Template,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		missions, err := e.Repo.ListMissions(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedMissions{Items: []MissionResponse{}}
		if len(missions) > limit {
			resp.NextCursor = composeCursor(missions[limit].CreatedAt, missions[limit].ID)
			missions = missions[:limit]
		}
		resp.Items = mapMissions(missions)
		return &struct {
			Body paginatedMissions `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission",
		Method:      http.MethodGet,
		Path:        "/missions/{id}",
		Summary:     "Get mission",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body MissionResponse `json:"body"`
	}, error) {
		ownerID, authErr := ownerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := ownedMission(ctx, e, ownerID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MissionResponse `json:"body"`
		}{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-mission",
		Method:      http.MethodPatch,
		Path:        "/missions/{id}",
		Summary:     "Update mission",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdateMissionRequest `json:"body"`
	}) (*struct {
		Body MissionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		ownerID, authErr := ownerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ownedMission(ctx, e, ownerID, input.ID); err != nil {
			return nil, handleError(err)
		}
		opts := engine.MissionUpdateOptions{
			ID:          input.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Duration:    input.Body.Duration,
			ActorID:     ownerID,
		}
		bodyMap := rawBodyMap(ctx)
		if _, ok := bodyMap["subtasks"]; ok {
			opts.Subtasks = subtasksFromRequest(input.Body.Subtasks)
			if opts.Subtasks == nil {
				opts.Subtasks = []domain.Subtask{}
			}
		}
		if _, ok := bodyMap["recurring"]; ok {
			if input.Body.Recurring == nil {
				empty := ""
				opts.RecurringJSON = &empty
			} else {
				data, err := json.Marshal(*input.Body.Recurring)
				if err != nil {
					return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid recurring", map[string]any{"error": err.Error()})
				}
				asStr := string(data)
				opts.RecurringJSON = &asStr
			}
		}
		m, err := e.UpdateMission(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MissionResponse `json:"body"`
		}{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-mission",
		Method:        http.MethodDelete,
		Path:          "/missions/{id}",
		Summary:       "Delete mission",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		ownerID, authErr := ownerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ownedMission(ctx, e, ownerID, input.ID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				// Deleting something already gone is a no-op.
				return &struct{}{}, nil
			}
			return nil, handleError(err)
		}
		if err := e.DeleteMission(ctx, input.ID, ownerID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{id}/start",
		Summary:     "Start mission",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body MissionResponse `json:"body"`
	}, error) {
		ownerID, authErr := ownerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ownedMission(ctx, e, ownerID, input.ID); err != nil {
			return nil, handleError(err)
		}
		m, err := e.StartMission(ctx, input.ID, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MissionResponse `json:"body"`
		}{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{id}/complete",
		Summary:     "Complete mission",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body MissionResponse `json:"body"`
	}, error) {
		ownerID, authErr := ownerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ownedMission(ctx, e, ownerID, input.ID); err != nil {
			return nil, handleError(err)
		}
		m, err := e.CompleteMission(ctx, input.ID, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MissionResponse `json:"body"`
		}{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revert-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{id}/revert",
		Summary:     "Revert mission to pending",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body MissionResponse `json:"body"`
	}, error) {
		ownerID, authErr := ownerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ownedMission(ctx, e, ownerID, input.ID); err != nil {
			return nil, handleError(err)
		}
		m, err := e.RevertMission(ctx, input.ID, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MissionResponse `json:"body"`
		}{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-subtask-status",
		Method:      http.MethodPost,
		Path:        "/missions/{id}/subtasks/{subtask_id}",
		Summary:     "Set subtask status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID        string                  `path:"id"`
		SubtaskID string                  `path:"subtask_id"`
		Body      SetSubtaskStatusRequest `json:"body"`
	}) (*struct {
		Body MissionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		ownerID, authErr := ownerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := ownedMission(ctx, e, ownerID, input.ID); err != nil {
			return nil, handleError(err)
		}
		m, err := e.SetSubtaskStatus(ctx, input.ID, input.SubtaskID, input.Body.Status, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MissionResponse `json:"body"`
		}{Body: missionResponse(m)}, nil
	})
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List mission templates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TemplateResponse `json:"body"`
	}, error) {
		items := engine.Templates()
		resp := make([]TemplateResponse, 0, len(items))
		for _, t := range items {
			resp = append(resp, TemplateResponse{
				ID:          t.ID,
				Name:        t.Name,
				Description: t.Description,
				Duration:    t.Duration,
			})
		}
		return &struct {
			Body []TemplateResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-mission-from-template",
		Method:        http.MethodPost,
		Path:          "/missions/from-template",
		Summary:       "Create mission from template",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body FromTemplateRequest `json:"body"`
	}) (*struct {
		Body MissionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.TemplateID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "template_id is required", nil)
		}
		ownerID, authErr := ownerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateFromTemplate(ctx, ownerID, input.Body.TemplateID, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MissionResponse `json:"body"`
		}{Body: missionResponse(m)}, nil
	})
}

func registerBreakdown(api huma.API, e engine.Engine, analyzer *breakdown.Analyzer) {
	huma.Register(api, huma.Operation{
		OperationID: "analyze-task",
		Method:      http.MethodPost,
		Path:        "/breakdown",
		Summary:     "Break a task into subtasks",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body BreakdownRequest `json:"body"`
	}) (*struct {
		Body BreakdownResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.Task) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "task is required", nil)
		}
		if _, authErr := ownerIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		res := analyzer.Analyze(ctx, input.Body.Task)
		return &struct {
			Body BreakdownResponse `json:"body"`
		}{Body: breakdownResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "breakdown-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{id}/breakdown",
		Summary:     "Break a mission into subtasks and attach them",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body MissionResponse `json:"body"`
	}, error) {
		ownerID, authErr := ownerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := ownedMission(ctx, e, ownerID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		task := m.Title
		if m.Description != "" {
			task = m.Title + "\n" + m.Description
		}
		res := analyzer.Analyze(ctx, task)
		updated, err := e.AttachBreakdown(ctx, m.ID, res.Subtasks, res.Suggestions, res.Provider, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MissionResponse `json:"body"`
		}{Body: missionResponse(updated)}, nil
	})
}

func breakdownResponse(res breakdown.Result) BreakdownResponse {
	resp := BreakdownResponse{
		Title:       res.Title,
		Provider:    res.Provider,
		Suggestions: res.Suggestions,
		Subtasks:    []SubtaskResponse{},
	}
	for _, st := range res.Subtasks {
		resp.Subtasks = append(resp.Subtasks, subtaskResponse(st))
	}
	return resp
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Owner statistics",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatsResponse `json:"body"`
	}, error) {
		ownerID, authErr := ownerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := ownerStats(ctx, e, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatsResponse `json:"body"`
		}{Body: s}, nil
	})
}

func ownerStats(ctx context.Context, e engine.Engine, ownerID string) (StatsResponse, error) {
	counts, err := e.Repo.CountMissionsByStatus(ctx, ownerID)
	if err != nil {
		return StatsResponse{}, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	resp := StatsResponse{
		TotalMissions:     total,
		CompletedMissions: counts[domain.StatusComplete],
	}
	active, err := e.Repo.ActiveMission(ctx, ownerID)
	if err == nil {
		m := missionResponse(active)
		resp.ActiveMission = &m
	} else if !errors.Is(err, repo.ErrNotFound) {
		return StatsResponse{}, err
	}
	completed, err := e.Repo.CompletedMissions(ctx, ownerID)
	if err != nil {
		return StatsResponse{}, err
	}
	loc := time.Local
	resp.CurrentStreak = stats.Streak(completed, loc)
	resp.BestStreak = stats.BestStreak(completed, loc)
	for _, a := range stats.Achievements(completed, loc) {
		resp.Achievements = append(resp.Achievements, AchievementResponse{Label: a.Label, Icon: a.Icon})
	}
	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}
	for _, a := range stats.RecentAchievements(completed, now, loc) {
		resp.RecentAchievements = append(resp.RecentAchievements, AchievementResponse{Label: a.Label, Icon: a.Icon})
	}
	return resp, nil
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Type      string `query:"type"`
		MissionID string `query:"mission_id"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		ownerID, authErr := ownerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, ownerID, input.Type, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

// registerWatch streams the owner's missions over SSE whenever anything
// changes. It sits on chi directly since huma does not model long-lived
// streams well.
func registerWatch(r chi.Router, basePath string, watcher *watch.Watcher) {
	watchPath := path.Join(basePath, "missions/watch")
	r.Get(watchPath, func(w http.ResponseWriter, req *http.Request) {
		ownerID, authErr := ownerIDFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
			return
		}
		updates := make(chan []domain.Mission, 8)
		errs := make(chan error, 1)
		cancel, err := watcher.Subscribe(req.Context(), ownerID, func(missions []domain.Mission) {
			queueLatest(updates, missions)
		}, func(err error) {
			select {
			case errs <- err:
			default:
			}
		})
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-req.Context().Done():
				return
			case <-errs:
				fmt.Fprint(w, "event: error\ndata: {\"message\":\"watch failed\"}\n\n")
				flusher.Flush()
				return
			case missions := <-updates:
				payload, err := json.Marshal(mapMissions(missions))
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: missions\ndata: %s\n\n", payload)
				flusher.Flush()
			}
		}
	})
}

// queueLatest enqueues a mission snapshot, evicting the oldest queued one
// when the client has fallen behind. The newest set always goes out.
func queueLatest(updates chan []domain.Mission, missions []domain.Mission) {
	for {
		select {
		case updates <- missions:
			return
		default:
		}
		select {
		case <-updates:
		default:
		}
	}
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	if inner, ok := outer["body"]; ok {
		var innerMap map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerMap); err == nil {
			return innerMap
		}
	}
	return outer
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
