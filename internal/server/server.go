package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"rentline/internal/autonomy"
	"rentline/internal/domain"
	"rentline/internal/heartbeat"
	"rentline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   heartbeat.Engine
	BasePath string
	Auth     AuthConfig
}

// apiError is the flat error envelope every endpoint uses.
type apiError struct {
	status  int
	Message string `json:"error" example:"Unauthorized"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func newAPIError(status int, message string) huma.StatusError {
	return &apiError{status: status, Message: message}
}

// New returns an HTTP handler exposing the Rentline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Rentline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerHeartbeat(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerActions(group, cfg.Engine)
	registerAutonomy(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not found")
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, msg)
	}
	return newAPIError(http.StatusInternalServerError, "internal error")
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
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Rentline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;. The heartbeat endpoint
      also accepts X-Cron-Secret.
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

// heartbeatError carries the summary shape on a 500 so schedulers always get
// the same body to parse.
type heartbeatError struct {
	status int
	domain.HeartbeatSummary
}

func (e *heartbeatError) GetStatus() int { return e.status }
func (e *heartbeatError) Error() string  { return strings.Join(e.Errors, "; ") }

func registerHeartbeat(api huma.API, e heartbeat.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-heartbeat",
		Method:      http.MethodPost,
		Path:        "/heartbeat",
		Summary:     "Run the proactive sweep",
		Description: "Scans every opted-in user (or one user when user_id is set), creates tasks and auto-executes low-risk actions per each user's autonomy policy.",
	}, func(ctx context.Context, input *heartbeatInput) (*heartbeatOutput, error) {
		p, ok := principalFromContext(ctx)
		if !ok || !p.canRunHeartbeat() {
			return nil, newAPIError(http.StatusUnauthorized, "Unauthorized")
		}
		summary, err := e.Run(ctx, input.UserID)
		if err != nil {
			return nil, &heartbeatError{
				status: http.StatusInternalServerError,
				HeartbeatSummary: domain.HeartbeatSummary{
					Errors: []string{err.Error()},
				},
			}
		}
		return &heartbeatOutput{Body: summary}, nil
	})
}

func registerTasks(api huma.API, e heartbeat.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *listTasksInput) (*tasksOutput, error) {
		userID, err := scopedUserID(ctx, input.UserID)
		if err != nil {
			return nil, err
		}
		tasks, lerr := e.Repo.ListTasks(ctx, repo.TaskFilters{
			UserID:   userID,
			Status:   input.Status,
			Category: input.Category,
			OpenOnly: input.Open,
			Limit:    input.Limit,
		})
		if lerr != nil {
			return nil, handleError(lerr)
		}
		return &tasksOutput{Body: tasksBody{Tasks: tasks}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		task, err := loadOwnedTask(ctx, e, input.TaskID)
		if err != nil {
			return nil, err
		}
		return &taskOutput{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/approve",
		Summary:     "Approve task",
		Description: "Owner approves the recommended action: the task moves to in_progress and the timeline records the approval.",
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		return mutateTaskStatus(ctx, e, input.TaskID, "in_progress", "Owner approved the recommended action")
	})

	huma.Register(api, huma.Operation{
		OperationID: "dismiss-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/dismiss",
		Summary:     "Dismiss task",
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		return mutateTaskStatus(ctx, e, input.TaskID, "cancelled", "Dismissed by owner")
	})
}

func loadOwnedTask(ctx context.Context, e heartbeat.Engine, taskID string) (domain.Task, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok {
		return domain.Task{}, newAPIError(http.StatusUnauthorized, "Unauthorized")
	}
	task, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, handleError(err)
	}
	if !p.isAdmin() && task.UserID != p.UserID {
		return domain.Task{}, newAPIError(http.StatusNotFound, "not found")
	}
	return task, nil
}

func mutateTaskStatus(ctx context.Context, e heartbeat.Engine, taskID, status, action string) (*taskOutput, error) {
	if _, err := loadOwnedTask(ctx, e, taskID); err != nil {
		return nil, err
	}
	now := e.Now().UTC().Format(time.RFC3339)
	entryStatus := "current"
	if status == "cancelled" {
		entryStatus = "completed"
	}
	task, err := e.Repo.UpdateTaskStatus(ctx, taskID, status, domain.TimelineEntry{
		TS:     now,
		Action: action,
		Status: entryStatus,
	}, now)
	if err != nil {
		return nil, handleError(err)
	}
	return &taskOutput{Body: task}, nil
}

func registerActions(api huma.API, e heartbeat.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "List proactive action log",
	}, func(ctx context.Context, input *listActionsInput) (*actionsOutput, error) {
		userID, err := scopedUserID(ctx, input.UserID)
		if err != nil {
			return nil, err
		}
		actions, lerr := e.Repo.ListActions(ctx, userID, input.Limit)
		if lerr != nil {
			return nil, handleError(lerr)
		}
		return &actionsOutput{Body: actionsBody{Actions: actions}}, nil
	})
}

func registerAutonomy(api huma.API, e heartbeat.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-autonomy",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/autonomy",
		Summary:     "Get autonomy settings",
	}, func(ctx context.Context, input *userPath) (*autonomyOutput, error) {
		if err := requireSelfOrAdmin(ctx, input.UserID); err != nil {
			return nil, err
		}
		settings, err := e.Repo.GetAutonomySettings(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &autonomyOutput{Body: settings}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-autonomy",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}/autonomy",
		Summary:     "Set autonomy settings",
		Description: "Opts the user into the proactive sweep and sets their preset and per-category overrides.",
	}, func(ctx context.Context, input *putAutonomyInput) (*autonomyOutput, error) {
		if err := requireSelfOrAdmin(ctx, input.UserID); err != nil {
			return nil, err
		}
		if !autonomy.ValidPreset(input.Body.Preset) {
			return nil, newAPIError(http.StatusBadRequest, fmt.Sprintf("unknown preset %q", input.Body.Preset))
		}
		for category, level := range input.Body.Overrides {
			if !autonomy.ValidLevel(level) {
				return nil, newAPIError(http.StatusBadRequest, fmt.Sprintf("override for %s must be L0..L4, got %q", category, level))
			}
		}
		settings := domain.AutonomySettings{
			UserID:    input.UserID,
			Preset:    input.Body.Preset,
			Overrides: input.Body.Overrides,
			UpdatedAt: e.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.UpsertAutonomySettings(ctx, settings); err != nil {
			return nil, handleError(err)
		}
		return &autonomyOutput{Body: settings}, nil
	})
}

// scopedUserID resolves which user's data a list endpoint may read: admins can
// pass any user_id, everyone else is pinned to their own.
func scopedUserID(ctx context.Context, requested string) (string, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok {
		return "", newAPIError(http.StatusUnauthorized, "Unauthorized")
	}
	if p.isAdmin() && requested != "" {
		return requested, nil
	}
	if requested != "" && requested != p.UserID {
		return "", newAPIError(http.StatusForbidden, "cannot read another user's data")
	}
	return p.UserID, nil
}

func requireSelfOrAdmin(ctx context.Context, userID string) huma.StatusError {
	p, ok := principalFromContext(ctx)
	if !ok {
		return newAPIError(http.StatusUnauthorized, "Unauthorized")
	}
	if p.isAdmin() || p.UserID == userID {
		return nil
	}
	return newAPIError(http.StatusForbidden, "cannot modify another user's settings")
}
