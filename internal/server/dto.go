package server

import "rentline/internal/domain"

type heartbeatInput struct {
	UserID string `query:"user_id" doc:"Limit the sweep to one user, bypassing opt-in enumeration"`
}

type heartbeatOutput struct {
	Body domain.HeartbeatSummary `json:"body"`
}

type listTasksInput struct {
	UserID   string `query:"user_id" doc:"Admin only: read another user's tasks"`
	Status   string `query:"status"`
	Category string `query:"category"`
	Open     bool   `query:"open" doc:"Only tasks in an open status"`
	Limit    int    `query:"limit"`
}

type tasksBody struct {
	Tasks []domain.Task `json:"tasks"`
}

type tasksOutput struct {
	Body tasksBody `json:"body"`
}

type taskPath struct {
	TaskID string `path:"task_id"`
}

type taskOutput struct {
	Body domain.Task `json:"body"`
}

type listActionsInput struct {
	UserID string `query:"user_id" doc:"Admin only: read another user's action log"`
	Limit  int    `query:"limit"`
}

type actionsBody struct {
	Actions []domain.ProactiveAction `json:"actions"`
}

type actionsOutput struct {
	Body actionsBody `json:"body"`
}

type userPath struct {
	UserID string `path:"user_id"`
}

type putAutonomyInput struct {
	UserID string `path:"user_id"`
	Body   struct {
		Preset    string            `json:"preset" enum:"cautious,balanced,hands_off"`
		Overrides map[string]string `json:"overrides,omitempty"`
	} `json:"body"`
}

type autonomyOutput struct {
	Body domain.AutonomySettings `json:"body"`
}
