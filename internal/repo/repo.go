package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"rentline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
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

func inPlaceholders(n int) string {
	return strings.TrimRight(strings.Repeat("?,", n), ",")
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	timeline, err := marshalTimeline(t.Timeline)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO tasks(id,user_id,title,description,category,status,priority,recommendation,related_kind,related_id,deep_link,timeline_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, t.Title, nullable(t.Description), t.Category, t.Status, t.Priority,
		nullable(t.Recommendation), nullable(t.RelatedKind), nullable(t.RelatedID), nullable(t.DeepLink),
		nullable(timeline), t.CreatedAt, t.UpdatedAt)
	return err
}

func marshalTimeline(entries []domain.TimelineEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal timeline: %w", err)
	}
	return string(b), nil
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var desc, recommendation, relatedKind, relatedID, deepLink, timeline sql.NullString
	err := scan(&t.ID, &t.UserID, &t.Title, &desc, &t.Category, &t.Status, &t.Priority,
		&recommendation, &relatedKind, &relatedID, &deepLink, &timeline, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Description = desc.String
	t.Recommendation = recommendation.String
	t.RelatedKind = relatedKind.String
	t.RelatedID = relatedID.String
	t.DeepLink = deepLink.String
	if timeline.Valid && timeline.String != "" {
		if err := json.Unmarshal([]byte(timeline.String), &t.Timeline); err != nil {
			return t, fmt.Errorf("timeline for task %s: %w", t.ID, err)
		}
	}
	return t, nil
}

const taskColumns = `id,user_id,title,description,category,status,priority,recommendation,related_kind,related_id,deep_link,timeline_json,created_at,updated_at`

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	UserID   string
	Status   string
	Category string
	OpenOnly bool
	Limit    int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.OpenOnly {
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", inPlaceholders(len(domain.OpenTaskStatuses))))
		for _, s := range domain.OpenTaskStatuses {
			args = append(args, s)
		}
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpdateTaskStatus changes a task's status and appends one timeline entry.
func (r Repo) UpdateTaskStatus(ctx context.Context, id, status string, entry domain.TimelineEntry, now string) (domain.Task, error) {
	t, err := r.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	for i := range t.Timeline {
		if t.Timeline[i].Status == "current" {
			t.Timeline[i].Status = "completed"
		}
	}
	t.Timeline = append(t.Timeline, entry)
	t.Status = status
	t.UpdatedAt = now
	timeline, err := marshalTimeline(t.Timeline)
	if err != nil {
		return domain.Task{}, err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET status=?, timeline_json=?, updated_at=? WHERE id=?`,
		status, nullable(timeline), now, id)
	if err != nil {
		return domain.Task{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Task{}, ErrNotFound
	}
	return t, nil
}

// CountOpenActions reports how many open tasks exist whose paired action matches
// the given trigger. This is the structured dedup check: a task only blocks a
// rescan when it was created by the agent for the same entity and trigger.
func (r Repo) CountOpenActions(ctx context.Context, userID, triggerType, triggerSource string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM proactive_actions a
JOIN tasks t ON t.id = a.task_id
WHERE a.user_id=? AND a.trigger_type=? AND a.trigger_source=? AND t.status IN (%s)`,
		inPlaceholders(len(domain.OpenTaskStatuses)))
	args := []any{userID, triggerType, triggerSource}
	for _, s := range domain.OpenTaskStatuses {
		args = append(args, s)
	}
	var count int
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r Repo) ListActions(ctx context.Context, userID string, limit int) ([]domain.ProactiveAction, error) {
	query := `SELECT id,user_id,task_id,trigger_type,trigger_source,action_taken,tool_name,tool_params_json,result_json,was_auto_executed,created_at
FROM proactive_actions WHERE user_id=? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProactiveAction
	for rows.Next() {
		var a domain.ProactiveAction
		var taskID, toolName, toolParams, result sql.NullString
		var auto int
		if err := rows.Scan(&a.ID, &a.UserID, &taskID, &a.TriggerType, &a.TriggerSource, &a.ActionTaken,
			&toolName, &toolParams, &result, &auto, &a.CreatedAt); err != nil {
			return nil, err
		}
		if taskID.Valid {
			a.TaskID = &taskID.String
		}
		a.ToolName = toolName.String
		a.ToolParamsJSON = toolParams.String
		a.ResultJSON = result.String
		a.WasAutoExecuted = auto != 0
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) GetAutonomySettings(ctx context.Context, userID string) (domain.AutonomySettings, error) {
	var s domain.AutonomySettings
	var overrides sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT user_id,preset,overrides_json,updated_at FROM autonomy_settings WHERE user_id=?`, userID).
		Scan(&s.UserID, &s.Preset, &overrides, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if overrides.Valid && overrides.String != "" {
		if err := json.Unmarshal([]byte(overrides.String), &s.Overrides); err != nil {
			return s, fmt.Errorf("overrides for user %s: %w", userID, err)
		}
	}
	return s, nil
}

func (r Repo) UpsertAutonomySettings(ctx context.Context, s domain.AutonomySettings) error {
	var overrides string
	if len(s.Overrides) > 0 {
		b, err := json.Marshal(s.Overrides)
		if err != nil {
			return err
		}
		overrides = string(b)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO autonomy_settings(user_id,preset,overrides_json,updated_at) VALUES (?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET preset=excluded.preset, overrides_json=excluded.overrides_json, updated_at=excluded.updated_at`,
		s.UserID, s.Preset, nullable(overrides), s.UpdatedAt)
	return err
}

// ListOptedInUserIDs enumerates users with an autonomy settings row; only these
// are swept by the scheduled heartbeat.
func (r Repo) ListOptedInUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id FROM autonomy_settings ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,email,name,role,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Email, nullable(u.Name), u.Role, u.CreatedAt)
	return err
}
