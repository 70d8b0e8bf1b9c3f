// Package actionlog appends immutable proactive-action audit records. Appends
// are deliberately not part of the task-insert transaction: losing an audit row
// must never roll back the task it describes.
package actionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Entry describes one proactive action.
type Entry struct {
	UserID          string
	TaskID          string
	TriggerType     string
	TriggerSource   string
	ActionTaken     string
	ToolName        string
	ToolParams      map[string]any
	Result          map[string]any
	WasAutoExecuted bool
}

// TriggerSource builds the "kind:id" pointer to the originating entity.
func TriggerSource(kind, id string) string {
	return kind + ":" + id
}

func (w Writer) Append(ctx context.Context, e Entry) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	toolParams, err := marshalOptional(e.ToolParams)
	if err != nil {
		return fmt.Errorf("marshal tool params: %w", err)
	}
	result, err := marshalOptional(e.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	auto := 0
	if e.WasAutoExecuted {
		auto = 1
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO proactive_actions(id,user_id,task_id,trigger_type,trigger_source,action_taken,tool_name,tool_params_json,result_json,was_auto_executed,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		uuid.NewString(), e.UserID, nullable(e.TaskID), e.TriggerType, e.TriggerSource, e.ActionTaken,
		nullable(e.ToolName), nullable(toolParams), nullable(result), auto, ts)
	return err
}

func marshalOptional(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
