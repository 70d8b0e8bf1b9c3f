package heartbeat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"rentline/internal/actionlog"
	"rentline/internal/domain"
)

// finding is one actionable condition a scanner detected. Scanners only build
// findings; the shared dedup/decide/record pipeline lives in process.
type finding struct {
	TriggerType    string
	RelatedKind    string
	RelatedID      string
	Title          string
	Description    string
	Category       string
	Priority       string
	Recommendation string
	DeepLink       string
	Detected       string         // detection timeline text
	DetectedData   map[string]any // structured detection payload
	Waiting        string         // text for the pending "current" entry
	AutoExec       *autoExec      // nil when the rule never auto-executes
}

// autoExec describes the side effect a finding may perform when the resolved
// autonomy level clears it.
type autoExec struct {
	Allowed     bool // autonomy level and preconditions cleared
	ActionTaken string
	Done        string // timeline text once executed
	ToolName    string
	ToolParams  map[string]any
	Execute     func(context.Context) (map[string]any, error)
}

// HasOpenAction is the deduplication gate: true when an open task already exists
// whose paired audit record matches (user, trigger, source). It must run before
// any side effect — a duplicate reminder email is a correctness bug.
func (e Engine) HasOpenAction(ctx context.Context, userID, triggerType, triggerSource string) (bool, error) {
	count, err := e.Repo.CountOpenActions(ctx, userID, triggerType, triggerSource)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// process runs the shared pipeline for one scanner's findings: dedup gate,
// auto-execute-or-defer decision, timeline assembly, task + audit recording.
func (e Engine) process(ctx context.Context, sc scope, findings []finding) scanResult {
	var res scanResult
	for _, f := range findings {
		source := actionlog.TriggerSource(f.RelatedKind, f.RelatedID)
		open, err := e.HasOpenAction(ctx, sc.UserID, f.TriggerType, source)
		if err != nil {
			res.fail("%s %s: dedup check: %v", f.TriggerType, f.RelatedID, err)
			continue
		}
		if open {
			continue
		}

		now := formatDate(e.now())
		status := "pending_input"
		actionTaken := "Created task for owner review"
		autoExecuted := false
		var toolName string
		var toolParams, result map[string]any

		timeline := []domain.TimelineEntry{{
			TS:     now,
			Action: f.Detected,
			Status: "completed",
			Data:   f.DetectedData,
		}}

		if f.AutoExec != nil && f.AutoExec.Allowed {
			out, err := f.AutoExec.Execute(ctx)
			if err != nil {
				res.fail("%s %s: auto-execute: %v", f.TriggerType, f.RelatedID, err)
				continue
			}
			status = "in_progress"
			actionTaken = f.AutoExec.ActionTaken
			autoExecuted = true
			toolName = f.AutoExec.ToolName
			toolParams = f.AutoExec.ToolParams
			result = out
			timeline = append(timeline, domain.TimelineEntry{
				TS:     now,
				Action: f.AutoExec.Done,
				Status: "completed",
			})
		}
		timeline = append(timeline, domain.TimelineEntry{
			TS:     now,
			Action: f.Waiting,
			Status: "current",
		})

		_, err = e.RecordAction(ctx, RecordParams{
			UserID:          sc.UserID,
			Title:           f.Title,
			Description:     f.Description,
			Category:        f.Category,
			Status:          status,
			Priority:        f.Priority,
			Recommendation:  f.Recommendation,
			RelatedKind:     f.RelatedKind,
			RelatedID:       f.RelatedID,
			DeepLink:        f.DeepLink,
			Timeline:        timeline,
			TriggerType:     f.TriggerType,
			ActionTaken:     actionTaken,
			ToolName:        toolName,
			ToolParams:      toolParams,
			Result:          result,
			WasAutoExecuted: autoExecuted,
		})
		if err != nil {
			res.fail("%s %s: record: %v", f.TriggerType, f.RelatedID, err)
			continue
		}
		res.tasksCreated++
		if autoExecuted {
			res.autoExecuted++
		}
	}
	return res
}

// RecordParams describes a task and its paired audit entry.
type RecordParams struct {
	UserID          string
	Title           string
	Description     string
	Category        string
	Status          string
	Priority        string
	Recommendation  string
	RelatedKind     string
	RelatedID       string
	DeepLink        string
	Timeline        []domain.TimelineEntry
	TriggerType     string
	ActionTaken     string
	ToolName        string
	ToolParams      map[string]any
	Result          map[string]any
	WasAutoExecuted bool
}

// RecordAction inserts the task, then appends the audit entry. The two writes
// are intentionally separate: the task is the primary effect, the audit row is
// best-effort and its failure is logged, not propagated.
func (e Engine) RecordAction(ctx context.Context, p RecordParams) (string, error) {
	now := formatDate(e.now())
	task := domain.Task{
		ID:             uuid.NewString(),
		UserID:         p.UserID,
		Title:          p.Title,
		Description:    p.Description,
		Category:       p.Category,
		Status:         p.Status,
		Priority:       p.Priority,
		Recommendation: p.Recommendation,
		RelatedKind:    p.RelatedKind,
		RelatedID:      p.RelatedID,
		DeepLink:       p.DeepLink,
		Timeline:       p.Timeline,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertTask(ctx, task); err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	entry := actionlog.Entry{
		UserID:          p.UserID,
		TaskID:          task.ID,
		TriggerType:     p.TriggerType,
		TriggerSource:   actionlog.TriggerSource(p.RelatedKind, p.RelatedID),
		ActionTaken:     p.ActionTaken,
		ToolName:        p.ToolName,
		ToolParams:      p.ToolParams,
		Result:          p.Result,
		WasAutoExecuted: p.WasAutoExecuted,
	}
	if err := e.Actions.Append(ctx, entry); err != nil {
		e.logger().Printf("heartbeat: action log append failed for task %s: %v", task.ID, err)
	}
	return task.ID, nil
}
