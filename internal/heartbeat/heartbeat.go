// Package heartbeat implements the proactive agent sweep: per-user detection
// rules over portfolio state that create tasks, queue low-risk actions, and
// leave an audit trail.
package heartbeat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"rentline/internal/actionlog"
	"rentline/internal/domain"
	"rentline/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Actions actionlog.Writer
	Now     func() time.Time
	Logger  *log.Logger
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Actions: actionlog.Writer{DB: db},
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// scope is the per-user context every scanner runs against.
type scope struct {
	UserID      string
	PropertyIDs []string
	Settings    *domain.AutonomySettings
}

// scanResult accumulates one scanner's (or one user's) outcome.
type scanResult struct {
	tasksCreated int
	autoExecuted int
	errors       []string
}

func (r *scanResult) merge(other scanResult) {
	r.tasksCreated += other.tasksCreated
	r.autoExecuted += other.autoExecuted
	r.errors = append(r.errors, other.errors...)
}

func (r *scanResult) fail(format string, args ...any) scanResult {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
	return *r
}

// Run executes the heartbeat. With a target user it processes exactly that user,
// bypassing opt-in enumeration; otherwise it sweeps every user with an autonomy
// settings row. The returned error is non-nil only when enumeration itself
// fails; everything below that boundary becomes summary errors.
func (e Engine) Run(ctx context.Context, targetUserID string) (domain.HeartbeatSummary, error) {
	summary := domain.HeartbeatSummary{Errors: []string{}}
	var userIDs []string
	if targetUserID != "" {
		userIDs = []string{targetUserID}
	} else {
		ids, err := e.Repo.ListOptedInUserIDs(ctx)
		if err != nil {
			return summary, fmt.Errorf("list opted-in users: %w", err)
		}
		userIDs = ids
	}
	for _, userID := range userIDs {
		res := e.processUser(ctx, userID)
		summary.Processed++
		summary.TasksCreated += res.tasksCreated
		summary.ActionsAutoExecuted += res.autoExecuted
		summary.Errors = append(summary.Errors, res.errors...)
	}
	return summary, nil
}

// processUser runs all scanners for one user. Failures never escape: panics and
// load errors become one tagged error string so the batch moves on.
func (e Engine) processUser(ctx context.Context, userID string) (res scanResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger().Printf("heartbeat: user %s panicked: %v", userID, r)
			res.errors = append(res.errors, fmt.Sprintf("[user:%s] panic: %v", userID, r))
		}
	}()

	propertyIDs, err := e.Repo.ActivePropertyIDs(ctx, userID)
	if err != nil {
		return res.fail("[user:%s] load properties: %v", userID, err)
	}
	settings, err := e.loadSettings(ctx, userID)
	if err != nil {
		return res.fail("[user:%s] load autonomy settings: %v", userID, err)
	}
	sc := scope{UserID: userID, PropertyIDs: propertyIDs, Settings: settings}

	for _, scan := range e.scanners() {
		out := scan(ctx, sc)
		for i, msg := range out.errors {
			out.errors[i] = fmt.Sprintf("[user:%s] %s", userID, msg)
		}
		res.merge(out)
	}
	return res
}

func (e Engine) loadSettings(ctx context.Context, userID string) (*domain.AutonomySettings, error) {
	s, err := e.Repo.GetAutonomySettings(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (e Engine) scanners() []func(context.Context, scope) scanResult {
	return []func(context.Context, scope) scanResult{
		e.scanLeaseExpiry,
		e.scanOverdueRent,
		e.scanNewApplications,
		e.scanStaleListings,
		e.scanInspections,
	}
}

func parseDate(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, value)
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
