package domain

// Task statuses considered open for deduplication purposes.
var OpenTaskStatuses = []string{"pending_input", "in_progress", "scheduled", "paused"}

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Property struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Address   string  `json:"address"`
	Suburb    string  `json:"suburb,omitempty"`
	State     string  `json:"state"`
	DeletedAt *string `json:"deleted_at,omitempty" format:"date-time"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Tenancy struct {
	ID          string  `json:"id"`
	PropertyID  string  `json:"property_id"`
	TenantName  string  `json:"tenant_name"`
	TenantEmail string  `json:"tenant_email,omitempty"`
	RentWeekly  float64 `json:"rent_weekly"`
	Status      string  `json:"status" enum:"active,ending,ended"`
	StartDate   string  `json:"start_date,omitempty" format:"date-time"`
	EndDate     string  `json:"end_date,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type ArrearsRecord struct {
	ID          string  `json:"id"`
	TenancyID   string  `json:"tenancy_id"`
	Amount      float64 `json:"amount"`
	DaysOverdue int     `json:"days_overdue"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Listing struct {
	ID          string  `json:"id"`
	PropertyID  string  `json:"property_id"`
	Headline    string  `json:"headline,omitempty"`
	RentWeekly  float64 `json:"rent_weekly"`
	Status      string  `json:"status" enum:"draft,published,closed"`
	ViewCount   int     `json:"view_count"`
	PublishedAt string  `json:"published_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Application struct {
	ID             string  `json:"id"`
	ListingID      string  `json:"listing_id"`
	ApplicantName  string  `json:"applicant_name"`
	ApplicantEmail string  `json:"applicant_email,omitempty"`
	IncomeWeekly   float64 `json:"income_weekly"`
	Status         string  `json:"status" enum:"submitted,shortlisted,approved,declined"`
	SubmittedAt    string  `json:"submitted_at" format:"date-time"`
}

type Inspection struct {
	ID            string  `json:"id"`
	PropertyID    string  `json:"property_id"`
	Kind          string  `json:"kind" enum:"routine,entry,exit"`
	Status        string  `json:"status" enum:"scheduled,completed,cancelled"`
	ScheduledDate *string `json:"scheduled_date,omitempty" format:"date-time"`
	CompletedDate *string `json:"completed_date,omitempty" format:"date-time"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

// TimelineEntry is one step in a task's audit timeline.
type TimelineEntry struct {
	TS        string         `json:"ts" format:"date-time"`
	Action    string         `json:"action"`
	Status    string         `json:"status" enum:"completed,current,pending"`
	Reasoning string         `json:"reasoning,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type Task struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Category       string          `json:"category" enum:"lease_management,rent_collection,tenant_finding,listings,inspections"`
	Status         string          `json:"status" enum:"pending_input,in_progress,scheduled,paused,completed,cancelled"`
	Priority       string          `json:"priority" enum:"normal,high,urgent"`
	Recommendation string          `json:"recommendation,omitempty"`
	RelatedKind    string          `json:"related_kind,omitempty"`
	RelatedID      string          `json:"related_id,omitempty"`
	DeepLink       string          `json:"deep_link,omitempty"`
	Timeline       []TimelineEntry `json:"timeline,omitempty"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
	UpdatedAt      string          `json:"updated_at" format:"date-time"`
}

// ProactiveAction is an append-only audit record paired with a task.
type ProactiveAction struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	TaskID          *string `json:"task_id,omitempty"`
	TriggerType     string  `json:"trigger_type"`
	TriggerSource   string  `json:"trigger_source"`
	ActionTaken     string  `json:"action_taken"`
	ToolName        string  `json:"tool_name,omitempty"`
	ToolParamsJSON  string  `json:"tool_params_json,omitempty"`
	ResultJSON      string  `json:"result_json,omitempty"`
	WasAutoExecuted bool    `json:"was_auto_executed"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type AutonomySettings struct {
	UserID    string            `json:"user_id"`
	Preset    string            `json:"preset" enum:"cautious,balanced,hands_off"`
	Overrides map[string]string `json:"overrides,omitempty"`
	UpdatedAt string            `json:"updated_at" format:"date-time"`
}

type EmailMessage struct {
	ID         string `json:"id"`
	Recipient  string `json:"recipient"`
	Template   string `json:"template"`
	ParamsJSON string `json:"params_json,omitempty"`
	Status     string `json:"status" enum:"pending,sent,failed"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	SentAt     string `json:"sent_at,omitempty" format:"date-time"`
}

// HeartbeatSummary is the aggregate result of one heartbeat invocation.
type HeartbeatSummary struct {
	Processed           int      `json:"processed"`
	TasksCreated        int      `json:"tasks_created"`
	ActionsAutoExecuted int      `json:"actions_auto_executed"`
	Errors              []string `json:"errors"`
}
