package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rentline/internal/autonomy"
	"rentline/internal/domain"
	"rentline/internal/repo"
)

const (
	leaseExpiryWindowDays   = 60
	leaseExpiryHighDays     = 30
	leaseExpiryUrgentDays   = 14
	arrearsLookback         = 24 * time.Hour
	arrearsUrgentDays       = 14
	arrearsHighDays         = 7
	applicationLookback     = 24 * time.Hour
	incomeRatioCutoff       = 2.5
	staleListingAgeDays     = 7
	staleListingMaxViews    = 10
	staleListingHighDays    = 21
	inspectionOverdueHigh   = 7
	rentReminderMinLevel    = 2
	rentReminderTemplate    = "rent_reminder"
	defaultInspectionMonths = 6
)

// scanLeaseExpiry surfaces active tenancies ending within the lookahead window.
// Informational only; lease decisions are never auto-executed.
func (e Engine) scanLeaseExpiry(ctx context.Context, sc scope) scanResult {
	var res scanResult
	now := e.now()
	candidates, err := e.Repo.ExpiringTenancies(ctx, sc.PropertyIDs, formatDate(now), formatDate(now.AddDate(0, 0, leaseExpiryWindowDays)))
	if err != nil {
		return res.fail("lease expiry scan (%d day window): %v", leaseExpiryWindowDays, err)
	}
	var findings []finding
	for _, c := range candidates {
		end, err := parseDate(c.EndDate)
		if err != nil {
			res.fail("lease expiry %s: bad end date: %v", c.ID, err)
			continue
		}
		days := daysBetween(now, end)
		priority := "normal"
		switch {
		case days <= leaseExpiryUrgentDays:
			priority = "urgent"
		case days <= leaseExpiryHighDays:
			priority = "high"
		}
		findings = append(findings, finding{
			TriggerType: "lease_expiry",
			RelatedKind: "tenancy",
			RelatedID:   c.ID,
			Title:       fmt.Sprintf("Lease ending soon at %s", c.Address),
			Description: fmt.Sprintf("%s's lease at %s ends on %s (%d days away).",
				c.TenantName, c.Address, end.Format("2 Jan 2006"), days),
			Category:       "lease_management",
			Priority:       priority,
			Recommendation: "Decide whether to offer a renewal or relist the property before the lease lapses.",
			DeepLink:       "/tenancies/" + c.ID,
			Detected:       fmt.Sprintf("Detected lease ending in %d days", days),
			DetectedData: map[string]any{
				"tenancy_id":  c.ID,
				"property_id": c.PropertyID,
				"end_date":    c.EndDate,
				"days_left":   days,
			},
			Waiting: "Waiting for owner decision on renewal",
		})
	}
	res.merge(e.process(ctx, sc, findings))
	return res
}

// scanOverdueRent reacts to arrears records raised in the last 24 hours. When
// the user's rent_collection autonomy level allows it and the tenant has an
// email address, a reminder is queued immediately and the task starts
// in_progress; otherwise the task waits for approval.
func (e Engine) scanOverdueRent(ctx context.Context, sc scope) scanResult {
	var res scanResult
	now := e.now()
	candidates, err := e.Repo.RecentArrears(ctx, sc.PropertyIDs, formatDate(now.Add(-arrearsLookback)))
	if err != nil {
		return res.fail("overdue rent scan (24h window): %v", err)
	}
	level := autonomy.ResolveLevel(sc.Settings, autonomy.CategoryRentCollection)
	var findings []finding
	for _, c := range candidates {
		priority := "normal"
		switch {
		case c.DaysOverdue >= arrearsUrgentDays:
			priority = "urgent"
		case c.DaysOverdue >= arrearsHighDays:
			priority = "high"
		}
		params := map[string]any{
			"tenant_name":  c.TenantName,
			"address":      c.Address,
			"amount":       c.Amount,
			"days_overdue": c.DaysOverdue,
		}
		recipient := c.TenantEmail
		recordID := c.ID
		findings = append(findings, finding{
			TriggerType: "overdue_rent",
			RelatedKind: "arrears",
			RelatedID:   c.ID,
			Title:       fmt.Sprintf("Overdue rent at %s", c.Address),
			Description: fmt.Sprintf("%s is $%.2f behind on rent at %s (%d days overdue).",
				c.TenantName, c.Amount, c.Address, c.DaysOverdue),
			Category: "rent_collection",
			Priority: priority,
			Recommendation: fmt.Sprintf("Send %s a rent reminder for the $%.2f outstanding.",
				c.TenantName, c.Amount),
			DeepLink: "/tenancies/" + c.TenancyID + "/arrears",
			Detected: fmt.Sprintf("Detected rent %d days overdue ($%.2f)", c.DaysOverdue, c.Amount),
			DetectedData: map[string]any{
				"arrears_id":   c.ID,
				"tenancy_id":   c.TenancyID,
				"amount":       c.Amount,
				"days_overdue": c.DaysOverdue,
			},
			Waiting: waitingForRent(level, recipient),
			AutoExec: &autoExec{
				Allowed:     level >= rentReminderMinLevel && recipient != "",
				ActionTaken: fmt.Sprintf("Queued a rent reminder email to %s", recipient),
				Done:        fmt.Sprintf("Sent rent reminder to %s", recipient),
				ToolName:    "queue_email",
				ToolParams:  params,
				Execute: func(ctx context.Context) (map[string]any, error) {
					return e.queueReminderEmail(ctx, recipient, params, recordID)
				},
			},
		})
	}
	res.merge(e.process(ctx, sc, findings))
	return res
}

func waitingForRent(level int, recipient string) string {
	if level >= rentReminderMinLevel && recipient != "" {
		return "Monitoring for payment"
	}
	if recipient == "" {
		return "Waiting for owner to contact the tenant (no email on file)"
	}
	return "Waiting for owner approval to send a reminder"
}

func (e Engine) queueReminderEmail(ctx context.Context, recipient string, params map[string]any, arrearsID string) (map[string]any, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal email params: %w", err)
	}
	msg := domain.EmailMessage{
		ID:         uuid.NewString(),
		Recipient:  recipient,
		Template:   rentReminderTemplate,
		ParamsJSON: string(paramsJSON),
		Status:     "pending",
		CreatedAt:  formatDate(e.now()),
	}
	if err := e.Repo.EnqueueEmail(ctx, msg); err != nil {
		return nil, fmt.Errorf("queue reminder for arrears %s: %w", arrearsID, err)
	}
	return map[string]any{"email_id": msg.ID, "queued": true}, nil
}

// scanNewApplications flags applications submitted in the last 24 hours. Always
// high priority; the recommendation reflects the income-to-rent ratio against
// the 2.5x affordability guideline.
func (e Engine) scanNewApplications(ctx context.Context, sc scope) scanResult {
	var res scanResult
	now := e.now()
	candidates, err := e.Repo.RecentApplications(ctx, sc.PropertyIDs, formatDate(now.Add(-applicationLookback)))
	if err != nil {
		return res.fail("new application scan (24h window): %v", err)
	}
	var findings []finding
	for _, c := range candidates {
		var ratio float64
		if c.RentWeekly > 0 {
			ratio = c.IncomeWeekly / c.RentWeekly
		}
		recommendation := fmt.Sprintf("Income is %.1fx the asking rent, below the %.1fx guideline. Review the application carefully before shortlisting.",
			ratio, incomeRatioCutoff)
		if ratio >= incomeRatioCutoff {
			recommendation = fmt.Sprintf("Income is %.1fx the asking rent. Strong candidate worth shortlisting.", ratio)
		}
		findings = append(findings, finding{
			TriggerType: "new_application",
			RelatedKind: "application",
			RelatedID:   c.ID,
			Title:       fmt.Sprintf("New application for %s", c.Address),
			Description: fmt.Sprintf("%s applied for %s with weekly income $%.0f against $%.0f rent.",
				c.ApplicantName, c.Address, c.IncomeWeekly, c.RentWeekly),
			Category:       "tenant_finding",
			Priority:       "high",
			Recommendation: recommendation,
			DeepLink:       "/applications/" + c.ID,
			Detected:       fmt.Sprintf("Detected new application from %s", c.ApplicantName),
			DetectedData: map[string]any{
				"application_id": c.ID,
				"listing_id":     c.ListingID,
				"income_weekly":  c.IncomeWeekly,
				"rent_weekly":    c.RentWeekly,
				"income_ratio":   ratio,
			},
			Waiting: "Waiting for owner to review the application",
		})
	}
	res.merge(e.process(ctx, sc, findings))
	return res
}

// scanStaleListings flags published listings older than a week that failed both
// engagement thresholds: under 10 views and no applications in the trailing
// seven days.
func (e Engine) scanStaleListings(ctx context.Context, sc scope) scanResult {
	var res scanResult
	now := e.now()
	weekAgo := formatDate(now.AddDate(0, 0, -staleListingAgeDays))
	candidates, err := e.Repo.StaleListings(ctx, sc.PropertyIDs, weekAgo, staleListingMaxViews, weekAgo)
	if err != nil {
		return res.fail("stale listing scan (%d day window): %v", staleListingAgeDays, err)
	}
	var findings []finding
	for _, c := range candidates {
		published, err := parseDate(c.PublishedAt)
		if err != nil {
			res.fail("stale listing %s: bad published date: %v", c.ID, err)
			continue
		}
		daysLive := daysBetween(published, now)
		priority := "normal"
		if daysLive >= staleListingHighDays {
			priority = "high"
		}
		findings = append(findings, finding{
			TriggerType: "stale_listing",
			RelatedKind: "listing",
			RelatedID:   c.ID,
			Title:       fmt.Sprintf("Listing going stale at %s", c.Address),
			Description: fmt.Sprintf("Listing for %s has been live %d days with %d views and no recent applications.",
				c.Address, daysLive, c.ViewCount),
			Category:       "listings",
			Priority:       priority,
			Recommendation: "Consider refreshing the photos, adjusting the asking rent, or boosting the listing.",
			DeepLink:       "/listings/" + c.ID,
			Detected:       fmt.Sprintf("Detected stale listing: %d days live, %d views", daysLive, c.ViewCount),
			DetectedData: map[string]any{
				"listing_id": c.ID,
				"days_live":  daysLive,
				"view_count": c.ViewCount,
			},
			Waiting: "Waiting for owner decision on refreshing the listing",
		})
	}
	res.merge(e.process(ctx, sc, findings))
	return res
}

// scanInspections covers two conditions: scheduled inspections whose date has
// passed without completion, and properties with an active tenancy whose last
// completed routine inspection is older than the jurisdiction's interval.
func (e Engine) scanInspections(ctx context.Context, sc scope) scanResult {
	var res scanResult
	res.merge(e.scanOverdueInspections(ctx, sc))
	res.merge(e.scanRoutineInspectionsDue(ctx, sc))
	return res
}

func (e Engine) scanOverdueInspections(ctx context.Context, sc scope) scanResult {
	var res scanResult
	now := e.now()
	candidates, err := e.Repo.OverdueInspections(ctx, sc.PropertyIDs, formatDate(now))
	if err != nil {
		return res.fail("overdue inspection scan: %v", err)
	}
	var findings []finding
	for _, c := range candidates {
		scheduled, err := parseDate(*c.ScheduledDate)
		if err != nil {
			res.fail("overdue inspection %s: bad scheduled date: %v", c.ID, err)
			continue
		}
		daysLate := daysBetween(scheduled, now)
		priority := "normal"
		if daysLate >= inspectionOverdueHigh {
			priority = "high"
		}
		findings = append(findings, finding{
			TriggerType: "inspection_overdue",
			RelatedKind: "inspection",
			RelatedID:   c.ID,
			Title:       fmt.Sprintf("Inspection overdue at %s", c.Address),
			Description: fmt.Sprintf("The %s inspection at %s was scheduled for %s and is %d days overdue.",
				c.Kind, c.Address, scheduled.Format("2 Jan 2006"), daysLate),
			Category:       "inspections",
			Priority:       priority,
			Recommendation: "Reschedule the inspection or mark it completed if it already happened.",
			DeepLink:       "/inspections/" + c.ID,
			Detected:       fmt.Sprintf("Detected inspection %d days overdue", daysLate),
			DetectedData: map[string]any{
				"inspection_id":  c.ID,
				"property_id":    c.PropertyID,
				"scheduled_date": *c.ScheduledDate,
				"days_overdue":   daysLate,
			},
			Waiting: "Waiting for owner to reschedule or close out the inspection",
		})
	}
	res.merge(e.process(ctx, sc, findings))
	return res
}

func (e Engine) scanRoutineInspectionsDue(ctx context.Context, sc scope) scanResult {
	var res scanResult
	now := e.now()
	properties, err := e.Repo.ListProperties(ctx, sc.UserID)
	if err != nil {
		return res.fail("routine inspection scan: list properties: %v", err)
	}
	var findings []finding
	for _, p := range properties {
		tenancy, err := e.Repo.ActiveTenancy(ctx, p.ID)
		if errors.Is(err, repo.ErrNotFound) {
			// no active tenancy means nothing to inspect
			continue
		}
		if err != nil {
			res.fail("routine inspection %s: active tenancy: %v", p.ID, err)
			continue
		}
		scheduled, err := e.Repo.HasScheduledInspection(ctx, p.ID)
		if err != nil {
			res.fail("routine inspection %s: %v", p.ID, err)
			continue
		}
		if scheduled {
			continue
		}
		intervalMonths := inspectionIntervalMonths(p.State)
		baseline, err := e.inspectionBaseline(ctx, p.ID, tenancy)
		if err != nil {
			res.fail("routine inspection %s: %v", p.ID, err)
			continue
		}
		if baseline.IsZero() || baseline.AddDate(0, intervalMonths, 0).After(now) {
			continue
		}
		monthsSince := daysBetween(baseline, now) / 30
		findings = append(findings, finding{
			TriggerType: "inspection_due",
			RelatedKind: "property",
			RelatedID:   p.ID,
			Title:       fmt.Sprintf("Routine inspection due at %s", p.Address),
			Description: fmt.Sprintf("No routine inspection at %s in about %d months; %s requires one every %d months.",
				p.Address, monthsSince, p.State, intervalMonths),
			Category:       "inspections",
			Priority:       "normal",
			Recommendation: fmt.Sprintf("Schedule a routine inspection with %s.", tenancy.TenantName),
			DeepLink:       "/properties/" + p.ID + "/inspections",
			Detected:       fmt.Sprintf("Detected routine inspection gap of ~%d months", monthsSince),
			DetectedData: map[string]any{
				"property_id":     p.ID,
				"interval_months": intervalMonths,
				"last_inspected":  formatDate(baseline),
			},
			Waiting: "Waiting for owner to schedule an inspection",
		})
	}
	res.merge(e.process(ctx, sc, findings))
	return res
}

// inspectionBaseline is the last completed routine inspection, falling back to
// the tenancy start so a brand-new tenancy is not flagged on day one.
func (e Engine) inspectionBaseline(ctx context.Context, propertyID string, tenancy domain.Tenancy) (time.Time, error) {
	last, err := e.Repo.LastCompletedRoutineInspection(ctx, propertyID)
	if err == nil {
		return parseDate(last)
	}
	if tenancy.StartDate != "" {
		return parseDate(tenancy.StartDate)
	}
	return time.Time{}, nil
}

// inspectionIntervalMonths maps a property's state to its routine inspection
// interval: quarterly in QLD, every four months in WA and SA, twice a year
// elsewhere.
func inspectionIntervalMonths(state string) int {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "QLD":
		return 3
	case "WA", "SA":
		return 4
	default:
		return defaultInspectionMonths
	}
}
