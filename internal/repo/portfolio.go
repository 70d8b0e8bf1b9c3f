package repo

import (
	"context"
	"database/sql"
	"fmt"

	"rentline/internal/domain"
)

// ActivePropertyIDs returns ids of the user's non-deleted properties.
func (r Repo) ActivePropertyIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM properties WHERE user_id=? AND deleted_at IS NULL ORDER BY id`, userID)
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

func (r Repo) ListProperties(ctx context.Context, userID string) ([]domain.Property, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,address,suburb,state,deleted_at,created_at FROM properties WHERE user_id=? AND deleted_at IS NULL ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Property
	for rows.Next() {
		var p domain.Property
		var suburb, deletedAt sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.Address, &suburb, &p.State, &deletedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Suburb = suburb.String
		if deletedAt.Valid {
			p.DeletedAt = &deletedAt.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ExpiringTenancy is a lease-expiry scan candidate.
type ExpiringTenancy struct {
	domain.Tenancy
	Address string
}

// ExpiringTenancies returns active tenancies whose end date falls in [from, until].
// A lease ending today still needs attention, so from is inclusive.
func (r Repo) ExpiringTenancies(ctx context.Context, propertyIDs []string, from, until string) ([]ExpiringTenancy, error) {
	if len(propertyIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT t.id,t.property_id,t.tenant_name,t.tenant_email,t.rent_weekly,t.status,t.start_date,t.end_date,t.created_at,p.address
FROM tenancies t JOIN properties p ON p.id = t.property_id
WHERE t.property_id IN (%s) AND t.status='active' AND t.end_date IS NOT NULL AND t.end_date >= ? AND t.end_date <= ?
ORDER BY t.end_date`, inPlaceholders(len(propertyIDs)))
	args := propertyArgs(propertyIDs, from, until)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ExpiringTenancy
	for rows.Next() {
		var c ExpiringTenancy
		var email, start, end sql.NullString
		if err := rows.Scan(&c.ID, &c.PropertyID, &c.TenantName, &email, &c.RentWeekly, &c.Status, &start, &end, &c.CreatedAt, &c.Address); err != nil {
			return nil, err
		}
		c.TenantEmail = email.String
		c.StartDate = start.String
		c.EndDate = end.String
		res = append(res, c)
	}
	return res, rows.Err()
}

// ArrearsCandidate is an overdue-rent scan candidate.
type ArrearsCandidate struct {
	domain.ArrearsRecord
	PropertyID  string
	Address     string
	TenantName  string
	TenantEmail string
}

// RecentArrears returns arrears records created after since for the scoped properties.
func (r Repo) RecentArrears(ctx context.Context, propertyIDs []string, since string) ([]ArrearsCandidate, error) {
	if len(propertyIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT a.id,a.tenancy_id,a.amount,a.days_overdue,a.created_at,t.property_id,p.address,t.tenant_name,t.tenant_email
FROM arrears_records a
JOIN tenancies t ON t.id = a.tenancy_id
JOIN properties p ON p.id = t.property_id
WHERE t.property_id IN (%s) AND a.created_at > ?
ORDER BY a.created_at`, inPlaceholders(len(propertyIDs)))
	args := propertyArgs(propertyIDs, since)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ArrearsCandidate
	for rows.Next() {
		var c ArrearsCandidate
		var email sql.NullString
		if err := rows.Scan(&c.ID, &c.TenancyID, &c.Amount, &c.DaysOverdue, &c.CreatedAt, &c.PropertyID, &c.Address, &c.TenantName, &email); err != nil {
			return nil, err
		}
		c.TenantEmail = email.String
		res = append(res, c)
	}
	return res, rows.Err()
}

// ApplicationCandidate is a new-application scan candidate.
type ApplicationCandidate struct {
	domain.Application
	PropertyID string
	Address    string
	RentWeekly float64
}

// RecentApplications returns applications submitted after since for the scoped properties.
func (r Repo) RecentApplications(ctx context.Context, propertyIDs []string, since string) ([]ApplicationCandidate, error) {
	if len(propertyIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT a.id,a.listing_id,a.applicant_name,a.applicant_email,a.income_weekly,a.status,a.submitted_at,l.property_id,p.address,l.rent_weekly
FROM applications a
JOIN listings l ON l.id = a.listing_id
JOIN properties p ON p.id = l.property_id
WHERE l.property_id IN (%s) AND a.submitted_at > ? AND a.status='submitted'
ORDER BY a.submitted_at`, inPlaceholders(len(propertyIDs)))
	args := propertyArgs(propertyIDs, since)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ApplicationCandidate
	for rows.Next() {
		var c ApplicationCandidate
		var email sql.NullString
		if err := rows.Scan(&c.ID, &c.ListingID, &c.ApplicantName, &email, &c.IncomeWeekly, &c.Status, &c.SubmittedAt, &c.PropertyID, &c.Address, &c.RentWeekly); err != nil {
			return nil, err
		}
		c.ApplicantEmail = email.String
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListingCandidate is a stale-listing scan candidate.
type ListingCandidate struct {
	domain.Listing
	Address string
}

// StaleListings returns published listings older than publishedBefore with fewer
// than maxViews views and no application submitted after appsSince. A listing is
// stale only when both thresholds fail.
func (r Repo) StaleListings(ctx context.Context, propertyIDs []string, publishedBefore string, maxViews int, appsSince string) ([]ListingCandidate, error) {
	if len(propertyIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT l.id,l.property_id,l.headline,l.rent_weekly,l.status,l.view_count,l.published_at,l.created_at,p.address
FROM listings l JOIN properties p ON p.id = l.property_id
WHERE l.property_id IN (%s) AND l.status='published' AND l.published_at IS NOT NULL AND l.published_at < ? AND l.view_count < ?
AND NOT EXISTS (SELECT 1 FROM applications a WHERE a.listing_id = l.id AND a.submitted_at > ?)
ORDER BY l.published_at`, inPlaceholders(len(propertyIDs)))
	args := propertyArgs(propertyIDs, publishedBefore, maxViews, appsSince)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ListingCandidate
	for rows.Next() {
		var c ListingCandidate
		var headline, published sql.NullString
		if err := rows.Scan(&c.ID, &c.PropertyID, &headline, &c.RentWeekly, &c.Status, &c.ViewCount, &published, &c.CreatedAt, &c.Address); err != nil {
			return nil, err
		}
		c.Headline = headline.String
		c.PublishedAt = published.String
		res = append(res, c)
	}
	return res, rows.Err()
}

// InspectionCandidate is an overdue scheduled inspection.
type InspectionCandidate struct {
	domain.Inspection
	Address string
}

// OverdueInspections returns inspections still marked scheduled whose date has passed.
func (r Repo) OverdueInspections(ctx context.Context, propertyIDs []string, now string) ([]InspectionCandidate, error) {
	if len(propertyIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT i.id,i.property_id,i.kind,i.status,i.scheduled_date,i.completed_date,i.created_at,p.address
FROM inspections i JOIN properties p ON p.id = i.property_id
WHERE i.property_id IN (%s) AND i.status='scheduled' AND i.scheduled_date IS NOT NULL AND i.scheduled_date < ?
ORDER BY i.scheduled_date`, inPlaceholders(len(propertyIDs)))
	args := propertyArgs(propertyIDs, now)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []InspectionCandidate
	for rows.Next() {
		var c InspectionCandidate
		var scheduled, completed sql.NullString
		if err := rows.Scan(&c.ID, &c.PropertyID, &c.Kind, &c.Status, &scheduled, &completed, &c.CreatedAt, &c.Address); err != nil {
			return nil, err
		}
		if scheduled.Valid {
			c.ScheduledDate = &scheduled.String
		}
		if completed.Valid {
			c.CompletedDate = &completed.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// LastCompletedRoutineInspection returns the most recent completed routine
// inspection date for a property, or ErrNotFound when none exists.
func (r Repo) LastCompletedRoutineInspection(ctx context.Context, propertyID string) (string, error) {
	var completed sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(completed_date) FROM inspections WHERE property_id=? AND kind='routine' AND status='completed'`, propertyID).
		Scan(&completed)
	if err != nil {
		return "", err
	}
	if !completed.Valid || completed.String == "" {
		return "", ErrNotFound
	}
	return completed.String, nil
}

// HasScheduledInspection reports whether any inspection is already scheduled for the property.
func (r Repo) HasScheduledInspection(ctx context.Context, propertyID string) (bool, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM inspections WHERE property_id=? AND status='scheduled'`, propertyID).Scan(&count)
	return count > 0, err
}

// ActiveTenancy returns the property's active tenancy, or ErrNotFound.
func (r Repo) ActiveTenancy(ctx context.Context, propertyID string) (domain.Tenancy, error) {
	var t domain.Tenancy
	var email, start, end sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,property_id,tenant_name,tenant_email,rent_weekly,status,start_date,end_date,created_at
FROM tenancies WHERE property_id=? AND status='active' LIMIT 1`, propertyID).
		Scan(&t.ID, &t.PropertyID, &t.TenantName, &email, &t.RentWeekly, &t.Status, &start, &end, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.TenantEmail = email.String
	t.StartDate = start.String
	t.EndDate = end.String
	return t, nil
}

func (r Repo) InsertProperty(ctx context.Context, p domain.Property) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO properties(id,user_id,address,suburb,state,deleted_at,created_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.UserID, p.Address, nullable(p.Suburb), p.State, nullableStringPtr(p.DeletedAt), p.CreatedAt)
	return err
}

func (r Repo) InsertTenancy(ctx context.Context, t domain.Tenancy) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tenancies(id,property_id,tenant_name,tenant_email,rent_weekly,status,start_date,end_date,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.PropertyID, t.TenantName, nullable(t.TenantEmail), t.RentWeekly, t.Status, nullable(t.StartDate), nullable(t.EndDate), t.CreatedAt)
	return err
}

func (r Repo) InsertArrearsRecord(ctx context.Context, a domain.ArrearsRecord) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO arrears_records(id,tenancy_id,amount,days_overdue,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.TenancyID, a.Amount, a.DaysOverdue, a.CreatedAt)
	return err
}

func (r Repo) InsertListing(ctx context.Context, l domain.Listing) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO listings(id,property_id,headline,rent_weekly,status,view_count,published_at,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		l.ID, l.PropertyID, nullable(l.Headline), l.RentWeekly, l.Status, l.ViewCount, nullable(l.PublishedAt), l.CreatedAt)
	return err
}

func (r Repo) InsertApplication(ctx context.Context, a domain.Application) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO applications(id,listing_id,applicant_name,applicant_email,income_weekly,status,submitted_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.ListingID, a.ApplicantName, nullable(a.ApplicantEmail), a.IncomeWeekly, a.Status, a.SubmittedAt)
	return err
}

func (r Repo) InsertInspection(ctx context.Context, i domain.Inspection) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO inspections(id,property_id,kind,status,scheduled_date,completed_date,created_at) VALUES (?,?,?,?,?,?,?)`,
		i.ID, i.PropertyID, i.Kind, i.Status, nullableStringPtr(i.ScheduledDate), nullableStringPtr(i.CompletedDate), i.CreatedAt)
	return err
}

func propertyArgs(propertyIDs []string, extra ...any) []any {
	args := make([]any, 0, len(propertyIDs)+len(extra))
	for _, id := range propertyIDs {
		args = append(args, id)
	}
	return append(args, extra...)
}
