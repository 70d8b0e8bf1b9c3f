package repo

import (
	"context"
	"database/sql"

	"rentline/internal/domain"
)

// EnqueueEmail inserts a row into the outbound email queue. An external worker
// (or the dispatch forwarder) interprets the row as "send this templated email".
func (r Repo) EnqueueEmail(ctx context.Context, m domain.EmailMessage) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO email_queue(id,recipient,template,params_json,status,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.Recipient, m.Template, nullable(m.ParamsJSON), m.Status, m.CreatedAt)
	return err
}

func (r Repo) PendingEmails(ctx context.Context, limit int) ([]domain.EmailMessage, error) {
	query := `SELECT id,recipient,template,params_json,status,created_at,sent_at FROM email_queue WHERE status='pending' ORDER BY created_at`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EmailMessage
	for rows.Next() {
		var m domain.EmailMessage
		var params, sentAt sql.NullString
		if err := rows.Scan(&m.ID, &m.Recipient, &m.Template, &params, &m.Status, &m.CreatedAt, &sentAt); err != nil {
			return nil, err
		}
		m.ParamsJSON = params.String
		m.SentAt = sentAt.String
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) MarkEmailSent(ctx context.Context, id, sentAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE email_queue SET status='sent', sent_at=? WHERE id=?`, sentAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
