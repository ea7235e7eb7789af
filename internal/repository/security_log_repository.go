package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/acetrade/session-bridge/internal/model"
)

// SecurityLogRepo appends to and reads security_logs.  Rows are never
// updated or deleted.
type SecurityLogRepo struct{ gw Gateway }

func NewSecurityLogRepo(gw Gateway) *SecurityLogRepo { return &SecurityLogRepo{gw: gw} }

// Insert appends e and fills in its id.
func (r *SecurityLogRepo) Insert(ctx context.Context, e *model.SecurityLogEntry) error {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	return r.insert(ctx, r.gw.DB, e)
}

// InsertTx appends e inside tx.
func (r *SecurityLogRepo) InsertTx(ctx context.Context, tx *sql.Tx, e *model.SecurityLogEntry) error {
	return r.insert(ctx, tx, e)
}

func (r *SecurityLogRepo) insert(ctx context.Context, ex execer, e *model.SecurityLogEntry) error {
	var detail any
	if len(e.Detail) > 0 {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return err
		}
		detail = string(b)
	}
	res, err := ex.ExecContext(ctx,
		`INSERT INTO security_logs (user_id, event_type, ip, device, detail_json, created_at)
		 VALUES (?,?,?,?,?,?)`,
		e.UserID, string(e.Event), nullString(e.IP), nullString(e.Device), detail, ts(e.CreatedAt))
	if err != nil {
		return classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify(err)
	}
	e.ID = uint64(id)
	return nil
}

// Recent returns a user's entries created at or after since, newest first,
// at most limit rows.
func (r *SecurityLogRepo) Recent(ctx context.Context, userID uint64, since time.Time, limit int) ([]model.SecurityLogEntry, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	rows, err := r.gw.DB.QueryContext(ctx,
		`SELECT log_id, user_id, event_type, ip, device, detail_json, created_at
		 FROM security_logs
		 WHERE user_id=? AND created_at >= ?
		 ORDER BY created_at DESC, log_id DESC LIMIT ?`, userID, since.UTC(), limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	entries := []model.SecurityLogEntry{}
	for rows.Next() {
		var (
			e      model.SecurityLogEntry
			event  string
			ip     sql.NullString
			device sql.NullString
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &event, &ip, &device, &detail, &e.CreatedAt); err != nil {
			return nil, classify(err)
		}
		e.Event = model.EventKind(event)
		e.IP, e.Device = stringPtr(ip), stringPtr(device)
		e.CreatedAt = e.CreatedAt.UTC()
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}
