package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/carebook/libs/db"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage"
)

const appointmentColumns = `
	id::text, provider_id, subject_id, start_time, duration_minutes, type, status, reason,
	COALESCE(meeting_ref, ''), COALESCE(idempotency_key, ''), created_at, updated_at,
	cancelled_at, COALESCE(cancelled_by, ''), COALESCE(cancel_reason, '')`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var typ, status string
	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.SubjectID,
		&a.StartTime,
		&a.DurationMinutes,
		&typ,
		&status,
		&a.Reason,
		&a.MeetingRef,
		&a.IdempotencyKey,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.CancelledAt,
		&a.CancelledBy,
		&a.CancelReason,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Type = model.AppointmentType(typ)
	a.Status = model.AppointmentStatus(status)
	return a, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func statusStrings(statuses []model.AppointmentStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func findOverlapping(ctx context.Context, q querier, providerID string, from, to time.Time, statuses []model.AppointmentStatus) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND start_time < $3
			AND end_time > $2
			AND (cardinality($4::text[]) = 0 OR status = ANY($4))
		ORDER BY start_time ASC
	`, providerID, from, to, statusStrings(statuses))
	if err != nil {
		return nil, mapErr("find overlapping appointments", err)
	}
	appts, err := collectAppointments(rows)
	return appts, mapErr("find overlapping appointments", err)
}

func getAppointment(ctx context.Context, q querier, id string, forUpdate bool) (model.Appointment, error) {
	uid, err := parseID(id, "appointment")
	if err != nil {
		return model.Appointment{}, err
	}
	sql := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	a, err := scanAppointment(q.QueryRow(ctx, sql, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, model.NotFound("appointment")
	}
	return a, mapErr("get appointment", err)
}

func (s *Store) FindOverlapping(ctx context.Context, providerID string, from, to time.Time, statuses []model.AppointmentStatus) ([]model.Appointment, error) {
	return findOverlapping(ctx, s.pool, providerID, from, to, statuses)
}

func (s *Store) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return getAppointment(ctx, s.pool, id, false)
}

func (s *Store) ListAppointments(ctx context.Context, f storage.AppointmentFilter) ([]model.Appointment, error) {
	var from, to *time.Time
	if !f.From.IsZero() {
		from = &f.From
	}
	if !f.To.IsZero() {
		to = &f.To
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1 = '' OR provider_id = $1)
			AND ($2 = '' OR subject_id = $2)
			AND ($3::timestamptz IS NULL OR start_time >= $3)
			AND ($4::timestamptz IS NULL OR start_time < $4)
		ORDER BY start_time ASC
		LIMIT $5
	`, f.ProviderID, f.SubjectID, from, to, storage.ClampLimit(f.Limit))
	if err != nil {
		return nil, mapErr("list appointments", err)
	}
	appts, err := collectAppointments(rows)
	return appts, mapErr("list appointments", err)
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) AppointmentByIdempotencyKey(ctx context.Context, subjectID, key string) (model.Appointment, bool, error) {
	if key == "" {
		return model.Appointment{}, false, nil
	}
	a, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE subject_id = $1 AND idempotency_key = $2
	`, subjectID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, mapErr("lookup idempotency key", err)
	}
	return a, true, nil
}

func (t *pgTx) FindOverlapping(ctx context.Context, providerID string, from, to time.Time, statuses []model.AppointmentStatus) ([]model.Appointment, error) {
	return findOverlapping(ctx, t.tx, providerID, from, to, statuses)
}

func (t *pgTx) CreateAppointment(ctx context.Context, a model.Appointment) error {
	var meetingRef, idemKey *string
	if a.MeetingRef != "" {
		meetingRef = &a.MeetingRef
	}
	if a.IdempotencyKey != "" {
		idemKey = &a.IdempotencyKey
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, provider_id, subject_id, start_time, end_time, duration_minutes, type, status, reason,
			 meeting_ref, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, a.ID, a.ProviderID, a.SubjectID, a.StartTime, a.EndTime(), a.DurationMinutes, string(a.Type), string(a.Status),
		a.Reason, meetingRef, idemKey, a.CreatedAt, a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return model.Errorf(model.KindConflict, "idempotency key already used")
	}
	return mapErr("insert appointment", err)
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	return getAppointment(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateAppointmentStatus(ctx context.Context, a model.Appointment) error {
	uid, err := parseID(a.ID, "appointment")
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			updated_at = $3,
			cancelled_at = $4,
			cancelled_by = NULLIF($5, ''),
			cancel_reason = NULLIF($6, '')
		WHERE id = $1
	`, uid, string(a.Status), a.UpdatedAt, a.CancelledAt, a.CancelledBy, a.CancelReason)
	if err != nil {
		return mapErr("update appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("appointment")
	}
	return nil
}

func (t *pgTx) Enqueue(ctx context.Context, evt outbox.Event) error {
	return mapErr("enqueue event", t.outbox.Insert(ctx, t.tx, evt))
}
