package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage"
)

const notificationColumns = `
	id::text, recipient_user_id, kind, title, message, payload, is_read, created_at, read_at, COALESCE(dedup_key, '')`

func scanNotification(row pgx.Row) (model.NotificationRecord, error) {
	var rec model.NotificationRecord
	var kind string
	err := row.Scan(&rec.ID, &rec.RecipientUserID, &kind, &rec.Title, &rec.Message, &rec.Payload, &rec.IsRead, &rec.CreatedAt, &rec.ReadAt, &rec.DedupKey)
	rec.Kind = model.NotificationKind(kind)
	return rec, err
}

// InsertNotification takes an advisory lock on the dedup key so concurrent
// dispatches of the same event see each other's rows.
func (s *Store) InsertNotification(ctx context.Context, rec model.NotificationRecord, window time.Duration) (model.NotificationRecord, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Payload == nil {
		rec.Payload = map[string]any{}
	}
	var stored model.NotificationRecord
	created := false
	err := s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if rec.DedupKey != "" && window > 0 {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('notification:' || $1))`, rec.DedupKey); err != nil {
				return mapErr("acquire dedup lock", err)
			}
			existing, err := scanNotification(tx.QueryRow(ctx, `
				SELECT `+notificationColumns+`
				FROM notifications
				WHERE dedup_key = $1 AND created_at >= $2
				ORDER BY created_at DESC
				LIMIT 1
			`, rec.DedupKey, rec.CreatedAt.Add(-window)))
			if err == nil {
				stored = existing
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return mapErr("lookup notification", err)
			}
		}

		var dedupKey *string
		if rec.DedupKey != "" {
			dedupKey = &rec.DedupKey
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO notifications (id, recipient_user_id, kind, title, message, payload, is_read, created_at, dedup_key)
			VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8)
		`, rec.ID, rec.RecipientUserID, string(rec.Kind), rec.Title, rec.Message, rec.Payload, rec.CreatedAt, dedupKey)
		if err != nil {
			return mapErr("insert notification", err)
		}
		stored, created = rec, true
		return nil
	})
	if err != nil {
		return model.NotificationRecord{}, false, err
	}
	return stored, created, nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (model.NotificationRecord, error) {
	uid, err := parseID(id, "notification")
	if err != nil {
		return model.NotificationRecord{}, err
	}
	rec, err := scanNotification(s.pool.QueryRow(ctx, `
		SELECT `+notificationColumns+` FROM notifications WHERE id = $1
	`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NotificationRecord{}, model.NotFound("notification")
	}
	return rec, mapErr("get notification", err)
}

func (s *Store) ListNotifications(ctx context.Context, f storage.NotificationFilter) ([]model.NotificationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_user_id = $1 AND (NOT $2 OR NOT is_read)
		ORDER BY created_at DESC
		LIMIT $3
	`, f.RecipientUserID, f.UnreadOnly, storage.ClampLimit(f.Limit))
	if err != nil {
		return nil, mapErr("list notifications", err)
	}
	defer rows.Close()

	var out []model.NotificationRecord
	for rows.Next() {
		rec, err := scanNotification(rows)
		if err != nil {
			return nil, mapErr("list notifications", err)
		}
		out = append(out, rec)
	}
	return out, mapErr("list notifications", rows.Err())
}

// MarkNotificationRead keeps the first read_at when called repeatedly.
func (s *Store) MarkNotificationRead(ctx context.Context, id string, at time.Time) (model.NotificationRecord, error) {
	uid, err := parseID(id, "notification")
	if err != nil {
		return model.NotificationRecord{}, err
	}
	rec, err := scanNotification(s.pool.QueryRow(ctx, `
		UPDATE notifications
		SET is_read = TRUE,
			read_at = COALESCE(read_at, $2)
		WHERE id = $1
		RETURNING `+notificationColumns, uid, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NotificationRecord{}, model.NotFound("notification")
	}
	return rec, mapErr("mark notification read", err)
}
