// Package notify stores user notifications and pushes them to the
// recipient's live sessions.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/realtime"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage"
)

const (
	DefaultDedupWindow = 5 * time.Minute
	DefaultMaxAttempts = 5
)

// Store is the notification half of storage.Store.
type Store interface {
	InsertNotification(ctx context.Context, rec model.NotificationRecord, window time.Duration) (model.NotificationRecord, bool, error)
	GetNotification(ctx context.Context, id string) (model.NotificationRecord, error)
	ListNotifications(ctx context.Context, f storage.NotificationFilter) ([]model.NotificationRecord, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) (model.NotificationRecord, error)
}

type Broadcaster interface {
	Publish(ctx context.Context, room identity.Room, msg realtime.Message) error
}

type Options struct {
	DedupWindow time.Duration
	MaxAttempts int
	// InitialInterval is the first retry delay; it doubles up to MaxInterval.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Now             func() time.Time
}

type Request struct {
	RecipientUserID string
	Kind            model.NotificationKind
	Title           string
	Message         string
	Payload         map[string]any
}

type Dispatcher struct {
	store  Store
	hub    Broadcaster
	logger *slog.Logger
	opts   Options
}

func NewDispatcher(store Store, hub Broadcaster, logger *slog.Logger, opts Options) *Dispatcher {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 100 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{store: store, hub: hub, logger: logger, opts: opts}
}

// DedupKey identifies repeats of the same notice about the same appointment.
// It is empty when the payload names no appointment.
func DedupKey(recipient string, kind model.NotificationKind, payload map[string]any) string {
	id, _ := payload["appointmentId"].(string)
	if id == "" {
		return ""
	}
	return strings.Join([]string{recipient, string(kind), id}, "|")
}

// Dispatch durably records a notification and pushes it to the recipient.
// A repeat within the dedup window returns the first record unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (model.NotificationRecord, error) {
	if strings.TrimSpace(req.RecipientUserID) == "" {
		return model.NotificationRecord{}, model.Validation(map[string]string{"recipient_user_id": "is required"})
	}
	if req.Kind == "" {
		return model.NotificationRecord{}, model.Validation(map[string]string{"kind": "is required"})
	}

	rec := model.NotificationRecord{
		RecipientUserID: req.RecipientUserID,
		Kind:            req.Kind,
		Title:           req.Title,
		Message:         req.Message,
		Payload:         req.Payload,
		CreatedAt:       d.opts.Now().UTC(),
		DedupKey:        DedupKey(req.RecipientUserID, req.Kind, req.Payload),
	}

	type result struct {
		rec     model.NotificationRecord
		created bool
	}
	attempt := 0
	res, err := backoff.Retry(ctx, func() (result, error) {
		attempt++
		stored, created, err := d.store.InsertNotification(ctx, rec, d.opts.DedupWindow)
		if err != nil {
			if !model.IsKind(err, model.KindTransient) {
				return result{}, backoff.Permanent(err)
			}
			d.logger.Warn("notification write failed", "attempt", attempt, "recipient", req.RecipientUserID, "kind", string(req.Kind), "err", err)
			return result{}, err
		}
		return result{rec: stored, created: created}, nil
	}, d.retryOptions()...)
	if err != nil {
		return model.NotificationRecord{}, fmt.Errorf("dispatch %s to %s: %w", req.Kind, req.RecipientUserID, err)
	}

	if res.created {
		d.push(ctx, res.rec)
	} else {
		d.logger.Debug("notification deduplicated", "id", res.rec.ID, "dedup_key", rec.DedupKey)
	}
	return res.rec, nil
}

func (d *Dispatcher) retryOptions() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.InitialInterval
	b.MaxInterval = d.opts.MaxInterval
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.opts.MaxAttempts)),
	}
}

// MarkRead marks id read for its recipient. Marking twice is harmless.
func (d *Dispatcher) MarkRead(ctx context.Context, userID, id string) (model.NotificationRecord, error) {
	rec, err := d.store.GetNotification(ctx, id)
	if err != nil {
		return model.NotificationRecord{}, err
	}
	if rec.RecipientUserID != userID {
		return model.NotificationRecord{}, model.Errorf(model.KindUnauthorized, "notification belongs to another user")
	}
	if rec.IsRead {
		return rec, nil
	}
	rec, err = d.store.MarkNotificationRead(ctx, id, d.opts.Now().UTC())
	if err != nil {
		return model.NotificationRecord{}, err
	}
	d.push(ctx, rec)
	return rec, nil
}

func (d *Dispatcher) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.NotificationRecord, error) {
	if userID == "" {
		return nil, model.Errorf(model.KindUnauthorized, "missing user")
	}
	return d.store.ListNotifications(ctx, storage.NotificationFilter{
		RecipientUserID: userID,
		UnreadOnly:      unreadOnly,
		Limit:           limit,
	})
}

func (d *Dispatcher) push(ctx context.Context, rec model.NotificationRecord) {
	if d.hub == nil {
		return
	}
	err := d.hub.Publish(ctx, identity.UserRoom(rec.RecipientUserID), realtime.NotificationUpdated{Notification: rec})
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("push notification update", "id", rec.ID, "err", err)
	}
}
