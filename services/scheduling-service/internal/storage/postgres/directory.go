package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
)

func (s *Store) GetProvider(ctx context.Context, id string) (model.Provider, error) {
	var p model.Provider
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, display_name, timezone, is_active
		FROM providers
		WHERE id = $1
	`, id).Scan(&p.ID, &p.UserID, &p.DisplayName, &p.Timezone, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Provider{}, model.NotFound("provider")
	}
	return p, mapErr("get provider", err)
}

func (s *Store) UpsertProvider(ctx context.Context, p model.Provider) error {
	tz := p.Timezone
	if tz == "" {
		tz = "UTC"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO providers (id, user_id, display_name, timezone, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET user_id = EXCLUDED.user_id,
			display_name = EXCLUDED.display_name,
			timezone = EXCLUDED.timezone,
			is_active = EXCLUDED.is_active
	`, p.ID, p.UserID, p.DisplayName, tz, p.IsActive)
	return mapErr("upsert provider", err)
}

func (s *Store) GetSubjectProfile(ctx context.Context, id string) (model.SubjectProfile, error) {
	var sp model.SubjectProfile
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name FROM subject_profiles WHERE id = $1
	`, id).Scan(&sp.ID, &sp.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SubjectProfile{}, model.NotFound("subject")
	}
	return sp, mapErr("get subject", err)
}

func (s *Store) UpsertSubjectProfile(ctx context.Context, sp model.SubjectProfile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subject_profiles (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name
	`, sp.ID, sp.DisplayName)
	return mapErr("upsert subject", err)
}

func (s *Store) GetTemplate(ctx context.Context, providerID string) (model.WeeklyTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT weekday, is_active, start_minute, end_minute, break_start_minute, break_end_minute, updated_at
		FROM provider_weekly_templates
		WHERE provider_id = $1
	`, providerID)
	if err != nil {
		return model.WeeklyTemplate{}, mapErr("get template", err)
	}
	defer rows.Close()

	tpl := model.WeeklyTemplate{ProviderID: providerID}
	for rows.Next() {
		var (
			weekday              int16
			day                  model.DayTemplate
			start, end           int
			breakStart, breakEnd *int
			updatedAt            time.Time
		)
		if err := rows.Scan(&weekday, &day.IsActive, &start, &end, &breakStart, &breakEnd, &updatedAt); err != nil {
			return model.WeeklyTemplate{}, mapErr("get template", err)
		}
		day.Start, day.End = model.Clock(start), model.Clock(end)
		if breakStart != nil && breakEnd != nil {
			day.Break = &model.BreakWindow{Start: model.Clock(*breakStart), End: model.Clock(*breakEnd)}
		}
		if wd := model.Weekday(weekday); wd.Valid() {
			tpl.Days[wd] = day
		}
		if updatedAt.After(tpl.UpdatedAt) {
			tpl.UpdatedAt = updatedAt
		}
	}
	if rows.Err() != nil {
		return model.WeeklyTemplate{}, mapErr("get template", rows.Err())
	}
	return tpl, nil
}

// PutTemplate replaces all seven rows of the provider's template at once.
func (s *Store) PutTemplate(ctx context.Context, t model.WeeklyTemplate) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	return s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i, day := range t.Days {
			var breakStart, breakEnd *int
			if day.Break != nil {
				bs, be := int(day.Break.Start), int(day.Break.End)
				breakStart, breakEnd = &bs, &be
			}
			batch.Queue(`
				INSERT INTO provider_weekly_templates
					(provider_id, weekday, is_active, start_minute, end_minute, break_start_minute, break_end_minute, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (provider_id, weekday) DO UPDATE
				SET is_active = EXCLUDED.is_active,
					start_minute = EXCLUDED.start_minute,
					end_minute = EXCLUDED.end_minute,
					break_start_minute = EXCLUDED.break_start_minute,
					break_end_minute = EXCLUDED.break_end_minute,
					updated_at = EXCLUDED.updated_at
			`, t.ProviderID, int16(i), day.IsActive, int(day.Start), int(day.End), breakStart, breakEnd, t.UpdatedAt)
		}
		return mapErr("put template", tx.SendBatch(ctx, batch).Close())
	})
}
