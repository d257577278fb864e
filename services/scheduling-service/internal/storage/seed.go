package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
)

// Seed is a directory snapshot used to bootstrap local and demo deployments.
type Seed struct {
	Providers []model.Provider       `json:"providers"`
	Subjects  []model.SubjectProfile `json:"subjects"`
	Templates []model.WeeklyTemplate `json:"templates"`
}

func LoadSeedFile(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	var s Seed
	if err := json.Unmarshal(raw, &s); err != nil {
		return Seed{}, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return s, nil
}

// Apply upserts every entry. Templates are validated first.
func (s Seed) Apply(ctx context.Context, store Store) error {
	for _, p := range s.Providers {
		if err := store.UpsertProvider(ctx, p); err != nil {
			return fmt.Errorf("provider %s: %w", p.ID, err)
		}
	}
	for _, sub := range s.Subjects {
		if err := store.UpsertSubjectProfile(ctx, sub); err != nil {
			return fmt.Errorf("subject %s: %w", sub.ID, err)
		}
	}
	for _, t := range s.Templates {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("template %s: %w", t.ProviderID, err)
		}
		if err := store.PutTemplate(ctx, t); err != nil {
			return fmt.Errorf("template %s: %w", t.ProviderID, err)
		}
	}
	return nil
}
