package file

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
)

// JourneyRepository stores journeys as single documents including their
// triggers, nodes, and edges.
type JourneyRepository struct {
	store *Persistence
}

func (r *JourneyRepository) List(ctx context.Context, tenantID string) ([]*models.Journey, error) {
	return r.list(func(j *models.Journey) bool {
		return j.TenantID == tenantID && j.DeletedAt == nil
	})
}

func (r *JourneyRepository) ListActive(ctx context.Context, tenantID string) ([]*models.Journey, error) {
	return r.list(func(j *models.Journey) bool {
		return j.TenantID == tenantID && j.DeletedAt == nil && j.IsActive()
	})
}

func (r *JourneyRepository) ListActiveWithTimeTriggers(ctx context.Context) ([]*models.Journey, error) {
	return r.list(func(j *models.Journey) bool {
		if j.DeletedAt != nil || !j.IsActive() {
			return false
		}

		for _, t := range j.Triggers {
			if t.Type == models.TriggerTypeTime && t.Enabled {
				return true
			}
		}

		return false
	})
}

func (r *JourneyRepository) list(keep func(*models.Journey) bool) ([]*models.Journey, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	journeys := make([]*models.Journey, 0)

	err := r.store.readAll(journeysDir, func(data []byte) error {
		var journey models.Journey

		err := json.Unmarshal(data, &journey)
		if err != nil {
			return fmt.Errorf("failed to unmarshal journey: %w", err)
		}

		if keep(&journey) {
			journeys = append(journeys, &journey)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(journeys, func(i, j int) bool {
		return journeys[i].CreatedAt.After(journeys[j].CreatedAt)
	})

	return journeys, nil
}

func (r *JourneyRepository) GetByID(ctx context.Context, id string) (*models.Journey, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getLocked(id)
}

func (r *JourneyRepository) getLocked(id string) (*models.Journey, error) {
	var journey models.Journey

	err := r.store.read(journeysDir, id, &journey, persistence.ErrJourneyNotFound)
	if err != nil {
		return nil, err
	}

	if journey.DeletedAt != nil {
		return nil, persistence.ErrJourneyNotFound
	}

	return &journey, nil
}

func (r *JourneyRepository) Save(ctx context.Context, journey *models.Journey) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(journeysDir, journey.ID, journey)
}

func (r *JourneyRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	journey, err := r.getLocked(id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	journey.DeletedAt = &now
	journey.UpdatedAt = now

	return r.store.write(journeysDir, journey.ID, journey)
}

func (r *JourneyRepository) UpdateTriggerLastFired(ctx context.Context, triggerID string, firedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	found := false

	err := r.store.readAll(journeysDir, func(data []byte) error {
		if found {
			return nil
		}

		var journey models.Journey

		err := json.Unmarshal(data, &journey)
		if err != nil {
			return fmt.Errorf("failed to unmarshal journey: %w", err)
		}

		for _, trigger := range journey.Triggers {
			if trigger.ID != triggerID {
				continue
			}

			trigger.LastFiredAt = &firedAt
			found = true

			return r.store.write(journeysDir, journey.ID, &journey)
		}

		return nil
	})
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrTriggerNotFound
	}

	return nil
}
