package file

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
)

// LeadRepository stores leads and contacts.
type LeadRepository struct {
	store *Persistence
}

func (r *LeadRepository) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var lead models.Lead

	err := r.store.read(leadsDir, id, &lead, persistence.ErrLeadNotFound)
	if err != nil {
		return nil, err
	}

	return &lead, nil
}

func (r *LeadRepository) SaveLead(ctx context.Context, lead *models.Lead) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(leadsDir, lead.ID, lead)
}

func (r *LeadRepository) UpdateLead(ctx context.Context, id string, update persistence.LeadUpdate) (*models.Lead, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var lead models.Lead

	err := r.store.read(leadsDir, id, &lead, persistence.ErrLeadNotFound)
	if err != nil {
		return nil, err
	}

	if update.Tags != nil {
		lead.Tags = *update.Tags
	}

	if update.Stage != nil {
		lead.Stage = *update.Stage
	}

	lead.UpdatedAt = time.Now().UTC()

	err = r.store.write(leadsDir, lead.ID, &lead)
	if err != nil {
		return nil, err
	}

	return &lead, nil
}

func (r *LeadRepository) FindBySegment(ctx context.Context, tenantID string, segment models.SegmentFilter) ([]*models.Lead, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var activeCutoff time.Time
	if segment.ActiveWithinDays > 0 {
		activeCutoff = time.Now().UTC().AddDate(0, 0, -segment.ActiveWithinDays)
	}

	leads := make([]*models.Lead, 0)

	err := r.store.readAll(leadsDir, func(data []byte) error {
		var lead models.Lead

		err := json.Unmarshal(data, &lead)
		if err != nil {
			return fmt.Errorf("failed to unmarshal lead: %w", err)
		}

		if lead.TenantID != tenantID {
			return nil
		}

		if !matchesSegment(&lead, segment, activeCutoff) {
			return nil
		}

		leads = append(leads, &lead)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return leads, nil
}

func matchesSegment(lead *models.Lead, segment models.SegmentFilter, activeCutoff time.Time) bool {
	if len(segment.Stages) > 0 && !slices.Contains(segment.Stages, lead.Stage) {
		return false
	}

	for _, tag := range segment.TagsAll {
		if !lead.HasTag(tag) {
			return false
		}
	}

	if len(segment.Sources) > 0 && !slices.Contains(segment.Sources, lead.Source) {
		return false
	}

	if !activeCutoff.IsZero() {
		if lead.LastActiveAt == nil || lead.LastActiveAt.Before(activeCutoff) {
			return false
		}
	}

	return true
}

func (r *LeadRepository) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var contact models.Contact

	err := r.store.read(contactsDir, id, &contact, persistence.ErrContactNotFound)
	if err != nil {
		return nil, err
	}

	return &contact, nil
}

func (r *LeadRepository) SaveContact(ctx context.Context, contact *models.Contact) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(contactsDir, contact.ID, contact)
}
