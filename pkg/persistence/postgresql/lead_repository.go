package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
)

// LeadRepository handles lead and contact rows.
type LeadRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const leadColumns = `
	id
  , tenant_id
  , name
  , COALESCE(phone, '')
  , COALESCE(external_id, '')
  , COALESCE(contact_id, '')
  , tags
  , COALESCE(stage, '')
  , COALESCE(source, '')
  , last_active_at
  , created_at
  , updated_at
`

func (r *LeadRepository) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)

	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrLeadNotFound
		}

		return nil, fmt.Errorf("failed to scan lead: %w", err)
	}

	return lead, nil
}

func scanLead(row rowScanner) (*models.Lead, error) {
	var (
		lead         models.Lead
		tagsJSON     []byte
		lastActiveAt sql.NullTime
	)

	err := row.Scan(
		&lead.ID,
		&lead.TenantID,
		&lead.Name,
		&lead.Phone,
		&lead.ExternalID,
		&lead.ContactID,
		&tagsJSON,
		&lead.Stage,
		&lead.Source,
		&lastActiveAt,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(tagsJSON, &lead.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal lead tags: %w", err)
	}

	if lastActiveAt.Valid {
		lead.LastActiveAt = &lastActiveAt.Time
	}

	return &lead, nil
}

func (r *LeadRepository) SaveLead(ctx context.Context, lead *models.Lead) error {
	tagsJSON, err := json.Marshal(lead.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal lead tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO leads (id, tenant_id, name, phone, external_id, contact_id,
			tags, stage, source, last_active_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			external_id = EXCLUDED.external_id,
			contact_id = EXCLUDED.contact_id,
			tags = EXCLUDED.tags,
			stage = EXCLUDED.stage,
			source = EXCLUDED.source,
			last_active_at = EXCLUDED.last_active_at,
			updated_at = EXCLUDED.updated_at
	`, lead.ID, lead.TenantID, lead.Name, nullable(lead.Phone), nullable(lead.ExternalID),
		nullable(lead.ContactID), tagsJSON, nullable(lead.Stage), nullable(lead.Source),
		lead.LastActiveAt, lead.CreatedAt, lead.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save lead: %w", err)
	}

	return nil
}

func (r *LeadRepository) UpdateLead(ctx context.Context, id string, update persistence.LeadUpdate) (*models.Lead, error) {
	lead, err := r.GetLead(ctx, id)
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

	err = r.SaveLead(ctx, lead)
	if err != nil {
		return nil, err
	}

	return lead, nil
}

func (r *LeadRepository) FindBySegment(ctx context.Context, tenantID string, segment models.SegmentFilter) ([]*models.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = $1`
	args := []any{tenantID}

	if len(segment.Stages) > 0 {
		stagesJSON, err := json.Marshal(segment.Stages)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal segment stages: %w", err)
		}

		args = append(args, stagesJSON)
		query += ` AND stage IN (SELECT jsonb_array_elements_text($` + strconv.Itoa(len(args)) + `::jsonb))`
	}

	if len(segment.TagsAll) > 0 {
		tagsJSON, err := json.Marshal(segment.TagsAll)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal segment tags: %w", err)
		}

		args = append(args, tagsJSON)
		query += ` AND tags @> $` + strconv.Itoa(len(args)) + `::jsonb`
	}

	if len(segment.Sources) > 0 {
		sourcesJSON, err := json.Marshal(segment.Sources)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal segment sources: %w", err)
		}

		args = append(args, sourcesJSON)
		query += ` AND source IN (SELECT jsonb_array_elements_text($` + strconv.Itoa(len(args)) + `::jsonb))`
	}

	if segment.ActiveWithinDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -segment.ActiveWithinDays)
		args = append(args, cutoff)
		query += ` AND last_active_at >= $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads by segment: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	leads := make([]*models.Lead, 0)

	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}

		leads = append(leads, lead)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating leads: %w", err)
	}

	return leads, nil
}

func (r *LeadRepository) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	var contact models.Contact

	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, COALESCE(lead_id, ''), name, COALESCE(phone, ''),
			COALESCE(external_id, ''), created_at
		FROM contacts
		WHERE id = $1
	`, id).Scan(
		&contact.ID,
		&contact.TenantID,
		&contact.LeadID,
		&contact.Name,
		&contact.Phone,
		&contact.ExternalID,
		&contact.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrContactNotFound
		}

		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}

	return &contact, nil
}

func (r *LeadRepository) SaveContact(ctx context.Context, contact *models.Contact) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (id, tenant_id, lead_id, name, phone, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			lead_id = EXCLUDED.lead_id,
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			external_id = EXCLUDED.external_id
	`, contact.ID, contact.TenantID, nullable(contact.LeadID), contact.Name,
		nullable(contact.Phone), nullable(contact.ExternalID), contact.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}

	return nil
}
