package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
)

// JourneyRepository handles journey, trigger, node, and edge rows.
type JourneyRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const journeyColumns = `
	id
  , tenant_id
  , name
  , description
  , status
  , created_at
  , updated_at
  , deleted_at
`

func (r *JourneyRepository) List(ctx context.Context, tenantID string) ([]*models.Journey, error) {
	query := `
		SELECT ` + journeyColumns + `
		FROM journeys
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.queryJourneys(ctx, query, tenantID)
}

func (r *JourneyRepository) ListActive(ctx context.Context, tenantID string) ([]*models.Journey, error) {
	query := `
		SELECT ` + journeyColumns + `
		FROM journeys
		WHERE tenant_id = $1 AND status = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.queryJourneys(ctx, query, tenantID, models.JourneyStatusActive)
}

func (r *JourneyRepository) ListActiveWithTimeTriggers(ctx context.Context) ([]*models.Journey, error) {
	query := `
		SELECT ` + journeyColumns + `
		FROM journeys
		WHERE status = $1
		  AND deleted_at IS NULL
		  AND EXISTS (
			SELECT 1 FROM journey_triggers t
			WHERE t.journey_id = journeys.id AND t.type = $2 AND t.enabled
		  )
		ORDER BY created_at DESC
	`

	return r.queryJourneys(ctx, query, models.JourneyStatusActive, models.TriggerTypeTime)
}

func (r *JourneyRepository) queryJourneys(ctx context.Context, query string, args ...any) ([]*models.Journey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journeys: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	journeys := make([]*models.Journey, 0)

	for rows.Next() {
		journey, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journey: %w", err)
		}

		journeys = append(journeys, journey)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating journeys: %w", err)
	}

	for _, journey := range journeys {
		err = r.loadGraph(ctx, journey)
		if err != nil {
			return nil, err
		}
	}

	return journeys, nil
}

func (r *JourneyRepository) GetByID(ctx context.Context, id string) (*models.Journey, error) {
	query := `
		SELECT ` + journeyColumns + `
		FROM journeys
		WHERE id = $1 AND deleted_at IS NULL
	`

	journey, err := scanJourney(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrJourneyNotFound
		}

		return nil, fmt.Errorf("failed to scan journey: %w", err)
	}

	err = r.loadGraph(ctx, journey)
	if err != nil {
		return nil, err
	}

	return journey, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJourney(row rowScanner) (*models.Journey, error) {
	var (
		journey   models.Journey
		deletedAt sql.NullTime
	)

	err := row.Scan(
		&journey.ID,
		&journey.TenantID,
		&journey.Name,
		&journey.Description,
		&journey.Status,
		&journey.CreatedAt,
		&journey.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		journey.DeletedAt = &deletedAt.Time
	}

	return &journey, nil
}

// loadGraph attaches triggers, nodes, and edges to the journey.
func (r *JourneyRepository) loadGraph(ctx context.Context, journey *models.Journey) error {
	err := r.loadTriggers(ctx, journey)
	if err != nil {
		return err
	}

	err = r.loadNodes(ctx, journey)
	if err != nil {
		return err
	}

	return r.loadEdges(ctx, journey)
}

func (r *JourneyRepository) loadTriggers(ctx context.Context, journey *models.Journey) error {
	query := `
		SELECT id, type, enabled, filter, schedule, last_fired_at
		FROM journey_triggers
		WHERE journey_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, journey.ID)
	if err != nil {
		return fmt.Errorf("failed to query triggers: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	journey.Triggers = make([]*models.Trigger, 0)

	for rows.Next() {
		var (
			trigger     models.Trigger
			filterJSON  []byte
			schedule    []byte
			lastFiredAt sql.NullTime
		)

		err := rows.Scan(&trigger.ID, &trigger.Type, &trigger.Enabled, &filterJSON, &schedule, &lastFiredAt)
		if err != nil {
			return fmt.Errorf("failed to scan trigger: %w", err)
		}

		err = json.Unmarshal(filterJSON, &trigger.Filter)
		if err != nil {
			return fmt.Errorf("failed to unmarshal trigger filter: %w", err)
		}

		if len(schedule) > 0 {
			trigger.Schedule = &models.TriggerSchedule{}

			err = json.Unmarshal(schedule, trigger.Schedule)
			if err != nil {
				return fmt.Errorf("failed to unmarshal trigger schedule: %w", err)
			}
		}

		if lastFiredAt.Valid {
			trigger.LastFiredAt = &lastFiredAt.Time
		}

		trigger.JourneyID = journey.ID
		journey.Triggers = append(journey.Triggers, &trigger)
	}

	return rows.Err()
}

func (r *JourneyRepository) loadNodes(ctx context.Context, journey *models.Journey) error {
	query := `
		SELECT id, type, label, config, position_x, position_y
		FROM journey_nodes
		WHERE journey_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, journey.ID)
	if err != nil {
		return fmt.Errorf("failed to query nodes: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	journey.Nodes = make([]*models.Node, 0)

	for rows.Next() {
		var (
			node       models.Node
			configJSON []byte
		)

		err := rows.Scan(&node.ID, &node.Type, &node.Label, &configJSON, &node.PositionX, &node.PositionY)
		if err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}

		err = json.Unmarshal(configJSON, &node.Config)
		if err != nil {
			return fmt.Errorf("failed to unmarshal node config: %w", err)
		}

		node.JourneyID = journey.ID
		journey.Nodes = append(journey.Nodes, &node)
	}

	return rows.Err()
}

func (r *JourneyRepository) loadEdges(ctx context.Context, journey *models.Journey) error {
	query := `
		SELECT id, from_node_id, to_node_id, label
		FROM journey_edges
		WHERE journey_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, journey.ID)
	if err != nil {
		return fmt.Errorf("failed to query edges: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	journey.Edges = make([]*models.Edge, 0)

	for rows.Next() {
		var edge models.Edge

		err := rows.Scan(&edge.ID, &edge.FromNodeID, &edge.ToNodeID, &edge.Label)
		if err != nil {
			return fmt.Errorf("failed to scan edge: %w", err)
		}

		edge.JourneyID = journey.ID
		journey.Edges = append(journey.Edges, &edge)
	}

	return rows.Err()
}

// Save upserts the journey row and replaces its triggers, nodes, and edges
// in one transaction.
func (r *JourneyRepository) Save(ctx context.Context, journey *models.Journey) error {
	now := time.Now().UTC()

	if journey.ID == "" {
		journey.ID = uuid.New().String()
		journey.CreatedAt = now
	}

	journey.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO journeys (id, tenant_id, name, description, status, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`, journey.ID, journey.TenantID, journey.Name, journey.Description, journey.Status,
		journey.CreatedAt, journey.UpdatedAt, journey.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert journey: %w", err)
	}

	err = r.replaceGraph(ctx, tx, journey)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit journey: %w", err)
	}

	return nil
}

func (r *JourneyRepository) replaceGraph(ctx context.Context, tx *sql.Tx, journey *models.Journey) error {
	for _, table := range []string{"journey_triggers", "journey_nodes", "journey_edges"} {
		_, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE journey_id = $1", journey.ID)
		if err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, trigger := range journey.Triggers {
		if trigger.ID == "" {
			trigger.ID = uuid.New().String()
		}

		trigger.JourneyID = journey.ID

		filterJSON, err := json.Marshal(trigger.Filter)
		if err != nil {
			return fmt.Errorf("failed to marshal trigger filter: %w", err)
		}

		var scheduleJSON any
		if trigger.Schedule != nil {
			raw, err := json.Marshal(trigger.Schedule)
			if err != nil {
				return fmt.Errorf("failed to marshal trigger schedule: %w", err)
			}

			scheduleJSON = raw
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO journey_triggers (id, journey_id, type, enabled, filter, schedule, last_fired_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, trigger.ID, journey.ID, trigger.Type, trigger.Enabled, filterJSON, scheduleJSON, trigger.LastFiredAt)
		if err != nil {
			return fmt.Errorf("failed to insert trigger: %w", err)
		}
	}

	for _, node := range journey.Nodes {
		node.JourneyID = journey.ID

		configJSON, err := json.Marshal(node.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal node config: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO journey_nodes (id, journey_id, type, label, config, position_x, position_y)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, node.ID, journey.ID, node.Type, node.Label, configJSON, node.PositionX, node.PositionY)
		if err != nil {
			return fmt.Errorf("failed to insert node: %w", err)
		}
	}

	for _, edge := range journey.Edges {
		if edge.ID == "" {
			edge.ID = uuid.New().String()
		}

		edge.JourneyID = journey.ID

		_, err := tx.ExecContext(ctx, `
			INSERT INTO journey_edges (id, journey_id, from_node_id, to_node_id, label)
			VALUES ($1, $2, $3, $4, $5)
		`, edge.ID, journey.ID, edge.FromNodeID, edge.ToNodeID, edge.Label)
		if err != nil {
			return fmt.Errorf("failed to insert edge: %w", err)
		}
	}

	return nil
}

// Delete soft deletes a journey.
func (r *JourneyRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE journeys SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete journey: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrJourneyNotFound
	}

	return nil
}

func (r *JourneyRepository) UpdateTriggerLastFired(ctx context.Context, triggerID string, firedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE journey_triggers SET last_fired_at = $2 WHERE id = $1
	`, triggerID, firedAt)
	if err != nil {
		return fmt.Errorf("failed to update trigger last_fired_at: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTriggerNotFound
	}

	return nil
}
