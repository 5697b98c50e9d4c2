package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
)

// RunRepository handles run and run_step rows.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *RunRepository) CreateRun(ctx context.Context, run *models.Run) error {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal run context: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (id, tenant_id, journey_id, lead_id, contact_id, channel_id,
			trigger_type, context, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, run.ID, run.TenantID, run.JourneyID, nullable(run.LeadID), nullable(run.ContactID),
		nullable(run.ChannelID), run.TriggerType, contextJSON, run.Status, run.Error,
		run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

const runColumns = `
	id
  , tenant_id
  , journey_id
  , COALESCE(lead_id, '')
  , COALESCE(contact_id, '')
  , COALESCE(channel_id, '')
  , trigger_type
  , context
  , status
  , error
  , created_at
  , updated_at
  , completed_at
`

func (r *RunRepository) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return run, nil
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run         models.Run
		contextJSON []byte
		completedAt sql.NullTime
	)

	err := row.Scan(
		&run.ID,
		&run.TenantID,
		&run.JourneyID,
		&run.LeadID,
		&run.ContactID,
		&run.ChannelID,
		&run.TriggerType,
		&contextJSON,
		&run.Status,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(contextJSON, &run.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run context: %w", err)
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	return &run, nil
}

// CloseRun writes a terminal status, conditional on the run still running.
func (r *RunRepository) CloseRun(ctx context.Context, id string, status models.RunStatus, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET status = $2, error = $3, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, status, errMsg, models.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to close run: %w", err)
	}

	return nil
}

func (r *RunRepository) ListRunsByJourney(ctx context.Context, journeyID string, limit, offset int) ([]*models.Run, int64, error) {
	var total int64

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE journey_id = $1`, journeyID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE journey_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, journeyID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, 0, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, total, nil
}

func (r *RunRepository) CreateStep(ctx context.Context, step *models.RunStep) error {
	outputJSON, err := marshalOutput(step.Output)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO run_steps (id, run_id, node_id, status, attempts, scheduled_for,
			output, error, message_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, step.ID, step.RunID, step.NodeID, step.Status, step.Attempts, step.ScheduledFor,
		outputJSON, step.Error, nullable(step.MessageID), step.CreatedAt, step.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run step: %w", err)
	}

	return nil
}

func marshalOutput(output map[string]any) (any, error) {
	if output == nil {
		return nil, nil
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step output: %w", err)
	}

	return raw, nil
}

const stepColumns = `
	id
  , run_id
  , node_id
  , status
  , attempts
  , scheduled_for
  , output
  , error
  , COALESCE(message_id, '')
  , created_at
  , updated_at
`

func (r *RunRepository) GetStep(ctx context.Context, id string) (*models.RunStep, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM run_steps WHERE id = $1`, id)

	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStepNotFound
		}

		return nil, fmt.Errorf("failed to scan run step: %w", err)
	}

	return step, nil
}

func scanStep(row rowScanner) (*models.RunStep, error) {
	var (
		step         models.RunStep
		scheduledFor sql.NullTime
		outputJSON   []byte
	)

	err := row.Scan(
		&step.ID,
		&step.RunID,
		&step.NodeID,
		&step.Status,
		&step.Attempts,
		&scheduledFor,
		&outputJSON,
		&step.Error,
		&step.MessageID,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if scheduledFor.Valid {
		step.ScheduledFor = &scheduledFor.Time
	}

	if len(outputJSON) > 0 {
		err = json.Unmarshal(outputJSON, &step.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
		}
	}

	return &step, nil
}

// ClaimStep performs the atomic pending -> running transition that guards
// against duplicate job delivery.
func (r *RunRepository) ClaimStep(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE run_steps
		SET status = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.StepStatusRunning, models.StepStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim run step: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

func (r *RunRepository) UpdateStep(ctx context.Context, step *models.RunStep) error {
	outputJSON, err := marshalOutput(step.Output)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE run_steps
		SET status = $2, attempts = $3, scheduled_for = $4, output = $5,
			error = $6, message_id = $7, updated_at = NOW()
		WHERE id = $1
	`, step.ID, step.Status, step.Attempts, step.ScheduledFor, outputJSON,
		step.Error, nullable(step.MessageID))
	if err != nil {
		return fmt.Errorf("failed to update run step: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrStepNotFound
	}

	return nil
}

func (r *RunRepository) ListSteps(ctx context.Context, runID string) ([]*models.RunStep, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stepColumns+`
		FROM run_steps
		WHERE run_id = $1
		ORDER BY created_at
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run steps: %w", err)
	}

	return r.collectSteps(ctx, rows)
}

func (r *RunRepository) CountOpenSteps(ctx context.Context, runID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM run_steps
		WHERE run_id = $1 AND status IN ($2, $3)
	`, runID, models.StepStatusPending, models.StepStatusRunning).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open steps: %w", err)
	}

	return count, nil
}

func (r *RunRepository) ListDueSteps(ctx context.Context, before time.Time) ([]*models.RunStep, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stepColumns+`
		FROM run_steps
		WHERE status = $1 AND scheduled_for IS NOT NULL AND scheduled_for <= $2
		ORDER BY scheduled_for
	`, models.StepStatusPending, before)
	if err != nil {
		return nil, fmt.Errorf("failed to query due steps: %w", err)
	}

	return r.collectSteps(ctx, rows)
}

func (r *RunRepository) collectSteps(ctx context.Context, rows *sql.Rows) ([]*models.RunStep, error) {
	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	steps := make([]*models.RunStep, 0)

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run step: %w", err)
		}

		steps = append(steps, step)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating run steps: %w", err)
	}

	return steps, nil
}
