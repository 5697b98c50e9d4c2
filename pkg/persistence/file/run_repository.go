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

// RunRepository stores runs and run steps as separate documents. The
// store-wide lock makes ClaimStep and CloseRun effectively atomic.
type RunRepository struct {
	store *Persistence
}

func (r *RunRepository) CreateRun(ctx context.Context, run *models.Run) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(runsDir, run.ID, run)
}

func (r *RunRepository) GetRun(ctx context.Context, id string) (*models.Run, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var run models.Run

	err := r.store.read(runsDir, id, &run, persistence.ErrRunNotFound)
	if err != nil {
		return nil, err
	}

	return &run, nil
}

func (r *RunRepository) CloseRun(ctx context.Context, id string, status models.RunStatus, errMsg string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var run models.Run

	err := r.store.read(runsDir, id, &run, persistence.ErrRunNotFound)
	if err != nil {
		return err
	}

	// Terminal statuses are write-once.
	if run.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	run.Status = status
	run.Error = errMsg
	run.UpdatedAt = now
	run.CompletedAt = &now

	return r.store.write(runsDir, run.ID, &run)
}

func (r *RunRepository) ListRunsByJourney(ctx context.Context, journeyID string, limit, offset int) ([]*models.Run, int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	runs := make([]*models.Run, 0)

	err := r.store.readAll(runsDir, func(data []byte) error {
		var run models.Run

		err := json.Unmarshal(data, &run)
		if err != nil {
			return fmt.Errorf("failed to unmarshal run: %w", err)
		}

		if run.JourneyID == journeyID {
			runs = append(runs, &run)
		}

		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	total := int64(len(runs))

	if offset >= len(runs) {
		return []*models.Run{}, total, nil
	}

	end := offset + limit
	if limit <= 0 || end > len(runs) {
		end = len(runs)
	}

	return runs[offset:end], total, nil
}

func (r *RunRepository) CreateStep(ctx context.Context, step *models.RunStep) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(stepsDir, step.ID, step)
}

func (r *RunRepository) GetStep(ctx context.Context, id string) (*models.RunStep, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var step models.RunStep

	err := r.store.read(stepsDir, id, &step, persistence.ErrStepNotFound)
	if err != nil {
		return nil, err
	}

	return &step, nil
}

func (r *RunRepository) ClaimStep(ctx context.Context, id string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var step models.RunStep

	err := r.store.read(stepsDir, id, &step, persistence.ErrStepNotFound)
	if err != nil {
		return false, err
	}

	if step.Status != models.StepStatusPending {
		return false, nil
	}

	step.Status = models.StepStatusRunning
	step.Attempts++
	step.UpdatedAt = time.Now().UTC()

	err = r.store.write(stepsDir, step.ID, &step)
	if err != nil {
		return false, err
	}

	return true, nil
}

func (r *RunRepository) UpdateStep(ctx context.Context, step *models.RunStep) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	step.UpdatedAt = time.Now().UTC()

	return r.store.write(stepsDir, step.ID, step)
}

func (r *RunRepository) ListSteps(ctx context.Context, runID string) ([]*models.RunStep, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.listStepsLocked(func(s *models.RunStep) bool {
		return s.RunID == runID
	})
}

func (r *RunRepository) CountOpenSteps(ctx context.Context, runID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	steps, err := r.listStepsLocked(func(s *models.RunStep) bool {
		return s.RunID == runID &&
			(s.Status == models.StepStatusPending || s.Status == models.StepStatusRunning)
	})
	if err != nil {
		return 0, err
	}

	return len(steps), nil
}

func (r *RunRepository) ListDueSteps(ctx context.Context, before time.Time) ([]*models.RunStep, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.listStepsLocked(func(s *models.RunStep) bool {
		return s.Status == models.StepStatusPending &&
			s.ScheduledFor != nil && !s.ScheduledFor.After(before)
	})
}

func (r *RunRepository) listStepsLocked(keep func(*models.RunStep) bool) ([]*models.RunStep, error) {
	steps := make([]*models.RunStep, 0)

	err := r.store.readAll(stepsDir, func(data []byte) error {
		var step models.RunStep

		err := json.Unmarshal(data, &step)
		if err != nil {
			return fmt.Errorf("failed to unmarshal run step: %w", err)
		}

		if keep(&step) {
			steps = append(steps, &step)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(steps, func(i, j int) bool {
		return steps[i].CreatedAt.Before(steps[j].CreatedAt)
	})

	return steps, nil
}
