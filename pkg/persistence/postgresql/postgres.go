// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/Jcateye/omini-channel/pkg/persistence"
	"github.com/Jcateye/omini-channel/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence on PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	journeys      *JourneyRepository
	runs          *RunRepository
	leads         *LeadRepository
	conversations *ConversationRepository
}

// NewPersistence connects, runs migrations, and returns the store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	p := &Persistence{
		db:     database,
		logger: logger,
	}
	p.journeys = &JourneyRepository{db: database, logger: logger}
	p.runs = &RunRepository{db: database, logger: logger}
	p.leads = &LeadRepository{db: database, logger: logger}
	p.conversations = &ConversationRepository{db: database, logger: logger}

	return p, nil
}

func (p *Persistence) Journeys() persistence.JourneyRepository {
	return p.journeys
}

func (p *Persistence) Runs() persistence.RunRepository {
	return p.runs
}

func (p *Persistence) Leads() persistence.LeadRepository {
	return p.leads
}

func (p *Persistence) Conversations() persistence.ConversationRepository {
	return p.conversations
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}
