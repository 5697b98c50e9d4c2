// Package file provides a file-system persistence implementation, one JSON
// document per record. It backs local development and tests; concurrent
// access is serialized by a store-wide lock.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Jcateye/omini-channel/pkg/persistence"
)

const (
	journeysDir      = "journeys"
	runsDir          = "runs"
	stepsDir         = "steps"
	leadsDir         = "leads"
	contactsDir      = "contacts"
	conversationsDir = "conversations"
	messagesDir      = "messages"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root string
	mu   sync.RWMutex

	journeys      *JourneyRepository
	runs          *RunRepository
	leads         *LeadRepository
	conversations *ConversationRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// Accepts plain paths and file:// URLs.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.journeys = &JourneyRepository{store: p}
	p.runs = &RunRepository{store: p}
	p.leads = &LeadRepository{store: p}
	p.conversations = &ConversationRepository{store: p}

	return p
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

func (p *Persistence) HealthCheck(_ context.Context) error {
	err := os.MkdirAll(p.root, 0o755)
	if err != nil {
		return fmt.Errorf("file store root is not writable: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) path(kind, id string) string {
	return filepath.Join(p.root, kind, id+".json")
}

// write persists one record. Callers hold the store lock.
func (p *Persistence) write(kind, id string, v any) error {
	dir := filepath.Join(p.root, kind)

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", kind, err)
	}

	err = os.WriteFile(p.path(kind, id), data, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write %s record: %w", kind, err)
	}

	return nil
}

// read loads one record into out. Returns notFound when the file is missing.
func (p *Persistence) read(kind, id string, out any, notFound error) error {
	data, err := os.ReadFile(p.path(kind, id))
	if err != nil {
		if os.IsNotExist(err) {
			return notFound
		}

		return fmt.Errorf("failed to read %s record: %w", kind, err)
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s record: %w", kind, err)
	}

	return nil
}

// readAll decodes every record of a kind through the visit callback, which
// receives the raw document.
func (p *Persistence) readAll(kind string, visit func(data []byte) error) error {
	dir := filepath.Join(p.root, kind)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to list %s directory: %w", kind, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s record: %w", kind, err)
		}

		err = visit(data)
		if err != nil {
			return err
		}
	}

	return nil
}
