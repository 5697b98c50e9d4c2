package file

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Jcateye/omini-channel/pkg/models"
)

// ConversationRepository stores conversations and messages.
type ConversationRepository struct {
	store *Persistence
}

func (r *ConversationRepository) EnsureConversation(ctx context.Context, tenantID, channelID, externalID string) (*models.Conversation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var existing *models.Conversation

	err := r.store.readAll(conversationsDir, func(data []byte) error {
		if existing != nil {
			return nil
		}

		var conv models.Conversation

		err := json.Unmarshal(data, &conv)
		if err != nil {
			return fmt.Errorf("failed to unmarshal conversation: %w", err)
		}

		if conv.ChannelID == channelID && conv.ExternalID == externalID {
			existing = &conv
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return existing, nil
	}

	conv := &models.Conversation{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		ChannelID:  channelID,
		ExternalID: externalID,
		CreatedAt:  time.Now().UTC(),
	}

	err = r.store.write(conversationsDir, conv.ID, conv)
	if err != nil {
		return nil, err
	}

	return conv, nil
}

func (r *ConversationRepository) CreateMessage(ctx context.Context, message *models.Message) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(messagesDir, message.ID, message)
}

func (r *ConversationRepository) ListMessagesByRun(ctx context.Context, runID string) ([]*models.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	messages := make([]*models.Message, 0)

	err := r.store.readAll(messagesDir, func(data []byte) error {
		var message models.Message

		err := json.Unmarshal(data, &message)
		if err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}

		if message.RunID == runID {
			messages = append(messages, &message)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	return messages, nil
}
