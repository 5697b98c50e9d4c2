package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Jcateye/omini-channel/pkg/models"
)

// ConversationRepository handles conversation and message rows.
type ConversationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// EnsureConversation relies on the (channel_id, external_id) unique
// constraint: the insert is a no-op when the conversation already exists.
func (r *ConversationRepository) EnsureConversation(ctx context.Context, tenantID, channelID, externalID string) (*models.Conversation, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, tenant_id, channel_id, external_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (channel_id, external_id) DO NOTHING
	`, uuid.New().String(), tenantID, channelID, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure conversation: %w", err)
	}

	var conv models.Conversation

	err = r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, channel_id, external_id, COALESCE(lead_id, ''), created_at
		FROM conversations
		WHERE channel_id = $1 AND external_id = $2
	`, channelID, externalID).Scan(
		&conv.ID,
		&conv.TenantID,
		&conv.ChannelID,
		&conv.ExternalID,
		&conv.LeadID,
		&conv.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	return &conv, nil
}

func (r *ConversationRepository) CreateMessage(ctx context.Context, message *models.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, tenant_id, conversation_id, channel_id, direction,
			body, run_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, message.ID, message.TenantID, message.ConversationID, message.ChannelID,
		message.Direction, message.Body, nullable(message.RunID), message.Status,
		message.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

func (r *ConversationRepository) ListMessagesByRun(ctx context.Context, runID string) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, conversation_id, channel_id, direction, body,
			COALESCE(run_id::text, ''), status, created_at
		FROM messages
		WHERE run_id = $1
		ORDER BY created_at
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	messages := make([]*models.Message, 0)

	for rows.Next() {
		var message models.Message

		err := rows.Scan(
			&message.ID,
			&message.TenantID,
			&message.ConversationID,
			&message.ChannelID,
			&message.Direction,
			&message.Body,
			&message.RunID,
			&message.Status,
			&message.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		messages = append(messages, &message)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}
