package journey

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Jcateye/omini-channel/pkg/models"
	"github.com/Jcateye/omini-channel/pkg/persistence"
)

func (d *Dispatcher) executeDelay(graph *Graph, node *models.Node) (nodeResult, error) {
	delay := delayFromConfig(node.Config)

	return nodeResult{
		output: map[string]any{"delay_ms": delay.Milliseconds()},
		edges:  graph.Outgoing(node.ID),
		delay:  delay,
	}, nil
}

func (d *Dispatcher) executeCondition(ctx context.Context, graph *Graph, node *models.Node, run *models.Run) (nodeResult, error) {
	evalCtx := run.Context

	// Tag and stage rules read the lead as it is now, so a tag_update
	// earlier in the run influences the branch. Text stays the trigger
	// snapshot, and lead-less runs fall back to the snapshot entirely.
	if run.LeadID != "" {
		lead, err := d.persistence.Leads().GetLead(ctx, run.LeadID)
		if err != nil && !persistence.IsLeadNotFound(err) {
			return nodeResult{}, fmt.Errorf("failed to load lead %s: %w", run.LeadID, err)
		}

		if lead != nil {
			evalCtx.Tags = lead.Tags
			evalCtx.Stage = lead.Stage
		}
	}

	outcome := Matches(filterFromConfig(node.Config), evalCtx)

	return nodeResult{
		output: map[string]any{"outcome": outcome},
		edges:  graph.BranchEdges(node.ID, outcome),
	}, nil
}

func (d *Dispatcher) executeTagUpdate(ctx context.Context, graph *Graph, node *models.Node, run *models.Run) (nodeResult, error) {
	if run.LeadID == "" {
		return nodeResult{}, fmt.Errorf("tag_update node %s requires a lead-bound run", node.ID)
	}

	lead, err := d.persistence.Leads().GetLead(ctx, run.LeadID)
	if err != nil {
		return nodeResult{}, fmt.Errorf("failed to load lead %s: %w", run.LeadID, err)
	}

	addTags := configStringSlice(node.Config, "addTags")
	removeTags := configStringSlice(node.Config, "removeTags")
	newTags := mergeTags(lead.Tags, addTags, removeTags)

	update := persistence.LeadUpdate{Tags: &newTags}

	if stage := configString(node.Config, "stage"); stage != "" {
		update.Stage = &stage
	}

	_, err = d.persistence.Leads().UpdateLead(ctx, lead.ID, update)
	if err != nil {
		return nodeResult{}, fmt.Errorf("failed to update lead %s: %w", lead.ID, err)
	}

	output := map[string]any{"tags": newTags}
	if update.Stage != nil {
		output["stage"] = *update.Stage
	}

	return nodeResult{
		output: output,
		edges:  graph.Outgoing(node.ID),
	}, nil
}

// mergeTags computes (tags - remove) ∪ add with set semantics. The result
// preserves the surviving tags' original order, then appended new tags.
func mergeTags(tags, add, remove []string) []string {
	removed := make(map[string]struct{}, len(remove))
	for _, tag := range remove {
		removed[tag] = struct{}{}
	}

	seen := make(map[string]struct{}, len(tags)+len(add))
	out := make([]string, 0, len(tags)+len(add))

	for _, tag := range tags {
		if _, drop := removed[tag]; drop {
			continue
		}

		if _, dup := seen[tag]; dup {
			continue
		}

		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	for _, tag := range add {
		if _, dup := seen[tag]; dup {
			continue
		}

		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	return out
}

func (d *Dispatcher) executeWebhook(ctx context.Context, graph *Graph, node *models.Node, run *models.Run) (nodeResult, error) {
	url := configString(node.Config, "url")
	if url == "" {
		return nodeResult{}, fmt.Errorf("webhook node %s has no url configured", node.ID)
	}

	body := map[string]any{
		"run_id":     run.ID,
		"journey_id": run.JourneyID,
		"node_id":    node.ID,
		"tenant_id":  run.TenantID,
		"lead_id":    run.LeadID,
		"contact_id": run.ContactID,
	}

	if payload, ok := node.Config["payload"]; ok {
		body["payload"] = payload
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nodeResult{}, fmt.Errorf("failed to encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nodeResult{}, fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range configStringMap(node.Config, "headers") {
		req.Header.Set(key, value)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nodeResult{}, fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()

	output := map[string]any{"status_code": resp.StatusCode}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nodeResult{output: output},
			fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nodeResult{
		output: output,
		edges:  graph.Outgoing(node.ID),
	}, nil
}

func (d *Dispatcher) executeSendMessage(ctx context.Context, graph *Graph, node *models.Node, run *models.Run) (nodeResult, error) {
	channelID := configString(node.Config, "channelId")
	if channelID == "" {
		channelID = run.ChannelID
	}

	if channelID == "" {
		return nodeResult{}, fmt.Errorf("send_message node %s has no channel", node.ID)
	}

	recipient, err := d.resolveRecipient(ctx, run)
	if err != nil {
		return nodeResult{}, err
	}

	conversation, err := d.persistence.Conversations().EnsureConversation(ctx, run.TenantID, channelID, recipient)
	if err != nil {
		return nodeResult{}, fmt.Errorf("failed to ensure conversation: %w", err)
	}

	message := &models.Message{
		ID:             uuid.New().String(),
		TenantID:       run.TenantID,
		ConversationID: conversation.ID,
		ChannelID:      channelID,
		Direction:      models.MessageDirectionOutbound,
		Body:           messageBody(node.Config),
		RunID:          run.ID,
		Status:         models.MessageStatusQueued,
		CreatedAt:      time.Now().UTC(),
	}

	err = d.persistence.Conversations().CreateMessage(ctx, message)
	if err != nil {
		return nodeResult{}, fmt.Errorf("failed to create message: %w", err)
	}

	err = d.outbound.EnqueueOutbound(ctx, message.ID)
	if err != nil {
		return nodeResult{}, fmt.Errorf("failed to enqueue outbound message: %w", err)
	}

	return nodeResult{
		output: map[string]any{
			"conversation_id": conversation.ID,
			"recipient":       recipient,
		},
		messageID: message.ID,
		edges:     graph.Outgoing(node.ID),
	}, nil
}

// resolveRecipient finds the deliverable address for the run's subject:
// contact phone first, then contact platform id, then the lead's own
// phone/external id.
func (d *Dispatcher) resolveRecipient(ctx context.Context, run *models.Run) (string, error) {
	if run.ContactID != "" {
		contact, err := d.persistence.Leads().GetContact(ctx, run.ContactID)
		if err != nil && !persistence.IsContactNotFound(err) {
			return "", fmt.Errorf("failed to load contact %s: %w", run.ContactID, err)
		}

		if contact != nil {
			if recipient := contact.Recipient(); recipient != "" {
				return recipient, nil
			}
		}
	}

	if run.LeadID != "" {
		lead, err := d.persistence.Leads().GetLead(ctx, run.LeadID)
		if err != nil && !persistence.IsLeadNotFound(err) {
			return "", fmt.Errorf("failed to load lead %s: %w", run.LeadID, err)
		}

		if lead != nil {
			if lead.Phone != "" {
				return lead.Phone, nil
			}

			if lead.ExternalID != "" {
				return lead.ExternalID, nil
			}
		}
	}

	return "", fmt.Errorf("no resolvable recipient for run %s", run.ID)
}

func messageBody(config map[string]any) string {
	if body := configString(config, "body"); body != "" {
		return body
	}

	return configString(config, "text")
}
