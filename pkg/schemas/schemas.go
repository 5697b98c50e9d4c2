// Package schemas holds the JSON schemas for node configurations and
// validates authored configs against them.
package schemas

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Jcateye/omini-channel/pkg/models"
)

var nodeConfigSchemas = map[models.NodeType]map[string]any{
	models.NodeTypeSendMessage: {
		"type": "object",
		"properties": map[string]any{
			"channelId": map[string]any{
				"type":        "string",
				"description": "Channel to send through; defaults to the run's channel.",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Message body.",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Legacy alias for body.",
			},
		},
		"additionalProperties": true,
	},
	models.NodeTypeDelay: {
		"type": "object",
		"properties": map[string]any{
			"delayMs":      map[string]any{"type": "number", "minimum": 0},
			"delayMinutes": map[string]any{"type": "number", "minimum": 0},
			"delaySeconds": map[string]any{"type": "number", "minimum": 0},
		},
		"additionalProperties": true,
	},
	models.NodeTypeCondition: {
		"type": "object",
		"properties": map[string]any{
			"stages": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"tagsAny": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"tagsAll": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"textIncludes": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"additionalProperties": true,
	},
	models.NodeTypeTagUpdate: {
		"type": "object",
		"properties": map[string]any{
			"addTags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"removeTags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"stage": map[string]any{"type": "string"},
		},
		"additionalProperties": true,
	},
	models.NodeTypeWebhook: {
		"type": "object",
		"required": []any{"url"},
		"properties": map[string]any{
			"url": map[string]any{
				"type":   "string",
				"format": "uri",
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"payload": map[string]any{},
		},
		"additionalProperties": true,
	},
}

// NodeConfigSchema returns the JSON schema for a node type, or nil for an
// unknown type.
func NodeConfigSchema(nodeType models.NodeType) map[string]any {
	return nodeConfigSchemas[nodeType]
}

// ValidateNodeConfig validates a node's configuration against the schema for
// its type.
func ValidateNodeConfig(nodeType models.NodeType, config map[string]any) error {
	schema, ok := nodeConfigSchemas[nodeType]
	if !ok {
		return fmt.Errorf("unknown node type %q", nodeType)
	}

	if config == nil {
		config = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate node config: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return fmt.Errorf("node config validation failed: %s", strings.Join(messages, "; "))
	}

	return nil
}
