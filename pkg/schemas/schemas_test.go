package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jcateye/omini-channel/pkg/models"
)

func TestValidateNodeConfig(t *testing.T) {
	tests := []struct {
		name     string
		nodeType models.NodeType
		config   map[string]any
		wantErr  bool
	}{
		{
			name:     "send_message with body",
			nodeType: models.NodeTypeSendMessage,
			config:   map[string]any{"body": "hello"},
		},
		{
			name:     "send_message empty config is allowed",
			nodeType: models.NodeTypeSendMessage,
			config:   nil,
		},
		{
			name:     "delay with minutes",
			nodeType: models.NodeTypeDelay,
			config:   map[string]any{"delayMinutes": 5},
		},
		{
			name:     "delay rejects negative duration",
			nodeType: models.NodeTypeDelay,
			config:   map[string]any{"delayMs": -1},
			wantErr:  true,
		},
		{
			name:     "delay rejects non-numeric duration",
			nodeType: models.NodeTypeDelay,
			config:   map[string]any{"delayMs": "soon"},
			wantErr:  true,
		},
		{
			name:     "condition with tag rules",
			nodeType: models.NodeTypeCondition,
			config:   map[string]any{"tagsAny": []any{"vip"}, "stages": []any{"new"}},
		},
		{
			name:     "condition rejects non-array rule",
			nodeType: models.NodeTypeCondition,
			config:   map[string]any{"tagsAny": "vip"},
			wantErr:  true,
		},
		{
			name:     "tag_update with stage",
			nodeType: models.NodeTypeTagUpdate,
			config:   map[string]any{"addTags": []any{"onboarded"}, "stage": "qualified"},
		},
		{
			name:     "webhook with url and headers",
			nodeType: models.NodeTypeWebhook,
			config: map[string]any{
				"url":     "https://example.com/hook",
				"headers": map[string]any{"X-Api-Key": "secret"},
			},
		},
		{
			name:     "webhook requires url",
			nodeType: models.NodeTypeWebhook,
			config:   map[string]any{"headers": map[string]any{}},
			wantErr:  true,
		},
		{
			name:     "webhook rejects non-string header values",
			nodeType: models.NodeTypeWebhook,
			config: map[string]any{
				"url":     "https://example.com/hook",
				"headers": map[string]any{"X-Count": 3},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNodeConfig(tt.nodeType, tt.config)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateNodeConfig_UnknownType(t *testing.T) {
	err := ValidateNodeConfig("teleport", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node type")
}

func TestNodeConfigSchema_CoversEveryNodeType(t *testing.T) {
	for _, nodeType := range models.NodeTypes() {
		assert.NotNil(t, NodeConfigSchema(nodeType), "missing schema for %s", nodeType)
	}

	assert.Nil(t, NodeConfigSchema("teleport"))
}
