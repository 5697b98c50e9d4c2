package journey

import (
	"time"

	"github.com/Jcateye/omini-channel/pkg/models"
)

// Node config accessors. Configs arrive as opaque key/value maps from the
// authoring API; numbers decoded from JSON are float64.

func configString(config map[string]any, key string) string {
	if v, ok := config[key].(string); ok {
		return v
	}

	return ""
}

func configStringSlice(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

func configNumber(config map[string]any, key string) (float64, bool) {
	switch v := config[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func configStringMap(config map[string]any, key string) map[string]string {
	raw, ok := config[key].(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string]string, len(raw))

	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}

	return out
}

// delayFromConfig resolves a delay node's duration: delayMs wins, then
// delayMinutes, then delaySeconds, else zero.
func delayFromConfig(config map[string]any) time.Duration {
	if ms, ok := configNumber(config, "delayMs"); ok {
		return time.Duration(ms) * time.Millisecond
	}

	if minutes, ok := configNumber(config, "delayMinutes"); ok {
		return time.Duration(minutes) * time.Minute
	}

	if seconds, ok := configNumber(config, "delaySeconds"); ok {
		return time.Duration(seconds) * time.Second
	}

	return 0
}

// filterFromConfig reads a condition node's filter rules.
func filterFromConfig(config map[string]any) models.TriggerFilter {
	return models.TriggerFilter{
		Stages:       configStringSlice(config, "stages"),
		TagsAny:      configStringSlice(config, "tagsAny"),
		TagsAll:      configStringSlice(config, "tagsAll"),
		TextIncludes: configStringSlice(config, "textIncludes"),
	}
}
