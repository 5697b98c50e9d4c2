// Package journey implements the journey automation engine: trigger
// matching, run launching, queue-driven step dispatch, and run completion.
package journey

import (
	"slices"
	"strings"

	"github.com/Jcateye/omini-channel/pkg/models"
)

// Matches evaluates a trigger filter against an event context. Every rule is
// optional and an absent rule passes; configured rules combine with AND. The
// same evaluation backs trigger matching and condition nodes. Pure function,
// no side effects.
func Matches(filter models.TriggerFilter, ctx models.EventContext) bool {
	if len(filter.Stages) > 0 && !slices.Contains(filter.Stages, ctx.Stage) {
		return false
	}

	if len(filter.TagsAny) > 0 && !containsAny(ctx.Tags, filter.TagsAny) {
		return false
	}

	for _, tag := range filter.TagsAll {
		if !slices.Contains(ctx.Tags, tag) {
			return false
		}
	}

	if len(filter.TextIncludes) > 0 && !textIncludesAny(ctx.Text, filter.TextIncludes) {
		return false
	}

	return true
}

func containsAny(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}

	return false
}

func textIncludesAny(text string, substrings []string) bool {
	folded := strings.ToLower(text)

	for _, s := range substrings {
		if s == "" {
			continue
		}

		if strings.Contains(folded, strings.ToLower(s)) {
			return true
		}
	}

	return false
}
