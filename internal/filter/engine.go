// Package filter implements the feed item matching engine and the
// ReDoS-safe validation of user-supplied patterns.
package filter

import (
	"log/slog"

	"feedgate/internal/model"
)

// Item carries the entry fields a rule can match against.
type Item struct {
	Title   string
	Content string
	Author  string
}

// Engine evaluates a feed's stored filter rules against parsed items.
type Engine struct {
	log *slog.Logger
}

// NewEngine creates an Engine. Skipped rules are reported on log.
func NewEngine(log *slog.Logger) *Engine {
	return &Engine{log: log}
}

// ShouldInclude checks whether an item passes the given rules, evaluated
// in stored order. A matching exclude rule drops the item immediately.
// If any include rules exist, at least one must match (whitelist); with no
// include rules every non-excluded item passes. A rule whose pattern fails
// re-validation is skipped with a warning, never fatal to the refresh.
func (e *Engine) ShouldInclude(item Item, rules []model.FilterRule) bool {
	hasIncludes := false
	anyIncludeMatched := false

	for _, r := range rules {
		if err := ValidatePattern(r.Pattern); err != nil {
			e.log.Warn("skipping invalid filter rule",
				"rule_id", r.ID, "feed_id", r.FeedID, "error", err)
			continue
		}
		re, err := CompilePattern(r.Pattern)
		if err != nil {
			e.log.Warn("skipping uncompilable filter rule",
				"rule_id", r.ID, "feed_id", r.FeedID, "error", err)
			continue
		}

		matched := re.MatchString(textForField(item, r.Field))
		switch r.Mode {
		case model.ModeExclude:
			if matched {
				return false
			}
		case model.ModeInclude:
			hasIncludes = true
			if matched {
				anyIncludeMatched = true
			}
		}
	}

	if hasIncludes && !anyIncludeMatched {
		return false
	}
	return true
}

func textForField(item Item, field model.RuleField) string {
	switch field {
	case model.FieldTitle:
		return item.Title
	case model.FieldContent:
		return item.Content
	case model.FieldAuthor:
		return item.Author
	}
	return ""
}
