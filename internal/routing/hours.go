package routing

import (
	"context"
	"strings"
	"time"

	"voice-platform/pkg/logger"
)

// withinBusinessHours reports whether now (converted to the rule's timezone)
// falls inside the rule's window for the current weekday.
//
// Degradation rules:
// - A rule without BusinessHoursOnly always passes.
// - An unknown timezone falls back to UTC with a warning rather than
//   skipping the rule.
// - A weekday with no window means the rule is closed that day.
// - A malformed window closes the rule for that day with a warning.
func withinBusinessHours(ctx context.Context, r Rule, now time.Time) bool {
	if !r.BusinessHoursOnly {
		return true
	}
	if len(r.ActiveHours) == 0 {
		return false
	}

	loc := time.UTC
	if r.Timezone != "" {
		l, err := time.LoadLocation(r.Timezone)
		if err != nil {
			logger.From(ctx).Warn("rule timezone invalid, using UTC",
				"rule_id", r.RuleID, "timezone", r.Timezone)
		} else {
			loc = l
		}
	}
	local := now.In(loc)

	weekday := strings.ToLower(local.Weekday().String())
	window, ok := r.ActiveHours[weekday]
	if !ok {
		return false
	}

	start, okStart := parseClock(window.Start)
	end, okEnd := parseClock(window.End)
	if !okStart || !okEnd {
		logger.From(ctx).Warn("rule active hours malformed",
			"rule_id", r.RuleID, "weekday", weekday,
			"start", window.Start, "end", window.End)
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	return minutes >= start && minutes < end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
