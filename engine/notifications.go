package engine

import (
	"context"
	"fmt"
	"time"
)

// DefaultDaysAhead is the standard due-soon horizon.
const DefaultDaysAhead = 3

const dayMillis = 24 * 60 * 60 * 1000

// RefreshDeadlineNotifications scans every group for undone tasks whose due
// date falls within the next daysAhead days and prepends one reminder per
// task. A task is remembered in notifiedDue and never reminded again, even if
// its due date later changes. The document is saved once after the scan. The
// number of reminders created is returned.
func (e *Engine) RefreshDeadlineNotifications(ctx context.Context, daysAhead int) (int, error) {
	if daysAhead <= 0 {
		daysAhead = DefaultDaysAhead
	}
	doc := e.store.Load(ctx)
	now := e.nowMillis()
	horizon := now + int64(daysAhead)*dayMillis

	created := 0
	for _, g := range doc.Groups {
		for _, t := range g.Tasks {
			if t.DueDate == "" || t.Done || doc.NotifiedDue[t.ID] {
				continue
			}
			due, ok := parseDueDate(t.DueDate)
			if !ok {
				continue
			}
			if due < now || due > horizon {
				continue
			}
			days := int((due - now + dayMillis - 1) / dayMillis)
			if days < 1 {
				days = 1
			}
			unit := "day"
			if days != 1 {
				unit = "days"
			}
			e.notify(doc, fmt.Sprintf("Reminder: %q is due in %d %s in group %q", t.Name, days, unit, g.Name))
			doc.NotifiedDue[t.ID] = true
			created++
		}
	}

	if err := e.store.Save(ctx, doc); err != nil {
		return 0, err
	}
	return created, nil
}

// parseDueDate accepts calendar dates (YYYY-MM-DD, read as UTC midnight) and
// RFC 3339 timestamps, returning epoch millis. Anything else is skipped.
func parseDueDate(raw string) (int64, bool) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UnixMilli(), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UnixMilli(), true
	}
	return 0, false
}
