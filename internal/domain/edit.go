package domain

import "github.com/tazhate/remindbot/internal/rule"

// BuildUpdate turns an edit into schedule operations. Every existing schedule
// is deleted and every edited schedule re-added, so LastRunAt history is lost
// for rules that did not change. The server only supports add and delete.
func BuildUpdate(original *Reminder, text string, edited []Schedule) UpdateReminderRequest {
	ops := &ScheduleOperations{}
	for _, s := range original.Schedules {
		ops.Delete = append(ops.Delete, s.ID)
	}
	for _, s := range edited {
		ops.Add = append(ops.Add, ScheduleToRequest(s))
	}
	return UpdateReminderRequest{Text: &text, ScheduleOperations: ops}
}

// HasChanges reports whether an edit differs from the original: the text
// changed, or the schedules differ as a multiset of (rule, zone) pairs.
func HasChanges(original *Reminder, text string, edited []Schedule) bool {
	if original.Text != text || len(original.Schedules) != len(edited) {
		return true
	}
	counts := make(map[string]int, len(edited))
	for _, s := range original.Schedules {
		counts[scheduleKey(s, original.TimeZone)]++
	}
	for _, s := range edited {
		k := scheduleKey(s, original.TimeZone)
		if counts[k] == 0 {
			return true
		}
		counts[k]--
	}
	return false
}

func scheduleKey(s Schedule, fallbackTZ string) string {
	return s.Zone(fallbackTZ) + "|" + rule.Canonical(s.Rule)
}
