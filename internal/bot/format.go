package bot

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/tazhate/remindbot/internal/clients/reminders"
	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/humanize"
	"github.com/tazhate/remindbot/internal/rule"
	"github.com/tazhate/remindbot/internal/service"
)

func statusEmoji(s domain.State) string {
	switch s {
	case domain.StateActive:
		return "🟢"
	case domain.StatePaused:
		return "⏸"
	case domain.StateEnded:
		return "⚪️"
	default:
		return "📝"
	}
}

// formatTime renders an instant as a date and time in loc.
func formatTime(at time.Time, loc *time.Location, t humanize.Translator) string {
	at = at.In(loc)
	date := humanize.FormatDate(rule.Date{Year: at.Year(), Month: at.Month(), Day: at.Day()}, t)
	return t.T("format.dateTime", humanize.Args{"date": date, "time": at.Format("15:04")})
}

func formatList(p *service.Page, t humanize.Translator) string {
	var sb strings.Builder
	sb.WriteString(t.T("bot.listTitle", nil))
	if p.Page > 1 || p.HasNext {
		sb.WriteString(" · " + t.T("bot.page", humanize.Args{"page": p.Page}))
	}
	sb.WriteString("\n")
	if p.Stale {
		sb.WriteString("<i>" + t.T("reminder.stale", nil) + "</i>\n")
	}
	sb.WriteString("\n")

	if len(p.Reminders) == 0 {
		sb.WriteString(t.T("bot.listEmpty", nil))
		return sb.String()
	}
	for i, r := range p.Reminders {
		fmt.Fprintf(&sb, "%d. %s %s\n", i+1, statusEmoji(r.Status), html.EscapeString(truncate(r.Text, 80)))
	}
	return sb.String()
}

func formatReminder(r *domain.Reminder, stale bool, now time.Time, t humanize.Translator) string {
	var sb strings.Builder
	loc := r.Location()

	fmt.Fprintf(&sb, "%s <b>%s</b>\n", statusEmoji(r.Status), html.EscapeString(r.Text))
	sb.WriteString(humanize.StatusLabel(string(r.Status), t))
	if msg := humanize.StatusMessage(string(r.Status), t); msg != "" {
		sb.WriteString("\n<i>" + msg + "</i>")
	}
	sb.WriteString("\n")
	if stale {
		sb.WriteString("<i>" + t.T("reminder.stale", nil) + "</i>\n")
	}

	if next := service.NextRun(r, now); next != nil {
		fmt.Fprintf(&sb, "\n⏰ %s: %s\n", t.T("reminder.nextFire", nil), formatTime(*next, loc, t))
	} else if r.Status == domain.StateActive && r.NextRunAt != nil {
		sb.WriteString("\n⏰ " + t.T("reminder.updateAvailable", nil) + "\n")
	}

	fmt.Fprintf(&sb, "\n<b>%s</b>\n", t.T("bot.schedules", nil))
	if len(r.Schedules) == 0 {
		sb.WriteString(t.T("reminder.noSchedules", nil) + "\n")
	}
	for _, s := range r.Schedules {
		line := "• " + html.EscapeString(humanize.Describe(s.Rule, t))
		if s.TimeZone != "" && s.TimeZone != r.TimeZone {
			line += " (" + html.EscapeString(humanize.TimezoneLabel(s.TimeZone, now)) + ")"
		}
		if s.IsExpired(r.TimeZone, now) {
			line += " · <i>" + t.T("reminder.expired", nil) + "</i>"
		}
		sb.WriteString(line + "\n")
	}

	fmt.Fprintf(&sb, "\n%s: %s", t.T("bot.timeZone", nil), html.EscapeString(humanize.TimezoneLabel(r.TimeZone, now)))
	return sb.String()
}

func formatUpcoming(list []service.Upcoming, t humanize.Translator) string {
	var sb strings.Builder
	sb.WriteString(t.T("bot.nextTitle", nil) + "\n\n")
	if len(list) == 0 {
		sb.WriteString(t.T("bot.nextEmpty", nil))
		return sb.String()
	}
	for _, u := range list {
		fmt.Fprintf(&sb, "• %s · %s\n", formatTime(u.At, u.Reminder.Location(), t), html.EscapeString(truncate(u.Reminder.Text, 60)))
	}
	return sb.String()
}

// errorText turns a service error into a message for the user.
func errorText(err error, op reminders.Operation, t humanize.Translator) string {
	var verrs rule.ValidationErrors
	switch {
	case errors.As(err, &verrs) && len(verrs) > 0:
		return "❌ " + t.T(verrs[0].Key, nil)
	case errors.Is(err, service.ErrEditLocked):
		return "🔒 " + t.T("errors.editLocked", nil)
	case errors.Is(err, service.ErrMutationInFlight):
		return "⏳ " + t.T("errors.busy", nil)
	case errors.Is(err, domain.ErrIllegalTransition):
		return "❌ " + t.T("errors.illegalTransition", nil)
	case errors.Is(err, service.ErrNoChanges):
		return t.T("bot.noChanges", nil)
	}
	if msg, ok := reminders.FirstValidationMessage(err); ok {
		return "❌ " + html.EscapeString(msg)
	}
	if op != "" {
		return "❌ " + t.T(reminders.MutationMessageKey(err, op), nil)
	}
	return "❌ " + t.T(reminders.ErrorKey(err), nil)
}
