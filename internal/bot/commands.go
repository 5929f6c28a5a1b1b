package bot

import (
	"bytes"
	"fmt"
	"html"
	"slices"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tazhate/remindbot/internal/calendar"
	"github.com/tazhate/remindbot/internal/clients/reminders"
	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/humanize"
	"github.com/tazhate/remindbot/internal/rule"
)

func (b *Bot) handleCommand(msg *tgbotapi.Message, user *domain.User, isNew bool, t humanize.Translator) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		key := "bot.welcomeBack"
		if isNew {
			key = "bot.welcome"
		}
		b.reply(chatID, t.T(key, humanize.Args{"name": html.EscapeString(user.Name)}), nil)
	case "help":
		b.reply(chatID, t.T("bot.help", nil), nil)
	case "list":
		b.stopLive(chatID)
		b.showList(chatID, 0, user, 1, t)
	case "show":
		b.cmdShow(chatID, user, args, t)
	case "add":
		if args == "" {
			b.reply(chatID, t.T("bot.addUsage", nil), nil)
			return
		}
		b.createDraft(chatID, user, args, t)
	case "schedule":
		b.cmdSchedule(chatID, user, args, t)
	case "unschedule":
		b.cmdUnschedule(chatID, user, args, t)
	case "next":
		b.showNext(chatID, 0, user, t)
	case "tz":
		b.cmdTimeZone(chatID, user, args, t)
	case "lang":
		b.cmdLang(chatID, user, args, t)
	case "sort":
		b.render(chatID, 0, t.T("bot.sortTitle", nil), sortKeyboard(user.Sort, t))
	case "ics":
		b.cmdICS(chatID, user, t)
	case "sync":
		b.cmdSync(chatID, user, t)
	default:
		b.reply(chatID, t.T("bot.unknownCommand", nil), nil)
	}
}

// cmdShow opens a reminder by its number on the last list or by id.
func (b *Bot) cmdShow(chatID int64, user *domain.User, args string, t humanize.Translator) {
	id, reply := b.reminderRef(chatID, args, t)
	if id == uuid.Nil {
		if reply == "" {
			reply = t.T("bot.showUsage", nil)
		}
		b.reply(chatID, reply, nil)
		return
	}
	b.showReminder(chatID, 0, user, id, t)
}

// reminderRef resolves a number on the last list or a reminder id. For a
// number that is not on the list the reply explains why; for anything else it
// is empty and the caller answers with its usage.
func (b *Bot) reminderRef(chatID int64, ref string, t humanize.Translator) (uuid.UUID, string) {
	if ref == "" {
		return uuid.Nil, ""
	}
	if id, err := uuid.Parse(ref); err == nil {
		return id, ""
	}
	n, err := strconv.Atoi(ref)
	if err != nil {
		return uuid.Nil, ""
	}

	b.mu.Lock()
	list := b.sessionLocked(chatID).list
	b.mu.Unlock()

	if n < 1 || n > len(list) {
		return uuid.Nil, t.T("bot.noSuchIndex", humanize.Args{"n": n})
	}
	return list[n-1], ""
}

// cmdSchedule adds a schedule: /schedule N {rule}. The rule is JSON or YAML
// flow syntax and is read in the reminder's zone.
func (b *Bot) cmdSchedule(chatID int64, user *domain.User, args string, t humanize.Translator) {
	ref, text, _ := strings.Cut(args, " ")
	text = strings.TrimSpace(text)
	id, reply := b.reminderRef(chatID, ref, t)
	if id == uuid.Nil || text == "" {
		if reply == "" {
			reply = t.T("bot.scheduleUsage", nil)
		}
		b.reply(chatID, reply, nil)
		return
	}

	w, err := rule.DecodeWire([]byte(text))
	if err != nil {
		b.reply(chatID, "❌ "+t.T("bot.ruleUnreadable", nil), nil)
		return
	}
	r, errs := rule.ParseWire(w)
	if len(errs) > 0 {
		b.reply(chatID, errorText(errs, reminders.OpUpdate, t), nil)
		return
	}

	b.editSchedules(chatID, user, id, t, func(current []domain.Schedule) ([]domain.Schedule, bool) {
		return append(slices.Clone(current), domain.NewSchedule(r, "")), true
	})
}

// cmdUnschedule removes the K-th schedule of a reminder: /unschedule N K.
func (b *Bot) cmdUnschedule(chatID int64, user *domain.User, args string, t humanize.Translator) {
	ref, pos, _ := strings.Cut(args, " ")
	k, err := strconv.Atoi(strings.TrimSpace(pos))
	id, reply := b.reminderRef(chatID, ref, t)
	if id == uuid.Nil || err != nil {
		if reply == "" {
			reply = t.T("bot.unscheduleUsage", nil)
		}
		b.reply(chatID, reply, nil)
		return
	}

	b.editSchedules(chatID, user, id, t, func(current []domain.Schedule) ([]domain.Schedule, bool) {
		if k < 1 || k > len(current) {
			return nil, false
		}
		return slices.Delete(slices.Clone(current), k-1, k), true
	})
}

// editSchedules applies change to the reminder's schedules and saves the result
// with the text unchanged.
func (b *Bot) editSchedules(chatID int64, user *domain.User, id uuid.UUID, t humanize.Translator, change func([]domain.Schedule) ([]domain.Schedule, bool)) {
	ctx, cancel := b.requestContext()
	defer cancel()

	current, _, err := b.reminders.Get(ctx, user, id)
	if err != nil {
		b.reply(chatID, errorText(err, reminders.OpUpdate, t), nil)
		return
	}
	edited, ok := change(current.Schedules)
	if !ok {
		b.reply(chatID, t.T("bot.noSuchSchedule", nil), nil)
		return
	}

	r, err := b.reminders.Edit(ctx, user, id, current.Text, edited)
	if err != nil {
		b.reply(chatID, errorText(err, reminders.OpUpdate, t), nil)
		return
	}
	b.log.Info("schedules edited", zap.Int64("user_id", user.ID), zap.Stringer("reminder_id", r.ID), zap.Int("schedules", len(r.Schedules)))

	b.reply(chatID, t.T("bot.edited", nil), nil)
	b.showReminder(chatID, 0, user, r.ID, t)
}

func (b *Bot) cmdTimeZone(chatID int64, user *domain.User, args string, t humanize.Translator) {
	now := b.reminders.Now()
	if args == "" {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s: <b>%s</b>\n\n", t.T("bot.timeZone", nil), html.EscapeString(humanize.TimezoneLabel(b.reminders.TimeZone(user), now)))
		sb.WriteString(t.T("bot.tzUsage", nil) + "\n")
		for _, opt := range humanize.TimezoneOptions(now) {
			fmt.Fprintf(&sb, "<code>%s</code> %s\n", opt.Value, html.EscapeString(opt.Label))
		}
		b.reply(chatID, sb.String(), nil)
		return
	}

	if _, err := rule.LoadLocation(args); err != nil {
		b.reply(chatID, "❌ "+t.T("validation.invalidTimeZone", nil), nil)
		return
	}
	if err := b.storage.UpdateUserTimeZone(user.ID, args); err != nil {
		b.log.Error("save time zone", zap.Int64("user_id", user.ID), zap.Error(err))
		b.reply(chatID, "❌ "+t.T("errors.unknownError", nil), nil)
		return
	}
	b.reply(chatID, t.T("bot.tzSet", humanize.Args{"tz": html.EscapeString(humanize.TimezoneLabel(args, now))}), nil)
}

func (b *Bot) cmdLang(chatID int64, user *domain.User, args string, t humanize.Translator) {
	l, err := humanize.Load(args)
	if args == "" || err != nil {
		b.reply(chatID, t.T("bot.langUsage", humanize.Args{"langs": strings.Join(humanize.Available(), ", ")}), nil)
		return
	}
	if err := b.storage.UpdateUserLocale(user.ID, l.Tag); err != nil {
		b.log.Error("save locale", zap.Int64("user_id", user.ID), zap.Error(err))
		b.reply(chatID, "❌ "+t.T("errors.unknownError", nil), nil)
		return
	}
	b.reply(chatID, translator(l.Tag).T("bot.langSet", nil), nil)
}

// cmdICS sends the user's reminders as an iCalendar file.
func (b *Bot) cmdICS(chatID int64, user *domain.User, t humanize.Translator) {
	ctx, cancel := b.requestContext()
	if _, err := b.reminders.Refresh(ctx, user); err != nil && !reminders.IsRecoverable(err) {
		cancel()
		b.reply(chatID, errorText(err, "", t), nil)
		return
	}
	cancel()

	cal, err := b.calendar.Export(user)
	if err != nil {
		b.log.Error("export calendar", zap.Int64("user_id", user.ID), zap.Error(err))
		b.reply(chatID, "❌ "+t.T("errors.unknownError", nil), nil)
		return
	}
	var buf bytes.Buffer
	if err := calendar.Encode(&buf, cal); err != nil {
		b.log.Error("encode calendar", zap.Int64("user_id", user.ID), zap.Error(err))
		b.reply(chatID, "❌ "+t.T("errors.unknownError", nil), nil)
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: "reminders.ics", Bytes: buf.Bytes()})
	doc.Caption = t.T("bot.icsCaption", nil)
	if _, err := b.sender.Send(doc); err != nil {
		b.log.Warn("send calendar file", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) cmdSync(chatID int64, user *domain.User, t humanize.Translator) {
	if b.calendar == nil || !b.calendar.IsConfigured() {
		b.reply(chatID, t.T("bot.syncDisabled", nil), nil)
		return
	}

	ctx, cancel := b.requestContext()
	defer cancel()

	if _, err := b.reminders.Refresh(ctx, user); err != nil {
		b.log.Warn("refresh before sync", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	res, err := b.calendar.SyncUser(ctx, user)
	if err != nil {
		b.log.Error("calendar sync", zap.Int64("user_id", user.ID), zap.Error(err))
		b.reply(chatID, "❌ "+t.T("errors.unknownError", nil), nil)
		return
	}
	for _, e := range res.Errors {
		b.log.Warn("calendar sync object failed", zap.String("error", e))
	}
	b.reply(chatID, t.T("bot.syncDone", humanize.Args{
		"added":   res.Added,
		"updated": res.Updated,
		"deleted": res.Deleted,
	}), nil)
}
