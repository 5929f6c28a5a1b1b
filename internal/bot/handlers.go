package bot

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tazhate/remindbot/internal/clients/reminders"
	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/humanize"
	"github.com/tazhate/remindbot/internal/service"
)

var locales sync.Map // tag -> *humanize.Locale

// translator returns the user's message bundle.
func translator(tag string) humanize.Translator {
	if l, ok := locales.Load(tag); ok {
		return l.(*humanize.Locale)
	}
	l := humanize.LoadOrDefault(tag)
	locales.Store(tag, l)
	return l
}

func (b *Bot) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.ctx, requestTimeout)
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic handling update", zap.Int("update_id", update.UpdateID), zap.Any("panic", r))
		}
	}()

	if update.Message != nil {
		b.handleMessage(update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID

	if !b.cfg.IsAllowedUser(msg.From.ID) {
		b.reply(chatID, translator(msg.From.LanguageCode).T("bot.accessDenied", nil), nil)
		return
	}

	user, isNew, err := b.userFor(msg.From)
	if err != nil {
		b.log.Error("load user", zap.Int64("telegram_id", msg.From.ID), zap.Error(err))
		return
	}
	t := translator(user.Locale)

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(msg, user, isNew, t)
		return
	}

	b.mu.Lock()
	s := b.sessionLocked(chatID)
	pending := s.pendingEdit
	s.pendingEdit = uuid.Nil
	b.mu.Unlock()

	if pending != uuid.Nil {
		b.editText(chatID, user, pending, text, t)
		return
	}

	// Plain text becomes a draft
	b.createDraft(chatID, user, text, t)
}

// userFor loads the Telegram user, registering allowed users on first contact.
func (b *Bot) userFor(from *tgbotapi.User) (user *domain.User, isNew bool, err error) {
	user, err = b.storage.GetUserByTelegramID(from.ID)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		return user, false, nil
	}
	user, err = b.autoRegisterUser(from)
	return user, err == nil, err
}

func (b *Bot) autoRegisterUser(from *tgbotapi.User) (*domain.User, error) {
	name := from.FirstName
	if from.LastName != "" {
		name += " " + from.LastName
	}

	locale := b.cfg.Locale
	if l, err := humanize.Load(from.LanguageCode); err == nil && from.LanguageCode != "" {
		locale = l.Tag
	}

	newUser := &domain.User{
		TelegramID: from.ID,
		Name:       name,
		TimeZone:   b.cfg.Timezone.String(),
		Locale:     locale,
		Sort:       domain.DefaultSort,
	}
	if err := b.storage.CreateUser(newUser); err != nil {
		return nil, err
	}

	b.log.Info("auto-registered user", zap.String("name", name), zap.Int64("telegram_id", from.ID))
	return newUser, nil
}

func (b *Bot) handleCallback(callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil {
		return
	}
	chatID := callback.Message.Chat.ID
	msgID := callback.Message.MessageID

	if !b.cfg.IsAllowedUser(callback.From.ID) {
		b.answer(callback.ID, translator(callback.From.LanguageCode).T("bot.accessDenied", nil))
		return
	}

	user, _, err := b.userFor(callback.From)
	if err != nil {
		b.log.Error("load user", zap.Int64("telegram_id", callback.From.ID), zap.Error(err))
		b.answer(callback.ID, "")
		return
	}
	t := translator(user.Locale)

	parts := strings.Split(callback.Data, ":")
	switch parts[0] {
	case cbPage:
		page := 1
		if len(parts) > 1 {
			page, _ = strconv.Atoi(parts[1])
		}
		b.answer(callback.ID, "")
		b.showList(chatID, msgID, user, page, t)

	case cbShow:
		id, ok := parseID(parts, 1)
		if !ok {
			b.answer(callback.ID, "")
			return
		}
		b.answer(callback.ID, "")
		b.showReminder(chatID, msgID, user, id, t)

	case cbBack:
		b.answer(callback.ID, "")
		b.stopLive(chatID)
		b.mu.Lock()
		page := b.sessionLocked(chatID).page
		b.mu.Unlock()
		b.showList(chatID, msgID, user, page, t)

	case cbAction:
		id, ok := parseID(parts, 2)
		if !ok {
			b.answer(callback.ID, "")
			return
		}
		b.answer(callback.ID, "")
		b.askAction(chatID, msgID, user, domain.ActionType(parts[1]), id, t)

	case cbDo:
		id, ok := parseID(parts, 2)
		if !ok {
			b.answer(callback.ID, "")
			return
		}
		b.doAction(callback.ID, chatID, msgID, user, domain.ActionType(parts[1]), id, t)

	case cbRefresh:
		b.answer(callback.ID, "🔄")
		ctx, cancel := b.requestContext()
		if _, err := b.reminders.Refresh(ctx, user); err != nil {
			b.log.Warn("refresh reminders", zap.Int64("user_id", user.ID), zap.Error(err))
		}
		cancel()
		if len(parts) > 1 && parts[1] == "next" {
			b.showNext(chatID, msgID, user, t)
			return
		}
		page := 1
		if len(parts) > 2 {
			page, _ = strconv.Atoi(parts[2])
		}
		b.showList(chatID, msgID, user, page, t)

	case cbSort:
		b.handleSort(callback.ID, chatID, msgID, user, parts[1:], t)

	default:
		b.answer(callback.ID, "")
	}
}

func parseID(parts []string, i int) (uuid.UUID, bool) {
	if len(parts) <= i {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[i])
	return id, err == nil
}

// render sends a new message when msgID is 0 and edits it otherwise. It
// returns the id of the message showing text.
func (b *Bot) render(chatID int64, msgID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) int {
	if msgID != 0 {
		b.editMessage(chatID, msgID, text, keyboard)
		return msgID
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	sent, err := b.sender.Send(msg)
	if err != nil {
		b.log.Warn("send message", zap.Int64("chat_id", chatID), zap.Error(err))
		return 0
	}
	return sent.MessageID
}

func (b *Bot) showList(chatID int64, msgID int, user *domain.User, page int, t humanize.Translator) {
	if page < 1 {
		page = 1
	}
	ctx, cancel := b.requestContext()
	defer cancel()

	p, err := b.reminders.List(ctx, user, page)
	if err != nil {
		b.render(chatID, msgID, errorText(err, "", t), nil)
		return
	}

	ids := make([]uuid.UUID, len(p.Reminders))
	for i, r := range p.Reminders {
		ids[i] = r.ID
	}
	b.mu.Lock()
	s := b.sessionLocked(chatID)
	s.list = ids
	s.page = p.Page
	b.mu.Unlock()

	b.render(chatID, msgID, formatList(p, t), listKeyboard(p, t))
}

func (b *Bot) showReminder(chatID int64, msgID int, user *domain.User, id uuid.UUID, t humanize.Translator) {
	ctx, cancel := b.requestContext()
	defer cancel()

	r, stale, err := b.reminders.Get(ctx, user, id)
	if err != nil {
		b.stopLive(chatID)
		back := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("◀️ "+t.T("common.back", nil), cbBack+":list"),
		))
		b.render(chatID, msgID, errorText(err, "", t), &back)
		return
	}

	now := b.reminders.Now()
	msgID = b.render(chatID, msgID, formatReminder(r, stale, now, t), reminderKeyboard(r, t))
	if msgID != 0 {
		b.watch(chatID, msgID, user, r, t)
	}
}

// watch keeps a shown reminder current: once its next run passes, the
// reminder is fetched again and the message re-rendered. A chat has at most
// one live view.
func (b *Bot) watch(chatID int64, msgID int, user *domain.User, r *domain.Reminder, t humanize.Translator) {
	if b.ticker == nil {
		return
	}
	next := service.NextRun(r, b.reminders.Now())
	if next == nil {
		b.stopLive(chatID)
		return
	}

	var fired sync.Once
	cancel := b.ticker.Subscribe(next, func(now time.Time) {
		if now.Before(*next) {
			return
		}
		fired.Do(func() {
			go b.showReminder(chatID, msgID, user, r.ID, t)
		})
	})

	b.mu.Lock()
	s := b.sessionLocked(chatID)
	prev := s.stopLive
	s.stopLive = cancel
	b.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (b *Bot) stopLive(chatID int64) {
	b.mu.Lock()
	s := b.sessionLocked(chatID)
	stop := s.stopLive
	s.stopLive = nil
	b.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (b *Bot) showNext(chatID int64, msgID int, user *domain.User, t humanize.Translator) {
	list, err := b.reminders.Upcoming(user, 10)
	if err != nil {
		b.log.Error("list upcoming", zap.Int64("user_id", user.ID), zap.Error(err))
		b.render(chatID, msgID, "❌ "+t.T("errors.unknownError", nil), nil)
		return
	}
	b.render(chatID, msgID, formatUpcoming(list, t), nextKeyboard(t))
}

// askAction shows the confirmation for a state change, or starts an edit.
func (b *Bot) askAction(chatID int64, msgID int, user *domain.User, action domain.ActionType, id uuid.UUID, t humanize.Translator) {
	ctx, cancel := b.requestContext()
	defer cancel()

	r, _, err := b.reminders.Get(ctx, user, id)
	if err != nil {
		b.render(chatID, msgID, errorText(err, "", t), nil)
		return
	}
	b.stopLive(chatID)

	if action == domain.ActionEdit {
		if !domain.CanEdit(r.Status) {
			b.reply(chatID, errorText(service.ErrEditLocked, reminders.OpUpdate, t), nil)
			return
		}
		b.mu.Lock()
		b.sessionLocked(chatID).pendingEdit = id
		b.mu.Unlock()

		text := t.T("bot.editPrompt", nil)
		if warn := humanize.EditWarning(string(r.Status), t); warn != "" {
			text = "⚠️ " + warn + "\n\n" + text
		}
		b.reply(chatID, text, nil)
		return
	}

	key, ok := confirmKeys[action]
	if !ok {
		return
	}
	text := formatReminder(r, false, b.reminders.Now(), t) + "\n\n<b>" + t.T(key, nil) + "</b>"
	b.render(chatID, msgID, text, confirmKeyboard(action, r, t))
}

var confirmKeys = map[domain.ActionType]string{
	domain.ActionPause:          "bot.confirmPause",
	domain.ActionActivate:       "bot.confirmActivate",
	domain.ActionConvertToDraft: "bot.confirmConvertToDraft",
	domain.ActionDelete:         "bot.confirmDelete",
}

var actionOps = map[domain.ActionType]reminders.Operation{
	domain.ActionPause:          reminders.OpPause,
	domain.ActionActivate:       reminders.OpActivate,
	domain.ActionConvertToDraft: reminders.OpDraft,
	domain.ActionDelete:         reminders.OpDelete,
}

func (b *Bot) doAction(callbackID string, chatID int64, msgID int, user *domain.User, action domain.ActionType, id uuid.UUID, t humanize.Translator) {
	op, ok := actionOps[action]
	if !ok {
		b.answer(callbackID, "")
		return
	}

	ctx, cancel := b.requestContext()
	defer cancel()

	var (
		r   *domain.Reminder
		err error
	)
	switch action {
	case domain.ActionPause:
		r, err = b.reminders.Pause(ctx, user, id)
	case domain.ActionActivate:
		r, err = b.reminders.Activate(ctx, user, id)
	case domain.ActionConvertToDraft:
		r, err = b.reminders.ConvertToDraft(ctx, user, id)
	case domain.ActionDelete:
		err = b.reminders.Delete(ctx, user, id)
	}
	if err != nil {
		b.log.Warn("reminder action failed", zap.String("action", string(action)), zap.Stringer("reminder_id", id), zap.Error(err))
		b.answer(callbackID, "")
		b.reply(chatID, errorText(err, op, t), nil)
		return
	}

	if action == domain.ActionDelete {
		b.answer(callbackID, t.T("bot.deleted", nil))
		back := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("◀️ "+t.T("common.back", nil), cbBack+":list"),
		))
		b.render(chatID, msgID, t.T("bot.deleted", nil), &back)
		return
	}

	b.answer(callbackID, t.T("bot.done", nil))
	msgID = b.render(chatID, msgID, formatReminder(r, false, b.reminders.Now(), t), reminderKeyboard(r, t))
	if msgID != 0 {
		b.watch(chatID, msgID, user, r, t)
	}
}

func (b *Bot) handleSort(callbackID string, chatID int64, msgID int, user *domain.User, args []string, t humanize.Translator) {
	if len(args) < 2 {
		b.answer(callbackID, "")
		b.render(chatID, msgID, t.T("bot.sortTitle", nil), sortKeyboard(user.Sort, t))
		return
	}

	sort := domain.SortSettings{SortBy: domain.SortBy(args[0]), Order: domain.SortOrder(args[1])}
	if err := sort.Validate(); err != nil {
		b.answer(callbackID, "")
		return
	}
	if err := b.storage.UpdateUserSort(user.ID, sort); err != nil {
		b.log.Error("save sort", zap.Int64("user_id", user.ID), zap.Error(err))
		b.answer(callbackID, "❌")
		return
	}
	user.Sort = sort
	b.answer(callbackID, t.T("bot.sortSet", nil))
	b.showList(chatID, msgID, user, 1, t)
}

func (b *Bot) createDraft(chatID int64, user *domain.User, text string, t humanize.Translator) {
	ctx, cancel := b.requestContext()
	defer cancel()

	r, err := b.reminders.Create(ctx, user, text, b.reminders.TimeZone(user), nil)
	if err != nil {
		b.reply(chatID, errorText(err, reminders.OpCreate, t), nil)
		return
	}
	b.log.Info("draft created", zap.Int64("user_id", user.ID), zap.Stringer("reminder_id", r.ID))

	b.reply(chatID, t.T("bot.created", nil), nil)
	b.showReminder(chatID, 0, user, r.ID, t)
}

// editText replaces the reminder text, keeping its schedules.
func (b *Bot) editText(chatID int64, user *domain.User, id uuid.UUID, text string, t humanize.Translator) {
	ctx, cancel := b.requestContext()
	defer cancel()

	current, _, err := b.reminders.Get(ctx, user, id)
	if err != nil {
		b.reply(chatID, errorText(err, reminders.OpUpdate, t), nil)
		return
	}

	r, err := b.reminders.Edit(ctx, user, id, text, current.Schedules)
	if err != nil {
		b.reply(chatID, errorText(err, reminders.OpUpdate, t), nil)
		return
	}

	b.reply(chatID, t.T("bot.edited", nil), nil)
	b.showReminder(chatID, 0, user, r.ID, t)
}
