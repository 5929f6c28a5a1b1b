package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/humanize"
	"github.com/tazhate/remindbot/internal/service"
)

// Callback data prefixes. Telegram limits callback data to 64 bytes, which
// fits the longest one with a reminder id.
const (
	cbPage    = "page"
	cbShow    = "show"
	cbAction  = "act"
	cbDo      = "do"
	cbBack    = "back"
	cbRefresh = "refresh"
	cbSort    = "sort"
)

var actionEmoji = map[domain.ActionType]string{
	domain.ActionEdit:           "✏️",
	domain.ActionPause:          "⏸",
	domain.ActionActivate:       "▶️",
	domain.ActionConvertToDraft: "📝",
	domain.ActionDelete:         "🗑",
}

// Reminder list keyboard with pagination
func listKeyboard(p *service.Page, t humanize.Translator) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	for i, r := range p.Reminders {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("%d. %s %s", i+1, statusEmoji(r.Status), truncate(r.Text, 30)),
				cbShow+":"+r.ID.String(),
			),
		))
	}

	// Pagination
	var navRow []tgbotapi.InlineKeyboardButton
	if p.Page > 1 {
		navRow = append(navRow, tgbotapi.NewInlineKeyboardButtonData("⬅️ "+t.T("common.previous", nil), fmt.Sprintf("%s:%d", cbPage, p.Page-1)))
	}
	if p.HasNext {
		navRow = append(navRow, tgbotapi.NewInlineKeyboardButtonData(t.T("common.next", nil)+" ➡️", fmt.Sprintf("%s:%d", cbPage, p.Page+1)))
	}
	if len(navRow) > 0 {
		rows = append(rows, navRow)
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔄 "+t.T("common.refresh", nil), fmt.Sprintf("%s:list:%d", cbRefresh, p.Page)),
		tgbotapi.NewInlineKeyboardButtonData("↕️", cbSort),
	))

	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &keyboard
}

// Single reminder keyboard, one button per action the status allows
func reminderKeyboard(r *domain.Reminder, t humanize.Translator) *tgbotapi.InlineKeyboardMarkup {
	var actions []tgbotapi.InlineKeyboardButton
	for _, a := range domain.Actions(r.Status) {
		actions = append(actions, tgbotapi.NewInlineKeyboardButtonData(
			actionEmoji[a.Type]+" "+t.T(a.Label, nil),
			fmt.Sprintf("%s:%s:%s", cbAction, a.Type, r.ID),
		))
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	if len(actions) > 0 {
		rows = append(rows, actions)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("◀️ "+t.T("common.back", nil), cbBack+":list"),
		tgbotapi.NewInlineKeyboardButtonData("🔄", cbShow+":"+r.ID.String()),
	))

	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &keyboard
}

// Confirm keyboard for a state change or delete
func confirmKeyboard(action domain.ActionType, r *domain.Reminder, t humanize.Translator) *tgbotapi.InlineKeyboardMarkup {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ "+t.T("common.confirm", nil), fmt.Sprintf("%s:%s:%s", cbDo, action, r.ID)),
			tgbotapi.NewInlineKeyboardButtonData("◀️ "+t.T("common.cancel", nil), cbShow+":"+r.ID.String()),
		),
	)
	return &keyboard
}

func sortKeyboard(current domain.SortSettings, t humanize.Translator) *tgbotapi.InlineKeyboardMarkup {
	current = current.OrDefault()
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, by := range []domain.SortBy{domain.SortByCreatedAt, domain.SortByChangedAt} {
		var row []tgbotapi.InlineKeyboardButton
		for _, order := range []domain.SortOrder{domain.OrderDesc, domain.OrderAsc} {
			label := sortLabel(domain.SortSettings{SortBy: by, Order: order}, t)
			if current.SortBy == by && current.Order == order {
				label = "✓ " + label
			}
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s:%s:%s", cbSort, by, order)))
		}
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("◀️ "+t.T("common.back", nil), cbBack+":list"),
	))
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &keyboard
}

func sortLabel(s domain.SortSettings, t humanize.Translator) string {
	by := t.T("bot.sortCreatedAt", nil)
	if s.SortBy == domain.SortByChangedAt {
		by = t.T("bot.sortChangedAt", nil)
	}
	order := t.T("bot.desc", nil)
	if s.Order == domain.OrderAsc {
		order = t.T("bot.asc", nil)
	}
	return by + ", " + order
}

func nextKeyboard(t humanize.Translator) *tgbotapi.InlineKeyboardMarkup {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 "+t.T("common.refresh", nil), cbRefresh+":next"),
		),
	)
	return &keyboard
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
