package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tazhate/remindbot/config"
	"github.com/tazhate/remindbot/internal/clock"
	"github.com/tazhate/remindbot/internal/humanize"
	"github.com/tazhate/remindbot/internal/service"
	"github.com/tazhate/remindbot/internal/storage"
)

// requestTimeout bounds the work done for one update.
const requestTimeout = 30 * time.Second

// Sender is the part of the Telegram API the handlers use.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Bot struct {
	api       *tgbotapi.BotAPI
	sender    Sender
	cfg       *config.Config
	storage   *storage.Storage
	reminders *service.ReminderService
	calendar  *service.CalendarService
	ticker    *clock.Ticker
	log       *zap.Logger

	ctx    context.Context
	mux    *http.ServeMux
	server *http.Server

	mu       sync.Mutex
	sessions map[int64]*session
}

// session is the per-chat state between messages.
type session struct {
	list        []uuid.UUID // reminders of the last rendered page, in order
	page        int
	pendingEdit uuid.UUID
	stopLive    func()
}

func New(cfg *config.Config, st *storage.Storage, reminders *service.ReminderService, cal *service.CalendarService, ticker *clock.Ticker, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Info("authorized", zap.String("username", api.Self.UserName))

	bot := newBot(api, cfg, st, reminders, cal, ticker, log)
	bot.api = api

	// Set bot commands (menu button)
	bot.setCommands()

	return bot, nil
}

func newBot(sender Sender, cfg *config.Config, st *storage.Storage, reminders *service.ReminderService, cal *service.CalendarService, ticker *clock.Ticker, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bot{
		sender:    sender,
		cfg:       cfg,
		storage:   st,
		reminders: reminders,
		calendar:  cal,
		ticker:    ticker,
		log:       log,
		ctx:       context.Background(),
		mux:       http.NewServeMux(),
		sessions:  make(map[int64]*session),
	}
	b.SetupAPI()
	return b
}

func (b *Bot) setCommands() {
	for _, tag := range humanize.Available() {
		t := humanize.LoadOrDefault(tag)
		commands := []tgbotapi.BotCommand{
			{Command: "list", Description: t.T("bot.commandList", nil)},
			{Command: "next", Description: t.T("bot.commandNext", nil)},
			{Command: "add", Description: t.T("bot.commandAdd", nil)},
			{Command: "schedule", Description: t.T("bot.commandSchedule", nil)},
			{Command: "help", Description: t.T("bot.commandHelp", nil)},
		}
		cfg := tgbotapi.NewSetMyCommands(commands...)
		if tag != b.cfg.Locale {
			cfg.LanguageCode = tag
		}
		if _, err := b.sender.Request(cfg); err != nil {
			b.log.Warn("failed to set commands", zap.String("locale", tag), zap.Error(err))
		}
	}
}

func (b *Bot) SetupWebhook() error {
	webhookURL := b.cfg.WebhookURL + "/bot"

	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}

	_, err = b.sender.Request(wh)
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	info, err := b.api.GetWebhookInfo()
	if err != nil {
		return fmt.Errorf("get webhook info: %w", err)
	}

	if info.LastErrorDate != 0 {
		b.log.Warn("webhook last error", zap.String("message", info.LastErrorMessage))
	}

	b.log.Info("webhook set", zap.String("url", webhookURL))
	return nil
}

// Start serves the HTTP endpoints and handles updates until ctx is done.
// Updates come from the webhook when WEBHOOK_URL is set and from long
// polling otherwise.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx = ctx

	var updates tgbotapi.UpdatesChannel
	if b.cfg.WebhookURL != "" {
		ch := make(chan tgbotapi.Update, b.api.Buffer)
		b.mux.HandleFunc("POST /bot", func(w http.ResponseWriter, r *http.Request) {
			update, err := b.api.HandleUpdate(r)
			if err != nil {
				b.log.Warn("bad webhook update", zap.Error(err))
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			select {
			case ch <- *update:
			case <-ctx.Done():
				http.Error(w, "shutting down", http.StatusServiceUnavailable)
			}
		})
		updates = ch
	} else {
		if _, err := b.sender.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			b.log.Warn("delete webhook", zap.Error(err))
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates = b.api.GetUpdatesChan(u)
		defer b.api.StopReceivingUpdates()
	}

	b.server = &http.Server{
		Addr:              ":" + b.cfg.ServerPort,
		Handler:           b.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		b.log.Info("starting http server", zap.String("port", b.cfg.ServerPort))
		if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.log.Error("http server error", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-updates:
			go b.handleUpdate(update)
		}
	}
}

func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	for _, s := range b.sessions {
		if s.stopLive != nil {
			s.stopLive()
			s.stopLive = nil
		}
	}
	b.mu.Unlock()

	if b.server != nil {
		return b.server.Shutdown(ctx)
	}
	return nil
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.sender.Send(msg)
	return err
}

func (b *Bot) SendMessageWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = keyboard
	_, err := b.sender.Send(msg)
	return err
}

// editMessage replaces a message in place, keeping it HTML.
func (b *Bot) editMessage(chatID int64, msgID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = keyboard
	if _, err := b.sender.Send(edit); err != nil {
		b.log.Debug("edit message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// reply sends text with an optional keyboard.
func (b *Bot) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	var err error
	if keyboard != nil {
		err = b.SendMessageWithKeyboard(chatID, text, *keyboard)
	} else {
		err = b.SendMessage(chatID, text)
	}
	if err != nil {
		b.log.Warn("send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.sender.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Debug("answer callback", zap.Error(err))
	}
}

// sessionLocked returns the chat's session. Callers hold b.mu.
func (b *Bot) sessionLocked(chatID int64) *session {
	s, ok := b.sessions[chatID]
	if !ok {
		s = &session{page: 1}
		b.sessions[chatID] = s
	}
	return s
}
