package notify

import (
	"context"
	"fmt"
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"portfolio_bot/pkg/logger"
)

// Notifier delivers operator messages: fills, stop exits, fast-start
// transitions and drawdown alerts.
type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// StatusSource renders the current portfolio for the /status command.
type StatusSource interface {
	Status() string
}

// Telegram is a passive notifier that also answers /status in its chat.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64

	mu     sync.RWMutex
	status StatusSource
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

// SetStatusSource wires the /status handler after construction.
func (t *Telegram) SetStatusSource(s StatusSource) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		logger.Warn("notify: telegram send failed: %v", err)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Start long-polls for commands until ctx is done.
func (t *Telegram) Start(ctx context.Context) {
	if t == nil || t.bot == nil {
		return
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				msg := upd.Message
				if msg == nil || msg.Chat == nil || msg.Chat.ID != t.chatID || !msg.IsCommand() {
					continue
				}
				switch msg.Command() {
				case "status":
					t.Send(t.renderStatus())
				}
			}
		}
	}()
}

func (t *Telegram) Stop() {
	if t != nil && t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}

func (t *Telegram) renderStatus() string {
	t.mu.RLock()
	s := t.status
	t.mu.RUnlock()
	if s == nil {
		return "status unavailable"
	}
	return s.Status()
}

// Log writes notifications to the service log. Used when no bot token is set.
type Log struct{}

func NewLog() *Log { return &Log{} }

func (Log) Send(msg string)                  { logger.Info("notify: %s", msg) }
func (Log) Sendf(format string, args ...any) { logger.Info("notify: "+format, args...) }
