// Package notify sends operator notifications, such as daemon run summaries, to Telegram.
// Sends are best effort: failures are logged and counted, never returned to the job
// that produced the summary.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/ajitpratap0/openclaw-brain/internal/metrics"
)

// maxMessageLen stays below Telegram's 4096 character limit.
const maxMessageLen = 4000

// Notifier delivers a short text message.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, string) {}

// Telegram posts messages to one chat through the Bot API.
type Telegram struct {
	bot    *tele.Bot
	chat   tele.ChatID
	logger *slog.Logger
}

// NewTelegram creates a Telegram notifier. apiURL may be empty for the public Bot API.
// The bot is offline: it never polls for updates.
func NewTelegram(token string, chatID int64, apiURL string, logger *slog.Logger) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("notify: telegram token and chat id are required")
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     apiURL,
		Offline: true,
		Client:  &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("notify: creating telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chat: tele.ChatID(chatID), logger: logger}, nil
}

// Send delivers text, split into chunks that fit one message each.
func (t *Telegram) Send(ctx context.Context, text string) error {
	for i, chunk := range Split(strings.TrimSpace(text), maxMessageLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opts := []any{tele.NoPreview}
		if i > 0 {
			opts = append(opts, tele.Silent)
		}
		if _, err := t.bot.Send(t.chat, chunk, opts...); err != nil {
			return fmt.Errorf("notify: sending chunk %d: %w", i, err)
		}
	}
	return nil
}

// Notify sends text and logs a failure instead of returning it.
func (t *Telegram) Notify(ctx context.Context, text string) {
	if err := t.Send(ctx, text); err != nil {
		metrics.Inc(metrics.NotifyFailed)
		t.logger.Warn("notification not delivered", "error", err)
	}
}

// Split cuts text into chunks of at most maxLen bytes, preferring line breaks found
// after the first third of a chunk and never splitting a UTF-8 sequence.
func Split(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > maxLen {
		cut := maxLen
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		if idx := strings.LastIndex(text[:cut], "\n"); idx > maxLen/3 {
			cut = idx
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
