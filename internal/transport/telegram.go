package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/gofrs/flock"
)

// Telegram is a Transport backed by go-telegram/bot. Grounded on the
// teacher's internal/telegram/bot.go: a conflict-detecting errors handler
// that self-cancels on Telegram's "terminated by other getUpdates request"
// response, and a cross-process flock keyed by a hash of the token so two
// processes never long-poll the same token at once.
type Telegram struct {
	token          string
	allowedUserIDs map[int64]bool

	tg *bot.Bot

	inbound chan CallbackEvent

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	lockPath string
}

// NewTelegram constructs the Telegram transport. It does not start polling;
// call Start to begin.
func NewTelegram(token string, allowedUserIDs []int64) (*Telegram, error) {
	allowed := make(map[int64]bool, len(allowedUserIDs))
	for _, id := range allowedUserIDs {
		allowed[id] = true
	}

	t := &Telegram{
		token:          token,
		allowedUserIDs: allowed,
		inbound:        make(chan CallbackEvent, 100),
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(t.handleUpdate),
		bot.WithErrorsHandler(func(err error) {
			if err == nil {
				return
			}
			msg := err.Error()
			if strings.Contains(strings.ToLower(msg), "conflict") {
				log.Printf("transport/telegram: conflict detected, stopping this instance: %v", err)
				t.cancelMu.Lock()
				if t.cancel != nil {
					t.cancel()
				}
				t.cancelMu.Unlock()
				return
			}
			log.Printf("transport/telegram: error: %v", err)
		}),
	}

	tg, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("transport/telegram: new bot: %w", err)
	}
	t.tg = tg

	home, _ := os.UserHomeDir()
	tokenHash := sha256.Sum256([]byte(token))
	t.lockPath = filepath.Join(home, ".quiescebus", fmt.Sprintf("tg-bus-%s.lock", hex.EncodeToString(tokenHash[:8])))

	return t, nil
}

// Start acquires the cross-process lock and runs the long-poll loop until
// ctx is cancelled or a conflict is detected. It blocks; run it in its own
// goroutine.
func (t *Telegram) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(t.lockPath), 0o755); err != nil {
		return fmt.Errorf("transport/telegram: create lock dir: %w", err)
	}

	fileLock := flock.New(t.lockPath)
	var locked bool
	var err error
	for attempt := 0; attempt < 10; attempt++ {
		locked, err = fileLock.TryLock()
		if locked || err != nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("transport/telegram: acquire lock %s: %w", t.lockPath, err)
	}
	if !locked {
		return fmt.Errorf("transport/telegram: bot token already in use by another process (lock %s held)", t.lockPath)
	}
	defer fileLock.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	t.cancelMu.Lock()
	t.cancel = cancel
	t.cancelMu.Unlock()
	defer cancel()

	_, err = t.tg.SetMyCommands(runCtx, &bot.SetMyCommandsParams{
		Commands: []models.BotCommand{
			{Command: "start", Description: "Activate the workflow bus"},
			{Command: "workspaces", Description: "List known workspaces"},
		},
	})
	if err != nil {
		log.Printf("transport/telegram: failed to set bot commands: %v", err)
	}

	t.tg.Start(runCtx)
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(ctx, tgBot, update.CallbackQuery)
	}
}

func (t *Telegram) handleCallback(ctx context.Context, tgBot *bot.Bot, cb *models.CallbackQuery) {
	if cb.Message.Message == nil {
		return
	}
	chatID := cb.Message.Message.Chat.ID
	userID := cb.From.ID

	if len(t.allowedUserIDs) > 0 && !t.allowedUserIDs[userID] && !t.allowedUserIDs[chatID] {
		log.Printf("transport/telegram: unauthorized callback from user %d in chat %d", userID, chatID)
		return
	}

	if _, err := tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	}); err != nil {
		log.Printf("transport/telegram: answer callback query: %v", err)
	}

	t.inbound <- CallbackEvent{
		CallbackToken: cb.Data,
		ChatID:        strconv.FormatInt(chatID, 10),
		MessageID:     strconv.Itoa(cb.Message.Message.ID),
		FromUser:      strconv.FormatInt(userID, 10),
	}
}

// Send implements Transport.
func (t *Telegram) Send(ctx context.Context, chatID, text string, kb *Keyboard) (string, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("transport/telegram: invalid chat id %q: %w", chatID, err)
	}
	params := &bot.SendMessageParams{
		ChatID:    id,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if kb != nil {
		params.ReplyMarkup = toInlineKeyboard(kb)
	}
	msg, err := t.tg.SendMessage(ctx, params)
	if err != nil {
		return "", translateError(err)
	}
	return strconv.Itoa(msg.ID), nil
}

// Edit implements Transport.
func (t *Telegram) Edit(ctx context.Context, chatID, messageID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("transport/telegram: invalid chat id %q: %w", chatID, err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("transport/telegram: invalid message id %q: %w", messageID, err)
	}
	_, err = t.tg.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    id,
		MessageID: msgID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	return translateError(err)
}

// Delete implements Transport.
func (t *Telegram) Delete(ctx context.Context, chatID, messageID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("transport/telegram: invalid chat id %q: %w", chatID, err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("transport/telegram: invalid message id %q: %w", messageID, err)
	}
	_, err = t.tg.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: id, MessageID: msgID})
	return translateError(err)
}

// Inbound implements Transport.
func (t *Telegram) Inbound() <-chan CallbackEvent { return t.inbound }

// Dialect implements Transport.
func (t *Telegram) Dialect() Dialect { return TelegramHTML{} }

func toInlineKeyboard(kb *Keyboard) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, len(kb.Rows))
	for i, row := range kb.Rows {
		buttons := make([]models.InlineKeyboardButton, len(row))
		for j, btn := range row {
			buttons[j] = models.InlineKeyboardButton{Text: btn.Label, CallbackData: btn.Data}
		}
		rows[i] = buttons
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// translateError maps the two transport-signalled conditions Adapter cares
// about (rate limiting, no-op edits) onto the sentinel errors in
// transport.go; everything else passes through unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "message is not modified") {
		return ErrContentNotModified
	}
	if strings.Contains(msg, "too many requests") {
		retryAfter := 1 * time.Second
		if idx := strings.Index(msg, "retry after "); idx >= 0 {
			rest := msg[idx+len("retry after "):]
			var secs int
			if _, scanErr := fmt.Sscanf(rest, "%d", &secs); scanErr == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitSignal{RetryAfter: retryAfter}
	}
	return err
}
