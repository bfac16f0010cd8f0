// Package transport is the chat-transport adapter (spec §4.6): the single
// place that knows the wire dialect, rate-limits outbound calls, integrates
// with the dedup store, and retries on transport-signalled backoff. Telegram
// and Discord implementations share this one Adapter; a cloud-bridge relay
// (bridge.go) speaks the same Transport interface over yamux instead of a
// direct API connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arborist-dev/quiescebus/internal/dedup"
)

// Keyboard is one row-major grid of inline buttons. Button.Data is the
// callback token (spec §4.2), never the raw action — the adapter never
// needs to know what a button means, only how to render it.
type Keyboard struct {
	Rows [][]Button
}

// Button is one inline button.
type Button struct {
	Label string
	Data  string
}

// CallbackEvent is one inbound button press (spec §6: "inbound stream of
// (callback_token, chat_id, message_id, from_user)").
type CallbackEvent struct {
	CallbackToken string
	ChatID        string
	MessageID     string
	FromUser      string
}

// Transport is the minimal capability a concrete chat backend (Telegram,
// Discord, or a cloud-bridge relay) must provide. It receives text exactly
// as the caller rendered it (normally through its Dialect().Render); neither
// the Transport nor the Adapter escapes or truncates it.
type Transport interface {
	Send(ctx context.Context, chatID, text string, kb *Keyboard) (messageID string, err error)
	Edit(ctx context.Context, chatID, messageID, text string) error
	Delete(ctx context.Context, chatID, messageID string) error
	Inbound() <-chan CallbackEvent
	Dialect() Dialect
}

// Dialect knows how to escape user-derived strings and render markdown-ish
// prompt/response text into the wire markup the transport expects.
type Dialect interface {
	// Escape makes s safe to interpolate literally (file names, error
	// lines, anything not meant to carry markup).
	Escape(s string) string
	// Render converts markdown-ish text (bold/italic/code/etc) into the
	// dialect's wire markup.
	Render(s string) string
}

// RateLimitSignal is returned by a Transport when the backend explicitly
// tells the caller how long to wait (e.g. Telegram's "retry after N").
type RateLimitSignal struct {
	RetryAfter time.Duration
}

func (e *RateLimitSignal) Error() string {
	return fmt.Sprintf("transport: rate limited, retry after %s", e.RetryAfter)
}

// ErrContentNotModified is swallowed by Adapter.Edit and reported as
// success (spec §4.6, §7): editing a message with identical content is not
// a real failure.
var ErrContentNotModified = errors.New("transport: content not modified")

const maxRetries = 3

// Adapter is the caller through which every outbound send/edit/delete
// flows (spec §4.6); it is safe for use from several goroutines. It owns
// the token buckets, the dedup integration and the retry policy, so
// Transport implementations never see rate-limit-violating calls. It does
// not escape or truncate text: callers pass text already rendered through
// Dialect().Render, and the Adapter hands it to the Transport unchanged.
type Adapter struct {
	transport Transport
	dedup     *dedup.Store

	aggregate *rate.Limiter
	perChatMu sync.Mutex
	perChat   map[string]*rate.Limiter
}

// NewAdapter wires transport to the shared dedup store. Rate limits are
// fixed at the spec's values: an aggregate 30 req/s and a per-chat 20
// req/min (spec §4.6).
func NewAdapter(transport Transport, dedupStore *dedup.Store) *Adapter {
	return &Adapter{
		transport: transport,
		dedup:     dedupStore,
		aggregate: rate.NewLimiter(rate.Limit(30), 30),
		perChat:   make(map[string]*rate.Limiter),
	}
}

func (a *Adapter) limiterFor(chatID string) *rate.Limiter {
	a.perChatMu.Lock()
	defer a.perChatMu.Unlock()
	if l, ok := a.perChat[chatID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(time.Minute/20), 20)
	a.perChat[chatID] = l
	return l
}

// Send sends text to chatID unchanged (the caller has already rendered it
// via Dialect.Render where appropriate), returning the new message id.
func (a *Adapter) Send(ctx context.Context, chatID, text string, kb *Keyboard) (string, error) {
	var messageID string
	err := a.withRetry(ctx, chatID, func() error {
		id, err := a.transport.Send(ctx, chatID, text, kb)
		if err != nil {
			return err
		}
		messageID = id
		return nil
	})
	return messageID, err
}

// Edit consults the dedup store before hitting the wire (spec §4.6 "Dedup
// integration"); a candidate whose hash matches the last successfully sent
// text for key is skipped with no transport call at all. On a genuine send,
// "content not modified" is swallowed and reported as success.
func (a *Adapter) Edit(ctx context.Context, key dedup.Key, chatID, messageID, text string) error {
	hash := dedup.HashText(text)
	dup, err := a.dedup.IsDuplicate(key, hash)
	if err != nil {
		return fmt.Errorf("transport: dedup check: %w", err)
	}
	if dup {
		return nil
	}

	err = a.withRetry(ctx, chatID, func() error {
		err := a.transport.Edit(ctx, chatID, messageID, text)
		if err != nil && errors.Is(err, ErrContentNotModified) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return a.dedup.RecordSent(key, hash)
}

// Delete removes a message (e.g. the menu, once a selection is made).
func (a *Adapter) Delete(ctx context.Context, chatID, messageID string) error {
	return a.withRetry(ctx, chatID, func() error {
		return a.transport.Delete(ctx, chatID, messageID)
	})
}

// Inbound exposes the underlying transport's callback stream.
func (a *Adapter) Inbound() <-chan CallbackEvent { return a.transport.Inbound() }

// Dialect exposes the underlying transport's markup dialect.
func (a *Adapter) Dialect() Dialect { return a.transport.Dialect() }

// withRetry enforces both token buckets before every attempt, then retries
// on a rate-limit error up to maxRetries: a RateLimitSignal sleeps exactly
// the signalled duration; any other rate-limit error ("too many requests",
// "rate limit") gets exponential backoff 2^attempt seconds (spec §4.6). Non-rate errors propagate immediately without retrying.
func (a *Adapter) withRetry(ctx context.Context, chatID string, call func() error) error {
	chatLimiter := a.limiterFor(chatID)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := a.aggregate.Wait(ctx); err != nil {
			return err
		}
		if err := chatLimiter.Wait(ctx); err != nil {
			return err
		}

		err := call()
		if err == nil {
			return nil
		}

		var sig *RateLimitSignal
		if errors.As(err, &sig) {
			lastErr = err
			if attempt == maxRetries {
				break
			}
			select {
			case <-time.After(sig.RetryAfter):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if isGenericRateLimit(err) {
			lastErr = err
			if attempt == maxRetries {
				break
			}
			backoff := time.Duration(1<<attempt) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		return err
	}
	return fmt.Errorf("transport: exhausted %d retries: %w", maxRetries, lastErr)
}

func isGenericRateLimit(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "too many requests") ||
		strings.Contains(strings.ToLower(err.Error()), "rate limit")
}
