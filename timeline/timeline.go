// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package timeline

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/danielhkuo/watchlobby/models"
)

const (
	// DefaultMaxLen caps the merged timeline; the oldest entries are evicted.
	DefaultMaxLen = 200

	// DefaultDedupeWindow suppresses identical system notices fired within
	// this window (repeat-notice storms from reconnect churn).
	DefaultDedupeWindow = 5 * time.Second

	maxChatLen = 500
)

// SendFunc transmits an outbound sync message. Injected; the timeline never
// talks to the transport directly.
type SendFunc func(models.SyncMessage) error

// Timeline merges system notices and user chat into one ordered, capped
// timeline. Safe for concurrent use.
type Timeline struct {
	clk    clock.Clock
	log    *slog.Logger
	send   SendFunc
	selfID string

	mu         sync.Mutex
	entries    []models.UnifiedMessage
	maxLen     int
	dedupe     map[string]time.Time
	dedupeSpan time.Duration
}

// New returns an empty timeline. selfID is the local user, used to drop echo
// of our own messages arriving back over the channel.
func New(clk clock.Clock, log *slog.Logger, selfID string, send SendFunc) *Timeline {
	if log == nil {
		log = slog.Default()
	}
	return &Timeline{
		clk:        clk,
		log:        log,
		send:       send,
		selfID:     selfID,
		maxLen:     DefaultMaxLen,
		dedupe:     make(map[string]time.Time),
		dedupeSpan: DefaultDedupeWindow,
	}
}

// Send validates and transmits a chat message. The message is appended locally
// first (zero-latency echo); a failing send handler is logged but the local
// entry is never rolled back.
func (t *Timeline) Send(text, senderID, username string) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxChatLen {
		return
	}

	now := t.clk.Now()
	t.append(models.UnifiedMessage{
		Kind:     models.MessageKindChat,
		Text:     text,
		SenderID: senderID,
		Username: username,
		At:       now,
	})

	msg := models.SyncMessage{
		ID:         uuid.NewString(),
		Event:      models.EventChat,
		Text:       text,
		SenderID:   senderID,
		SenderName: username,
		SentAt:     now,
	}
	if err := t.send(msg); err != nil {
		// At-least-once, never-worse UX: the optimistic echo stays.
		t.log.Warn("chat send failed", "error", err)
	}
}

// HandleIncoming appends a chat message received over the channel. Messages
// from blocked senders and self-echo are dropped.
func (t *Timeline) HandleIncoming(text, senderID, senderName string, premium bool, blocked map[string]bool) {
	if models.SameID(senderID, t.selfID) {
		return
	}
	if blocked[models.NormalizeID(senderID)] {
		return
	}

	t.append(models.UnifiedMessage{
		Kind:     models.MessageKindChat,
		Text:     text,
		SenderID: senderID,
		Username: senderName,
		Premium:  premium,
		At:       t.clk.Now(),
	})
}

// AddSystemMessage appends a system notice unless an identical (type, text)
// notice fired within the dedupe window.
func (t *Timeline) AddSystemMessage(noticeType, text string) {
	now := t.clk.Now()
	key := noticeType + "\x00" + text

	t.mu.Lock()
	if last, ok := t.dedupe[key]; ok && now.Sub(last) < t.dedupeSpan {
		t.mu.Unlock()
		return
	}
	t.dedupe[key] = now
	t.mu.Unlock()

	t.append(models.UnifiedMessage{
		Kind: models.MessageKindSystem,
		Type: noticeType,
		Text: text,
		At:   now,
	})
}

// Messages returns a copy of the current timeline, oldest first.
func (t *Timeline) Messages() []models.UnifiedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.UnifiedMessage, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Timeline) append(m models.UnifiedMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, m)
	if len(t.entries) > t.maxLen {
		t.entries = t.entries[len(t.entries)-t.maxLen:]
	}
}
