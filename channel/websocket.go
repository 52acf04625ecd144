// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/danielhkuo/watchlobby/models"
)

const (
	writeWait     = 10 * time.Second
	pingInterval  = 30 * time.Second
	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second
)

// WSChannel is the gorilla/websocket presence channel client. It dials the
// room endpoint, announces its own presence, fans inbound frames out to the
// registered observer, and redials with backoff when the connection drops.
type WSChannel struct {
	url  string
	self Meta
	log  *slog.Logger

	connRef   string
	connected atomic.Bool

	mu         sync.Mutex
	conn       *websocket.Conn
	onPresence PresenceHandler
	onMessage  MessageHandler
	onStatus   StatusHandler

	cancel context.CancelFunc
	done   chan struct{}
}

// Dial opens a channel to the given ws:// or wss:// room URL and starts the
// read/reconnect loop. onStatus may be nil.
func Dial(ctx context.Context, url string, self Meta, log *slog.Logger, onStatus StatusHandler) (*WSChannel, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &WSChannel{
		url:      url,
		self:     self,
		log:      log,
		connRef:  uuid.NewString(),
		onStatus: onStatus,
		done:     make(chan struct{}),
	}

	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(runCtx)
	return c, nil
}

// RegisterObserver installs the presence and message callbacks.
func (c *WSChannel) RegisterObserver(onPresence PresenceHandler, onMessage MessageHandler) {
	c.mu.Lock()
	c.onPresence = onPresence
	c.onMessage = onMessage
	c.mu.Unlock()
}

// Connected reports channel health.
func (c *WSChannel) Connected() bool {
	return c.connected.Load()
}

// Send transmits a sync message. Fails fast while disconnected; the caller
// treats send failures as transient.
func (c *WSChannel) Send(msg models.SyncMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.connected.Load() {
		return fmt.Errorf("channel not connected")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame{Action: "message", ConnRef: c.connRef, Message: &msg}); err != nil {
		return fmt.Errorf("channel send: %w", err)
	}
	return nil
}

// Close tears the channel down.
func (c *WSChannel) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	<-c.done
	c.status(models.ConnDisconnected)
	return nil
}

func (c *WSChannel) dial(ctx context.Context) error {
	c.status(models.ConnConnecting)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.status(models.ConnFailed)
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	ref := c.connRef
	c.mu.Unlock()

	// Presence registration: announce ourselves under our connection ref.
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame{Action: string(ActionJoin), ConnRef: ref, Meta: &c.self}); err != nil {
		conn.Close()
		c.status(models.ConnFailed)
		return fmt.Errorf("presence registration: %w", err)
	}

	c.connected.Store(true)
	c.status(models.ConnConnected)
	return nil
}

// run reads frames until the connection drops, then redials with exponential
// backoff. Every reconnect gets a new connection ref; the presence reconciler
// absorbs the resulting join/leave churn.
func (c *WSChannel) run(ctx context.Context) {
	defer close(c.done)
	backoff := reconnectBase

	for {
		c.readLoop(ctx)
		c.connected.Store(false)

		select {
		case <-ctx.Done():
			return
		default:
		}
		c.status(models.ConnConnecting)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, reconnectCap)

		// Rotate under the lock; Send reads connRef concurrently.
		c.mu.Lock()
		c.connRef = uuid.NewString()
		c.mu.Unlock()
		if err := c.dial(ctx); err != nil {
			c.log.Warn("channel redial failed", "error", err)
			continue
		}
		backoff = reconnectBase
	}
}

func (c *WSChannel) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	stopPing := make(chan struct{})
	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				c.mu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				c.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
	defer close(stopPing)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.log.Warn("channel read failed", "error", err)
			return
		}
		c.dispatch(f)
	}
}

func (c *WSChannel) dispatch(f frame) {
	c.mu.Lock()
	onPresence, onMessage := c.onPresence, c.onMessage
	c.mu.Unlock()

	switch f.Action {
	case string(ActionJoin), string(ActionLeave):
		if onPresence != nil {
			onPresence(Action(f.Action), f.ConnRef, f.Meta)
		}
	case "message":
		if f.Message != nil && onMessage != nil {
			onMessage(*f.Message)
		}
	default:
		c.log.Debug("unknown channel frame", "action", f.Action)
	}
}

func (c *WSChannel) status(s models.ConnStatus) {
	if c.onStatus != nil {
		c.onStatus(s)
	}
}
