package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	bridgeWriteWait  = 10 * time.Second
	bridgeAckTimeout = 30 * time.Second
	bridgeEventQueue = 16
)

// Frame types exchanged with the channel bridge.
const (
	frameHello  = "hello"
	frameQR     = "qr"
	frameCreds  = "creds"
	frameOpen   = "open"
	frameClose  = "close"
	frameSend   = "send"
	frameAck    = "ack"
	frameLogout = "logout"
)

const ackInvalidRecipient = "invalid_recipient"

type frame struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`
	To          string `json:"to,omitempty"`
	Text        string `json:"text,omitempty"`
	Code        string `json:"code,omitempty"`
	Credentials []byte `json:"credentials,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BridgeTransport speaks to a channel bridge over a websocket. The bridge owns
// the channel protocol; this side only ferries pairing codes, the opaque
// credential blob and outbound text.
type BridgeTransport struct {
	url        string
	header     http.Header
	dialer     *websocket.Dialer
	ackTimeout time.Duration
	logger     zerolog.Logger
}

func NewBridgeTransport(url, token string, logger zerolog.Logger) *BridgeTransport {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &BridgeTransport{
		url:        url,
		header:     header,
		dialer:     &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		ackTimeout: bridgeAckTimeout,
		logger:     logger,
	}
}

func (t *BridgeTransport) Dial(ctx context.Context, creds []byte) (Conn, error) {
	ws, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial bridge: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial bridge: %w", err)
	}

	c := &bridgeConn{
		ws:         ws,
		events:     make(chan Event, bridgeEventQueue),
		pending:    make(map[string]chan frame),
		done:       make(chan struct{}),
		ackTimeout: t.ackTimeout,
		logger:     t.logger,
	}

	if err := c.write(frame{Type: frameHello, Credentials: creds}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("bridge hello: %w", err)
	}

	go c.readPump()
	return c, nil
}

type bridgeConn struct {
	ws         *websocket.Conn
	ackTimeout time.Duration
	logger     zerolog.Logger

	events chan Event

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan frame
	finished bool

	done      chan struct{}
	closeOnce sync.Once
	finish    sync.Once
}

func (c *bridgeConn) Events() <-chan Event {
	return c.events
}

func (c *bridgeConn) readPump() {
	defer close(c.events)

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.end(CloseTransient, err)
			return
		}

		switch f.Type {
		case frameQR:
			c.emit(Event{Kind: EventPairingCode, Code: f.Code})
		case frameCreds:
			c.emit(Event{Kind: EventCredentials, Credentials: f.Credentials})
		case frameOpen:
			c.emit(Event{Kind: EventOpen})
		case frameAck:
			c.resolve(f)
		case frameClose:
			reason := CloseTransient
			if f.Reason == string(CloseLoggedOut) {
				reason = CloseLoggedOut
			}
			c.end(reason, fmt.Errorf("bridge closed session: %s", f.Reason))
			return
		default:
			c.logger.Debug().Str("type", f.Type).Msg("ignoring unknown bridge frame")
		}
	}
}

func (c *bridgeConn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// end reports the connection loss once and fails every send still waiting
// for an ack.
func (c *bridgeConn) end(reason CloseReason, err error) {
	c.finish.Do(func() {
		c.mu.Lock()
		c.finished = true
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()

		c.emit(Event{Kind: EventClosed, Reason: reason, Err: err})
	})
}

func (c *bridgeConn) resolve(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()

	if ok {
		ch <- f
	}
}

func (c *bridgeConn) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
	return c.ws.WriteJSON(f)
}

func (c *bridgeConn) Send(ctx context.Context, to Address, text string) error {
	id := uuid.NewString()
	ack := make(chan frame, 1)

	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.pending[id] = ack
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.write(frame{Type: frameSend, ID: id, To: string(to), Text: text}); err != nil {
		forget()
		return fmt.Errorf("write send frame: %w", err)
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case f, ok := <-ack:
		if !ok {
			return ErrConnectionClosed
		}
		if f.Error == "" {
			return nil
		}
		if f.Reason == ackInvalidRecipient {
			return fmt.Errorf("%w: %s", ErrInvalidAddress, f.Error)
		}
		return fmt.Errorf("bridge rejected send: %s", f.Error)
	case <-ctx.Done():
		forget()
		return ctx.Err()
	case <-timer.C:
		forget()
		return errors.New("bridge did not acknowledge send")
	}
}

func (c *bridgeConn) Logout(_ context.Context) error {
	if err := c.write(frame{Type: frameLogout}); err != nil {
		return fmt.Errorf("write logout frame: %w", err)
	}
	return nil
}

func (c *bridgeConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
