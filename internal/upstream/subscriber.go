package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ConnState is the subscription lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateGivenUp
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateGivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

// ErrReconnectExhausted is returned once the subscriber has burned through
// its reconnect budget and permanently given up.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// HeadHandler receives each successfully parsed new-head notification.
// Handlers are invoked one at a time in arrival order.
type HeadHandler func(ctx context.Context, head Head)

// SubscriberConfig configures the upstream subscription lifecycle.
type SubscriberConfig struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
}

// Subscriber maintains the upstream new-head WebSocket subscription. On every
// drop it reconnects with exponentially growing delay, up to a capped attempt
// count, after which it gives up for good and surfaces StateGivenUp.
type Subscriber struct {
	cfg     SubscriberConfig
	handler HeadHandler
	log     *slog.Logger
	state   atomic.Int32
}

// NewSubscriber creates a subscriber delivering parsed heads to handler.
func NewSubscriber(cfg SubscriberConfig, handler HeadHandler, log *slog.Logger) *Subscriber {
	return &Subscriber{
		cfg:     cfg,
		handler: handler,
		log:     log.With("component", "subscriber"),
	}
}

// State returns the current connection state.
func (s *Subscriber) State() ConnState {
	return ConnState(s.state.Load())
}

// Run drives the connect/read/reconnect loop until the context is cancelled
// or the reconnect budget is exhausted.
func (s *Subscriber) Run(ctx context.Context) error {
	attempts := 0
	for {
		s.setState(StateConnecting)
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return ctx.Err()
		}

		attempts++
		if attempts >= s.cfg.MaxReconnectAttempts {
			s.setState(StateGivenUp)
			s.log.Error("Giving up on upstream subscription", "attempts", attempts, "error", err)
			return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, attempts, err)
		}

		delay := s.cfg.ReconnectBaseDelay << (attempts - 1)
		if max := 2 * time.Minute; delay > max {
			delay = max
		}
		s.setState(StateReconnecting)
		s.log.Warn("Upstream connection lost, reconnecting",
			"attempt", attempts, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			s.setState(StateDisconnected)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (s *Subscriber) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.Dial(dialCtx, s.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")
	conn.SetReadLimit(1 << 20)

	subscribe := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []any{"newHeads"},
	}
	if err := wsjson.Write(ctx, conn, subscribe); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	s.setState(StateConnected)
	s.log.Info("Subscribed to upstream new heads", "url", s.cfg.URL)

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		head, ok := s.parseNotification(raw)
		if !ok {
			continue
		}
		s.handler(ctx, head)
	}
}

// parseNotification extracts a Head from a subscription envelope. Anything
// malformed is logged and dropped without touching the connection.
func (s *Subscriber) parseNotification(raw json.RawMessage) (Head, bool) {
	var envelope struct {
		Method string `json:"method"`
		Result string `json:"result"`
		Params struct {
			Result struct {
				Number    string `json:"number"`
				Hash      string `json:"hash"`
				Timestamp string `json:"timestamp"`
			} `json:"result"`
		} `json:"params"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.log.Warn("Dropping malformed upstream message", "error", err)
		return Head{}, false
	}

	// The subscribe ack carries a bare subscription id; skip it.
	if envelope.Method != "eth_subscription" {
		return Head{}, false
	}

	r := envelope.Params.Result
	head, err := headFromRaw(r.Number, r.Hash, r.Timestamp)
	if err != nil {
		s.log.Warn("Dropping unparsable head notification", "error", err)
		return Head{}, false
	}
	return *head, true
}

func (s *Subscriber) setState(state ConnState) {
	s.state.Store(int32(state))
}
