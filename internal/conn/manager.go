// Package conn maintains the duplex WebSocket channel to the generation
// backend: dialing, bounded reconnection, the single read loop that feeds
// the engine, and outbound command writes.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"astrachat/internal/domain"
	"astrachat/internal/infra/config"
	"astrachat/internal/infra/tracer"
)

const (
	writeTimeout = 5 * time.Second
	dialTimeout  = 10 * time.Second
)

// Circuit breaker defaults for the dial path. Repeated dial failures open
// the circuit so the backoff loop fails fast instead of hammering a dead
// endpoint.
const (
	dialMaxFailures uint32 = 3
	dialCBTimeout          = 20 * time.Second
)

// EventHandler receives decoded events from the read loop. Events are
// delivered sequentially from a single goroutine; OnDisconnect fires once
// per lost connection, before any reconnect attempt.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.Event)
	OnDisconnect()
}

// Manager owns the client side of the WebSocket channel. Run drives the
// connect/read/reconnect cycle; Send writes commands on whatever
// connection is currently live.
type Manager struct {
	url     string
	policy  config.ReconnectConfig
	handler EventHandler
	notify  domain.Notifier
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[*websocket.Conn]

	mu sync.RWMutex
	ws *websocket.Conn
}

// New creates a Manager. handler must not be nil; notify and logger
// default to no-ops when nil.
func New(cfg config.ServerConfig, handler EventHandler, notify domain.Notifier, logger *slog.Logger) *Manager {
	if notify == nil {
		notify = domain.NotifierFunc(func(domain.NotificationKind, string) {})
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		url:     cfg.URL,
		policy:  cfg.Reconnect,
		handler: handler,
		notify:  notify,
		logger:  logger,
	}
	m.breaker = gobreaker.NewCircuitBreaker[*websocket.Conn](gobreaker.Settings{
		Name:        "ws-dial",
		MaxRequests: 1, // one probe in half-open state
		Timeout:     dialCBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= dialMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return m
}

// Connected reports whether a live connection is currently held.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ws != nil
}

// Send implements domain.CommandSender. It fails with ErrNotConnected
// when no connection is live; callers surface that as a notification
// rather than retrying themselves.
func (m *Manager) Send(cmd domain.Command) error {
	m.mu.RLock()
	ws := m.ws
	m.mu.RUnlock()
	if ws == nil {
		return domain.WrapOp("conn.send", domain.ErrNotConnected)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, ws, cmd); err != nil {
		return domain.NewDomainError("conn.send", err, string(cmd.Type))
	}
	return nil
}

// Run connects and serves the read loop, reconnecting with exponential
// backoff on loss. It returns nil when ctx is cancelled and
// ErrReconnectExhausted when MaxAttempts consecutive dials fail.
func (m *Manager) Run(ctx context.Context) error {
	m.notify.Notify(domain.NotifyConnectivity, "Connecting...")
	attempt := 0
	for {
		ws, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			if m.policy.MaxAttempts > 0 && attempt >= m.policy.MaxAttempts {
				m.notify.Notify(domain.NotifyError, "Connection lost. Gave up reconnecting.")
				return domain.NewDomainError("conn.run", domain.ErrReconnectExhausted,
					fmt.Sprintf("%d attempts", attempt))
			}
			delay := m.backoff(attempt)
			m.logger.Warn("dial failed, retrying",
				"url", m.url, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		m.setConn(ws)
		m.notify.Notify(domain.NotifyConnectivity, "Connected")
		m.logger.Info("connected", "url", m.url)

		readErr := m.readLoop(ctx, ws)
		m.setConn(nil)
		m.handler.OnDisconnect()
		ws.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil {
			return nil
		}
		m.notify.Notify(domain.NotifyConnectivity, "Connection lost. Reconnecting...")
		m.logger.Warn("connection lost", "error", readErr)
	}
}

// Close tears down the current connection, if any. Run's read loop
// observes the closure and exits.
func (m *Manager) Close() {
	m.mu.Lock()
	ws := m.ws
	m.ws = nil
	m.mu.Unlock()
	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, "client shutting down")
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, span := tracer.StartSpan(ctx, "conn.dial",
		trace.WithAttributes(attribute.String("server.url", m.url)))
	defer span.End()

	ws, err := m.breaker.Execute(func() (*websocket.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		ws, _, err := websocket.Dial(dialCtx, m.url, nil)
		if err != nil {
			return nil, domain.NewDomainError("conn.dial", domain.ErrConnectFailed, err.Error())
		}
		return ws, nil
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	return ws, nil
}

// readLoop decodes inbound frames until the connection fails. Events are
// handed to the handler inline so ordering is preserved.
func (m *Manager) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, ws, &raw); err != nil {
			return err
		}

		var head struct {
			Type domain.EventType `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.Type == "" {
			m.logger.Warn("dropping malformed event",
				"error", errors.Join(err, domain.ErrInvalidEvent))
			continue
		}

		m.handler.HandleEvent(ctx, domain.Event{Type: head.Type, Raw: raw})
	}
}

func (m *Manager) setConn(ws *websocket.Conn) {
	m.mu.Lock()
	m.ws = ws
	m.mu.Unlock()
}

// backoff returns the delay before the given (1-based) retry attempt:
// InitialDelay doubled per attempt, capped at MaxDelay.
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.policy.InitialDelay
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if m.policy.MaxDelay > 0 && d >= m.policy.MaxDelay {
			return m.policy.MaxDelay
		}
	}
	if m.policy.MaxDelay > 0 && d > m.policy.MaxDelay {
		return m.policy.MaxDelay
	}
	return d
}

var _ domain.CommandSender = (*Manager)(nil)
