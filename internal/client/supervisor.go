package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tutor-chat/internal/backoff"
	"tutor-chat/internal/protocol"
	"tutor-chat/pkg/logger"
)

var (
	ErrReconnectFailed = errors.New("reconnect failed")
	ErrNotConnected    = errors.New("not connected")
)

// Transport is one live connection to the broker.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a new Transport.
type Dialer func(ctx context.Context) (Transport, error)

// WebSocketDialer dials serverURL with token passed as the token query
// parameter.
func WebSocketDialer(serverURL, token string) Dialer {
	return func(ctx context.Context) (Transport, error) {
		u, err := url.Parse(serverURL)
		if err != nil {
			return nil, fmt.Errorf("parse server url: %w", err)
		}
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment}
		conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dial %s: %w (status %d)", u.Host, err, resp.StatusCode)
			}
			return nil, fmt.Errorf("dial %s: %w", u.Host, err)
		}
		return &wsTransport{conn: conn}, nil
	}
}

// wsTransport serialises writes; gorilla allows one concurrent writer.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.mu.Unlock()
	return t.conn.Close()
}

// Supervisor owns the transport lifecycle: connect with bounded backoff,
// announce on every (re)connection, feed inbound frames onward, and give up
// with a persistent error once attempts run out.
type Supervisor struct {
	dial        Dialer
	store       *Store
	policy      backoff.Policy
	maxAttempts int
	log         *logger.Logger

	// onConnect runs on every successful connection before frames are
	// read; onFrame receives each decoded inbound frame.
	onConnect func(ctx context.Context, t Transport) error
	onFrame   func(protocol.Frame)
}

func NewSupervisor(dial Dialer, store *Store, policy backoff.Policy, maxAttempts int, log *logger.Logger) *Supervisor {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if log == nil {
		log = logger.GlobalLogger
	}
	return &Supervisor{
		dial:        dial,
		store:       store,
		policy:      policy,
		maxAttempts: maxAttempts,
		log:         log,
		onConnect:   func(context.Context, Transport) error { return nil },
		onFrame:     func(protocol.Frame) {},
	}
}

// Run connects and keeps reconnecting until ctx is done or a reconnect
// cycle exhausts its attempts, in which case it returns ErrReconnectFailed.
func (s *Supervisor) Run(ctx context.Context) error {
	status := StatusConnecting

	for {
		s.store.Dispatch(SetStatus{Status: status})

		t, attempts, err := backoff.Retry(ctx, s.policy, s.maxAttempts, func(attempt int) (Transport, error) {
			t, err := s.dial(ctx)
			if err != nil {
				s.log.Warn("Connect attempt %d/%d failed: %v", attempt, s.maxAttempts, err)
			}
			return t, err
		})
		if err != nil {
			if ctx.Err() != nil {
				s.store.Dispatch(SetStatus{Status: StatusDisconnected})
				return ctx.Err()
			}
			failure := fmt.Errorf("%w after %d attempts: %v", ErrReconnectFailed, attempts, err)
			s.store.Dispatch(SetStatus{Status: StatusFailed})
			s.store.Dispatch(SetError{Err: failure})
			s.log.Error("Giving up on connection: %v", failure)
			return failure
		}

		s.log.Info("Connected after %d attempt(s)", attempts)
		s.serve(ctx, t)

		if ctx.Err() != nil {
			s.store.Dispatch(SetStatus{Status: StatusDisconnected})
			return ctx.Err()
		}
		s.log.Warn("Connection lost, reconnecting")
		status = StatusReconnecting
	}
}

// serve runs one connection until it drops or ctx is done.
func (s *Supervisor) serve(ctx context.Context, t Transport) {
	s.store.Dispatch(SetSocket{Socket: t})
	s.store.Dispatch(SetConnected{Connected: true})
	s.store.Dispatch(SetStatus{Status: StatusConnected})
	s.store.Dispatch(SetError{Err: nil})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			t.Close()
		case <-stop:
		}
	}()

	if err := s.onConnect(ctx, t); err != nil {
		s.log.Warn("Announcing connection failed: %v", err)
	}

	for {
		raw, err := t.ReadMessage()
		if err != nil {
			s.log.Debug("Read loop ended: %v", err)
			break
		}
		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			s.log.Warn("Dropping frame from server: %v", err)
			continue
		}
		s.onFrame(frame)
	}

	t.Close()
	s.store.Dispatch(SetConnected{Connected: false})
	s.store.Dispatch(SetSocket{Socket: nil})
}
