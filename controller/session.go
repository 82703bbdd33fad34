package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leashnet/leash/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ErrSessionClosed is returned by calls made on, or interrupted by, a
// dead session.
var ErrSessionClosed = errors.New("session closed")

// Session is one connected agent. Methods may be called concurrently;
// each request is correlated to its ack by ID, so acks arriving out of
// order resolve the right call.
type Session struct {
	// ID uniquely identifies the session for logs.
	ID string

	logger *zap.SugaredLogger
	conn   *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan protocol.Ack

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func newSession(logger *zap.SugaredLogger, conn *websocket.Conn) *Session {
	id := uuid.NewString()
	return &Session{
		ID:      id,
		logger:  logger.Named("session").With("Session", id),
		conn:    conn,
		pending: make(map[string]chan protocol.Ack),
		closed:  make(chan struct{}),
	}
}

// readLoop routes inbound acks to their pending calls until the
// connection dies.
func (s *Session) readLoop(ctx context.Context) {
	for {
		var ack protocol.Ack
		if err := wsjson.Read(ctx, s.conn, &ack); err != nil {
			s.fail(fmt.Errorf("%w: %s", ErrSessionClosed, err))
			return
		}

		s.mu.Lock()
		ch, ok := s.pending[ack.ID]
		delete(s.pending, ack.ID)
		s.mu.Unlock()

		if !ok {
			s.logger.Debugw("ack with no pending request", "ID", ack.ID)
			continue
		}
		ch <- ack
	}
}

func (s *Session) fail(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		close(s.closed)
	})
}

// Closed is closed once the session is dead, whatever the reason.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// Close tears the connection down. In-flight calls fail with
// ErrSessionClosed.
func (s *Session) Close() error {
	s.fail(ErrSessionClosed)
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// call sends one envelope and blocks until its ack, decoding the ack
// payload into out when out is non-nil.
func (s *Session) call(ctx context.Context, event string, payload interface{}, out interface{}) error {
	env := protocol.Envelope{Event: event, ID: uuid.NewString()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding %s payload: %w", event, err)
		}
		env.Payload = b
	}

	ch := make(chan protocol.Ack, 1)
	s.mu.Lock()
	s.pending[env.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, env.ID)
		s.mu.Unlock()
	}()

	s.logger.Debugw("sending event", "Event", event, "ID", env.ID)
	if err := wsjson.Write(ctx, s.conn, env); err != nil {
		return fmt.Errorf("sending %s: %w", event, err)
	}

	select {
	case ack := <-ch:
		if ack.Error != "" {
			return fmt.Errorf("agent error: %s", ack.Error)
		}
		if out != nil && len(ack.Payload) > 0 {
			if err := json.Unmarshal(ack.Payload, out); err != nil {
				return fmt.Errorf("decoding %s ack: %w", event, err)
			}
		}
		return nil
	case <-s.closed:
		return s.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Environment reports the agent process's argv, environment variables,
// working directory, and PID.
func (s *Session) Environment(ctx context.Context) (protocol.EnvInfo, error) {
	var info protocol.EnvInfo
	err := s.call(ctx, protocol.EventEnvironment, nil, &info)
	return info, err
}

// Exec runs one shell command on the agent's host and returns its
// buffered result. Failures to launch surface inside the result with
// exit code -1, not as an error.
func (s *Session) Exec(ctx context.Context, req protocol.ExecRequest) (protocol.ExecResult, error) {
	var res protocol.ExecResult
	err := s.call(ctx, protocol.EventExec, req, &res)
	return res, err
}

// WriteOutput writes text directly to the agent's terminal.
func (s *Session) WriteOutput(ctx context.Context, text string) error {
	return s.call(ctx, protocol.EventWrite, text, nil)
}

// ReadLine blocks until a full line is entered on the agent's terminal
// and returns it without the trailing separator.
func (s *Session) ReadLine(ctx context.Context) (string, error) {
	var line string
	err := s.call(ctx, protocol.EventReadLine, nil, &line)
	return line, err
}

// StartLoading shows the agent's loading indicator. A nonzero timeout
// dismisses it on the agent side when it fires.
func (s *Session) StartLoading(ctx context.Context, text string, timeout time.Duration) error {
	req := protocol.LoadingRequest{Text: text, TimeoutMS: timeout.Milliseconds()}
	return s.call(ctx, protocol.EventLoadingStart, req, nil)
}

// StopLoading dismisses the agent's loading indicator.
func (s *Session) StopLoading(ctx context.Context) error {
	return s.call(ctx, protocol.EventLoadingStop, nil, nil)
}

// Terminate tells the agent to exit. It is fire-and-forget: no ack
// comes back, and the session dies when the agent hangs up.
func (s *Session) Terminate(ctx context.Context) error {
	s.logger.Debug("sending terminate")
	if err := wsjson.Write(ctx, s.conn, protocol.Envelope{Event: protocol.EventTerminate}); err != nil {
		return fmt.Errorf("sending terminate: %w", err)
	}
	return nil
}

// Ping round-trips a WebSocket ping to check the channel is alive.
func (s *Session) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}
