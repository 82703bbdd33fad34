// Package controller implements the serving half of the agent channel.
// A Controller accepts WebSocket connections from agents and hands each
// one out as a Session, through which callers issue requests and await
// acknowledgments. Embedding supervisors and the agent's own tests
// drive agents through this package.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/leashnet/leash/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Controller is the channel endpoint agents dial. Its zero value is not
// usable; construct with New.
type Controller struct {
	logger *zap.SugaredLogger

	listenAddr string
	httpServer *http.Server
	sessions   chan *Session
}

type Option func(c *Controller)

func WithListenAddr(s string) Option {
	return func(c *Controller) {
		c.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = l.Named("controller").Sugar()
	}
}

// New constructs a controller serving the channel endpoint at
// GET /agent.
func New(opts ...Option) (*Controller, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	c := &Controller{
		logger:     logger.Named("controller").Sugar(),
		listenAddr: "0.0.0.0:8080",
		sessions:   make(chan *Session),
	}
	for _, o := range opts {
		o(c)
	}

	router := httprouter.New()
	router.GET("/agent", c.agentWS)
	c.httpServer = &http.Server{Handler: router}

	return c, nil
}

// Run serves the channel endpoint and returns once the controller has
// stopped.
func (c *Controller) Run() error {
	listener, err := net.Listen("tcp", c.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}

	err = c.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (c *Controller) Stop() error {
	return c.httpServer.Close()
}

// AcceptSession blocks until the next agent connects and returns its
// session. Sessions not accepted are held open but idle.
func (c *Controller) AcceptSession(ctx context.Context) (*Session, error) {
	select {
	case s := <-c.sessions:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// agentWS upgrades the request and serves the session until the
// connection dies; the handler goroutine doubles as the session's read
// loop.
func (c *Controller) agentWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		c.logger.Debugf("agent WebSocket accept error: %s", err)
		return
	}
	wsConn.SetReadLimit(protocol.MaxMessageSize)

	s := newSession(c.logger, wsConn)
	c.logger.Debugw("agent connected", "Session", s.ID, "RemoteAddr", r.RemoteAddr)

	select {
	case c.sessions <- s:
	case <-r.Context().Done():
		wsConn.Close(websocket.StatusGoingAway, "controller stopping")
		return
	}

	s.readLoop(r.Context())
	c.logger.Debugw("agent disconnected", "Session", s.ID)
}
