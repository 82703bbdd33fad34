package controller

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/leashnet/leash/agent"
	testnet "github.com/leashnet/leash/internal/net"
	"github.com/leashnet/leash/protocol"
	"github.com/leashnet/leash/terminal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var logger *zap.Logger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	logger = l
}

// startSession runs a controller and a connected agent and returns the
// agent's session.
func startSession(t *testing.T) *Session {
	t.Helper()
	ctx := context.Background()

	addr, err := testnet.EphemeralListenAddr()
	require.NoError(t, err)

	ctrl, err := New(WithLogger(logger), WithListenAddr(addr))
	require.NoError(t, err)

	go ctrl.Run()
	t.Cleanup(func() {
		require.NoError(t, ctrl.Stop())
	})

	a, err := agent.New(
		"ws://"+addr+"/agent",
		agent.WithLogger(logger),
		agent.WithPresenter(terminal.New(io.Discard, strings.NewReader(""))),
		agent.WithConnectIndicator(false),
	)
	require.NoError(t, err)
	go a.Run(ctx)

	acceptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s, err := ctrl.AcceptSession(acceptCtx)
	require.NoError(t, err)

	return s
}

func TestCallUnknownEvent(t *testing.T) {
	s := startSession(t)

	err := s.call(context.Background(), "bogus", nil, nil)
	require.ErrorContains(t, err, `agent error: unknown event "bogus"`)
}

func TestCloseInterruptsCalls(t *testing.T) {
	s := startSession(t)

	execErr := make(chan error, 1)
	go func() {
		_, err := s.Exec(context.Background(), protocol.ExecRequest{Command: "sleep 5"})
		execErr <- err
	}()

	// let the exec reach the agent before tearing the session down
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-execErr:
		require.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("exec was not interrupted by session close")
	}
}

func TestTerminateClosesSession(t *testing.T) {
	s := startSession(t)

	require.NoError(t, s.Terminate(context.Background()))

	select {
	case <-s.Closed():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not close after terminate")
	}
	assert.Error(t, s.closeErr)
}

func TestPing(t *testing.T) {
	s := startSession(t)

	require.NoError(t, s.Ping(context.Background()))
}

func TestAcceptSessionContext(t *testing.T) {
	addr, err := testnet.EphemeralListenAddr()
	require.NoError(t, err)

	ctrl, err := New(WithLogger(logger), WithListenAddr(addr))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ctrl.AcceptSession(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
