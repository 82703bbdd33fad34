// Package agent implements the execution agent: a client that dials
// its controller's event channel, performs requested actions on the
// local host, and acknowledges every request exactly once. The agent
// never initiates an exchange; it exists to be driven.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/leashnet/leash/protocol"
	"github.com/leashnet/leash/shell"
	"github.com/leashnet/leash/terminal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Agent is a client of one controller. Its zero value is not usable;
// construct with New.
type Agent struct {
	logger *zap.SugaredLogger

	endpoint       string
	connectTimeout time.Duration
	showIndicator  bool

	presenter *terminal.Presenter
	runner    *shell.Runner

	// captureMu serializes read_line requests; only one line capture
	// may be outstanding at a time.
	captureMu sync.Mutex
}

type Option func(a *Agent)

func WithConnectTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.connectTimeout = d
	}
}

// WithConnectIndicator controls whether the agent shows a loading
// indicator of its own while the channel is being established.
func WithConnectIndicator(show bool) Option {
	return func(a *Agent) {
		a.showIndicator = show
	}
}

func WithPresenter(p *terminal.Presenter) Option {
	return func(a *Agent) {
		a.presenter = p
	}
}

func WithRunner(r *shell.Runner) Option {
	return func(a *Agent) {
		a.runner = r
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		a.logger = l.Named("agent").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(a *Agent) {
		a.logger = a.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// New constructs an agent for the given controller endpoint, e.g.
// "wss://control.example.com/agent".
func New(endpoint string, opts ...Option) (*Agent, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	a := &Agent{
		logger:         logger.Named("agent").Sugar(),
		endpoint:       endpoint,
		connectTimeout: 5 * time.Second,
		showIndicator:  true,
	}
	for _, o := range opts {
		o(a)
	}
	if a.presenter == nil {
		a.presenter = terminal.New(os.Stdout, os.Stdin)
	}
	if a.runner == nil {
		a.runner = &shell.Runner{Log: a.logger.Named("shell")}
	}
	return a, nil
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// Run dials the controller and serves its requests until the session
// ends. It returns nil when the controller terminates the agent or the
// channel closes for any reason after establishment, and an error only
// when the channel could not be established at all.
func (a *Agent) Run(ctx context.Context) error {
	if a.showIndicator {
		a.presenter.StartLoading("Connecting to "+a.endpoint, a.connectTimeout)
	}
	conn, err := a.dial(ctx)
	a.presenter.StopLoading()
	if err != nil {
		return fmt.Errorf("connecting to controller: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(protocol.MaxMessageSize)
	a.logger.Debugw("channel established", "Endpoint", a.endpoint)

	for {
		var env protocol.Envelope
		err := wsjson.Read(ctx, conn, &env)
		if err != nil {
			// any failure of the channel ends the session cleanly,
			// whether or not the controller closed it on purpose
			a.logger.Debugf("channel closed, shutting down: %s", err)
			return nil
		}
		a.logger.Debugw("event received", "Event", env.Event, "ID", env.ID)

		if env.Event == protocol.EventTerminate {
			a.logger.Debug("terminate requested, shutting down")
			return nil
		}

		// each request is handled on its own goroutine so a slow exec
		// or a pending line capture never blocks the channel
		go a.handle(ctx, conn, env)
	}
}

func (a *Agent) dial(ctx context.Context) (*websocket.Conn, error) {
	retryClient := retryablehttp.NewClient()
	// WebSocket upgrades need HTTP/1.1, so the transport must not
	// negotiate h2 on wss endpoints
	retryClient.HTTPClient = &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
	}
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.RetryMax = 4
	retryClient.Logger = &logAdapter{SugaredLogger: a.logger}

	ctx, cancel := context.WithTimeout(ctx, a.connectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, a.endpoint, &websocket.DialOptions{
		HTTPClient:      retryClient.StandardClient(),
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing WebSocket conn: %w", err)
	}
	return conn, nil
}

// handle performs one request and sends its ack. Acks from overlapping
// requests may interleave in any order; the ID correlates them.
func (a *Agent) handle(ctx context.Context, conn *websocket.Conn, env protocol.Envelope) {
	ack := protocol.Ack{ID: env.ID}
	payload, err := a.dispatch(ctx, env)
	if err != nil {
		a.logger.Debugw("event failed", "Event", env.Event, "ID", env.ID, "Error", err)
		ack.Error = err.Error()
	} else {
		ack.Payload = payload
	}
	if err := wsjson.Write(ctx, conn, ack); err != nil {
		a.logger.Debugf("error acknowledging %s: %s", env.Event, err)
	}
}

func (a *Agent) dispatch(ctx context.Context, env protocol.Envelope) (json.RawMessage, error) {
	switch env.Event {
	case protocol.EventEnvironment:
		return marshalAck(a.environment())

	case protocol.EventExec:
		var req protocol.ExecRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("decoding exec payload: %w", err)
		}
		return marshalAck(a.exec(ctx, req))

	case protocol.EventWrite:
		var text string
		if err := json.Unmarshal(env.Payload, &text); err != nil {
			return nil, fmt.Errorf("decoding write payload: %w", err)
		}
		a.presenter.WriteDirect(text)
		return nil, nil

	case protocol.EventReadLine:
		a.captureMu.Lock()
		defer a.captureMu.Unlock()
		line, err := a.presenter.CaptureLine(ctx)
		if err != nil {
			return nil, fmt.Errorf("capturing line: %w", err)
		}
		return marshalAck(line)

	case protocol.EventLoadingStart:
		var req protocol.LoadingRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("decoding loading payload: %w", err)
		}
		a.logger.Debugw("loading indicator started", "Text", req.Text, "TimeoutMS", req.TimeoutMS)
		a.presenter.StartLoading(req.Text, time.Duration(req.TimeoutMS)*time.Millisecond)
		return nil, nil

	case protocol.EventLoadingStop:
		a.presenter.StopLoading()
		return nil, nil
	}
	return nil, fmt.Errorf("unknown event %q", env.Event)
}

// exec runs one command and folds every failure into the result: a
// command that could not even be spawned reports exit code -1 with the
// error on stderr, the same shape a killed process reports.
func (a *Agent) exec(ctx context.Context, req protocol.ExecRequest) protocol.ExecResult {
	a.logger.Debugw("executing command", "Command", req.Command, "TimeoutMS", req.TimeoutMS)
	res, err := a.runner.Run(ctx, shell.Request{
		Command: req.Command,
		Stdin:   req.Stdin,
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		a.logger.Debugf("command failed to start: %s", err)
		return protocol.ExecResult{ExitCode: -1, Stderr: err.Error()}
	}
	return protocol.ExecResult{
		ExitCode:   res.ExitCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		DurationMS: res.Duration.Milliseconds(),
	}
}

func (a *Agent) environment() protocol.EnvInfo {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	cwd, err := os.Getwd()
	if err != nil {
		a.logger.Debugf("reading working directory: %s", err)
	}
	return protocol.EnvInfo{
		Argv: os.Args,
		Env:  env,
		Cwd:  cwd,
		PID:  os.Getpid(),
	}
}

func marshalAck(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding ack payload: %w", err)
	}
	return b, nil
}
