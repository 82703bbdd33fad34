// Package terminal owns the process's terminal: it renders at most one
// ephemeral status line, passes direct output through it without visual
// corruption, and captures single lines from standard input. All
// operations are safe for concurrent use; the last state transition
// wins.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Presenter states. The zero value is idle: no status line is showing
// and direct writes pass straight through.
type mode int

const (
	modeIdle mode = iota
	modeLoading
	modeInputCapture
)

// frames is the spinner glyph cycle, advanced once per tick.
var frames = [...]string{"|", "/", "-", `\`}

// tickInterval is the spinner redraw period.
const tickInterval = 120 * time.Millisecond

// eraseLine returns the cursor to column 0 and erases the whole line.
const eraseLine = "\r\x1b[2K"

type readResult struct {
	line string
	err  error
}

// Presenter arbitrates a single output stream between an animated
// status line and direct writes, and reads lines from a single input
// stream. Construct with New.
type Presenter struct {
	mu sync.Mutex

	out   io.Writer
	plain bool

	mode  mode
	text  string
	frame int

	// gen invalidates the tick goroutine and deadline timer of every
	// indicator started before the current one.
	gen      uint64
	stopTick chan struct{}
	deadline *time.Timer

	in       *bufio.Reader
	readOnce sync.Once
	readReq  chan struct{}
	readResp chan readResult
}

type Option func(p *Presenter)

// WithPlainOutput disables status-line rendering, for outputs that are
// not terminals. State transitions and deadline timers still run, and
// direct writes pass through unchanged.
func WithPlainOutput() Option {
	return func(p *Presenter) { p.plain = true }
}

// New returns a Presenter writing status and direct output to out and
// capturing lines from in.
func New(out io.Writer, in io.Reader, opts ...Option) *Presenter {
	p := &Presenter{
		out:      out,
		in:       bufio.NewReader(in),
		readReq:  make(chan struct{}),
		readResp: make(chan readResult, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// StartLoading shows the animated status line with the given text.
// Calling it while an indicator is already up replaces it, leaving a
// single redraw cycle running. A nonzero timeout dismisses the
// indicator when it fires, whether or not StopLoading is ever called.
func (p *Presenter) StartLoading(text string, timeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLoadingLocked()

	p.mode = modeLoading
	p.text = text
	p.frame = 0
	p.gen++
	p.stopTick = make(chan struct{})
	go p.tick(p.gen, p.stopTick)
	if timeout > 0 {
		gen := p.gen
		p.deadline = time.AfterFunc(timeout, func() { p.expire(gen) })
	}
	p.renderLocked()
}

// StopLoading dismisses the indicator and erases its line. It is a
// no-op when no indicator is showing.
func (p *Presenter) StopLoading() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLoadingLocked()
}

// WriteDirect writes text to the output. While the indicator is up, the
// status line is erased first and repainted afterwards with its current
// frame; the animation schedule is not reset. Text without a trailing
// newline gets one so the repaint lands on its own line.
func (p *Presenter) WriteDirect(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.plain || p.mode != modeLoading {
		fmt.Fprint(p.out, text)
		return
	}
	p.clearLocked()
	if strings.HasSuffix(text, "\n") {
		fmt.Fprint(p.out, text)
	} else {
		fmt.Fprintln(p.out, text)
	}
	p.renderLocked()
}

// CaptureLine blocks until one full line arrives on the input stream
// and returns it without the trailing line separator. Any loading
// indicator is dismissed first. When ctx expires before a line arrives,
// the read stays pending and its line is handed to the next CaptureLine
// call; callers must serialize captures.
func (p *Presenter) CaptureLine(ctx context.Context) (string, error) {
	p.mu.Lock()
	p.stopLoadingLocked()
	p.mode = modeInputCapture
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.mode == modeInputCapture {
			p.mode = modeIdle
		}
		p.mu.Unlock()
	}()

	p.readOnce.Do(func() { go p.readLines() })

	// a line read for an abandoned capture is delivered here instead of
	// issuing a fresh read
	select {
	case res := <-p.readResp:
		return res.line, res.err
	case p.readReq <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-p.readResp:
		return res.line, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// readLines is the sole reader of the input stream. It reads one line
// per request token, which keeps an abandoned capture from consuming
// input nobody asked for.
func (p *Presenter) readLines() {
	for range p.readReq {
		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			p.readResp <- readResult{err: err}
			continue
		}
		p.readResp <- readResult{line: strings.TrimRight(line, "\r\n")}
	}
}

func (p *Presenter) tick(gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		p.mu.Lock()
		if p.gen == gen && p.mode == modeLoading {
			p.frame = (p.frame + 1) % len(frames)
			p.renderLocked()
		}
		p.mu.Unlock()
	}
}

func (p *Presenter) expire(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || p.mode != modeLoading {
		return
	}
	p.stopLoadingLocked()
}

func (p *Presenter) stopLoadingLocked() {
	if p.mode != modeLoading {
		return
	}
	close(p.stopTick)
	p.stopTick = nil
	if p.deadline != nil {
		p.deadline.Stop()
		p.deadline = nil
	}
	p.clearLocked()
	p.mode = modeIdle
	p.text = ""
}

func (p *Presenter) renderLocked() {
	if p.plain {
		return
	}
	fmt.Fprintf(p.out, "%s%s %s", eraseLine, frames[p.frame], p.text)
}

func (p *Presenter) clearLocked() {
	if p.plain {
		return
	}
	fmt.Fprint(p.out, eraseLine)
}
