package terminal

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// safeBuffer is an in-memory io.Writer safe to read while the spinner
// goroutine writes.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func currentMode(p *Presenter) mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func currentText(p *Presenter) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

func TestWriteDirectIdle(t *testing.T) {
	out := &safeBuffer{}
	p := New(out, strings.NewReader(""))

	p.WriteDirect("plain text, no escapes\n")

	assert.Equal(t, "plain text, no escapes\n", out.String())
}

func TestStartLoadingRenders(t *testing.T) {
	out := &safeBuffer{}
	p := New(out, strings.NewReader(""))

	p.StartLoading("Working", 0)
	defer p.StopLoading()

	assert.Contains(t, out.String(), "| Working")
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "/ Working")
	}, 2*time.Second, 10*time.Millisecond, "expected the frame to advance")
}

func TestStopLoadingErasesLine(t *testing.T) {
	out := &safeBuffer{}
	p := New(out, strings.NewReader(""))

	p.StartLoading("Working", 0)
	p.StopLoading()

	assert.True(t, strings.HasSuffix(out.String(), eraseLine))
	assert.Equal(t, modeIdle, currentMode(p))

	// stopping again is a no-op
	before := out.String()
	p.StopLoading()
	assert.Equal(t, before, out.String())
}

func TestStartLoadingReplacesIndicator(t *testing.T) {
	out := &safeBuffer{}
	p := New(out, strings.NewReader(""))

	p.StartLoading("alpha", 0)
	time.Sleep(2 * tickInterval)
	p.StartLoading("beta", 0)
	defer p.StopLoading()

	mark := len(out.String())
	require.Eventually(t, func() bool {
		return strings.Contains(out.String()[mark:], "beta")
	}, 2*time.Second, 10*time.Millisecond, "expected the new indicator to keep animating")
	assert.NotContains(t, out.String()[mark:], "alpha", "expected the old redraw cycle to be gone")
}

func TestLoadingDeadline(t *testing.T) {
	out := &safeBuffer{}
	p := New(out, strings.NewReader(""))

	p.StartLoading("Working", 80*time.Millisecond)

	require.Eventually(t, func() bool {
		return currentMode(p) == modeIdle
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, strings.HasSuffix(out.String(), eraseLine))
}

func TestLoadingDeadlineSupersededByRestart(t *testing.T) {
	out := &safeBuffer{}
	p := New(out, strings.NewReader(""))

	p.StartLoading("first", 60*time.Millisecond)
	p.StartLoading("second", 0)
	defer p.StopLoading()

	// the first indicator's deadline fires here and must not dismiss
	// the second
	time.Sleep(250 * time.Millisecond)

	assert.Equal(t, modeLoading, currentMode(p))
	assert.Equal(t, "second", currentText(p))
}

func TestWriteDirectWhileLoading(t *testing.T) {
	out := &safeBuffer{}
	p := New(out, strings.NewReader(""))

	p.StartLoading("Busy", 0)
	defer p.StopLoading()
	p.WriteDirect("hello")

	s := out.String()
	i := strings.Index(s, "hello\n")
	require.GreaterOrEqual(t, i, 0, "direct text should be written on its own line")
	assert.True(t, strings.HasPrefix(s[i+len("hello\n"):], eraseLine), "status line should be repainted after the text")
	assert.True(t, strings.HasSuffix(out.String(), " Busy"), "status line should survive the write")
	assert.Equal(t, modeLoading, currentMode(p))
}

func TestCaptureLine(t *testing.T) {
	ctx := context.Background()
	out := &safeBuffer{}
	p := New(out, strings.NewReader("hello\nworld\n"))

	p.StartLoading("Waiting", 0)

	line, err := p.CaptureLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", line)
	assert.Equal(t, modeIdle, currentMode(p), "capture should dismiss the indicator")
	assert.True(t, strings.HasSuffix(out.String(), eraseLine))

	line, err = p.CaptureLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "world", line)
}

func TestCaptureLineSeparators(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		input   string
		expLine string
	}{
		{name: "unix newline", input: "line\n", expLine: "line"},
		{name: "carriage return newline", input: "line\r\n", expLine: "line"},
		{name: "end of input without newline", input: "partial", expLine: "partial"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := New(&safeBuffer{}, strings.NewReader(c.input))
			line, err := p.CaptureLine(ctx)
			require.NoError(t, err)
			assert.Equal(t, c.expLine, line)
		})
	}
}

func TestCaptureLineEndOfInput(t *testing.T) {
	p := New(&safeBuffer{}, strings.NewReader(""))

	_, err := p.CaptureLine(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestCaptureLineCanceled(t *testing.T) {
	in, inW := io.Pipe()
	p := New(&safeBuffer{}, in)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.CaptureLine(ctx)
	require.Error(t, err)

	// the pending read keeps the input stream intact: the line written
	// after the canceled capture goes to the next capture
	go func() {
		inW.Write([]byte("late\n"))
	}()
	line, err := p.CaptureLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", line)
}

func TestPlainOutput(t *testing.T) {
	out := &safeBuffer{}
	p := New(out, strings.NewReader(""), WithPlainOutput())

	p.StartLoading("Working", 0)
	time.Sleep(2 * tickInterval)
	assert.Empty(t, out.String(), "plain output should render no status line")

	p.WriteDirect("raw")
	assert.Equal(t, "raw", out.String(), "direct writes pass through unframed")

	p.StopLoading()
	assert.Equal(t, "raw", out.String())
}
