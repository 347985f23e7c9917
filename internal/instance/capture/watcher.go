package capture

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"sync"

	"github.com/Iron-Ham/camrig/internal/errors"
	"github.com/Iron-Ham/camrig/internal/util"
)

// ErrStreamClosed is returned by Await when the stream ends before a
// matching line arrives. For a recorder this means its process exited.
var ErrStreamClosed = errors.New("output stream closed")

const (
	// DefaultTranscriptSize is the number of raw output bytes kept for
	// diagnostics.
	DefaultTranscriptSize = 16 * 1024

	// maxPendingLines bounds the unmatched lines held between two Awaits.
	maxPendingLines = 4096
)

// Watcher reads a live output stream line by line and lets callers wait for
// the first line matching a pattern. Matches consume the stream: each Await
// only considers lines that arrived after the previous match. Lines are
// matched as a terminal would display them (see util.CleanLine); Tail keeps
// the raw bytes.
//
// One goroutine pumps the stream until it returns an error (EOF, or EIO when
// a pty's child exits). The Watcher never closes the reader; its owner does,
// which ends the pump.
//
// Await is not meant to be called concurrently on the same Watcher. Every
// other method is safe for concurrent use.
type Watcher struct {
	transcript *RingBuffer

	mu      sync.Mutex
	pending []string
	changed chan struct{}
	closed  bool
	readErr error
	onLine  func(string)

	done chan struct{}
}

// NewWatcher starts pumping r. transcriptSize <= 0 selects
// DefaultTranscriptSize.
func NewWatcher(r io.Reader, transcriptSize int) *Watcher {
	if transcriptSize <= 0 {
		transcriptSize = DefaultTranscriptSize
	}
	w := &Watcher{
		transcript: NewRingBuffer(transcriptSize),
		changed:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	go w.pump(r)
	return w
}

// SetOnLine registers a callback invoked from the pump goroutine for every
// complete line.
func (w *Watcher) SetOnLine(fn func(line string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onLine = fn
}

func (w *Watcher) pump(r io.Reader) {
	defer close(w.done)

	br := bufio.NewReader(io.TeeReader(r, w.transcript))
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			w.push(util.CleanLine(line))
		}
		if err != nil {
			w.finish(err)
			return
		}
	}
}

func (w *Watcher) push(line string) {
	w.mu.Lock()
	w.pending = append(w.pending, line)
	if len(w.pending) > maxPendingLines {
		w.pending = w.pending[len(w.pending)-maxPendingLines:]
	}
	onLine := w.onLine
	w.notifyLocked()
	w.mu.Unlock()

	if onLine != nil {
		onLine(line)
	}
}

func (w *Watcher) finish(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if err != io.EOF {
		w.readErr = err
	}
	w.notifyLocked()
}

// notifyLocked wakes every waiter. Caller must hold w.mu.
func (w *Watcher) notifyLocked() {
	close(w.changed)
	w.changed = make(chan struct{})
}

// Await blocks until a line matching re arrives, the stream closes, or ctx
// is done. On a match it returns the line and discards everything up to and
// including it. Lines already buffered are considered first.
func (w *Watcher) Await(ctx context.Context, re *regexp.Regexp) (string, error) {
	for {
		w.mu.Lock()
		for i, line := range w.pending {
			if re.MatchString(line) {
				w.pending = w.pending[i+1:]
				w.mu.Unlock()
				return line, nil
			}
		}
		if w.closed {
			w.mu.Unlock()
			return "", ErrStreamClosed
		}
		changed := w.changed
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-changed:
		}
	}
}

// Done is closed once the pump goroutine has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Closed reports whether the stream has ended.
func (w *Watcher) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Err returns the read error that ended the stream, or nil for a clean EOF
// or a stream that is still open.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readErr
}

// Tail returns the most recent raw output.
func (w *Watcher) Tail() string {
	return w.transcript.String()
}
