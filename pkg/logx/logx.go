// Package logx adds debug gating to the standard logger and forwards log
// lines to the event stream.
package logx

import (
	"bytes"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boristopalov/tutor/pkg/core"
)

var verbose atomic.Bool

// SetVerbose turns debug lines on or off.
func SetVerbose(v bool) {
	verbose.Store(v)
}

func Verbose() bool {
	return verbose.Load()
}

// Debugf logs only in verbose mode.
func Debugf(format string, args ...any) {
	if verbose.Load() {
		log.Printf("DEBUG "+format, args...)
	}
}

// Warnf logs a warning line.
func Warnf(format string, args ...any) {
	log.Printf("Warning: "+format, args...)
}

// EventWriter is an io.Writer that turns each complete line into a log
// event. Combine it with io.MultiWriter to keep the terminal output.
type EventWriter struct {
	notifier core.Notifier

	mu  sync.Mutex
	buf bytes.Buffer
}

func NewEventWriter(n core.Notifier) *EventWriter {
	return &EventWriter{notifier: n}
}

func (w *EventWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf.Write(p)
	var lines []string
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		lines = append(lines, strings.TrimRight(line, "\r\n"))
	}
	w.mu.Unlock()

	for _, line := range lines {
		if line == "" {
			continue
		}
		w.notifier.Notify(core.Event{Kind: core.EventLog, Message: line, Timestamp: time.Now()})
	}
	return len(p), nil
}
