// Package audit records configuration changes applied through the control
// plane. Every entry goes to slog synchronously; when a trail writer is
// attached, entries are additionally appended to it as JSON lines from a
// background goroutine so the hot path never blocks on disk.
package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Entry is one recorded audit event.
type Entry struct {
	Time   time.Time      `json:"time"`
	Actor  string         `json:"actor"`
	Action string         `json:"action"`
	Target string         `json:"target,omitempty"`
	Cid    string         `json:"cid,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Logger provides dual-write audit logging: slog (sync) and an optional
// trail writer (async).
type Logger struct {
	w      io.Writer
	ch     chan Entry
	mu     sync.Mutex // guards closed + ch send atomically
	closed bool
	once   sync.Once
}

// New creates a Logger. A nil writer keeps the slog path only. The buffer
// parameter controls the async channel size.
func New(w io.Writer, buffer int) *Logger {
	if buffer <= 0 {
		buffer = 256
	}
	l := &Logger{w: w, ch: make(chan Entry, buffer)}
	go l.drain()
	return l
}

// Log records an audit event. The slog write is synchronous so audit data
// is never lost; the trail write is best-effort.
func (l *Logger) Log(actor, action, target, cid string, detail map[string]any) {
	attrs := []any{
		slog.String("actor", actor),
		slog.String("action", action),
	}
	if target != "" {
		attrs = append(attrs, slog.String("target", target))
	}
	if cid != "" {
		attrs = append(attrs, slog.String("cid", cid))
	}
	if detail != nil {
		attrs = append(attrs, slog.Any("detail", detail))
	}
	slog.Info("audit", attrs...)

	e := Entry{
		Time:   time.Now().UTC(),
		Actor:  actor,
		Action: action,
		Target: target,
		Cid:    cid,
		Detail: detail,
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	select {
	case l.ch <- e:
	default:
		slog.Warn("audit trail channel full, dropping entry", "action", action)
	}
	l.mu.Unlock()
}

func (l *Logger) drain() {
	for e := range l.ch {
		if l.w == nil {
			continue
		}
		line, err := json.Marshal(e)
		if err != nil {
			slog.Warn("audit entry marshal failed", "error", err, "action", e.Action)
			continue
		}
		line = append(line, '\n')
		if _, err := l.w.Write(line); err != nil {
			slog.Error("audit trail write failed", "error", err, "action", e.Action)
		}
	}
}

// Close drains remaining entries and closes the channel. Safe to call
// multiple times.
func (l *Logger) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.ch)
		l.mu.Unlock()
	})
}
