package paperservice

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Notifier surfaces user-facing outcome messages. detail may be empty.
type Notifier interface {
	Success(title, detail string)
	Error(title, detail string)
	Info(title, detail string)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(l *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: l}
}

func (n *LogNotifier) Success(title, detail string) {
	n.logger.Info(title, slog.String("kind", "success"), slog.String("detail", detail))
}

func (n *LogNotifier) Error(title, detail string) {
	n.logger.Warn(title, slog.String("kind", "error"), slog.String("detail", detail))
}

func (n *LogNotifier) Info(title, detail string) {
	n.logger.Info(title, slog.String("kind", "info"), slog.String("detail", detail))
}

// WriterNotifier prints one line per notification, for terminals.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (n *WriterNotifier) print(mark, title, detail string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if detail == "" {
		fmt.Fprintf(n.w, "%s %s\n", mark, title)
		return
	}
	fmt.Fprintf(n.w, "%s %s: %s\n", mark, title, detail)
}

func (n *WriterNotifier) Success(title, detail string) { n.print("✓", title, detail) }
func (n *WriterNotifier) Error(title, detail string)   { n.print("✗", title, detail) }
func (n *WriterNotifier) Info(title, detail string)    { n.print("•", title, detail) }

// Notification is one recorded message.
type Notification struct {
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// RecordingNotifier keeps every notification in memory.
type RecordingNotifier struct {
	mu  sync.Mutex
	log []Notification
}

func (r *RecordingNotifier) add(kind, title, detail string) {
	r.mu.Lock()
	r.log = append(r.log, Notification{Kind: kind, Title: title, Detail: detail})
	r.mu.Unlock()
}

func (r *RecordingNotifier) Success(title, detail string) { r.add("success", title, detail) }
func (r *RecordingNotifier) Error(title, detail string)   { r.add("error", title, detail) }
func (r *RecordingNotifier) Info(title, detail string)    { r.add("info", title, detail) }

// All returns the notifications received so far.
func (r *RecordingNotifier) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.log...)
}

// Fanout delivers each notification to every notifier in order.
type Fanout []Notifier

func (f Fanout) Success(title, detail string) {
	for _, n := range f {
		n.Success(title, detail)
	}
}

func (f Fanout) Error(title, detail string) {
	for _, n := range f {
		n.Error(title, detail)
	}
}

func (f Fanout) Info(title, detail string) {
	for _, n := range f {
		n.Info(title, detail)
	}
}
