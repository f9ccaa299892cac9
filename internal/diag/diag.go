// Package diag carries engine diagnostics: stage promotions, hardening
// failures, ghost validation failures and deoptimizations.
package diag

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Kind categorizes a diagnostic event.
type Kind string

const (
	KindPromotion        Kind = "promotion"
	KindHardeningFailure Kind = "hardening_failure"
	KindGhostValidation  Kind = "ghost_validation"
	KindDeoptimization   Kind = "deoptimization"
)

// Event is one diagnostic. Seq is the engine's logical clock value, never a
// wall-clock time, so traces are reproducible.
type Event struct {
	Seq      int64   `json:"seq" yaml:"seq"`
	Kind     Kind    `json:"kind" yaml:"kind"`
	Function string  `json:"function" yaml:"function"`
	From     string  `json:"from,omitempty" yaml:"from,omitempty"`
	To       string  `json:"to,omitempty" yaml:"to,omitempty"`
	Shape    string  `json:"shape,omitempty" yaml:"shape,omitempty"`
	Score    float64 `json:"score,omitempty" yaml:"score,omitempty"`
	Message  string  `json:"message,omitempty" yaml:"message,omitempty"`
}

// Sink receives diagnostics. Implementations must be safe for concurrent
// use; Emit must not block on the engine.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(context.Context, Event) {}

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// NewLogSink creates a sink that logs with l, or slog.Default() when nil.
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{Logger: l}
}

// Emit implements Sink.
func (s *LogSink) Emit(ctx context.Context, ev Event) {
	level := slog.LevelInfo
	switch ev.Kind {
	case KindHardeningFailure, KindDeoptimization:
		level = slog.LevelWarn
	case KindGhostValidation:
		level = slog.LevelDebug
	}
	attrs := []any{"seq", ev.Seq, "function", ev.Function}
	if ev.From != "" {
		attrs = append(attrs, "from", ev.From, "to", ev.To)
	}
	if ev.Shape != "" {
		attrs = append(attrs, "shape", ev.Shape)
	}
	if ev.Score != 0 {
		attrs = append(attrs, "score", ev.Score)
	}
	if ev.Message != "" {
		attrs = append(attrs, "message", ev.Message)
	}
	s.Logger.Log(ctx, level, string(ev.Kind), attrs...)
}

// Recorder keeps every event in memory, in emission order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		return []Event{}
	}
	return slices.Clone(r.events)
}

// Count returns the number of recorded events of kind k.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Multi fans an event out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}
