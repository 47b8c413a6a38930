package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// LogSink stores a run's log records.
type LogSink interface {
	AppendLog(ctx context.Context, runID uuid.UUID, ts time.Time, level, message string, metadata []byte) error
}

// DBLogHandler is a slog.Handler that writes records to research_logs, so a
// run's progress can be followed through the API while it executes.
type DBLogHandler struct {
	sink  LogSink
	runID uuid.UUID
	level slog.Leveler
	attrs []slog.Attr
	group string
}

func NewDBLogHandler(sink LogSink, runID uuid.UUID, level slog.Leveler) *DBLogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &DBLogHandler{sink: sink, runID: runID, level: level}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	meta := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(meta, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(meta, h.qualify(a))
		return true
	})

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		metaJSON = []byte("{}")
	}

	// Logs outlive the request that triggered them.
	return h.sink.AppendLog(context.WithoutCancel(ctx), h.runID, r.Time, r.Level.String(), r.Message, metaJSON)
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.qualify(a))
	}
	return &next
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	next.group = name
	return &next
}

func (h *DBLogHandler) qualify(a slog.Attr) slog.Attr {
	if h.group == "" {
		return a
	}
	a.Key = h.group + "." + a.Key
	return a
}

// addAttr flattens groups and renders errors as strings.
func addAttr(meta map[string]any, a slog.Attr) {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		for _, ga := range v.Group() {
			if a.Key != "" {
				ga.Key = a.Key + "." + ga.Key
			}
			addAttr(meta, ga)
		}
	case slog.KindDuration:
		meta[a.Key] = v.Duration().String()
	default:
		if err, ok := v.Any().(error); ok {
			meta[a.Key] = err.Error()
			return
		}
		meta[a.Key] = v.Any()
	}
}
