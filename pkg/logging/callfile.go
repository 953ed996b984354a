package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FanoutHandler duplicates records across multiple handlers.
type FanoutHandler struct {
	handlers []slog.Handler
}

func NewFanoutHandler(handlers ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{handlers: handlers}
}

func (f *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: out}
}

func (f *FanoutHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithGroup(name)
	}
	return &FanoutHandler{handlers: out}
}

// CallRouter mirrors records with a call_id attribute into a per-call log
// file at logs/calls/call_<call_id>[_<x_call_id>]_<yyyymmdd_hhmmss>.log.
// Files stay open until CloseCall runs at session teardown.
type CallRouter struct {
	dir   string
	level slog.Level

	mu    sync.Mutex
	sinks map[string]*callSink
	attrs []slog.Attr
}

type callSink struct {
	file    *os.File
	handler slog.Handler
}

func NewCallRouter(dir string, level slog.Level) *CallRouter {
	return &CallRouter{dir: dir, level: level, sinks: make(map[string]*callSink)}
}

func (c *CallRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= c.level
}

func (c *CallRouter) Handle(ctx context.Context, r slog.Record) error {
	callID, xCallID := c.identify(r)
	if callID == "" {
		return nil
	}
	sink, err := c.sinkFor(callID, xCallID)
	if err != nil {
		return err
	}
	return sink.handler.Handle(ctx, r)
}

func (c *CallRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *c
	clone.attrs = append(append([]slog.Attr(nil), c.attrs...), attrs...)
	return &clone
}

func (c *CallRouter) WithGroup(string) slog.Handler { return c }

// CloseCall flushes and removes the per-call file handle.
func (c *CallRouter) CloseCall(callID string) {
	c.mu.Lock()
	sink, ok := c.sinks[callID]
	if ok {
		delete(c.sinks, callID)
	}
	c.mu.Unlock()
	if ok {
		_ = sink.file.Close()
	}
}

// Close releases every open per-call file.
func (c *CallRouter) Close() {
	c.mu.Lock()
	sinks := c.sinks
	c.sinks = make(map[string]*callSink)
	c.mu.Unlock()
	for _, s := range sinks {
		_ = s.file.Close()
	}
}

func (c *CallRouter) identify(r slog.Record) (callID, xCallID string) {
	pick := func(a slog.Attr) {
		switch a.Key {
		case "call_id":
			callID = a.Value.String()
		case "x_call_id":
			xCallID = a.Value.String()
		}
	}
	for _, a := range c.attrs {
		pick(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		pick(a)
		return true
	})
	return callID, xCallID
}

func (c *CallRouter) sinkFor(callID, xCallID string) (*callSink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sink, ok := c.sinks[callID]; ok {
		return sink, nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, err
	}
	name := "call_" + sanitize(callID)
	if xCallID != "" {
		name += "_" + sanitize(xCallID)
	}
	name += "_" + time.Now().Format("20060102_150405") + ".log"
	file, err := os.OpenFile(filepath.Join(c.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	sink := &callSink{
		file:    file,
		handler: slog.NewTextHandler(file, &slog.HandlerOptions{Level: c.level}),
	}
	c.sinks[callID] = sink
	fmt.Fprintf(file, "=== call %s started at %s ===\n", callID, time.Now().Format(time.RFC3339))
	return sink, nil
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
