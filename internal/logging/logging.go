// Package logging provides utilities for structured logging across the system.
//
// Design principles:
//   - Logging is dependency-injected, never global
//   - Each component owns its own scoped logger
//   - Logger scoping happens once at construction time
//   - slog.With() is used to attach default attributes
//   - If no logger is provided, a discard logger is used
//
// Global configuration (output format, level, destination) belongs only in main().
// Components must never call slog.SetDefault or access global loggers.
//
// Logging is intentionally sparse: lifecycle boundaries and write
// operations are the intended log points, never per-version loops.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// discardHandler is a handler that discards all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
// Use this as a default when no logger is provided.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns the provided logger if non-nil, otherwise returns a discard logger.
// This is the standard pattern for optional logger parameters:
//
//	func NewComponent(logger *slog.Logger) *Component {
//	    logger = logging.Default(logger)
//	    return &Component{logger: logger.With("component", "name")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// ParseLevel maps debug, info, warn and error (case-insensitive) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// ParseComponentLevels parses "catalog=debug,tags=info" into per-component levels.
func ParseComponentLevels(s string) (map[string]slog.Level, error) {
	levels := map[string]slog.Level{}
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, lvl, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid component level %q: expected component=level", part)
		}
		level, err := ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", name, err)
		}
		levels[strings.TrimSpace(name)] = level
	}
	return levels, nil
}

// New builds the process logger. format is "text" or "json"; level is the
// default level, which components can override through the returned filter.
func New(w io.Writer, format, level string) (*slog.Logger, *ComponentFilterHandler, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	// The base handler lets everything through; the filter decides.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var base slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		base = slog.NewTextHandler(w, opts)
	case "json":
		base = slog.NewJSONHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q: expected text or json", format)
	}
	filter := NewComponentFilterHandler(base, lvl)
	return slog.New(filter), filter, nil
}

// componentLevels is shared by a filter handler and all handlers derived from it.
type componentLevels struct {
	mu     sync.RWMutex
	levels map[string]slog.Level
}

// ComponentFilterHandler filters records by the level configured for their
// "component" attribute, falling back to a default level. Levels can be
// changed at runtime and apply to every logger derived from the handler.
type ComponentFilterHandler struct {
	next         slog.Handler
	defaultLevel slog.Level
	shared       *componentLevels
	component    string // from WithAttrs, if any
}

// NewComponentFilterHandler wraps next with per-component level filtering.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		next:         next,
		defaultLevel: defaultLevel,
		shared:       &componentLevels{levels: map[string]slog.Level{}},
	}
}

// SetLevel overrides the level for one component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.shared.mu.Lock()
	defer h.shared.mu.Unlock()
	h.shared.levels[component] = level
}

// ClearLevel removes a component override.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.shared.mu.Lock()
	defer h.shared.mu.Unlock()
	delete(h.shared.levels, component)
}

// Level returns the effective level for component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	h.shared.mu.RLock()
	defer h.shared.mu.RUnlock()
	if lvl, ok := h.shared.levels[component]; ok {
		return lvl
	}
	return h.defaultLevel
}

// DefaultLevel returns the level used for components without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	return h.defaultLevel
}

// Enabled reports whether any component could accept level. The precise
// decision happens in Handle once the record's attributes are known.
func (h *ComponentFilterHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.component != "" {
		return level >= h.Level(h.component)
	}
	h.shared.mu.RLock()
	defer h.shared.mu.RUnlock()
	minLevel := h.defaultLevel
	for _, lvl := range h.shared.levels {
		minLevel = min(minLevel, lvl)
	}
	return level >= minLevel
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "component" {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.Level(component) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	for _, a := range attrs {
		if a.Key == "component" {
			c.component = a.Value.String()
		}
	}
	return &c
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	return &c
}
