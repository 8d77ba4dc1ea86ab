package logger

import (
	"context"
	"log/slog"
	"strings"
)

// ComponentKey is the attribute used to scope per-component level overrides,
// e.g. logger.With(logger.ComponentKey, "proxy").
const ComponentKey = "component"

// LevelFilter is a parsed log-level expression. The zero entry is the base
// level; Overrides hold per-component levels from expressions like
// "info,labmand=debug".
type LevelFilter struct {
	Overrides map[string]slog.Level
	Base      slog.Level
}

// ParseLevelFilter accepts either a plain level ("debug") or a filter
// expression ("info,labmand=debug,proxy=trace").
func ParseLevelFilter(expr string) (LevelFilter, error) {
	filter := LevelFilter{Base: slog.LevelInfo}

	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, levelStr, scoped := strings.Cut(part, "=")
		if !scoped {
			level, err := parseLevel(part)
			if err != nil {
				return filter, err
			}
			filter.Base = level
			continue
		}

		level, err := parseLevel(levelStr)
		if err != nil {
			return filter, err
		}
		if filter.Overrides == nil {
			filter.Overrides = make(map[string]slog.Level)
		}
		filter.Overrides[strings.TrimSpace(name)] = level
	}

	return filter, nil
}

// MinLevel returns the lowest level any component can log at. Sink handlers
// are configured with this so overrides below the base level still emit.
func (f LevelFilter) MinLevel() slog.Level {
	min := f.Base
	for _, level := range f.Overrides {
		if level < min {
			min = level
		}
	}
	return min
}

// LevelFor returns the effective level for a component.
func (f LevelFilter) LevelFor(component string) slog.Level {
	if level, ok := f.Overrides[component]; ok {
		return level
	}
	return f.Base
}

// filterHandler applies per-component level overrides on top of an inner
// handler. The component is picked up from WithAttrs so child loggers built
// via logger.With carry their override.
type filterHandler struct {
	inner     slog.Handler
	filter    LevelFilter
	component string
}

func (h *filterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.filter.LevelFor(h.component)
}

func (h *filterHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.inner.Handle(ctx, record)
}

func (h *filterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == ComponentKey {
			component = a.Value.String()
		}
	}
	return &filterHandler{inner: h.inner.WithAttrs(attrs), filter: h.filter, component: component}
}

func (h *filterHandler) WithGroup(name string) slog.Handler {
	return &filterHandler{inner: h.inner.WithGroup(name), filter: h.filter, component: h.component}
}
