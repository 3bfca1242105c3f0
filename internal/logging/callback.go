package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// CategoryKey is the attribute that names an event's category. Loggers from
// Provider.Logger carry it; any logger can set it with With.
const CategoryKey = "category"

// Event levels as delivered to the foreign caller. The numbering follows the
// common trace(0)..critical(5) convention so hosts can map it directly.
const (
	EventTrace    uint8 = 0
	EventDebug    uint8 = 1
	EventInfo     uint8 = 2
	EventWarning  uint8 = 3
	EventError    uint8 = 4
	EventCritical uint8 = 5
)

// Event is one forwarded log record.
type Event struct {
	Level    uint8          `json:"level"`
	Message  string         `json:"message"`
	Category string         `json:"category"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

func eventLevel(l slog.Level) uint8 {
	switch {
	case l < slog.LevelDebug:
		return EventTrace
	case l < slog.LevelInfo:
		return EventDebug
	case l < slog.LevelWarn:
		return EventInfo
	case l < slog.LevelError:
		return EventWarning
	case l < slog.LevelError+4:
		return EventError
	default:
		return EventCritical
	}
}

// CallbackHandler is an slog.Handler that hands every record to a function.
// The sink is called synchronously on the logging goroutine, with no handler
// lock held.
type CallbackHandler struct {
	sink     func(Event)
	level    slog.Leveler
	category string
	prefix   string // dotted group path for attributes
	attrs    []slog.Attr
}

// NewCallbackHandler creates a handler forwarding records at or above level.
func NewCallbackHandler(sink func(Event), level slog.Leveler) *CallbackHandler {
	if level == nil {
		level = slog.LevelInfo
	}

	return &CallbackHandler{sink: sink, level: level}
}

// Enabled implements slog.Handler.
func (h *CallbackHandler) Enabled(_ context.Context, l slog.Level) bool {
	return h.sink != nil && l >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *CallbackHandler) Handle(_ context.Context, r slog.Record) error {
	ev := Event{
		Level:    eventLevel(r.Level),
		Message:  r.Message,
		Category: h.category,
	}

	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		ev.Attrs = make(map[string]any, len(h.attrs)+r.NumAttrs())
	}

	for _, a := range h.attrs {
		addAttr(ev.Attrs, "", a)
	}

	r.Attrs(func(a slog.Attr) bool {
		if a.Key == CategoryKey && h.prefix == "" {
			ev.Category = a.Value.String()
			return true
		}

		addAttr(ev.Attrs, h.prefix, a)

		return true
	})

	h.sink(ev)

	return nil
}

func addAttr(m map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addAttr(m, key, ga)
		}

		return
	}

	m[key] = a.Value.Any()
}

// WithAttrs implements slog.Handler. A top-level category attribute replaces
// the handler's category instead of becoming a plain attribute.
func (h *CallbackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()

	for _, a := range attrs {
		if a.Key == CategoryKey && h.prefix == "" {
			next.category = a.Value.String()
			continue
		}

		if h.prefix != "" {
			a = slog.Attr{Key: h.prefix + "." + a.Key, Value: a.Value}
		}

		next.attrs = append(next.attrs, a)
	}

	return next
}

// WithGroup implements slog.Handler.
func (h *CallbackHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	next := h.clone()
	if next.prefix == "" {
		next.prefix = name
	} else {
		next.prefix = strings.Join([]string{next.prefix, name}, ".")
	}

	return next
}

func (h *CallbackHandler) clone() *CallbackHandler {
	next := *h
	next.attrs = append([]slog.Attr(nil), h.attrs...)

	return &next
}

// Provider is the resource behind a logger-provider handle. It hands out
// category loggers that all forward to one sink.
type Provider struct {
	handler *CallbackHandler

	mu     sync.Mutex
	closed bool
}

// NewProvider creates a provider forwarding to sink.
func NewProvider(sink func(Event), level slog.Leveler) *Provider {
	p := &Provider{}

	// The sink is wrapped so Close can silence a caller whose callback state
	// is about to be released.
	p.handler = NewCallbackHandler(func(ev Event) {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()

		if !closed && sink != nil {
			sink(ev)
		}
	}, level)

	return p
}

// Logger returns a logger whose events carry category.
func (p *Provider) Logger(category string) *slog.Logger {
	return slog.New(p.handler).With(slog.String(CategoryKey, category))
}

// Handler returns the provider's root handler.
func (p *Provider) Handler() slog.Handler {
	return p.handler
}

// Close stops forwarding. Loggers already handed out become silent.
func (p *Provider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	return nil
}
