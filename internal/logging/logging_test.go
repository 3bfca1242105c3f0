package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew_FormatSelection(t *testing.T) {
	var buf bytes.Buffer

	New("info", FormatJSON, &buf).Info("hello", slog.Int("n", 1))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "hello", decoded["msg"])

	buf.Reset()
	New("info", FormatText, &buf).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")

	// A non-file writer under auto is treated like a terminal.
	buf.Reset()
	New("info", FormatAuto, &buf).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer

	logger := New("warn", FormatText, &buf)
	logger.Info("quiet")
	logger.Warn("loud")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

// --- CallbackHandler ---

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) add(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Event(nil), s.events...)
}

func TestCallbackHandler_ForwardsEvents(t *testing.T) {
	sink := &eventSink{}
	logger := slog.New(NewCallbackHandler(sink.add, slog.LevelDebug))

	logger.With(slog.String(CategoryKey, "drive.client")).
		WithGroup("upload").
		Warn("slow block", slog.Int("index", 3), slog.Group("timing", slog.Int64("ms", 900)))

	events := sink.all()
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, EventWarning, ev.Level)
	assert.Equal(t, "slow block", ev.Message)
	assert.Equal(t, "drive.client", ev.Category)
	assert.Equal(t, int64(3), ev.Attrs["upload.index"])
	assert.Equal(t, int64(900), ev.Attrs["upload.timing.ms"])
}

func TestCallbackHandler_LevelMapping(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  uint8
	}{
		{slog.LevelDebug - 4, EventTrace},
		{slog.LevelDebug, EventDebug},
		{slog.LevelInfo, EventInfo},
		{slog.LevelWarn, EventWarning},
		{slog.LevelError, EventError},
		{slog.LevelError + 4, EventCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, eventLevel(tt.level), "level %v", tt.level)
	}
}

func TestCallbackHandler_BelowLevelDropped(t *testing.T) {
	sink := &eventSink{}
	logger := slog.New(NewCallbackHandler(sink.add, slog.LevelWarn))

	logger.Info("ignored")
	logger.Error("kept")

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "kept", events[0].Message)
}

func TestProvider_CategoriesAndClose(t *testing.T) {
	sink := &eventSink{}
	p := NewProvider(sink.add, slog.LevelInfo)

	p.Logger("session").Info("begin")
	p.Logger("transfer").Info("chunk", slog.Int("n", 1))

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, "session", events[0].Category)
	assert.Equal(t, "transfer", events[1].Category)
	assert.NotContains(t, events[1].Attrs, CategoryKey)

	logger := p.Logger("late")
	require.NoError(t, p.Close())
	logger.Info("after close")

	assert.Len(t, sink.all(), 2)
}

func TestEvent_JSON(t *testing.T) {
	data, err := json.Marshal(Event{Level: EventInfo, Message: "m", Category: "c"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":2,"message":"m","category":"c"}`, string(data))
}
