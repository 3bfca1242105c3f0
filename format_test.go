package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/drivesdk-go/internal/dispatch"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{4 * 1024 * 1024, "4.0 MiB"},
		{-1, "-"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, formatSize(tc.bytes), "formatSize(%d)", tc.bytes)
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(time.Time{}))

	old := time.Date(2019, time.March, 4, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "Mar  4  2019", formatTime(old))

	recent := time.Date(time.Now().Year(), time.January, 15, 9, 5, 0, 0, time.UTC)
	assert.Equal(t, "Jan 15 09:05", formatTime(recent))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"NAME", "SIZE"}, [][]string{
		{"a-long-name", "1 B"},
		{"b", "10 KiB"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"NAME         SIZE",
		"a-long-name  1 B",
		"b            10 KiB",
	}, lines)
}

func TestProgressPrinter(t *testing.T) {
	oldQuiet := flagQuiet
	t.Cleanup(func() { flagQuiet = oldQuiet })

	flagQuiet = false

	var buf bytes.Buffer

	p := &progressPrinter{verb: "Uploading", w: &buf}
	p.report(dispatch.Progress{Completed: 1024, Total: 4096})
	p.report(dispatch.Progress{Completed: 2048, Total: 4096})
	p.report(dispatch.Progress{Completed: 4096, Total: 4096})

	out := buf.String()
	assert.Contains(t, out, "Uploading: 1.0 KiB / 4.0 KiB")
	assert.NotContains(t, out, "2.0 KiB", "intermediate updates are throttled")
	assert.True(t, strings.HasSuffix(out, "4.0 KiB / 4.0 KiB\n"), "final update ends the line")

	buf.Reset()

	flagQuiet = true
	p.report(dispatch.Progress{Completed: 4096, Total: 4096})
	assert.Empty(t, buf.String())
}
