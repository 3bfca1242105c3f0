package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/drivesdk-go/internal/dispatch"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatSize returns a human-readable IEC size string (e.g. "1.2 MiB").
func formatSize(bytes int64) string {
	if bytes < 0 {
		return "-"
	}

	return humanize.IBytes(uint64(bytes))
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// progressPrinter reports transfer progress on one status line, at most
// every progressInterval.
type progressPrinter struct {
	verb string
	w    io.Writer

	mu   sync.Mutex
	last time.Time
}

const progressInterval = 200 * time.Millisecond

func newProgressPrinter(verb string) *progressPrinter {
	return &progressPrinter{verb: verb, w: os.Stderr}
}

func (p *progressPrinter) report(prog dispatch.Progress) {
	if flagQuiet {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if prog.Completed < prog.Total && now.Sub(p.last) < progressInterval {
		return
	}

	p.last = now

	fmt.Fprintf(p.w, "\r%s: %s / %s", p.verb, formatSize(prog.Completed), formatSize(prog.Total))

	if prog.Completed >= prog.Total {
		fmt.Fprintln(p.w)
	}
}
