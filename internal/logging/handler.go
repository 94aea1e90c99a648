package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	// MaxLineLength is the maximum length of a single output line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept for the report.
	MaxBufferedLines = 100
)

// OutputHandler logs the lines a child wrote to a captured stream and keeps
// the most recent ones for the run report and the batch summary.
type OutputHandler struct {
	stream  string
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	mu     sync.Mutex
}

// NewOutputHandler creates a handler for one stream ("stdout" or "stderr").
// A nil logger only collects lines.
func NewOutputHandler(stream string, logger *slog.Logger, verbose bool) *OutputHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OutputHandler{
		stream:  stream,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// HandleBytes splits captured output into lines and handles each one.
// A trailing line without a newline is handled too.
func (h *OutputHandler) HandleBytes(data []byte) int {
	lines := 0
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}
		h.HandleLine(strings.TrimRight(string(line), "\r"))
		lines++
	}
	return lines
}

// HandleLine processes a single line of output.
func (h *OutputHandler) HandleLine(line string) {
	line = truncateLine(line)

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.mu.Unlock()

	h.logLine(line)
}

// truncateLine cuts line to at most MaxLineLength bytes without splitting
// a UTF-8 sequence.
func truncateLine(line string) string {
	if len(line) <= MaxLineLength {
		return line
	}
	cut := MaxLineLength
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut] + "...(truncated)"
}

// logLine logs the line at a level derived from its content.
func (h *OutputHandler) logLine(line string) {
	level := classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(context.Background(), level, "child_output",
		"stream", h.stream,
		"line", line,
	)
}

// classifyLine picks warn for lines that look like failures, debug otherwise.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)
	for _, pattern := range ErrorPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return slog.LevelWarn
		}
	}
	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}
	return lines
}

// ErrorPatterns are matched case-insensitively against output lines.
var ErrorPatterns = []string{
	"error",
	"fatal",
	"panic",
	"permission denied",
	"no such file",
	"warning",
}

// CountErrors counts, per pattern, the buffered lines that contain it.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		for _, pattern := range ErrorPatterns {
			if strings.Contains(lower, pattern) {
				counts[pattern]++
			}
		}
	}
	return counts
}
