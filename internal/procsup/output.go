package procsup

import (
	"bytes"
	"strings"
	"sync"
)

// defaultOutputLimit caps captured background output per process.
const defaultOutputLimit = 1 << 20

// OutputBuffer is a concurrency-safe writer that keeps the last limit
// bytes written to it. It backs the Output of local and remote handles.
type OutputBuffer struct {
	mu      sync.Mutex
	buf     []byte
	limit   int
	dropped int64
}

// NewOutputBuffer returns a buffer keeping at most limit bytes; limit <= 0
// selects 1 MiB.
func NewOutputBuffer(limit int) *OutputBuffer {
	if limit <= 0 {
		limit = defaultOutputLimit
	}
	return &OutputBuffer{limit: limit}
}

func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		n := copy(b.buf, b.buf[over:])
		b.buf = b.buf[:n]
		b.dropped += int64(over)
	}
	return len(p), nil
}

// String returns the retained output.
func (b *OutputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// lineContaining returns the first complete or partial line holding text.
func lineContaining(output, text string) (string, bool) {
	for line := range strings.Lines(output) {
		if strings.Contains(line, text) {
			return strings.TrimRight(line, "\r\n"), true
		}
	}
	return "", false
}

// Tail returns at most the last n lines of output.
func Tail(output string, n int) string {
	output = strings.TrimRight(output, "\n")
	if output == "" || n <= 0 {
		return ""
	}
	idx := len(output)
	for range n {
		i := strings.LastIndexByte(output[:idx], '\n')
		if i < 0 {
			return output
		}
		idx = i
	}
	return output[idx+1:]
}

// countLines counts the lines of data containing text, like grep -c.
func countLines(data []byte, text string) int {
	needle := []byte(text)
	count := 0
	for line := range bytes.Lines(data) {
		if bytes.Contains(line, needle) {
			count++
		}
	}
	return count
}
