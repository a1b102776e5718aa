package bridge

import (
	"strings"
	"sync"
)

// Ring buffer bounds: whichever limit is hit first evicts from the front.
const (
	ringMaxBytes = 256 * 1024
	ringMaxLines = 500
)

// ringBuffer retains the tail of a terminal output stream as lines, so a
// subscriber joining mid-stream can be caught up with one replay message.
type ringBuffer struct {
	mu      sync.Mutex
	lines   []string
	partial strings.Builder
	bytes   int
}

func newRingBuffer() *ringBuffer {
	return &ringBuffer{}
}

// Append folds a chunk of output into the buffer. Incomplete trailing
// lines are held until their newline arrives.
func (r *ringBuffer) Append(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.partial.String() + string(data)
	r.partial.Reset()
	r.bytes -= len(s) - len(data)

	parts := strings.Split(s, "\n")
	last := parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		line = strings.TrimRight(line, "\r")
		r.lines = append(r.lines, line)
		r.bytes += len(line)
	}
	r.partial.WriteString(last)
	r.bytes += len(last)

	r.evict()
}

func (r *ringBuffer) evict() {
	drop := 0
	for drop < len(r.lines) &&
		(len(r.lines)-drop > ringMaxLines || r.bytes > ringMaxBytes) {
		r.bytes -= len(r.lines[drop])
		drop++
	}
	if drop > 0 {
		r.lines = append([]string(nil), r.lines[drop:]...)
	}
}

// Lines returns the retained lines, including any incomplete last line.
func (r *ringBuffer) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.lines)+1)
	out = append(out, r.lines...)
	if r.partial.Len() > 0 {
		out = append(out, r.partial.String())
	}
	return out
}

// Len reports the retained byte count.
func (r *ringBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}
