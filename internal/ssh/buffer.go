package ssh

import (
	"strings"
	"sync"
)

// shellBuffer collects shell output written by the session's stdout
// copier. Every write pokes the notify channel so a waiting Execute can
// re-check for a prompt.
type shellBuffer struct {
	mu     sync.Mutex
	buf    []byte
	notify chan struct{}
}

func newShellBuffer() *shellBuffer {
	return &shellBuffer{notify: make(chan struct{}, 1)}
}

func (b *shellBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return len(p), nil
}

func (b *shellBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Take returns the buffered text and empties the buffer.
func (b *shellBuffer) Take() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := string(b.buf)
	b.buf = b.buf[:0]
	return out
}

// Lines splits raw device output into lines with carriage returns
// removed.
func Lines(raw string) []string {
	return strings.Split(strings.ReplaceAll(raw, "\r", ""), "\n")
}

// StripFraming drops the echoed command (first line) and the trailing
// prompt (last line) from a raw response and rejoins the rest.
func StripFraming(raw string) string {
	lines := Lines(raw)
	if len(lines) <= 2 {
		return ""
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}
