package terminal

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// DefaultBufferSize bounds the unread output kept per session.
	DefaultBufferSize = 1024 * 1024

	// An incomplete trailing code point or escape sequence is withheld from
	// reads until this long has passed without new output.
	inertAfter = 250 * time.Millisecond

	recentSize = 4096
)

// Buffer accumulates PTY output between reads. It is bounded: when full,
// the oldest bytes are dropped so producers never block. Drained text is
// always valid UTF-8 and never ends inside a code point or an escape
// sequence.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	max      int
	strip    bool
	stripper escapeStripper
	dropped  int
	recent   []byte

	lastAppend time.Time
	changed    chan struct{}
	now        func() time.Time
}

// NewBuffer creates a buffer holding at most size bytes. With strip set,
// escape sequences are removed as output arrives.
func NewBuffer(size int, strip bool) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{
		max:     size,
		strip:   strip,
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// Write appends p. It never blocks and never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.strip {
		p = b.stripper.strip(p)
	}
	b.push(p)
	b.lastAppend = b.now()

	close(b.changed)
	b.changed = make(chan struct{})
	return n, nil
}

// push appends to the queue, discarding from the front on overflow.
func (b *Buffer) push(p []byte) {
	if len(p) == 0 {
		return
	}
	b.remember(p)

	if over := len(b.data) + len(p) - b.max; over > 0 {
		if over >= len(b.data) {
			skip := over - len(b.data)
			b.dropped += len(b.data) + skip
			b.data = append(b.data[:0], p[skip:]...)
		} else {
			b.dropped += over
			b.data = append(b.data[over:], p...)
		}
		// Resynchronize on a code point boundary.
		for i := 0; i < utf8.UTFMax-1 && len(b.data) > 0 && !utf8.RuneStart(b.data[0]); i++ {
			b.data = b.data[1:]
			b.dropped++
		}
		return
	}
	b.data = append(b.data, p...)
}

func (b *Buffer) remember(p []byte) {
	if len(p) >= recentSize {
		b.recent = append(b.recent[:0], p[len(p)-recentSize:]...)
		return
	}
	if over := len(b.recent) + len(p) - recentSize; over > 0 {
		b.recent = append(b.recent[:0], b.recent[over:]...)
	}
	b.recent = append(b.recent, p...)
}

// Drain removes and returns up to limit bytes of text along with the number
// of bytes dropped to overflow since the previous drain. With final set, any
// withheld tail is released as well; use it once the producer has stopped.
func (b *Buffer) Drain(limit int, final bool) (string, int) {
	if limit < utf8.UTFMax {
		limit = utf8.UTFMax
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	inert := final || b.now().Sub(b.lastAppend) >= inertAfter
	if inert {
		if rest := b.stripper.flushInert(); len(rest) > 0 {
			b.push(rest)
		}
	}

	text, n := scanText(b.data, limit, inert)
	b.data = b.data[n:]
	if len(b.data) == 0 {
		b.data = nil
	}

	dropped := b.dropped
	b.dropped = 0
	return text, dropped
}

// Changed returns a channel closed by the next Write.
func (b *Buffer) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changed
}

// Len reports the number of unread bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) + len(b.stripper.pending)
}

// Recent returns the last few KiB of output, read or not.
func (b *Buffer) Recent() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.recent
	for i := 0; i < utf8.UTFMax-1 && len(p) > 0 && !utf8.RuneStart(p[0]); i++ {
		p = p[1:]
	}
	return strings.ToValidUTF8(string(p), string(utf8.RuneError))
}

// scanText copies whole tokens (code points and escape sequences) from p
// while the output stays within limit bytes. It returns the text and how many
// bytes of p were consumed. Unless inert, an incomplete trailing token stops
// the scan so it can be completed by later output.
func scanText(p []byte, limit int, inert bool) (string, int) {
	var sb strings.Builder
	i := 0
	for i < len(p) {
		c := p[i]
		switch {
		case c == esc:
			n, complete := escapeLen(p[i:])
			if !complete {
				if !inert {
					return sb.String(), i
				}
				n = 1
			}
			if sb.Len()+n > limit {
				if sb.Len() > 0 {
					return sb.String(), i
				}
				// Larger than a whole read: pass the ESC through alone.
				n = 1
			}
			sb.Write(p[i : i+n])
			i += n

		case c < utf8.RuneSelf:
			if sb.Len()+1 > limit {
				return sb.String(), i
			}
			sb.WriteByte(c)
			i++

		default:
			if !utf8.FullRune(p[i:]) && !inert {
				return sb.String(), i
			}
			r, size := utf8.DecodeRune(p[i:])
			width := size
			if r == utf8.RuneError && size == 1 {
				width = utf8.RuneLen(utf8.RuneError)
			}
			if sb.Len()+width > limit {
				return sb.String(), i
			}
			if width != size {
				sb.WriteRune(utf8.RuneError)
			} else {
				sb.Write(p[i : i+size])
			}
			i += size
		}
	}
	return sb.String(), i
}
