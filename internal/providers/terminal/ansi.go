package terminal

import "bytes"

const (
	esc = 0x1b
	bel = 0x07

	// Longest CSI or nF sequence accepted before the ESC is treated as a
	// lone control byte.
	maxControlLen = 256
	// Longest OSC/DCS/SOS/PM/APC string accepted before the same fallback.
	maxStringLen = 4096
)

// escapeLen reports the length of the escape sequence starting at p[0],
// which must be ESC. complete is false when p ends before the sequence does.
// Malformed or oversized sequences report (1, true): the ESC stands alone.
func escapeLen(p []byte) (n int, complete bool) {
	if len(p) < 2 {
		return 0, false
	}
	switch b := p[1]; {
	case b == '[':
		return csiLen(p)
	case b == ']' || b == 'P' || b == 'X' || b == '^' || b == '_':
		return stringSeqLen(p)
	case b >= 0x20 && b <= 0x2f:
		// nF: intermediate bytes then one final byte, e.g. ESC ( B
		for i := 2; i < len(p); i++ {
			c := p[i]
			switch {
			case c >= 0x20 && c <= 0x2f:
				if i >= maxControlLen {
					return 1, true
				}
			case c >= 0x30 && c <= 0x7e:
				return i + 1, true
			default:
				return 1, true
			}
		}
		return 0, false
	case b >= 0x30 && b <= 0x7e:
		return 2, true
	}
	return 1, true
}

// csiLen scans ESC [ params intermediates final.
func csiLen(p []byte) (int, bool) {
	for i := 2; i < len(p); i++ {
		c := p[i]
		switch {
		case c >= 0x40 && c <= 0x7e:
			return i + 1, true
		case c >= 0x20 && c <= 0x3f:
			if i >= maxControlLen {
				return 1, true
			}
		default:
			return 1, true
		}
	}
	return 0, false
}

// stringSeqLen scans a string sequence terminated by BEL or ST (ESC \).
func stringSeqLen(p []byte) (int, bool) {
	for i := 2; i < len(p); i++ {
		switch p[i] {
		case bel:
			return i + 1, true
		case esc:
			if i+1 >= len(p) {
				return 0, false
			}
			if p[i+1] == '\\' {
				return i + 2, true
			}
			// A new escape cuts the string short.
			return i, true
		}
		if i >= maxStringLen {
			return 1, true
		}
	}
	return 0, false
}

// escapeStripper removes escape sequences from a stream delivered in
// arbitrary chunks. A sequence split across chunks is held in pending until
// a later chunk completes it or flushInert releases it.
type escapeStripper struct {
	pending []byte
}

func (s *escapeStripper) strip(p []byte) []byte {
	if len(s.pending) > 0 {
		joined := make([]byte, 0, len(s.pending)+len(p))
		joined = append(joined, s.pending...)
		p = append(joined, p...)
		s.pending = nil
	}

	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); {
		if p[i] != esc {
			j := bytes.IndexByte(p[i:], esc)
			if j < 0 {
				out = append(out, p[i:]...)
				break
			}
			out = append(out, p[i:i+j]...)
			i += j
			continue
		}
		n, complete := escapeLen(p[i:])
		if !complete {
			s.pending = append(s.pending, p[i:]...)
			break
		}
		i += n
	}
	return out
}

// flushInert gives up on a pending sequence. The ESC is dropped and the rest
// is returned as ordinary text.
func (s *escapeStripper) flushInert() []byte {
	if len(s.pending) == 0 {
		return nil
	}
	rest := s.pending[1:]
	s.pending = nil
	return rest
}
