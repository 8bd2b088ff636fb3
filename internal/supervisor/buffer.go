package supervisor

import "bytes"

// DefaultMaxOutputBytes caps each captured stream when Options leaves it unset.
const DefaultMaxOutputBytes = 1 << 20

// OutputBuffer keeps the first max bytes written to it and silently drops
// the rest. It always reports a full write so the pipe keeps draining and
// the child never blocks on a full pipe. It is not safe for concurrent writers.
type OutputBuffer struct {
	buf       bytes.Buffer
	max       int64
	truncated bool
}

// NewOutputBuffer returns a buffer capped at max bytes.
func NewOutputBuffer(max int64) *OutputBuffer {
	if max <= 0 {
		max = DefaultMaxOutputBytes
	}
	return &OutputBuffer{max: max}
}

func (b *OutputBuffer) Write(p []byte) (int, error) {
	room := b.max - int64(b.buf.Len())
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *OutputBuffer) String() string {
	return b.buf.String()
}

// Truncated reports whether any bytes were dropped.
func (b *OutputBuffer) Truncated() bool {
	return b.truncated
}
