// Package command frames the host byte stream into commands and dispatches
// them to the relay and the LED strip.
package command

import "errors"

// Terminator ends every command on the wire.
const Terminator byte = '!'

// DefaultMaxLength caps a pending command.
const DefaultMaxLength = 4096

// ErrOverflow is returned by Append when a command outgrows the limit. The
// bytes up to the next terminator are discarded.
var ErrOverflow = errors.New("command overflow")

// Accumulator collects bytes until a terminator. It is not safe for
// concurrent use.
type Accumulator struct {
	buf        []byte
	max        int
	discarding bool
}

// NewAccumulator returns an accumulator holding at most max bytes; max <= 0
// lifts the limit.
func NewAccumulator(max int) *Accumulator {
	return &Accumulator{max: max}
}

func (a *Accumulator) IsTerminator(b byte) bool {
	return b == Terminator
}

func (a *Accumulator) Append(b byte) error {
	if a.discarding {
		return nil
	}
	if a.max > 0 && len(a.buf) >= a.max {
		a.buf = a.buf[:0]
		a.discarding = true
		return ErrOverflow
	}
	a.buf = append(a.buf, b)
	return nil
}

// Drain returns the pending command and leaves the accumulator empty.
func (a *Accumulator) Drain() []byte {
	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	a.buf = a.buf[:0]
	a.discarding = false
	return out
}

func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Overflowed reports whether the pending command was dropped.
func (a *Accumulator) Overflowed() bool {
	return a.discarding
}
