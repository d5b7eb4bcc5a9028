package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coreman2200/funtimes-dotstar/internal/strip"
)

// PowerOff is the command body that drops the relay.
var PowerOff = []byte("^poweroff")

// ErrSafeMode is returned when a safe mode trigger fired but the resetter
// came back, which only test resetters do.
var ErrSafeMode = errors.New("safe mode triggered")

type Relay interface {
	TurnOn() error
	TurnOff() error
}

type Strip interface {
	SendAllFrames(payload []byte) error
}

type Guard interface {
	PinEnabled() bool
	CommandEnabled() bool
	CheckPin() bool
	CheckCommand(cmd []byte) bool
}

// Observer is told about every dispatch outcome. It is called from the
// control loop and must not block.
type Observer interface {
	Observe(ev Event)
}

type EventKind string

const (
	EventPowerOff        EventKind = "poweroff"
	EventPayload         EventKind = "payload"
	EventOverflow        EventKind = "overflow"
	EventTransmitError   EventKind = "transmit_error"
	EventPayloadRejected EventKind = "payload_rejected"
	EventSafeMode        EventKind = "safemode"
)

type Event struct {
	Kind EventKind `json:"kind"`
	Len  int       `json:"len"`
	Err  string    `json:"error,omitempty"`
	Time time.Time `json:"time"`
}

// Dispatcher is the control loop. It owns the accumulator; the relay, strip
// and guard are handed in by the caller.
type Dispatcher struct {
	r     io.Reader
	acc   *Accumulator
	relay Relay
	strip Strip
	guard Guard
	obs   Observer
	one   [1]byte
}

type Option func(*Dispatcher)

func WithGuard(g Guard) Option {
	return func(d *Dispatcher) {
		d.guard = g
	}
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.obs = o
	}
}

// WithMaxLength bounds a pending command; n <= 0 removes the bound.
func WithMaxLength(n int) Option {
	return func(d *Dispatcher) {
		d.acc = NewAccumulator(n)
	}
}

// New builds a dispatcher reading commands from r. A read from r must return
// zero bytes, with a nil error or io.EOF, when its timeout expires.
func New(r io.Reader, relay Relay, strip Strip, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		r:     r,
		acc:   NewAccumulator(DefaultMaxLength),
		relay: relay,
		strip: strip,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Pending reports how many bytes wait for a terminator.
func (d *Dispatcher) Pending() int {
	return d.acc.Len()
}

// Run polls until ctx is done or a fatal error occurs. Cancellation is only
// seen between polls; a relay warm-up or a transmission always completes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := d.Poll(); err != nil {
			return err
		}
	}
}

// Poll checks the safe mode pin, then reads until the link goes quiet or one
// command has been dispatched.
func (d *Dispatcher) Poll() error {
	if d.guard != nil && d.guard.PinEnabled() && d.guard.CheckPin() {
		d.observe(Event{Kind: EventSafeMode})
		return ErrSafeMode
	}

	for {
		n, err := d.r.Read(d.one[:])
		if n == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}

		b := d.one[0]
		if d.acc.IsTerminator(b) {
			return d.dispatch()
		}
		if err := d.acc.Append(b); err != nil {
			log.Warn().Err(err).Int("max", d.acc.max).Msg("dropping oversized command")
			d.observe(Event{Kind: EventOverflow, Len: d.acc.max})
		}
	}
}

func (d *Dispatcher) dispatch() error {
	dropped := d.acc.Overflowed()
	cmd := d.acc.Drain()
	if dropped {
		return nil
	}

	log.Info().Int("len", len(cmd)).Str("command", preview(cmd)).Msg("command received")

	if d.guard != nil && d.guard.CommandEnabled() && d.guard.CheckCommand(cmd) {
		d.observe(Event{Kind: EventSafeMode, Len: len(cmd)})
		return ErrSafeMode
	}

	if bytes.Equal(cmd, PowerOff) {
		if err := d.relay.TurnOff(); err != nil {
			return err
		}
		d.observe(Event{Kind: EventPowerOff, Len: len(cmd)})
		return nil
	}

	// The strip must be powered and settled before it sees any data.
	if err := d.relay.TurnOn(); err != nil {
		return err
	}
	if err := d.strip.SendAllFrames(cmd); err != nil {
		ev := Event{Kind: EventTransmitError, Len: len(cmd), Err: err.Error()}
		if errors.Is(err, strip.ErrPayloadLength) {
			ev.Kind = EventPayloadRejected
			log.Warn().Err(err).Msg("payload rejected")
		} else {
			log.Error().Err(err).Msg("strip transmission failed")
		}
		d.observe(ev)
		return nil
	}
	d.observe(Event{Kind: EventPayload, Len: len(cmd)})
	return nil
}

func (d *Dispatcher) observe(ev Event) {
	if d.obs == nil {
		return
	}
	ev.Time = time.Now()
	d.obs.Observe(ev)
}

const previewLen = 24

// preview renders control commands as text and payloads as hex.
func preview(cmd []byte) string {
	if len(cmd) > 0 && cmd[0] == '^' {
		return string(cmd)
	}
	if len(cmd) > previewLen {
		return fmt.Sprintf("%x...", cmd[:previewLen])
	}
	return fmt.Sprintf("%x", cmd)
}
