// Package strip encodes LED payloads into APA102 ("Dotstar") transmissions.
//
// A transmission is a start frame of four zero bytes, the LED frames, and an
// end frame of ceil(n/2)+4 zero bytes that clocks the data through n LEDs.
package strip

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"periph.io/x/conn/v3"

	"github.com/coreman2200/funtimes-dotstar/internal/pixel"
)

const startFrameLen = 4

var (
	// ErrTransmit wraps a failed bus write. The strip shows whatever it
	// latched until the next complete send.
	ErrTransmit = errors.New("strip transmit")
	// ErrPayloadLength is returned under PolicyReject.
	ErrPayloadLength = errors.New("strip payload length")
)

// Policy decides what happens to a payload whose length is not
// 4 bytes per configured LED.
type Policy string

const (
	PolicyVerbatim Policy = "verbatim"
	PolicyTruncate Policy = "truncate"
	PolicyPad      Policy = "pad"
	PolicyReject   Policy = "reject"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyVerbatim, nil
	case PolicyVerbatim, PolicyTruncate, PolicyPad, PolicyReject:
		return p, nil
	}
	return "", fmt.Errorf("unknown payload policy %q", s)
}

// EndFrameLen is the end frame size for ledCount LEDs.
func EndFrameLen(ledCount int) int {
	if ledCount < 0 {
		ledCount = 0
	}
	return (ledCount+1)/2 + 4
}

type Encoder struct {
	mu       sync.Mutex
	bus      conn.Conn
	cfgMu    sync.RWMutex
	ledCount int
	policy   Policy
}

type Option func(*Encoder)

func WithPolicy(p Policy) Option {
	return func(e *Encoder) {
		e.policy = p
	}
}

func New(bus conn.Conn, ledCount int, opts ...Option) *Encoder {
	e := &Encoder{
		bus:      bus,
		ledCount: ledCount,
		policy:   PolicyVerbatim,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Encoder) String() string {
	return fmt.Sprintf("dotstar{%s, %d leds}", e.bus, e.LEDCount())
}

func (e *Encoder) LEDCount() int {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.ledCount
}

func (e *Encoder) SetLEDCount(n int) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.ledCount = n
}

// SendAllFrames transmits payload as one start, data and end frame. A failure
// stops the sequence; it is not retried.
func (e *Encoder) SendAllFrames(payload []byte) error {
	data, err := e.fit(payload)
	if err != nil {
		return err
	}
	if err := e.SendStartFrame(); err != nil {
		return err
	}
	if err := e.SendLEDFrames(data); err != nil {
		return err
	}
	return e.SendEndFrame()
}

func (e *Encoder) SendStartFrame() error {
	return e.write("start", make([]byte, startFrameLen))
}

// SendLEDFrames writes the payload bytes as given.
func (e *Encoder) SendLEDFrames(payload []byte) error {
	return e.write("led", payload)
}

func (e *Encoder) SendEndFrame() error {
	return e.write("end", make([]byte, EndFrameLen(e.LEDCount())))
}

// write holds the bus for exactly one transaction.
func (e *Encoder) write(frame string, w []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.bus.Tx(w, nil); err != nil {
		return fmt.Errorf("%w: %s frame (%d bytes): %v", ErrTransmit, frame, len(w), err)
	}
	return nil
}

func (e *Encoder) fit(payload []byte) ([]byte, error) {
	want := e.LEDCount() * pixel.FrameSize
	if len(payload) == want || e.policy == PolicyVerbatim {
		return payload, nil
	}
	switch e.policy {
	case PolicyTruncate:
		if len(payload) > want {
			return payload[:want], nil
		}
		return payload, nil
	case PolicyPad:
		if len(payload) < want {
			out := make([]byte, want)
			copy(out, payload)
			return out, nil
		}
		return payload, nil
	}
	return nil, fmt.Errorf("%w: got %d bytes, want %d for %d leds", ErrPayloadLength, len(payload), want, e.LEDCount())
}
