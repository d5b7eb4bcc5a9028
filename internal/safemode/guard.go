// Package safemode resets the device into its recovery boot path when a
// sense pin is strapped or a magic command arrives.
package safemode

import (
	"bytes"
	"fmt"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
)

// DefaultCommand is the magic command body, without the terminator.
var DefaultCommand = []byte("^safemode")

// Pin is the subset of gpio.PinIO the guard reads.
type Pin interface {
	String() string
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
}

// Resetter schedules a recovery boot and resets. Real implementations do
// not return.
type Resetter interface {
	ResetToSafeMode()
}

type Guard struct {
	pin           Pin
	resetLevel    gpio.Level
	command       []byte
	resetter      Resetter
	enablePin     bool
	enableCommand bool
}

type Option func(*Guard)

func EnablePin(on bool) Option {
	return func(g *Guard) {
		g.enablePin = on
	}
}

func EnableCommand(on bool) Option {
	return func(g *Guard) {
		g.enableCommand = on
	}
}

// New configures pin as an input pulled away from resetLevel, so an open
// pin never triggers. pin may be nil when only the command is used.
func New(pin Pin, resetLevel gpio.Level, command []byte, r Resetter, opts ...Option) (*Guard, error) {
	g := &Guard{
		pin:        pin,
		resetLevel: resetLevel,
		command:    command,
		resetter:   r,
	}
	for _, o := range opts {
		o(g)
	}
	if pin != nil {
		pull := gpio.PullUp
		if resetLevel == gpio.High {
			pull = gpio.PullDown
		}
		if err := pin.In(pull, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("safe mode pin %s: %w", pin, err)
		}
	}
	return g, nil
}

func (g *Guard) PinEnabled() bool     { return g.enablePin && g.pin != nil }
func (g *Guard) CommandEnabled() bool { return g.enableCommand && len(g.command) > 0 }

// CheckPin resets when the sense pin sits at the reset level.
func (g *Guard) CheckPin() bool {
	if g.pin == nil || g.pin.Read() != g.resetLevel {
		return false
	}
	log.Warn().Str("pin", g.pin.String()).Msg("safe mode pin asserted, resetting")
	g.resetter.ResetToSafeMode()
	return true
}

// CheckCommand resets when cmd is exactly the magic command.
func (g *Guard) CheckCommand(cmd []byte) bool {
	if len(g.command) == 0 || !bytes.Equal(cmd, g.command) {
		return false
	}
	log.Warn().Msg("safe mode command received, resetting")
	g.resetter.ResetToSafeMode()
	return true
}
