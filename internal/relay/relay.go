// Package relay drives the main power relay that feeds the LED strip.
//
// The pin level is the only record of whether the relay is energized; the
// controller reads it back rather than keeping a copy.
package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
)

// DefaultTurnOnDelay is how long the supply needs after the relay closes.
const DefaultTurnOnDelay = 2 * time.Second

// ErrPin is returned when the relay output cannot be driven.
var ErrPin = errors.New("relay pin")

// Pin is the subset of gpio.PinIO the controller needs.
type Pin interface {
	String() string
	Out(l gpio.Level) error
	Read() gpio.Level
}

// Waiter blocks for the warm-up delay. It is the only suspension point of the
// control loop, so a non-blocking port only has to replace this.
type Waiter interface {
	Wait(d time.Duration)
}

// WaiterFunc adapts a function to Waiter.
type WaiterFunc func(d time.Duration)

func (f WaiterFunc) Wait(d time.Duration) { f(d) }

// Sleep waits with time.Sleep.
var Sleep Waiter = WaiterFunc(time.Sleep)

type Controller struct {
	mu     sync.Mutex
	pin    Pin
	delay  time.Duration
	waiter Waiter
}

type Option func(*Controller)

// WithWaiter replaces the blocking sleep used after turning on.
func WithWaiter(w Waiter) Option {
	return func(c *Controller) {
		c.waiter = w
	}
}

// New returns a controller for pin and forces the relay off.
func New(pin Pin, delay time.Duration, opts ...Option) (*Controller, error) {
	c := &Controller{
		pin:    pin,
		delay:  delay,
		waiter: Sleep,
	}
	for _, o := range opts {
		o(c)
	}
	if err := c.out(gpio.Low); err != nil {
		return nil, err
	}
	return c, nil
}

// TurnOn energizes the relay and waits for the supply to settle. It returns
// immediately when the relay is already on.
func (c *Controller) TurnOn() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pin.Read() == gpio.High {
		return nil
	}
	if err := c.out(gpio.High); err != nil {
		return err
	}
	log.Debug().Str("pin", c.pin.String()).Dur("delay", c.delay).Msg("relay on, warming up")
	c.waiter.Wait(c.delay)
	return nil
}

// TurnOff drops the relay. There is no settling time on power down.
func (c *Controller) TurnOff() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.out(gpio.Low); err != nil {
		return err
	}
	log.Debug().Str("pin", c.pin.String()).Msg("relay off")
	return nil
}

// On reports whether the relay pin is high. It reads the pin directly so a
// caller on another goroutine is not held up by a warm-up in progress.
func (c *Controller) On() bool {
	return c.pin.Read() == gpio.High
}

func (c *Controller) Delay() time.Duration {
	return c.delay
}

func (c *Controller) out(l gpio.Level) error {
	if err := c.pin.Out(l); err != nil {
		return fmt.Errorf("%w %s: set %s: %v", ErrPin, c.pin, l, err)
	}
	return nil
}
