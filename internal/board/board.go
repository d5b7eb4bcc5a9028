// Package board brings up the host peripherals the controller drives.
package board

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/extra/devices/screen"
	"periph.io/x/host/v3"

	"github.com/coreman2200/funtimes-dotstar/internal/strip"
)

type Config struct {
	RelayPin string
	SensePin string
	SPIPort  string
	SpeedHz  int
	// Sim skips the SPI port and draws frames on the console.
	Sim bool
}

// Board holds the claimed peripherals.
type Board struct {
	Relay gpio.PinIO
	Sense gpio.PinIO
	Bus   conn.Conn
	// Sim is true when Bus is the console preview.
	Sim bool

	closer io.Closer
}

// Open initializes the host drivers and claims the pins. Any pin it cannot
// find is an error; a missing SPI port falls back to the console preview.
func Open(cfg Config) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	b := &Board{}
	if b.Relay = gpioreg.ByName(cfg.RelayPin); b.Relay == nil {
		return nil, fmt.Errorf("relay pin %q not found", cfg.RelayPin)
	}
	if cfg.SensePin != "" {
		if b.Sense = gpioreg.ByName(cfg.SensePin); b.Sense == nil {
			return nil, fmt.Errorf("safe mode pin %q not found", cfg.SensePin)
		}
	}

	if cfg.Sim {
		b.usePreview()
		return b, nil
	}
	p, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		log.Warn().Err(err).Str("port", cfg.SPIPort).Msg("failed to find a SPI port, drawing at the console")
		b.usePreview()
		return b, nil
	}
	c, err := p.Connect(physic.Frequency(cfg.SpeedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("spi connect %s: %w", p, err)
	}
	b.Bus = c
	b.closer = p
	return b, nil
}

func (b *Board) usePreview() {
	b.Bus = strip.NewPreview(screen.New(100))
	b.Sim = true
}

// Close releases the SPI port and drops the relay.
func (b *Board) Close() error {
	if b.Relay != nil {
		if err := b.Relay.Out(gpio.Low); err != nil {
			log.Error().Err(err).Msg("dropping relay on close")
		}
	}
	if b.closer != nil {
		return b.closer.Close()
	}
	return nil
}
