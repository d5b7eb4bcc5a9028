// Package serial opens the host command link.
package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// DefaultReadTimeout bounds how long a read waits before the control loop
// gets to poll the safe mode pin again.
const DefaultReadTimeout = time.Second

// Port is the command link. A read that times out returns zero bytes.
type Port interface {
	io.ReadWriteCloser
}

type Config struct {
	// Device path, e.g. "/dev/ttyACM1".
	Device string
	// Baud is ignored by USB CDC devices.
	Baud        int
	ReadTimeout time.Duration
}

func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: DefaultReadTimeout,
	}
}

// NativePort wraps tarm/serial. port is a *serial.Port outside tests.
type NativePort struct {
	port io.ReadWriteCloser
	cfg  *Config
}

func Open(cfg *Config) (*NativePort, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	return &NativePort{port: port, cfg: cfg}, nil
}

func (p *NativePort) String() string {
	return p.cfg.Device
}

// Read returns (0, nil) when the read timeout expires; tarm/serial reports
// that as (0, io.EOF).
func (p *NativePort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, nil
	}
	return n, err
}

func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *NativePort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}
