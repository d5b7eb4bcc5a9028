package safemode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/coreman2200/funtimes-dotstar/internal/relay"
)

type recordResetter struct {
	resets int
}

func (r *recordResetter) ResetToSafeMode() { r.resets++ }

func TestNewPullsAwayFromResetLevel(t *testing.T) {
	low := &gpiotest.Pin{N: "GP22"}
	_, err := New(low, gpio.Low, nil, &recordResetter{})
	require.NoError(t, err)
	assert.Equal(t, gpio.PullUp, low.P)

	high := &gpiotest.Pin{N: "GP22"}
	_, err = New(high, gpio.High, nil, &recordResetter{})
	require.NoError(t, err)
	assert.Equal(t, gpio.PullDown, high.P)
}

func TestCheckPin(t *testing.T) {
	for _, level := range []gpio.Level{gpio.Low, gpio.High} {
		t.Run("reset on "+level.String(), func(t *testing.T) {
			pin := &gpiotest.Pin{N: "GP22"}
			r := &recordResetter{}
			g, err := New(pin, level, DefaultCommand, r)
			require.NoError(t, err)

			pin.L = !level
			assert.False(t, g.CheckPin())
			assert.Equal(t, 0, r.resets)

			pin.L = level
			assert.True(t, g.CheckPin())
			assert.Equal(t, 1, r.resets)
		})
	}
}

func TestCheckPinWithoutPin(t *testing.T) {
	r := &recordResetter{}
	g, err := New(nil, gpio.Low, DefaultCommand, r, EnablePin(true))
	require.NoError(t, err)
	assert.False(t, g.PinEnabled())
	assert.False(t, g.CheckPin())
	assert.Equal(t, 0, r.resets)
}

func TestCheckCommand(t *testing.T) {
	r := &recordResetter{}
	g, err := New(nil, gpio.Low, DefaultCommand, r, EnableCommand(true))
	require.NoError(t, err)
	assert.True(t, g.CommandEnabled())

	assert.False(t, g.CheckCommand([]byte("^safemod")))
	assert.False(t, g.CheckCommand([]byte("^safemode ")))
	assert.False(t, g.CheckCommand(nil))
	assert.Equal(t, 0, r.resets)

	assert.True(t, g.CheckCommand([]byte("^safemode")))
	assert.Equal(t, 1, r.resets)
}

func TestCheckCommandDisabledWithoutMagic(t *testing.T) {
	r := &recordResetter{}
	g, err := New(nil, gpio.Low, nil, r, EnableCommand(true))
	require.NoError(t, err)
	assert.False(t, g.CommandEnabled())
	assert.False(t, g.CheckCommand(nil))
	assert.False(t, g.CheckCommand([]byte{}))
}

func TestBootResetterWritesMarker(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "safemode")
	code := -1
	b := &BootResetter{MarkerPath: marker, ExitCode: 3, exit: func(c int) { code = c }}

	b.ResetToSafeMode()

	_, err := os.Stat(marker)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestBootResetterDefaultsToFailureCode(t *testing.T) {
	code := -1
	b := &BootResetter{exit: func(c int) { code = c }}

	b.ResetToSafeMode()
	assert.Equal(t, DefaultExitCode, code)
	assert.NotEqual(t, 0, code)
}

func TestBootResetterDropsRelayFirst(t *testing.T) {
	relayPin := &gpiotest.Pin{N: "GP16"}
	rel, err := relay.New(relayPin, 0)
	require.NoError(t, err)
	require.NoError(t, rel.TurnOn())
	require.Equal(t, gpio.High, relayPin.L)

	sense := &gpiotest.Pin{N: "GP22"}
	marker := filepath.Join(t.TempDir(), "run", "safemode")
	var steps []string
	code := 0
	b := &BootResetter{
		MarkerPath: marker,
		PreReset: func() {
			steps = append(steps, "pre-reset")
			assert.False(t, Pending(marker))
			assert.NoError(t, rel.TurnOff())
		},
		exit: func(c int) {
			steps = append(steps, "exit")
			code = c
		},
	}
	g, err := New(sense, gpio.Low, DefaultCommand, b, EnablePin(true))
	require.NoError(t, err)

	sense.L = gpio.Low
	assert.True(t, g.CheckPin())

	assert.Equal(t, []string{"pre-reset", "exit"}, steps)
	assert.Equal(t, gpio.Low, relayPin.L)
	assert.False(t, rel.On())
	assert.True(t, Pending(marker))
	assert.NotEqual(t, 0, code)
}

func TestPending(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "safemode")
	assert.False(t, Pending(""))
	assert.False(t, Pending(marker))

	require.NoError(t, os.WriteFile(marker, []byte("x\n"), 0o644))
	assert.True(t, Pending(marker))

	require.NoError(t, os.Remove(marker))
	assert.False(t, Pending(marker))
}
