package strip

import (
	"bytes"
	"errors"
	"image"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"
)

// recordConn keeps every transaction separately.
type recordConn struct {
	txs    [][]byte
	failAt int
}

func (r *recordConn) String() string      { return "record" }
func (r *recordConn) Duplex() conn.Duplex { return conn.Half }
func (r *recordConn) Tx(w, _ []byte) error {
	if r.failAt > 0 && len(r.txs)+1 == r.failAt {
		return errors.New("spi: device gone")
	}
	r.txs = append(r.txs, append([]byte(nil), w...))
	return nil
}

var TestEndFrameLength = []struct {
	Leds   int
	Expect int
}{
	{0, 4},
	{1, 5},
	{2, 5},
	{3, 6},
	{67, 38},
	{134, 71},
	{135, 72},
}

func TestEndFrameLen(t *testing.T) {
	for _, v := range TestEndFrameLength {
		t.Run("leds="+strconv.Itoa(v.Leds), func(t *testing.T) {
			assert.Equal(t, v.Expect, EndFrameLen(v.Leds))

			r := &recordConn{}
			require.NoError(t, New(r, v.Leds).SendEndFrame())
			require.Len(t, r.txs, 1)
			assert.Equal(t, make([]byte, v.Expect), r.txs[0])
		})
	}
}

func TestSendAllFramesOrder(t *testing.T) {
	r := &recordConn{}
	e := New(r, 2)
	payload := []byte{0xFF, 1, 2, 3, 0xFF, 4, 5, 6}

	require.NoError(t, e.SendAllFrames(payload))

	require.Len(t, r.txs, 3)
	assert.Equal(t, []byte{0, 0, 0, 0}, r.txs[0])
	assert.Equal(t, payload, r.txs[1])
	assert.Equal(t, make([]byte, 5), r.txs[2])
}

func TestSendAllFramesVerbatimMismatch(t *testing.T) {
	r := &recordConn{}
	e := New(r, 10)

	require.NoError(t, e.SendAllFrames([]byte("abc")))
	require.Len(t, r.txs, 3)
	assert.Equal(t, []byte("abc"), r.txs[1])
	assert.Len(t, r.txs[2], 9)
}

func TestSendAllFramesEmptyPayload(t *testing.T) {
	r := &recordConn{}
	require.NoError(t, New(r, 0).SendAllFrames(nil))
	require.Len(t, r.txs, 3)
	assert.Empty(t, r.txs[1])
}

func TestEndFrameFollowsLEDCount(t *testing.T) {
	r := &recordConn{}
	e := New(r, 1)
	require.NoError(t, e.SendAllFrames(nil))
	e.SetLEDCount(135)
	require.NoError(t, e.SendAllFrames(nil))

	require.Len(t, r.txs, 6)
	assert.Len(t, r.txs[2], 5)
	assert.Len(t, r.txs[5], 72)
}

func TestPayloadPolicies(t *testing.T) {
	long := bytes.Repeat([]byte{0xFF}, 12)
	short := []byte{0xFF, 1, 2, 3}

	r := &recordConn{}
	require.NoError(t, New(r, 2, WithPolicy(PolicyTruncate)).SendAllFrames(long))
	assert.Equal(t, long[:8], r.txs[1])

	r = &recordConn{}
	require.NoError(t, New(r, 2, WithPolicy(PolicyTruncate)).SendAllFrames(short))
	assert.Equal(t, short, r.txs[1])

	r = &recordConn{}
	require.NoError(t, New(r, 2, WithPolicy(PolicyPad)).SendAllFrames(short))
	assert.Equal(t, []byte{0xFF, 1, 2, 3, 0, 0, 0, 0}, r.txs[1])

	r = &recordConn{}
	err := New(r, 2, WithPolicy(PolicyReject)).SendAllFrames(short)
	assert.True(t, errors.Is(err, ErrPayloadLength))
	assert.Empty(t, r.txs)

	r = &recordConn{}
	require.NoError(t, New(r, 1, WithPolicy(PolicyReject)).SendAllFrames(short))
	assert.Len(t, r.txs, 3)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyVerbatim, p)

	p, err = ParsePolicy(" Pad ")
	require.NoError(t, err)
	assert.Equal(t, PolicyPad, p)

	_, err = ParsePolicy("stretch")
	assert.Error(t, err)
}

func TestTransmitFailureStopsSequence(t *testing.T) {
	r := &recordConn{failAt: 2}
	err := New(r, 4).SendAllFrames([]byte{0xFF, 0, 0, 0})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransmit))
	assert.Len(t, r.txs, 1)
}

func TestSPIStream(t *testing.T) {
	buf := bytes.Buffer{}
	c, err := spitest.NewRecordRaw(&buf).Connect(4*physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)

	require.NoError(t, New(c, 1).SendAllFrames([]byte{0xE1, 0x10, 0x20, 0x30}))

	expect := []byte{0, 0, 0, 0, 0xE1, 0x10, 0x20, 0x30, 0, 0, 0, 0, 0}
	assert.Equal(t, expect, buf.Bytes())
}

type fakeScreen struct {
	frames []*image.NRGBA
}

func (s *fakeScreen) Bounds() image.Rectangle { return image.Rect(0, 0, 100, 1) }
func (s *fakeScreen) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	s.frames = append(s.frames, src.(*image.NRGBA))
	return nil
}

func TestPreviewDrawsEachSend(t *testing.T) {
	scr := &fakeScreen{}
	p := NewPreview(scr)
	e := New(p, 2)

	require.NoError(t, e.SendAllFrames([]byte{0xFF, 0, 0, 0xFF, 0xFF, 0xFF, 0, 0}))
	require.NoError(t, e.SendAllFrames([]byte{0xFF, 0, 0xFF, 0}))

	assert.Equal(t, 2, p.Sends())
	require.Len(t, scr.frames, 2)
	assert.Equal(t, 2, scr.frames[0].Rect.Dx())
	assert.Equal(t, uint8(255), scr.frames[0].NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(255), scr.frames[0].NRGBAAt(1, 0).B)
	assert.Equal(t, 1, scr.frames[1].Rect.Dx())
	assert.Equal(t, uint8(255), scr.frames[1].NRGBAAt(0, 0).G)
}

func TestPreviewFollowsSingleFrames(t *testing.T) {
	scr := &fakeScreen{}
	p := NewPreview(scr)
	e := New(p, 2)

	// Stray framing on its own draws nothing.
	require.NoError(t, e.SendStartFrame())
	require.NoError(t, e.SendEndFrame())
	require.NoError(t, e.SendStartFrame())
	assert.Equal(t, 0, p.Sends())

	require.NoError(t, e.SendAllFrames([]byte{0xFF, 0xFF, 0, 0}))
	require.Len(t, scr.frames, 1)
	assert.Equal(t, uint8(255), scr.frames[0].NRGBAAt(0, 0).B)

	// Data written frame by frame is drawn on its latch.
	require.NoError(t, e.SendLEDFrames([]byte{0xFF, 0, 0xFF, 0}))
	assert.Equal(t, 1, p.Sends())
	require.NoError(t, e.SendEndFrame())
	assert.Equal(t, 2, p.Sends())
	require.Len(t, scr.frames, 2)
	assert.Equal(t, uint8(255), scr.frames[1].NRGBAAt(0, 0).G)
}
