package pixel

import (
	"image"
	"image/color"
)

// MAX_BRIGHTNESS is the largest value of the 5 bit global brightness field.
const MAX_BRIGHTNESS uint8 = 0x1F

const (
	ALPHA_OFFSET uint8 = 0x18
	RED_OFFSET   uint8 = 0x10
	GREEN_OFFSET uint8 = 0x08
	BLUE_OFFSET  uint8 = 0x0
)

// FrameSize is the number of bytes a single LED occupies on the wire.
const FrameSize = 4

const frameMarker byte = 0xE0

// Color packs brightness (A) and R, G, B into one word.
type Color struct {
	index int
	val   uint32
}

func (c *Color) Index() int {
	return c.index
}

func setcolor(c uint32, n uint8, off uint8) uint32 {
	var val uint32 = uint32(n) << off
	var mask uint32 = 0xFF << off
	return (c & (^mask)) | val
}

func getcolor(c uint32, off uint8) uint8 {
	var mask uint32 = 0xFF << off
	return uint8((c & mask) >> off)
}

func (c *Color) SetR(r uint8) {
	c.val = setcolor(c.val, r, RED_OFFSET)
}
func (c *Color) SetG(g uint8) {
	c.val = setcolor(c.val, g, GREEN_OFFSET)
}
func (c *Color) SetB(b uint8) {
	c.val = setcolor(c.val, b, BLUE_OFFSET)
}

// SetA sets the global brightness, clamped to MAX_BRIGHTNESS.
func (c *Color) SetA(a uint8) {
	if a > MAX_BRIGHTNESS {
		a = MAX_BRIGHTNESS
	}
	c.val = setcolor(c.val, a, ALPHA_OFFSET)
}

func (c *Color) GetR() uint8 {
	return getcolor(c.val, RED_OFFSET)
}
func (c *Color) GetG() uint8 {
	return getcolor(c.val, GREEN_OFFSET)
}
func (c *Color) GetB() uint8 {
	return getcolor(c.val, BLUE_OFFSET)
}
func (c *Color) GetA() uint8 {
	return getcolor(c.val, ALPHA_OFFSET)
}

// ToRGB scales each channel by the global brightness.
func (c *Color) ToRGB() color.NRGBA {
	aa := float64(c.GetA()) / float64(MAX_BRIGHTNESS)

	return color.NRGBA{
		R: uint8(float64(c.GetR()) * aa),
		G: uint8(float64(c.GetG()) * aa),
		B: uint8(float64(c.GetB()) * aa),
		A: 255,
	}
}

// Decode splits an LED payload into colours. A trailing partial frame is
// ignored, as the strip would ignore it.
func Decode(payload []byte) []Color {
	n := len(payload) / FrameSize
	out := make([]Color, 0, n)
	for i := 0; i < n; i++ {
		f := payload[i*FrameSize : (i+1)*FrameSize]
		c := Color{index: i}
		c.SetA(f[0] &^ frameMarker)
		c.SetB(f[1])
		c.SetG(f[2])
		c.SetR(f[3])
		out = append(out, c)
	}
	return out
}

// Image lays the colours out on a single row, each at its strip index.
func Image(cs []Color) *image.NRGBA {
	im := image.NewNRGBA(image.Rect(0, 0, len(cs), 1))
	for i := range cs {
		im.SetNRGBA(cs[i].Index(), 0, cs[i].ToRGB())
	}
	return im
}
