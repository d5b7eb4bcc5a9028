package strip

import (
	"image"
	"sync"

	"periph.io/x/conn/v3"

	"github.com/coreman2200/funtimes-dotstar/internal/pixel"
)

// drawer is what Preview needs from a display; periph's console screen fits.
type drawer interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// Preview stands in for the SPI bus when none is available. It reads the
// stream the way a strip does: an all-zero transaction is framing, anything
// else is LED data, and the data is drawn when the next framing arrives.
type Preview struct {
	mu      sync.Mutex
	d       drawer
	sends   int
	frame   []byte
	pending bool
}

func NewPreview(d drawer) *Preview {
	return &Preview{d: d}
}

func (p *Preview) String() string {
	return "preview"
}

func (p *Preview) Duplex() conn.Duplex {
	return conn.Half
}

func (p *Preview) Tx(w, r []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !zeros(w) {
		p.frame = append(p.frame[:0], w...)
		p.pending = true
		return nil
	}
	if !p.pending {
		return nil
	}
	p.pending = false
	p.sends++
	return p.draw()
}

// Sends reports how many frames were drawn.
func (p *Preview) Sends() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sends
}

func (p *Preview) draw() error {
	im := pixel.Image(pixel.Decode(p.frame))
	return p.d.Draw(p.d.Bounds(), im, image.Point{})
}

// zeros is true for a start or end frame. A strip reads 32 zero bits as a
// start frame too, so an all-zero payload is never data.
func zeros(w []byte) bool {
	for _, b := range w {
		if b != 0 {
			return false
		}
	}
	return true
}
