package frame

import (
	"sync"
	"time"
)

// Pattern is a moving color gradient. It stands in for the visual pipeline
// when the binary drives hardware on its own.
type Pattern struct {
	w, h int

	mu    sync.Mutex
	phase uint8
	buf   Buffer
}

// NewPattern creates a w x h moving test pattern.
func NewPattern(w, h int) *Pattern {
	p := &Pattern{w: w, h: h, buf: make(Buffer, w*h)}
	p.render()
	return p
}

func (p *Pattern) Width() int  { return p.w }
func (p *Pattern) Height() int { return p.h }

// Frame returns the current frame. The slice is reused between ticks.
func (p *Pattern) Frame() Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf
}

// Tick advances the gradient by one step.
func (p *Pattern) Tick(time.Time) {
	p.mu.Lock()
	p.phase++
	p.render()
	p.mu.Unlock()
}

func (p *Pattern) render() {
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			r := uint8(x*255/max(1, p.w-1)) + p.phase
			g := uint8(y*255/max(1, p.h-1)) + p.phase/2
			b := 255 - p.phase
			p.buf[y*p.w+x] = Pixel(r, g, b)
		}
	}
}
