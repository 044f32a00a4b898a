// Package codec converts RGB frames into the byte encodings the output
// transports expect.
package codec

import (
	"fmt"
	"strings"

	"matrixout/internal/frame"
)

// ColorFormat is the channel order a panel is wired in.
type ColorFormat int

const (
	RGB ColorFormat = iota
	RBG
	BRG
	BGR
	GBR
	GRB
)

var colorFormatNames = [...]string{"RGB", "RBG", "BRG", "BGR", "GBR", "GRB"}

func (c ColorFormat) String() string {
	if c < 0 || int(c) >= len(colorFormatNames) {
		return fmt.Sprintf("ColorFormat(%d)", int(c))
	}
	return colorFormatNames[c]
}

// ParseColorFormat accepts the names returned by String, case-insensitively.
func ParseColorFormat(s string) (ColorFormat, error) {
	for i, n := range colorFormatNames {
		if strings.EqualFold(n, s) {
			return ColorFormat(i), nil
		}
	}
	return RGB, fmt.Errorf("unknown color format %q", s)
}

// order returns the channels of r, g, b in the wire order of c.
func (c ColorFormat) order(r, g, b uint8) (uint8, uint8, uint8) {
	switch c {
	case RBG:
		return r, b, g
	case BRG:
		return b, r, g
	case BGR:
		return b, g, r
	case GBR:
		return g, b, r
	case GRB:
		return g, r, b
	default:
		return r, g, b
	}
}

// Adjust scales each channel; 1.0 leaves it untouched.
type Adjust struct {
	R, G, B float64
}

// AdjustPercent builds an Adjust from percentages.
func AdjustPercent(r, g, b int) Adjust {
	return Adjust{R: float64(r) / 100, G: float64(g) / 100, B: float64(b) / 100}
}

func scale(v uint8, f float64) uint8 {
	s := float64(v) * f
	switch {
	case s <= 0:
		return 0
	case s >= 255:
		return 255
	}
	return uint8(s + 0.5)
}

func (a Adjust) apply(r, g, b uint8) (uint8, uint8, uint8) {
	return scale(r, a.R), scale(g, a.G), scale(b, a.B)
}

// ToRGB24 encodes every pixel as three bytes, red first.
func ToRGB24(buf frame.Buffer) []byte {
	out := make([]byte, len(buf)*3)
	for i, p := range buf {
		out[i*3], out[i*3+1], out[i*3+2] = frame.RGB(p)
	}
	return out
}

// To15Bit packs every pixel into two bytes, 5 bits per channel, big endian:
// 0rrrrrgg gggbbbbb (after reordering for cf).
func To15Bit(buf frame.Buffer, cf ColorFormat) []byte {
	return pack15(buf, cf, nil)
}

// To15BitAdjusted is To15Bit with adj applied before packing.
func To15BitAdjusted(buf frame.Buffer, cf ColorFormat, adj Adjust) []byte {
	return pack15(buf, cf, &adj)
}

func pack15(buf frame.Buffer, cf ColorFormat, adj *Adjust) []byte {
	out := make([]byte, len(buf)*2)
	for i, p := range buf {
		r, g, b := frame.RGB(p)
		if adj != nil {
			r, g, b = adj.apply(r, g, b)
		}
		r, g, b = cf.order(r, g, b)
		w := uint16(r>>3)<<10 | uint16(g>>3)<<5 | uint16(b>>3)
		out[i*2] = byte(w >> 8)
		out[i*2+1] = byte(w)
	}
	return out
}
