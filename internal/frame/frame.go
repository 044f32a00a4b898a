// Package frame holds the pixel buffer handed from the frame source to the
// output devices, and the helpers that fit it to a device resolution.
package frame

import "image/color"

// Buffer is a row-major sequence of 24-bit RGB pixels (0x00RRGGBB).
type Buffer []uint32

// Source produces one Buffer of Width()*Height() pixels per tick.
type Source interface {
	Frame() Buffer
	Width() int
	Height() int
}

// RGB splits a pixel into its channels.
func RGB(p uint32) (r, g, b uint8) {
	return uint8(p >> 16), uint8(p >> 8), uint8(p)
}

// Pixel packs channels into a pixel.
func Pixel(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func toColor(p uint32) color.RGBA {
	r, g, b := RGB(p)
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}
