// Package output defines the contract shared by every LED output device.
package output

import (
	"fmt"

	"matrixout/internal/frame"
)

// Kind identifies the device adapter.
type Kind int

const (
	ArtNet Kind = iota
	Serial
	TCP
	SPI
)

var kindNames = [...]string{"artnet", "serial", "tcp", "spi"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps a configuration kind name to a Kind.
func ParseKind(s string) (Kind, error) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown output kind %q", s)
}

// Device is an output the render loop pushes frames to.
type Device interface {
	// Update pushes the current frame. It never panics on transport failures;
	// the returned error only describes what went wrong this tick.
	Update() error
	// Close releases the transport. Safe to call more than once.
	Close() error
	Stats() Stats
}

// Stats is a snapshot of a device's health.
type Stats struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Initialized bool   `json:"initialized"`
	Sent        uint64 `json:"sent"`
	Skipped     uint64 `json:"skipped"`
	Errors      uint64 `json:"errors"`
}

// Resolution is the resolution-aware base embedded by device adapters.
type Resolution struct {
	Name        string
	Width       int
	Height      int
	Orientation frame.Orientation

	src frame.Source
}

// NewResolution binds a device geometry to the frame source it samples.
func NewResolution(name string, src frame.Source, width, height int, o frame.Orientation) Resolution {
	return Resolution{Name: name, Width: width, Height: height, Orientation: o, src: src}
}

// Pixels is Width*Height.
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

// TransformedBuffer returns the source's current frame fitted to this
// device. The result always has Width*Height pixels.
func (r Resolution) TransformedBuffer() frame.Buffer {
	if r.src == nil {
		return make(frame.Buffer, r.Pixels())
	}
	return frame.Transform(r.src.Frame(), r.src.Width(), r.src.Height(), r.Width, r.Height, r.Orientation)
}
