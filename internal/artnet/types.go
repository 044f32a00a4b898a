package artnet

const (
	// PixelsPerUniverse is how many RGB pixels fit into the 512 channels of a DMX universe.
	PixelsPerUniverse = 170
	// DefaultPort is the UDP port ArtNet nodes listen on.
	DefaultPort = 6454
)

// UniverseRange assigns the pixels [Start, End) of a frame to a universe.
type UniverseRange struct {
	Universe uint16
	Start    int
	End      int
}

// UniverseCount returns ceil(pixels / PixelsPerUniverse), at least 1.
func UniverseCount(pixels int) int {
	if pixels <= PixelsPerUniverse {
		return 1
	}
	return (pixels + PixelsPerUniverse - 1) / PixelsPerUniverse
}

// Universes splits a frame of the given size into consecutive universes.
func Universes(pixels int) []UniverseRange {
	n := UniverseCount(pixels)
	out := make([]UniverseRange, 0, n)
	for i := 0; i < n; i++ {
		start := i * PixelsPerUniverse
		out = append(out, UniverseRange{
			Universe: uint16(i),
			Start:    start,
			End:      min(start+PixelsPerUniverse, pixels),
		})
	}
	return out
}
