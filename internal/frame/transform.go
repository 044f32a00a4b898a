package frame

import (
	"image"

	"github.com/disintegration/gift"
	"github.com/nfnt/resize"
)

// Orientation describes how a device is mounted relative to the source image.
type Orientation struct {
	Rotate int // Rotate is 0, 90, 180 or 270 degrees counter-clockwise.
	FlipX  bool
	FlipY  bool
}

func (o Orientation) identity() bool {
	return o.Rotate%360 == 0 && !o.FlipX && !o.FlipY
}

func (o Orientation) filters() []gift.Filter {
	var f []gift.Filter
	switch o.Rotate % 360 {
	case 90:
		f = append(f, gift.Rotate90())
	case 180:
		f = append(f, gift.Rotate180())
	case 270:
		f = append(f, gift.Rotate270())
	}
	if o.FlipX {
		f = append(f, gift.FlipHorizontal())
	}
	if o.FlipY {
		f = append(f, gift.FlipVertical())
	}
	return f
}

// Transform fits src (srcW x srcH) to dstW x dstH, applying o first.
// The result always has exactly dstW*dstH pixels; pixels missing from a short
// src are black.
func Transform(src Buffer, srcW, srcH, dstW, dstH int, o Orientation) Buffer {
	if dstW <= 0 || dstH <= 0 {
		return Buffer{}
	}
	if o.identity() && srcW == dstW && srcH == dstH && len(src) == dstW*dstH {
		out := make(Buffer, len(src))
		copy(out, src)
		return out
	}

	var img image.Image = toImage(src, srcW, srcH)
	if !o.identity() {
		g := gift.New(o.filters()...)
		dst := image.NewRGBA(g.Bounds(img.Bounds()))
		g.Draw(dst, img)
		img = dst
	}
	if b := img.Bounds(); b.Dx() != dstW || b.Dy() != dstH {
		img = resize.Resize(uint(dstW), uint(dstH), img, resize.NearestNeighbor)
	}
	return fromImage(img, dstW, dstH)
}

func toImage(src Buffer, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h && i < len(src); i++ {
		img.SetRGBA(i%w, i/w, toColor(src[i]))
	}
	return img
}

func fromImage(img image.Image, w, h int) Buffer {
	out := make(Buffer, w*h)
	b := img.Bounds()
	for y := 0; y < h && y < b.Dy(); y++ {
		for x := 0; x < w && x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out[y*w+x] = Pixel(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
		}
	}
	return out
}

// Panel copies the size x size block at panel column px, row py out of a
// row-major buffer of the given width.
func Panel(buf Buffer, width, size, px, py int) Buffer {
	out := make(Buffer, 0, size*size)
	for y := py * size; y < (py+1)*size; y++ {
		row := y * width
		out = append(out, buf[row+px*size:row+(px+1)*size]...)
	}
	return out
}
