// Package media holds the loopable image and audio material a session plays:
// BGR frames, custom-state slots and the idle image loop.
package media

import (
	"image"
	"image/color"
)

// Frame is a raw BGR24 image.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// NewFrame allocates a black frame of the given size.
func NewFrame(width, height int) Frame {
	return Frame{Width: width, Height: height, Pix: make([]byte, width*height*3)}
}

// SolidFrame returns a frame filled with a single BGR color.
func SolidFrame(width, height int, c color.RGBA) Frame {
	f := NewFrame(width, height)
	for i := 0; i < len(f.Pix); i += 3 {
		f.Pix[i] = c.B
		f.Pix[i+1] = c.G
		f.Pix[i+2] = c.R
	}
	return f
}

// FrameFromImage converts any decoded image to BGR24.
func FrameFromImage(img image.Image) Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			f.Pix[i] = uint8(bl >> 8)
			f.Pix[i+1] = uint8(g >> 8)
			f.Pix[i+2] = uint8(r >> 8)
			i += 3
		}
	}
	return f
}

// Valid reports whether the pixel buffer matches the dimensions.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height*3
}
