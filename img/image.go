// Package img contains routines for manipulating sets of images.
package img

import (
	"image"
	"image/color"
	"image/draw"
)

// Image is a drawable image which also exposes the raw float32 pixel planes
// used by the dataset loader and the distortion pipeline.
type Image interface {
	draw.Image
	Pixels(ch int) []float32
	Channels() int
	TransformType(normalise, distort bool) TransType
}

// NewImageLike allocates a blank image with the same type and bounds as src.
func NewImageLike(src Image) Image {
	switch m := src.(type) {
	case *GrayImage:
		return NewGray(m.Width, m.Height)
	case *RGBImage:
		return NewRGB(m.Width, m.Height)
	default:
		panic("invalid image type")
	}
}

var (
	GrayModel = color.ModelFunc(grayModel)
	RGBModel  = color.ModelFunc(rgbModel)
)

// Gray color holds a single luminance value in range 0 to 1.
type Gray struct {
	Y float32
}

func (c Gray) RGBA() (r, g, b, a uint32) {
	y := clampu(c.Y, 0, 1)
	return y, y, y, 0xffff
}

func grayModel(c color.Color) color.Color {
	if g, ok := c.(Gray); ok {
		return g
	}
	r, g, b, _ := c.RGBA()
	y := 0.299*float32(r) + 0.587*float32(g) + 0.114*float32(b)
	return Gray{Y: y / 0xffff}
}

// RGB color holds one value per channel, each in range 0 to 1.
type RGB struct {
	R, G, B float32
}

func (c RGB) RGBA() (r, g, b, a uint32) {
	return clampu(c.R, 0, 1), clampu(c.G, 0, 1), clampu(c.B, 0, 1), 0xffff
}

func rgbModel(c color.Color) color.Color {
	if rgb, ok := c.(RGB); ok {
		return rgb
	}
	r, g, b, _ := c.RGBA()
	return RGB{R: float32(r) / 0xffff, G: float32(g) / 0xffff, B: float32(b) / 0xffff}
}

// GrayImage stores a single plane of float32 pixels in column major order,
// matching the array layout the network expects.
type GrayImage struct {
	Pix    []float32
	Height int
	Width  int
}

func NewGray(width, height int) *GrayImage {
	return &GrayImage{Pix: make([]float32, width*height), Height: height, Width: width}
}

func (m *GrayImage) index(x, y int) int { return y + x*m.Height }

func (m *GrayImage) inRange(x, y int) bool {
	return x >= 0 && x < m.Width && y >= 0 && y < m.Height
}

func (m *GrayImage) Channels() int { return 1 }

func (m *GrayImage) ColorModel() color.Model { return GrayModel }

func (m *GrayImage) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

func (m *GrayImage) GrayAt(x, y int) Gray {
	if !m.inRange(x, y) {
		return Gray{}
	}
	return Gray{Y: m.Pix[m.index(x, y)]}
}

func (m *GrayImage) At(x, y int) color.Color { return m.GrayAt(x, y) }

func (m *GrayImage) Set(x, y int, c color.Color) {
	if m.inRange(x, y) {
		m.Pix[m.index(x, y)] = grayModel(c).(Gray).Y
	}
}

func (m *GrayImage) Pixels(ch int) []float32 { return m.Pix }

func (m *GrayImage) TransformType(normalise, distort bool) TransType {
	t := NoTrans
	if normalise {
		t |= Normalise
	}
	if distort {
		t |= GrayTrans
	}
	return t
}

// RGBImage stores three planes of float32 pixels, each in column major order
// with the red, green and blue planes packed one after another.
type RGBImage struct {
	Pix    []float32
	Height int
	Width  int
}

func NewRGB(width, height int) *RGBImage {
	return &RGBImage{Pix: make([]float32, 3*width*height), Height: height, Width: width}
}

func (m *RGBImage) index(x, y, ch int) int { return y + x*m.Height + ch*m.Width*m.Height }

func (m *RGBImage) inRange(x, y int) bool {
	return x >= 0 && x < m.Width && y >= 0 && y < m.Height
}

func (m *RGBImage) Channels() int { return 3 }

func (m *RGBImage) ColorModel() color.Model { return RGBModel }

func (m *RGBImage) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

func (m *RGBImage) RGBAt(x, y int) RGB {
	if !m.inRange(x, y) {
		return RGB{}
	}
	return RGB{
		R: m.Pix[m.index(x, y, 0)],
		G: m.Pix[m.index(x, y, 1)],
		B: m.Pix[m.index(x, y, 2)],
	}
}

func (m *RGBImage) At(x, y int) color.Color { return m.RGBAt(x, y) }

func (m *RGBImage) Set(x, y int, c color.Color) {
	if !m.inRange(x, y) {
		return
	}
	rgb := rgbModel(c).(RGB)
	m.Pix[m.index(x, y, 0)] = rgb.R
	m.Pix[m.index(x, y, 1)] = rgb.G
	m.Pix[m.index(x, y, 2)] = rgb.B
}

// Pixels returns a single color plane, or all three if ch is out of range.
func (m *RGBImage) Pixels(ch int) []float32 {
	if ch >= 0 && ch <= 2 {
		plane := m.Width * m.Height
		return m.Pix[ch*plane : (ch+1)*plane]
	}
	return m.Pix
}

func (m *RGBImage) TransformType(normalise, distort bool) TransType {
	t := NoTrans
	if normalise {
		t |= Normalise
	}
	if distort {
		t |= RGBTrans
	}
	return t
}

// Highlight converts a grayscale image to inverted RGB, with the red channel
// saturated when on is set. Other image types are returned unchanged.
func Highlight(in Image, on bool) Image {
	src, ok := in.(*GrayImage)
	if !ok {
		return in
	}
	dst := NewRGB(src.Width, src.Height)
	plane := src.Width * src.Height
	for j, pix := range src.Pix {
		val := 1 - pix
		if on {
			dst.Pix[j] = 1
		} else {
			dst.Pix[j] = val
		}
		dst.Pix[plane+j] = val
		dst.Pix[2*plane+j] = val
	}
	return dst
}

func clampu(x, x0, x1 float32) uint32 {
	return uint32(clamp(x, x0, x1) * 0xffff)
}
