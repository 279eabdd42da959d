package img

import (
	"math"
)

// Convolution mode used to generate the elastic distortion displacement field
type ConvMode int

const (
	// separable gaussian kernel
	ConvDefault ConvMode = iota
	// iterated box blur approximation to the gaussian
	ConvBoxBlur
)

func gaussian1d(sigma float64, size int) []float32 {
	kernel := make([]float32, 2*size+1)
	for x := -size; x <= size; x++ {
		d2 := float64(x * x)
		kernel[x+size] = float32(math.Exp(-d2/(2*sigma*sigma)) / (math.Sqrt(2*math.Pi) * sigma))
	}
	return kernel
}

// Convolution to apply kernel to image
type Convolution interface {
	Apply(in, out []float32)
}

// Convolution implemented in go assuming 1d seperable kernel
type conv struct {
	w, h  int
	ksize int
	kdata []float32
}

func NewConv(kernel []float32, ksize, width, height int) Convolution {
	return &conv{w: width, h: height, ksize: ksize, kdata: kernel}
}

func (c *conv) Apply(in, out []float32) {
	temp := make([]float32, c.w*c.h)
	for x := 0; x < c.w; x++ {
		start := max(x-c.ksize, 0)
		end := min(x+c.ksize, c.w-1)
		var sum float32
		for ix := start; ix <= end; ix++ {
			sum += c.kdata[x-ix+c.ksize]
		}
		for y := 0; y < c.h; y++ {
			var val float32
			for ix := start; ix <= end; ix++ {
				val += in[ix+y*c.w] * c.kdata[x-ix+c.ksize]
			}
			temp[x+y*c.w] = val / sum
		}
	}
	for y := 0; y < c.h; y++ {
		start := max(y-c.ksize, 0)
		end := min(y+c.ksize, c.h-1)
		var sum float32
		for iy := start; iy <= end; iy++ {
			sum += c.kdata[y-iy+c.ksize]
		}
		for x := 0; x < c.w; x++ {
			var val float32
			for iy := start; iy <= end; iy++ {
				val += temp[x+iy*c.w] * c.kdata[y-iy+c.ksize]
			}
			out[x+y*c.w] = val / sum
		}
	}
}

// Box blur applied three times in each direction, a close approximation to
// a gaussian with the given sigma but independent of the kernel size.
type convBox struct {
	w, h   int
	radius int
}

func NewConvBox(sigma float64, width, height int) Convolution {
	// ideal box width for 3 passes as per Wells' approximation
	r := int(math.Sqrt(sigma*sigma+1) + 0.5)
	if r < 1 {
		r = 1
	}
	return &convBox{w: width, h: height, radius: r}
}

func (c *convBox) Apply(in, out []float32) {
	temp := make([]float32, c.w*c.h)
	copy(out, in)
	for i := 0; i < 3; i++ {
		c.blurRows(out, temp)
		c.blurCols(temp, out)
	}
}

func (c *convBox) blurRows(in, out []float32) {
	for y := 0; y < c.h; y++ {
		row := in[y*c.w : (y+1)*c.w]
		orow := out[y*c.w : (y+1)*c.w]
		for x := 0; x < c.w; x++ {
			start := max(x-c.radius, 0)
			end := min(x+c.radius, c.w-1)
			var sum float32
			for ix := start; ix <= end; ix++ {
				sum += row[ix]
			}
			orow[x] = sum / float32(end-start+1)
		}
	}
}

func (c *convBox) blurCols(in, out []float32) {
	for x := 0; x < c.w; x++ {
		for y := 0; y < c.h; y++ {
			start := max(y-c.radius, 0)
			end := min(y+c.radius, c.h-1)
			var sum float32
			for iy := start; iy <= end; iy++ {
				sum += in[x+iy*c.w]
			}
			out[x+y*c.w] = sum / float32(end-start+1)
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
