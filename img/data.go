package img

import (
	"encoding/gob"
	"fmt"
	"math/rand"

	"github.com/StevenLOL/algorithms-1/stats"
)

func init() {
	gob.Register(&Data{})
	gob.Register(&GrayImage{})
	gob.Register(&RGBImage{})
}

// Image data set which implements the nnet.Data interface
type Data struct {
	Class  []string
	Dims   []int
	Labels []int32
	Mean   []float32
	StdDev []float32
	Images []Image
	trans  *Transformer
}

// Create a new image set
func NewData(classes []string, labels []int32, images []Image) *Data {
	src := images[0]
	dims := []int{src.Bounds().Dy(), src.Bounds().Dx(), src.Channels()}
	return &Data{Class: classes, Dims: dims, Labels: labels, Images: images}
}

// Len function returns number of images
func (d *Data) Len() int { return len(d.Labels) }

// Classes returns the class label names
func (d *Data) Classes() []string { return d.Class }

// Shape returns height, width, channels
func (d *Data) Shape() []int { return d.Dims }

// Label returns classification for given images
func (d *Data) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

// SetTrans enables or disables the transforms applied when reading input data.
// The transform types depend on the image format.
func (d *Data) SetTrans(normalise, distort bool, rng *rand.Rand) {
	ttype := d.Images[0].TransformType(normalise, distort)
	if ttype == NoTrans {
		d.trans = nil
		return
	}
	d.trans = NewTransformer(d, ttype, ConvBoxBlur, rng)
}

// Input returns input data for the given images in buf, applying any
// transforms set with SetTrans.
func (d *Data) Input(index []int, buf []float32) {
	nfeat := d.nfeat()
	if d.trans == nil {
		for i, ix := range index {
			copy(buf[i*nfeat:], d.Images[ix].Pixels(-1))
		}
		return
	}
	temp := d.trans.TransformBatch(index, nil)
	for i := range index {
		copy(buf[i*nfeat:], temp[i].Pixels(-1))
	}
}

// Image returns given image number, if channel is set then just show this colour channel
func (d *Data) Image(ix int, channel string) Image {
	src := d.Images[ix]
	ch, haveChannel := map[string]int{"r": 0, "g": 1, "b": 2}[channel]
	if !haveChannel || src.Channels() == 1 {
		return src
	}
	dst := NewImageLike(src)
	for i := 0; i < src.Channels(); i++ {
		copy(dst.Pixels(i), src.Pixels(ch))
	}
	return dst
}

// Slice returns images from start to end
func (d *Data) Slice(start, end int) *Data {
	data := *d
	data.Labels = append([]int32{}, d.Labels[start:end]...)
	data.Images = append([]Image{}, d.Images[start:end]...)
	data.trans = nil
	return &data
}

func (d *Data) nfeat() int {
	n := 1
	for _, d := range d.Dims {
		n *= d
	}
	return n
}

// Calculate mean and stddev per channel from sets of images
func GetStats(imgList ...[]Image) (mean, std []float32) {
	channels := imgList[0][0].Channels()
	stat := make([]*stats.Average, channels)
	for i := range stat {
		stat[i] = new(stats.Average)
	}
	for _, images := range imgList {
		for _, img := range images {
			for ch, s := range stat {
				for _, val := range img.Pixels(ch) {
					s.Add(float64(val))
				}
			}
		}
	}
	mean = make([]float32, channels)
	std = make([]float32, channels)
	for i, s := range stat {
		mean[i] = float32(s.Mean)
		std[i] = float32(s.StdDev)
	}
	fmt.Printf("mean = %.2f stddev = %.2f\n", mean, std)
	return mean, std
}
