package img

import (
	"math"
	"math/rand"
	"testing"
)

func constImage(w, h int, val float32) *GrayImage {
	m := NewGray(w, h)
	for i := range m.Pix {
		m.Pix[i] = val
	}
	return m
}

func TestGaussianKernel(t *testing.T) {
	k := gaussian1d(KernelSigma, KernelSize)
	if len(k) != 2*KernelSize+1 {
		t.Fatalf("kernel length %d", len(k))
	}
	for i := 0; i <= KernelSize; i++ {
		if k[i] != k[2*KernelSize-i] {
			t.Errorf("kernel not symmetric at %d", i)
		}
		if k[i] <= 0 {
			t.Errorf("kernel value %v at %d", k[i], i)
		}
	}
	for i := 1; i <= KernelSize; i++ {
		if k[i] <= k[i-1] {
			t.Error("kernel should peak at the centre")
		}
	}
}

// blurring a constant image should leave it unchanged
func TestConvConstant(t *testing.T) {
	const w, h = 12, 10
	in := make([]float32, w*h)
	for i := range in {
		in[i] = 0.75
	}
	for _, c := range []Convolution{
		NewConv(gaussian1d(KernelSigma, KernelSize), KernelSize, w, h),
		NewConvBox(KernelSigma, w, h),
	} {
		out := make([]float32, w*h)
		c.Apply(in, out)
		for i, v := range out {
			if abs32(v-0.75) > 1e-5 {
				t.Fatalf("%T: value %v at %d", c, v, i)
			}
		}
	}
}

func TestWrap(t *testing.T) {
	for _, tc := range []struct{ x, dx, want int }{
		{3, 8, 3}, {0, 8, 0}, {7, 8, 7},
		{-1, 8, 0}, {-2, 8, 1}, {8, 8, 7}, {9, 8, 6},
	} {
		if got := wrap(tc.x, tc.dx); got != tc.want {
			t.Errorf("wrap(%d,%d) = %d expect %d", tc.x, tc.dx, got, tc.want)
		}
	}
}

func TestFlip(t *testing.T) {
	m := NewGray(4, 2)
	for i := range m.Pix {
		m.Pix[i] = float32(i)
	}
	w := 4
	dst := transform(m, func(x, y int) (int, int) { return w - x - 1, y })
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if dst.(*GrayImage).GrayAt(x, y) != m.GrayAt(3-x, y) {
				t.Fatalf("flip mismatch at %d,%d", x, y)
			}
		}
	}
}

// with Amount set to zero the warp displacement field is identity
func TestWarpIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	src := NewRGB(6, 6)
	for i := range src.Pix {
		src.Pix[i] = rng.Float32()
	}
	d := NewData([]string{"a", "b"}, []int32{0}, []Image{src})
	trans := NewTransformer(d, Rotate, ConvBoxBlur, rng)
	trans.Amount = 0
	out, err := trans.Transform(src, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out.(*RGBImage).Pix {
		if abs32(v-src.Pix[i]) > 1e-6 {
			t.Fatalf("pixel %d: got %v expect %v", i, v, src.Pix[i])
		}
	}
}

func TestWarpGray(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	src := constImage(8, 8, 0.5)
	d := NewData([]string{"0"}, []int32{0}, []Image{src})
	trans := NewTransformer(d, GrayTrans, ConvBoxBlur, rng)
	out, err := trans.Transform(src, 0)
	if err != nil {
		t.Fatal(err)
	}
	// interior of a constant image stays constant, borders may sample outside
	m := out.(*GrayImage)
	v := m.GrayAt(4, 4).Y
	if v < 0 || v > 0.5+1e-5 {
		t.Errorf("warped value %v out of range", v)
	}
}

func TestNormalise(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	src := constImage(4, 4, 0.8)
	d := NewData([]string{"0"}, []int32{0}, []Image{src})
	d.Mean = []float32{0.5}
	d.StdDev = []float32{0.25}
	trans := NewTransformer(d, Normalise, ConvBoxBlur, rng)
	out, err := trans.Transform(src, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range out.Pixels(0) {
		if abs32(v-1.2) > 1e-5 {
			t.Fatalf("normalised value %v expect 1.2", v)
		}
	}
}

func TestGetStats(t *testing.T) {
	images := []Image{constImage(4, 4, 0), constImage(4, 4, 1)}
	mean, std := GetStats(images)
	if abs32(mean[0]-0.5) > 1e-5 {
		t.Errorf("mean %v", mean[0])
	}
	if math.Abs(float64(std[0])-0.5) > 0.01 {
		t.Errorf("stddev %v", std[0])
	}
}

func TestDataInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m1 := constImage(2, 2, 0.25)
	m2 := constImage(2, 2, 0.75)
	d := NewData([]string{"a", "b"}, []int32{0, 1}, []Image{m1, m2})
	if !sameInts(d.Shape(), []int{2, 2, 1}) {
		t.Fatalf("shape %v", d.Shape())
	}
	d.SetTrans(false, false, rng)
	buf := make([]float32, 8)
	d.Input([]int{1, 0}, buf)
	for i := 0; i < 4; i++ {
		if buf[i] != 0.75 || buf[4+i] != 0.25 {
			t.Fatalf("input buffer %v", buf)
		}
	}
	labels := make([]int32, 2)
	d.Label([]int{1, 0}, labels)
	if labels[0] != 1 || labels[1] != 0 {
		t.Errorf("labels %v", labels)
	}
}

func TestTransTypeString(t *testing.T) {
	s := (Scale | Rotate | Elastic).String()
	if s != "Elastic Rotate Scale" {
		t.Errorf("trans type string %q", s)
	}
	if NoTrans.String() != "None" {
		t.Error("NoTrans string")
	}
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
