package num

import (
	"math"
	"math/rand"
	"testing"
)

// naive direct convolution for checking the im2col kernels
func convRef(src, W, B []float32, inShape []int, nfeats, size, stride, pad int) []float32 {
	h, w, chans, batch := inShape[0], inShape[1], inShape[2], inShape[3]
	oh := (h+2*pad-size)/stride + 1
	ow := (w+2*pad-size)/stride + 1
	out := make([]float32, oh*ow*nfeats*batch)
	for i := 0; i < batch; i++ {
		for f := 0; f < nfeats; f++ {
			for ox := 0; ox < ow; ox++ {
				for oy := 0; oy < oh; oy++ {
					var sum float32
					if B != nil {
						sum = B[f]
					}
					for c := 0; c < chans; c++ {
						for kx := 0; kx < size; kx++ {
							for ky := 0; ky < size; ky++ {
								x := ox*stride - pad + kx
								y := oy*stride - pad + ky
								if x < 0 || x >= w || y < 0 || y >= h {
									continue
								}
								sval := src[i*h*w*chans+c*h*w+x*h+y]
								wval := W[f*size*size*chans+c*size*size+kx*size+ky]
								sum += sval * wval
							}
						}
					}
					out[i*oh*ow*nfeats+f*oh*ow+ox*oh+oy] = sum
				}
			}
		}
	}
	return out
}

func TestConvFprop(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	rng := rand.New(rand.NewSource(42))
	inShape := []int{5, 5, 2, 3}
	const nfeats, size = 4, 3
	l := NewConvLayer(inShape, nfeats, size, 1, true, false)
	if !SameShape(l.OutShape(), []int{5, 5, nfeats, 3}) {
		t.Fatalf("out shape %v", l.OutShape())
	}
	srcData := randSlice(rng, Prod(inShape))
	wData := randSlice(rng, Prod(l.FilterShape()))
	bData := randSlice(rng, nfeats)
	src := q.NewArray(Float32, inShape...)
	W := q.NewArray(Float32, l.FilterShape()...)
	B := q.NewArray(Float32, l.BiasShape()...)
	dst := q.NewArray(Float32, l.OutShape()...)
	q.Call(
		Write(src, srcData),
		Write(W, wData),
		Write(B, bData),
		l.Fprop(src, W, B, dst, nil),
	)
	expect := convRef(srcData, wData, bData, inShape, nfeats, size, 1, 1)
	compare(t, q, "conv fprop", dst, expect)
}

func TestConvStride(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	rng := rand.New(rand.NewSource(7))
	inShape := []int{8, 8, 1, 2}
	const nfeats, size, stride = 2, 3, 2
	l := NewConvLayer(inShape, nfeats, size, stride, true, true)
	if !SameShape(l.OutShape(), []int{4, 4, nfeats, 2}) {
		t.Fatalf("out shape %v", l.OutShape())
	}
	if l.BiasShape() != nil {
		t.Fatal("expecting no bias")
	}
	srcData := randSlice(rng, Prod(inShape))
	wData := randSlice(rng, Prod(l.FilterShape()))
	src := q.NewArray(Float32, inShape...)
	W := q.NewArray(Float32, l.FilterShape()...)
	dst := q.NewArray(Float32, l.OutShape()...)
	q.Call(
		Write(src, srcData),
		Write(W, wData),
		l.Fprop(src, W, nil, dst, nil),
	)
	expect := convRef(srcData, wData, nil, inShape, nfeats, size, stride, 1)
	compare(t, q, "conv stride", dst, expect)
}

// finite difference check on the conv gradients
func TestConvBprop(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	rng := rand.New(rand.NewSource(11))
	inShape := []int{4, 4, 1, 2}
	const nfeats, size = 2, 3
	l := NewConvLayer(inShape, nfeats, size, 1, true, false)
	srcData := randSlice(rng, Prod(inShape))
	wData := randSlice(rng, Prod(l.FilterShape()))
	bData := randSlice(rng, nfeats)
	gradData := randSlice(rng, Prod(l.OutShape()))

	src := q.NewArray(Float32, inShape...)
	W := q.NewArray(Float32, l.FilterShape()...)
	B := q.NewArray(Float32, l.BiasShape()...)
	grad := q.NewArray(Float32, l.OutShape()...)
	dW := q.NewArray(Float32, l.FilterShape()...)
	dB := q.NewArray(Float32, l.BiasShape()...)
	dsrc := q.NewArray(Float32, inShape...)
	q.Call(
		Write(src, srcData),
		Write(W, wData),
		Write(B, bData),
		Write(grad, gradData),
		l.BpropParams(src, grad, dW, dB, nil),
		l.BpropData(W, grad, dsrc, nil),
	)
	// loss = sum(out*gradData) so dLoss/dW etc. should match the kernels
	loss := func(sd, wd, bd []float32) float64 {
		out := convRef(sd, wd, bd, inShape, nfeats, size, 1, 1)
		var sum float64
		for i, v := range out {
			sum += float64(v) * float64(gradData[i])
		}
		return sum
	}
	const h = 1e-2
	checkGrad := func(title string, data []float32, arr Array, eval func() float64) {
		got := make([]float32, arr.Size())
		q.Call(Read(arr, got)).Finish()
		for _, i := range []int{0, 1, len(data) / 2, len(data) - 1} {
			orig := data[i]
			data[i] = orig + h
			lp := eval()
			data[i] = orig - h
			lm := eval()
			data[i] = orig
			want := (lp - lm) / (2 * h)
			if math.Abs(float64(got[i])-want) > 1e-2 {
				t.Errorf("%s grad mismatch at %d: got %v expect %v", title, i, got[i], want)
			}
		}
	}
	checkGrad("dW", wData, dW, func() float64 { return loss(srcData, wData, bData) })
	checkGrad("dB", bData, dB, func() float64 { return loss(srcData, wData, bData) })
	checkGrad("dsrc", srcData, dsrc, func() float64 { return loss(srcData, wData, bData) })
}

func TestMaxPool(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	inShape := []int{4, 4, 1, 1}
	l := NewPoolLayer(inShape, 2, 2, false, false)
	if !SameShape(l.OutShape(), []int{2, 2, 1, 1}) {
		t.Fatalf("out shape %v", l.OutShape())
	}
	// columns of the input image
	srcData := []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16}
	src := q.NewArray(Float32, inShape...)
	dst := q.NewArray(Float32, l.OutShape()...)
	q.Call(
		Write(src, srcData),
		l.Fprop(src, dst),
	)
	compare(t, q, "maxpool", dst, []float32{6, 8, 14, 16})

	grad := q.NewArray(Float32, l.OutShape()...)
	dsrc := q.NewArray(Float32, inShape...)
	q.Call(
		Write(grad, []float32{1, 2, 3, 4}),
		l.Bprop(grad, dsrc),
	)
	compare(t, q, "maxpool grad", dsrc, []float32{
		0, 0, 0, 0,
		0, 1, 0, 2,
		0, 0, 0, 0,
		0, 3, 0, 4})
}

func TestAvgPool(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	inShape := []int{4, 4, 1, 1}
	l := NewPoolLayer(inShape, 2, 2, false, true)
	srcData := []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16}
	src := q.NewArray(Float32, inShape...)
	dst := q.NewArray(Float32, l.OutShape()...)
	q.Call(
		Write(src, srcData),
		l.Fprop(src, dst),
	)
	compare(t, q, "avgpool", dst, []float32{3.5, 5.5, 11.5, 13.5})

	grad := q.NewArray(Float32, l.OutShape()...)
	dsrc := q.NewArray(Float32, inShape...)
	q.Call(
		Write(grad, []float32{4, 4, 4, 4}),
		l.Bprop(grad, dsrc),
	)
	expect := make([]float32, 16)
	for i := range expect {
		expect[i] = 1
	}
	compare(t, q, "avgpool grad", dsrc, expect)
}

func TestBatchNorm(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	rng := rand.New(rand.NewSource(5))
	inShape := []int{3, 3, 2, 4}
	dev := NewDevice()
	l := NewBatchNormLayer(dev, inShape, 0.1, 1e-5)
	srcData := make([]float32, Prod(inShape))
	for i := range srcData {
		srcData[i] = rng.Float32()*4 - 1
	}
	src := q.NewArray(Float32, inShape...)
	gamma := q.NewArray(Float32, 2)
	beta := q.NewArray(Float32, 2)
	dst := q.NewArray(Float32, inShape...)
	q.Call(
		Write(src, srcData),
		Fill(gamma, 1),
		Fill(beta, 0),
		l.Fprop(src, gamma, beta, dst, true),
	)
	got := make([]float32, Prod(inShape))
	q.Call(Read(dst, got)).Finish()
	// each channel should be normalised to zero mean and unit variance
	plane, isize := 9, 18
	for c := 0; c < 2; c++ {
		var sum, sum2 float64
		for i := 0; i < 4; i++ {
			for j := 0; j < plane; j++ {
				v := float64(got[i*isize+c*plane+j])
				sum += v
				sum2 += v * v
			}
		}
		n := float64(4 * plane)
		mean := sum / n
		variance := sum2/n - mean*mean
		if math.Abs(mean) > 1e-4 {
			t.Errorf("channel %d mean %v", c, mean)
		}
		if math.Abs(variance-1) > 1e-3 {
			t.Errorf("channel %d variance %v", c, variance)
		}
	}
}

func TestDropout(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	inShape := []int{10, 10}
	l := NewDropoutLayer(inShape, 0.5, 42)
	src := q.NewArray(Float32, inShape...)
	dst := q.NewArray(Float32, inShape...)
	q.Call(
		Fill(src, 1),
		l.Fprop(src, dst, false),
	)
	expect := make([]float32, 100)
	for i := range expect {
		expect[i] = 1
	}
	compare(t, q, "dropout eval", dst, expect)

	q.Call(l.Fprop(src, dst, true))
	got := make([]float32, 100)
	q.Call(Read(dst, got)).Finish()
	zeros := 0
	for _, v := range got {
		if v == 0 {
			zeros++
		} else if abs(v-2) > eps {
			t.Fatalf("kept value %v should be scaled to 2", v)
		}
	}
	if zeros < 25 || zeros > 75 {
		t.Errorf("%d of 100 dropped, expecting around 50", zeros)
	}
	// gradient uses the same mask
	grad := q.NewArray(Float32, inShape...)
	dsrc := q.NewArray(Float32, inShape...)
	q.Call(
		Fill(grad, 1),
		l.Bprop(grad, dsrc),
	)
	gotG := make([]float32, 100)
	q.Call(Read(dsrc, gotG)).Finish()
	for i := range got {
		if (got[i] == 0) != (gotG[i] == 0) {
			t.Fatal("gradient mask differs from forward mask")
		}
	}
}
