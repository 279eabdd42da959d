package nnet

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/StevenLOL/algorithms-1/num"
)

const (
	batch = 5
	nIn   = 6
	nOut  = 4
	eps   = 1e-5
)

func abs32(x float32) float32 {
	if x >= 0 {
		return x
	}
	return -x
}

func randArray(rng *rand.Rand, size int, min, max float32) []float32 {
	v := make([]float32, size)
	for i := range v {
		v[i] = min + rng.Float32()*(max-min)
	}
	return v
}

func compareArray(t *testing.T, q num.Queue, title string, a num.Array, expect []float32) {
	t.Helper()
	arr := make([]float32, a.Size())
	q.Call(num.Read(a, arr)).Finish()
	if len(arr) != len(expect) {
		t.Fatal(title, "length mismatch!")
	}
	for i := range arr {
		if abs32(arr[i]-expect[i]) > eps {
			t.Errorf("%s mismatch at %d: got %v expect %v", title, i, arr[i], expect[i])
			return
		}
	}
}

func TestLinearFprop(t *testing.T) {
	dev := num.NewDevice()
	q := dev.NewQueue(1)
	defer q.Shutdown()
	rng := rand.New(rand.NewSource(42))
	weights := randArray(rng, nIn*nOut, -0.5, 0.5)
	bias := randArray(rng, nOut, 0.1, 0.2)
	inData := randArray(rng, nIn*batch, 0, 1)

	lin := &linear{Linear: Linear{Nout: nOut}}
	lin.Init(q, []int{nIn, batch}, rng)
	lin.SetParams(q, weights, bias)
	input := q.NewArray(num.Float32, nIn, batch)
	q.Call(num.Write(input, inData))

	output := lin.Fprop(q, input, nil, true)
	t.Logf("== output ==\n%s", output.String(q))

	// column major reference: out[o,j] = sum_i in[i,j]*w[i,o] + b[o]
	expect := make([]float32, nOut*batch)
	for j := 0; j < batch; j++ {
		for o := 0; o < nOut; o++ {
			sum := bias[o]
			for i := 0; i < nIn; i++ {
				sum += inData[i+j*nIn] * weights[i+o*nIn]
			}
			expect[o+j*nOut] = sum
		}
	}
	compareArray(t, q, "output", output, expect)
}

func TestLinearBprop(t *testing.T) {
	dev := num.NewDevice()
	q := dev.NewQueue(1)
	defer q.Shutdown()
	rng := rand.New(rand.NewSource(42))
	weights := randArray(rng, nIn*nOut, -0.5, 0.5)
	bias := randArray(rng, nOut, 0.1, 0.2)
	inData := randArray(rng, nIn*batch, 0, 1)
	gradData := randArray(rng, nOut*batch, -1, 1)

	lin := &linear{Linear: Linear{Nout: nOut}}
	lin.Init(q, []int{nIn, batch}, rng)
	lin.SetParams(q, weights, bias)
	input := q.NewArray(num.Float32, nIn, batch)
	grad := q.NewArray(num.Float32, nOut, batch)
	q.Call(
		num.Write(input, inData),
		num.Write(grad, gradData),
	)
	lin.Fprop(q, input, nil, true)
	dsrc := lin.Bprop(q, grad, nil)

	expW := make([]float32, nIn*nOut)
	for o := 0; o < nOut; o++ {
		for i := 0; i < nIn; i++ {
			var sum float32
			for j := 0; j < batch; j++ {
				sum += inData[i+j*nIn] * gradData[o+j*nOut]
			}
			expW[i+o*nIn] = sum
		}
	}
	expB := make([]float32, nOut)
	for o := 0; o < nOut; o++ {
		for j := 0; j < batch; j++ {
			expB[o] += gradData[o+j*nOut]
		}
	}
	expSrc := make([]float32, nIn*batch)
	for j := 0; j < batch; j++ {
		for i := 0; i < nIn; i++ {
			var sum float32
			for o := 0; o < nOut; o++ {
				sum += gradData[o+j*nOut] * weights[i+o*nIn]
			}
			expSrc[i+j*nIn] = sum
		}
	}
	compareArray(t, q, "dW", lin.dw, expW)
	compareArray(t, q, "dB", lin.db, expB)
	compareArray(t, q, "dsrc", dsrc, expSrc)
}

func TestConfigRoundTrip(t *testing.T) {
	conf := Config{
		DataSet:    "mnist",
		Optimiser:  "adam",
		Eta:        0.0001,
		MaxEpoch:   10,
		TrainBatch: 64,
		WeightInit: GlorotUniform,
	}.AddLayers(
		Conv{Nfeats: 32, Size: 5, Stride: 1, Pad: true},
		Pool{Size: 2},
		NewConcat(
			BatchNorm{},
			Activation{Atype: "relu"},
			Conv{Nfeats: 12, Size: 3, Stride: 1, Pad: true, NoBias: true},
		),
		Flatten{},
		Linear{Nout: 10},
		Dropout{Ratio: 0.5},
		Activation{Atype: "softmax"},
	)
	DataDir = t.TempDir()
	if err := conf.Save("test.conf"); err != nil {
		t.Fatal(err)
	}
	conf2, err := LoadConfig("test.conf")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(conf.Layers, conf2.Layers) {
		t.Errorf("layers differ after reload\n%v\n%v", conf.Layers, conf2.Layers)
	}
	if conf2.Eta != conf.Eta || conf2.Optimiser != conf.Optimiser || conf2.WeightInit != conf.WeightInit {
		t.Error("config fields differ after reload")
	}
	for i, l := range conf2.Layers {
		t.Logf("%2d: %s", i, l)
	}
}

func TestConcatLayer(t *testing.T) {
	dev := num.NewDevice()
	q := dev.NewQueue(1)
	defer q.Shutdown()
	rng := rand.New(rand.NewSource(1))
	const h, w, c, k, n = 4, 4, 2, 3, 2

	cfg := NewConcat(Conv{Nfeats: k, Size: 3, Stride: 1, Pad: true, NoBias: true})
	layer := cfg.Marshal().Unmarshal().(*concat)
	layer.Init(q, []int{h, w, c, n}, rng)

	if !num.SameShape(layer.OutShape(), []int{h, w, c + k, n}) {
		t.Fatalf("concat out shape %v", layer.OutShape())
	}
	// with zero conv weights the block contributes nothing
	inData := randArray(rng, h*w*c*n, -1, 1)
	input := q.NewArray(num.Float32, h, w, c, n)
	q.Call(num.Write(input, inData))
	out := layer.Fprop(q, input, nil, true)

	got := make([]float32, out.Size())
	q.Call(num.Read(out, got)).Finish()
	plane := h * w
	for i := 0; i < n; i++ {
		for j := 0; j < c*plane; j++ {
			if got[i*(c+k)*plane+j] != inData[i*c*plane+j] {
				t.Fatal("identity channels do not match input")
			}
		}
		for j := c * plane; j < (c+k)*plane; j++ {
			if got[i*(c+k)*plane+j] != 0 {
				t.Fatal("block channels should be zero")
			}
		}
	}
	// gradient through the identity path
	gradData := randArray(rng, h*w*(c+k)*n, -1, 1)
	grad := q.NewArray(num.Float32, h, w, c+k, n)
	q.Call(num.Write(grad, gradData))
	dsrc := layer.Bprop(q, grad, nil)
	gotG := make([]float32, dsrc.Size())
	q.Call(num.Read(dsrc, gotG)).Finish()
	for i := 0; i < n; i++ {
		for j := 0; j < c*plane; j++ {
			if gotG[i*c*plane+j] != gradData[i*(c+k)*plane+j] {
				t.Fatal("identity gradient does not match")
			}
		}
	}
}

func xorData() Data {
	return NewData(2, []int{2},
		[]int32{0, 1, 1, 0},
		[]float32{0, 0, 0, 1, 1, 0, 1, 1})
}

func TestTrainXor(t *testing.T) {
	conf := Config{
		Eta:          2,
		MaxEpoch:     2000,
		TrainBatch:   4,
		TestBatch:    4,
		LogEvery:     500,
		FlattenInput: true,
		RandSeed:     42,
	}.AddLayers(
		Linear{Nout: 4},
		Activation{Atype: "sigmoid"},
		Linear{Nout: 2},
		Activation{Atype: "sigmoid"},
	)
	dev := num.NewDevice()
	q := dev.NewQueue(1)
	defer q.Shutdown()
	rng := rand.New(rand.NewSource(conf.RandSeed))
	data := map[string]Data{"train": xorData()}
	dset := NewDataset(dev, data["train"], conf.TrainBatch, 0, conf.FlattenInput, rng)
	defer dset.Release()

	net := New(q, conf, dset.BatchSize, dset.Shape, rng)
	net.InitWeights(rng)
	opt := NewOptimiser(net, dset.BatchSize, dset.Samples)
	defer opt.Release()

	loss0 := TrainEpoch(net, dset, 1, opt)
	var loss float64
	for epoch := 2; epoch <= conf.MaxEpoch; epoch++ {
		loss = TrainEpoch(net, dset, epoch, opt)
	}
	t.Logf("loss %.4f => %.4f", loss0, loss)
	if loss >= loss0 {
		t.Error("loss did not decrease")
	}
	errVal := net.Error(dset, nil)
	t.Logf("train error %.2f%%", errVal*100)
	if errVal > 0.25 {
		t.Errorf("train error %.2f too high", errVal)
	}
}

// fixed weight net over several batches: out0 = 0.5, out1 = x so the
// prediction flips at x = 0.5
func thresholdData() ([]float32, []int32) {
	return []float32{0, 0.2, 0.6, 0.8, 1, 1.2, 1.4, 1.6},
		[]int32{0, 0, 1, 1, 1, 1, 1, 1}
}

func TestErrorMultiBatch(t *testing.T) {
	conf := Config{
		TrainBatch:   2,
		TestBatch:    2,
		FlattenInput: true,
	}.AddLayers(
		Linear{Nout: 2},
		Activation{Atype: "softmax"},
	)
	inputs, want := thresholdData()
	data := NewData(2, []int{1}, want, inputs)
	dev := num.NewDevice()
	q := dev.NewQueue(1)
	defer q.Shutdown()
	rng := rand.New(rand.NewSource(11))
	dset := NewDataset(dev, data, conf.TestBatch, 0, conf.FlattenInput, rng)
	defer dset.Release()

	net := New(q, conf, dset.BatchSize, dset.Shape, rng)
	defer net.Release()
	net.Layers[0].(ParamLayer).SetParams(q, []float32{0, 1}, []float32{0.5, 0})

	pred := make([]int32, dset.Samples)
	errVal := net.Error(dset, pred)
	if errVal != 0 {
		t.Errorf("error %v expect 0", errVal)
	}
	if !reflect.DeepEqual(pred, want) {
		t.Errorf("pred %v expect %v", pred, want)
	}
}

func TestTrainEpochLoss(t *testing.T) {
	conf := Config{
		Eta:          0,
		TrainBatch:   2,
		FlattenInput: true,
	}.AddLayers(
		Linear{Nout: 2},
		Activation{Atype: "softmax"},
	)
	inputs, labels := thresholdData()
	data := NewData(2, []int{1}, labels, inputs)
	dev := num.NewDevice()
	q := dev.NewQueue(1)
	defer q.Shutdown()
	rng := rand.New(rand.NewSource(11))
	dset := NewDataset(dev, data, conf.TrainBatch, 0, conf.FlattenInput, rng)
	defer dset.Release()

	net := New(q, conf, dset.BatchSize, dset.Shape, rng)
	defer net.Release()
	net.Layers[0].(ParamLayer).SetParams(q, []float32{0, 1}, []float32{0.5, 0})
	opt := NewOptimiser(net, dset.BatchSize, dset.Samples)
	defer opt.Release()

	// with zero learning rate every batch is scored with the same weights
	var expect float64
	for i, x := range inputs {
		out := []float64{0.5, float64(x)}
		p := math.Exp(out[labels[i]]) / (math.Exp(out[0]) + math.Exp(out[1]))
		expect -= math.Log(p + 1e-7)
	}
	expect /= float64(len(inputs))

	for epoch := 1; epoch <= 2; epoch++ {
		loss := TrainEpoch(net, dset, epoch, opt)
		if math.Abs(loss-expect) > 1e-4 {
			t.Errorf("epoch %d: loss %v expect %v", epoch, loss, expect)
		}
	}
}

func TestModelRoundTrip(t *testing.T) {
	DataDir = t.TempDir()
	conf := Config{
		DataSet:    "test",
		Eta:        0.1,
		TrainBatch: 4,
		WeightInit: HeNormal,
	}.AddLayers(
		Conv{Nfeats: 4, Size: 3, Stride: 1, Pad: true},
		BatchNorm{AvgFactor: 0.1, Epsilon: 1e-5},
		Activation{Atype: "relu"},
		Flatten{},
		Linear{Nout: 3},
		Activation{Atype: "softmax"},
	)
	dev := num.NewDevice()
	q := dev.NewQueue(1)
	defer q.Shutdown()
	rng := rand.New(rand.NewSource(99))
	net := New(q, conf, 4, []int{5, 5, 1}, rng)
	net.InitWeights(rng)

	if err := SaveModel(q, net, "test_model", 7); err != nil {
		t.Fatal(err)
	}
	net2, epoch, err := LoadModel(q, "test_model", 4, rng)
	if err != nil {
		t.Fatal(err)
	}
	if epoch != 7 {
		t.Errorf("epoch %d expecting 7", epoch)
	}
	if !reflect.DeepEqual(net.ExportParams(), net2.ExportParams()) {
		t.Error("params differ after reload")
	}
}

func TestDataset(t *testing.T) {
	dev := num.NewDevice()
	rng := rand.New(rand.NewSource(3))
	const n, nfeat = 10, 3
	labels := make([]int32, n)
	inputs := make([]float32, n*nfeat)
	for i := range labels {
		labels[i] = int32(i % 4)
		for j := 0; j < nfeat; j++ {
			inputs[i*nfeat+j] = float32(i) + float32(j)/10
		}
	}
	data := NewData(4, []int{nfeat}, labels, inputs)
	dset := NewDataset(dev, data, 4, 0, true, rng)
	defer dset.Release()

	if dset.Batches() != 3 {
		t.Fatalf("expecting 3 batches got %d", dset.Batches())
	}
	x, y, y1H := dset.NextBatch()
	xData := make([]float32, x.Size())
	yData := make([]int32, y.Size())
	hData := make([]float32, y1H.Size())
	dset.Wait()
	q := dev.NewQueue(1)
	defer q.Shutdown()
	q.Call(
		num.Read(x, xData),
		num.Read(y, yData),
		num.Read(y1H, hData),
	).Finish()
	for i := 0; i < 4; i++ {
		if yData[i] != labels[i] {
			t.Errorf("batch 0 label %d: got %d expect %d", i, yData[i], labels[i])
		}
		if xData[i*nfeat] != inputs[i*nfeat] {
			t.Errorf("batch 0 input %d mismatch", i)
		}
		if hData[int(labels[i])+i*4] != 1 {
			t.Errorf("batch 0 onehot %d not set", i)
		}
	}
}
