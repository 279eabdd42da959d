package classify

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/StevenLOL/algorithms-1/nnet"
	"github.com/StevenLOL/algorithms-1/num"
)

// Neural wraps a network from the nnet package in the Classifier interface.
// The output layer is sized to the number of classes when Fit is called.
type Neural struct {
	Epochs  int
	Batch   int
	Eta     float64
	Seed    int64
	name    string
	hidden  []int
	dropout float64
	isConv  bool
	dev     num.Device
	queue   num.Queue
	net     *nnet.Network
	dset    *nnet.Dataset
	classes int
	shape   []int
}

// NewMLP creates a fully connected relu network with the given hidden layer sizes.
func NewMLP(hidden ...int) *Neural {
	sizes := make([]string, len(hidden))
	for i, n := range hidden {
		sizes[i] = fmt.Sprint(n)
	}
	return &Neural{
		name: "neural net " + strings.Join(sizes, ":"), hidden: hidden,
		Epochs: 20, Batch: 128, Eta: 0.001, Seed: 42,
	}
}

// NewMLPDropout is an MLP with dropout after each hidden layer.
func NewMLPDropout(ratio float64, hidden ...int) *Neural {
	c := NewMLP(hidden...)
	c.name += fmt.Sprintf(" dropout %g", ratio)
	c.dropout = ratio
	return c
}

// NewCNN creates a two layer convolutional network. The input rows must
// reshape to square single channel images.
func NewCNN() *Neural {
	return &Neural{
		name: "convolutional net", isConv: true,
		Epochs: 10, Batch: 100, Eta: 0.001, Seed: 42,
	}
}

func (c *Neural) Name() string { return c.name }

func (c *Neural) config() nnet.Config {
	conf := nnet.Config{
		Optimiser:  "adam",
		Eta:        c.Eta,
		MaxEpoch:   c.Epochs,
		TrainBatch: c.Batch,
		Shuffle:    true,
		WeightInit: nnet.HeNormal,
		RandSeed:   c.Seed,
	}
	if c.isConv {
		layers := []nnet.LayerConfig{
			nnet.Conv{Nfeats: 32, Size: 5, Stride: 1, Pad: true}.Marshal(),
			nnet.Activation{Atype: "relu"}.Marshal(),
			nnet.Pool{Size: 2}.Marshal(),
			nnet.Conv{Nfeats: 64, Size: 5, Stride: 1, Pad: true}.Marshal(),
			nnet.Activation{Atype: "relu"}.Marshal(),
			nnet.Pool{Size: 2}.Marshal(),
			nnet.Flatten{}.Marshal(),
			nnet.Linear{Nout: 1024}.Marshal(),
			nnet.Activation{Atype: "relu"}.Marshal(),
			nnet.Dropout{Ratio: 0.5}.Marshal(),
			nnet.Linear{Nout: c.classes}.Marshal(),
			nnet.Activation{Atype: "softmax"}.Marshal(),
		}
		conf.Layers = layers
		return conf
	}
	conf.FlattenInput = true
	var layers []nnet.LayerConfig
	for _, n := range c.hidden {
		layers = append(layers,
			nnet.Linear{Nout: n}.Marshal(),
			nnet.Activation{Atype: "relu"}.Marshal(),
		)
		if c.dropout > 0 {
			layers = append(layers, nnet.Dropout{Ratio: c.dropout}.Marshal())
		}
	}
	conf.Layers = append(layers,
		nnet.Linear{Nout: c.classes}.Marshal(),
		nnet.Activation{Atype: "softmax"}.Marshal(),
	)
	return conf
}

func (c *Neural) Fit(x *mat.Dense, y []int) error {
	rows, cols := x.Dims()
	if rows != len(y) {
		return fmt.Errorf("%s: have %d samples but %d labels", c.name, rows, len(y))
	}
	c.classes = numClasses(y)
	if c.isConv {
		side := int(math.Sqrt(float64(cols)))
		if side*side != cols {
			return fmt.Errorf("%s: %d features is not a square image", c.name, cols)
		}
		c.shape = []int{side, side, 1}
	} else {
		c.shape = []int{cols}
	}
	data := nnet.NewData(c.classes, c.shape, toLabels(y), toInputs(x))
	rng := rand.New(rand.NewSource(c.Seed))
	conf := c.config()
	c.release()
	c.dev = num.NewDevice()
	c.queue = c.dev.NewQueue(0)
	c.dset = nnet.NewDataset(c.dev, data, conf.TrainBatch, 0, conf.FlattenInput, rng)
	c.net = nnet.New(c.queue, conf, c.dset.BatchSize, c.dset.Shape, rng)
	c.net.InitWeights(rng)
	opt := nnet.NewOptimiser(c.net, c.dset.BatchSize, c.dset.Samples)
	defer opt.Release()
	for epoch := 1; epoch <= conf.MaxEpoch; epoch++ {
		nnet.TrainEpoch(c.net, c.dset, epoch, opt)
	}
	return nil
}

func (c *Neural) Predict(x *mat.Dense) []int {
	rows, _ := x.Dims()
	data := nnet.NewData(c.classes, c.shape, make([]int32, rows), toInputs(x))
	rng := rand.New(rand.NewSource(c.Seed))
	dset := nnet.NewDataset(c.dev, data, c.dset.BatchSize, 0, c.net.FlattenInput, rng)
	defer dset.Release()
	pred := make([]int32, dset.Batches()*dset.BatchSize)
	c.net.Error(dset, pred)
	out := make([]int, rows)
	for i := range out {
		out[i] = int(pred[i])
	}
	return out
}

func (c *Neural) release() {
	if c.net != nil {
		c.net.Release()
		c.dset.Release()
		c.queue.Shutdown()
	}
}

func toLabels(y []int) []int32 {
	labels := make([]int32, len(y))
	for i, v := range y {
		labels[i] = int32(v)
	}
	return labels
}

func toInputs(x *mat.Dense) []float32 {
	rows, cols := x.Dims()
	inputs := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		for j, v := range row {
			inputs[i*cols+j] = float32(v)
		}
	}
	return inputs
}
