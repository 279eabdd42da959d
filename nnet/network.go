// Package nnet contains routines for constructing, training and testing neural networks.
package nnet

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/StevenLOL/algorithms-1/num"
)

// Network type represents a multilayer neural network model.
type Network struct {
	Config
	Layers    []Layer
	InShape   []int
	queue     num.Queue
	workSpace num.Array
	classes   num.Array
	diffs     num.Array
	total     num.Array
	batchErr  num.Array
	batchLoss num.Array
	inputGrad num.Array
}

// New function creates a new network from the given config. The input shape is
// in [h, w, channels] or [nfeat] form with the batch size as the last dimension
// of each layer array.
func New(queue num.Queue, conf Config, batchSize int, inShape []int, rng *rand.Rand) *Network {
	n := &Network{Config: conf, queue: queue}
	if conf.FlattenInput {
		n.InShape = []int{num.Prod(inShape), batchSize}
	} else {
		n.InShape = append(append([]int{}, inShape...), batchSize)
	}
	shape := n.InShape
	for _, l := range conf.Layers {
		layer := l.Unmarshal()
		layer.Init(queue, shape, rng)
		n.Layers = append(n.Layers, layer)
		shape = layer.OutShape()
	}
	if size := n.workSize(); size > 0 {
		n.workSpace = queue.NewArray(num.Float32, size)
	}
	n.batchLoss = queue.NewArray(num.Float32)
	return n
}

func (n *Network) workSize() int {
	size := 0
	for _, layer := range n.Layers {
		if ws, ok := layer.(workSized); ok && ws.WorkSize() > size {
			size = ws.WorkSize()
		}
	}
	return size
}

// Queue used for network operations
func (n *Network) Queue() num.Queue { return n.queue }

// Accessor for output layer
func (n *Network) OutLayer() OutputLayer {
	return n.Layers[len(n.Layers)-1].(OutputLayer)
}

// Initialise network weights
func (n *Network) InitWeights(rng *rand.Rand) {
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			l.InitParams(n.queue, n.WeightInit, rng)
		}
	}
	if n.DebugLevel >= 2 {
		n.PrintWeights()
	}
}

// Total number of weight and bias parameters
func (n *Network) NumWeights() int {
	total := 0
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			total += l.NumWeights()
		}
	}
	return total
}

// Copy weights, bias and batch norm statistics to the destination net
func (n *Network) CopyTo(q num.Queue, net *Network) {
	for i, layer := range n.Layers {
		copyLayer(q, layer, net.Layers[i])
	}
	q.Finish()
}

func copyLayer(q num.Queue, src, dst Layer) {
	if l, ok := src.(ParamLayer); ok {
		W, B := l.Params()
		w := make([]float32, W.Size())
		q.Call(num.Read(W, w))
		var b []float32
		if B != nil {
			b = make([]float32, B.Size())
			q.Call(num.Read(B, b))
		}
		q.Finish()
		dst.(ParamLayer).SetParams(q, w, b)
	}
	if l, ok := src.(BatchNormLayer); ok {
		mean, variance := l.Stats()
		dmean, dvar := dst.(BatchNormLayer).Stats()
		q.Call(
			num.Copy(dmean, mean),
			num.Copy(dvar, variance),
		)
	}
	if l, ok := src.(*concat); ok {
		for i, blk := range l.layers {
			copyLayer(q, blk, dst.(*concat).layers[i])
		}
	}
}

// Feed forward the input to get the predicted output
func (n *Network) Fprop(input num.Array, trainMode bool) num.Array {
	pred := input
	for i, layer := range n.Layers {
		if n.DebugLevel >= 3 && pred != nil {
			fmt.Printf("layer %d input\n%s", i, pred.String(n.queue))
		}
		pred = layer.Fprop(n.queue, pred, n.workSpace, trainMode)
	}
	return pred
}

// Feed forward in eval mode calling fn with the output from each layer
func (n *Network) FpropLayers(input num.Array, fn func(i int, out num.Array)) num.Array {
	pred := input
	for i, layer := range n.Layers {
		pred = layer.Fprop(n.queue, pred, n.workSpace, false)
		fn(i, pred)
	}
	return pred
}

// Predict output given input data, class labels are written to the classes array
func (n *Network) Predict(input, classes num.Array) num.Array {
	yPred := n.Fprop(input, false)
	if n.DebugLevel >= 3 {
		fmt.Printf("yPred\n%s", yPred.String(n.queue))
	}
	n.queue.Call(num.Unhot(yPred, classes))
	return yPred
}

// Calculate the error from the predicted versus actual values,
// if pred slice is not nil then also return the predicted output classes.
func (n *Network) Error(dset *Dataset, pred []int32) float64 {
	q := n.queue
	n.allocArrays(dset.BatchSize)
	q.Call(num.Fill(n.total, 0))
	dset.Rewind()
	for batch := 0; batch < dset.Batches(); batch++ {
		// queued ops must complete before the dataset reloads the buffers
		q.Finish()
		x, y, _ := dset.NextBatch()
		n.Predict(x, n.classes)
		q.Call(
			num.Neq(n.classes, y, n.diffs),
			num.Sum(n.diffs, n.batchErr, 1),
			num.Axpy(1, n.batchErr, n.total),
		)
		if pred != nil {
			start := batch * dset.BatchSize
			end := start + y.Dims()[0]
			if end > dset.Samples {
				end = dset.Samples
			}
			q.Call(num.Read(n.classes, pred[start:end]))
		}
		if n.DebugLevel >= 2 || (n.DebugLevel >= 1 && batch == 0) {
			fmt.Printf("batch %d error =%s\n", batch, n.batchErr.String(q))
		}
	}
	err := []float32{0}
	q.Call(num.Read(n.total, err)).Finish()
	// partial batches wrap around so each batch is full size
	return float64(err[0]) / float64(dset.Batches()*dset.BatchSize)
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	for i, layer := range n.Layers {
		s[i] = fmt.Sprintf("%2d: %-40s %v", i, layer.ToString(), layer.OutShape())
	}
	return fmt.Sprintf("%s\n\n== Network ==\n%s\ntotal weights: %d",
		n.Config.configString(), strings.Join(s, "\n"), n.NumWeights())
}

// Print network weights
func (n *Network) PrintWeights() {
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			fmt.Printf("== Layer %d weights ==\n%s", i, W.String(n.queue))
			if B != nil {
				fmt.Printf("%s\n", B.String(n.queue))
			}
		}
	}
}

// Release any arrays allocated by the network
func (n *Network) Release() {
	for _, layer := range n.Layers {
		layer.Release()
	}
	num.Release(n.workSpace, n.classes, n.diffs, n.total, n.batchErr, n.batchLoss, n.inputGrad)
}

func (n *Network) allocArrays(size int) {
	if n.classes == nil || n.classes.Dims()[0] != size {
		n.classes = n.queue.NewArray(num.Int32, size)
		n.diffs = n.queue.NewArray(num.Int32, size)
		n.batchErr = n.queue.NewArray(num.Float32)
		n.total = n.queue.NewArray(num.Float32)
	}
}

// Set random number seed, a seed <= 0 uses the current time
func SetSeed(seed int64) *rand.Rand {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	fmt.Println("random seed =", seed)
	return rand.New(rand.NewSource(seed))
}

// Exit in case of error
func CheckErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
