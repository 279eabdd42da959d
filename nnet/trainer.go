package nnet

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/StevenLOL/algorithms-1/num"
	"github.com/StevenLOL/algorithms-1/stats"
)

// Training statistics for one epoch
type Stats struct {
	Epoch     int
	Values    []float64
	BestSince int
	Elapsed   time.Duration
}

// Column headers for the stats values
func StatsHeaders(d map[string]Data) []string {
	h := []string{"loss"}
	for _, key := range DataTypes {
		if _, ok := d[key]; ok {
			h = append(h, key+" error")
			if key == "valid" {
				h = append(h, "valid avg")
			}
		}
	}
	return h
}

func (s Stats) Format() []string {
	str := []string{fmt.Sprintf("%7.4f", s.Values[0])}
	for _, v := range s.Values[1:] {
		str = append(str, fmt.Sprintf("%6.2f%%", v*100))
	}
	return str
}

// Tester interface to evaluate the performance after each epoch,
// Test method returns true if training should stop.
type Tester interface {
	Test(net *Network, epoch int, loss float64, start time.Time) bool
}

// Tester which evaluates the loss and error for each of the data sets and updates the stats.
type TestBase struct {
	Net       *Network
	Data      map[string]*Dataset
	Pred      map[string][]int32
	Stats     []Stats
	Headers   []string
	ModelName string
	Samples   int
	monitor   string
	emaVal    float64
	best      float64
	bestEpoch int
}

// Create a new base tester which implements the Tester interface.
func NewTestBase() *TestBase {
	return &TestBase{Stats: []Stats{}}
}

// Initialise the test datasets and the network copy used for evaluation.
func (t *TestBase) Init(queue num.Queue, conf Config, data map[string]Data, rng *rand.Rand) *TestBase {
	t.Data = make(map[string]*Dataset)
	t.Headers = StatsHeaders(data)
	t.Samples = data["train"].Len()
	if conf.MaxSamples > 0 && t.Samples > conf.MaxSamples {
		t.Samples = conf.MaxSamples
	}
	t.Pred = nil
	t.best = math.MaxFloat64
	if conf.DebugLevel >= 1 {
		fmt.Printf("init tester: samples=%d batch size=%d\n", t.Samples, conf.TestBatch)
	}
	for key, d := range data {
		dset := NewDataset(queue.Dev(), d, conf.TestBatch, conf.MaxSamples, conf.FlattenInput, rng)
		dset.SetTrans(conf.Normalise, false)
		t.Data[key] = dset
	}
	for _, key := range []string{"valid", "test", "train"} {
		if _, ok := t.Data[key]; ok && t.monitor == "" {
			t.monitor = key
		}
	}
	t.Net = New(queue, conf, t.Data["train"].BatchSize, t.Data["train"].Shape, rng)
	return t
}

// Generate the predicted results when test is next run.
func (t *TestBase) Predict() *TestBase {
	t.Pred = make(map[string][]int32)
	for key, dset := range t.Data {
		t.Pred[key] = make([]int32, dset.Samples)
	}
	return t
}

// Reset stats prior to new run
func (t *TestBase) Reset() {
	t.Stats = t.Stats[:0]
	t.emaVal = 0
	t.best = math.MaxFloat64
	t.bestEpoch = 0
}

// Release the datasets and network copy
func (t *TestBase) Release() {
	for _, dset := range t.Data {
		dset.Release()
	}
	t.Net.Release()
}

// Test performance of the network, called from the Train function after each epoch.
func (t *TestBase) Test(net *Network, epoch int, loss float64, start time.Time) bool {
	net.CopyTo(net.queue, t.Net)
	if net.DebugLevel >= 1 {
		fmt.Printf("== TEST EPOCH %d ==\n", epoch)
	}
	s := Stats{Epoch: epoch, Values: []float64{loss}, BestSince: -1}
	var monErr float64
	for _, key := range DataTypes {
		dset, ok := t.Data[key]
		if !ok {
			continue
		}
		if dset.Samples < dset.Data.Len() {
			dset.Shuffle()
		}
		var pred []int32
		if t.Pred != nil {
			pred = t.Pred[key]
		}
		errVal := t.Net.Error(dset, pred)
		s.Values = append(s.Values, errVal)
		if key == t.monitor {
			monErr = errVal
		}
		if key == "valid" {
			if net.ValidEMA > 0 {
				t.emaVal = stats.EMA(t.emaVal).Add(errVal, net.ValidEMA)
			} else {
				t.emaVal = errVal
			}
			s.Values = append(s.Values, t.emaVal)
		}
	}
	// track the monitored error, smoothed when we have a validation set
	val := monErr
	if t.monitor == "valid" {
		val = t.emaVal
	}
	if val < t.best {
		t.best = val
		t.bestEpoch = epoch
		if net.SaveBest && t.ModelName != "" {
			err := SaveModel(net.queue, t.Net, t.ModelName+"_best", epoch)
			CheckErr(err)
		}
	}
	s.BestSince = epoch - t.bestEpoch
	s.Elapsed = time.Since(start)
	t.Stats = append(t.Stats, s)
	return epoch >= net.MaxEpoch || loss <= net.MinLoss ||
		(net.StopAfter > 0 && s.BestSince >= net.StopAfter)
}

// Tester which logs the stats to stdout.
type TestLogger struct {
	*TestBase
}

// Create a new tester which logs stats to stdout after each epoch.
func NewTestLogger(queue num.Queue, conf Config, data map[string]Data, rng *rand.Rand) TestLogger {
	return TestLogger{TestBase: NewTestBase().Init(queue, conf, data, rng)}
}

func (t TestLogger) Test(net *Network, epoch int, loss float64, start time.Time) bool {
	done := t.TestBase.Test(net, epoch, loss, start)
	s := t.Stats[len(t.Stats)-1]
	if done || net.LogEvery == 0 || epoch%net.LogEvery == 0 {
		msg := fmt.Sprintf("epoch %3d:", epoch)
		for i, val := range s.Format() {
			msg += fmt.Sprintf("  %s =%s", t.Headers[i], val)
		}
		if s.BestSince > 0 {
			msg += fmt.Sprintf(" [%d]", s.BestSince)
		}
		fmt.Println(msg)
	}
	if done {
		fmt.Printf("run time: %s\n", s.Elapsed.Round(10*time.Millisecond))
	}
	return done
}

// Train the network on the given training set, testing after each epoch.
// If the tester signals an early stop and ExtraEpochs is set then training
// continues for the extra epochs with distortion disabled.
func Train(net *Network, dset *Dataset, test Tester) {
	opt := NewOptimiser(net, dset.BatchSize, dset.Batches()*dset.BatchSize)
	defer opt.Release()
	done := false
	epilogue := false
	maxEpoch := net.MaxEpoch
	start := time.Now()
	for epoch := 1; !done && epoch <= maxEpoch; epoch++ {
		loss := TrainEpoch(net, dset, epoch, opt)
		done = test.Test(net, epoch, loss, start)
		if done && !epilogue && net.ExtraEpochs > 0 && epoch+net.ExtraEpochs <= net.MaxEpoch {
			epilogue = true
			maxEpoch = epoch + net.ExtraEpochs
			dset.SetTrans(net.Normalise, false)
			done = false
		}
	}
}

// Perform one training epoch on dataset, returns the mean loss per sample.
func TrainEpoch(net *Network, dset *Dataset, epoch int, opt Optimiser) float64 {
	q := net.queue
	if net.inputGrad == nil {
		n := len(dset.Classes())
		net.inputGrad = q.NewArray(num.Float32, n, dset.BatchSize)
	}
	if net.Shuffle {
		dset.Shuffle()
	}
	dset.Rewind()
	acc := q.NewArray(num.Float32)
	q.Call(num.Fill(acc, 0))
	for batch := 0; batch < dset.Batches(); batch++ {
		if net.DebugLevel >= 2 || (net.DebugLevel == 1 && batch == 0) {
			fmt.Printf("== train batch %d ==\n", batch)
		}
		// queued ops must complete before the dataset reloads the buffers
		q.Finish()
		x, _, yOneHot := dset.NextBatch()
		yPred := net.Fprop(x, true)
		if net.DebugLevel >= 2 {
			fmt.Printf("yOneHot:\n%s", yOneHot.String(q))
			fmt.Printf("yPred:\n%s", yPred.String(q))
		}
		losses := net.OutLayer().Loss(q, yOneHot, yPred)
		q.Call(
			num.Sum(losses, net.batchLoss, 1),
			num.Axpy(1, net.batchLoss, acc),
		)
		// gradient at the output
		q.Call(
			num.Copy(net.inputGrad, yPred),
			num.Axpy(-1, yOneHot, net.inputGrad),
		)
		grad := net.inputGrad
		for i := len(net.Layers) - 1; i >= 0; i-- {
			grad = net.Layers[i].Bprop(q, grad, net.workSpace)
			if net.DebugLevel >= 3 && grad != nil {
				fmt.Printf("layer %d bprop output:\n%s", i, grad.String(q))
			}
		}
		opt.Update(epoch)
	}
	lossVal := []float32{0}
	q.Call(num.Read(acc, lossVal)).Finish()
	acc.Release()
	return float64(lossVal[0]) / float64(dset.Batches()*dset.BatchSize)
}

// Optimiser updates the network weights from the gradients after each batch.
type Optimiser interface {
	Update(epoch int)
	Release()
}

// Create the optimiser given by the network config: sgd optionally with
// momentum or nesterov momentum, or adam. Weight decay of eta*lambda/samples
// is applied to the conv and linear layer weights.
func NewOptimiser(net *Network, batchSize, samples int) Optimiser {
	base := optBase{
		net:       net,
		batch:     float32(batchSize),
		lambdaN:   float32(net.Lambda / float64(samples)),
		paramList: paramLayers(net.Layers),
	}
	switch net.OptimiserType() {
	case "adam":
		return newAdamOpt(base)
	default:
		return newSgdOpt(base, net.OptimiserType() == "nesterov")
	}
}

func paramLayers(layers []Layer) (list []ParamLayer) {
	for _, l := range layers {
		if c, ok := l.(*concat); ok {
			list = append(list, paramLayers(c.layers)...)
		} else if p, ok := l.(ParamLayer); ok {
			list = append(list, p)
		}
	}
	return list
}

type optBase struct {
	net       *Network
	batch     float32
	lambdaN   float32
	paramList []ParamLayer
}

// learning rate at given epoch
func (o optBase) eta(epoch int) float32 {
	eta := o.net.Eta
	if o.net.EtaDecay > 0 && o.net.EtaDecayStep > 0 {
		eta *= math.Pow(o.net.EtaDecay, float64((epoch-1)/o.net.EtaDecayStep))
	}
	return float32(eta)
}

// add weight decay gradient, scaled so update applies eta*lambda/samples per sample
func (o optBase) decayGrads(q num.Queue, p ParamLayer) {
	if o.lambdaN != 0 && p.Type() != "batchNorm" {
		W, _ := p.Params()
		dW, _ := p.ParamGrads()
		q.Call(num.Axpy(o.lambdaN*o.batch, W, dW))
	}
}

type sgdOpt struct {
	optBase
	nesterov bool
	vW, vB   []num.Array
}

func newSgdOpt(base optBase, nesterov bool) *sgdOpt {
	o := &sgdOpt{optBase: base, nesterov: nesterov}
	if base.net.Momentum != 0 {
		q := base.net.queue
		for _, p := range o.paramList {
			W, B := p.Params()
			o.vW = append(o.vW, q.NewArrayLike(W))
			if B != nil {
				o.vB = append(o.vB, q.NewArrayLike(B))
			} else {
				o.vB = append(o.vB, nil)
			}
		}
	}
	return o
}

func (o *sgdOpt) Update(epoch int) {
	q := o.net.queue
	eta := o.eta(epoch) / o.batch
	mom := float32(o.net.Momentum)
	for i, p := range o.paramList {
		o.decayGrads(q, p)
		W, B := p.Params()
		dW, dB := p.ParamGrads()
		if mom == 0 {
			q.Call(num.Axpy(-eta, dW, W))
			if B != nil {
				q.Call(num.Axpy(-eta, dB, B))
			}
			continue
		}
		q.Call(
			num.Scale(mom, o.vW[i]),
			num.Axpy(-eta, dW, o.vW[i]),
		)
		if o.nesterov {
			q.Call(
				num.Axpy(mom, o.vW[i], W),
				num.Axpy(-eta, dW, W),
			)
		} else {
			q.Call(num.Axpy(1, o.vW[i], W))
		}
		if B != nil {
			q.Call(
				num.Scale(mom, o.vB[i]),
				num.Axpy(-eta, dB, o.vB[i]),
			)
			if o.nesterov {
				q.Call(
					num.Axpy(mom, o.vB[i], B),
					num.Axpy(-eta, dB, B),
				)
			} else {
				q.Call(num.Axpy(1, o.vB[i], B))
			}
		}
	}
}

func (o *sgdOpt) Release() {
	num.Release(o.vW...)
	num.Release(o.vB...)
}

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

type adamOpt struct {
	optBase
	step   int
	mW, mB []num.Array
	vW, vB []num.Array
}

func newAdamOpt(base optBase) *adamOpt {
	o := &adamOpt{optBase: base}
	q := base.net.queue
	for _, p := range o.paramList {
		W, B := p.Params()
		o.mW = append(o.mW, q.NewArrayLike(W))
		o.vW = append(o.vW, q.NewArrayLike(W))
		if B != nil {
			o.mB = append(o.mB, q.NewArrayLike(B))
			o.vB = append(o.vB, q.NewArrayLike(B))
		} else {
			o.mB = append(o.mB, nil)
			o.vB = append(o.vB, nil)
		}
	}
	return o
}

func (o *adamOpt) Update(epoch int) {
	q := o.net.queue
	eta := o.eta(epoch)
	o.step++
	for i, p := range o.paramList {
		o.decayGrads(q, p)
		W, B := p.Params()
		dW, dB := p.ParamGrads()
		q.Call(
			num.Scale(1/o.batch, dW),
			num.Adam(eta, adamBeta1, adamBeta2, adamEpsilon, o.step, dW, o.mW[i], o.vW[i], W),
		)
		if B != nil {
			q.Call(
				num.Scale(1/o.batch, dB),
				num.Adam(eta, adamBeta1, adamBeta2, adamEpsilon, o.step, dB, o.mB[i], o.vB[i], B),
			)
		}
	}
}

func (o *adamOpt) Release() {
	num.Release(o.mW...)
	num.Release(o.mB...)
	num.Release(o.vW...)
	num.Release(o.vB...)
}
