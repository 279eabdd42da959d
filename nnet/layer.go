package nnet

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/StevenLOL/algorithms-1/num"
)

// Layer interface type represents one layer of the neural net.
type Layer interface {
	Init(q num.Queue, inShape []int, rng *rand.Rand)
	InShape() []int
	OutShape() []int
	Fprop(q num.Queue, in, work num.Array, trainMode bool) num.Array
	Bprop(q num.Queue, grad, work num.Array) num.Array
	Type() string
	ToString() string
	Release()
}

// ParamLayer is a layer with weight and bias parameters
type ParamLayer interface {
	Layer
	InitParams(q num.Queue, init WeightInit, rng *rand.Rand)
	Params() (W, B num.Array)
	ParamGrads() (dW, dB num.Array)
	SetParams(q num.Queue, W, B []float32)
	NumWeights() int
}

// OutputLayer is the final layer in the stack
type OutputLayer interface {
	Layer
	Loss(q num.Queue, yOneHot, yPred num.Array) num.Array
}

// BatchNormLayer exposes the running mean and variance
type BatchNormLayer interface {
	ParamLayer
	Stats() (runMean, runVar num.Array)
}

// layers which need scratch space for their kernels
type workSized interface {
	WorkSize() int
}

// Weight initialisation scheme, weights are scaled by the layer fan in and fan out.
type WeightInit int

const (
	LecunNormal WeightInit = iota
	GlorotUniform
	HeNormal
)

func (w WeightInit) String() string {
	switch w {
	case GlorotUniform:
		return "glorot_uniform"
	case HeNormal:
		return "he_normal"
	default:
		return "lecun_normal"
	}
}

// ParseWeightInit is the inverse of the String method
func ParseWeightInit(s string) (WeightInit, error) {
	for _, w := range []WeightInit{LecunNormal, GlorotUniform, HeNormal} {
		if w.String() == s {
			return w, nil
		}
	}
	return 0, fmt.Errorf("invalid weight init: %s", s)
}

// Layer configuration details
type LayerConfig struct {
	Type string
	Data json.RawMessage `json:",omitempty"`
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() Layer {
	switch l.Type {
	case "conv":
		cfg := new(Conv)
		unmarshal(l.Data, cfg)
		return &conv{Conv: *cfg}
	case "pool":
		cfg := new(Pool)
		unmarshal(l.Data, cfg)
		return &pool{Pool: *cfg}
	case "linear":
		cfg := new(Linear)
		unmarshal(l.Data, cfg)
		return &linear{Linear: *cfg}
	case "activation":
		cfg := new(Activation)
		unmarshal(l.Data, cfg)
		return newActivation(*cfg)
	case "dropout":
		cfg := new(Dropout)
		unmarshal(l.Data, cfg)
		return &dropout{Dropout: *cfg}
	case "batchNorm":
		cfg := new(BatchNorm)
		unmarshal(l.Data, cfg)
		return &batchNorm{BatchNorm: *cfg}
	case "flatten":
		return &flatten{}
	case "concat":
		cfg := new(Concat)
		unmarshal(l.Data, cfg)
		return &concat{Concat: *cfg}
	default:
		panic("invalid layer type: " + l.Type)
	}
}

func (l LayerConfig) String() string {
	return l.Unmarshal().ToString()
}

// Convolutional layer, implements ParamLayer interface.
type Conv struct {
	Nfeats int
	Size   int
	Stride int
	Pad    bool `json:",omitempty"`
	NoBias bool `json:",omitempty"`
}

func (c Conv) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = 1
	}
	return LayerConfig{Type: "conv", Data: marshal(c)}
}

// Max or average pooling layer.
type Pool struct {
	Size    int
	Stride  int
	Pad     bool `json:",omitempty"`
	Average bool `json:",omitempty"`
}

func (c Pool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "pool", Data: marshal(c)}
}

// Linear fully connected layer, implements ParamLayer interface.
type Linear struct {
	Nout int
}

func (c Linear) Marshal() LayerConfig {
	return LayerConfig{Type: "linear", Data: marshal(c)}
}

// Sigmoid, tanh, relu or softmax activation layer. Softmax implements the
// OutputLayer interface with a cross entropy loss, the others use quadratic loss.
type Activation struct {
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

// Dropout layer zeroes the given ratio of inputs in training mode.
type Dropout struct {
	Ratio float64
}

func (c Dropout) Marshal() LayerConfig {
	return LayerConfig{Type: "dropout", Data: marshal(c)}
}

// Batch normalisation layer.
type BatchNorm struct {
	AvgFactor float64 `json:",omitempty"`
	Epsilon   float64 `json:",omitempty"`
}

func (c BatchNorm) Marshal() LayerConfig {
	if c.AvgFactor == 0 {
		c.AvgFactor = 0.1
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1e-5
	}
	return LayerConfig{Type: "batchNorm", Data: marshal(c)}
}

// Flatten layer reshapes from 4 to 2 dimensions.
type Flatten struct{}

func (c Flatten) Marshal() LayerConfig {
	return LayerConfig{Type: "flatten"}
}

// Concat runs the nested block on its input and concatenates the input with
// the block output along the channel axis.
type Concat struct {
	Block []LayerConfig
}

// NewConcat builds a concat layer config from the given block layers.
func NewConcat(layers ...ConfigLayer) Concat {
	c := Concat{}
	for _, l := range layers {
		c.Block = append(c.Block, l.Marshal())
	}
	return c
}

func (c Concat) Marshal() LayerConfig {
	return LayerConfig{Type: "concat", Data: marshal(c)}
}

// convolutional layer implementation
type conv struct {
	Conv
	paramBase
	kernel  *num.ConvLayer
	inShape []int
	src     num.Array
	dst     num.Array
	dsrc    num.Array
}

func (l *conv) Type() string { return "conv" }

func (l *conv) ToString() string { return fmt.Sprintf("conv %+v", l.Conv) }

func (l *conv) InShape() []int { return l.inShape }

func (l *conv) OutShape() []int { return l.kernel.OutShape() }

func (l *conv) Init(q num.Queue, inShape []int, rng *rand.Rand) {
	if len(inShape) != 4 {
		panic("Conv: expect 4 dimensional input")
	}
	l.inShape = inShape
	l.kernel = num.NewConvLayer(inShape, l.Nfeats, l.Size, l.Stride, l.Pad, l.NoBias)
	l.paramBase = newParams(q, l.kernel.FilterShape(), l.kernel.BiasShape())
	l.fanIn = l.Size * l.Size * inShape[2]
	l.fanOut = l.Size * l.Size * l.Nfeats
	l.dst = q.NewArray(num.Float32, l.kernel.OutShape()...)
	l.dsrc = q.NewArray(num.Float32, inShape...)
}

func (l *conv) WorkSize() int { return l.kernel.WorkSize() }

func (l *conv) Fprop(q num.Queue, in, work num.Array, trainMode bool) num.Array {
	l.src = in
	q.Call(l.kernel.Fprop(in, l.w, l.b, l.dst, work))
	return l.dst
}

func (l *conv) Bprop(q num.Queue, grad, work num.Array) num.Array {
	q.Call(
		l.kernel.BpropParams(l.src, grad, l.dw, l.db, work),
		l.kernel.BpropData(l.w, grad, l.dsrc, work),
	)
	return l.dsrc
}

func (l *conv) Release() {
	l.paramBase.release()
	num.Release(l.dst, l.dsrc)
}

// pooling layer implementation
type pool struct {
	Pool
	kernel  *num.PoolLayer
	inShape []int
	dst     num.Array
	dsrc    num.Array
}

func (l *pool) Type() string { return "pool" }

func (l *pool) ToString() string { return fmt.Sprintf("pool %+v", l.Pool) }

func (l *pool) InShape() []int { return l.inShape }

func (l *pool) OutShape() []int { return l.kernel.OutShape() }

func (l *pool) Init(q num.Queue, inShape []int, rng *rand.Rand) {
	if len(inShape) != 4 {
		panic("Pool: expect 4 dimensional input")
	}
	l.inShape = inShape
	l.kernel = num.NewPoolLayer(inShape, l.Size, l.Stride, l.Pad, l.Average)
	l.dst = q.NewArray(num.Float32, l.kernel.OutShape()...)
	l.dsrc = q.NewArray(num.Float32, inShape...)
}

func (l *pool) Fprop(q num.Queue, in, work num.Array, trainMode bool) num.Array {
	q.Call(l.kernel.Fprop(in, l.dst))
	return l.dst
}

func (l *pool) Bprop(q num.Queue, grad, work num.Array) num.Array {
	q.Call(l.kernel.Bprop(grad, l.dsrc))
	return l.dsrc
}

func (l *pool) Release() {
	num.Release(l.dst, l.dsrc)
}

// linear layer implementation
type linear struct {
	Linear
	paramBase
	inShape []int
	src     num.Array
	dst     num.Array
	dsrc    num.Array
	temp1   num.Array
	temp2   num.Array
	ones    num.Array
}

func (l *linear) Type() string { return "linear" }

func (l *linear) ToString() string { return fmt.Sprintf("linear %+v", l.Linear) }

func (l *linear) InShape() []int { return l.inShape }

func (l *linear) OutShape() []int { return []int{l.Nout, l.inShape[1]} }

func (l *linear) Init(q num.Queue, inShape []int, rng *rand.Rand) {
	if len(inShape) != 2 {
		panic("Linear: expect 2 dimensional input")
	}
	l.inShape = inShape
	nIn, nBatch := inShape[0], inShape[1]
	l.paramBase = newParams(q, []int{nIn, l.Nout}, []int{l.Nout})
	l.fanIn, l.fanOut = nIn, l.Nout
	l.dst = q.NewArray(num.Float32, l.Nout, nBatch)
	l.dsrc = q.NewArray(num.Float32, nIn, nBatch)
	l.temp1 = q.NewArray(num.Float32, nBatch, nIn)
	l.temp2 = q.NewArray(num.Float32, nBatch, l.Nout)
	l.ones = q.NewArray(num.Float32, nBatch)
	q.Call(num.Fill(l.ones, 1))
}

func (l *linear) Fprop(q num.Queue, in, work num.Array, trainMode bool) num.Array {
	l.src = in
	q.Call(
		num.Copy(l.temp2, l.b),
		num.Gemm(1, 1, in, l.w, l.temp2, num.Trans, num.NoTrans),
		num.Transpose(l.temp2, l.dst),
	)
	return l.dst
}

func (l *linear) Bprop(q num.Queue, grad, work num.Array) num.Array {
	q.Call(
		num.Gemv(1, 0, grad, l.ones, l.db, num.NoTrans),
		num.Gemm(1, 0, l.src, grad, l.dw, num.NoTrans, num.Trans),
		num.Gemm(1, 0, grad, l.w, l.temp1, num.Trans, num.Trans),
		num.Transpose(l.temp1, l.dsrc),
	)
	return l.dsrc
}

func (l *linear) Release() {
	l.paramBase.release()
	num.Release(l.dst, l.dsrc, l.temp1, l.temp2, l.ones)
}

// activation layers
type activation struct {
	Activation
	inShape []int
	activ   func(x, y num.Array) num.Function
	deriv   func(x, grad, y num.Array) num.Function
	src     num.Array
	dst     num.Array
	dsrc    num.Array
	loss    num.Array
}

func newActivation(cfg Activation) Layer {
	l := &activation{Activation: cfg}
	switch cfg.Atype {
	case "sigmoid":
		l.activ, l.deriv = num.Sigmoid, num.SigmoidD
	case "tanh":
		l.activ, l.deriv = num.Tanh, num.TanhD
	case "relu":
		l.activ, l.deriv = num.Relu, num.ReluD
	case "softmax":
	default:
		panic(fmt.Sprintf("activation type %s invalid", cfg.Atype))
	}
	return l
}

func (l *activation) Type() string { return "activation" }

func (l *activation) ToString() string { return fmt.Sprintf("activation %+v", l.Activation) }

func (l *activation) InShape() []int { return l.inShape }

func (l *activation) OutShape() []int { return l.inShape }

func (l *activation) Init(q num.Queue, inShape []int, rng *rand.Rand) {
	l.inShape = inShape
	l.dst = q.NewArray(num.Float32, inShape...)
	l.dsrc = q.NewArray(num.Float32, inShape...)
	l.loss = q.NewArray(num.Float32, inShape...)
}

func (l *activation) Fprop(q num.Queue, in, work num.Array, trainMode bool) num.Array {
	l.src = in
	if l.Atype == "softmax" {
		q.Call(num.Softmax(in, l.dst))
	} else {
		q.Call(l.activ(in, l.dst))
	}
	return l.dst
}

func (l *activation) Bprop(q num.Queue, grad, work num.Array) num.Array {
	if l.Atype == "softmax" {
		q.Call(num.Copy(l.dsrc, grad))
	} else {
		q.Call(l.deriv(l.src, grad, l.dsrc))
	}
	return l.dsrc
}

func (l *activation) Loss(q num.Queue, yOneHot, yPred num.Array) num.Array {
	if l.Atype == "softmax" {
		q.Call(num.SoftmaxLoss(yOneHot, yPred, l.loss))
	} else {
		q.Call(num.QuadraticLoss(yOneHot, yPred, l.loss))
	}
	return l.loss
}

func (l *activation) Release() {
	num.Release(l.dst, l.dsrc, l.loss)
}

// dropout layer implementation
type dropout struct {
	Dropout
	kernel  *num.DropoutLayer
	inShape []int
	dst     num.Array
	dsrc    num.Array
}

func (l *dropout) Type() string { return "dropout" }

func (l *dropout) ToString() string { return fmt.Sprintf("dropout %+v", l.Dropout) }

func (l *dropout) InShape() []int { return l.inShape }

func (l *dropout) OutShape() []int { return l.inShape }

func (l *dropout) Init(q num.Queue, inShape []int, rng *rand.Rand) {
	l.inShape = inShape
	l.kernel = num.NewDropoutLayer(inShape, l.Ratio, rng.Int63())
	l.dst = q.NewArray(num.Float32, inShape...)
	l.dsrc = q.NewArray(num.Float32, inShape...)
}

func (l *dropout) Fprop(q num.Queue, in, work num.Array, trainMode bool) num.Array {
	q.Call(l.kernel.Fprop(in, l.dst, trainMode))
	return l.dst
}

func (l *dropout) Bprop(q num.Queue, grad, work num.Array) num.Array {
	q.Call(l.kernel.Bprop(grad, l.dsrc))
	return l.dsrc
}

func (l *dropout) Release() {
	num.Release(l.dst, l.dsrc)
}

// batch normalisation layer: gamma and beta are held as the layer weight and bias.
type batchNorm struct {
	BatchNorm
	paramBase
	kernel  *num.BatchNormLayer
	inShape []int
	src     num.Array
	dst     num.Array
	dsrc    num.Array
}

func (l *batchNorm) Type() string { return "batchNorm" }

func (l *batchNorm) ToString() string { return fmt.Sprintf("batchNorm %+v", l.BatchNorm) }

func (l *batchNorm) InShape() []int { return l.inShape }

func (l *batchNorm) OutShape() []int { return l.inShape }

func (l *batchNorm) Init(q num.Queue, inShape []int, rng *rand.Rand) {
	if len(inShape) != 4 {
		panic("BatchNorm: expect 4 dimensional input")
	}
	l.inShape = inShape
	l.kernel = num.NewBatchNormLayer(q.Dev(), inShape, float32(l.AvgFactor), float32(l.Epsilon))
	chans := inShape[2]
	l.paramBase = newParams(q, []int{chans}, []int{chans})
	l.fanIn, l.fanOut = chans, chans
	l.dst = q.NewArray(num.Float32, inShape...)
	l.dsrc = q.NewArray(num.Float32, inShape...)
}

// gamma is set to 1 and beta to 0 whatever the weight init setting
func (l *batchNorm) InitParams(q num.Queue, init WeightInit, rng *rand.Rand) {
	q.Call(
		num.Fill(l.w, 1),
		num.Fill(l.b, 0),
	)
}

func (l *batchNorm) Stats() (runMean, runVar num.Array) {
	return l.kernel.Stats()
}

func (l *batchNorm) Fprop(q num.Queue, in, work num.Array, trainMode bool) num.Array {
	l.src = in
	q.Call(l.kernel.Fprop(in, l.w, l.b, l.dst, trainMode))
	return l.dst
}

func (l *batchNorm) Bprop(q num.Queue, grad, work num.Array) num.Array {
	q.Call(l.kernel.Bprop(grad, l.w, l.dsrc, l.dw, l.db))
	return l.dsrc
}

func (l *batchNorm) Release() {
	l.paramBase.release()
	num.Release(l.dst, l.dsrc)
}

// flatten layer reshapes the input to a matrix with batch as the last dimension
type flatten struct {
	inShape []int
	src     num.Array
	dst     num.Array
	dsrc    num.Array
}

func (l *flatten) Type() string { return "flatten" }

func (l *flatten) ToString() string { return "flatten" }

func (l *flatten) InShape() []int { return l.inShape }

func (l *flatten) OutShape() []int {
	n := len(l.inShape)
	return []int{num.Prod(l.inShape[:n-1]), l.inShape[n-1]}
}

func (l *flatten) Init(q num.Queue, inShape []int, rng *rand.Rand) {
	l.inShape = inShape
}

func (l *flatten) Fprop(q num.Queue, in, work num.Array, trainMode bool) num.Array {
	l.src = in
	dims := in.Dims()
	l.dst = in.Reshape(-1, dims[len(dims)-1])
	return l.dst
}

func (l *flatten) Bprop(q num.Queue, grad, work num.Array) num.Array {
	l.dsrc = grad.Reshape(l.src.Dims()...)
	return l.dsrc
}

func (l *flatten) Release() {}

// concat layer: output channels are the input channels followed by the block output
type concat struct {
	Concat
	layers   []Layer
	inShape  []int
	outShape []int
	dst      num.Array
	dsrc     num.Array
	blkGrad  num.Array
}

func (l *concat) Type() string { return "concat" }

func (l *concat) ToString() string {
	s := make([]string, len(l.layers))
	for i, layer := range l.layers {
		s[i] = layer.ToString()
	}
	return fmt.Sprintf("concat [%s]", strings.Join(s, ", "))
}

func (l *concat) InShape() []int { return l.inShape }

func (l *concat) OutShape() []int { return l.outShape }

func (l *concat) Init(q num.Queue, inShape []int, rng *rand.Rand) {
	if len(inShape) != 4 {
		panic("Concat: expect 4 dimensional input")
	}
	l.inShape = inShape
	shape := inShape
	for _, cfg := range l.Block {
		layer := cfg.Unmarshal()
		layer.Init(q, shape, rng)
		l.layers = append(l.layers, layer)
		shape = layer.OutShape()
	}
	if len(shape) != 4 || shape[0] != inShape[0] || shape[1] != inShape[1] || shape[3] != inShape[3] {
		panic(fmt.Sprintf("Concat: block output shape %v does not match input %v", shape, inShape))
	}
	l.outShape = []int{inShape[0], inShape[1], inShape[2] + shape[2], inShape[3]}
	l.dst = q.NewArray(num.Float32, l.outShape...)
	l.dsrc = q.NewArray(num.Float32, inShape...)
	l.blkGrad = q.NewArray(num.Float32, shape...)
}

func (l *concat) WorkSize() int {
	size := 0
	for _, layer := range l.layers {
		if ws, ok := layer.(workSized); ok && ws.WorkSize() > size {
			size = ws.WorkSize()
		}
	}
	return size
}

func (l *concat) Fprop(q num.Queue, in, work num.Array, trainMode bool) num.Array {
	out := in
	for _, layer := range l.layers {
		out = layer.Fprop(q, out, work, trainMode)
	}
	q.Call(
		num.CopyChans(l.dst, in, 0),
		num.CopyChans(l.dst, out, l.inShape[2]),
	)
	return l.dst
}

func (l *concat) Bprop(q num.Queue, grad, work num.Array) num.Array {
	q.Call(num.CopyChans(l.blkGrad, grad, l.inShape[2]))
	g := num.Array(l.blkGrad)
	for i := len(l.layers) - 1; i >= 0; i-- {
		g = l.layers[i].Bprop(q, g, work)
	}
	q.Call(
		num.CopyChans(l.dsrc, grad, 0),
		num.Axpy(1, g, l.dsrc),
	)
	return l.dsrc
}

func (l *concat) Release() {
	for _, layer := range l.layers {
		layer.Release()
	}
	num.Release(l.dst, l.dsrc, l.blkGrad)
}

// weight and bias parameters
type paramBase struct {
	w, b   num.Array
	dw, db num.Array
	fanIn  int
	fanOut int
}

func newParams(q num.Queue, wShape, bShape []int) paramBase {
	p := paramBase{
		w:  q.NewArray(num.Float32, wShape...),
		dw: q.NewArray(num.Float32, wShape...),
	}
	if bShape != nil {
		p.b = q.NewArray(num.Float32, bShape...)
		p.db = q.NewArray(num.Float32, bShape...)
	}
	return p
}

func (p paramBase) Params() (W, B num.Array) { return p.w, p.b }

func (p paramBase) ParamGrads() (dW, dB num.Array) { return p.dw, p.db }

func (p paramBase) NumWeights() int {
	n := p.w.Size()
	if p.b != nil {
		n += p.b.Size()
	}
	return n
}

func (p paramBase) InitParams(q num.Queue, init WeightInit, rng *rand.Rand) {
	weights := make([]float32, p.w.Size())
	switch init {
	case GlorotUniform:
		scale := float32(math.Sqrt(6 / float64(p.fanIn+p.fanOut)))
		for i := range weights {
			weights[i] = scale * (2*rng.Float32() - 1)
		}
	case HeNormal:
		scale := float32(math.Sqrt(2 / float64(p.fanIn)))
		for i := range weights {
			weights[i] = scale * float32(rng.NormFloat64())
		}
	default:
		scale := float32(math.Sqrt(1 / float64(p.fanIn)))
		for i := range weights {
			weights[i] = scale * float32(rng.NormFloat64())
		}
	}
	q.Call(num.Write(p.w, weights))
	if p.b != nil {
		q.Call(num.Fill(p.b, 0))
	}
}

func (p paramBase) SetParams(q num.Queue, W, B []float32) {
	q.Call(num.Write(p.w, W))
	if p.b != nil && B != nil {
		q.Call(num.Write(p.b, B))
	}
}

func (p paramBase) release() {
	num.Release(p.w, p.b, p.dw, p.db)
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshal(data json.RawMessage, v interface{}) {
	if data == nil {
		return
	}
	err := json.Unmarshal(data, v)
	if err != nil {
		panic(err)
	}
}
