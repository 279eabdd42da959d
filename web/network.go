// Package web has a web based interface for network training and visualisation.
package web

import (
	"encoding/gob"
	"fmt"
	"html/template"
	"image"
	"image/color"
	"log"
	"math"
	"math/rand"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StevenLOL/algorithms-1/img"
	"github.com/StevenLOL/algorithms-1/nnet"
	"github.com/StevenLOL/algorithms-1/num"
)

const (
	aspectOutput     = 0.125
	aspectWeights    = 0.25
	factorMinOutput  = 20
	factorMinWeights = 20
)

var tuneOpts = []string{"Eta", "Lambda", "TrainBatch"}
var tuneOptHtml = []string{"&eta;", "&lambda;", "batch"}

// color map definition
var cmap = [][3]float32{{0, 0, .5}, {0, 0, 1}, {0, .5, 1}, {0, 1, 1}, {.5, 1, .5}, {1, 1, 0}, {1, .5, 0}, {1, 0, 0}, {.5, 0, 0}}

// Network and associated training / test data and configuration
type Network struct {
	*NetworkData
	*nnet.Network
	Data      map[string]nnet.Data
	Labels    map[string][]int32
	test      *nnet.TestBase
	trans     *img.Transformer
	conn      *websocket.Conn
	trainData *nnet.Dataset
	queue     num.Queue
	rng       *rand.Rand
	testRng   *rand.Rand
	view      *viewData
	updated   bool
	running   bool
	stop      bool
	tuneMode  bool
	sync.Mutex
}

// Embedded structs used to persist state to file
type NetworkData struct {
	Model   string
	Conf    nnet.Config
	MaxRun  int
	Run     int
	Epoch   int
	Stats   []nnet.Stats
	Pred    map[string][]int32
	Params  []nnet.LayerData
	History []HistoryData
	Tuners  []TuneParams
}

type HistoryData struct {
	Stats nnet.Stats
	Conf  nnet.Config
}

type TuneParams struct {
	Name   string
	Values []string
}

// Create a new network and load config from data given model name
func NewNetwork(model string) (*Network, error) {
	n := &Network{test: nnet.NewTestBase()}
	log.Println("load model:", model)
	var err error
	n.NetworkData, err = LoadNetwork(model, false)
	if err != nil {
		return nil, err
	}
	if err := n.Init(n.Conf); err != nil {
		return nil, err
	}
	if err := n.Import(); err != nil {
		return nil, err
	}
	return n, nil
}

// Initialise the network
func (n *Network) Init(conf nnet.Config) error {
	log.Println("init network: dataSet =", conf.DataSet)
	n.release()
	var err error
	if n.Data, err = nnet.LoadData(conf.DataSet); err != nil {
		return err
	}
	dev := num.NewDevice()
	n.queue = dev.NewQueue(conf.Threads)
	n.rng = nnet.SetSeed(conf.RandSeed)
	n.testRng = nnet.SetSeed(conf.RandSeed)
	n.trainData = nnet.NewDataset(dev, n.Data["train"], conf.TrainBatch, conf.MaxSamples, conf.FlattenInput, n.rng)
	n.trainData.SetTrans(conf.Normalise, conf.Distort)
	n.Network = nnet.New(n.queue, conf, n.trainData.BatchSize, n.trainData.Shape, n.rng)
	if n.DebugLevel >= 1 {
		fmt.Println(n.Network)
	}
	n.test.Init(n.queue, conf, n.Data, n.testRng).Predict()
	n.Labels = make(map[string][]int32)
	for key, dset := range n.test.Data {
		n.Labels[key] = make([]int32, dset.Samples)
		n.Data[key].Label(seq(dset.Samples), n.Labels[key])
	}
	n.trans = nil
	if d, ok := n.Data["train"].(*img.Data); ok {
		if ttype := d.Images[0].TransformType(false, true); ttype != img.NoTrans {
			n.trans = img.NewTransformer(d, ttype, img.ConvBoxBlur, n.testRng)
		}
	}
	n.view = newViewData(dev, n.Data, conf, n.testRng)
	return nil
}

// release allocated buffers
func (n *Network) release() {
	if n.Network != nil {
		n.Network.Release()
		n.Network = nil
	}
	if n.test.Net != nil {
		n.test.Release()
	}
	if n.trainData != nil {
		n.trainData.Release()
		n.trainData = nil
	}
	if n.view != nil {
		n.view.release()
		n.view = nil
	}
}

// Initialise for new training run
func (n *Network) Start(conf nnet.Config, lock bool) error {
	if lock {
		n.Lock()
		defer n.Unlock()
	}
	if err := n.Init(conf); err != nil {
		return err
	}
	n.test.Reset()
	log.Println("init weights")
	n.InitWeights(n.rng)
	n.view.loadWeights(n.Network)
	n.Epoch = 0
	n.updated = false
	return nil
}

// Perform training run in the background
func (n *Network) Train(restart bool) error {
	log.Printf("train %s: restart=%v\n", n.Model, restart)
	runs := []nnet.Config{n.Conf}
	if n.tuneMode {
		runs = getRunConfig(n.Conf, n.Tuners)
	}
	n.MaxRun = len(runs)
	if restart {
		if n.Epoch != 0 || n.Run != 0 || n.updated {
			n.Run = 0
			if err := n.Start(runs[0], false); err != nil {
				return err
			}
		}
		n.Epoch = 1
	} else if n.Epoch > 0 {
		n.Epoch++
	}
	if n.Epoch == 0 || n.Epoch > n.MaxEpoch {
		return nil
	}
	n.running = true
	n.stop = false
	go func() {
		n.queue.Profiling(n.Profile)
		quit := false
		for n.Run < n.MaxRun && !quit {
			if n.Run > 0 {
				if err := n.Start(runs[n.Run], true); err != nil {
					log.Println(err)
					return
				}
				n.Epoch = 1
			}
			log.Printf("train run %d / %d epoch=%d\n", n.Run+1, len(runs), n.Epoch)
			quit = n.trainRun()
			if last := len(n.test.Stats) - 1; last >= 0 {
				s := n.test.Stats[last]
				msg := fmt.Sprintf("run %d epoch %d:", n.Run+1, s.Epoch)
				for i, val := range s.Format() {
					msg += fmt.Sprintf("  %s =%s", n.test.Headers[i], val)
				}
				log.Println(msg)
			}
			if !quit {
				n.Run++
			}
		}
		n.Lock()
		n.running = false
		n.stop = false
		n.Unlock()
		log.Println("train: end - quit =", quit)
		if n.Profile {
			n.queue.PrintProfile()
		}
	}()
	return nil
}

// train one run from the current epoch until done or interrupted
func (n *Network) trainRun() bool {
	opt := nnet.NewOptimiser(n.Network, n.trainData.BatchSize, n.trainData.Batches()*n.trainData.BatchSize)
	defer opt.Release()
	epoch := n.Epoch
	done, quit, epilogue := false, false, false
	maxEpoch := n.MaxEpoch
	start := time.Now()
	for !done && !quit && epoch <= maxEpoch {
		loss := nnet.TrainEpoch(n.Network, n.trainData, epoch, opt)
		done = n.test.Test(n.Network, epoch, loss, start)
		if done && !epilogue && n.ExtraEpochs > 0 && epoch+n.ExtraEpochs <= n.MaxEpoch {
			epilogue = true
			maxEpoch = epoch + n.ExtraEpochs
			n.trainData.SetTrans(n.Normalise, false)
			done = false
		}
		epoch, quit = n.nextEpoch(epoch, done)
	}
	return quit
}

func (n *Network) nextEpoch(epoch int, done bool) (int, bool) {
	quit := false
	n.Lock()
	n.Epoch = epoch
	// check for interrupt
	if n.stop {
		n.stop = false
		n.running = false
		quit = true
	}
	// update predictions for each image
	for key, pred := range n.test.Pred {
		if arr, ok := n.Pred[key]; !ok || len(arr) != len(pred) {
			n.Pred[key] = make([]int32, len(pred))
		}
		copy(n.Pred[key], pred)
	}
	// update visualisation
	n.view.loadWeights(n.Network)
	// update history
	if done && !quit && len(n.test.Stats) > 0 {
		n.History = append(n.History, HistoryData{
			Stats: copyStats(n.test.Stats[len(n.test.Stats)-1]),
			Conf:  n.Config,
		})
	}
	n.Unlock()
	// notify via websocket
	if n.conn != nil {
		msg := []byte(strconv.Itoa(n.Run+1) + ":" + strconv.Itoa(epoch))
		err := n.conn.WriteMessage(websocket.TextMessage, msg)
		if err != nil {
			log.Println("nextEpoch: error writing to websocket", err)
		}
	} else {
		log.Println("nextEpoch: websocket is not initialised")
	}
	// save state to disk
	n.Lock()
	n.Export()
	err := SaveNetwork(n.NetworkData, false)
	n.Unlock()
	if err != nil {
		log.Println("nextEpoch: error saving network:", err)
	}
	return epoch + 1, quit
}

func copyStats(s nnet.Stats) nnet.Stats {
	s.Values = append([]float64{}, s.Values...)
	return s
}

func (n *Network) heading() template.HTML {
	s := fmt.Sprintf(`%s: run <span id="run">%d</span>/%d  epoch <span id="epoch">%d</span>/%d`,
		n.Model, n.Run+1, n.MaxRun, n.Epoch, n.MaxEpoch)
	return template.HTML(s)
}

// Export current state prior to saving to file
func (n *Network) Export() {
	n.Stats = n.test.Stats
	if n.test.Net != nil {
		n.Params = n.test.Net.ExportParams()
	} else {
		n.Params = nil
	}
}

// Import current state after loading from file
func (n *Network) Import() error {
	n.test.Stats = n.Stats
	if n.Epoch == 0 {
		log.Println("init weights")
		n.InitWeights(n.rng)
	} else if len(n.Params) > 0 {
		log.Println("import weights")
		if err := n.Network.ImportParams(n.Params); err != nil {
			return err
		}
		n.view.loadWeights(n.Network)
	}
	return nil
}

// Encode data in gob format and save to file under nnet.DataDir
func SaveNetwork(data *NetworkData, reset bool) error {
	model := data.Model
	filePath := path.Join(nnet.DataDir, model+".state")
	if reset {
		if err := data.Conf.Save(model + ".conf"); err != nil {
			return err
		}
		os.Remove(filePath)
		return nil
	}
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(*data)
}

// Read back gob encoded data file, if not found or reset is set then load default config.
func LoadNetwork(model string, reset bool) (data *NetworkData, err error) {
	data = &NetworkData{
		Model:   model,
		MaxRun:  1,
		Stats:   []nnet.Stats{},
		Pred:    map[string][]int32{},
		History: []HistoryData{},
	}
	if !reset {
		if err = loadGob(model+".state", data); err != nil {
			reset = true
		}
	}
	if reset {
		data.Conf, err = nnet.LoadConfig(model + ".conf")
	}
	if data.Tuners == nil {
		for _, opt := range tuneOpts {
			data.Tuners = append(data.Tuners, TuneParams{
				Name:   opt,
				Values: []string{fmt.Sprint(data.Conf.Get(opt))},
			})
		}
	}
	return data, err
}

func loadGob(name string, data *NetworkData) error {
	filePath := path.Join(nnet.DataDir, name)
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	log.Println("loading network state from", name)
	return gob.NewDecoder(f).Decode(data)
}

// For hyperparameter tuning, get config per run
func getRunConfig(conf nnet.Config, params []TuneParams) []nnet.Config {
	for _, p := range params {
		conf = setConfig(conf, p.Name, p.Values[0])
	}
	logConfig(conf)
	list := permute(conf, params, len(params)-1, []nnet.Config{conf})
	log.Printf("getRunConfig: runs=%d cases=%d\n", conf.TrainRuns, len(list))
	res := []nnet.Config{}
	for run := 0; run < conf.TrainRuns; run++ {
		res = append(res, list...)
	}
	return res
}

func permute(conf nnet.Config, params []TuneParams, n int, list []nnet.Config) []nnet.Config {
	if n < 0 {
		return list
	}
	for i, val := range params[n].Values {
		if i > 0 {
			conf = setConfig(conf, params[n].Name, val)
			logConfig(conf)
			list = append(list, conf)
		}
		list = permute(conf, params, n-1, list)
	}
	return list
}

func setConfig(c nnet.Config, name string, val string) nnet.Config {
	var err error
	c, err = c.SetString(name, val)
	if err != nil {
		panic(err)
	}
	return c
}

func logConfig(c nnet.Config) {
	var s string
	for _, name := range tuneOpts {
		s += fmt.Sprintf("%s=%v ", name, c.Get(name))
	}
	log.Println("getRunConfig:", s)
}

func tuneParams(h HistoryData) string {
	plist := make([]string, len(tuneOpts))
	for i, p := range tuneOpts {
		plist[i] = fmt.Sprintf("%s=%v", tuneOptHtml[i], h.Conf.Get(p))
	}
	return strings.Join(plist, " ")
}

// Data used for network visualisation of weights and outputs
type viewData struct {
	*nnet.Network
	queue   num.Queue
	layers  []viewLayer
	dset    string
	data    nnet.Data
	input   num.Array
	inShape []int
	inData  []float32
}

type viewLayer struct {
	ltype    string
	outShape []int
	outData  []float32
	outImage *image.NRGBA
	ox, oy   int
	wShape   []int
	bShape   []int
	wData    []float32
	bData    []float32
	wImage   *image.NRGBA
	wix, wiy int
	wox, woy int
	wborder  int
}

func newViewData(dev num.Device, data map[string]nnet.Data, conf nnet.Config, rng *rand.Rand) *viewData {
	v := &viewData{queue: dev.NewQueue(0)}
	if _, ok := data["test"]; ok {
		v.dset, v.data = "test", data["test"]
	} else {
		v.dset, v.data = "train", data["train"]
	}
	v.Network = nnet.New(v.queue, conf, 1, v.data.Shape(), rng)

	v.inShape = v.data.Shape()
	v.inData = make([]float32, num.Prod(v.inShape))
	if conf.FlattenInput {
		v.input = dev.NewArray(num.Float32, len(v.inData), 1)
	} else {
		v.input = dev.NewArray(num.Float32, append(append([]int{}, v.inShape...), 1)...)
	}

	for i, layer := range v.Layers {
		l := viewLayer{ltype: layer.Type()}
		// filter output layers
		if l.ltype != "pool" && l.ltype != "dropout" && l.ltype != "flatten" {
			l.outShape = layer.OutShape()
			l.outShape = l.outShape[:len(l.outShape)-1]
		}
		prev := len(v.layers) - 1
		if prev >= 0 && l.ltype == "activation" && num.SameShape(v.layers[prev].outShape, l.outShape) {
			l.ltype = v.layers[prev].ltype + " " + l.ltype
			v.layers[prev].outShape = nil
		}
		// allocate buffers and images for weights and biases
		if pLayer, ok := layer.(nnet.ParamLayer); ok {
			W, B := pLayer.Params()
			var bDims []int
			if B != nil {
				bDims = B.Dims()
			}
			l.addWeightImage(i, W.Dims(), bDims)
		}
		v.layers = append(v.layers, l)
	}
	// allocate buffers and output images
	for i, l := range v.layers {
		if l.outShape != nil {
			v.layers[i].addOutputImage(i, l.outShape)
		}
	}
	return v
}

func (v *viewData) loadWeights(net *nnet.Network) {
	net.CopyTo(net.Queue(), v.Network)
}

func (v *viewData) release() {
	v.queue.Finish()
	v.Network.Release()
	v.input.Release()
}

// update outputs with given index from test set and redraw the images
func (v *viewData) update(index int) {
	v.data.Input([]int{index}, v.inData)
	v.queue.Call(num.Write(v.input, v.inData))
	v.FpropLayers(v.input, func(i int, out num.Array) {
		if l := &v.layers[i]; l.outImage != nil {
			v.queue.Call(num.Read(out, l.outData)).Finish()
		}
	})
	for i := range v.layers {
		l := &v.layers[i]
		if l.outImage != nil {
			l.drawOutput()
		}
		if l.wImage != nil {
			W, B := v.Layers[i].(nnet.ParamLayer).Params()
			v.queue.Call(num.Read(W, l.wData))
			if B != nil {
				v.queue.Call(num.Read(B, l.bData))
			}
			v.queue.Finish()
			scale := 5 * float32(1/math.Sqrt(float64(num.Prod(v.Layers[i].InShape()))))
			l.drawWeights(scale)
		}
	}
}

func (v *viewData) lastLayer() *viewLayer {
	if len(v.layers) == 0 {
		return nil
	}
	return &v.layers[len(v.layers)-1]
}

// draw the layer output, one block per channel for convolutional layers
func (l *viewLayer) drawOutput() {
	switch len(l.outShape) {
	case 1:
		height := l.outImage.Bounds().Dy()
		for i, val := range l.outData {
			l.outImage.Set(i/height, i%height, mapColor(val, -1, 1))
		}
	case 3:
		bh, bw := l.outShape[0], l.outShape[1]
		for i := 0; i < l.ox*l.oy; i++ {
			xb := (bw + 1) * (i % l.ox)
			yb := (bh + 1) * (i / l.ox)
			for j := 0; j < bw*bh; j++ {
				col := mapColor(l.outData[i*bw*bh+j], -1, 1)
				l.outImage.Set(xb+j/bh+1, yb+j%bh+1, col)
			}
		}
	}
}

// draw weights as a grid of blocks, one per output feature, with the bias
// shown as a border stripe
func (l *viewLayer) drawWeights(scale float32) {
	if l.bData != nil {
		for i := 0; i < l.wox*l.woy; i++ {
			xb, yb := l.block(i)
			biasCol := mapColor(l.bData[i], -scale, scale)
			for j := 0; j < l.wix; j++ {
				l.wImage.Set(xb+j, yb, biasCol)
			}
			for j := 0; j < l.wiy; j++ {
				l.wImage.Set(xb, yb+j, biasCol)
			}
		}
	}
	bsize := l.wix * l.wiy
	for i := 0; i < l.wox*l.woy; i++ {
		xb, yb := l.block(i)
		for j := 0; j < bsize; j++ {
			x, y := l.pixelPos(j)
			l.wImage.Set(xb+x+1, yb+y+1, mapColor(l.wData[i*bsize+j], -scale, scale))
		}
	}
}

// position of element j within a weight block, arrays are column major
func (l *viewLayer) pixelPos(j int) (x, y int) {
	if len(l.wShape) == 4 {
		k := l.wShape[0]
		return (j / k) % k, j%k + (j/(k*k))*k
	}
	return j / l.wiy, j % l.wiy
}

func (l *viewLayer) addOutputImage(layer int, dims []int) {
	var width, height int
	switch len(dims) {
	case 1:
		// fully connected layer
		height, width = factorise(dims[0], factorMinOutput, aspectOutput)
	case 3:
		// convolutional layer
		l.oy, l.ox = factorise(dims[2], factorMinOutput, aspectOutput)
		height = (dims[0] + 1) * l.oy
		width = (dims[1] + 1) * l.ox
	default:
		log.Printf("viewLayer %d: output shape not supported %v", layer, dims)
		return
	}
	l.outData = make([]float32, num.Prod(dims))
	l.outImage = image.NewNRGBA(image.Rect(0, 0, width, height))
}

func (l *viewLayer) addWeightImage(layer int, wDims, bDims []int) {
	switch len(wDims) {
	case 2:
		// fully connected layer: weights are nin x nout
		l.wiy, l.wix = factorise(wDims[0], 0, 1)
		l.woy, l.wox = factorise(wDims[1], factorMinWeights, aspectWeights)
		l.wborder = 1
	case 4:
		// convolutional layer: weights are size x size x nchans x nfeats
		l.wix, l.wiy = wDims[1], wDims[0]*wDims[2]
		if wDims[2] == 1 {
			l.woy, l.wox = factorise(wDims[3], factorMinWeights, aspectWeights)
		} else {
			l.woy, l.wox = 1, wDims[3]
		}
		l.wborder = 2
	default:
		// e.g. batch norm scale and shift
		return
	}
	l.wShape, l.bShape = wDims, bDims
	l.wData = make([]float32, num.Prod(wDims))
	if bDims != nil {
		l.bData = make([]float32, num.Prod(bDims))
	}
	l.wImage = image.NewNRGBA(image.Rect(0, 0, (l.wix+l.wborder)*l.wox, (l.wiy+l.wborder)*l.woy))
}

func (l *viewLayer) block(i int) (x, y int) {
	x = (l.wix + l.wborder) * (i % l.wox)
	y = (l.wiy + l.wborder) * (i / l.wox)
	return
}

// if n > nmin returns f1, f2 where f1*f2 = n and f1 <= aspect * f2 else 1, n
func factorise(n, nmin int, aspect float64) (f1, f2 int) {
	if n < 1 {
		panic("factorise: input must be >= 1")
	}
	if n > nmin {
		for f1 = int(math.Sqrt(float64(n) * aspect)); f1 > 1; f1-- {
			if n%f1 == 0 {
				return f1, n / f1
			}
		}
	}
	return 1, n
}

// convert value in range cmin:cmax to interpolated color from cmap
func mapColor(val float32, cmin, cmax float32) color.NRGBA {
	var col [3]float32
	ncol := len(cmap)
	switch {
	case val <= cmin:
		col = cmap[0]
	case val >= cmax:
		col = cmap[ncol-1]
	default:
		vsc := float32(ncol-1) * (val - cmin) / (cmax - cmin)
		ix := int(vsc)
		fx := vsc - float32(ix)
		for i := range col {
			col[i] = cmap[ix][i]*(1-fx) + cmap[ix+1][i]*fx
		}
	}
	return color.NRGBA{uint8(col[0] * 255), uint8(col[1] * 255), uint8(col[2] * 255), 255}
}
