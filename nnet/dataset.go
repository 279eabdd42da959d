package nnet

import (
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
	"path"
	"strconv"
	"sync"

	"github.com/StevenLOL/algorithms-1/num"
)

var (
	DataDir   = defaultDataDir()
	DataTypes = []string{"train", "test", "valid"}
)

func defaultDataDir() string {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		return dir
	}
	return "data"
}

func init() {
	gob.Register(data{})
}

// Data interface type represents the raw data for a training or test set
type Data interface {
	Len() int
	Classes() []string
	Shape() []int
	Label(index []int, label []int32)
	Input(index []int, buf []float32)
}

// Transformable is implemented by data sets which support normalisation
// and augmentation of the input samples.
type Transformable interface {
	SetTrans(normalise, distort bool, rng *rand.Rand)
}

// Dataset type encapsulates a set of training, test or validation data.
// Batches are loaded into device arrays in the background, double buffered.
type Dataset struct {
	Samples   int
	BatchSize int
	Shape     []int
	Data      Data
	batches   int
	queue     num.Queue
	xBuffer   []float32
	yBuffer   []int32
	x, y, y1H [2]num.Array
	indexes   []int
	buf       int
	batch     int
	rng       *rand.Rand
	sync.WaitGroup
}

// Create a new Dataset struct, allocate array buffers and set the batch size and sample limit
func NewDataset(dev num.Device, data Data, batchSize, maxSamples int, flatten bool, rng *rand.Rand) *Dataset {
	d := &Dataset{Data: data, Samples: data.Len(), Shape: data.Shape(), rng: rng}
	if maxSamples > 0 && d.Samples > maxSamples {
		d.Samples = maxSamples
	}
	if batchSize == 0 || batchSize > d.Samples {
		d.BatchSize = d.Samples
	} else {
		d.BatchSize = batchSize
	}
	d.batches = d.Samples / d.BatchSize
	if d.Samples%d.BatchSize != 0 {
		d.batches++
	}
	nfeat := num.Prod(d.Shape)
	d.xBuffer = make([]float32, nfeat*d.BatchSize)
	d.yBuffer = make([]int32, d.BatchSize)
	for i := range d.x {
		if flatten {
			d.x[i] = dev.NewArray(num.Float32, nfeat, d.BatchSize)
		} else {
			d.x[i] = dev.NewArray(num.Float32, append(append([]int{}, d.Shape...), d.BatchSize)...)
		}
		d.y[i] = dev.NewArray(num.Int32, d.BatchSize)
		d.y1H[i] = dev.NewArray(num.Float32, len(data.Classes()), d.BatchSize)
	}
	d.indexes = make([]int, d.Samples)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	d.queue = dev.NewQueue(0)
	d.loadBatch()
	return d
}

// Number of batches per epoch, the last batch wraps to the start so all are full size
func (d *Dataset) Batches() int { return d.batches }

// Class names
func (d *Dataset) Classes() []string { return d.Data.Classes() }

// Enable or disable input normalisation and distortion if supported by the data
func (d *Dataset) SetTrans(normalise, distort bool) {
	if t, ok := d.Data.(Transformable); ok {
		d.Wait()
		t.SetTrans(normalise, distort, d.rng)
	}
}

// Release allocated buffers
func (d *Dataset) Release() {
	d.Wait()
	for i := range d.x {
		num.Release(d.x[i], d.y[i], d.y1H[i])
	}
}

// kick off load of next batch of data in background
func (d *Dataset) loadBatch() {
	d.Add(1)
	go func() {
		start := d.batch * d.BatchSize
		index := make([]int, d.BatchSize)
		for i := range index {
			index[i] = d.indexes[(start+i)%d.Samples]
		}
		d.Data.Input(index, d.xBuffer)
		d.Data.Label(index, d.yBuffer)
		d.queue.Call(
			num.Write(d.x[d.buf], d.xBuffer),
			num.Write(d.y[d.buf], d.yBuffer),
			num.Onehot(d.y[d.buf], d.y1H[d.buf], len(d.Data.Classes())),
		)
		d.queue.Finish()
		d.Done()
	}()
}

// Get next batch of data
func (d *Dataset) NextBatch() (x, y, yOneHot num.Array) {
	d.Wait()
	x, y, yOneHot = d.x[d.buf], d.y[d.buf], d.y1H[d.buf]
	d.batch = (d.batch + 1) % d.batches
	d.buf = (d.buf + 1) % 2
	d.loadBatch()
	return
}

// Rewind to start of the data
func (d *Dataset) Rewind() {
	d.Wait()
	d.batch = 0
	d.loadBatch()
}

// Shuffle the sample order
func (d *Dataset) Shuffle() {
	d.Wait()
	d.indexes = d.rng.Perm(d.Samples)
}

// Load train, test and valid data sets from disk given the data set name.
func LoadData(name string) (d map[string]Data, err error) {
	var data Data
	d = make(map[string]Data)
	for _, key := range DataTypes {
		file := name + "_" + key
		if FileExists(file + ".dat") {
			if data, err = LoadDataFile(file); err != nil {
				return
			}
			d[key] = data
		}
	}
	return d, nil
}

// Decode data from file in gob format under DataDir
func LoadDataFile(name string) (Data, error) {
	filePath := path.Join(DataDir, name+".dat")
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fmt.Printf("loading data from %s.dat:\t", name)
	var d Data
	if err = gob.NewDecoder(f).Decode(&d); err != nil {
		return nil, err
	}
	fmt.Println(append(append([]int{}, d.Shape()...), d.Len()))
	return d, nil
}

// Encode in gob format and save to file under DataDir
func SaveDataFile(d Data, name string) error {
	filePath := path.Join(DataDir, name+".dat")
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Println("saving data to", name+".dat")
	return gob.NewEncoder(f).Encode(&d)
}

// Check if file exists under DataDir
func FileExists(name string) bool {
	_, err := os.Stat(path.Join(DataDir, name))
	return err == nil
}

type data struct {
	Class  []string
	Dims   []int
	Labels []int32
	Inputs []float32
}

// NewData function creates an in memory data set which implements the Data interface
func NewData(nclasses int, shape []int, labels []int32, inputs []float32) Data {
	classes := make([]string, nclasses)
	for i := range classes {
		classes[i] = strconv.Itoa(i)
	}
	return data{Class: classes, Dims: shape, Labels: labels, Inputs: inputs}
}

func (d data) Len() int { return len(d.Labels) }

func (d data) Classes() []string { return d.Class }

func (d data) Shape() []int { return d.Dims }

func (d data) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

func (d data) Input(index []int, buf []float32) {
	nfeat := num.Prod(d.Dims)
	for i, ix := range index {
		copy(buf[i*nfeat:], d.Inputs[ix*nfeat:(ix+1)*nfeat])
	}
}
