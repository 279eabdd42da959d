package nnet

import (
	"encoding/csv"
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
	"path"

	"github.com/StevenLOL/algorithms-1/num"
)

// Weight, bias and batch norm statistics for one parameterised layer
type LayerData struct {
	Layer int
	W     []float32
	B     []float32
	Stats [][]float32
}

type checkpoint struct {
	Conf   Config
	Shape  []int
	Epoch  int
	Params []LayerData
}

// Export the network parameters to host memory
func (n *Network) ExportParams() []LayerData {
	q := n.queue
	var list []LayerData
	for i, p := range paramLayers(n.Layers) {
		W, B := p.Params()
		ld := LayerData{Layer: i, W: make([]float32, W.Size())}
		q.Call(num.Read(W, ld.W))
		if B != nil {
			ld.B = make([]float32, B.Size())
			q.Call(num.Read(B, ld.B))
		}
		if bn, ok := p.(BatchNormLayer); ok {
			mean, variance := bn.Stats()
			ld.Stats = [][]float32{make([]float32, mean.Size()), make([]float32, variance.Size())}
			q.Call(
				num.Read(mean, ld.Stats[0]),
				num.Read(variance, ld.Stats[1]),
			)
		}
		list = append(list, ld)
	}
	q.Finish()
	return list
}

// Import saved parameters into this network
func (n *Network) ImportParams(list []LayerData) error {
	q := n.queue
	params := paramLayers(n.Layers)
	if len(list) != len(params) {
		return fmt.Errorf("import params: have %d param layers, file has %d", len(params), len(list))
	}
	for i, ld := range list {
		params[i].SetParams(q, ld.W, ld.B)
		if bn, ok := params[i].(BatchNormLayer); ok {
			if len(ld.Stats) != 2 {
				return fmt.Errorf("import params: layer %d missing batch norm stats", i)
			}
			mean, variance := bn.Stats()
			q.Call(
				num.Write(mean, ld.Stats[0]),
				num.Write(variance, ld.Stats[1]),
			)
		}
	}
	q.Finish()
	return nil
}

// Save the trained model in gob format as <name>.net under DataDir
func SaveModel(q num.Queue, net *Network, name string, epoch int) error {
	ck := checkpoint{
		Conf:   net.Config,
		Shape:  append([]int{}, net.InShape[:len(net.InShape)-1]...),
		Epoch:  epoch,
		Params: net.ExportParams(),
	}
	filePath := path.Join(DataDir, "."+name+".net")
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	if err = gob.NewEncoder(f).Encode(&ck); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(filePath, path.Join(DataDir, name+".net"))
}

// Load a model saved with SaveModel and rebuild the network with the given
// batch size. Returns the network and the epoch at which it was saved.
func LoadModel(queue num.Queue, name string, batchSize int, rng *rand.Rand) (*Network, int, error) {
	filePath := path.Join(DataDir, name+".net")
	f, err := os.Open(filePath)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	fmt.Println("loading model from", name+".net")
	var ck checkpoint
	if err = gob.NewDecoder(f).Decode(&ck); err != nil {
		return nil, 0, err
	}
	net := New(queue, ck.Conf, batchSize, ck.Shape, rng)
	if err = net.ImportParams(ck.Params); err != nil {
		return nil, 0, err
	}
	return net, ck.Epoch, nil
}

// Save the per epoch training history as <name>_history.csv under DataDir
// with loss, training accuracy and validation accuracy columns.
func SaveHistory(name string, t *TestBase) error {
	trainIx, valIx := -1, -1
	for i, h := range t.Headers {
		switch h {
		case "train error":
			trainIx = i
		case "test error":
			if valIx < 0 {
				valIx = i
			}
		case "valid error":
			valIx = i
		}
	}
	if trainIx < 0 {
		return fmt.Errorf("save history: no training error stats")
	}
	if valIx < 0 {
		valIx = trainIx
	}
	filePath := path.Join(DataDir, name+"_history.csv")
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Println("saving history to", name+"_history.csv")
	w := csv.NewWriter(f)
	if err = w.Write([]string{"epoch", "loss", "acc", "val_acc"}); err != nil {
		return err
	}
	for _, s := range t.Stats {
		rec := []string{
			fmt.Sprintf("%d", s.Epoch),
			fmt.Sprintf("%.4f", s.Values[0]),
			fmt.Sprintf("%.4f", 1-s.Values[trainIx]),
			fmt.Sprintf("%.4f", 1-s.Values[valIx]),
		}
		if err = w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
