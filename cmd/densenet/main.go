// Densely connected convolutional network: see https://arxiv.org/abs/1608.06993
package main

import (
	"fmt"

	"github.com/StevenLOL/algorithms-1/nnet"
)

const growth = 12

// composite layer with bottleneck: BN-relu-1x1 conv-BN-relu-3x3 conv
func bottleneck() nnet.ConfigLayer {
	return nnet.NewConcat(
		nnet.BatchNorm{},
		nnet.Activation{Atype: "relu"},
		nnet.Conv{Nfeats: 4 * growth, Size: 1, NoBias: true},
		nnet.BatchNorm{},
		nnet.Activation{Atype: "relu"},
		nnet.Conv{Nfeats: growth, Size: 3, Pad: true, NoBias: true},
	)
}

// basic composite layer: BN-relu-3x3 conv
func composite() nnet.ConfigLayer {
	return nnet.NewConcat(
		nnet.BatchNorm{},
		nnet.Activation{Atype: "relu"},
		nnet.Conv{Nfeats: growth, Size: 3, Pad: true, NoBias: true},
	)
}

// transition between dense blocks: 1x1 conv then average pool
func transition(nfeat int) []nnet.ConfigLayer {
	return []nnet.ConfigLayer{
		nnet.BatchNorm{},
		nnet.Activation{Atype: "relu"},
		nnet.Conv{Nfeats: nfeat, Size: 1, NoBias: true},
		nnet.Pool{Size: 2, Average: true},
	}
}

func classifier() []nnet.ConfigLayer {
	return []nnet.ConfigLayer{
		nnet.BatchNorm{},
		nnet.Activation{Atype: "relu"},
		nnet.Pool{Size: 8, Average: true},
		nnet.Flatten{},
		nnet.Linear{Nout: 100},
		nnet.Activation{Atype: "softmax"},
	}
}

func main() {
	conf := nnet.Config{
		DataSet:    "cifar100",
		Optimiser:  "adam",
		Eta:        0.0001,
		MaxEpoch:   200,
		TrainBatch: 64,
		TestBatch:  250,
		Shuffle:    true,
		Normalise:  true,
		Distort:    true,
		SaveBest:   true,
		WeightInit: nnet.HeNormal,
	}

	// DenseNet-BC-100-12: 3 blocks of 16 bottleneck layers, compression 0.5
	c := conf.AddLayers(nnet.Conv{Nfeats: 2 * growth, Size: 3, Pad: true, NoBias: true})
	nfeat := 2 * growth
	for block := 0; block < 3; block++ {
		if block > 0 {
			nfeat /= 2
			c = c.AddLayers(transition(nfeat)...)
		}
		for i := 0; i < 16; i++ {
			c = c.AddLayers(bottleneck())
			nfeat += growth
		}
	}
	c = c.AddLayers(classifier()...)
	fmt.Println(c)
	err := c.SaveDefault("cifar100_dense")
	nnet.CheckErr(err)

	// 40 layer variant without bottleneck or compression for smaller runs
	c = conf.AddLayers(nnet.Conv{Nfeats: 16, Size: 3, Pad: true, NoBias: true})
	nfeat = 16
	for block := 0; block < 3; block++ {
		if block > 0 {
			c = c.AddLayers(transition(nfeat)...)
		}
		for i := 0; i < 12; i++ {
			c = c.AddLayers(composite())
			nfeat += growth
		}
	}
	c = c.AddLayers(classifier()...)
	fmt.Println(c)
	err = c.SaveDefault("cifar100_dense40")
	nnet.CheckErr(err)
}
