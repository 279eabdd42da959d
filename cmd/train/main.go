// Train a network given the model config file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/StevenLOL/algorithms-1/nnet"
	"github.com/StevenLOL/algorithms-1/num"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: train [opts] <model>")
		os.Exit(1)
	}
	model := os.Args[len(os.Args)-1]
	fmt.Println("load model:", model)
	conf, err := nnet.LoadConfig(model + ".conf")
	nnet.CheckErr(err)

	// override config settings from command line
	flag.Float64Var(&conf.Eta, "eta", conf.Eta, "learning rate")
	flag.Float64Var(&conf.Lambda, "lambda", conf.Lambda, "weight decay parameter")
	flag.Int64Var(&conf.RandSeed, "seed", conf.RandSeed, "random number seed")
	flag.IntVar(&conf.MaxEpoch, "epochs", conf.MaxEpoch, "max epochs")
	flag.IntVar(&conf.MaxSamples, "samples", conf.MaxSamples, "max samples")
	flag.IntVar(&conf.TrainBatch, "batch", conf.TrainBatch, "train batch size")
	flag.IntVar(&conf.TestBatch, "testbatch", conf.TestBatch, "test batch size")
	flag.IntVar(&conf.DebugLevel, "debug", conf.DebugLevel, "debug logging level")
	flag.BoolVar(&conf.Profile, "profile", conf.Profile, "print profiling info")
	flag.Parse()

	dev := num.NewDevice()
	q := dev.NewQueue(conf.Threads)
	rng := nnet.SetSeed(conf.RandSeed)

	// load training and test data
	data, err := nnet.LoadData(conf.DataSet)
	nnet.CheckErr(err)
	trainData := nnet.NewDataset(dev, data["train"], conf.TrainBatch, conf.MaxSamples, conf.FlattenInput, rng)
	trainData.SetTrans(conf.Normalise, conf.Distort)

	// initialise weights
	q.Profiling(conf.Profile)
	trainNet := nnet.New(q, conf, trainData.BatchSize, trainData.Shape, rng)
	fmt.Println(trainNet)
	trainNet.InitWeights(rng)

	// train the network, saving the best checkpoint as we go
	tester := nnet.NewTestLogger(q, conf, data, rng)
	tester.ModelName = model
	nnet.Train(trainNet, trainData, tester)

	err = nnet.SaveHistory(model, tester.TestBase)
	nnet.CheckErr(err)
	err = nnet.SaveModel(q, trainNet, model, len(tester.Stats))
	nnet.CheckErr(err)

	trainData.Release()
	tester.Release()
	trainNet.Release()
	q.Shutdown()
}
