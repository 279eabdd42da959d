// Compare a suite of classifiers on the mnist digits.
package main

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/StevenLOL/algorithms-1/classify"
	"github.com/StevenLOL/algorithms-1/nnet"
)

const (
	shuffleSeed = 0
	splitSeed   = 42
	testFrac    = 0.33
	maxFit      = 100000
	chunkSize   = 128
)

func classifiers() []classify.Classifier {
	return []classify.Classifier{
		classify.NewKNN(3),
		classify.NewSVM(2.8, 0.0073),
		classify.NewLinearSVM(0.025),
		classify.NewTree(5),
		classify.NewForest(50, 25, 0, 10),
		classify.NewForest(10, 5, 1, 0),
		classify.NewAdaBoost(50),
		classify.NewNaiveBayes(),
		classify.NewGradientBoost(100, 3, 0.1),
		classify.NewMLP(500, 200),
		classify.NewMLPDropout(0.5, 500, 200),
		classify.NewCNN(),
	}
}

func main() {
	x, y, classes := loadDigits()
	rows, _ := x.Dims()
	fmt.Printf("%d samples of %d classes\n", rows, len(classes))
	xTrain, yTrain, xTest, yTest := classify.TrainTestSplit(x, y, testFrac, splitSeed)
	if n := len(yTrain); n > maxFit {
		_, cols := xTrain.Dims()
		xTrain = xTrain.Slice(0, maxFit, 0, cols).(*mat.Dense)
		yTrain = yTrain[:maxFit]
	}
	fmt.Printf("train on %d, test on %d\n", len(yTrain), len(yTest))

	var results []classify.Result
	for _, c := range classifiers() {
		fmt.Println("\n==", c.Name(), "==")
		res, err := classify.Evaluate(c, xTrain, yTrain, xTest, yTest, classes, chunkSize)
		nnet.CheckErr(err)
		fmt.Print(res.Confusion)
		fmt.Println(res)
		results = append(results, res)
	}
	fmt.Println()
	err := classify.WriteHTML(os.Stdout, results)
	nnet.CheckErr(err)
}

// merge the mnist train and test sets, scale inputs to -1:1 and shuffle
func loadDigits() (*mat.Dense, []int, []string) {
	train, err := nnet.LoadDataFile("mnist_train")
	nnet.CheckErr(err)
	test, err := nnet.LoadDataFile("mnist_test")
	nnet.CheckErr(err)
	rows := train.Len() + test.Len()
	cols := 1
	for _, d := range train.Shape() {
		cols *= d
	}
	x := mat.NewDense(rows, cols, nil)
	y := make([]int, rows)
	copyData(train, x, y, 0, cols)
	copyData(test, x, y, train.Len(), cols)
	classify.Shuffle(x, y, shuffleSeed)
	return x, y, train.Classes()
}

func copyData(d nnet.Data, x *mat.Dense, y []int, offset, cols int) {
	n := d.Len()
	index := make([]int, n)
	for i := range index {
		index[i] = i
	}
	buf := make([]float32, n*cols)
	d.Input(index, buf)
	labels := make([]int32, n)
	d.Label(index, labels)
	row := make([]float64, cols)
	for i := 0; i < n; i++ {
		for j := 0; j < cols; j++ {
			row[j] = 2*float64(buf[i*cols+j]) - 1
		}
		x.SetRow(offset+i, row)
		y[offset+i] = int(labels[i])
	}
}
