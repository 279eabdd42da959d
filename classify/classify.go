// Package classify implements a suite of classifiers with a common
// fit/predict interface over gonum dense matrices.
package classify

import (
	"math/rand"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Classifier interface is implemented by all of the models in this package.
// Fit trains the model on x, one sample per row, with class labels in y.
// Predict returns the predicted class for each row of x.
type Classifier interface {
	Name() string
	Fit(x *mat.Dense, y []int) error
	Predict(x *mat.Dense) []int
}

// Shuffle reorders the samples and labels in place using the given seed.
func Shuffle(x *mat.Dense, y []int, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rows, cols := x.Dims()
	tmp := make([]float64, cols)
	rng.Shuffle(rows, func(i, j int) {
		copy(tmp, x.RawRowView(i))
		x.SetRow(i, x.RawRowView(j))
		x.SetRow(j, tmp)
		y[i], y[j] = y[j], y[i]
	})
}

// TrainTestSplit shuffles with the given seed then splits off the last
// testFrac fraction of the samples as the test set.
func TrainTestSplit(x *mat.Dense, y []int, testFrac float64, seed int64) (xTrain *mat.Dense, yTrain []int, xTest *mat.Dense, yTest []int) {
	Shuffle(x, y, seed)
	rows, cols := x.Dims()
	ntest := int(float64(rows) * testFrac)
	ntrain := rows - ntest
	xTrain = mat.NewDense(ntrain, cols, nil)
	xTest = mat.NewDense(ntest, cols, nil)
	for i := 0; i < ntrain; i++ {
		xTrain.SetRow(i, x.RawRowView(i))
	}
	for i := 0; i < ntest; i++ {
		xTest.SetRow(i, x.RawRowView(ntrain+i))
	}
	yTrain = append([]int{}, y[:ntrain]...)
	yTest = append([]int{}, y[ntrain:]...)
	return
}

// number of distinct classes assuming labels 0..n-1
func numClasses(y []int) int {
	classes := 0
	for _, v := range y {
		if v+1 > classes {
			classes = v + 1
		}
	}
	return classes
}

func argmax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}

// run fn for each index in parallel over up to jobs workers
func parallelFor(n, jobs int, fn func(i int)) {
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	if jobs > n {
		jobs = n
	}
	var wg sync.WaitGroup
	queue := make(chan int, jobs)
	for w := 0; w < jobs; w++ {
		wg.Add(1)
		go func() {
			for i := range queue {
				fn(i)
			}
			wg.Done()
		}()
	}
	for i := 0; i < n; i++ {
		queue <- i
	}
	close(queue)
	wg.Wait()
}
