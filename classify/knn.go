package classify

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// k-nearest neighbours classifier using brute force search
type KNN struct {
	K    int
	x    *mat.Dense
	y    []int
	nCls int
}

func NewKNN(k int) *KNN {
	return &KNN{K: k}
}

func (c *KNN) Name() string {
	return fmt.Sprintf("nearest neighbors (k=%d)", c.K)
}

func (c *KNN) Fit(x *mat.Dense, y []int) error {
	rows, _ := x.Dims()
	if rows != len(y) {
		return fmt.Errorf("knn: have %d samples but %d labels", rows, len(y))
	}
	c.x = x
	c.y = y
	c.nCls = numClasses(y)
	return nil
}

func (c *KNN) Predict(x *mat.Dense) []int {
	rows, _ := x.Dims()
	pred := make([]int, rows)
	parallelFor(rows, 0, func(i int) {
		pred[i] = c.predictOne(x.RawRowView(i))
	})
	return pred
}

func (c *KNN) predictOne(row []float64) int {
	n, _ := c.x.Dims()
	// indices and distances of the k nearest so far, sorted ascending
	dist := make([]float64, c.K)
	near := make([]int, c.K)
	for j := range dist {
		dist[j] = math.Inf(1)
		near[j] = -1
	}
	for j := 0; j < n; j++ {
		d := sqDist(row, c.x.RawRowView(j))
		if d >= dist[c.K-1] {
			continue
		}
		pos := c.K - 1
		for pos > 0 && dist[pos-1] > d {
			dist[pos] = dist[pos-1]
			near[pos] = near[pos-1]
			pos--
		}
		dist[pos] = d
		near[pos] = j
	}
	votes := make([]float64, c.nCls)
	for _, ix := range near {
		if ix >= 0 {
			votes[c.y[ix]]++
		}
	}
	return argmax(votes)
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i, v := range a {
		d := v - b[i]
		sum += d * d
	}
	return sum
}
