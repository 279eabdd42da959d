package classify

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"
)

// three well separated gaussian blobs in dim dimensions
func makeBlobs(perClass, dim int, seed int64) (*mat.Dense, []int) {
	rng := rand.New(rand.NewSource(seed))
	centers := [][]float64{}
	for c := 0; c < 3; c++ {
		center := make([]float64, dim)
		for j := range center {
			center[j] = float64((c+j)%3) * 4
		}
		centers = append(centers, center)
	}
	x := mat.NewDense(3*perClass, dim, nil)
	y := make([]int, 3*perClass)
	for i := 0; i < 3*perClass; i++ {
		c := i % 3
		row := make([]float64, dim)
		for j := range row {
			row[j] = centers[c][j] + rng.NormFloat64()*0.5
		}
		x.SetRow(i, row)
		y[i] = c
	}
	return x, y
}

func checkAccuracy(t *testing.T, c Classifier, minAcc float64) {
	t.Helper()
	x, y := makeBlobs(60, 4, 1)
	xTrain, yTrain, xTest, yTest := TrainTestSplit(x, y, 0.33, 42)
	if err := c.Fit(xTrain, yTrain); err != nil {
		t.Fatal(err)
	}
	pred := c.Predict(xTest)
	correct := 0
	for i, p := range pred {
		if p == yTest[i] {
			correct++
		}
	}
	acc := float64(correct) / float64(len(yTest))
	t.Logf("%s: accuracy %.3f", c.Name(), acc)
	if acc < minAcc {
		t.Errorf("%s: accuracy %.3f below %.2f", c.Name(), acc, minAcc)
	}
}

func TestKNN(t *testing.T) {
	checkAccuracy(t, NewKNN(3), 0.95)
}

func TestSVM(t *testing.T) {
	checkAccuracy(t, NewSVM(2.8, 0.5), 0.9)
}

func TestLinearSVM(t *testing.T) {
	checkAccuracy(t, NewLinearSVM(0.025), 0.9)
}

func TestTree(t *testing.T) {
	checkAccuracy(t, NewTree(5), 0.9)
}

func TestForest(t *testing.T) {
	checkAccuracy(t, NewForest(50, 10, 0, 10), 0.95)
}

func TestForestVariant(t *testing.T) {
	checkAccuracy(t, NewForest(10, 5, 1, 0), 0.8)
}

func TestAdaBoost(t *testing.T) {
	checkAccuracy(t, NewAdaBoost(50), 0.85)
}

func TestNaiveBayes(t *testing.T) {
	checkAccuracy(t, NewNaiveBayes(), 0.95)
}

func TestGradientBoost(t *testing.T) {
	checkAccuracy(t, NewGradientBoost(20, 3, 0.1), 0.9)
}

func TestMLP(t *testing.T) {
	c := NewMLP(32)
	c.Epochs, c.Batch, c.Eta = 100, 16, 0.01
	checkAccuracy(t, c, 0.9)
}

func TestMLPDropout(t *testing.T) {
	c := NewMLPDropout(0.25, 32)
	c.Epochs, c.Batch, c.Eta = 100, 16, 0.01
	checkAccuracy(t, c, 0.85)
}

func TestCNN(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping conv net in short mode")
	}
	c := NewCNN()
	c.Epochs, c.Batch, c.Eta = 50, 20, 0.01
	// 16 features reshape to 4x4 images
	x, y := makeBlobs(60, 16, 1)
	xTrain, yTrain, xTest, yTest := TrainTestSplit(x, y, 0.33, 42)
	if err := c.Fit(xTrain, yTrain); err != nil {
		t.Fatal(err)
	}
	pred := c.Predict(xTest)
	correct := 0
	for i, p := range pred {
		if p == yTest[i] {
			correct++
		}
	}
	acc := float64(correct) / float64(len(yTest))
	t.Logf("%s: accuracy %.3f", c.Name(), acc)
	if acc < 0.8 {
		t.Errorf("accuracy %.3f too low", acc)
	}
}

func TestShuffleDeterministic(t *testing.T) {
	x1, y1 := makeBlobs(10, 2, 3)
	x2, y2 := makeBlobs(10, 2, 3)
	Shuffle(x1, y1, 0)
	Shuffle(x2, y2, 0)
	if !mat.Equal(x1, x2) {
		t.Error("shuffle with same seed differs")
	}
	for i := range y1 {
		if y1[i] != y2[i] {
			t.Fatal("labels differ")
		}
	}
}

func TestTrainTestSplit(t *testing.T) {
	x, y := makeBlobs(20, 2, 5)
	xTrain, yTrain, xTest, yTest := TrainTestSplit(x, y, 0.33, 42)
	nTrain, _ := xTrain.Dims()
	nTest, _ := xTest.Dims()
	if nTest != 19 || nTrain != 41 {
		t.Errorf("split sizes %d/%d", nTrain, nTest)
	}
	if len(yTrain) != nTrain || len(yTest) != nTest {
		t.Error("label lengths do not match")
	}
}

func TestEvaluateAndReport(t *testing.T) {
	x, y := makeBlobs(30, 2, 7)
	xTrain, yTrain, xTest, yTest := TrainTestSplit(x, y, 0.33, 42)
	res, err := Evaluate(NewKNN(3), xTrain, yTrain, xTest, yTest, []string{"a", "b", "c"}, 8)
	if err != nil {
		t.Fatal(err)
	}
	if res.Confusion.Total() != len(yTest) {
		t.Errorf("confusion total %d expecting %d", res.Confusion.Total(), len(yTest))
	}
	results := []Result{
		res,
		{Name: "bad model", Accuracy: 0.5, TestTime: time.Second},
		{Name: "slow model", Accuracy: 0.99, TestTime: 6 * time.Second},
	}
	var sb strings.Builder
	if err := WriteHTML(&sb, results); err != nil {
		t.Fatal(err)
	}
	html := sb.String()
	t.Log(html)
	if strings.Count(html, `class="danger"`) != 2 {
		t.Error("expecting 2 danger rows")
	}
	if !strings.Contains(html, "<th>accuracy</th>") {
		t.Error("missing table header")
	}
	// sorted by name: bad model before slow model
	if strings.Index(html, "bad model") > strings.Index(html, "slow model") {
		t.Error("results not sorted by name")
	}
}
