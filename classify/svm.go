package classify

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Support vector machine trained with sequential minimal optimisation.
// Multiclass problems use a one vs one vote over all class pairs.
type SVM struct {
	C      float64
	Gamma  float64
	Kernel string
	Tol    float64
	MaxIt  int
	nCls   int
	models []*binarySVM
	pairs  [][2]int
}

// NewSVM creates a gaussian kernel SVM. Gamma scales the kernel width.
func NewSVM(c, gamma float64) *SVM {
	return &SVM{C: c, Gamma: gamma, Kernel: "rbf", Tol: 1e-3, MaxIt: 100}
}

// NewLinearSVM creates an SVM with a linear kernel.
func NewLinearSVM(c float64) *SVM {
	return &SVM{C: c, Kernel: "linear", Tol: 1e-3, MaxIt: 100}
}

func (c *SVM) Name() string {
	if c.Kernel == "linear" {
		return fmt.Sprintf("linear SVM (C=%g)", c.C)
	}
	return fmt.Sprintf("RBF SVM (C=%g gamma=%g)", c.C, c.Gamma)
}

func (c *SVM) kernel(a, b []float64) float64 {
	if c.Kernel == "linear" {
		var sum float64
		for i, v := range a {
			sum += v * b[i]
		}
		return sum
	}
	return math.Exp(-c.Gamma * sqDist(a, b))
}

func (c *SVM) Fit(x *mat.Dense, y []int) error {
	rows, _ := x.Dims()
	if rows != len(y) {
		return fmt.Errorf("svm: have %d samples but %d labels", rows, len(y))
	}
	c.nCls = numClasses(y)
	c.pairs = c.pairs[:0]
	for i := 0; i < c.nCls; i++ {
		for j := i + 1; j < c.nCls; j++ {
			c.pairs = append(c.pairs, [2]int{i, j})
		}
	}
	c.models = make([]*binarySVM, len(c.pairs))
	parallelFor(len(c.pairs), 0, func(p int) {
		pos, neg := c.pairs[p][0], c.pairs[p][1]
		var sub [][]float64
		var lab []float64
		for i, cls := range y {
			if cls == pos {
				sub = append(sub, x.RawRowView(i))
				lab = append(lab, 1)
			} else if cls == neg {
				sub = append(sub, x.RawRowView(i))
				lab = append(lab, -1)
			}
		}
		m := &binarySVM{svm: c, x: sub, y: lab}
		m.train()
		c.models[p] = m
	})
	return nil
}

func (c *SVM) Predict(x *mat.Dense) []int {
	rows, _ := x.Dims()
	pred := make([]int, rows)
	parallelFor(rows, 0, func(i int) {
		row := x.RawRowView(i)
		votes := make([]float64, c.nCls)
		for p, m := range c.models {
			if m.decision(row) > 0 {
				votes[c.pairs[p][0]]++
			} else {
				votes[c.pairs[p][1]]++
			}
		}
		pred[i] = argmax(votes)
	})
	return pred
}

// binary soft margin SVM for one pair of classes
type binarySVM struct {
	svm   *SVM
	x     [][]float64
	y     []float64
	alpha []float64
	b     float64
}

// simplified SMO as per the Stanford CS229 notes
func (m *binarySVM) train() {
	n := len(m.x)
	m.alpha = make([]float64, n)
	rng := rand.New(rand.NewSource(1))
	c, tol := m.svm.C, m.svm.Tol
	passes, iters := 0, m.svm.MaxIt
	for passes < 3 && iters > 0 {
		changed := 0
		for i := 0; i < n; i++ {
			ei := m.decisionTrain(i) - m.y[i]
			if (m.y[i]*ei < -tol && m.alpha[i] < c) || (m.y[i]*ei > tol && m.alpha[i] > 0) {
				j := rng.Intn(n - 1)
				if j >= i {
					j++
				}
				ej := m.decisionTrain(j) - m.y[j]
				ai, aj := m.alpha[i], m.alpha[j]
				var lo, hi float64
				if m.y[i] != m.y[j] {
					lo, hi = math.Max(0, aj-ai), math.Min(c, c+aj-ai)
				} else {
					lo, hi = math.Max(0, ai+aj-c), math.Min(c, ai+aj)
				}
				if lo == hi {
					continue
				}
				kii := m.svm.kernel(m.x[i], m.x[i])
				kjj := m.svm.kernel(m.x[j], m.x[j])
				kij := m.svm.kernel(m.x[i], m.x[j])
				eta := 2*kij - kii - kjj
				if eta >= 0 {
					continue
				}
				aj2 := aj - m.y[j]*(ei-ej)/eta
				if aj2 > hi {
					aj2 = hi
				} else if aj2 < lo {
					aj2 = lo
				}
				if math.Abs(aj2-aj) < 1e-5 {
					continue
				}
				ai2 := ai + m.y[i]*m.y[j]*(aj-aj2)
				m.alpha[i], m.alpha[j] = ai2, aj2
				b1 := m.b - ei - m.y[i]*(ai2-ai)*kii - m.y[j]*(aj2-aj)*kij
				b2 := m.b - ej - m.y[i]*(ai2-ai)*kij - m.y[j]*(aj2-aj)*kjj
				switch {
				case ai2 > 0 && ai2 < c:
					m.b = b1
				case aj2 > 0 && aj2 < c:
					m.b = b2
				default:
					m.b = (b1 + b2) / 2
				}
				changed++
			}
		}
		if changed == 0 {
			passes++
		} else {
			passes = 0
		}
		iters--
	}
	// drop non support vectors
	var xs [][]float64
	var ys, as []float64
	for i, a := range m.alpha {
		if a > 0 {
			xs = append(xs, m.x[i])
			ys = append(ys, m.y[i])
			as = append(as, a)
		}
	}
	m.x, m.y, m.alpha = xs, ys, as
}

func (m *binarySVM) decisionTrain(i int) float64 {
	return m.decision(m.x[i])
}

func (m *binarySVM) decision(row []float64) float64 {
	sum := m.b
	for i, a := range m.alpha {
		if a > 0 {
			sum += a * m.y[i] * m.svm.kernel(m.x[i], row)
		}
	}
	return sum
}
