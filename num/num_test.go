package num

import (
	"math"
	"math/rand"
	"testing"
)

const eps = 1e-5

func newQueue() Queue {
	return NewDevice().NewQueue(1)
}

func compare(t *testing.T, q Queue, title string, a Array, expect []float32) {
	t.Helper()
	got := make([]float32, a.Size())
	q.Call(Read(a, got)).Finish()
	if len(got) != len(expect) {
		t.Fatalf("%s: length %d expecting %d", title, len(got), len(expect))
	}
	for i := range got {
		if abs(got[i]-expect[i]) > eps {
			t.Errorf("%s mismatch at %d: got %v expect %v", title, i, got[i], expect[i])
			return
		}
	}
}

func TestCopyTile(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	vec := q.NewArray(Float32, 3)
	mat := q.NewArray(Float32, 2, 3)
	q.Call(
		Write(vec, []float32{1, 2, 3}),
		Copy(mat, vec),
	)
	compare(t, q, "tile rows", mat, []float32{1, 1, 2, 2, 3, 3})
	col := q.NewArray(Float32, 2, 1)
	q.Call(
		Write(col, []float32{5, 6}),
		Copy(mat, col),
	)
	compare(t, q, "tile cols", mat, []float32{5, 6, 5, 6, 5, 6})
}

func TestOnehot(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	labels := q.NewArray(Int32, 4)
	hot := q.NewArray(Float32, 3, 4)
	back := q.NewArray(Int32, 4)
	q.Call(
		Write(labels, []int32{0, 2, 1, 2}),
		Onehot(labels, hot, 3),
	)
	compare(t, q, "onehot", hot, []float32{
		1, 0, 0,
		0, 0, 1,
		0, 1, 0,
		0, 0, 1})
	q.Call(Unhot(hot, back))
	got := make([]int32, 4)
	q.Call(Read(back, got)).Finish()
	for i, v := range []int32{0, 2, 1, 2} {
		if got[i] != v {
			t.Errorf("unhot mismatch at %d: got %d", i, got[i])
		}
	}
}

func TestGemm(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	// A = [[1 2 3],[4 5 6]] stored column major
	A := q.NewArray(Float32, 2, 3)
	B := q.NewArray(Float32, 3, 2)
	C := q.NewArray(Float32, 2, 2)
	q.Call(
		Write(A, []float32{1, 4, 2, 5, 3, 6}),
		Write(B, []float32{7, 8, 9, 10, 11, 12}),
		Gemm(1, 0, A, B, C, NoTrans, NoTrans),
	)
	compare(t, q, "gemm", C, []float32{50, 122, 68, 167})

	// A' * A = [[17 22 27],[22 29 36],[27 36 45]]
	D := q.NewArray(Float32, 3, 3)
	q.Call(Gemm(1, 0, A, A, D, Trans, NoTrans))
	compare(t, q, "gemm trans", D, []float32{17, 22, 27, 22, 29, 36, 27, 36, 45})
}

func TestGemv(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	A := q.NewArray(Float32, 2, 3)
	x := q.NewArray(Float32, 3)
	y := q.NewArray(Float32, 2)
	q.Call(
		Write(A, []float32{1, 4, 2, 5, 3, 6}),
		Write(x, []float32{1, 1, 2}),
		Gemv(1, 0, A, x, y, NoTrans),
	)
	compare(t, q, "gemv", y, []float32{9, 21})
	x2 := q.NewArray(Float32, 2)
	y2 := q.NewArray(Float32, 3)
	q.Call(
		Write(x2, []float32{1, 2}),
		Gemv(1, 0, A, x2, y2, Trans),
	)
	compare(t, q, "gemv trans", y2, []float32{9, 12, 15})
}

func TestSoftmax(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	x := q.NewArray(Float32, 3, 2)
	y := q.NewArray(Float32, 3, 2)
	q.Call(
		Write(x, []float32{1, 2, 3, 1, 1, 1}),
		Softmax(x, y),
	)
	got := make([]float32, 6)
	q.Call(Read(y, got)).Finish()
	for col := 0; col < 2; col++ {
		var sum float32
		for i := 0; i < 3; i++ {
			sum += got[i+col*3]
		}
		if abs(sum-1) > eps {
			t.Errorf("col %d sums to %v", col, sum)
		}
	}
	if !(got[2] > got[1] && got[1] > got[0]) {
		t.Error("softmax not monotonic")
	}
	for i := 3; i < 6; i++ {
		if abs(got[i]-1.0/3.0) > eps {
			t.Errorf("uniform col value %v", got[i])
		}
	}
}

func TestActivations(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	in := []float32{-2, -1, 0, 1, 2, 3}
	x := q.NewArray(Float32, 6)
	y := q.NewArray(Float32, 6)
	q.Call(Write(x, in), Relu(x, y))
	compare(t, q, "relu", y, []float32{0, 0, 0, 1, 2, 3})

	grad := q.NewArray(Float32, 6)
	dx := q.NewArray(Float32, 6)
	q.Call(
		Fill(grad, 1),
		ReluD(x, grad, dx),
	)
	compare(t, q, "relu grad", dx, []float32{0, 0, 0, 1, 1, 1})

	q.Call(Sigmoid(x, y))
	expect := make([]float32, 6)
	for i, v := range in {
		expect[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
	compare(t, q, "sigmoid", y, expect)
}

func TestSumScaleAxpy(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	x := q.NewArray(Float32, 4)
	y := q.NewArray(Float32, 4)
	total := q.NewArray(Float32)
	q.Call(
		Write(x, []float32{1, 2, 3, 4}),
		Write(y, []float32{1, 1, 1, 1}),
		Axpy(2, x, y),
	)
	compare(t, q, "axpy", y, []float32{3, 5, 7, 9})
	q.Call(Sum(y, total, 0.5))
	compare(t, q, "sum", total, []float32{12})
	q.Call(Scale(2, x))
	compare(t, q, "scale", x, []float32{2, 4, 6, 8})
}

func TestTranspose(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	a := q.NewArray(Float32, 2, 3)
	b := q.NewArray(Float32, 3, 2)
	q.Call(
		Write(a, []float32{1, 4, 2, 5, 3, 6}),
		Transpose(a, b),
	)
	compare(t, q, "transpose", b, []float32{1, 2, 3, 4, 5, 6})
}

func TestCopyChans(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	src := q.NewArray(Float32, 2, 2, 1, 2)
	dst := q.NewArray(Float32, 2, 2, 3, 2)
	data := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	q.Call(
		Write(src, data),
		Fill(dst, 0),
		CopyChans(dst, src, 1),
	)
	expect := []float32{
		0, 0, 0, 0, 1, 2, 3, 4, 0, 0, 0, 0,
		0, 0, 0, 0, 5, 6, 7, 8, 0, 0, 0, 0}
	compare(t, q, "copychans write", dst, expect)
	out := q.NewArray(Float32, 2, 2, 1, 2)
	q.Call(CopyChans(out, dst, 1))
	compare(t, q, "copychans read", out, data)
}

func TestAdam(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	n := 3
	grad := q.NewArray(Float32, n)
	m := q.NewArray(Float32, n)
	v := q.NewArray(Float32, n)
	w := q.NewArray(Float32, n)
	g := []float32{0.5, -0.25, 1}
	q.Call(
		Write(grad, g),
		Fill(w, 1),
		Adam(0.1, 0.9, 0.999, 1e-8, 1, grad, m, v, w),
	)
	// first step: mHat = g, vHat = g*g so update is close to eta*sign(g)
	expect := make([]float32, n)
	for i, gv := range g {
		mh := float64(gv)
		vh := float64(gv) * float64(gv)
		expect[i] = 1 - float32(0.1*mh/(math.Sqrt(vh)+1e-8))
	}
	compare(t, q, "adam", w, expect)
}

func TestReshape(t *testing.T) {
	q := newQueue()
	defer q.Shutdown()
	a := q.NewArray(Float32, 2, 3, 4)
	b := a.Reshape(-1, 4)
	if !SameShape(b.Dims(), []int{6, 4}) {
		t.Errorf("reshape dims %v", b.Dims())
	}
	q.Call(Fill(b, 3))
	got := make([]float32, 24)
	q.Call(Read(a, got)).Finish()
	for _, v := range got {
		if v != 3 {
			t.Fatal("reshape does not share data")
		}
	}
}

func randSlice(rng *rand.Rand, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = rng.Float32()*2 - 1
	}
	return s
}

func BenchmarkGemm(b *testing.B) {
	q := newQueue()
	defer q.Shutdown()
	rng := rand.New(rand.NewSource(1))
	const n = 128
	A := q.NewArray(Float32, n, n)
	B := q.NewArray(Float32, n, n)
	C := q.NewArray(Float32, n, n)
	q.Call(
		Write(A, randSlice(rng, n*n)),
		Write(B, randSlice(rng, n*n)),
	).Finish()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Call(Gemm(1, 0, A, B, C, NoTrans, NoTrans)).Finish()
	}
}
