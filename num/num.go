// Package num contains numeric Array processing routines such as optimised matrix multiplication.
package num

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Data type of an element of the array
type DataType int

const (
	Int32 DataType = iota + 1
	Float32
)

// TransType flag indicates if matrix is transposed
type TransType int

const (
	NoTrans TransType = TransType(blas.NoTrans)
	Trans   TransType = TransType(blas.Trans)
)

// Function which may be called via the queue
type Function struct {
	name string
	fn   func()
}

func opfn(name string, fn func()) Function {
	return Function{name: name, fn: fn}
}

// Read data from array into a slice.
func Read(a Array, data interface{}) Function {
	return opfn("copy", func() {
		switch buf := data.(type) {
		case []float32:
			copy(buf, fdata(a))
		case []int32:
			copy(buf, idata(a))
		default:
			panic(fmt.Sprintf("Read: invalid data type: %T", data))
		}
	})
}

// Write data from a slice into the given array.
func Write(a Array, data interface{}) Function {
	return opfn("copy", func() {
		switch buf := data.(type) {
		case []float32:
			copy(fdata(a), buf)
		case []int32:
			copy(idata(a), buf)
		default:
			panic(fmt.Sprintf("Write: invalid data type: %T", data))
		}
	})
}

// Write to one row in the array
func WriteRow(a Array, row int, data []float32) Function {
	dims := a.Dims()
	if len(dims) != 2 {
		panic("WriteRow: must be a matrix")
	}
	if row < 0 || row >= dims[0] {
		panic("WriteRow: row out of range")
	}
	rows, cols := dims[0], dims[1]
	return opfn("copy_row", func() {
		dst := fdata(a)
		for j := 0; j < cols; j++ {
			dst[row+j*rows] = data[j]
		}
	})
}

// Write to one column in the array
func WriteCol(a Array, col int, data []float32) Function {
	dims := a.Dims()
	var rows, cols int
	if len(dims) == 1 {
		rows, cols = 1, dims[0]
	} else if len(dims) == 2 {
		rows, cols = dims[0], dims[1]
	} else {
		panic("WriteCol: must be vector or matrix")
	}
	if col < 0 || col >= cols {
		panic("WriteCol: column out of range")
	}
	return opfn("copy_col", func() {
		copy(fdata(a)[col*rows:(col+1)*rows], data)
	})
}

// Fill array with a scalar value
func Fill(a Array, scalar float32) Function {
	return opfn("fill", func() {
		if a.Dtype() == Int32 {
			val := int32(scalar)
			dst := idata(a)
			for i := range dst {
				dst[i] = val
			}
		} else {
			dst := fdata(a)
			for i := range dst {
				dst[i] = scalar
			}
		}
	})
}

// Copy from src to dst, broadcast vector to matrix if needed, vector is tiled row wise
func Copy(dst, src Array) Function {
	if src.Dtype() != dst.Dtype() {
		panic("Copy: arguments must be same type")
	}
	ddim, sdim := dst.Dims(), src.Dims()
	if SameShape(ddim, sdim) {
		return opfn("copy", func() {
			if dst.Dtype() == Int32 {
				copy(idata(dst), idata(src))
			} else {
				copy(fdata(dst), fdata(src))
			}
		})
	} else if len(sdim) == 1 && len(ddim) == 2 && sdim[0] == ddim[1] {
		return tile1(dst, src, ddim[0], ddim[1])
	} else if len(sdim) == 2 && sdim[1] == 1 && len(ddim) == 2 && sdim[0] == ddim[0] {
		return tile0(dst, src, ddim[0], ddim[1])
	} else if len(sdim) == 2 && sdim[0] == 1 && len(ddim) == 2 && sdim[1] == ddim[1] {
		return tile1(dst, src, ddim[0], ddim[1])
	} else {
		panic(fmt.Sprintf("Copy: cannot copy from %v to %v shape", sdim, ddim))
	}
}

// tile vector as columns of the destination matrix
func tile0(dst, src Array, rows, cols int) Function {
	return opfn("tile0", func() {
		d, s := fdata(dst), fdata(src)
		for j := 0; j < cols; j++ {
			copy(d[j*rows:(j+1)*rows], s[:rows])
		}
	})
}

// tile vector as rows of the destination matrix
func tile1(dst, src Array, rows, cols int) Function {
	return opfn("tile1", func() {
		d, s := fdata(dst), fdata(src)
		for j := 0; j < cols; j++ {
			val := s[j]
			for i := 0; i < rows; i++ {
				d[i+j*rows] = val
			}
		}
	})
}

// Element wise != comparison
func Neq(x, y, res Array) Function {
	if x.Dtype() != Int32 || y.Dtype() != Int32 || res.Dtype() != Int32 {
		panic("Neq: incorrect datatype")
	}
	if !SameShape(x.Dims(), res.Dims()) || !SameShape(y.Dims(), res.Dims()) {
		panic("Neq: arrays must be same shape")
	}
	return opfn("neq", func() {
		xd, yd, rd := idata(x), idata(y), idata(res)
		for i := range rd {
			if xd[i] != yd[i] {
				rd[i] = 1
			} else {
				rd[i] = 0
			}
		}
	})
}

// Convert to one hot representation
func Onehot(x, y Array, classes int) Function {
	if x.Dtype() != Int32 || y.Dtype() != Float32 {
		panic("Onehot: incorrect datatype")
	}
	xdim, ydim := x.Dims(), y.Dims()
	if len(xdim) != 1 || len(ydim) != 2 || xdim[0] != ydim[1] || ydim[0] != classes {
		panic("Onehot: invalid array shape")
	}
	return opfn("onehot", func() {
		xd, yd := idata(x), fdata(y)
		for i := range yd {
			yd[i] = 0
		}
		for j, label := range xd[:xdim[0]] {
			yd[int(label)+j*classes] = 1
		}
	})
}

// Convert from OneHot format back to labels
func Unhot(x, y Array) Function {
	if x.Dtype() != Float32 || y.Dtype() != Int32 {
		panic("Unhot: incorrect datatype")
	}
	xdim, ydim := x.Dims(), y.Dims()
	if len(xdim) != 2 || len(ydim) != 1 || xdim[1] != ydim[0] {
		panic("Unhot: invalid array shape")
	}
	rows, cols := xdim[0], xdim[1]
	return opfn("unhot", func() {
		xd, yd := fdata(x), idata(y)
		for j := 0; j < cols; j++ {
			label, max := 0, xd[j*rows]
			for i := 1; i < rows; i++ {
				if v := xd[i+j*rows]; v > max {
					label, max = i, v
				}
			}
			yd[j] = int32(label)
		}
	})
}

// Scale array: x <- alpha*x
func Scale(alpha float32, x Array) Function {
	if x.Dtype() != Float32 {
		panic("Scale: dtype must by Float32")
	}
	n := Prod(x.Dims())
	return opfn("scale", func() {
		blas32.Implementation().Sscal(n, alpha, fdata(x), 1)
	})
}

// Array addition and scaling: y <- alpha*x + y
func Axpy(alpha float32, x, y Array) Function {
	if x.Dtype() != Float32 || y.Dtype() != Float32 {
		panic("Axpy: dtype must by Float32")
	}
	if !SameShape(x.Dims(), y.Dims()) {
		panic("Axpy: arrays must be same shape")
	}
	n := Prod(x.Dims())
	return opfn("axpy", func() {
		blas32.Implementation().Saxpy(n, alpha, fdata(x), 1, fdata(y), 1)
	})
}

// Transpose sets mB to a copy of mA with the data transposed.
func Transpose(mA, mB Array) Function {
	adim, bdim := mA.Dims(), mB.Dims()
	if len(adim) != 2 || len(bdim) != 2 {
		panic("Transpose: arrays must be 2D")
	}
	if adim[0] != bdim[1] || adim[1] != bdim[0] {
		panic("Transpose: destination matrix is wrong shape")
	}
	rows, cols := adim[0], adim[1]
	return opfn("trans", func() {
		a, b := fdata(mA), fdata(mB)
		for j := 0; j < cols; j++ {
			for i := 0; i < rows; i++ {
				b[j+i*cols] = a[i+j*rows]
			}
		}
	})
}

// Calculate the scalar sum of the values in the array. Multiplies each result by scale.
func Sum(a, total Array, scale float32) Function {
	if len(total.Dims()) != 0 || total.Dtype() != Float32 {
		panic("Sum: result type should be float32 scalar")
	}
	return opfn("sum", func() {
		var sum float32
		if a.Dtype() == Int32 {
			for _, v := range idata(a) {
				sum += float32(v)
			}
		} else {
			for _, v := range fdata(a) {
				sum += v
			}
		}
		fdata(total)[0] = sum * scale
	})
}

// Matrix vector multiplication: y <- alpha*dot(mA,x) + beta*y
// The arrays are stored in column major order, gonum blas expects row major
// hence matrix a is viewed as its transpose and the op flag is flipped.
func Gemv(alpha, beta float32, mA, x, y Array, aTrans TransType) Function {
	if mA.Dtype() != Float32 || x.Dtype() != Float32 || y.Dtype() != Float32 {
		panic("Gemv: dtype must by Float32")
	}
	adim, xdim, ydim := mA.Dims(), x.Dims(), y.Dims()
	if len(adim) != 2 || len(xdim) != 1 || len(ydim) != 1 {
		panic("Gemv: must have matrix and vector inputs")
	}
	m, n := adim[0], adim[1]
	if aTrans == Trans {
		if xdim[0] != m || ydim[0] != n {
			panic("Gemv: incorrect vector size")
		}
	} else {
		if xdim[0] != n || ydim[0] != m {
			panic("Gemv: incorrect vector size")
		}
	}
	flip := blas.Trans
	if aTrans == Trans {
		flip = blas.NoTrans
	}
	return opfn("gemv", func() {
		blas32.Implementation().Sgemv(flip, n, m, alpha, fdata(mA), m, fdata(x), 1, beta, fdata(y), 1)
	})
}

// Matrix matrix multiplication: mC <- alpha*dot(mA, mB) + beta*mC
// Implemented as the row major product mC' = mB'*mA' on the same buffers.
func Gemm(alpha, beta float32, mA, mB, mC Array, aTrans, bTrans TransType) Function {
	if mA.Dtype() != Float32 || mB.Dtype() != Float32 || mC.Dtype() != Float32 {
		panic("Gemm: dtype must by Float32")
	}
	adim, bdim, cdim := mA.Dims(), mB.Dims(), mC.Dims()
	if len(adim) != 2 || len(bdim) != 2 || len(cdim) != 2 {
		panic("Gemm: must have 2 dimensional arrays")
	}
	m, k := adim[0], adim[1]
	k2, n := bdim[0], bdim[1]
	if aTrans == Trans {
		m, k = k, m
	}
	if bTrans == Trans {
		k2, n = n, k2
	}
	if k2 != k {
		panic(fmt.Sprintf("Gemm: invalid input shape %v x %v", adim, bdim))
	}
	if cdim[0] != m || cdim[1] != n {
		panic(fmt.Sprintf("Gemm: invalid output shape %v expecting [%d %d]", cdim, m, n))
	}
	return opfn("gemm", func() {
		sgemm(bTrans, aTrans, n, m, k, alpha, fdata(mB), bdim[0], fdata(mA), adim[0], beta, fdata(mC), cdim[0])
	})
}

func sgemm(tA, tB TransType, m, n, k int, alpha float32, a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int) {
	blas32.Implementation().Sgemm(blas.Transpose(tA), blas.Transpose(tB), m, n, k, alpha, a, lda, b, ldb, beta, c, ldc)
}

// Sigmoid activation function: y = 1/(1+e**(-x))
func Sigmoid(x, y Array) Function {
	return unaryFunc("sigmoid", x, y, func(v float32) float32 {
		return 1 / (1 + exp32(-v))
	})
}

func SigmoidD(x, grad, y Array) Function {
	return binaryFunc("sigmoid_d", x, grad, y, func(v, g float32) float32 {
		s := 1 / (1 + exp32(-v))
		return g * s * (1 - s)
	})
}

// Tanh activation function: y = tanh(x)
func Tanh(x, y Array) Function {
	return unaryFunc("tanh", x, y, tanh32)
}

func TanhD(x, grad, y Array) Function {
	return binaryFunc("tanh_d", x, grad, y, func(v, g float32) float32 {
		t := tanh32(v)
		return g * (1 - t*t)
	})
}

// Relu rectified linear activation function: y = max(x, 0)
func Relu(x, y Array) Function {
	return unaryFunc("relu", x, y, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

func ReluD(x, grad, y Array) Function {
	return binaryFunc("relu_d", x, grad, y, func(v, g float32) float32 {
		if v > 0 {
			return g
		}
		return 0
	})
}

// Quadratic loss function: (x-y)**2
func QuadraticLoss(x, y, res Array) Function {
	return binaryFunc("quad_loss", x, y, res, func(a, b float32) float32 {
		return (a - b) * (a - b)
	})
}

// Softmax activation function applied to each column
func Softmax(x, res Array) Function {
	if x.Dtype() != Float32 || res.Dtype() != Float32 {
		panic("Softmax: dtype must by Float32")
	}
	xdim, rdim := x.Dims(), res.Dims()
	if len(xdim) != 2 || !SameShape(xdim, rdim) {
		panic("Softmax: arrays must be 2d and same shape")
	}
	rows, cols := xdim[0], xdim[1]
	return opfn("softmax", func() {
		xd, rd := fdata(x), fdata(res)
		for j := 0; j < cols; j++ {
			col := xd[j*rows : (j+1)*rows]
			max := col[0]
			for _, v := range col[1:] {
				if v > max {
					max = v
				}
			}
			var sum float32
			out := rd[j*rows : (j+1)*rows]
			for i, v := range col {
				out[i] = exp32(v - max)
				sum += out[i]
			}
			for i := range out {
				out[i] /= sum
			}
		}
	})
}

// Softmax cross entropy loss function: res = -x*log(y)
func SoftmaxLoss(x, y, res Array) Function {
	if x.Dtype() != Float32 || y.Dtype() != Float32 || res.Dtype() != Float32 {
		panic("SoftmaxLoss: dtype must by Float32")
	}
	xdim, ydim, rdim := x.Dims(), y.Dims(), res.Dims()
	if len(xdim) != 2 || !SameShape(xdim, ydim) || !SameShape(xdim, rdim) {
		panic("SoftmaxLoss: arrays must be 2d and same shape")
	}
	return opfn("softmax_loss", func() {
		xd, yd, rd := fdata(x), fdata(y), fdata(res)
		for i := range rd {
			if xd[i] != 0 {
				rd[i] = -xd[i] * log32(yd[i]+lossEpsilon)
			} else {
				rd[i] = 0
			}
		}
	})
}

// Adam optimiser step with bias correction:
//   m <- beta1*m + (1-beta1)*grad
//   v <- beta2*v + (1-beta2)*grad**2
//   w <- w - eta * mHat / (sqrt(vHat) + epsilon)
func Adam(eta, beta1, beta2, epsilon float32, step int, grad, mom1, mom2, w Array) Function {
	if !SameShape(grad.Dims(), w.Dims()) || !SameShape(mom1.Dims(), w.Dims()) || !SameShape(mom2.Dims(), w.Dims()) {
		panic("Adam: arrays must be same shape")
	}
	return opfn("adam", func() {
		gd, md, vd, wd := fdata(grad), fdata(mom1), fdata(mom2), fdata(w)
		c1 := 1 / (1 - pow32(beta1, step))
		c2 := 1 / (1 - pow32(beta2, step))
		for i, g := range gd {
			md[i] = beta1*md[i] + (1-beta1)*g
			vd[i] = beta2*vd[i] + (1-beta2)*g*g
			wd[i] -= eta * md[i] * c1 / (sqrt32(vd[i]*c2) + epsilon)
		}
	})
}

// CopyChans copies image channels between arrays of shape [h, w, channels, batch].
// If dst has more channels then src is written at channel offset, else the
// channels starting at offset in src are extracted into dst.
func CopyChans(dst, src Array, offset int) Function {
	ddim, sdim := dst.Dims(), src.Dims()
	if len(ddim) != 4 || len(sdim) != 4 {
		panic("CopyChans: arrays must be 4D")
	}
	if ddim[0] != sdim[0] || ddim[1] != sdim[1] || ddim[3] != sdim[3] {
		panic("CopyChans: image sizes must match")
	}
	plane := ddim[0] * ddim[1]
	dchan, schan, batch := ddim[2], sdim[2], ddim[3]
	write := dchan >= schan
	if write {
		if offset < 0 || offset+schan > dchan {
			panic("CopyChans: channel offset out of range")
		}
	} else {
		if offset < 0 || offset+dchan > schan {
			panic("CopyChans: channel offset out of range")
		}
	}
	return opfn("copy_chans", func() {
		dd, sd := fdata(dst), fdata(src)
		for i := 0; i < batch; i++ {
			if write {
				copy(dd[(i*dchan+offset)*plane:], sd[i*schan*plane:(i+1)*schan*plane])
			} else {
				copy(dd[i*dchan*plane:(i+1)*dchan*plane], sd[(i*schan+offset)*plane:])
			}
		}
	})
}

const lossEpsilon = 1e-7

func unaryFunc(name string, x, y Array, fn func(float32) float32) Function {
	if x.Dtype() != Float32 || y.Dtype() != Float32 {
		panic("UnaryFunc: dtype must by Float32")
	}
	if !SameShape(x.Dims(), y.Dims()) {
		panic("UnaryFunc: arrays must be same shape")
	}
	return opfn(name, func() {
		xd, yd := fdata(x), fdata(y)
		for i, v := range xd {
			yd[i] = fn(v)
		}
	})
}

func binaryFunc(name string, x, y, z Array, fn func(a, b float32) float32) Function {
	if x.Dtype() != Float32 || y.Dtype() != Float32 || z.Dtype() != Float32 {
		panic("BinaryFunc: dtype must by Float32")
	}
	if !SameShape(x.Dims(), z.Dims()) || !SameShape(y.Dims(), z.Dims()) {
		panic("BinaryFunc: arrays must be same shape")
	}
	return opfn(name, func() {
		xd, yd, zd := fdata(x), fdata(y), fdata(z)
		for i := range zd {
			zd[i] = fn(xd[i], yd[i])
		}
	})
}

func exp32(x float32) float32 { return float32(math.Exp(float64(x))) }

func log32(x float32) float32 { return float32(math.Log(float64(x))) }

func tanh32(x float32) float32 { return float32(math.Tanh(float64(x))) }

func sqrt32(x float32) float32 { return float32(math.Sqrt(float64(x))) }

func pow32(x float32, n int) float32 {
	return float32(math.Pow(float64(x), float64(n)))
}
