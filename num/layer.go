package num

import (
	"fmt"
	"math/rand"
)

// col major matrix multiply on raw buffers: C <- alpha*op(A)*op(B) + beta*C
// where op(A) is m x k and op(B) is k x n. lda, ldb and ldc are column strides.
func gemm(tA, tB TransType, m, n, k int, alpha float32, a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int) {
	sgemm(tB, tA, n, m, k, alpha, b, ldb, a, lda, beta, c, ldc)
}

// ConvLayer implements 2 dimensional convolution using im2col and matrix multiply.
// Input shape is [h, w, channels, batch] in column major order, the filter
// shape is [size, size, channels, nfeats].
type ConvLayer struct {
	inShape  []int
	outShape []int
	size     int
	stride   int
	pad      int
	nfeats   int
	noBias   bool
	kkc      int
}

func NewConvLayer(inShape []int, nfeats, size, stride int, pad, noBias bool) *ConvLayer {
	if len(inShape) != 4 {
		panic("ConvLayer: expect 4 dimensional input")
	}
	h, w := inShape[0], inShape[1]
	l := &ConvLayer{inShape: inShape, size: size, stride: stride, nfeats: nfeats, noBias: noBias}
	if pad {
		l.pad = (size - 1) / 2
	}
	oh := (h+2*l.pad-size)/stride + 1
	ow := (w+2*l.pad-size)/stride + 1
	if oh < 1 || ow < 1 {
		panic(fmt.Sprintf("ConvLayer: filter size %d too large for %dx%d input", size, h, w))
	}
	l.outShape = []int{oh, ow, nfeats, inShape[3]}
	l.kkc = size * size * inShape[2]
	return l
}

func (l *ConvLayer) InShape() []int { return l.inShape }

func (l *ConvLayer) OutShape() []int { return l.outShape }

func (l *ConvLayer) FilterShape() []int {
	return []int{l.size, l.size, l.inShape[2], l.nfeats}
}

func (l *ConvLayer) BiasShape() []int {
	if l.noBias {
		return nil
	}
	return []int{l.nfeats}
}

// Scratch space in floats needed by the Fprop and Bprop kernels
func (l *ConvLayer) WorkSize() int {
	cols := l.kkc * l.outShape[0] * l.outShape[1]
	wsize := l.kkc * l.nfeats
	return cpuThreads * (cols + wsize + l.nfeats)
}

// Forward convolution: dst <- conv(src, W) + B
func (l *ConvLayer) Fprop(src, W, B, dst, work Array) Function {
	return opfn("conv_fprop", func() {
		sd, wd, dd := fdata(src), fdata(W), fdata(dst)
		var bd []float32
		if !l.noBias {
			bd = fdata(B)
		}
		oh, ow := l.outShape[0], l.outShape[1]
		ohw, ihw := oh*ow, l.inShape[0]*l.inShape[1]*l.inShape[2]
		colSize := l.kkc * ohw
		buf := workBuffer(work, cpuThreads*colSize)
		parallel(l.inShape[3], func(th, lo, hi int) {
			cols := buf[th*colSize : (th+1)*colSize]
			for i := lo; i < hi; i++ {
				l.im2col(sd[i*ihw:(i+1)*ihw], cols)
				di := dd[i*ohw*l.nfeats : (i+1)*ohw*l.nfeats]
				gemm(Trans, NoTrans, ohw, l.nfeats, l.kkc, 1, cols, l.kkc, wd, l.kkc, 0, di, ohw)
				if bd != nil {
					for f := 0; f < l.nfeats; f++ {
						bias := bd[f]
						for q := 0; q < ohw; q++ {
							di[q+f*ohw] += bias
						}
					}
				}
			}
		})
	})
}

// Input gradient: dsrc <- conv'(grad, W)
func (l *ConvLayer) BpropData(W, grad, dsrc, work Array) Function {
	return opfn("conv_bprop_data", func() {
		wd, gd, dd := fdata(W), fdata(grad), fdata(dsrc)
		oh, ow := l.outShape[0], l.outShape[1]
		ohw, ihw := oh*ow, l.inShape[0]*l.inShape[1]*l.inShape[2]
		colSize := l.kkc * ohw
		buf := workBuffer(work, cpuThreads*colSize)
		parallel(l.inShape[3], func(th, lo, hi int) {
			cols := buf[th*colSize : (th+1)*colSize]
			for i := lo; i < hi; i++ {
				gi := gd[i*ohw*l.nfeats : (i+1)*ohw*l.nfeats]
				gemm(NoTrans, Trans, l.kkc, ohw, l.nfeats, 1, wd, l.kkc, gi, ohw, 0, cols, l.kkc)
				l.col2im(cols, dd[i*ihw:(i+1)*ihw])
			}
		})
	})
}

// Filter and bias gradients: dW <- conv'(src, grad), dB <- sum(grad)
func (l *ConvLayer) BpropParams(src, grad, dW, dB, work Array) Function {
	return opfn("conv_bprop_params", func() {
		sd, gd, dwd := fdata(src), fdata(grad), fdata(dW)
		var dbd []float32
		if dB != nil {
			dbd = fdata(dB)
		}
		oh, ow := l.outShape[0], l.outShape[1]
		ohw, ihw := oh*ow, l.inShape[0]*l.inShape[1]*l.inShape[2]
		colSize := l.kkc * ohw
		wSize := l.kkc * l.nfeats
		stride := colSize + wSize + l.nfeats
		buf := workBuffer(work, cpuThreads*stride)
		nt := cpuThreads
		if nt > l.inShape[3] {
			nt = l.inShape[3]
		}
		parallel(l.inShape[3], func(th, lo, hi int) {
			cols := buf[th*stride : th*stride+colSize]
			wAcc := buf[th*stride+colSize : th*stride+colSize+wSize]
			bAcc := buf[th*stride+colSize+wSize : (th+1)*stride]
			zero(wAcc)
			zero(bAcc)
			for i := lo; i < hi; i++ {
				gi := gd[i*ohw*l.nfeats : (i+1)*ohw*l.nfeats]
				l.im2col(sd[i*ihw:(i+1)*ihw], cols)
				gemm(NoTrans, NoTrans, l.kkc, l.nfeats, ohw, 1, cols, l.kkc, gi, ohw, 1, wAcc, l.kkc)
				if dbd != nil {
					for f := 0; f < l.nfeats; f++ {
						var sum float32
						for q := 0; q < ohw; q++ {
							sum += gi[q+f*ohw]
						}
						bAcc[f] += sum
					}
				}
			}
		})
		zero(dwd)
		if dbd != nil {
			zero(dbd)
		}
		for th := 0; th < nt; th++ {
			for i, v := range buf[th*stride+colSize : th*stride+colSize+wSize] {
				dwd[i] += v
			}
			if dbd != nil {
				for i, v := range buf[th*stride+colSize+wSize : (th+1)*stride] {
					dbd[i] += v
				}
			}
		}
	})
}

// expand one image into a [size*size*channels, oh*ow] column matrix
func (l *ConvLayer) im2col(src, cols []float32) {
	h, w, chans := l.inShape[0], l.inShape[1], l.inShape[2]
	oh, ow := l.outShape[0], l.outShape[1]
	k := l.size
	for ox := 0; ox < ow; ox++ {
		for oy := 0; oy < oh; oy++ {
			base := (oy + ox*oh) * l.kkc
			for c := 0; c < chans; c++ {
				plane := c * h * w
				for kx := 0; kx < k; kx++ {
					x := ox*l.stride - l.pad + kx
					col := base + kx*k + c*k*k
					if x < 0 || x >= w {
						for ky := 0; ky < k; ky++ {
							cols[col+ky] = 0
						}
						continue
					}
					for ky := 0; ky < k; ky++ {
						y := oy*l.stride - l.pad + ky
						if y < 0 || y >= h {
							cols[col+ky] = 0
						} else {
							cols[col+ky] = src[y+x*h+plane]
						}
					}
				}
			}
		}
	}
}

// scatter the column matrix back into image gradients
func (l *ConvLayer) col2im(cols, dst []float32) {
	zero(dst)
	h, w, chans := l.inShape[0], l.inShape[1], l.inShape[2]
	oh, ow := l.outShape[0], l.outShape[1]
	k := l.size
	for ox := 0; ox < ow; ox++ {
		for oy := 0; oy < oh; oy++ {
			base := (oy + ox*oh) * l.kkc
			for c := 0; c < chans; c++ {
				plane := c * h * w
				for kx := 0; kx < k; kx++ {
					x := ox*l.stride - l.pad + kx
					if x < 0 || x >= w {
						continue
					}
					col := base + kx*k + c*k*k
					for ky := 0; ky < k; ky++ {
						y := oy*l.stride - l.pad + ky
						if y >= 0 && y < h {
							dst[y+x*h+plane] += cols[col+ky]
						}
					}
				}
			}
		}
	}
}

// PoolLayer implements max or average pooling over patches of the input.
type PoolLayer struct {
	inShape  []int
	outShape []int
	size     int
	stride   int
	pad      int
	average  bool
	argmax   []int32
}

func NewPoolLayer(inShape []int, size, stride int, pad, average bool) *PoolLayer {
	if len(inShape) != 4 {
		panic("PoolLayer: expect 4 dimensional input")
	}
	h, w := inShape[0], inShape[1]
	l := &PoolLayer{inShape: inShape, size: size, stride: stride, average: average}
	if pad {
		l.pad = (size - 1) / 2
	}
	oh := (h+2*l.pad-size)/stride + 1
	ow := (w+2*l.pad-size)/stride + 1
	l.outShape = []int{oh, ow, inShape[2], inShape[3]}
	if !average {
		l.argmax = make([]int32, Prod(l.outShape))
	}
	return l
}

func (l *PoolLayer) InShape() []int { return l.inShape }

func (l *PoolLayer) OutShape() []int { return l.outShape }

func (l *PoolLayer) Fprop(src, dst Array) Function {
	return opfn("pool_fprop", func() {
		sd, dd := fdata(src), fdata(dst)
		h, w, chans := l.inShape[0], l.inShape[1], l.inShape[2]
		oh, ow := l.outShape[0], l.outShape[1]
		isize, osize := h*w*chans, oh*ow*chans
		parallel(l.inShape[3], func(th, lo, hi int) {
			for i := lo; i < hi; i++ {
				si := sd[i*isize : (i+1)*isize]
				for c := 0; c < chans; c++ {
					plane := c * h * w
					for ox := 0; ox < ow; ox++ {
						for oy := 0; oy < oh; oy++ {
							x0, x1 := clip(ox*l.stride-l.pad, w), clip(ox*l.stride-l.pad+l.size, w)
							y0, y1 := clip(oy*l.stride-l.pad, h), clip(oy*l.stride-l.pad+l.size, h)
							opos := i*osize + oy + ox*oh + c*oh*ow
							if l.average {
								var sum float32
								for x := x0; x < x1; x++ {
									for y := y0; y < y1; y++ {
										sum += si[y+x*h+plane]
									}
								}
								dd[opos] = sum / float32((x1-x0)*(y1-y0))
							} else {
								best, bestIx := si[y0+x0*h+plane], y0+x0*h+plane
								for x := x0; x < x1; x++ {
									for y := y0; y < y1; y++ {
										if v := si[y+x*h+plane]; v > best {
											best, bestIx = v, y+x*h+plane
										}
									}
								}
								dd[opos] = best
								l.argmax[opos] = int32(bestIx)
							}
						}
					}
				}
			}
		})
	})
}

func (l *PoolLayer) Bprop(grad, dsrc Array) Function {
	return opfn("pool_bprop", func() {
		gd, dd := fdata(grad), fdata(dsrc)
		h, w, chans := l.inShape[0], l.inShape[1], l.inShape[2]
		oh, ow := l.outShape[0], l.outShape[1]
		isize, osize := h*w*chans, oh*ow*chans
		parallel(l.inShape[3], func(th, lo, hi int) {
			for i := lo; i < hi; i++ {
				di := dd[i*isize : (i+1)*isize]
				zero(di)
				for c := 0; c < chans; c++ {
					plane := c * h * w
					for ox := 0; ox < ow; ox++ {
						for oy := 0; oy < oh; oy++ {
							opos := i*osize + oy + ox*oh + c*oh*ow
							if l.average {
								x0, x1 := clip(ox*l.stride-l.pad, w), clip(ox*l.stride-l.pad+l.size, w)
								y0, y1 := clip(oy*l.stride-l.pad, h), clip(oy*l.stride-l.pad+l.size, h)
								g := gd[opos] / float32((x1-x0)*(y1-y0))
								for x := x0; x < x1; x++ {
									for y := y0; y < y1; y++ {
										di[y+x*h+plane] += g
									}
								}
							} else {
								di[l.argmax[opos]] += gd[opos]
							}
						}
					}
				}
			}
		})
	})
}

// BatchNormLayer normalises each channel of the input to zero mean and unit
// variance over the batch, then applies a learned scale and shift. Running
// averages of the batch statistics are kept for use in evaluation mode.
type BatchNormLayer struct {
	inShape   []int
	avgFactor float32
	epsilon   float32
	runMean   Array
	runVar    Array
	mean      []float32
	istd      []float32
	xhat      []float32
}

func NewBatchNormLayer(dev Device, inShape []int, avgFactor, epsilon float32) *BatchNormLayer {
	if len(inShape) != 4 {
		panic("BatchNormLayer: expect 4 dimensional input")
	}
	chans := inShape[2]
	l := &BatchNormLayer{
		inShape:   inShape,
		avgFactor: avgFactor,
		epsilon:   epsilon,
		runMean:   dev.NewArray(Float32, chans),
		runVar:    dev.NewArray(Float32, chans),
		mean:      make([]float32, chans),
		istd:      make([]float32, chans),
		xhat:      make([]float32, Prod(inShape)),
	}
	Fill(l.runVar, 1).fn()
	return l
}

func (l *BatchNormLayer) InShape() []int { return l.inShape }

func (l *BatchNormLayer) OutShape() []int { return l.inShape }

func (l *BatchNormLayer) FilterShape() []int { return []int{l.inShape[2]} }

// Running mean and variance per channel
func (l *BatchNormLayer) Stats() (mean, variance Array) {
	return l.runMean, l.runVar
}

func (l *BatchNormLayer) Fprop(src, gamma, beta, dst Array, trainMode bool) Function {
	return opfn("batchnorm_fprop", func() {
		sd, gd, bd, dd := fdata(src), fdata(gamma), fdata(beta), fdata(dst)
		h, w, chans, batch := l.inShape[0], l.inShape[1], l.inShape[2], l.inShape[3]
		plane, isize := h*w, h*w*chans
		norm := 1 / float32(plane*batch)
		rm, rv := fdata(l.runMean), fdata(l.runVar)
		parallel(chans, func(th, lo, hi int) {
			for c := lo; c < hi; c++ {
				var mean, istd float32
				if trainMode {
					var sum float32
					for i := 0; i < batch; i++ {
						base := c*plane + i*isize
						for _, v := range sd[base : base+plane] {
							sum += v
						}
					}
					mean = sum * norm
					var vsum float32
					for i := 0; i < batch; i++ {
						base := c*plane + i*isize
						for _, v := range sd[base : base+plane] {
							vsum += (v - mean) * (v - mean)
						}
					}
					variance := vsum * norm
					istd = 1 / sqrt32(variance+l.epsilon)
					l.mean[c], l.istd[c] = mean, istd
					rm[c] = (1-l.avgFactor)*rm[c] + l.avgFactor*mean
					rv[c] = (1-l.avgFactor)*rv[c] + l.avgFactor*variance
				} else {
					mean = rm[c]
					istd = 1 / sqrt32(rv[c]+l.epsilon)
				}
				scale, shift := gd[c], bd[c]
				for i := 0; i < batch; i++ {
					base := c*plane + i*isize
					for j, v := range sd[base : base+plane] {
						xh := (v - mean) * istd
						if trainMode {
							l.xhat[base+j] = xh
						}
						dd[base+j] = scale*xh + shift
					}
				}
			}
		})
	})
}

func (l *BatchNormLayer) Bprop(grad, gamma, dsrc, dGamma, dBeta Array) Function {
	return opfn("batchnorm_bprop", func() {
		gd, scale, dd := fdata(grad), fdata(gamma), fdata(dsrc)
		dgd, dbd := fdata(dGamma), fdata(dBeta)
		h, w, chans, batch := l.inShape[0], l.inShape[1], l.inShape[2], l.inShape[3]
		plane, isize := h*w, h*w*chans
		n := float32(plane * batch)
		parallel(chans, func(th, lo, hi int) {
			for c := lo; c < hi; c++ {
				var dbeta, dgamma float32
				for i := 0; i < batch; i++ {
					base := c*plane + i*isize
					for j, g := range gd[base : base+plane] {
						dbeta += g
						dgamma += g * l.xhat[base+j]
					}
				}
				dgd[c], dbd[c] = dgamma, dbeta
				k := scale[c] * l.istd[c] / n
				for i := 0; i < batch; i++ {
					base := c*plane + i*isize
					for j, g := range gd[base : base+plane] {
						dd[base+j] = k * (n*g - dbeta - l.xhat[base+j]*dgamma)
					}
				}
			}
		})
	})
}

// DropoutLayer randomly zeroes the given ratio of input values in training
// mode, scaling the others to keep the expected sum unchanged.
type DropoutLayer struct {
	inShape []int
	ratio   float32
	mask    []float32
	rng     *rand.Rand
}

func NewDropoutLayer(inShape []int, ratio float64, seed int64) *DropoutLayer {
	return &DropoutLayer{
		inShape: inShape,
		ratio:   float32(ratio),
		mask:    make([]float32, Prod(inShape)),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (l *DropoutLayer) InShape() []int { return l.inShape }

func (l *DropoutLayer) OutShape() []int { return l.inShape }

func (l *DropoutLayer) Fprop(src, dst Array, trainMode bool) Function {
	return opfn("dropout_fprop", func() {
		sd, dd := fdata(src), fdata(dst)
		if !trainMode {
			copy(dd, sd)
			return
		}
		keep := 1 / (1 - l.ratio)
		for i, v := range sd {
			if l.rng.Float32() < l.ratio {
				l.mask[i] = 0
				dd[i] = 0
			} else {
				l.mask[i] = keep
				dd[i] = v * keep
			}
		}
	})
}

func (l *DropoutLayer) Bprop(grad, dsrc Array) Function {
	return opfn("dropout_bprop", func() {
		gd, dd := fdata(grad), fdata(dsrc)
		for i, g := range gd {
			dd[i] = g * l.mask[i]
		}
	})
}

// scratch buffer for the kernels, allocated here if no workspace array is given
func workBuffer(work Array, size int) []float32 {
	if work != nil && work.Size() >= size {
		return fdata(work)
	}
	return make([]float32, size)
}

func zero(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}

func clip(x, max int) int {
	if x < 0 {
		return 0
	}
	if x > max {
		return max
	}
	return x
}
