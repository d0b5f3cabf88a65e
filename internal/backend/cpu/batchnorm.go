package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/unet/internal/parallel"
	"github.com/born-ml/unet/internal/tensor"
)

// ChannelMoments returns the per-channel mean and biased variance of a
// [N,C,H,W] tensor, each shaped [C].
func (cpu *CPUBackend) ChannelMoments(x *tensor.RawTensor) (mean, variance *tensor.RawTensor) {
	requireFloat32("channel_moments", x)
	n, c, hw := nchw("channel_moments", x.Shape())

	mean = cpu.alloc(tensor.Shape{c}, tensor.Float32)
	variance = cpu.alloc(tensor.Shape{c}, tensor.Float32)
	in, mu, vr := x.AsFloat32(), mean.AsFloat32(), variance.AsFloat32()
	count := float64(n * hw)

	parallel.For(c, func(ch int) {
		var sum float64
		for b := 0; b < n; b++ {
			for _, v := range in[(b*c+ch)*hw : (b*c+ch+1)*hw] {
				sum += float64(v)
			}
		}
		m := sum / count

		var sq float64
		for b := 0; b < n; b++ {
			for _, v := range in[(b*c+ch)*hw : (b*c+ch+1)*hw] {
				d := float64(v) - m
				sq += d * d
			}
		}
		mu[ch] = float32(m)
		vr[ch] = float32(sq / count)
	}, cpu.par)
	return mean, variance
}

// BatchNorm2D normalizes x per channel:
//
//	y = gamma * (x - mean) / sqrt(variance + eps) + beta
//
// mean, variance, gamma and beta are all shaped [C].
func (cpu *CPUBackend) BatchNorm2D(x, mean, variance, gamma, beta *tensor.RawTensor, eps float32) *tensor.RawTensor {
	requireFloat32("batchnorm2d", x, mean, variance, gamma, beta)
	n, c, hw := nchw("batchnorm2d", x.Shape())
	for _, p := range []*tensor.RawTensor{mean, variance, gamma, beta} {
		if p.NumElements() != c {
			panic(fmt.Sprintf("batchnorm2d: expected %d channel parameters, got shape %v", c, p.Shape()))
		}
	}

	result := cpu.alloc(x.Shape(), tensor.Float32)
	in, out := x.AsFloat32(), result.AsFloat32()
	mu, vr, gm, bt := mean.AsFloat32(), variance.AsFloat32(), gamma.AsFloat32(), beta.AsFloat32()

	parallel.For(n*c, func(plane int) {
		ch := plane % c
		scale := gm[ch] / float32(math.Sqrt(float64(vr[ch]+eps)))
		shift := bt[ch] - mu[ch]*scale
		src := in[plane*hw : (plane+1)*hw]
		dst := out[plane*hw : (plane+1)*hw]
		for i, v := range src {
			dst[i] = v*scale + shift
		}
	}, cpu.par)
	return result
}

func nchw(op string, shape tensor.Shape) (n, c, hw int) {
	if len(shape) != 4 {
		panic(fmt.Sprintf("%s: expected 4D input [N,C,H,W], got %v", op, shape))
	}
	return shape[0], shape[1], shape[2] * shape[3]
}

// ChannelMomentsBackward maps gradients of the per-channel mean and variance
// back to x:
//
//	dx = dmean/M + dvariance * 2(x - mean)/M,  M = N*H*W
//
// Either gradient may be nil.
func (cpu *CPUBackend) ChannelMomentsBackward(x, mean, gradMean, gradVariance *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("channel_moments_backward", x, mean)
	n, c, hw := nchw("channel_moments_backward", x.Shape())

	result := cpu.alloc(x.Shape(), tensor.Float32)
	in, out, mu := x.AsFloat32(), result.AsFloat32(), mean.AsFloat32()
	count := float32(n * hw)
	var dm, dv []float32
	if gradMean != nil {
		dm = gradMean.AsFloat32()
	}
	if gradVariance != nil {
		dv = gradVariance.AsFloat32()
	}

	parallel.For(n*c, func(plane int) {
		ch := plane % c
		var gm, gv float32
		if dm != nil {
			gm = dm[ch] / count
		}
		if dv != nil {
			gv = 2 * dv[ch] / count
		}
		src := in[plane*hw : (plane+1)*hw]
		dst := out[plane*hw : (plane+1)*hw]
		for i, v := range src {
			dst[i] = gm + gv*(v-mu[ch])
		}
	}, cpu.par)
	return result
}

// BatchNorm2DBackward returns the gradients of BatchNorm2D with respect to
// each of its tensor inputs, treating mean and variance as independent.
//
//	dx        = grad * gamma * invstd
//	dmean     = -Σ grad * gamma * invstd
//	dvariance = -½ Σ grad * gamma * (x - mean) * invstd³
//	dgamma    = Σ grad * x̂
//	dbeta     = Σ grad
func (cpu *CPUBackend) BatchNorm2DBackward(
	x, mean, variance, gamma, grad *tensor.RawTensor, eps float32,
) (dx, dmean, dvariance, dgamma, dbeta *tensor.RawTensor) {
	requireFloat32("batchnorm2d_backward", x, mean, variance, gamma, grad)
	n, c, hw := nchw("batchnorm2d_backward", x.Shape())

	dx = cpu.alloc(x.Shape(), tensor.Float32)
	dmean = cpu.alloc(tensor.Shape{c}, tensor.Float32)
	dvariance = cpu.alloc(tensor.Shape{c}, tensor.Float32)
	dgamma = cpu.alloc(tensor.Shape{c}, tensor.Float32)
	dbeta = cpu.alloc(tensor.Shape{c}, tensor.Float32)

	in, dy, out := x.AsFloat32(), grad.AsFloat32(), dx.AsFloat32()
	mu, vr, gm := mean.AsFloat32(), variance.AsFloat32(), gamma.AsFloat32()
	dm, dv, dg, db := dmean.AsFloat32(), dvariance.AsFloat32(), dgamma.AsFloat32(), dbeta.AsFloat32()

	parallel.For(c, func(ch int) {
		invstd := 1 / math.Sqrt(float64(vr[ch]+eps))
		scale := float32(float64(gm[ch]) * invstd)
		var sumDy, sumDyXc float64
		for b := 0; b < n; b++ {
			off := (b*c + ch) * hw
			for i := off; i < off+hw; i++ {
				g := float64(dy[i])
				sumDy += g
				sumDyXc += g * float64(in[i]-mu[ch])
				out[i] = dy[i] * scale
			}
		}
		dg[ch] = float32(sumDyXc * invstd)
		db[ch] = float32(sumDy)
		dm[ch] = float32(-sumDy * float64(gm[ch]) * invstd)
		dv[ch] = float32(-0.5 * sumDyXc * float64(gm[ch]) * invstd * invstd * invstd)
	}, cpu.par)
	return dx, dmean, dvariance, dgamma, dbeta
}
