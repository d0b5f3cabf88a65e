package nn

import (
	"fmt"

	"github.com/born-ml/unet/internal/tensor"
)

// BatchNorm2D normalizes each channel of a [N,C,H,W] batch.
//
// In Train mode the batch statistics are used and the running estimates are
// updated:
//
//	running = (1 - momentum) * running + momentum * batch
//
// with the unbiased batch variance. In Eval mode the running estimates are
// used and nothing is updated.
type BatchNorm2D[B tensor.Backend] struct {
	numFeatures int
	eps         float32
	momentum    float32

	gamma *Parameter[B]
	beta  *Parameter[B]

	runningMean *tensor.Tensor[float32, B]
	runningVar  *tensor.Tensor[float32, B]

	backend B
}

// NewBatchNorm2D creates a batch normalization layer with gamma=1, beta=0,
// running mean 0 and running variance 1.
func NewBatchNorm2D[B tensor.Backend](numFeatures int, backend B) *BatchNorm2D[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid feature count %d", numFeatures))
	}
	shape := tensor.Shape{numFeatures}
	return &BatchNorm2D[B]{
		numFeatures: numFeatures,
		eps:         1e-5,
		momentum:    0.1,
		gamma:       NewParameter("weight", Ones(shape, backend)),
		beta:        NewParameter("bias", Zeros(shape, backend)),
		runningMean: Zeros(shape, backend),
		runningVar:  Ones(shape, backend),
		backend:     backend,
	}
}

// Forward normalizes input using batch (Train) or running (Eval) statistics.
func (bn *BatchNorm2D[B]) Forward(input *tensor.Tensor[float32, B], mode Mode) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != bn.numFeatures {
		panic(fmt.Sprintf("batchnorm2d: expected [N,%d,H,W] input, got %v", bn.numFeatures, shape))
	}

	gamma, beta := bn.gamma.Tensor().Raw(), bn.beta.Tensor().Raw()
	if mode == Eval {
		out := bn.backend.BatchNorm2D(input.Raw(), bn.runningMean.Raw(), bn.runningVar.Raw(), gamma, beta, bn.eps)
		return tensor.New[float32](out, bn.backend)
	}

	mean, variance := bn.backend.ChannelMoments(input.Raw())
	bn.updateRunningStats(mean, variance, shape[0]*shape[2]*shape[3])
	out := bn.backend.BatchNorm2D(input.Raw(), mean, variance, gamma, beta, bn.eps)
	return tensor.New[float32](out, bn.backend)
}

func (bn *BatchNorm2D[B]) updateRunningStats(mean, variance *tensor.RawTensor, count int) {
	correction := float32(1)
	if count > 1 {
		correction = float32(count) / float32(count-1)
	}
	rm, rv := bn.runningMean.Data(), bn.runningVar.Data()
	m, v := mean.AsFloat32(), variance.AsFloat32()
	for c := range rm {
		rm[c] = (1-bn.momentum)*rm[c] + bn.momentum*m[c]
		rv[c] = (1-bn.momentum)*rv[c] + bn.momentum*v[c]*correction
	}
}

// Parameters returns [gamma, beta].
func (bn *BatchNorm2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{bn.gamma, bn.beta}
}

// RunningMean returns the running mean estimate, updated in place.
func (bn *BatchNorm2D[B]) RunningMean() *tensor.Tensor[float32, B] { return bn.runningMean }

// RunningVar returns the running variance estimate, updated in place.
func (bn *BatchNorm2D[B]) RunningVar() *tensor.Tensor[float32, B] { return bn.runningVar }
