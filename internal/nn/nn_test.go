package nn_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unet/internal/autodiff"
	"github.com/born-ml/unet/internal/backend/cpu"
	"github.com/born-ml/unet/internal/nn"
	"github.com/born-ml/unet/internal/tensor"
)

type adBackend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func TestConv2D_ShapesAndBiasGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())
	rng := rand.New(rand.NewSource(1))
	conv := nn.NewConv2D(3, 4, 3, 1, 1, true, rng, backend)

	x := tensor.Randn(tensor.Shape{2, 3, 8, 8}, 1, rng, backend)
	backend.Tape().StartRecording()
	out := conv.Forward(x, nn.Train)
	require.Equal(t, tensor.Shape{2, 4, 8, 8}, out.Shape())

	targets := tensor.Zeros[int64](tensor.Shape{2, 8, 8}, backend)
	loss := nn.CrossEntropy2D(out, targets)
	grads := autodiff.Backward(loss, backend)

	params := conv.Parameters()
	require.Len(t, params, 2)
	for _, p := range params {
		g, ok := grads[p.Tensor().Raw()]
		require.True(t, ok, "no gradient for %s", p.Name())
		assert.Equal(t, p.Tensor().Shape(), g.Shape())
	}
}

func TestConv2D_NoBias(t *testing.T) {
	backend := cpu.New()
	conv := nn.NewConv2D(2, 2, 1, 1, 0, false, rand.New(rand.NewSource(1)), backend)
	assert.Len(t, conv.Parameters(), 1)
	assert.Nil(t, conv.Bias())
}

func TestConvTranspose2D_DoublesSpatialSize(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(2))
	up := nn.NewConvTranspose2D(8, 4, 2, 2, rng, backend)

	out := up.Forward(tensor.Randn(tensor.Shape{1, 8, 3, 5}, 1, rng, backend), nn.Eval)
	assert.Equal(t, tensor.Shape{1, 4, 6, 10}, out.Shape())
}

func TestBatchNorm2D_TrainNormalizesAndUpdatesRunningStats(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm2D(1, backend)
	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6, 7, 8}, tensor.Shape{2, 1, 2, 2}, backend)
	require.NoError(t, err)

	out := bn.Forward(x, nn.Train)
	var sum float64
	for _, v := range out.Data() {
		sum += float64(v)
	}
	assert.InDelta(t, 0, sum, 1e-4, "batch output has zero mean")

	// mean 4.5, unbiased variance 6.
	assert.InDelta(t, 0.45, bn.RunningMean().Data()[0], 1e-6)
	assert.InDelta(t, 0.9*1+0.1*6, bn.RunningVar().Data()[0], 1e-5)
}

func TestBatchNorm2D_EvalUsesRunningStats(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm2D(2, backend)
	x, err := tensor.FromSlice([]float32{3, -1, 10, 0}, tensor.Shape{1, 2, 1, 2}, backend)
	require.NoError(t, err)

	out := bn.Forward(x, nn.Eval)
	// Fresh running stats (0, 1): output is x / sqrt(1 + eps).
	assert.InDeltaSlice(t, []float32{3, -1, 10, 0}, out.Data(), 1e-4)
	assert.Equal(t, []float32{0, 0}, bn.RunningMean().Data(), "eval leaves running stats unchanged")
}

func TestSequential_ParametersAndPrefix(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(3))
	block := nn.NewSequential[*cpu.CPUBackend](
		nn.NewConv2D(1, 2, 3, 1, 1, true, rng, backend),
		nn.NewBatchNorm2D(2, backend),
		nn.NewReLU[*cpu.CPUBackend](),
		nn.NewMaxPool2D(2, 2, backend),
	)

	params := nn.Prefix("block", block.Parameters())
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name()
	}
	assert.Equal(t, []string{"block.weight", "block.bias", "block.weight", "block.bias"}, names)

	out := block.Forward(tensor.Randn(tensor.Shape{2, 1, 4, 4}, 1, rng, backend), nn.Train)
	assert.Equal(t, tensor.Shape{2, 2, 2, 2}, out.Shape())
	for _, v := range out.Data() {
		assert.GreaterOrEqual(t, v, float32(0))
	}
}

func TestPixelAccuracy(t *testing.T) {
	backend := cpu.New()
	pred, _ := tensor.FromSlice([]int64{0, 1, 2, 2}, tensor.Shape{1, 2, 2}, backend)
	target, _ := tensor.FromSlice([]int64{0, 1, 1, 2}, tensor.Shape{1, 2, 2}, backend)
	assert.InDelta(t, 0.75, nn.PixelAccuracy(pred, target), 1e-12)
	assert.InDelta(t, 1.0, nn.PixelAccuracy(pred, pred), 1e-12)
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "train", nn.Train.String())
	assert.Equal(t, "eval", nn.Eval.String())
}

var _ nn.Module[adBackend] = (*nn.Conv2D[adBackend])(nil)
