package optim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unet/internal/backend/cpu"
	"github.com/born-ml/unet/internal/nn"
	"github.com/born-ml/unet/internal/optim"
	"github.com/born-ml/unet/internal/tensor"
)

func param(t *testing.T, name string, values ...float32) *nn.Parameter[*cpu.CPUBackend] {
	t.Helper()
	x, err := tensor.FromSlice(values, tensor.Shape{len(values)}, cpu.New())
	require.NoError(t, err)
	return nn.NewParameter(name, x)
}

func gradFor(p *nn.Parameter[*cpu.CPUBackend], values ...float32) map[*tensor.RawTensor]*tensor.RawTensor {
	g := tensor.MustNewRaw(tensor.Shape{len(values)}, tensor.Float32, tensor.CPU)
	copy(g.AsFloat32(), values)
	return map[*tensor.RawTensor]*tensor.RawTensor{p.Tensor().Raw(): g}
}

func TestSGD_SimpleUpdate(t *testing.T) {
	p := param(t, "x", 2.0)
	opt := optim.NewSGD([]*nn.Parameter[*cpu.CPUBackend]{p}, optim.SGDConfig{LR: 0.1}, cpu.New())

	opt.Step(gradFor(p, 1.0))
	assert.InDelta(t, 1.9, p.Tensor().Data()[0], 1e-6)
	assert.InDelta(t, 0.1, opt.GetLR(), 1e-9)
}

func TestSGD_WithMomentum(t *testing.T) {
	p := param(t, "x", 1.0)
	opt := optim.NewSGD([]*nn.Parameter[*cpu.CPUBackend]{p}, optim.SGDConfig{LR: 0.1, Momentum: 0.9}, cpu.New())

	opt.Step(gradFor(p, 1.0)) // v=1, x=0.9
	opt.Step(gradFor(p, 1.0)) // v=1.9, x=0.71
	assert.InDelta(t, 0.71, p.Tensor().Data()[0], 1e-6)
}

func TestAdam_FirstStepMovesByLR(t *testing.T) {
	p := param(t, "x", 1.0, -1.0)
	opt := optim.NewAdam([]*nn.Parameter[*cpu.CPUBackend]{p}, optim.AdamConfig{LR: 0.01}, cpu.New())

	// Bias correction makes the first step exactly lr * sign(grad).
	opt.Step(gradFor(p, 5.0, -0.001))
	assert.InDelta(t, 0.99, p.Tensor().Data()[0], 1e-5)
	assert.InDelta(t, -0.99, p.Tensor().Data()[1], 1e-4)
}

func TestOptimizers_SkipFrozenAndMissing(t *testing.T) {
	frozen := param(t, "frozen", 1.0)
	frozen.SetFrozen(true)
	missing := param(t, "missing", 3.0)
	grads := gradFor(frozen, 10.0)

	for _, opt := range []optim.Optimizer{
		optim.NewSGD([]*nn.Parameter[*cpu.CPUBackend]{frozen, missing}, optim.SGDConfig{LR: 1}, cpu.New()),
		optim.NewAdam([]*nn.Parameter[*cpu.CPUBackend]{frozen, missing}, optim.AdamConfig{LR: 1}, cpu.New()),
	} {
		opt.Step(grads)
		assert.Equal(t, float32(1.0), frozen.Tensor().Data()[0])
		assert.Equal(t, float32(3.0), missing.Tensor().Data()[0])
	}
}

func TestNew_ByName(t *testing.T) {
	p := []*nn.Parameter[*cpu.CPUBackend]{param(t, "x", 0)}
	adam, err := optim.New("Adam", p, 0.5, 0, cpu.New())
	require.NoError(t, err)
	assert.IsType(t, &optim.Adam[*cpu.CPUBackend]{}, adam)

	sgd, err := optim.New("sgd", p, 0.5, 0.9, cpu.New())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, sgd.GetLR(), 1e-9)

	_, err = optim.New("lbfgs", p, 0.5, 0, cpu.New())
	assert.Error(t, err)
}
