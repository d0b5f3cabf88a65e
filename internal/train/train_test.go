package train

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unet/internal/autodiff"
	"github.com/born-ml/unet/internal/backend/cpu"
	"github.com/born-ml/unet/internal/data"
	"github.com/born-ml/unet/internal/dataset"
	"github.com/born-ml/unet/internal/model"
	"github.com/born-ml/unet/internal/optim"
	"github.com/born-ml/unet/internal/tensor"
)

type testBackend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func tinyNet(t *testing.T, backend testBackend) *model.UNet[testBackend] {
	t.Helper()
	net, err := model.New(model.Config{
		NumClasses:      2,
		Widths:          [5]int{2, 2, 3, 3, 3},
		BottleneckWidth: 4,
		DecoderWidths:   [5]int{3, 3, 2, 2, 2},
	}, rand.New(rand.NewSource(1)), backend)
	require.NoError(t, err)
	return net
}

func zeroMaskBatch(t *testing.T, backend testBackend, n, size int) *data.Batch[testBackend] {
	t.Helper()
	ds, err := dataset.NewSynthetic(n, size, 2, 3)
	require.NoError(t, err)
	samples := make([]dataset.Sample, n)
	for i := range samples {
		s, err := ds.Get(i)
		require.NoError(t, err)
		s.Mask = dataset.NewMask(size, size)
		samples[i] = s
	}
	batch, err := data.NewCollator(backend, data.ImageNetMean, data.ImageNetStd).Collate(samples)
	require.NoError(t, err)
	return batch
}

// biasHeadToClassZero makes the network predict class 0 everywhere.
func biasHeadToClassZero(net *model.UNet[testBackend]) {
	state := net.StateDict()
	w := state["head.weight"].AsFloat32()
	for i := range w {
		w[i] = 0
	}
	copy(state["head.bias"].AsFloat32(), []float32{1, 0})
}

func TestTrainStep_FixedWeights224(t *testing.T) {
	backend := autodiff.New(cpu.New())
	net := tinyNet(t, backend)
	biasHeadToClassZero(net)

	opt, err := optim.New("adam", net.Parameters(), 1e-3, 0, backend)
	require.NoError(t, err)
	trainer := NewTrainer[testBackend](net, opt, backend)

	res, err := trainer.TrainStep(zeroMaskBatch(t, backend, 1, 224))
	require.NoError(t, err)

	assert.False(t, math.IsNaN(res.Loss) || math.IsInf(res.Loss, 0))
	assert.GreaterOrEqual(t, res.Loss, 0.0)
	assert.InDelta(t, math.Log1p(math.Exp(-1)), res.Loss, 1e-5)
	assert.InDelta(t, 1.0, res.Accuracy, 1e-12)
	assert.Equal(t, 0, backend.Tape().NumOps())
	assert.False(t, backend.Tape().IsRecording())
}

func TestTrainStep_UpdatesParameters(t *testing.T) {
	backend := autodiff.New(cpu.New())
	net := tinyNet(t, backend)
	net.FreezeEncoder()

	opt, err := optim.New("sgd", net.Parameters(), 0.1, 0, backend)
	require.NoError(t, err)
	trainer := NewTrainer[testBackend](net, opt, backend)

	state := net.StateDict()
	encoderBefore := append([]float32(nil), state["encoder.features.0.weight"].AsFloat32()...)
	headBefore := append([]float32(nil), state["head.weight"].AsFloat32()...)
	runningBefore := append([]float32(nil), state["bottleneck.bn.running_mean"].AsFloat32()...)

	_, err = trainer.TrainStep(zeroMaskBatch(t, backend, 2, 32))
	require.NoError(t, err)

	assert.Equal(t, encoderBefore, state["encoder.features.0.weight"].AsFloat32())
	assert.NotEqual(t, headBefore, state["head.weight"].AsFloat32())
	assert.NotEqual(t, runningBefore, state["bottleneck.bn.running_mean"].AsFloat32())
}

func TestValidStep_LeavesModelUntouched(t *testing.T) {
	backend := autodiff.New(cpu.New())
	net := tinyNet(t, backend)
	opt, err := optim.New("adam", net.Parameters(), 1e-3, 0, backend)
	require.NoError(t, err)
	trainer := NewTrainer[testBackend](net, opt, backend)

	before := make(map[string][]float32)
	for name, raw := range net.StateDict() {
		before[name] = append([]float32(nil), raw.AsFloat32()...)
	}

	backend.Tape().StartRecording()
	res, err := trainer.ValidStep(zeroMaskBatch(t, backend, 2, 32))
	require.NoError(t, err)
	assert.True(t, res.Accuracy >= 0 && res.Accuracy <= 1)
	assert.Equal(t, 0, backend.Tape().NumOps())
	assert.True(t, backend.Tape().IsRecording(), "recording state is restored")

	for name, raw := range net.StateDict() {
		assert.Equal(t, before[name], raw.AsFloat32(), name)
	}
}

func TestTrainStep_RecoversEnginePanics(t *testing.T) {
	backend := autodiff.New(cpu.New())
	net := tinyNet(t, backend)
	opt, err := optim.New("adam", net.Parameters(), 1e-3, 0, backend)
	require.NoError(t, err)
	trainer := NewTrainer[testBackend](net, opt, backend)

	batch := zeroMaskBatch(t, backend, 1, 32)
	batch.Images = tensor.Zeros[float32](tensor.Shape{1, 3, 40, 40}, backend)

	_, err = trainer.TrainStep(batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "train step")
	assert.Equal(t, 0, backend.Tape().NumOps())

	_, err = trainer.ValidStep(batch)
	assert.Error(t, err)
}

func TestPredictMask(t *testing.T) {
	backend := cpu.New()
	// Two samples, two classes, 1×2 pixels.
	logits, err := tensor.FromSlice([]float32{
		0, 1, // sample 0, class 0
		1, 0, // sample 0, class 1
		5, 5, // sample 1, class 0
		1, 9, // sample 1, class 1
	}, tensor.Shape{2, 2, 1, 2}, backend)
	require.NoError(t, err)

	m := PredictMask(logits, 0)
	assert.Equal(t, []int64{1, 0}, m.Labels)
	m = PredictMask(logits, 1)
	assert.Equal(t, []int64{0, 1}, m.Labels, "ties go to the first class")
	assert.Panics(t, func() { PredictMask(logits, 2) })
}

// fakeStepper replays scripted results.
type fakeStepper struct {
	train, valid []StepResult
	trainCalls   int
	validCalls   int
	failAt       int // 1-based train call that fails; 0 never
}

func (f *fakeStepper) TrainStep(*data.Batch[*cpu.CPUBackend]) (StepResult, error) {
	f.trainCalls++
	if f.trainCalls == f.failAt {
		return StepResult{}, errors.New("boom")
	}
	return f.train[(f.trainCalls-1)%len(f.train)], nil
}

func (f *fakeStepper) ValidStep(*data.Batch[*cpu.CPUBackend]) (StepResult, error) {
	f.validCalls++
	return f.valid[(f.validCalls-1)%len(f.valid)], nil
}

// fakeBatches yields empty batches of the given sizes.
type fakeBatches struct {
	sizes      []int
	reshuffles int
}

func (f *fakeBatches) NumBatches() int { return len(f.sizes) }

func (f *fakeBatches) Batch(i int) (*data.Batch[*cpu.CPUBackend], error) {
	return &data.Batch[*cpu.CPUBackend]{Size: f.sizes[i]}, nil
}

func (f *fakeBatches) Reshuffle() { f.reshuffles++ }

func TestDriver_OneEpochOneBatch(t *testing.T) {
	stepper := &fakeStepper{train: []StepResult{{Loss: 0.5, Accuracy: 0.75}}}
	var summaries []EpochSummary
	d := &Driver[*cpu.CPUBackend]{
		Stepper: stepper,
		Train:   &fakeBatches{sizes: []int{4}},
		OnEpoch: func(_ context.Context, s EpochSummary) error {
			summaries = append(summaries, s)
			return nil
		},
	}

	h, err := d.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, stepper.trainCalls)
	assert.Equal(t, 0, stepper.validCalls)
	require.Len(t, summaries, 1)
	require.Len(t, h.Epochs, 1)
	assert.Equal(t, 1, h.Log.Len())
	assert.InDelta(t, 1.0, h.Log.Records()[0].Progress, 1e-12)
	assert.InDelta(t, 0.5, h.Epochs[0].TrainLoss, 1e-12)
	assert.False(t, h.Epochs[0].HasValidation)
	assert.NotEmpty(t, h.RunID)
}

func TestDriver_ProgressAndWeightedMeans(t *testing.T) {
	stepper := &fakeStepper{
		train: []StepResult{{Loss: 1, Accuracy: 0.5}, {Loss: 4, Accuracy: 1}},
		valid: []StepResult{{Loss: 2, Accuracy: 0.25}},
	}
	train := &fakeBatches{sizes: []int{3, 1}}
	d := &Driver[*cpu.CPUBackend]{
		Stepper: stepper,
		Train:   train,
		Valid:   &fakeBatches{sizes: []int{2}},
		RunID:   "run-1",
	}

	h, err := d.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "run-1", h.RunID)
	assert.Equal(t, 1, train.reshuffles, "reshuffled before epoch 2 only")

	x, _ := h.Log.Series(PhaseTrain, KeyLoss)
	assert.InDeltaSlice(t, []float64{0.5, 1, 1.5, 2}, x, 1e-12)
	vx, vy := h.Log.Series(PhaseValid, KeyLoss)
	assert.InDeltaSlice(t, []float64{1, 2}, vx, 1e-12)
	assert.InDeltaSlice(t, []float64{2, 2}, vy, 1e-12)

	require.Len(t, h.Epochs, 2)
	s := h.Epochs[0]
	assert.InDelta(t, (3*1.0+1*4.0)/4, s.TrainLoss, 1e-12)
	assert.InDelta(t, (3*0.5+1*1.0)/4, s.TrainAccuracy, 1e-12)
	assert.InDelta(t, 2.0, s.ValLoss, 1e-12)
	assert.True(t, s.HasValidation)

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, 2, last.Epoch)
}

func TestDriver_ErrorAborts(t *testing.T) {
	stepper := &fakeStepper{train: []StepResult{{}}, valid: []StepResult{{}}, failAt: 3}
	d := &Driver[*cpu.CPUBackend]{
		Stepper: stepper,
		Train:   &fakeBatches{sizes: []int{1, 1}},
		Valid:   &fakeBatches{sizes: []int{1}},
	}

	h, err := d.Run(context.Background(), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "epoch 2 train batch 0")
	assert.Equal(t, 3, stepper.trainCalls)
	assert.Len(t, h.Epochs, 1)
}

func TestDriver_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stepper := &fakeStepper{train: []StepResult{{}}}
	d := &Driver[*cpu.CPUBackend]{
		Stepper: stepper,
		Train:   &fakeBatches{sizes: []int{1, 1}},
		OnEpoch: func(context.Context, EpochSummary) error {
			cancel()
			return nil
		},
	}

	_, err := d.Run(ctx, 5)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 2, stepper.trainCalls)
}

func TestDriver_HookErrorAborts(t *testing.T) {
	d := &Driver[*cpu.CPUBackend]{
		Stepper: &fakeStepper{train: []StepResult{{}}},
		Train:   &fakeBatches{sizes: []int{1}},
		OnEpoch: func(context.Context, EpochSummary) error { return errors.New("disk full") },
	}
	_, err := d.Run(context.Background(), 2)
	assert.ErrorContains(t, err, "disk full")
}

func TestDriver_InvalidArguments(t *testing.T) {
	d := &Driver[*cpu.CPUBackend]{Stepper: &fakeStepper{}, Train: &fakeBatches{}}
	_, err := d.Run(context.Background(), 1)
	assert.Error(t, err)
	d.Train = &fakeBatches{sizes: []int{1}}
	_, err = d.Run(context.Background(), 0)
	assert.Error(t, err)
}

func TestDriver_EndToEndWithLoader(t *testing.T) {
	backend := autodiff.New(cpu.New())
	net := tinyNet(t, backend)
	opt, err := optim.New("adam", net.Parameters(), 1e-2, 0, backend)
	require.NoError(t, err)

	ds, err := dataset.NewSynthetic(4, 32, 2, 11)
	require.NoError(t, err)
	collator := data.NewCollator(backend, data.ImageNetMean, data.ImageNetStd)
	loader, err := data.NewLoader(ds, collator, 4, true, 1)
	require.NoError(t, err)

	stepper := NewTrainer[testBackend](net, opt, backend)
	d := &Driver[testBackend]{Stepper: stepper, Train: loader, Valid: loader}
	h, err := d.Run(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, h.Epochs, 1)
	assert.Equal(t, 2, h.Log.Len(), "one train and one validation record")
	s := h.Epochs[0]
	assert.True(t, s.TrainLoss > 0 && !math.IsNaN(s.TrainLoss))
	assert.True(t, s.ValAccuracy >= 0 && s.ValAccuracy <= 1)
}
