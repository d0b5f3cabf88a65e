// Package train runs the optimisation loop for the segmentation model.
package train

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/unet/internal/autodiff"
	"github.com/born-ml/unet/internal/data"
	"github.com/born-ml/unet/internal/dataset"
	"github.com/born-ml/unet/internal/nn"
	"github.com/born-ml/unet/internal/optim"
	"github.com/born-ml/unet/internal/tensor"
)

// ErrNonFiniteLoss is returned when a step produces NaN or Inf.
var ErrNonFiniteLoss = errors.New("loss is not finite")

// StepResult holds the metrics of one batch.
type StepResult struct {
	Loss     float64
	Accuracy float64
}

// Trainer runs training and validation steps for one model.
type Trainer[B autodiff.BackwardCapable] struct {
	model     nn.Module[B]
	optimizer optim.Optimizer
	backend   B
}

// NewTrainer creates a trainer. The model's tensors must be bound to backend.
func NewTrainer[B autodiff.BackwardCapable](model nn.Module[B], optimizer optim.Optimizer, backend B) *Trainer[B] {
	return &Trainer[B]{model: model, optimizer: optimizer, backend: backend}
}

// TrainStep runs forward, loss, backward and one optimizer update.
//
// Shape violations inside the engine panic; they are returned as errors so
// the caller can abort the run cleanly. A non-finite loss is rejected
// before the parameters are touched.
func (t *Trainer[B]) TrainStep(batch *data.Batch[B]) (res StepResult, err error) {
	tape := t.backend.Tape()
	defer recoverStep("train step", &err)
	defer tape.Clear()
	defer tape.StopRecording()

	tape.Clear()
	tape.StartRecording()

	logits := t.model.Forward(batch.Images, nn.Train)
	loss := nn.CrossEntropy2D(logits, batch.Masks)

	res.Loss = float64(loss.Item())
	if math.IsNaN(res.Loss) || math.IsInf(res.Loss, 0) {
		return res, errors.Wrapf(ErrNonFiniteLoss, "train step: %v", res.Loss)
	}
	res.Accuracy = nn.PixelAccuracy(logits.Argmax(1), batch.Masks)

	t.optimizer.ZeroGrad()
	grads := autodiff.Backward(loss, t.backend)
	t.optimizer.Step(grads)
	return res, nil
}

// ValidStep runs forward and loss in evaluation mode. Nothing is recorded
// and no parameter or running statistic changes.
func (t *Trainer[B]) ValidStep(batch *data.Batch[B]) (res StepResult, err error) {
	tape := t.backend.Tape()
	defer recoverStep("valid step", &err)
	if tape.IsRecording() {
		tape.StopRecording()
		defer tape.StartRecording()
	}

	logits := t.model.Forward(batch.Images, nn.Eval)
	res.Loss = float64(nn.CrossEntropy2D(logits, batch.Masks).Item())
	if math.IsNaN(res.Loss) || math.IsInf(res.Loss, 0) {
		return res, errors.Wrapf(ErrNonFiniteLoss, "valid step: %v", res.Loss)
	}
	res.Accuracy = nn.PixelAccuracy(logits.Argmax(1), batch.Masks)
	return res, nil
}

// Predict returns the logits of batch in evaluation mode without recording.
func (t *Trainer[B]) Predict(batch *data.Batch[B]) (logits *tensor.Tensor[float32, B], err error) {
	tape := t.backend.Tape()
	defer recoverStep("predict", &err)
	if tape.IsRecording() {
		tape.StopRecording()
		defer tape.StartRecording()
	}
	return t.model.Forward(batch.Images, nn.Eval), nil
}

// PredictMask returns the arg-max class mask of sample index in logits
// [N,C,H,W].
func PredictMask[B tensor.Backend](logits *tensor.Tensor[float32, B], index int) *dataset.Mask {
	s := logits.Shape()
	if len(s) != 4 || index < 0 || index >= s[0] {
		panic(fmt.Sprintf("predict mask: index %d out of range for logits %v", index, s))
	}
	h, w := s[2], s[3]
	labels := logits.Argmax(1).Data()
	mask := dataset.NewMask(w, h)
	copy(mask.Labels, labels[index*h*w:(index+1)*h*w])
	return mask
}

func recoverStep(op string, err *error) {
	if r := recover(); r != nil {
		*err = errors.Errorf("%s: %v", op, r)
	}
}
