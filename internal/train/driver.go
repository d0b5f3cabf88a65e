package train

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/unet/internal/data"
	"github.com/born-ml/unet/internal/tensor"
)

// Stepper runs one batch. *Trainer implements it.
type Stepper[B tensor.Backend] interface {
	TrainStep(batch *data.Batch[B]) (StepResult, error)
	ValidStep(batch *data.Batch[B]) (StepResult, error)
}

// Batches is an indexed batch source. *data.Loader implements it.
type Batches[B tensor.Backend] interface {
	NumBatches() int
	Batch(i int) (*data.Batch[B], error)
}

// Driver iterates epochs: all training batches, then all validation batches.
type Driver[B tensor.Backend] struct {
	Stepper Stepper[B]
	Train   Batches[B]
	Valid   Batches[B] // optional

	// RunID tags log lines and checkpoints; a UUID is generated if empty.
	RunID string

	// OnEpoch is called after every epoch. An error aborts the run.
	OnEpoch func(ctx context.Context, s EpochSummary) error
}

// Run trains for epochs epochs. Any batch error aborts the run and is
// returned together with the history recorded so far. ctx is checked
// between batches.
func (d *Driver[B]) Run(ctx context.Context, epochs int) (*History, error) {
	if epochs <= 0 {
		return nil, errors.Errorf("run: epochs must be > 0 (got %d)", epochs)
	}
	if d.Stepper == nil || d.Train == nil || d.Train.NumBatches() == 0 {
		return nil, errors.New("run: stepper and non-empty training batches are required")
	}
	if d.RunID == "" {
		d.RunID = uuid.NewString()
	}

	h := &History{RunID: d.RunID, Log: &MetricLog{}}
	klog.InfoS("Training started", "run", d.RunID, "epochs", epochs,
		"trainBatches", d.Train.NumBatches(), "validBatches", numBatches(d.Valid))

	for epoch := 1; epoch <= epochs; epoch++ {
		if epoch > 1 {
			if r, ok := d.Train.(interface{ Reshuffle() }); ok {
				r.Reshuffle()
			}
		}

		start := time.Now()
		summary := EpochSummary{Epoch: epoch}

		trainMean, err := d.phase(ctx, h.Log, epoch, PhaseTrain, d.Train, d.Stepper.TrainStep)
		if err != nil {
			return h, err
		}
		summary.TrainLoss, summary.TrainAccuracy = trainMean.result()

		if numBatches(d.Valid) > 0 {
			validMean, err := d.phase(ctx, h.Log, epoch, PhaseValid, d.Valid, d.Stepper.ValidStep)
			if err != nil {
				return h, err
			}
			summary.ValLoss, summary.ValAccuracy = validMean.result()
			summary.HasValidation = true
		}

		summary.Duration = time.Since(start)
		if s := summary.Duration.Seconds(); s > 0 {
			summary.ImagesPerSec = float64(trainMean.samples) / s
		}
		h.Epochs = append(h.Epochs, summary)

		klog.InfoS("Epoch finished", "run", d.RunID, "epoch", epoch, "of", epochs,
			"trainLoss", summary.TrainLoss, "trainAcc", summary.TrainAccuracy,
			"valLoss", summary.ValLoss, "valAcc", summary.ValAccuracy,
			"imagesPerSec", summary.ImagesPerSec, "duration", summary.Duration.Round(time.Millisecond))

		if d.OnEpoch != nil {
			if err := d.OnEpoch(ctx, summary); err != nil {
				return h, errors.Wrapf(err, "epoch %d hook", epoch)
			}
		}
	}
	return h, nil
}

func (d *Driver[B]) phase(
	ctx context.Context,
	log *MetricLog,
	epoch int,
	phase Phase,
	batches Batches[B],
	step func(*data.Batch[B]) (StepResult, error),
) (*mean, error) {
	m := &mean{}
	n := batches.NumBatches()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "epoch %d %s batch %d", epoch, phase, i)
		}
		batch, err := batches.Batch(i)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d %s batch %d", epoch, phase, i)
		}
		res, err := step(batch)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d %s batch %d", epoch, phase, i)
		}

		m.add(res, batch.Size)
		log.Append(Record{
			Epoch:    epoch,
			Progress: Progress(epoch, i, n),
			Phase:    phase,
			Values:   map[string]float64{KeyLoss: res.Loss, KeyAccuracy: res.Accuracy},
		})
		klog.V(2).InfoS("Batch", "epoch", epoch, "phase", phase, "batch", i+1, "of", n,
			"loss", res.Loss, "acc", res.Accuracy)
	}
	return m, nil
}

func numBatches[B tensor.Backend](b Batches[B]) int {
	if b == nil {
		return 0
	}
	return b.NumBatches()
}
