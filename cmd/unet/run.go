package main

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/unet/internal/autodiff"
	"github.com/born-ml/unet/internal/backend"
	"github.com/born-ml/unet/internal/config"
	"github.com/born-ml/unet/internal/data"
	"github.com/born-ml/unet/internal/dataset"
	"github.com/born-ml/unet/internal/model"
	"github.com/born-ml/unet/internal/optim"
	"github.com/born-ml/unet/internal/tensor"
	"github.com/born-ml/unet/internal/train"
	"github.com/born-ml/unet/internal/viz"
)

// engine is the differentiable backend every tensor of a run is bound to.
type engine = *autodiff.AutodiffBackend[tensor.Backend]

func run(ctx context.Context, cfg *config.Config, runID string) error {
	if err := os.MkdirAll(cfg.Output.Dir, 0o750); err != nil {
		return errors.Wrap(err, "create output dir")
	}

	device, err := backend.Select(cfg.Device)
	if err != nil {
		return err
	}
	defer backend.Release(device)
	be := autodiff.New(device)
	klog.InfoS("Training run", "run", runID, "device", device.Name(), "config", cfg.Device)

	trainSet, err := dataset.Open(cfg.Data, cfg.Model.NumClasses, cfg.Data.TrainSplit, cfg.Train.Seed)
	if err != nil {
		return errors.Wrap(err, "training split")
	}
	validSet, err := dataset.Open(cfg.Data, cfg.Model.NumClasses, cfg.Data.ValSplit, cfg.Train.Seed)
	if errors.Is(err, dataset.ErrNotFound) {
		klog.InfoS("No validation split, skipping validation", "split", cfg.Data.ValSplit, "reason", err)
		validSet, err = nil, nil
	}
	if err != nil {
		return errors.Wrap(err, "validation split")
	}

	collator := data.NewCollator(be, data.ImageNetMean, data.ImageNetStd)
	trainLoader, err := data.NewLoader(trainSet, collator, cfg.Train.BatchSize, cfg.Train.Shuffle, cfg.Train.Seed)
	if err != nil {
		return err
	}
	var validLoader *data.Loader[engine]
	if validSet != nil && validSet.Len() > 0 {
		if validLoader, err = data.NewLoader(validSet, collator, cfg.Train.BatchSize, false, cfg.Train.Seed); err != nil {
			return err
		}
	}
	klog.InfoS("Datasets ready", "train", trainSet.Len(), "valid", datasetLen(validSet),
		"imageSize", cfg.Data.ImageSize, "batch", cfg.Train.BatchSize)

	net, err := buildModel(cfg, be)
	if err != nil {
		return err
	}
	params := net.Parameters()
	if cfg.Train.FreezeEncoder {
		net.FreezeEncoder()
		params = net.TrainableParameters()
	}
	opt, err := optim.New(cfg.Train.Optimizer, params,
		float32(cfg.Train.LearningRate), float32(cfg.Train.Momentum), be)
	if err != nil {
		return err
	}
	klog.InfoS("Model ready", "parameters", net.NumParameters(), "trainable", len(params),
		"optimizer", cfg.Train.Optimizer, "lr", opt.GetLR())

	trainer := train.NewTrainer[engine](net, opt, be)
	art := &artefacts{cfg: cfg, runID: runID, net: net, trainer: trainer, collator: collator}
	art.preview = trainLoader
	if validLoader != nil {
		art.preview = validLoader
	}

	driver := &train.Driver[engine]{
		Stepper: trainer,
		Train:   trainLoader,
		RunID:   runID,
		OnEpoch: art.onEpoch,
	}
	if validLoader != nil {
		driver.Valid = validLoader
	}

	history, runErr := driver.Run(ctx, cfg.Train.Epochs)
	if history != nil && history.Log.Len() > 0 {
		path := filepath.Join(cfg.Output.Dir, "history.png")
		if err := viz.PlotHistory(history.Log, path); err != nil {
			klog.ErrorS(err, "Failed to plot history", "path", path)
		} else {
			klog.InfoS("Saved metric curves", "path", path)
		}
	}
	if runErr != nil {
		return runErr
	}
	if last, ok := history.Last(); ok {
		klog.InfoS("Training finished", "run", runID, "epochs", len(history.Epochs),
			"trainLoss", last.TrainLoss, "valLoss", last.ValLoss, "valAcc", last.ValAccuracy)
	}
	return nil
}

func buildModel(cfg *config.Config, be engine) (*model.UNet[engine], error) {
	rng := rand.New(rand.NewSource(cfg.Train.Seed)) //nolint:gosec // G404: reproducible initialisation.
	net, err := model.New(model.FromConfig(cfg.Model), rng, be)
	if err != nil {
		return nil, err
	}
	if cfg.Model.Pretrained != "" {
		if err := net.LoadPretrainedEncoder(cfg.Model.Pretrained); err != nil {
			return nil, err
		}
		klog.InfoS("Loaded pretrained encoder", "path", cfg.Model.Pretrained)
	}
	return net, nil
}

func datasetLen(ds dataset.Dataset) int {
	if ds == nil {
		return 0
	}
	return ds.Len()
}

// artefacts writes per-epoch panels and checkpoints.
type artefacts struct {
	cfg      *config.Config
	runID    string
	net      *model.UNet[engine]
	trainer  *train.Trainer[engine]
	collator *data.Collator[engine]
	preview  *data.Loader[engine]
}

func (a *artefacts) onEpoch(_ context.Context, s train.EpochSummary) error {
	if a.cfg.Output.Panels > 0 {
		path := filepath.Join(a.cfg.Output.Dir, fmt.Sprintf("panels_epoch%02d.png", s.Epoch))
		if err := a.writePanels(path); err != nil {
			return err
		}
		klog.InfoS("Saved panels", "path", path)
	}
	if a.cfg.Output.Checkpoint {
		path := filepath.Join(a.cfg.Output.Dir, "checkpoint.safetensors")
		meta := map[string]string{
			"run_id":      a.runID,
			"epoch":       strconv.Itoa(s.Epoch),
			"num_classes": strconv.Itoa(a.cfg.Model.NumClasses),
			"image_size":  strconv.Itoa(a.cfg.Data.ImageSize),
			"train_loss":  strconv.FormatFloat(s.TrainLoss, 'g', -1, 64),
		}
		if s.HasValidation {
			meta["val_loss"] = strconv.FormatFloat(s.ValLoss, 'g', -1, 64)
		}
		if err := a.net.Save(path, meta); err != nil {
			return err
		}
		klog.InfoS("Saved checkpoint", "path", path, "epoch", s.Epoch)
	}
	return nil
}

func (a *artefacts) writePanels(path string) error {
	batch, err := a.preview.Batch(0)
	if err != nil {
		return err
	}
	logits, err := a.trainer.Predict(batch)
	if err != nil {
		return err
	}

	n := min(a.cfg.Output.Panels, batch.Size)
	rows := make([]*image.RGBA, 0, n)
	for i := 0; i < n; i++ {
		img, err := viz.Denormalize(batch.Images, i, a.collator.Mean(), a.collator.Std())
		if err != nil {
			return err
		}
		row, err := viz.RenderPanels(img, sampleMask(batch.Masks, i), train.PredictMask(logits, i), viz.DefaultPalette)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return viz.SavePNG(path, viz.StackRows(rows))
}

func sampleMask(masks *tensor.Tensor[int64, engine], i int) *dataset.Mask {
	s := masks.Shape()
	h, w := s[1], s[2]
	m := dataset.NewMask(w, h)
	copy(m.Labels, masks.Data()[i*h*w:(i+1)*h*w])
	return m
}
