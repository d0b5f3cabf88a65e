// Command unet trains a VGG16 U-Net for semantic segmentation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/born-ml/unet/internal/config"
)

const version = "v0.1.0-dev"

func usage() {
	fmt.Fprintf(os.Stderr, "U-Net semantic segmentation %s\n\n", version)
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  unet train [flags]   Train a model (unet train -h for flags)")
	fmt.Fprintln(os.Stderr, "  unet version         Show version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("unet %s\n", version)
	case "train":
		os.Exit(trainCmd(os.Args[2:]))
	case "-h", "-help", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func trainCmd(args []string) int {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML config (defaults are used when empty)")
	dataRoot := fs.String("data", "", "Override dataset root directory")
	epochs := fs.Int("epochs", 0, "Number of training epochs")
	batchSize := fs.Int("batch", 0, "Batch size")
	lr := fs.Float64("lr", 0, "Learning rate")
	device := fs.String("device", "", "Compute device: auto, cpu or webgpu")
	size := fs.Int("size", 0, "Square input size, a multiple of 32")
	classes := fs.Int("classes", 0, "Number of classes")
	pretrained := fs.String("pretrained", "", "SafeTensors file with torchvision VGG16 weights")
	outDir := fs.String("out", "", "Output directory for panels, plots and checkpoints")
	synthetic := fs.Bool("synthetic", false, "Use generated shapes instead of files on disk")
	seed := fs.Int64("seed", 0, "PRNG seed")
	klog.InitFlags(fs)
	_ = fs.Parse(args)
	defer klog.Flush()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			klog.ErrorS(err, "Failed to load config", "path", *cfgPath)
			return 1
		}
	}
	cfg.ApplyOverrides(config.Overrides{
		DataRoot:     *dataRoot,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: *lr,
		Device:       *device,
		ImageSize:    *size,
		NumClasses:   *classes,
		Pretrained:   *pretrained,
		OutputDir:    *outDir,
		Synthetic:    *synthetic,
		Seed:         *seed,
	})
	if err := cfg.Validate(); err != nil {
		klog.ErrorS(err, "Invalid config")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	if err := run(ctx, cfg, runID); err != nil {
		klog.ErrorS(err, "Training failed", "run", runID)
		return 1
	}
	return 0
}
