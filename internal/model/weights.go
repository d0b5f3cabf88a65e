package model

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/unet/internal/serialization"
	"github.com/born-ml/unet/internal/tensor"
)

// LoadPretrainedEncoder copies torchvision VGG16 weights
// (features.<i>.weight and features.<i>.bias) into the encoder.
// Every tensor must be present with the encoder's shape.
func (u *UNet[B]) LoadPretrainedEncoder(path string) error {
	r, err := serialization.Open(path)
	if err != nil {
		return errors.Wrap(err, "pretrained encoder")
	}
	defer func() {
		_ = r.Close()
	}()

	device := u.backend.Device()
	for i, conv := range u.encoder.Convs() {
		idx := u.encoder.FeatureIndex(i)
		targets := map[string]*tensor.RawTensor{
			fmt.Sprintf("features.%d.weight", idx): conv.Weight().Tensor().Raw(),
			fmt.Sprintf("features.%d.bias", idx):   conv.Bias().Tensor().Raw(),
		}
		for name, dst := range targets {
			src, err := r.Load(name, device)
			if err != nil {
				return errors.Wrap(err, "pretrained encoder")
			}
			if err := assign(name, dst, src); err != nil {
				return errors.Wrap(err, "pretrained encoder")
			}
		}
	}
	return nil
}

// StateDict returns every parameter and batch-norm running statistic by
// name. The tensors share memory with the model.
func (u *UNet[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for _, p := range u.Parameters() {
		state[p.Name()] = p.Tensor().Raw()
	}
	for prefix, bn := range u.norms {
		state[prefix+".running_mean"] = bn.RunningMean().Raw()
		state[prefix+".running_var"] = bn.RunningVar().Raw()
	}
	return state
}

// LoadStateDict copies state into the model. Every entry of StateDict must
// be present with a matching shape; extra entries are an error too.
func (u *UNet[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	own := u.StateDict()
	for name := range state {
		if _, ok := own[name]; !ok {
			return errors.Errorf("load state: unexpected tensor %q", name)
		}
	}
	for name, dst := range own {
		src, ok := state[name]
		if !ok {
			return errors.Wrapf(serialization.ErrTensorNotFound, "load state: %s", name)
		}
		if err := assign(name, dst, src); err != nil {
			return errors.Wrap(err, "load state")
		}
	}
	return nil
}

// Save writes the state dict to a SafeTensors file.
func (u *UNet[B]) Save(path string, metadata map[string]string) error {
	return serialization.Write(path, u.StateDict(), metadata)
}

// Load reads a file written by Save and verifies its checksum.
func (u *UNet[B]) Load(path string) error {
	r, err := serialization.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.Close()
	}()
	if err := r.Verify(); err != nil {
		return errors.Wrapf(err, "checkpoint %s", path)
	}

	state := make(map[string]*tensor.RawTensor)
	for _, name := range r.TensorNames() {
		raw, err := r.Load(name, u.backend.Device())
		if err != nil {
			return err
		}
		state[name] = raw
	}
	return u.LoadStateDict(state)
}

func assign(name string, dst, src *tensor.RawTensor) error {
	if !dst.Shape().Equal(src.Shape()) || dst.DType() != src.DType() {
		return errors.Errorf("%s: have %v %s, want %v %s", name, src.Shape(), src.DType(), dst.Shape(), dst.DType())
	}
	dst.CopyFrom(src)
	return nil
}
