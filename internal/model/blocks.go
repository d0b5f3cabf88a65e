package model

import (
	"math/rand"

	"github.com/born-ml/unet/internal/nn"
	"github.com/born-ml/unet/internal/tensor"
)

// ConvBlock is a 3×3 convolution without bias, batch normalisation and ReLU.
type ConvBlock[B tensor.Backend] struct {
	conv *nn.Conv2D[B]
	bn   *nn.BatchNorm2D[B]
}

// NewConvBlock creates a ConvBlock mapping in to out channels at the same
// spatial size.
func NewConvBlock[B tensor.Backend](in, out int, rng *rand.Rand, backend B) *ConvBlock[B] {
	b := &ConvBlock[B]{
		conv: nn.NewConv2D(in, out, 3, 1, 1, false, rng, backend),
		bn:   nn.NewBatchNorm2D(out, backend),
	}
	nn.Prefix("conv", b.conv.Parameters())
	nn.Prefix("bn", b.bn.Parameters())
	return b
}

// Forward applies conv, norm and ReLU. The norm uses batch statistics in
// training mode and running statistics in evaluation mode.
func (b *ConvBlock[B]) Forward(x *tensor.Tensor[float32, B], mode nn.Mode) *tensor.Tensor[float32, B] {
	return b.bn.Forward(b.conv.Forward(x, mode), mode).ReLU()
}

// Parameters returns conv.weight, bn.weight and bn.bias.
func (b *ConvBlock[B]) Parameters() []*nn.Parameter[B] {
	return append(b.conv.Parameters(), b.bn.Parameters()...)
}

// Norm returns the batch-norm layer.
func (b *ConvBlock[B]) Norm() *nn.BatchNorm2D[B] {
	return b.bn
}

// upStage upsamples 2× with a learned kernel and fuses the result with a
// skip feature map.
type upStage[B tensor.Backend] struct {
	up   *nn.ConvTranspose2D[B]
	fuse *ConvBlock[B]
}

func newUpStage[B tensor.Backend](in, skip, out int, rng *rand.Rand, backend B) *upStage[B] {
	s := &upStage[B]{
		up:   nn.NewConvTranspose2D(in, out, 2, 2, rng, backend),
		fuse: NewConvBlock(out+skip, out, rng, backend),
	}
	nn.Prefix("up", s.up.Parameters())
	nn.Prefix("fuse", s.fuse.Parameters())
	return s
}

func (s *upStage[B]) Forward(x, skip *tensor.Tensor[float32, B], mode nn.Mode) *tensor.Tensor[float32, B] {
	up := s.up.Forward(x, mode)
	return s.fuse.Forward(tensor.Cat([]*tensor.Tensor[float32, B]{up, skip}, 1), mode)
}

func (s *upStage[B]) Parameters() []*nn.Parameter[B] {
	return append(s.up.Parameters(), s.fuse.Parameters()...)
}
