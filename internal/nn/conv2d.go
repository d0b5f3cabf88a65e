package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/unet/internal/tensor"
)

// Conv2D is a 2D convolutional layer with a square kernel.
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels, kernel, kernel]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (height + 2*padding - kernel) / stride + 1
//	out_w = (width + 2*padding - kernel) / stride + 1
//
// Example:
//
//	// 3x3 "same" convolution: 64 -> 128 channels
//	conv := nn.NewConv2D(64, 128, 3, 1, 1, true, rng, backend)
//	out := conv.Forward(x, nn.Train) // [N, 128, H, W]
type Conv2D[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	weight *Parameter[B]
	bias   *Parameter[B] // nil when the layer has no bias

	backend B
}

// NewConv2D creates a convolution with Kaiming-normal weights and zero bias.
func NewConv2D[B tensor.Backend](
	inChannels, outChannels int,
	kernelSize, stride, padding int,
	useBias bool,
	rng *rand.Rand,
	backend B,
) *Conv2D[B] {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernelSize <= 0 || stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel=%d stride=%d padding=%d", kernelSize, stride, padding))
	}

	shape := tensor.Shape{outChannels, inChannels, kernelSize, kernelSize}
	c := &Conv2D[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weight:      NewParameter("weight", Kaiming(inChannels*kernelSize*kernelSize, shape, rng, backend)),
		backend:     backend,
	}
	if useBias {
		c.bias = NewParameter("bias", Zeros(tensor.Shape{outChannels}, backend))
	}
	return c
}

// Forward performs the convolution. Mode does not affect Conv2D.
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B], _ Mode) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != c.inChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", inputShape[1], c.inChannels))
	}

	out := tensor.New[float32](c.backend.Conv2D(input.Raw(), c.weight.Tensor().Raw(), c.stride, c.padding), c.backend)
	if c.bias != nil {
		out = out.Add(c.bias.Tensor().Reshape(1, c.outChannels, 1, 1))
	}
	return out
}

// Parameters returns [weight] or [weight, bias].
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.bias == nil {
		return []*Parameter[B]{c.weight}
	}
	return []*Parameter[B]{c.weight, c.bias}
}

// Weight returns the kernel parameter.
func (c *Conv2D[B]) Weight() *Parameter[B] { return c.weight }

// Bias returns the bias parameter, or nil.
func (c *Conv2D[B]) Bias() *Parameter[B] { return c.bias }

// InChannels returns the number of input channels.
func (c *Conv2D[B]) InChannels() int { return c.inChannels }

// OutChannels returns the number of output channels.
func (c *Conv2D[B]) OutChannels() int { return c.outChannels }

// ConvTranspose2D is a transposed convolution without padding, used for
// learned upsampling. With kernel == stride == 2 it doubles height and width.
//
// Weight shape: [in_channels, out_channels, kernel, kernel]
// Output shape: [batch, out_channels, (H-1)*stride+kernel, (W-1)*stride+kernel]
type ConvTranspose2D[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int

	weight *Parameter[B]
	bias   *Parameter[B]

	backend B
}

// NewConvTranspose2D creates a transposed convolution with bias.
func NewConvTranspose2D[B tensor.Backend](
	inChannels, outChannels int,
	kernelSize, stride int,
	rng *rand.Rand,
	backend B,
) *ConvTranspose2D[B] {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv_transpose2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("conv_transpose2d: invalid kernel=%d stride=%d", kernelSize, stride))
	}

	shape := tensor.Shape{inChannels, outChannels, kernelSize, kernelSize}
	return &ConvTranspose2D[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		weight:      NewParameter("weight", Kaiming(inChannels*kernelSize*kernelSize, shape, rng, backend)),
		bias:        NewParameter("bias", Zeros(tensor.Shape{outChannels}, backend)),
		backend:     backend,
	}
}

// Forward performs the transposed convolution.
func (c *ConvTranspose2D[B]) Forward(input *tensor.Tensor[float32, B], _ Mode) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 4 || inputShape[1] != c.inChannels {
		panic(fmt.Sprintf("conv_transpose2d: expected [N,%d,H,W] input, got %v", c.inChannels, inputShape))
	}

	out := tensor.New[float32](c.backend.ConvTranspose2D(input.Raw(), c.weight.Tensor().Raw(), c.stride), c.backend)
	return out.Add(c.bias.Tensor().Reshape(1, c.outChannels, 1, 1))
}

// Parameters returns [weight, bias].
func (c *ConvTranspose2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{c.weight, c.bias}
}
