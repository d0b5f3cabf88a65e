package model

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/unet/internal/nn"
	"github.com/born-ml/unet/internal/tensor"
)

// VGG16Encoder is the convolutional part of VGG16 split into five blocks.
//
//	block1: 2× conv3x3+ReLU            H
//	block2: pool, 2× conv3x3+ReLU      H/2
//	block3: pool, 3× conv3x3+ReLU      H/4
//	block4: pool, 3× conv3x3+ReLU      H/8
//	block5: pool, 3× conv3x3+ReLU      H/16
//	bottleneck: pool                   H/32
//
// Parameter names follow torchvision's vgg16().features numbering, so
// pretrained weights map one to one.
type VGG16Encoder[B tensor.Backend] struct {
	blocks [5]*nn.Sequential[B]
	pool   *nn.MaxPool2D[B]
	convs  []*nn.Conv2D[B]
	index  []int // torchvision features index of each conv
}

// NewVGG16Encoder creates an encoder with Kaiming-initialised convolutions.
func NewVGG16Encoder[B tensor.Backend](widths [5]int, rng *rand.Rand, backend B) *VGG16Encoder[B] {
	e := &VGG16Encoder[B]{pool: nn.NewMaxPool2D(2, 2, backend)}

	in, layer := 3, 0
	for b, depth := range vggBlockDepths {
		var mods []nn.Module[B]
		if b > 0 {
			mods = append(mods, e.pool)
			layer++ // features index of the pool
		}
		for i := 0; i < depth; i++ {
			conv := nn.NewConv2D(in, widths[b], 3, 1, 1, true, rng, backend)
			nn.Prefix(fmt.Sprintf("features.%d", layer), conv.Parameters())
			e.convs = append(e.convs, conv)
			e.index = append(e.index, layer)
			mods = append(mods, conv, nn.NewReLU[B]())
			in = widths[b]
			layer += 2
		}
		e.blocks[b] = nn.NewSequential(mods...)
	}
	return e
}

// ForwardAll returns the five block outputs followed by the bottleneck.
func (e *VGG16Encoder[B]) ForwardAll(x *tensor.Tensor[float32, B], mode nn.Mode) []*tensor.Tensor[float32, B] {
	feats := make([]*tensor.Tensor[float32, B], 0, 6)
	for _, block := range e.blocks {
		x = block.Forward(x, mode)
		feats = append(feats, x)
	}
	return append(feats, e.pool.Forward(x, mode))
}

// Forward returns the bottleneck feature map.
func (e *VGG16Encoder[B]) Forward(x *tensor.Tensor[float32, B], mode nn.Mode) *tensor.Tensor[float32, B] {
	feats := e.ForwardAll(x, mode)
	return feats[len(feats)-1]
}

// Parameters returns all convolution parameters in features order.
func (e *VGG16Encoder[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, conv := range e.convs {
		params = append(params, conv.Parameters()...)
	}
	return params
}

// Convs returns the 13 convolutions in features order.
func (e *VGG16Encoder[B]) Convs() []*nn.Conv2D[B] {
	return e.convs
}

// FeatureIndex returns the torchvision features index of conv i.
func (e *VGG16Encoder[B]) FeatureIndex(i int) int {
	return e.index[i]
}
