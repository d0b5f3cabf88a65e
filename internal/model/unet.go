package model

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/unet/internal/nn"
	"github.com/born-ml/unet/internal/tensor"
)

// UNet is an encoder-decoder segmentation network with skip connections.
//
// Architecture:
//
//	x [N,3,H,W]
//	 → VGG16Encoder            block1..block5, bottleneck [N,W4,H/32,W/32]
//	 → ConvBlock               [N,BottleneckWidth,H/32,W/32]
//	 → 5× upStage              up 2×, concat block5..block1, ConvBlock
//	 → 1×1 Conv2D              [N,NumClasses,H,W]
//
// H and W must be multiples of 32.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	net, _ := model.New(model.DefaultConfig(2), rand.New(rand.NewSource(1)), backend)
//	logits := net.Forward(images, nn.Train)
type UNet[B tensor.Backend] struct {
	cfg        Config
	encoder    *VGG16Encoder[B]
	bottleneck *ConvBlock[B]
	decoder    [5]*upStage[B]
	head       *nn.Conv2D[B]
	norms      map[string]*nn.BatchNorm2D[B]
	backend    B
}

// New builds a UNet with freshly initialised weights.
func New[B tensor.Backend](cfg Config, rng *rand.Rand, backend B) (*UNet[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	u := &UNet[B]{
		cfg:        cfg,
		encoder:    NewVGG16Encoder(cfg.Widths, rng, backend),
		bottleneck: NewConvBlock(cfg.Widths[4], cfg.BottleneckWidth, rng, backend),
		norms:      make(map[string]*nn.BatchNorm2D[B]),
		backend:    backend,
	}
	nn.Prefix("encoder", u.encoder.Parameters())
	nn.Prefix("bottleneck", u.bottleneck.Parameters())
	u.norms["bottleneck.bn"] = u.bottleneck.Norm()

	in := cfg.BottleneckWidth
	for j := range u.decoder {
		skip := cfg.Widths[len(cfg.Widths)-1-j]
		u.decoder[j] = newUpStage(in, skip, cfg.DecoderWidths[j], rng, backend)
		nn.Prefix(fmt.Sprintf("decoder.%d", j), u.decoder[j].Parameters())
		u.norms[fmt.Sprintf("decoder.%d.fuse.bn", j)] = u.decoder[j].fuse.Norm()
		in = cfg.DecoderWidths[j]
	}

	u.head = nn.NewConv2D(in, cfg.NumClasses, 1, 1, 0, true, rng, backend)
	nn.Prefix("head", u.head.Parameters())
	return u, nil
}

// Config returns the widths the network was built with.
func (u *UNet[B]) Config() Config {
	return u.cfg
}

// Encoder returns the VGG16 encoder.
func (u *UNet[B]) Encoder() *VGG16Encoder[B] {
	return u.encoder
}

// Forward returns per-pixel class logits [N, NumClasses, H, W].
func (u *UNet[B]) Forward(x *tensor.Tensor[float32, B], mode nn.Mode) *tensor.Tensor[float32, B] {
	s := x.Shape()
	if len(s) != 4 || s[1] != 3 || s[2]%Stride != 0 || s[3]%Stride != 0 || s[2] == 0 || s[3] == 0 {
		panic(fmt.Sprintf("unet: expected [N,3,H,W] with H and W multiples of %d, got %v", Stride, s))
	}

	feats := u.encoder.ForwardAll(x, mode)
	h := u.bottleneck.Forward(feats[5], mode)
	for j, stage := range u.decoder {
		h = stage.Forward(h, feats[4-j], mode)
	}
	return u.head.Forward(h, mode)
}

// Parameters returns every parameter: encoder, bottleneck, decoder, head.
func (u *UNet[B]) Parameters() []*nn.Parameter[B] {
	params := u.encoder.Parameters()
	params = append(params, u.bottleneck.Parameters()...)
	for _, stage := range u.decoder {
		params = append(params, stage.Parameters()...)
	}
	return append(params, u.head.Parameters()...)
}

// TrainableParameters returns the parameters that are not frozen.
func (u *UNet[B]) TrainableParameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, p := range u.Parameters() {
		if !p.Frozen() {
			params = append(params, p)
		}
	}
	return params
}

// FreezeEncoder stops optimizers from updating the encoder.
func (u *UNet[B]) FreezeEncoder() {
	for _, p := range u.encoder.Parameters() {
		p.SetFrozen(true)
	}
}

// NumParameters returns the total number of scalar weights.
func (u *UNet[B]) NumParameters() int {
	n := 0
	for _, p := range u.Parameters() {
		n += p.Tensor().NumElements()
	}
	return n
}
