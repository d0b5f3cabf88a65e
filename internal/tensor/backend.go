package tensor

// Backend defines the kernels a compute device must provide.
//
// Kernels panic on shape or dtype violations; callers validate user input
// before it reaches a backend. Implementations:
//   - backend/cpu: pure Go
//   - backend/webgpu: CPU kernels with matrix products offloaded to the GPU
//   - autodiff: decorator that records differentiable kernels on a tape
type Backend interface {
	// Element-wise binary operations with broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor

	// Scalar operations.
	MulScalar(x *RawTensor, scalar float32) *RawTensor
	AddScalar(x *RawTensor, scalar float32) *RawTensor

	// MatMul multiplies [M,K] by [K,N].
	MatMul(a, b *RawTensor) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Cat(tensors []*RawTensor, dim int) *RawTensor
	// SumTo reduces a broadcast result back to shape (inverse of broadcasting).
	SumTo(x *RawTensor, shape Shape) *RawTensor

	// Convolutions. Kernel layouts follow the usual conventions:
	// Conv2D [C_out, C_in, K_h, K_w], ConvTranspose2D [C_in, C_out, K_h, K_w].
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor
	Conv2DInputBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	Conv2DKernelBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	ConvTranspose2D(input, kernel *RawTensor, stride int) *RawTensor
	ConvTranspose2DInputBackward(input, kernel, grad *RawTensor, stride int) *RawTensor
	ConvTranspose2DKernelBackward(input, kernel, grad *RawTensor, stride int) *RawTensor

	// Pooling. MaxPool2DBackward routes grad to the flat input indices
	// recorded during the forward pass.
	MaxPool2D(input *RawTensor, kernelSize, stride int) *RawTensor
	MaxPool2DBackward(input, grad *RawTensor, maxIndices []int, kernelSize, stride int) *RawTensor

	// Activations.
	ReLU(x *RawTensor) *RawTensor

	// Batch normalisation over [N,C,H,W]; statistics are per channel.
	ChannelMoments(x *RawTensor) (mean, variance *RawTensor)
	ChannelMomentsBackward(x, mean, gradMean, gradVariance *RawTensor) *RawTensor
	BatchNorm2D(x, mean, variance, gamma, beta *RawTensor, eps float32) *RawTensor
	BatchNorm2DBackward(x, mean, variance, gamma, grad *RawTensor, eps float32) (dx, dmean, dvariance, dgamma, dbeta *RawTensor)

	// Pixel-wise classification: logits [N,C,H,W], targets [N,H,W] int64.
	CrossEntropy2D(logits, targets *RawTensor) *RawTensor
	CrossEntropy2DBackward(logits, targets, grad *RawTensor) *RawTensor
	Argmax(x *RawTensor, dim int) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
