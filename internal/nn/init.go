package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/unet/internal/tensor"
)

// Kaiming (He) normal initialization for layers followed by ReLU:
//
//	W ~ N(0, 2 / fan_in)
func Kaiming[B tensor.Backend](fanIn int, shape tensor.Shape, rng *rand.Rand, backend B) *tensor.Tensor[float32, B] {
	return tensor.Randn(shape, math.Sqrt(2.0/float64(fanIn)), rng, backend)
}

// Xavier (Glorot) uniform initialization:
//
//	W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand, backend B) *tensor.Tensor[float32, B] {
	return tensor.Uniform(shape, math.Sqrt(6.0/float64(fanIn+fanOut)), rng, backend)
}

// Zeros creates a tensor filled with zeros; used for biases.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}

// Ones creates a tensor filled with ones.
func Ones[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Ones[float32](shape, backend)
}
