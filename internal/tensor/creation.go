package tensor

import "math/rand"

// Zeros creates a tensor filled with zeros.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return New[T, B](MustNewRaw(shape, inferDataType[T](), b.Device()), b)
}

// Full creates a tensor filled with value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	t := Zeros[T](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return Full[T](shape, T(1), b)
}

// Randn creates a float32 tensor drawn from N(0, std²) using rng.
func Randn[B Backend](shape Shape, std float64, rng *rand.Rand, b B) *Tensor[float32, B] {
	t := Zeros[float32](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = float32(rng.NormFloat64() * std)
	}
	return t
}

// Uniform creates a float32 tensor drawn from U(-bound, bound) using rng.
func Uniform[B Backend](shape Shape, bound float64, rng *rand.Rand, b B) *Tensor[float32, B] {
	t := Zeros[float32](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	return t
}
