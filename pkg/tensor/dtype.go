package tensor

import (
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType identifies the element encoding of a Tensor.
type DType int

const (
	F32 DType = iota
	F16
	BF16
	U32
	Bool
)

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	case U32:
		return "u32"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// IsFloat reports whether the dtype holds floating-point elements.
func (d DType) IsFloat() bool {
	return d == F32 || d == F16 || d == BF16
}

// MinValue returns the most negative finite value representable by a
// floating-point dtype. Masked-out attention scores are set to this value
// rather than -Inf so that downstream arithmetic stays finite.
func (d DType) MinValue() float32 {
	switch d {
	case F16:
		return float32(-65504)
	case BF16:
		// Largest finite bf16 magnitude: 0xFF7F.
		return bfloat16.ToFloat32(bfloat16.BF16(0xff7f))
	default:
		return -math.MaxFloat32
	}
}

func encodeF16(v float32) uint16 { return uint16(float16.Fromfloat32(v)) }
func decodeF16(u uint16) float32 { return float16.Float16(u).Float32() }

func encodeBF16(v float32) uint16 { return uint16(bfloat16.FromFloat32(v)) }
func decodeBF16(u uint16) float32 { return bfloat16.ToFloat32(bfloat16.BF16(u)) }
