package tensor

import (
	"math"
	"testing"
)

func TestFloat16ToFloat32(t *testing.T) {
	tests := []struct {
		name string
		in   uint16
		want float32
	}{
		{"zero", 0x0000, 0},
		{"one", 0x3C00, 1},
		{"minus two", 0xC000, -2},
		{"half", 0x3800, 0.5},
		{"max", 0x7BFF, 65504},
		{"smallest subnormal", 0x0001, float32(math.Ldexp(1, -24))},
		{"largest subnormal", 0x03FF, float32(math.Ldexp(1023, -24))},
		{"inf", 0x7C00, float32(math.Inf(1))},
		{"-inf", 0xFC00, float32(math.Inf(-1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Float16ToFloat32(tt.in); got != tt.want {
				t.Errorf("Float16ToFloat32(%#04x) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if got := Float16ToFloat32(0x7E00); !math.IsNaN(float64(got)) {
		t.Errorf("Float16ToFloat32(NaN) = %v, want NaN", got)
	}
	if got := Float16ToFloat32(0x8000); math.Float32bits(got) != 0x80000000 {
		t.Errorf("negative zero lost its sign: %#08x", math.Float32bits(got))
	}
}

func TestBFloat16RoundTrip(t *testing.T) {
	for _, v := range []float32{0, 1, -1, 0.5, 3, 1024, -65536} {
		if got := BFloat16ToFloat32(Float32ToBFloat16(v)); got != v {
			t.Errorf("bfloat16 round trip of %v = %v", v, got)
		}
	}

	if got := BFloat16ToFloat32(0x3F80); got != 1 {
		t.Errorf("BFloat16ToFloat32(0x3F80) = %v, want 1", got)
	}
}
