package physics

import (
	"math"
	"testing"
)

func TestVectorArithmetic(t *testing.T) {
	a := Vec3{X: 1, Y: 2, Z: 2}
	if a.Length() != 3 {
		t.Fatalf("expected length 3, got %f", a.Length())
	}
	if d := a.Distance(Vec3{X: 1, Y: 2, Z: 12}); d != 10 {
		t.Fatalf("expected distance 10, got %f", d)
	}
	if sum := a.Add(Vec3{X: 1}).Sub(Vec3{Y: 2}); sum != (Vec3{X: 2, Y: 0, Z: 2}) {
		t.Fatalf("unexpected arithmetic result %+v", sum)
	}
}

func TestClampMagnitude(t *testing.T) {
	v := Vec3{X: 30, Y: 0, Z: 40}.ClampMagnitude(10)
	if math.Abs(v.Length()-10) > 1e-9 {
		t.Fatalf("expected clamped length 10, got %f", v.Length())
	}
	if v.X <= 0 || v.Z <= v.X {
		t.Fatalf("expected direction to be preserved, got %+v", v)
	}
	small := Vec3{X: 1}
	if small.ClampMagnitude(10) != small {
		t.Fatalf("expected vectors under the limit to be unchanged")
	}
}

func TestExtrapolate(t *testing.T) {
	got := Extrapolate(Vec3{X: 1}, Vec3{X: 10, Z: -20}, 0.5)
	if got != (Vec3{X: 6, Z: -10}) {
		t.Fatalf("unexpected extrapolation %+v", got)
	}
	if Extrapolate(Vec3{X: 1}, Vec3{X: 10}, -1) != (Vec3{X: 1}) {
		t.Fatalf("negative durations must not move the position")
	}
}

func TestFromSliceRejectsMalformed(t *testing.T) {
	if _, ok := FromSlice([]float64{1, 2}); ok {
		t.Fatalf("expected short slices to be rejected")
	}
	if _, ok := FromSlice([]float64{1, math.NaN(), 2}); ok {
		t.Fatalf("expected NaN to be rejected")
	}
	if v, ok := FromSlice([]float64{1, 2, 3}); !ok || v != (Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("expected valid slice to convert, got %+v %v", v, ok)
	}
}
