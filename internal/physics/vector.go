package physics

import "math"

// Vec3 is the vector representation shared by validation, replication and
// client-side extrapolation.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

// Scale multiplies every component by s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s} }

// Length returns the Euclidean magnitude.
func (v Vec3) Length() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Distance returns the Euclidean distance between v and o.
func (v Vec3) Distance(o Vec3) float64 { return v.Sub(o).Length() }

// Finite reports whether every component is a real number.
func (v Vec3) Finite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// ClampMagnitude scales v down uniformly so its magnitude does not exceed limit.
func (v Vec3) ClampMagnitude(limit float64) Vec3 {
	//1.- Skip clamping when the limit disables the guard.
	if !(limit > 0) {
		return v
	}
	magnitudeSq := v.X*v.X + v.Y*v.Y + v.Z*v.Z
	if magnitudeSq == 0 || magnitudeSq <= limit*limit {
		return v
	}
	//2.- Scale each axis uniformly so the resulting magnitude matches the limit.
	return v.Scale(limit / math.Sqrt(magnitudeSq))
}

// Extrapolate advances position along velocity for seconds using linear motion.
func Extrapolate(position, velocity Vec3, seconds float64) Vec3 {
	if seconds <= 0 {
		return position
	}
	return position.Add(velocity.Scale(seconds))
}

// FromSlice converts a wire array into a vector. It reports false unless the
// slice holds exactly three finite numbers.
func FromSlice(values []float64) (Vec3, bool) {
	if len(values) != 3 {
		return Vec3{}, false
	}
	v := Vec3{X: values[0], Y: values[1], Z: values[2]}
	return v, v.Finite()
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
