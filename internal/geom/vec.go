// Package geom holds the small vector types shared by the sampler, the
// terrain probes and the instance store.
package geom

import (
	"math"
	"math/rand"
)

// Up is the world vertical axis. Slopes are measured against it.
var Up = Vec3{Z: 1}

// Vec2 is a horizontal offset in world units.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

func (v Vec2) Len() float64 {
	return math.Hypot(v.X, v.Y)
}

// Vec3 is a world position or direction. Z is vertical.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3) Len() float64 {
	return math.Sqrt(v.Dot(v))
}

// Normalize returns v scaled to unit length. The zero vector is returned as is.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

// XY drops the vertical component.
func (v Vec3) XY() Vec2 {
	return Vec2{X: v.X, Y: v.Y}
}

// SlopeDegrees returns the angle between normal and Up in degrees. The dot
// product is clamped to [-1, 1] so float overshoot on unit normals cannot
// push acos out of its domain.
func SlopeDegrees(normal Vec3) float64 {
	dot := normal.Normalize().Dot(Up)
	dot = Clamp(dot, -1, 1)
	return math.Acos(dot) * 180 / math.Pi
}

// RandomPointInDisk draws a point uniformly distributed over a disk of the
// given radius centred on the origin. A non-positive radius yields the origin.
func RandomPointInDisk(rng *rand.Rand, radius float64) Vec2 {
	if radius <= 0 {
		return Vec2{}
	}
	r := radius * math.Sqrt(rng.Float64())
	theta := rng.Float64() * 2 * math.Pi
	return Vec2{X: r * math.Cos(theta), Y: r * math.Sin(theta)}
}

func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
