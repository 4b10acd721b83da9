// Package terrain provides the ground the placement sampler probes.
package terrain

import (
	"context"
	"fmt"
	"math"

	"foliage/internal/config"
	"foliage/internal/geom"
	"foliage/internal/placement"
)

// New builds the ground query named by cfg.Kind.
func New(cfg config.TerrainConfig) (placement.GroundQuery, error) {
	switch cfg.Kind {
	case config.TerrainNoise, "":
		return NewHeightfield(cfg), nil
	case config.TerrainPlane:
		return Plane{Height: cfg.BaseHeight}, nil
	case config.TerrainVoid:
		return Void{}, nil
	default:
		return nil, fmt.Errorf("terrain: unknown kind %q", cfg.Kind)
	}
}

// Plane is an infinite plane through (0, 0, Height). A zero Normal means
// level ground.
type Plane struct {
	Height float64
	Normal geom.Vec3
}

func (p Plane) Trace(_ context.Context, start, end geom.Vec3) (placement.GroundSample, bool, error) {
	n := p.Normal.Normalize()
	if n == (geom.Vec3{}) {
		n = geom.Up
	}
	// A vertical probe never meets a vertical or downward facing plane.
	if n.Z <= 0 {
		return placement.GroundSample{}, false, nil
	}
	z := p.Height - (n.X*start.X+n.Y*start.Y)/n.Z
	if z > math.Max(start.Z, end.Z) || z < math.Min(start.Z, end.Z) {
		return placement.GroundSample{}, false, nil
	}
	return placement.GroundSample{
		Position: geom.Vec3{X: start.X, Y: start.Y, Z: z},
		Normal:   n,
	}, true, nil
}

// Void has no surface.
type Void struct{}

func (Void) Trace(context.Context, geom.Vec3, geom.Vec3) (placement.GroundSample, bool, error) {
	return placement.GroundSample{}, false, nil
}
