package placement

import (
	"context"

	"foliage/internal/geom"
)

// Request describes one brush stroke.
type Request struct {
	Center          geom.Vec3
	Radius          float64
	Density         int // maximum number of placement attempts
	MaxSlopeDegrees float64
	Clustering      bool
}

// GroundSample is a surface hit returned by a GroundQuery.
type GroundSample struct {
	Position geom.Vec3
	Normal   geom.Vec3
}

// Instance is one accepted placement.
type Instance struct {
	Position   geom.Vec3 `json:"position"`
	YawDegrees float64   `json:"yaw"`
	Scale      float64   `json:"scale"`
}

// GroundQuery finds the first surface along a vertical probe from start to
// end. ok is false when the probe hits nothing. A non-nil error is a fault
// in the query itself, not a miss.
type GroundQuery interface {
	Trace(ctx context.Context, start, end geom.Vec3) (sample GroundSample, ok bool, err error)
}

// GroundQueryFunc adapts a function to GroundQuery.
type GroundQueryFunc func(ctx context.Context, start, end geom.Vec3) (GroundSample, bool, error)

func (f GroundQueryFunc) Trace(ctx context.Context, start, end geom.Vec3) (GroundSample, bool, error) {
	return f(ctx, start, end)
}
