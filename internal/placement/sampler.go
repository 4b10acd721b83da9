// Package placement turns a flat brush stroke into surface-aware placements.
//
// For every attempt the sampler picks a horizontal offset inside the brush,
// probes the ground straight down through it, rejects hits that are too
// steep and gives accepted hits a random yaw and scale. With clustering on,
// roughly half of the attempts after the first success are drawn near the
// most recent success instead of across the whole brush.
package placement

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"foliage/internal/geom"
)

const (
	// ProbeHalfSpan is how far above and below the brush centre the ground
	// probe reaches.
	ProbeHalfSpan = 1000.0

	// ClusterRadiusRatio scales the brush radius down to the disk sampled
	// around the last success.
	ClusterRadiusRatio = 0.2

	MinScale = 0.8
	MaxScale = 1.2
)

// ErrSamplerFault wraps ground query failures. Misses and steep hits are not
// faults.
var ErrSamplerFault = errors.New("placement: sampler fault")

// Stats counts what happened to the attempts of one Sample call.
type Stats struct {
	Attempts int
	Misses   int
	TooSteep int
	Accepted int
}

// clusterState is scoped to a single Sample call so concurrent or
// successive strokes never see each other's offsets.
type clusterState struct {
	lastOffset geom.Vec2
	hasSuccess bool
}

// Sampler is not safe for concurrent use; it is owned by the dispatch loop.
type Sampler struct {
	rng *rand.Rand
}

func NewSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// NewSamplerWithRand uses the given source of randomness, which lets tests
// replay a fixed stream.
func NewSamplerWithRand(rng *rand.Rand) *Sampler {
	return &Sampler{rng: rng}
}

// Sample runs up to req.Density attempts and returns the accepted instances
// in acceptance order. Cancelling ctx stops the attempts and discards the
// stroke.
func (s *Sampler) Sample(ctx context.Context, req Request, ground GroundQuery) ([]Instance, error) {
	out, _, err := s.SampleWithStats(ctx, req, ground)
	return out, err
}

func (s *Sampler) SampleWithStats(ctx context.Context, req Request, ground GroundQuery) ([]Instance, Stats, error) {
	var stats Stats
	if req.Radius <= 0 || req.Density <= 0 {
		return nil, stats, nil
	}
	if ground == nil {
		return nil, stats, fmt.Errorf("%w: no ground query", ErrSamplerFault)
	}
	maxSlope := geom.Clamp(req.MaxSlopeDegrees, 0, 90)

	var (
		state clusterState
		out   []Instance
	)
	for i := 0; i < req.Density; i++ {
		if err := ctx.Err(); err != nil {
			return nil, stats, fmt.Errorf("sampling stopped after %d attempts: %w", i, err)
		}
		stats.Attempts++
		offset := s.chooseOffset(req, &state)

		base := geom.Vec3{X: req.Center.X + offset.X, Y: req.Center.Y + offset.Y, Z: req.Center.Z}
		start := base.Add(geom.Vec3{Z: ProbeHalfSpan})
		end := base.Sub(geom.Vec3{Z: ProbeHalfSpan})

		hit, ok, err := ground.Trace(ctx, start, end)
		if err != nil {
			return nil, stats, fmt.Errorf("%w: attempt %d at (%.2f, %.2f): %w", ErrSamplerFault, i, base.X, base.Y, err)
		}
		if !ok {
			stats.Misses++
			continue
		}
		if geom.SlopeDegrees(hit.Normal) > maxSlope {
			stats.TooSteep++
			continue
		}

		out = append(out, Instance{
			Position:   hit.Position,
			YawDegrees: s.rng.Float64() * 360,
			Scale:      MinScale + s.rng.Float64()*(MaxScale-MinScale),
		})
		state.lastOffset = offset
		state.hasSuccess = true
		stats.Accepted++
	}
	return out, stats, nil
}

func (s *Sampler) chooseOffset(req Request, state *clusterState) geom.Vec2 {
	if req.Clustering && state.hasSuccess && s.rng.Intn(2) == 0 {
		return state.lastOffset.Add(geom.RandomPointInDisk(s.rng, req.Radius*ClusterRadiusRatio))
	}
	return geom.RandomPointInDisk(s.rng, req.Radius)
}
