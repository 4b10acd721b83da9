package terrain

import (
	"context"
	"fmt"
	"math"

	"foliage/internal/config"
	"foliage/internal/geom"
	"foliage/internal/placement"
)

// normalStep is the finite difference distance used to estimate normals.
const normalStep = 0.25

// Heightfield is repeatable rolling terrain: layered sine hills with hashed
// value noise on top. Height is along Z.
type Heightfield struct {
	cfg  config.TerrainConfig
	seed int64
	// offset shifts the sine layers per seed so different seeds give
	// different hills.
	offset geom.Vec2
}

var _ placement.GroundQuery = (*Heightfield)(nil)

func NewHeightfield(cfg config.TerrainConfig) *Heightfield {
	if cfg.Octaves <= 0 {
		cfg.Octaves = 1
	}
	return &Heightfield{
		cfg:    cfg,
		seed:   cfg.Seed,
		offset: geom.Vec2{X: float64(cfg.Seed) * 123.45, Y: float64(cfg.Seed) * 67.89},
	}
}

// HeightAt returns the surface height at (x, y).
func (h *Heightfield) HeightAt(x, y float64) float64 {
	xs := x + h.offset.X
	ys := y + h.offset.Y

	hills := math.Sin(xs*0.05) * math.Cos(ys*0.05) * 8
	hills += math.Sin(xs*0.2+ys*0.1) * math.Cos(ys*0.2) * 3
	hills += math.Sin(xs*0.5) * 0.5

	return h.cfg.BaseHeight + hills + h.cfg.Amplitude*h.fractalNoise(x, y)
}

// NormalAt estimates the unit surface normal at (x, y) from central
// differences of HeightAt.
func (h *Heightfield) NormalAt(x, y float64) geom.Vec3 {
	dx := (h.HeightAt(x+normalStep, y) - h.HeightAt(x-normalStep, y)) / (2 * normalStep)
	dy := (h.HeightAt(x, y+normalStep) - h.HeightAt(x, y-normalStep)) / (2 * normalStep)
	return geom.Vec3{X: -dx, Y: -dy, Z: 1}.Normalize()
}

// Trace probes straight down at start's XY. The surface counts as hit when
// it lies between the probe's end heights.
func (h *Heightfield) Trace(_ context.Context, start, end geom.Vec3) (placement.GroundSample, bool, error) {
	z := h.HeightAt(start.X, start.Y)
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return placement.GroundSample{}, false, fmt.Errorf("terrain: non-finite height at (%.2f, %.2f)", start.X, start.Y)
	}
	if z > math.Max(start.Z, end.Z) || z < math.Min(start.Z, end.Z) {
		return placement.GroundSample{}, false, nil
	}
	return placement.GroundSample{
		Position: geom.Vec3{X: start.X, Y: start.Y, Z: z},
		Normal:   h.NormalAt(start.X, start.Y),
	}, true, nil
}

func (h *Heightfield) fractalNoise(x, y float64) float64 {
	frequency := h.cfg.Frequency
	amplitude := 1.0
	noiseSum := 0.0
	maxAmplitude := 0.0

	for i := 0; i < h.cfg.Octaves; i++ {
		noise := h.valueNoise(x*frequency, y*frequency)
		noiseSum += noise * amplitude
		maxAmplitude += amplitude
		amplitude *= h.cfg.Persistence
		frequency *= h.cfg.Lacunarity
	}

	if maxAmplitude == 0 {
		return 0
	}
	return noiseSum / maxAmplitude
}

func (h *Heightfield) valueNoise(x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))

	sx := smooth(x - float64(x0))
	sy := smooth(y - float64(y0))

	top := lerp(random2D(x0, y0, h.seed), random2D(x0+1, y0, h.seed), sx)
	bottom := lerp(random2D(x0, y0+1, h.seed), random2D(x0+1, y0+1, h.seed), sx)
	return lerp(top, bottom, sy)
}

func smooth(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// random2D maps a lattice point to [-1, 1).
func random2D(x, y int, seed int64) float64 {
	return float64(hash3(x, y, int(seed))&0xFFFF)/0x8000 - 1.0
}

func hash3(x, y, z int) uint32 {
	h := uint32(x*374761393 + y*668265263 + z*2147483647)
	h = (h ^ (h >> 13)) * 1274126177
	return h ^ (h >> 16)
}
