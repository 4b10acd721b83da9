package terrain

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foliage/internal/config"
	"foliage/internal/geom"
)

func noiseConfig(seed int64) config.TerrainConfig {
	return config.TerrainConfig{
		Kind:        config.TerrainNoise,
		Seed:        seed,
		Frequency:   0.05,
		Amplitude:   6,
		Octaves:     3,
		Persistence: 0.5,
		Lacunarity:  2,
	}
}

func TestHeightfieldIsDeterministicPerSeed(t *testing.T) {
	a := NewHeightfield(noiseConfig(7))
	b := NewHeightfield(noiseConfig(7))
	c := NewHeightfield(noiseConfig(8))

	differs := false
	for _, p := range []geom.Vec2{{X: 0, Y: 0}, {X: 12.5, Y: -3}, {X: -140, Y: 77.25}, {X: 901, Y: 4}} {
		assert.Equal(t, a.HeightAt(p.X, p.Y), b.HeightAt(p.X, p.Y))
		if a.HeightAt(p.X, p.Y) != c.HeightAt(p.X, p.Y) {
			differs = true
		}
	}
	assert.True(t, differs, "different seeds should give different terrain")
}

func TestHeightfieldTraceRespectsProbeSpan(t *testing.T) {
	h := NewHeightfield(noiseConfig(3))
	ctx := context.Background()
	z := h.HeightAt(3, 4)

	hit, ok, err := h.Trace(ctx, geom.Vec3{X: 3, Y: 4, Z: z + 10}, geom.Vec3{X: 3, Y: 4, Z: z - 10})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, geom.Vec3{X: 3, Y: 4, Z: z}, hit.Position)

	_, ok, err = h.Trace(ctx, geom.Vec3{X: 3, Y: 4, Z: z - 10}, geom.Vec3{X: 3, Y: 4, Z: z + 10})
	require.NoError(t, err)
	assert.True(t, ok, "probe direction does not matter")

	_, ok, err = h.Trace(ctx, geom.Vec3{X: 3, Y: 4, Z: z + 20}, geom.Vec3{X: 3, Y: 4, Z: z + 10})
	require.NoError(t, err)
	assert.False(t, ok, "surface below the probe is a miss")
}

func TestHeightfieldNormalMatchesHillGradient(t *testing.T) {
	cfg := noiseConfig(0)
	cfg.Amplitude = 0
	h := NewHeightfield(cfg)

	for _, p := range []geom.Vec2{{X: 0, Y: 0}, {X: 5, Y: 9}, {X: -31, Y: 17}, {X: 60, Y: -44}} {
		x, y := p.X, p.Y
		dx := 0.05*math.Cos(0.05*x)*math.Cos(0.05*y)*8 +
			0.2*math.Cos(0.2*x+0.1*y)*math.Cos(0.2*y)*3 +
			0.5*math.Cos(0.5*x)*0.5
		dy := -0.05*math.Sin(0.05*x)*math.Sin(0.05*y)*8 +
			(0.1*math.Cos(0.2*x+0.1*y)*math.Cos(0.2*y)-0.2*math.Sin(0.2*x+0.1*y)*math.Sin(0.2*y))*3
		want := geom.Vec3{X: -dx, Y: -dy, Z: 1}.Normalize()

		got := h.NormalAt(x, y)
		assert.InDelta(t, 1.0, got.Len(), 1e-9)
		assert.InDelta(t, want.X, got.X, 1e-2, "at %v", p)
		assert.InDelta(t, want.Y, got.Y, 1e-2, "at %v", p)
		assert.InDelta(t, want.Z, got.Z, 1e-2, "at %v", p)
	}
}

func TestFractalNoiseStaysInRange(t *testing.T) {
	h := NewHeightfield(noiseConfig(99))
	for x := -50.0; x <= 50; x += 3.7 {
		for y := -50.0; y <= 50; y += 4.1 {
			n := h.fractalNoise(x, y)
			if n < -1 || n > 1 {
				t.Fatalf("noise out of range at (%v, %v): %v", x, y, n)
			}
		}
	}
}

func TestPlaneTrace(t *testing.T) {
	ctx := context.Background()

	level := Plane{Height: 5}
	hit, ok, err := level.Trace(ctx, geom.Vec3{X: 1, Y: 2, Z: 100}, geom.Vec3{X: 1, Y: 2, Z: -100})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, geom.Vec3{X: 1, Y: 2, Z: 5}, hit.Position)
	assert.Equal(t, geom.Up, hit.Normal)

	_, ok, err = level.Trace(ctx, geom.Vec3{Z: 4}, geom.Vec3{Z: -4})
	require.NoError(t, err)
	assert.False(t, ok)

	tilted := Plane{Height: 10, Normal: geom.Vec3{X: 1, Z: 1}}
	hit, ok, err = tilted.Trace(ctx, geom.Vec3{X: 2, Z: 100}, geom.Vec3{X: 2, Z: -100})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 8.0, hit.Position.Z, 1e-9)
	assert.InDelta(t, 45.0, geom.SlopeDegrees(hit.Normal), 1e-9)

	wall := Plane{Normal: geom.Vec3{X: 1}}
	_, ok, err = wall.Trace(ctx, geom.Vec3{Z: 100}, geom.Vec3{Z: -100})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVoidNeverHits(t *testing.T) {
	_, ok, err := Void{}.Trace(context.Background(), geom.Vec3{Z: 1000}, geom.Vec3{Z: -1000})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewSelectsKind(t *testing.T) {
	g, err := New(noiseConfig(1))
	require.NoError(t, err)
	assert.IsType(t, &Heightfield{}, g)

	g, err = New(config.TerrainConfig{Kind: config.TerrainPlane, BaseHeight: 3})
	require.NoError(t, err)
	assert.Equal(t, Plane{Height: 3}, g)

	g, err = New(config.TerrainConfig{Kind: config.TerrainVoid})
	require.NoError(t, err)
	assert.Equal(t, Void{}, g)

	_, err = New(config.TerrainConfig{Kind: "lava"})
	assert.Error(t, err)
}
