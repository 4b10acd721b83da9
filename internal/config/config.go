package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so configuration files can use human readable
// strings such as "150ms". Numeric values are read as nanoseconds.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON decodes a duration from either a string (e.g. "250ms") or a
// numeric value representing nanoseconds. Empty strings and null values decode
// to zero.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("duration: empty value")
	}
	if string(b) == "null" {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("duration: decode string: %w", err)
		}
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*d = Duration(time.Duration(f))
		return nil
	}
	return fmt.Errorf("duration: invalid value %s", string(b))
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration: line %d: expected a scalar", node.Line)
	}
	switch node.Tag {
	case "!!int":
		var n int64
		if err := node.Decode(&n); err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		*d = Duration(time.Duration(n))
		return nil
	case "!!null":
		*d = 0
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: parse %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Terrain kinds understood by the terrain package.
const (
	TerrainNoise = "noise"
	TerrainPlane = "plane"
	TerrainVoid  = "void"
)

// Config captures everything needed to bootstrap a foliage server.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Placement PlacementConfig `json:"placement" yaml:"placement"`
	Terrain   TerrainConfig   `json:"terrain" yaml:"terrain"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

type ServerConfig struct {
	ListenAddress   string   `json:"listenAddress" yaml:"listenAddress"`     // ":8080"
	ShutdownTimeout Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"` // graceful HTTP drain
	MaxBodyBytes    int64    `json:"maxBodyBytes" yaml:"maxBodyBytes"`       // paint request cap
}

type PlacementConfig struct {
	Seed         int64  `json:"seed" yaml:"seed"`                 // 0 picks a time based seed
	ScratchBytes uint64 `json:"scratchBytes" yaml:"scratchBytes"` // working buffer tracked per stroke
	MaxDensity   int    `json:"maxDensity" yaml:"maxDensity"`     // largest accepted paint density
}

type TerrainConfig struct {
	Kind        string  `json:"kind" yaml:"kind"`
	Seed        int64   `json:"seed" yaml:"seed"`
	Frequency   float64 `json:"frequency" yaml:"frequency"`
	Amplitude   float64 `json:"amplitude" yaml:"amplitude"`
	Octaves     int     `json:"octaves" yaml:"octaves"`
	Persistence float64 `json:"persistence" yaml:"persistence"`
	Lacunarity  float64 `json:"lacunarity" yaml:"lacunarity"`
	BaseHeight  float64 `json:"baseHeight" yaml:"baseHeight"` // plane height, noise datum
}

type LedgerConfig struct {
	SampleInterval Duration `json:"sampleInterval" yaml:"sampleInterval"`
	HistoryLen     int      `json:"historyLen" yaml:"historyLen"`
}

type JournalConfig struct {
	Path string `json:"path" yaml:"path"` // empty disables the journal
}

type LogConfig struct {
	Prefix string `json:"prefix" yaml:"prefix"`
}

// Load reads configuration from a JSON or YAML file, chosen by extension.
// An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   ":8080",
			ShutdownTimeout: Duration(5 * time.Second),
			MaxBodyBytes:    1 << 16,
		},
		Placement: PlacementConfig{
			ScratchBytes: 5 << 20,
			MaxDensity:   10000,
		},
		Terrain: TerrainConfig{
			Kind:        TerrainNoise,
			Seed:        1337,
			Frequency:   0.01,
			Amplitude:   20,
			Octaves:     4,
			Persistence: 0.5,
			Lacunarity:  2.0,
		},
		Ledger: LedgerConfig{
			SampleInterval: Duration(100 * time.Millisecond),
			HistoryLen:     50,
		},
		Log: LogConfig{
			Prefix: "foliage ",
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return errors.New("server.listenAddress must be set")
	}
	if c.Server.ShutdownTimeout < 0 {
		return errors.New("server.shutdownTimeout cannot be negative")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("server.maxBodyBytes must be positive")
	}
	if c.Placement.ScratchBytes == 0 {
		return errors.New("placement.scratchBytes must be positive")
	}
	if c.Placement.MaxDensity <= 0 {
		return errors.New("placement.maxDensity must be positive")
	}
	switch c.Terrain.Kind {
	case TerrainNoise:
		if c.Terrain.Octaves <= 0 {
			return errors.New("terrain.octaves must be positive")
		}
		if c.Terrain.Frequency <= 0 {
			return errors.New("terrain.frequency must be positive")
		}
	case TerrainPlane, TerrainVoid:
	default:
		return fmt.Errorf("terrain.kind %q must be one of %s, %s, %s", c.Terrain.Kind, TerrainNoise, TerrainPlane, TerrainVoid)
	}
	if c.Ledger.SampleInterval <= 0 {
		return errors.New("ledger.sampleInterval must be positive")
	}
	if c.Ledger.HistoryLen <= 0 {
		return errors.New("ledger.historyLen must be positive")
	}
	return nil
}
