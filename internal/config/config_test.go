package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestValidateDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should be valid: %v", err)
	}
}

func TestValidateDetectsInvalidConfigurations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "missing listen address",
			mutate: func(cfg *Config) {
				cfg.Server.ListenAddress = ""
			},
			wantErr: "server.listenAddress must be set",
		},
		{
			name: "negative shutdown timeout",
			mutate: func(cfg *Config) {
				cfg.Server.ShutdownTimeout = Duration(-time.Second)
			},
			wantErr: "server.shutdownTimeout cannot be negative",
		},
		{
			name: "zero body cap",
			mutate: func(cfg *Config) {
				cfg.Server.MaxBodyBytes = 0
			},
			wantErr: "server.maxBodyBytes must be positive",
		},
		{
			name: "zero scratch",
			mutate: func(cfg *Config) {
				cfg.Placement.ScratchBytes = 0
			},
			wantErr: "placement.scratchBytes must be positive",
		},
		{
			name: "zero max density",
			mutate: func(cfg *Config) {
				cfg.Placement.MaxDensity = 0
			},
			wantErr: "placement.maxDensity must be positive",
		},
		{
			name: "unknown terrain",
			mutate: func(cfg *Config) {
				cfg.Terrain.Kind = "lava"
			},
			wantErr: `terrain.kind "lava" must be one of noise, plane, void`,
		},
		{
			name: "noise without octaves",
			mutate: func(cfg *Config) {
				cfg.Terrain.Octaves = 0
			},
			wantErr: "terrain.octaves must be positive",
		},
		{
			name: "noise without frequency",
			mutate: func(cfg *Config) {
				cfg.Terrain.Frequency = 0
			},
			wantErr: "terrain.frequency must be positive",
		},
		{
			name: "zero sample interval",
			mutate: func(cfg *Config) {
				cfg.Ledger.SampleInterval = 0
			},
			wantErr: "ledger.sampleInterval must be positive",
		},
		{
			name: "zero history",
			mutate: func(cfg *Config) {
				cfg.Ledger.HistoryLen = 0
			},
			wantErr: "ledger.historyLen must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected an error, got nil")
			}
			if err.Error() != tt.wantErr {
				t.Fatalf("unexpected error: got %q want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidatePlaneIgnoresNoiseParameters(t *testing.T) {
	cfg := Default()
	cfg.Terrain.Kind = TerrainPlane
	cfg.Terrain.Octaves = 0
	cfg.Terrain.Frequency = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("plane terrain should not need noise parameters: %v", err)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	if want := Default(); !reflect.DeepEqual(cfg, want) {
		t.Fatalf("default configuration mismatch:\nwant: %#v\n got: %#v", want, cfg)
	}
}

func TestLoadReadsJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Server.ListenAddress = ":9999"
	cfg.Journal.Path = "/var/lib/foliage/journal.db"

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Fatalf("loaded configuration mismatch:\nwant: %#v\n got: %#v", cfg, got)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  listenAddress: "127.0.0.1:7000"
  shutdownTimeout: 2s
terrain:
  kind: plane
  baseHeight: 12.5
ledger:
  sampleInterval: 250ms
  historyLen: 10
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got.Server.ListenAddress != "127.0.0.1:7000" {
		t.Fatalf("unexpected listen address %q", got.Server.ListenAddress)
	}
	if got.Server.ShutdownTimeout.Duration() != 2*time.Second {
		t.Fatalf("unexpected shutdown timeout %v", got.Server.ShutdownTimeout.Duration())
	}
	if got.Terrain.Kind != TerrainPlane || got.Terrain.BaseHeight != 12.5 {
		t.Fatalf("unexpected terrain %+v", got.Terrain)
	}
	if got.Ledger.SampleInterval.Duration() != 250*time.Millisecond || got.Ledger.HistoryLen != 10 {
		t.Fatalf("unexpected ledger %+v", got.Ledger)
	}
	if got.Placement.ScratchBytes != Default().Placement.ScratchBytes {
		t.Fatalf("unset fields should keep defaults, got scratch %d", got.Placement.ScratchBytes)
	}
}

func TestLoadInvalidConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Ledger.HistoryLen = 0

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err = Load(path)
	if err == nil {
		t.Fatalf("expected load to fail")
	}
	if !strings.Contains(err.Error(), "validate config: ledger.historyLen must be positive") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDurationDecoding(t *testing.T) {
	var fromJSON struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
		C Duration `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"150ms","b":1000,"c":null}`), &fromJSON); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if fromJSON.A.Duration() != 150*time.Millisecond || fromJSON.B.Duration() != time.Microsecond || fromJSON.C != 0 {
		t.Fatalf("unexpected json durations %+v", fromJSON)
	}

	var fromYAML struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
	}
	if err := yaml.Unmarshal([]byte("a: 3s\nb: 42\n"), &fromYAML); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if fromYAML.A.Duration() != 3*time.Second || fromYAML.B.Duration() != 42 {
		t.Fatalf("unexpected yaml durations %+v", fromYAML)
	}

	if err := yaml.Unmarshal([]byte("a: soon\n"), &fromYAML); err == nil {
		t.Fatalf("expected invalid duration to fail")
	}

	out, err := yaml.Marshal(struct {
		A Duration `yaml:"a"`
	}{A: Duration(90 * time.Second)})
	if err != nil {
		t.Fatalf("encode yaml: %v", err)
	}
	if strings.TrimSpace(string(out)) != "a: 1m30s" {
		t.Fatalf("unexpected yaml encoding %q", out)
	}
}
