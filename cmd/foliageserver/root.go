package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"foliage/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Server string // base URL used by the client commands

	v *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{v: newViper()})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foliageserver",
		Short: "Foliage placement server",
		Long: `foliageserver scatters foliage over terrain inside a circular brush.
Paint strokes arrive over HTTP and are applied one at a time by a single
owner loop; every stroke commits as one undoable batch.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringP("config", "c", "", "path to a JSON or YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "http://127.0.0.1:8080", "base URL of a running server")
	_ = opts.v.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = opts.v.BindPFlag("server_url", cmd.PersistentFlags().Lookup("server"))

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewUsageCommand(opts))
	cmd.AddCommand(NewPaintCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewUndoCommand(opts))

	return cmd
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("FOLIAGE")
	// FOLIAGE_LOG_PREFIX for log-prefix / log.prefix
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// serverURL prefers FOLIAGE_SERVER_URL over the flag default.
func (o *RootOptions) serverURL() string {
	if u := o.v.GetString("server_url"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return strings.TrimRight(o.Server, "/")
}

// loadConfig resolves the configuration file, writing it first from the
// environment when a payload is present, then layers flag and environment
// overrides on top.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	path := o.v.GetString("config")
	if _, err := writeConfigFromEnv(path); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if o.v.IsSet("listen") {
		cfg.Server.ListenAddress = o.v.GetString("listen")
	}
	if o.v.IsSet("seed") {
		cfg.Placement.Seed = o.v.GetInt64("seed")
	}
	if o.v.IsSet("journal") {
		cfg.Journal.Path = o.v.GetString("journal")
	}
	if o.v.IsSet("terrain") {
		cfg.Terrain.Kind = o.v.GetString("terrain")
	}
	if o.v.IsSet("log-prefix") {
		cfg.Log.Prefix = o.v.GetString("log-prefix")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate overrides: %w", err)
	}
	return cfg, nil
}
