// Command geoarrow-convert converts GeoParquet files to GeoArrow IPC streams
// and serves the conversion over HTTP and Arrow Flight.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"geoarrow-convert/pkg/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	cfgFile string
	envFile string
	cfg     *config.Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "geoarrow-convert",
		Short: "Convert GeoParquet files to GeoArrow",
		Long: `geoarrow-convert reads GeoParquet files and rewrites their primary
geometry column from WKB into native GeoArrow arrays, emitting Arrow IPC.

It runs as a one-shot CLI or as a service exposing the conversion over a
REST endpoint and an Arrow Flight server.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "json", "log format (json, text)")
	root.PersistentFlags().Int64("batch-size", 0, "rows per converted chunk (default from config)")
	root.PersistentFlags().String("compression", "", "arrow IPC body compression (none, lz4, zstd)")

	_ = viper.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(
		newConvertCmd(a),
		newInspectCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "geoarrow-convert %s\n", version)
			fmt.Fprintf(out, "  Commit:     %s\n", commit)
			fmt.Fprintf(out, "  Build Date: %s\n", buildDate)
		},
	}
}

// flagKeys maps command flags onto the configuration keys they override.
var flagKeys = map[string]string{
	"batch-size":  "convert.batch_size",
	"compression": "convert.compression",
	"http-port":   "server.http_port",
	"flight-port": "server.flight_port",
	"data-dir":    "storage.data_dir",
}

// load reads .env, configuration and flags, then installs the logger.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}

	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			viper.Set(key, f.Value.String())
		}
	}

	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg

	// the CLI keeps stdout for converted output
	a.logger = setupLogger(cfg.Logging, cmd.ErrOrStderr())
	slog.SetDefault(a.logger)
	return nil
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
