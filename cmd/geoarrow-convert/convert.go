package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"geoarrow-convert/pkg/convert"
)

func newConvertCmd(a *app) *cobra.Command {
	var (
		output string
		format string
	)

	cmd := &cobra.Command{
		Use:   "convert <input.parquet>",
		Short: "Convert a GeoParquet file to GeoArrow IPC",
		Example: `  geoarrow-convert convert parcels.parquet -o parcels.arrows
  geoarrow-convert convert parcels.parquet --format file --compression zstd -o parcels.arrow
  geoarrow-convert convert parcels.parquet > parcels.arrows`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.cfg.Convert.Options()
			if err != nil {
				return err
			}
			if format != "" {
				f, err := convert.ParseFormat(format)
				if err != nil {
					return err
				}
				opts = append(opts, convert.WithFormat(f))
			}
			opts = append(opts, convert.WithLogger(a.logger))

			start := time.Now()
			rows, err := convertFile(cmd, args[0], output, opts)
			if err != nil {
				a.logger.Error("conversion failed", "input", args[0], "stage", convert.StageOf(err), "error", err)
				return err
			}

			a.logger.Info("conversion completed",
				"input", args[0],
				"output", outputName(output),
				"rows", rows,
				"duration", time.Since(start),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().StringVar(&format, "format", "", "IPC container format (stream, file)")
	return cmd
}

func outputName(output string) string {
	if output == "" || output == "-" {
		return "stdout"
	}
	return output
}

// convertFile converts input into output. A file output is written next to
// its destination and renamed into place only once the conversion succeeds.
func convertFile(cmd *cobra.Command, input, output string, opts []convert.Option) (int64, error) {
	pf, err := convert.OpenFile(input, opts...)
	if err != nil {
		return 0, err
	}
	defer pf.Close()

	rdr, err := convert.NewReader(cmd.Context(), pf, opts...)
	if err != nil {
		return 0, err
	}
	defer rdr.Release()

	if output == "" || output == "-" {
		return convert.WriteTo(cmd.OutOrStdout(), rdr, opts...)
	}

	tmp, err := os.CreateTemp(filepath.Dir(output), "."+filepath.Base(output)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	rows, err := writeAndClose(tmp, rdr, opts)
	if err != nil {
		return rows, err
	}

	if err := os.Rename(tmp.Name(), output); err != nil {
		return rows, fmt.Errorf("failed to move output into place: %w", err)
	}
	return rows, nil
}

func writeAndClose(f *os.File, rdr *convert.Reader, opts []convert.Option) (int64, error) {
	rows, err := convert.WriteTo(f, rdr, opts...)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output file: %w", cerr)
	}
	return rows, err
}
