package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"geoarrow-convert/pkg/convert"
)

func newInspectCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <input.parquet>",
		Short: "Show the geometry column and converted schema of a GeoParquet file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pf, err := convert.OpenFile(args[0])
			if err != nil {
				return err
			}
			defer pf.Close()

			summary, err := convert.Describe(cmd.Context(), pf, convert.WithLogger(a.logger))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := json.MarshalIndent(summary, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}

			fmt.Fprintf(out, "primary column: %s (index %d)\n", summary.PrimaryColumn, summary.ColumnIndex)
			fmt.Fprintf(out, "geometry type:  %s\n", summary.Kind)
			fmt.Fprintf(out, "extension:      %s\n", summary.ExtensionName)
			fmt.Fprintf(out, "rows:           %d in %d row groups\n\n", summary.NumRows, summary.NumRowGroups)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FIELD\tTYPE\tNULLABLE")
			for _, f := range summary.Fields {
				fmt.Fprintf(tw, "%s\t%s\t%t\n", f.Name, f.Type, f.Nullable)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}
