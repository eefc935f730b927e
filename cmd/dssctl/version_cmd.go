package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/dss/internal/version"
)

func newVersionCommand() *cobra.Command {
	var (
		short  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the dssctl version",
		RunE: func(cmd *cobra.Command, args []string) error {
			build := version.Read()
			out := cmd.OutOrStdout()
			switch {
			case short:
				_, err := fmt.Fprintln(out, build.Version)
				return err
			case asJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(build)
			default:
				_, err := fmt.Fprintln(out, build.String())
				return err
			}
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the version")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print build details as JSON")
	cmd.MarkFlagsMutuallyExclusive("short", "json")
	return cmd
}
