package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/smazurov/camnode/internal/device"
	"github.com/spf13/cobra"
)

// CreateDiscoverCmd creates the discover command.
func CreateDiscoverCmd() *cobra.Command {
	var flags simFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List attached cameras",
		Long:  `Enumerates cameras reachable through the driver and prints their identity. The index column is what connect and snap expect.`,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
			defer cancel()

			infos, err := flags.driver().Enumerate(ctx)
			if err != nil {
				return fmt.Errorf("discover cameras: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			return printCameras(c.OutOrStdout(), infos)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func printCameras(w io.Writer, infos []device.Info) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "No cameras found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tSERIAL\tMODEL\tSENSOR\tPORT\tNAME")
	for _, info := range infos {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			info.Index, info.Serial, info.ProductName, info.SensorType, info.PortType, info.FriendlyName)
	}
	return tw.Flush()
}
