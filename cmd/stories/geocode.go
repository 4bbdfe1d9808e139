package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"earthquake-stories-go/internal/pipeline"
	"earthquake-stories-go/internal/stories"
)

func newGeocodeCmd(configPath *string) *cobra.Command {
	var in, out string

	cmd := &cobra.Command{
		Use:   "geocode",
		Short: "Attach coordinates for the place named in each story id",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, client, err := setup(*configPath, false)
			if err != nil {
				return err
			}
			defer client.Close()

			records, err := stories.ReadJSON(in)
			if err != nil {
				return err
			}
			enriched, err := pipeline.New(nil, client, log.Entry).Geocode(cmd.Context(), records)
			if err != nil {
				return err
			}
			if err := stories.WriteJSON(out, enriched); err != nil {
				return err
			}

			stats := client.Cache().Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d geocoded stories to %s\n", len(enriched), out)
			fmt.Fprintf(cmd.OutOrStdout(), "Places: %d\nHits:   %d\nMisses: %d\n", stats.Entries, stats.Hits, stats.Misses)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "analyzed_stories.json", "analyzed stories input")
	cmd.Flags().StringVarP(&out, "out", "o", "geocoded_stories.json", "geocoded stories output")
	return cmd
}
