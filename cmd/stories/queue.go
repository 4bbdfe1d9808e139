package main

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"earthquake-stories-go/internal/labeling"
	"earthquake-stories-go/internal/stories"
)

func newQueueCmd() *cobra.Command {
	var (
		dataDir string
		out     string
		samples int
		seed    uint64
	)

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Pick random stories and write a labeling sheet for them",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := stories.LoadDir(dataDir)
			if err != nil {
				return err
			}
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			manual, _ := labeling.Pick(items, samples, rand.New(rand.NewPCG(seed, seed)))
			if err := labeling.WriteQueue(out, manual); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d of %d stories to %s (seed %d).\n", len(manual), len(items), out, seed)
			fmt.Fprintln(cmd.OutOrStdout(), "Fill in the sentiment column (positive/negative/neutral, pos/neg, +/-) and pass it to analyze --labels.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&dataDir, "data", "d", "data", "directory of .txt stories")
	cmd.Flags().StringVarP(&out, "out", "o", "labels.xlsx", "labeling sheet to write")
	cmd.Flags().IntVarP(&samples, "samples", "n", labeling.DefaultSamples, "number of stories to label by hand")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "shuffle seed (0 picks one from the clock)")
	return cmd
}
