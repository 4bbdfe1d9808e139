package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"earthquake-stories-go/internal/evaluation"
	"earthquake-stories-go/internal/labeling"
	"earthquake-stories-go/internal/labels"
	"earthquake-stories-go/internal/pipeline"
	"earthquake-stories-go/internal/stories"
)

func newAnalyzeCmd(configPath *string) *cobra.Command {
	var (
		dataDir    string
		labelsPath string
		out        string
		metrics    string
		workbook   string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Classify and summarize every story, then evaluate against manual labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, client, err := setup(*configPath, true)
			if err != nil {
				return err
			}
			defer client.Close()

			items, err := stories.LoadDir(dataDir)
			if err != nil {
				return err
			}
			var manual []labeling.Label
			if labelsPath != "" {
				if manual, err = labeling.LoadLabels(labelsPath); err != nil {
					return fmt.Errorf("load labels: %w", err)
				}
			}
			log.WithField("stories", len(items)).WithField("manual", len(manual)).Info("analyzing stories")

			runner := pipeline.New(client, client, log.Entry)
			records, err := runner.Analyze(cmd.Context(), items, manual)
			if err != nil {
				return err
			}
			if err := stories.WriteJSON(out, records); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d analyzed stories to %s\n", len(records), out)

			if len(manual) == 0 {
				return nil
			}
			report, err := runner.EvaluateManual(cmd.Context(), items, manual)
			if err != nil {
				return fmt.Errorf("evaluate: %w", err)
			}
			if err := evaluation.WriteJSON(metrics, report); err != nil {
				return err
			}
			sentiments := make([]labels.Sentiment, len(records))
			for i, r := range records {
				sentiments[i] = r.Sentiment
			}
			if err := evaluation.WriteWorkbook(workbook, report, evaluation.Distribution(sentiments)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Accuracy on %d labeled stories: %.2f\n", report.MacroAvg.Support, report.Accuracy)
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s and %s\n", metrics, workbook)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dataDir, "data", "d", "data", "directory of .txt stories")
	cmd.Flags().StringVarP(&labelsPath, "labels", "l", "", "filled-in labeling sheet from the queue command")
	cmd.Flags().StringVarP(&out, "out", "o", "analyzed_stories.json", "analyzed stories output")
	cmd.Flags().StringVar(&metrics, "metrics", "analyzed_stories_evaluation_metrics.json", "classification report output")
	cmd.Flags().StringVar(&workbook, "workbook", "evaluation.xlsx", "confusion matrix workbook output")
	return cmd
}
