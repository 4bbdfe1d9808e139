package evaluation

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"earthquake-stories-go/internal/labels"
)

const (
	SheetMatrix       = "Confusion Matrix"
	SheetMetrics      = "Metrics"
	SheetDistribution = "Distribution"
)

// WriteJSON saves the classification report with four-space indentation.
func WriteJSON(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// WriteWorkbook saves the matrix, the metrics table and the label
// distribution as sheets of one xlsx file.
func WriteWorkbook(path string, r Report, dist map[labels.Sentiment]int) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetMatrix); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := []any{"actual \\ predicted"}
	for _, l := range r.Labels {
		header = append(header, string(l))
	}
	if err := f.SetSheetRow(SheetMatrix, "A1", &header); err != nil {
		return fmt.Errorf("write matrix header: %w", err)
	}
	for i, l := range r.Labels {
		row := []any{string(l)}
		for _, v := range r.Matrix[i] {
			row = append(row, v)
		}
		if err := setRow(f, SheetMatrix, i+2, row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(SheetMetrics); err != nil {
		return fmt.Errorf("add metrics sheet: %w", err)
	}
	if err := setRow(f, SheetMetrics, 1, []any{"label", "precision", "recall", "f1-score", "support"}); err != nil {
		return err
	}
	row := 2
	for i, l := range r.Labels {
		if err := setRow(f, SheetMetrics, row, metricsRow(string(l), r.Classes[i])); err != nil {
			return err
		}
		row++
	}
	if err := setRow(f, SheetMetrics, row, []any{"accuracy", nil, nil, r.Accuracy, r.MacroAvg.Support}); err != nil {
		return err
	}
	if err := setRow(f, SheetMetrics, row+1, metricsRow("macro avg", r.MacroAvg)); err != nil {
		return err
	}
	if err := setRow(f, SheetMetrics, row+2, metricsRow("weighted avg", r.WeightedAvg)); err != nil {
		return err
	}

	if dist != nil {
		if _, err := f.NewSheet(SheetDistribution); err != nil {
			return fmt.Errorf("add distribution sheet: %w", err)
		}
		if err := setRow(f, SheetDistribution, 1, []any{"sentiment", "count"}); err != nil {
			return err
		}
		for i, l := range labels.Order {
			if err := setRow(f, SheetDistribution, i+2, []any{string(l), dist[l]}); err != nil {
				return err
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func metricsRow(name string, m ClassMetrics) []any {
	return []any{name, m.Precision, m.Recall, m.F1, m.Support}
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
