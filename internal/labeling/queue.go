package labeling

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/xuri/excelize/v2"

	"earthquake-stories-go/internal/labels"
	"earthquake-stories-go/internal/stories"
)

const (
	Sheet          = "Labels"
	PreviewRunes   = 400
	DefaultSamples = 30
)

var ErrNoRows = errors.New("no data rows")

// Label is one hand-assigned sentiment.
type Label struct {
	StoryID   string
	Sentiment labels.Sentiment
}

// Pick shuffles items with r and splits off the first n for manual labeling.
func Pick(items []stories.Story, n int, r *rand.Rand) (manual, auto []stories.Story) {
	shuffled := append([]stories.Story(nil), items...)
	if r != nil {
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	}
	if n > len(shuffled) {
		n = len(shuffled)
	}
	if n < 0 {
		n = 0
	}
	return shuffled[:n], shuffled[n:]
}

// WriteQueue saves a labeling sheet: story id, a text preview and an empty
// sentiment column to fill in by hand.
func WriteQueue(path string, items []stories.Story) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), Sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header := []any{"story_id", "preview", "sentiment"}
	if err := f.SetSheetRow(Sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, s := range items {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{s.ID, preview(s.Text), ""}
		if err := f.SetSheetRow(Sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= PreviewRunes {
		return text
	}
	return string(r[:PreviewRunes])
}

// LoadLabels reads a filled-in queue from the first sheet. Columns are found
// by header name. Rows without a story id are skipped and rows with a blank
// sentiment are still pending, so neither is returned. Other values go
// through labels.ParseManualLabel.
func LoadLabels(path string) ([]Label, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, ErrNoRows
	}

	idIdx, labelIdx := -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "sentiment") || strings.Contains(l, "label"):
			if labelIdx == -1 {
				labelIdx = i
			}
		case strings.Contains(l, "id") || strings.Contains(l, "file"):
			if idIdx == -1 {
				idIdx = i
			}
		}
	}
	// fall back to the layout WriteQueue produces
	if idIdx == -1 {
		idIdx = 0
	}
	if labelIdx == -1 {
		labelIdx = 2
	}

	var out []Label
	for _, r := range rows[1:] {
		id := cell(r, idIdx)
		raw := cell(r, labelIdx)
		if id == "" || raw == "" {
			continue
		}
		out = append(out, Label{StoryID: id, Sentiment: labels.ParseManualLabel(raw)})
	}
	return out, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
