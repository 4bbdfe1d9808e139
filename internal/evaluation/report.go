package evaluation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"earthquake-stories-go/internal/labels"
)

var (
	ErrLengthMismatch = errors.New("truth and predicted label counts differ")
	ErrNoSamples      = errors.New("no samples to evaluate")
)

// ClassMetrics holds one row of a classification report.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// Report compares manual labels with model predictions. Matrix rows are the
// actual label and columns the predicted label, both in labels.Order.
type Report struct {
	Labels      []labels.Sentiment
	Matrix      [][]int
	Classes     []ClassMetrics
	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
}

// Evaluate builds the confusion matrix and per-class metrics. Divisions by
// zero yield 0.
func Evaluate(truth, predicted []labels.Sentiment) (Report, error) {
	if len(truth) != len(predicted) {
		return Report{}, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(truth), len(predicted))
	}
	if len(truth) == 0 {
		return Report{}, ErrNoSamples
	}

	n := len(labels.Order)
	matrix := make([][]int, n)
	for i := range matrix {
		matrix[i] = make([]int, n)
	}
	correct := 0
	for i := range truth {
		a, p := truth[i].Index(), predicted[i].Index()
		if a < 0 {
			return Report{}, fmt.Errorf("truth[%d]: %w: %q", i, labels.ErrInvalidLabel, truth[i])
		}
		if p < 0 {
			return Report{}, fmt.Errorf("predicted[%d]: %w: %q", i, labels.ErrInvalidLabel, predicted[i])
		}
		matrix[a][p]++
		if a == p {
			correct++
		}
	}

	total := len(truth)
	r := Report{
		Labels:   append([]labels.Sentiment(nil), labels.Order...),
		Matrix:   matrix,
		Classes:  make([]ClassMetrics, n),
		Accuracy: float64(correct) / float64(total),
	}
	for k := 0; k < n; k++ {
		tp := matrix[k][k]
		var actual, predictedAs int
		for j := 0; j < n; j++ {
			actual += matrix[k][j]
			predictedAs += matrix[j][k]
		}
		m := ClassMetrics{
			Precision: ratio(tp, predictedAs),
			Recall:    ratio(tp, actual),
			Support:   actual,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes[k] = m

		r.MacroAvg.Precision += m.Precision / float64(n)
		r.MacroAvg.Recall += m.Recall / float64(n)
		r.MacroAvg.F1 += m.F1 / float64(n)

		w := float64(actual) / float64(total)
		r.WeightedAvg.Precision += m.Precision * w
		r.WeightedAvg.Recall += m.Recall * w
		r.WeightedAvg.F1 += m.F1 * w
	}
	r.MacroAvg.Support = total
	r.WeightedAvg.Support = total
	return r, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Class returns the metrics row for s.
func (r Report) Class(s labels.Sentiment) (ClassMetrics, bool) {
	for i, l := range r.Labels {
		if l == s {
			return r.Classes[i], true
		}
	}
	return ClassMetrics{}, false
}

// MarshalJSON writes the classification-report dictionary: one object per
// label, then "accuracy", "macro avg" and "weighted avg", in that order.
func (r Report) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
		return nil
	}

	for i, l := range r.Labels {
		if err := write(string(l), r.Classes[i]); err != nil {
			return nil, err
		}
	}
	if err := write("accuracy", r.Accuracy); err != nil {
		return nil, err
	}
	if err := write("macro avg", r.MacroAvg); err != nil {
		return nil, err
	}
	if err := write("weighted avg", r.WeightedAvg); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Distribution counts labels in Order. Labels outside Order are ignored.
func Distribution(sentiments []labels.Sentiment) map[labels.Sentiment]int {
	counts := make(map[labels.Sentiment]int, len(labels.Order))
	for _, l := range labels.Order {
		counts[l] = 0
	}
	for _, s := range sentiments {
		if s.Valid() {
			counts[s]++
		}
	}
	return counts
}
