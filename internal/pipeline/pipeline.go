// Package pipeline runs the offline batch flows over the story corpus:
// analysis, evaluation against manual labels and geocoding. Stories are
// processed one at a time in input order.
package pipeline

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"earthquake-stories-go/internal/evaluation"
	"earthquake-stories-go/internal/inference"
	"earthquake-stories-go/internal/labeling"
	"earthquake-stories-go/internal/labels"
	"earthquake-stories-go/internal/logger"
	"earthquake-stories-go/internal/stories"
)

// MaxStoryRunes bounds the story text sent for analysis.
const MaxStoryRunes = 1500

type Analyzer interface {
	Analyze(ctx context.Context, text string) inference.Analysis
}

type Geocoder interface {
	Geocode(ctx context.Context, location string) (labels.Coordinates, error)
}

type Runner struct {
	analyzer Analyzer
	geocoder Geocoder
	log      *logrus.Entry
}

// New builds a Runner. Either dependency may be nil if the matching stage is
// not used. A nil log discards output.
func New(a Analyzer, g Geocoder, log *logrus.Entry) *Runner {
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{analyzer: a, geocoder: g, log: log.WithField("component", "pipeline")}
}

// Analyze produces one record per story. Stories with a manual label keep it
// and get the manual placeholder summary; the rest are sent to the model.
func (r *Runner) Analyze(ctx context.Context, items []stories.Story, manual []labeling.Label) ([]stories.Record, error) {
	byID := make(map[string]labels.Sentiment, len(manual))
	for _, l := range manual {
		byID[l.StoryID] = l.Sentiment
	}

	out := make([]stories.Record, 0, len(items))
	for i, s := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rec := stories.Record{StoryID: s.ID, Text: s.Text}
		if label, ok := byID[s.ID]; ok {
			rec.Sentiment = label
			rec.Summary = stories.ManualSummary
			rec.Method = stories.MethodManual
		} else {
			a := r.analyzer.Analyze(ctx, clip(s.Text))
			rec.Sentiment = a.Sentiment
			rec.Summary = a.Summary
			rec.Method = stories.MethodLMStudio
		}
		r.log.WithFields(logrus.Fields{
			"story_id":  s.ID,
			"n":         i + 1,
			"total":     len(items),
			"method":    rec.Method,
			"sentiment": rec.Sentiment,
		}).Info("story analyzed")
		out = append(out, rec)
	}
	return out, nil
}

// EvaluateManual re-analyzes every manually labeled story and compares the
// model's sentiment with the hand label. Labels naming unknown stories are
// skipped.
func (r *Runner) EvaluateManual(ctx context.Context, items []stories.Story, manual []labeling.Label) (evaluation.Report, error) {
	byID := make(map[string]stories.Story, len(items))
	for _, s := range items {
		byID[s.ID] = s
	}

	var truth, predicted []labels.Sentiment
	for _, l := range manual {
		if err := ctx.Err(); err != nil {
			return evaluation.Report{}, err
		}
		s, ok := byID[l.StoryID]
		if !ok {
			r.log.WithField("story_id", l.StoryID).Warn("labeled story not in corpus, skipping")
			continue
		}
		a := r.analyzer.Analyze(ctx, clip(s.Text))
		truth = append(truth, l.Sentiment)
		predicted = append(predicted, a.Sentiment)
	}

	report, err := evaluation.Evaluate(truth, predicted)
	if err != nil {
		return evaluation.Report{}, err
	}
	r.log.WithFields(logrus.Fields{
		"samples":  len(truth),
		"accuracy": report.Accuracy,
	}).Info("manual subset evaluated")
	return report, nil
}

// Geocode attaches a Location to every record with a story id; records
// without one are dropped. Unresolvable places and an unreachable geocoder
// both leave coordinates null.
func (r *Runner) Geocode(ctx context.Context, records []stories.Record) ([]stories.Record, error) {
	out := make([]stories.Record, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if rec.StoryID == "" {
			continue
		}
		name, ok := stories.LocationFromID(rec.StoryID)
		if !ok {
			rec.Location = &stories.Location{}
			out = append(out, rec)
			continue
		}

		loc := &stories.Location{Name: &name}
		log := r.log.WithField("story_id", rec.StoryID).WithField("location", name)
		coords, err := r.geocoder.Geocode(ctx, name)
		switch {
		case err == nil:
			loc.Coordinates = &coords
		case errors.Is(err, inference.ErrLocationNotFound):
			log.Debug("location not found")
		default:
			log.WithError(err).Warn("geocoding failed, leaving coordinates empty")
		}
		rec.Location = loc
		out = append(out, rec)
	}
	return out, nil
}

func clip(text string) string {
	r := []rune(text)
	if len(r) <= MaxStoryRunes {
		return text
	}
	return string(r[:MaxStoryRunes])
}
