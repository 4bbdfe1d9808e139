package labels

import (
	"errors"
	"fmt"
	"strings"
)

type Sentiment string

const (
	Positive Sentiment = "positive"
	Neutral  Sentiment = "neutral"
	Negative Sentiment = "negative"
)

// Order is the fixed label order used for confusion matrices and reports.
var Order = []Sentiment{Positive, Neutral, Negative}

// DefaultSummary is used when the model omits the summary field entirely.
const DefaultSummary = "No summary provided"

var (
	ErrInvalidLabel = errors.New("invalid sentiment label")
	ErrEmptySummary = errors.New("empty summary")
	ErrCoordinates  = errors.New("invalid coordinates")
)

// typos maps misspellings models are known to emit.
var typos = map[string]Sentiment{
	"neutrral": Neutral,
}

// Index returns the position of s in Order, or -1.
func (s Sentiment) Index() int {
	for i, l := range Order {
		if l == s {
			return i
		}
	}
	return -1
}

func (s Sentiment) Valid() bool { return s.Index() >= 0 }

// NormalizeSentiment lower-cases, trims and typo-corrects a label.
func NormalizeSentiment(raw string) (Sentiment, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if fixed, ok := typos[s]; ok {
		return fixed, nil
	}
	if label := Sentiment(s); label.Valid() {
		return label, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLabel, raw)
}

// ParseManualLabel accepts the short forms used when labeling by hand.
// Anything unrecognised becomes neutral.
func ParseManualLabel(raw string) Sentiment {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case "pos", "+":
		return Positive
	case "neg", "-":
		return Negative
	default:
		if label, err := NormalizeSentiment(s); err == nil {
			return label
		}
		return Neutral
	}
}

// Analysis is a validated sentiment + summary pair.
type Analysis struct {
	Sentiment Sentiment `json:"sentiment"`
	Summary   string    `json:"summary"`
}

// ValidateAnalysis maps an extracted object onto Analysis. A missing
// sentiment defaults to neutral and a missing summary to DefaultSummary;
// present-but-unusable values fail.
func ValidateAnalysis(fields map[string]any) (Analysis, error) {
	rawSentiment := string(Neutral)
	if v, ok := fields["sentiment"]; ok {
		s, isString := v.(string)
		if !isString {
			return Analysis{}, fmt.Errorf("%w: sentiment is %T", ErrInvalidLabel, v)
		}
		rawSentiment = s
	}
	sentiment, err := NormalizeSentiment(rawSentiment)
	if err != nil {
		return Analysis{}, err
	}

	summary := DefaultSummary
	if v, ok := fields["summary"]; ok {
		s, isString := v.(string)
		if !isString {
			return Analysis{}, fmt.Errorf("%w: summary is %T", ErrEmptySummary, v)
		}
		summary = strings.TrimSpace(s)
	}
	if summary == "" {
		return Analysis{}, ErrEmptySummary
	}

	return Analysis{Sentiment: sentiment, Summary: summary}, nil
}

// Coordinates are WGS84 degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ValidateCoordinates reads a GeoJSON [lon, lat] pair. The axis order is
// inverted relative to Coordinates.
func ValidateCoordinates(pair []any) (Coordinates, error) {
	if len(pair) < 2 {
		return Coordinates{}, fmt.Errorf("%w: want [lon, lat], got %d values", ErrCoordinates, len(pair))
	}
	lon, ok := pair[0].(float64)
	if !ok {
		return Coordinates{}, fmt.Errorf("%w: longitude is %T", ErrCoordinates, pair[0])
	}
	lat, ok := pair[1].(float64)
	if !ok {
		return Coordinates{}, fmt.Errorf("%w: latitude is %T", ErrCoordinates, pair[1])
	}
	return Coordinates{Latitude: lat, Longitude: lon}, nil
}
