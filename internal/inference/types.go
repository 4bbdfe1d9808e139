package inference

import (
	"errors"
	"time"

	"earthquake-stories-go/internal/labels"
)

type Kind string

const (
	// KindChatCompletion generates a short empathetic reply.
	KindChatCompletion Kind = "chat-completion"
	// KindStoryAnalysis is a chat completion whose answer is a JSON
	// {sentiment, summary} object.
	KindStoryAnalysis Kind = "story-analysis"
	// KindGeocodeLookup resolves a place name to coordinates.
	KindGeocodeLookup Kind = "geocode-lookup"
)

// Terminal values returned once the attempt budget is spent.
const (
	FallbackReply = "I'm sorry, I'm having a little trouble connecting right now. Please know that I'm here to listen."

	APIErrorSummary   = "API Error"
	APIErrorRaw       = "API_ERROR"
	ParseErrorSummary = "Parse Error"
)

var (
	// ErrTransient wraps connection failures, timeouts and non-2xx statuses.
	ErrTransient = errors.New("transient upstream failure")
	// ErrEmptyCompletion means the model answered with blank content.
	ErrEmptyCompletion = errors.New("model returned an empty response")
	// ErrServiceUnavailable is the geocode terminal value after retries.
	ErrServiceUnavailable = errors.New("geocoding service unavailable")
	// ErrLocationNotFound is a definitive negative geocode result.
	ErrLocationNotFound = errors.New("location not found")
	// ErrUnexpectedResponse marks a 2xx geocoder body that could not be read
	// as coordinates. It is retried like a transport failure.
	ErrUnexpectedResponse = errors.New("unexpected geocoder response")
	ErrUnknownKind        = errors.New("unknown request kind")
)

type Request struct {
	Kind    Kind
	Payload string
	// Sentiment sets the reply tone for KindChatCompletion.
	Sentiment labels.Sentiment
}

type Analysis struct {
	Sentiment labels.Sentiment `json:"sentiment"`
	Summary   string           `json:"summary"`
	RawText   string           `json:"raw_text"`
}

// Result is a tagged union over Kind. Only the field matching Kind is set.
// Err is only ever ErrLocationNotFound, ErrServiceUnavailable (wrapping the
// last attempt's failure) or ErrUnknownKind; reply and analysis results never
// carry one.
type Result struct {
	Kind        Kind
	Reply       string
	Analysis    Analysis
	Coordinates *labels.Coordinates
	Err         error

	Attempts int
	Cached   bool
	Fallback bool
}

// Config holds endpoints and per-kind call parameters.
type Config struct {
	ChatURL     string
	Model       string
	GeocodeURL  string
	GeocodeLang string

	ChatTimeout     time.Duration
	AnalysisTimeout time.Duration
	GeocodeTimeout  time.Duration

	MaxAttempts int
	BackoffBase float64

	// RateLimit is outbound requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

func DefaultConfig() Config {
	return Config{
		GeocodeURL:      "http://127.0.0.1:2322/api",
		ChatTimeout:     60 * time.Second,
		AnalysisTimeout: 180 * time.Second,
		GeocodeTimeout:  30 * time.Second,
		MaxAttempts:     3,
		BackoffBase:     2,
		RateBurst:       1,
	}
}
