package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"earthquake-stories-go/internal/inference"
	"earthquake-stories-go/internal/labels"
	"earthquake-stories-go/internal/logger"
	"earthquake-stories-go/internal/stories"
)

const (
	msgInvalidJSON   = "Invalid JSON"
	msgTooLarge      = "Request body too large"
	msgMissingFields = "Missing 'user_message' or 'story_sentiment' in request body"
	msgNoLocation    = "No location provided"
	msgNotFound      = "Location not found"
	msgGeocoderDown  = "Failed to connect to local geocoding server. Is Photon running?"
	msgNoStories     = "Could not load story data. Run the geocode command first."
)

// maxBodyBytes caps POST bodies. Replies only need a short message.
const maxBodyBytes = 64 << 10

type Replier interface {
	Reply(ctx context.Context, message string, sentiment labels.Sentiment) string
}

type Geocoder interface {
	Geocode(ctx context.Context, location string) (labels.Coordinates, error)
}

// Handler serves the chatbot endpoints. Stories are loaded once at startup
// and never modified.
type Handler struct {
	replier  Replier
	geocoder Geocoder
	stories  []stories.Record
	log      *logrus.Entry
}

func NewHandler(r Replier, g Geocoder, records []stories.Record, log *logrus.Entry) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		replier:  r,
		geocoder: g,
		stories:  records,
		log:      log.WithField("component", "api"),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/generate_response", h.GenerateResponse)
	r.Post("/geocode", h.Geocode)
	r.Get("/api/stories", h.Stories)
	r.Get("/healthz", h.Health)
}

type generateRequest struct {
	UserMessage    string `json:"user_message"`
	StorySentiment string `json:"story_sentiment"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type geocodeRequest struct {
	Location string `json:"location"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GenerateResponse returns a supportive reply. Upstream failures still
// produce 200 with the fallback reply.
func (h *Handler) GenerateResponse(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" || strings.TrimSpace(req.StorySentiment) == "" {
		h.writeError(w, http.StatusBadRequest, msgMissingFields)
		return
	}

	sentiment, err := labels.NormalizeSentiment(req.StorySentiment)
	if err != nil {
		h.log.WithField("story_sentiment", req.StorySentiment).Debug("unknown sentiment, using neutral tone")
		sentiment = labels.Neutral
	}

	reply := h.replier.Reply(r.Context(), req.UserMessage, sentiment)
	h.writeJSON(w, http.StatusOK, generateResponse{Response: reply})
}

func (h *Handler) Geocode(w http.ResponseWriter, r *http.Request) {
	var req geocodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Location) == "" {
		h.writeError(w, http.StatusBadRequest, msgNoLocation)
		return
	}

	coords, err := h.geocoder.Geocode(r.Context(), req.Location)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, coords)
	case errors.Is(err, inference.ErrLocationNotFound):
		h.writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, inference.ErrUnexpectedResponse):
		h.log.WithField("location", req.Location).WithField("error", err.Error()).Error("unexpected geocoder response")
		h.writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, inference.ErrServiceUnavailable):
		h.log.WithField("location", req.Location).WithField("error", err.Error()).Error("geocoder unavailable")
		h.writeError(w, http.StatusServiceUnavailable, msgGeocoderDown)
	default:
		h.log.WithField("location", req.Location).WithField("error", err.Error()).Error("geocode failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) Stories(w http.ResponseWriter, r *http.Request) {
	if len(h.stories) == 0 {
		h.log.Error("story data is empty")
		h.writeError(w, http.StatusInternalServerError, msgNoStories)
		return
	}
	h.writeJSON(w, http.StatusOK, h.stories)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		h.log.WithField("error", err.Error()).Error("failed to write response")
	}
}

// decode reads a size-capped JSON body into v. On failure it has already
// written the error response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeError(w, http.StatusRequestEntityTooLarge, msgTooLarge)
		return false
	}
	h.writeError(w, http.StatusBadRequest, msgInvalidJSON)
	return false
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithField("error", err.Error()).Error("failed to write response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}
