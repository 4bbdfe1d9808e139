package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"earthquake-stories-go/internal/cache"
	"earthquake-stories-go/internal/labels"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// delayRecorder hands out timers that fire immediately and records every
// requested wait across all of them.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

type recordingTimer struct {
	rec *delayRecorder
	c   chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.rec.mu.Lock()
	t.rec.delays = append(t.rec.delays, d)
	t.rec.mu.Unlock()
	t.c <- time.Now()
}

func (t *recordingTimer) Stop()               {}
func (t *recordingTimer) C() <-chan time.Time { return t.c }

func (r *delayRecorder) factory() backoff.Timer {
	return &recordingTimer{rec: r, c: make(chan time.Time, 1)}
}

func (r *delayRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestClient(t *testing.T, chatURL, geocodeURL string, opts ...Option) (*Client, *delayRecorder) {
	t.Helper()
	rec := &delayRecorder{}
	cfg := DefaultConfig()
	cfg.ChatURL = chatURL
	cfg.GeocodeURL = geocodeURL
	cfg.Model = "mistral-7b-instruct"
	c := New(cfg, append([]Option{WithTimerFactory(rec.factory)}, opts...)...)
	t.Cleanup(c.Close)
	return c, rec
}

func chatBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
	return string(b)
}

func TestReplyEndToEnd(t *testing.T) {
	var got chatRequest
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"I'm so sorry you went through that."}}]}`)
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL, "")
	res := c.Infer(context.Background(), Request{Kind: KindChatCompletion, Payload: "My house collapsed.", Sentiment: labels.Negative})

	assert.Equal(t, "I'm so sorry you went through that.", res.Reply)
	assert.False(t, res.Fallback)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, rec.Delays())

	assert.Equal(t, "mistral-7b-instruct", got.Model)
	assert.Equal(t, 0.7, got.Temperature)
	assert.Equal(t, 100, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, replySystemPrompt+"\n\n")
	assert.Contains(t, got.Messages[0].Content, "extra compassion")
	assert.Contains(t, got.Messages[0].Content, `User's message: "My house collapsed."`)
}

func TestReplyTrimsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatBody("  That sounds like a relief.\n"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, "")
	assert.Equal(t, "That sounds like a relief.", c.Reply(context.Background(), "We all got out.", labels.Positive))
}

func TestReplyExhaustionReturnsFallback(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL, "")
	res := c.Infer(context.Background(), Request{Kind: KindChatCompletion, Payload: "hello"})

	assert.Equal(t, FallbackReply, res.Reply)
	assert.NotEmpty(t, res.Reply)
	assert.True(t, res.Fallback)
	assert.Nil(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.Delays())
}

func TestReplyEmptyContentIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			fmt.Fprint(w, chatBody("   "))
			return
		}
		fmt.Fprint(w, chatBody("I'm here with you."))
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL, "")
	res := c.Infer(context.Background(), Request{Kind: KindChatCompletion, Payload: "hi"})
	assert.Equal(t, "I'm here with you.", res.Reply)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.Delays())
}

func TestEmptyPayloadSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, srv.URL)
	ctx := context.Background()

	assert.Equal(t, FallbackReply, c.Reply(ctx, "   ", labels.Neutral))
	assert.Equal(t, labels.Neutral, c.Analyze(ctx, "").Sentiment)
	_, err := c.Geocode(ctx, " ")
	assert.ErrorIs(t, err, ErrLocationNotFound)

	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, 0, c.Cache().Len())
}

func TestUnknownKind(t *testing.T) {
	c, _ := newTestClient(t, "", "")
	res := c.Infer(context.Background(), Request{Kind: "image-caption", Payload: "x"})
	assert.ErrorIs(t, res.Err, ErrUnknownKind)
	assert.True(t, res.Fallback)
}

func TestAnalyzeToleratesNoiseAndTypos(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, chatBody("Sure!\n```json\n{\"sentiment\": \"NEUTRRAL\", \"summary\": \"A shop owner waited out the shaking.\"}\n```"))
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL, "")
	res := c.Infer(context.Background(), Request{Kind: KindStoryAnalysis, Payload: "I was in my shop when..."})

	assert.False(t, res.Fallback)
	assert.Equal(t, labels.Neutral, res.Analysis.Sentiment)
	assert.Equal(t, "A shop owner waited out the shaking.", res.Analysis.Summary)
	assert.Contains(t, res.Analysis.RawText, "NEUTRRAL")
	assert.Empty(t, rec.Delays())

	assert.Equal(t, 0.0, got.Temperature)
	assert.Equal(t, 150, got.MaxTokens)
	assert.Contains(t, got.Messages[0].Content, "Text: I was in my shop when...\nResponse:")
}

func TestAnalyzeInvalidLabelRetriesUnderSameBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			fmt.Fprint(w, chatBody(`{"sentiment": "happy", "summary": "x"}`))
			return
		}
		fmt.Fprint(w, chatBody(`{"sentiment": "positive", "summary": "Neighbours helped each other."}`))
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL, "")
	a := c.Analyze(context.Background(), "story")
	assert.Equal(t, labels.Positive, a.Sentiment)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.Delays())
}

func TestAnalyzeMalformedExhaustsToParseError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, chatBody("{bad json}"))
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL, "")
	res := c.Infer(context.Background(), Request{Kind: KindStoryAnalysis, Payload: "story"})

	assert.True(t, res.Fallback)
	assert.Equal(t, Analysis{Sentiment: labels.Neutral, Summary: ParseErrorSummary, RawText: "{bad json}"}, res.Analysis)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.Delays())
}

func TestAnalyzeTransportExhaustsToAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, "")
	a := c.Analyze(context.Background(), "story")
	assert.Equal(t, Analysis{Sentiment: labels.Neutral, Summary: APIErrorSummary, RawText: APIErrorRaw}, a)
}

func TestGeocodeInvertsAxisOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Christchurch", r.URL.Query().Get("q"))
		assert.Equal(t, "en", r.URL.Query().Get("lang"))
		fmt.Fprint(w, `{"features":[{"geometry":{"coordinates":[172.6,-43.5]}}]}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, "", srv.URL)
	c.cfg.GeocodeLang = "en"

	got, err := c.Geocode(context.Background(), "Christchurch")
	require.NoError(t, err)
	assert.Equal(t, labels.Coordinates{Latitude: -43.5, Longitude: 172.6}, got)
}

func TestGeocodeCacheIdempotence(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("q") == "Wellington" {
			fmt.Fprint(w, `{"features":[{"geometry":{"coordinates":[174.78,-41.29]}}]}`)
			return
		}
		fmt.Fprint(w, `{"features":[]}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, "", srv.URL)
	ctx := context.Background()

	first := c.Infer(ctx, Request{Kind: KindGeocodeLookup, Payload: "Wellington"})
	second := c.Infer(ctx, Request{Kind: KindGeocodeLookup, Payload: "Wellington"})
	require.NoError(t, first.Err)
	assert.Equal(t, *first.Coordinates, *second.Coordinates)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), hits.Load())

	_, err1 := c.Geocode(ctx, "Nowhere Special")
	_, err2 := c.Geocode(ctx, "Nowhere Special")
	assert.ErrorIs(t, err1, ErrLocationNotFound)
	assert.ErrorIs(t, err2, ErrLocationNotFound)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGeocodeSharedCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"features":[{"geometry":{"coordinates":[173.68,-42.4]}}]}`)
	}))
	defer srv.Close()

	shared := cache.NewFingerprint()
	a, _ := newTestClient(t, "", srv.URL, WithCache(shared))
	b, _ := newTestClient(t, "", srv.URL, WithCache(shared))

	_, err := a.Geocode(context.Background(), "Kaikoura")
	require.NoError(t, err)
	_, err = b.Geocode(context.Background(), "Kaikoura")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGeocodeExhaustionIsServiceUnavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, rec := newTestClient(t, "", srv.URL)
	res := c.Infer(context.Background(), Request{Kind: KindGeocodeLookup, Payload: "Lyttelton"})

	assert.ErrorIs(t, res.Err, ErrServiceUnavailable)
	assert.NotErrorIs(t, res.Err, ErrLocationNotFound)
	assert.NotErrorIs(t, res.Err, ErrUnexpectedResponse)
	assert.True(t, res.Fallback)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.Delays())

	// Unavailability is not cached.
	assert.Equal(t, 0, c.Cache().Len())
	c.Infer(context.Background(), Request{Kind: KindGeocodeLookup, Payload: "Lyttelton"})
	assert.Equal(t, int32(6), hits.Load())
}

func TestGeocodeConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := newTestClient(t, "", url)
	_, err := c.Geocode(context.Background(), "Rangiora")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestGeocodeMalformedBodyIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			fmt.Fprint(w, `<html>starting up</html>`)
			return
		}
		fmt.Fprint(w, `{"features":[{"geometry":{"coordinates":[172.6,-43.5]}}]}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, "", srv.URL)
	got, err := c.Geocode(context.Background(), "Christchurch")
	require.NoError(t, err)
	assert.Equal(t, -43.5, got.Latitude)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGeocodeUnreadableBodyExhaustion(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"features":[{"geometry":{"coordinates":["east","south"]}}]}`)
	}))
	defer srv.Close()

	c, rec := newTestClient(t, "", srv.URL)
	_, err := c.Geocode(context.Background(), "Kaikoura")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.ErrorIs(t, err, labels.ErrCoordinates)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.Delays())
	assert.Equal(t, 0, c.Cache().Len())
}

func TestGeocodeConcurrentMissesShareOneCall(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		fmt.Fprint(w, `{"features":[{"geometry":{"coordinates":[172.6,-43.5]}}]}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, "", srv.URL)

	var wg sync.WaitGroup
	results := make([]labels.Coordinates, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := c.Geocode(context.Background(), "Christchurch")
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, r := range results {
		assert.Equal(t, labels.Coordinates{Latitude: -43.5, Longitude: 172.6}, r)
	}
}

func TestGeocodeCancelledCallerDoesNotFailOthers(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		fmt.Fprint(w, `{"features":[{"geometry":{"coordinates":[174.8,-41.3]}}]}`)
	}))
	defer srv.Close()
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	defer unblock()

	c, _ := newTestClient(t, "", srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan error, 1)
	go func() {
		_, err := c.Geocode(ctx, "Wellington")
		first <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan labels.Coordinates, 1)
	go func() {
		got, err := c.Geocode(context.Background(), "Wellington")
		assert.NoError(t, err)
		second <- got
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, ErrServiceUnavailable)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	unblock()
	assert.Equal(t, labels.Coordinates{Latitude: -41.3, Longitude: 174.8}, <-second)
	assert.Equal(t, int32(1), hits.Load())

	// The shared lookup finished after its first caller left and was cached.
	got, err := c.Geocode(context.Background(), "Wellington")
	require.NoError(t, err)
	assert.Equal(t, labels.Coordinates{Latitude: -41.3, Longitude: 174.8}, got)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRateLimitedClientStillCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatBody("ok"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.ChatURL = srv.URL
	cfg.RateLimit = 1000
	cfg.RateBurst = 2
	c := New(cfg)
	defer c.Close()
	require.NotNil(t, c.limiter)

	for i := 0; i < 3; i++ {
		assert.Equal(t, "ok", c.Reply(context.Background(), "hi", labels.Neutral))
	}
}
