package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"earthquake-stories-go/internal/cache"
	"earthquake-stories-go/internal/logger"
	"earthquake-stories-go/internal/retry"
)

// Client calls the chat-completion and geocoding endpoints with bounded
// retries. It is safe for concurrent use; the geocode cache is the only
// state shared between calls.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *cache.Fingerprint
	group      singleflight.Group
	limiter    *rate.Limiter
	newTimer   func() backoff.Timer
	log        *logrus.Entry
}

type Option func(*Client)

// WithCache injects the geocode cache. Without it the client owns a private one.
func WithCache(c *cache.Fingerprint) Option {
	return func(cl *Client) { cl.cache = c }
}

func WithLogger(log *logrus.Entry) Option {
	return func(cl *Client) { cl.log = log }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(cl *Client) { cl.httpClient = hc }
}

// WithTimerFactory replaces the real backoff sleep. Each call gets its own timer.
func WithTimerFactory(f func() backoff.Timer) Option {
	return func(cl *Client) { cl.newTimer = f }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = retry.DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = retry.DefaultBase
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		newTimer:   func() backoff.Timer { return nil },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = cache.NewFingerprint()
	}
	if c.log == nil {
		c.log = logger.Discard()
	}
	c.log = c.log.WithField("component", "inference")

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// Cache exposes the geocode cache for stats reporting.
func (c *Client) Cache() *cache.Fingerprint { return c.cache }

// Close releases idle upstream connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Infer resolves one request. It never panics and never returns transport,
// parse or validation errors: those are retried and then replaced by the
// kind's terminal value.
func (c *Client) Infer(ctx context.Context, req Request) Result {
	switch req.Kind {
	case KindChatCompletion:
		return c.reply(ctx, req)
	case KindStoryAnalysis:
		return c.analyze(ctx, req)
	case KindGeocodeLookup:
		return c.geocode(ctx, req)
	default:
		return Result{Kind: req.Kind, Fallback: true, Err: fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)}
	}
}

// run executes op under a fresh retry policy and reports how many attempts
// were made. op gets a context bounded by timeout.
func (c *Client) run(ctx context.Context, kind Kind, timeout time.Duration, op func(ctx context.Context) error) (int, error) {
	log := c.log.WithField("kind", kind)
	policy := retry.NewPolicy(c.cfg.BackoffBase, c.cfg.MaxAttempts)
	attempts := 0

	err := retry.Do(ctx, policy, c.newTimer(),
		func(err error, attempt int, wait time.Duration) {
			log.WithFields(logrus.Fields{
				"attempt":      attempt + 1,
				"max_attempts": policy.MaxAttempts,
				"retry_in":     wait.String(),
				"error":        err.Error(),
			}).Warn("upstream attempt failed, retrying")
		},
		func(int) error {
			attempts++
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return retry.Permanent(err)
				}
			}
			attemptCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return op(attemptCtx)
		})
	return attempts, err
}

func (c *Client) postJSON(ctx context.Context, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransient, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
