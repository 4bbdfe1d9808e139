package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"earthquake-stories-go/internal/inference"
)

// Config holds service and batch settings.
type Config struct {
	Environment string         `yaml:"environment"`
	LogLevel    string         `yaml:"log_level"`
	Port        string         `yaml:"port"`
	StoriesPath string         `yaml:"stories_path"`
	Chat        ChatConfig     `yaml:"chat"`
	Geocoder    GeocoderConfig `yaml:"geocoder"`
	Retry       RetryConfig    `yaml:"retry"`
	RateLimit   RateConfig     `yaml:"rate_limit"`
}

// ChatConfig points at an OpenAI-compatible chat-completion endpoint.
type ChatConfig struct {
	URL             string        `yaml:"url"`
	Model           string        `yaml:"model"`
	Timeout         time.Duration `yaml:"timeout"`
	AnalysisTimeout time.Duration `yaml:"analysis_timeout"`
}

type GeocoderConfig struct {
	URL     string        `yaml:"url"`
	Lang    string        `yaml:"lang"`
	Timeout time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	Base        float64 `yaml:"base"`
}

// RateConfig limits outbound calls. RPS 0 disables limiting.
type RateConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	d := inference.DefaultConfig()
	return &Config{
		Port:        "8080",
		StoriesPath: "geocoded_stories.json",
		Chat: ChatConfig{
			Timeout:         d.ChatTimeout,
			AnalysisTimeout: d.AnalysisTimeout,
		},
		Geocoder: GeocoderConfig{
			URL:     d.GeocodeURL,
			Timeout: d.GeocodeTimeout,
		},
		Retry: RetryConfig{
			MaxAttempts: d.MaxAttempts,
			Base:        d.BackoffBase,
		},
		RateLimit: RateConfig{Burst: d.RateBurst},
	}
}

// Load builds a Config from defaults, an optional YAML file and the
// environment, in increasing precedence. A .env file in the working
// directory is loaded first if present. When path is empty CONFIG_FILE is
// consulted.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"ENVIRONMENT":   &c.Environment,
		"LOG_LEVEL":     &c.LogLevel,
		"PORT":          &c.Port,
		"STORIES_PATH":  &c.StoriesPath,
		"LM_STUDIO_API": &c.Chat.URL,
		"MODEL":         &c.Chat.Model,
		"PHOTON_URL":    &c.Geocoder.URL,
		"GEOCODE_LANG":  &c.Geocoder.Lang,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"CHAT_TIMEOUT":     &c.Chat.Timeout,
		"ANALYSIS_TIMEOUT": &c.Chat.AnalysisTimeout,
		"GEOCODE_TIMEOUT":  &c.Geocoder.Timeout,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"MAX_ATTEMPTS":     &c.Retry.MaxAttempts,
		"RATE_LIMIT_BURST": &c.RateLimit.Burst,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	floats := map[string]*float64{
		"BACKOFF_BASE":   &c.Retry.Base,
		"RATE_LIMIT_RPS": &c.RateLimit.RPS,
	}
	for key, dst := range floats {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}
	return nil
}

// Validate reports missing endpoints and nonsensical retry settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Chat.URL == "" {
		errs = append(errs, errors.New("LM_STUDIO_API is required"))
	}
	if c.Chat.Model == "" {
		errs = append(errs, errors.New("MODEL is required"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be positive, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.Base <= 0 {
		errs = append(errs, fmt.Errorf("backoff base must be positive, got %v", c.Retry.Base))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %v", c.RateLimit.RPS))
	}
	return errors.Join(errs...)
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string { return ":" + c.Port }

// Inference maps the settings onto the inference client config.
func (c *Config) Inference() inference.Config {
	return inference.Config{
		ChatURL:         c.Chat.URL,
		Model:           c.Chat.Model,
		GeocodeURL:      c.Geocoder.URL,
		GeocodeLang:     c.Geocoder.Lang,
		ChatTimeout:     c.Chat.Timeout,
		AnalysisTimeout: c.Chat.AnalysisTimeout,
		GeocodeTimeout:  c.Geocoder.Timeout,
		MaxAttempts:     c.Retry.MaxAttempts,
		BackoffBase:     c.Retry.Base,
		RateLimit:       c.RateLimit.RPS,
		RateBurst:       c.RateLimit.Burst,
	}
}
