package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/tripalgpt/tripal-chat/internal/handlers"
	"github.com/tripalgpt/tripal-chat/internal/services"
	"gopkg.in/yaml.v3"
)

type transportConfig interface {
	transport(logger *slog.Logger) (handlers.Transport, error)
	kind() string
	url() string
	setURL(url string)
}

// BaseTransportConfig contains the common fields for all transport configurations.
type BaseTransportConfig struct {
	Kind string `yaml:"kind"`
	URL  string `yaml:"url"`
}

type config struct {
	Transport      transportConfig `yaml:"transport"`
	FailureMessage string          `yaml:"failureMessage"`
	HighlightStyle string          `yaml:"highlightStyle"`
	Preview        string          `yaml:"preview"`
	HTMLOutput     string          `yaml:"htmlOutput"`
	LogLevel       string          `yaml:"logLevel"`
}

type httpConfig struct {
	BaseTransportConfig `yaml:",inline"`
	Timeout             time.Duration `yaml:"timeout"`
}

type sseConfig struct {
	BaseTransportConfig `yaml:",inline"`
}

type websocketConfig struct {
	BaseTransportConfig `yaml:",inline"`
}

const defaultBackendURL = "http://0.0.0.0:8000"

func defaultConfig() config {
	return config{
		Transport: &websocketConfig{BaseTransportConfig{Kind: "websocket", URL: defaultBackendURL}},
		LogLevel:  "info",
	}
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Transport      map[string]any `yaml:"transport"`
		FailureMessage string         `yaml:"failureMessage"`
		HighlightStyle string         `yaml:"highlightStyle"`
		Preview        string         `yaml:"preview"`
		HTMLOutput     string         `yaml:"htmlOutput"`
		LogLevel       string         `yaml:"logLevel"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.FailureMessage = rawConfig.FailureMessage
	c.HighlightStyle = rawConfig.HighlightStyle
	c.Preview = rawConfig.Preview
	c.HTMLOutput = rawConfig.HTMLOutput
	c.LogLevel = rawConfig.LogLevel

	if rawConfig.Transport == nil {
		return nil
	}

	kind, ok := rawConfig.Transport["kind"].(string)
	if !ok {
		return fmt.Errorf("transport kind is required")
	}

	transportRawYAML, err := yaml.Marshal(rawConfig.Transport)
	if err != nil {
		return err
	}

	tr, err := newTransportConfig(kind)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(transportRawYAML, tr); err != nil {
		return err
	}

	c.Transport = tr
	return nil
}

func newTransportConfig(kind string) (transportConfig, error) {
	switch kind {
	case "http":
		return &httpConfig{BaseTransportConfig: BaseTransportConfig{Kind: kind}}, nil
	case "sse":
		return &sseConfig{BaseTransportConfig: BaseTransportConfig{Kind: kind}}, nil
	case "websocket":
		return &websocketConfig{BaseTransportConfig: BaseTransportConfig{Kind: kind}}, nil
	default:
		return nil, fmt.Errorf("unknown transport kind: %s", kind)
	}
}

// loadConfig reads the config file at path. A missing file yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	if cfg.Transport == nil {
		cfg.Transport = defaultConfig().Transport
	}
	return cfg, nil
}

// override replaces the transport kind and URL with the given values when they are set.
func (c *config) override(kind, url string) error {
	if kind != "" && kind != c.Transport.kind() {
		tr, err := newTransportConfig(kind)
		if err != nil {
			return err
		}
		if url == "" {
			url = c.Transport.url()
		}
		c.Transport = tr
	}
	if url != "" {
		c.Transport.setURL(url)
	}
	return nil
}

func (b BaseTransportConfig) kind() string {
	return b.Kind
}

func (b BaseTransportConfig) url() string {
	if b.URL == "" {
		return defaultBackendURL
	}
	return b.URL
}

func (b *BaseTransportConfig) setURL(url string) {
	b.URL = url
}

func (h httpConfig) transport(logger *slog.Logger) (handlers.Transport, error) {
	return services.NewHTTPTransport(h.url(), h.Timeout, logger), nil
}

func (s sseConfig) transport(logger *slog.Logger) (handlers.Transport, error) {
	return services.NewSSETransport(s.url(), logger), nil
}

func (w websocketConfig) transport(logger *slog.Logger) (handlers.Transport, error) {
	return services.NewWebSocketTransport(w.url(), logger)
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
