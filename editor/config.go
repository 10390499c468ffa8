package editor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/rhi"
)

// ErrConfig is returned for malformed editor configuration.
var ErrConfig = errors.New("editor: invalid config")

// Environment variables overriding the config file.
const (
	EnvBackend        = "RHI_BACKEND"
	EnvFramesInFlight = "RHI_FRAMES_IN_FLIGHT"
	EnvFPSLimit       = "RHI_FPS_LIMIT"
	EnvResources      = "RHI_RESOURCES"
	EnvValidation     = "RHI_VALIDATION"
)

// Config is the editor configuration.
type Config struct {
	Title  string `yaml:"title"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`

	// Backend is an API name accepted by rhi.ParseAPI; empty selects the
	// first backend that opens.
	Backend        string `yaml:"backend"`
	Adapter        string `yaml:"adapter"`
	FramesInFlight int    `yaml:"frames_in_flight"`
	VSync          bool   `yaml:"vsync"`
	Validation     bool   `yaml:"validation"`
	StrictHazards  bool   `yaml:"strict_hazards"`

	// FPSLimit caps the frame rate; 0 is unlimited.
	FPSLimit int `yaml:"fps_limit"`

	// Resources is the directory holding shader bundles.
	Resources string `yaml:"resources"`
	HotReload bool   `yaml:"hot_reload"`

	ClearColor [4]float64 `yaml:"clear_color"`

	Capture CaptureConfig `yaml:"capture"`
}

// CaptureConfig controls frame captures.
type CaptureConfig struct {
	Dir string `yaml:"dir"`
	// Scale resizes captures; 0 keeps the frame size.
	Scale float64 `yaml:"scale"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Title:          "rhi editor",
		Width:          1280,
		Height:         720,
		FramesInFlight: 2,
		VSync:          true,
		FPSLimit:       60,
		Resources:      "resources",
		HotReload:      true,
		ClearColor:     [4]float64{0.1, 0.1, 0.12, 1},
		Capture:        CaptureConfig{Dir: "captures", Scale: 1},
	}
}

// LoadConfig reads the YAML file at path over the defaults and applies
// environment overrides. Variables from envFile fill in what the process
// environment does not set. Empty paths are skipped; a missing envFile is
// not an error.
func LoadConfig(path, envFile string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("%w: %s: %w", ErrConfig, path, err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case !errors.Is(err, fs.ErrNotExist):
			return cfg, fmt.Errorf("%w: %s: %w", ErrConfig, envFile, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from the variables lookup reports.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBackend); ok {
		c.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvResources); ok {
		c.Resources = v
	}
	for _, iv := range []struct {
		key string
		dst *int
	}{
		{EnvFramesInFlight, &c.FramesInFlight},
		{EnvFPSLimit, &c.FPSLimit},
	} {
		v, ok := lookup(iv.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrConfig, iv.key, v, err)
		}
		*iv.dst = n
	}
	if v, ok := lookup(EnvValidation); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrConfig, EnvValidation, v, err)
		}
		c.Validation = b
	}
	return nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if _, err := rhi.ParseAPI(c.Backend); err != nil {
		return fmt.Errorf("%w: backend: %w", ErrConfig, err)
	}
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: window size %dx%d", ErrConfig, c.Width, c.Height)
	case c.FramesInFlight < 0 || c.FramesInFlight > 8:
		return fmt.Errorf("%w: frames_in_flight %d, want 0..8", ErrConfig, c.FramesInFlight)
	case c.FPSLimit < 0:
		return fmt.Errorf("%w: fps_limit %d", ErrConfig, c.FPSLimit)
	case c.Capture.Scale < 0:
		return fmt.Errorf("%w: capture scale %g", ErrConfig, c.Capture.Scale)
	}
	return nil
}

// DeviceOptions converts the device fields into rhi options.
func (c Config) DeviceOptions() []rhi.Option {
	api, _ := rhi.ParseAPI(c.Backend)
	opts := []rhi.Option{
		rhi.WithAPI(api),
		rhi.WithValidation(c.Validation),
		rhi.WithStrictHazards(c.StrictHazards),
		rhi.WithLabel(c.Title),
	}
	if c.Adapter != "" {
		opts = append(opts, rhi.WithAdapter(c.Adapter))
	}
	return opts
}
