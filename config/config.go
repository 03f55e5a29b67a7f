// Package config loads inkcore settings from a YAML file with environment
// overrides for secrets.
package config

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/juruen/inkcore/classifier"
	"github.com/juruen/inkcore/engine"
	"github.com/juruen/inkcore/log"
	"github.com/juruen/inkcore/recognition"
)

const (
	defaultConfigFile = "config.yaml"
	appName           = "inkcore"

	EnvConfig         = "INKCORE_CONFIG"
	EnvApplicationKey = "INKCORE_CLASSIFIER_APPLICATIONKEY"
	EnvHmac           = "INKCORE_CLASSIFIER_HMAC"
	EnvRedisAddr      = "INKCORE_REDIS_ADDR"
)

type Recognition struct {
	Enabled                  bool    `yaml:"enabled"`
	ConfidenceThreshold      float64 `yaml:"confidenceThreshold"`
	MinimumShapeSize         float64 `yaml:"minimumShapeSize"`
	EnableGeometryValidation bool    `yaml:"enableGeometryValidation"`
	CacheExpirationSeconds   int     `yaml:"cacheExpirationSeconds"`
	EnablePolygonRecognition bool    `yaml:"enablePolygonRecognition"`
	CacheCapacity            int     `yaml:"cacheCapacity"`
	QueueSize                int     `yaml:"queueSize"`
	FastFingerprint          bool    `yaml:"fastFingerprint"`
}

type Engine struct {
	QueueSize              int `yaml:"queueSize"`
	ShutdownTimeoutSeconds int `yaml:"shutdownTimeoutSeconds"`
}

type Render struct {
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Background string `yaml:"background"`
	CacheSize  int    `yaml:"cacheSize"`
}

type Classifier struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	MaxInFlight    int64  `yaml:"maxInFlight"`
	// keys are only read from the environment
	ApplicationKey string `yaml:"-"`
	HmacKey        string `yaml:"-"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Config struct {
	Recognition Recognition `yaml:"recognition"`
	Engine      Engine      `yaml:"engine"`
	Render      Render      `yaml:"render"`
	Classifier  Classifier  `yaml:"classifier"`
	Redis       Redis       `yaml:"redis"`
}

// Default mirrors engine.DefaultOptions.
func Default() *Config {
	opts := engine.DefaultOptions()
	rec := opts.Recognition
	return &Config{
		Recognition: Recognition{
			Enabled:                  opts.RecognitionEnabled,
			ConfidenceThreshold:      rec.ConfidenceThreshold,
			MinimumShapeSize:         rec.MinimumShapeSize,
			EnableGeometryValidation: rec.EnableGeometryValidation,
			CacheExpirationSeconds:   int(rec.CacheExpiration / time.Second),
			EnablePolygonRecognition: rec.EnablePolygonRecognition,
			CacheCapacity:            rec.CacheCapacity,
			QueueSize:                rec.QueueSize,
			FastFingerprint:          rec.FastFingerprint,
		},
		Engine: Engine{
			QueueSize:              opts.QueueSize,
			ShutdownTimeoutSeconds: int(opts.ShutdownTimeout / time.Second),
		},
		Render: Render{
			Width:      opts.Width,
			Height:     opts.Height,
			Background: "#ffffff",
			CacheSize:  opts.ResourceCacheCapacity,
		},
		Classifier: Classifier{
			TimeoutSeconds: 10,
			MaxInFlight:    4,
		},
		Redis: Redis{
			Prefix: "inkcore:shape:",
		},
	}
}

// ConfigPath returns INKCORE_CONFIG or the per-user default location.
func ConfigPath() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "can't determine config dir")
	}
	return filepath.Join(dir, appName, defaultConfigFile), nil
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Trace.Printf("config: %s not found, using defaults", path)
	case err != nil:
		return nil, errors.Wrap(err, "failed to read config")
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", path)
		}
		log.Trace.Printf("config: loaded %s", path)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvApplicationKey); v != "" {
		c.Classifier.ApplicationKey = v
	}
	if v := os.Getenv(EnvHmac); v != "" {
		c.Classifier.HmacKey = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
}

func (c *Config) Validate() error {
	if c.Recognition.CacheExpirationSeconds <= 0 {
		return errors.Errorf("recognition.cacheExpirationSeconds must be positive, got %d", c.Recognition.CacheExpirationSeconds)
	}
	if c.Engine.ShutdownTimeoutSeconds <= 0 {
		return errors.Errorf("engine.shutdownTimeoutSeconds must be positive, got %d", c.Engine.ShutdownTimeoutSeconds)
	}
	if _, err := ParseColor(c.Render.Background); err != nil {
		return errors.Wrap(err, "render.background")
	}
	if c.Classifier.TimeoutSeconds < 0 || c.Classifier.MaxInFlight < 0 {
		return errors.New("classifier.timeoutSeconds and classifier.maxInFlight can't be negative")
	}
	if c.Redis.DB < 0 {
		return errors.Errorf("redis.db can't be negative, got %d", c.Redis.DB)
	}
	opts, err := c.EngineOptions()
	if err != nil {
		return err
	}
	return opts.Validate()
}

// RecognitionOptions converts the recognition section.
func (c *Config) RecognitionOptions() recognition.Options {
	r := c.Recognition
	return recognition.Options{
		ConfidenceThreshold:      r.ConfidenceThreshold,
		MinimumShapeSize:         r.MinimumShapeSize,
		EnableGeometryValidation: r.EnableGeometryValidation,
		CacheExpiration:          time.Duration(r.CacheExpirationSeconds) * time.Second,
		EnablePolygonRecognition: r.EnablePolygonRecognition,
		CacheCapacity:            r.CacheCapacity,
		QueueSize:                r.QueueSize,
		FastFingerprint:          r.FastFingerprint,
	}
}

func (c *Config) EngineOptions() (engine.Options, error) {
	bg, err := ParseColor(c.Render.Background)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		QueueSize:             c.Engine.QueueSize,
		ShutdownTimeout:       time.Duration(c.Engine.ShutdownTimeoutSeconds) * time.Second,
		Width:                 c.Render.Width,
		Height:                c.Render.Height,
		Background:            bg,
		ResourceCacheCapacity: c.Render.CacheSize,
		RecognitionEnabled:    c.Recognition.Enabled,
		Recognition:           c.RecognitionOptions(),
	}, nil
}

// ClassifierEnabled reports whether a remote classifier is configured.
func (c *Config) ClassifierEnabled() bool {
	return c.Classifier.URL != ""
}

func (c *Config) ClassifierConfig() classifier.Config {
	return classifier.Config{
		URL:            c.Classifier.URL,
		ApplicationKey: c.Classifier.ApplicationKey,
		HmacKey:        c.Classifier.HmacKey,
		Timeout:        time.Duration(c.Classifier.TimeoutSeconds) * time.Second,
		MaxInFlight:    c.Classifier.MaxInFlight,
		Width:          int32(c.Render.Width),
		Height:         int32(c.Render.Height),
	}
}

// EngineOptionList builds the collaborators named by the config: the
// remote classifier and the Redis store. The returned close function
// releases the store.
func (c *Config) EngineOptionList() ([]engine.Option, func() error, error) {
	var opts []engine.Option
	closeFn := func() error { return nil }

	if c.ClassifierEnabled() {
		client, err := classifier.NewClient(c.ClassifierConfig())
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, engine.WithClassifier(client))
	}
	if c.Redis.Addr != "" {
		store := recognition.NewRedisStore(c.Redis.Addr, c.Redis.Password, c.Redis.DB, recognition.WithPrefix(c.Redis.Prefix))
		opts = append(opts, engine.WithStore(store))
		closeFn = store.Close
	}
	return opts, closeFn, nil
}

// ParseColor accepts #rgb, #rrggbb and #rrggbbaa.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	c := color.RGBA{A: 0xff}
	var err error
	switch len(s) {
	case 3:
		_, err = fmt.Sscanf(s, "%1x%1x%1x", &c.R, &c.G, &c.B)
		c.R, c.G, c.B = c.R*17, c.G*17, c.B*17
	case 6:
		_, err = fmt.Sscanf(s, "%2x%2x%2x", &c.R, &c.G, &c.B)
	case 8:
		_, err = fmt.Sscanf(s, "%2x%2x%2x%2x", &c.R, &c.G, &c.B, &c.A)
	default:
		err = errors.Errorf("invalid color %q", s)
	}
	if err != nil {
		return color.RGBA{}, errors.Wrapf(err, "invalid color %q", s)
	}
	return c, nil
}
