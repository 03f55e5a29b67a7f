package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Recognition, cfg.Recognition)
	assert.False(t, cfg.ClassifierEnabled())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
recognition:
  confidenceThreshold: 0.8
  minimumShapeSize: 25
  enableGeometryValidation: false
  cacheExpirationSeconds: 60
  enablePolygonRecognition: false
engine:
  queueSize: 16
render:
  width: 300
  height: 200
  background: "#102030"
classifier:
  url: http://localhost:9000/batch
redis:
  addr: localhost:6379
  db: 2
`)
	t.Setenv(EnvApplicationKey, "app")
	t.Setenv(EnvHmac, "secret")
	t.Setenv(EnvRedisAddr, "redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	rec := cfg.RecognitionOptions()
	assert.Equal(t, 0.8, rec.ConfidenceThreshold)
	assert.Equal(t, 25.0, rec.MinimumShapeSize)
	assert.False(t, rec.EnableGeometryValidation)
	assert.False(t, rec.EnablePolygonRecognition)
	assert.Equal(t, time.Minute, rec.CacheExpiration)
	assert.Equal(t, Default().Recognition.CacheCapacity, rec.CacheCapacity, "unset keys keep defaults")

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, 16, opts.QueueSize)
	assert.Equal(t, 300, opts.Width)
	assert.Equal(t, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}, opts.Background)

	cc := cfg.ClassifierConfig()
	assert.Equal(t, "app", cc.ApplicationKey)
	assert.Equal(t, "secret", cc.HmacKey)
	assert.Equal(t, int32(300), cc.Width)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)

	options, closeFn, err := cfg.EngineOptionList()
	require.NoError(t, err)
	assert.Len(t, options, 2)
	assert.NoError(t, closeFn())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"threshold":  "recognition:\n  confidenceThreshold: 1.5\n",
		"expiration": "recognition:\n  cacheExpirationSeconds: 0\n",
		"size":       "render:\n  width: -1\n",
		"background": "render:\n  background: purple\n",
		"queue":      "engine:\n  queueSize: 0\n",
		"syntax":     "recognition: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestClassifierRequiresKeys(t *testing.T) {
	cfg := Default()
	cfg.Classifier.URL = "http://localhost"
	_, _, err := cfg.EngineOptionList()
	assert.Error(t, err)
}

func TestConfigPath(t *testing.T) {
	t.Setenv(EnvConfig, "/etc/inkcore.yaml")
	p, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/etc/inkcore.yaml", p)
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#fff")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, c)

	c, err = ParseColor("00000080")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{A: 0x80}, c)

	_, err = ParseColor("#12")
	assert.Error(t, err)
	_, err = ParseColor("#zzzzzz")
	assert.Error(t, err)
}
