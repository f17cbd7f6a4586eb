package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/flexlink/internal/calibrate"
	"github.com/srg/flexlink/internal/decode"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, decode.GloveService, cfg.Service)
	assert.Equal(t, "ESP32", cfg.NamePrefix)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, FormatText, cfg.OutputFormat)
	assert.Equal(t, TransportNative, cfg.Transport)
	assert.Equal(t, calibrate.Default(), cfg.Calibration)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"flex", "battery", "accel"}, cfg.Channels.Names())
}

func TestToSpecs(t *testing.T) {
	specs, err := DefaultConfig().ToSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 3)

	assert.Equal(t, "flex", specs[0].Channel)
	assert.Equal(t, decode.GloveFlexUUID, specs[0].UUID)
	values, err := specs[0].Decode([]byte{10, 0, 20, 0, 30, 0, 40, 0, 50, 0})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 40, 50}, values)

	assert.Equal(t, "accel", specs[2].Channel)
	values, err = specs[2].Decode([]byte{0x00, 0x40, 0x00, 0xc0, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -1, 0}, values)
}

func TestParseReplacesChannels(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
log_level: debug
transport: web
scan_timeout: 3s
channels:
  letter:
    uuid: beb5483e-36e1-4688-b7f5-ea07361b26af
    decoder: letter
  flex:
    uuid: beb5483e-36e1-4688-b7f5-ea07361b26ac
    decoder: uint16le
    count: 5
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, TransportWeb, cfg.Transport)
	assert.Equal(t, 3*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2, cfg.Channels.Len())
	assert.Equal(t, "letter", cfg.Channels.Oldest().Key)

	specs, err := cfg.ToSpecs()
	require.NoError(t, err)
	assert.Equal(t, "letter", specs[0].Channel)
	assert.Equal(t, "flex", specs[1].Channel)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", "colour: red\n", "failed to parse config"},
		{"bad level", "log_level: loud\n", "log_level"},
		{"bad format", "output_format: xml\n", `output_format must be "text" or "json", got "xml"`},
		{"bad transport", "transport: serial\n", `transport must be "native" or "web", got "serial"`},
		{"unknown decoder", "channels:\n  x:\n    uuid: 2a19\n    decoder: float\n", `channel "x": unknown decoder "float"`},
		{"missing count", "channels:\n  x:\n    uuid: 2a19\n    decoder: uint16le\n", "uint16le requires count > 0"},
		{"duplicate channel", "channels:\n  x:\n    uuid: 2a19\n    decoder: battery\n  x:\n    uuid: 2a1a\n    decoder: battery\n", `duplicate channel "x"`},
		{"bad calibration", "calibration:\n  min: [10]\n  max: [5]\n", "calibration: finger 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Service, cfg.Service)

	path := filepath.Join(t.TempDir(), "flexlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name_prefix: GLOVE\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "GLOVE", cfg.NamePrefix)
	assert.Equal(t, 3, cfg.Channels.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to open config")
}

func TestYAMLRoundTrip(t *testing.T) {
	out, err := DefaultConfig().YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "scan_timeout: 10s")

	cfg, err := Parse(strings.NewReader(string(out)))
	require.NoError(t, err)
	assert.Equal(t, []string{"flex", "battery", "accel"}, cfg.Channels.Names())
	ch, ok := cfg.Channels.Get("accel")
	require.True(t, ok)
	assert.Equal(t, decode.AccelLSBPerG, ch.Divisor)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		logLevel logrus.Level
	}{
		{name: "creates logger with debug level", level: "debug", logLevel: logrus.DebugLevel},
		{name: "creates logger with info level", level: "info", logLevel: logrus.InfoLevel},
		{name: "creates logger with error level", level: "error", logLevel: logrus.ErrorLevel},
		{name: "falls back to warn", level: "chatty", logLevel: logrus.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.logLevel, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}
