package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/srg/flexlink/internal/calibrate"
	"github.com/srg/flexlink/internal/decode"
	"github.com/srg/flexlink/internal/session"
)

// Output formats and transports understood by the CLI
const (
	FormatText = "text"
	FormatJSON = "json"

	TransportNative = "native"
	TransportWeb    = "web"
)

// ChannelConfig names the decoder for one characteristic
type ChannelConfig struct {
	UUID    string  `yaml:"uuid"`
	Decoder string  `yaml:"decoder"`
	Count   int     `yaml:"count,omitempty"`
	Divisor float64 `yaml:"divisor,omitempty"`
}

// Channels maps channel name to its characteristic, in notification order.
// Decoding rejects a channel name given twice.
type Channels struct {
	*orderedmap.OrderedMap[string, ChannelConfig]
}

func NewChannels() Channels {
	return Channels{orderedmap.New[string, ChannelConfig]()}
}

func (c *Channels) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: channels must be a mapping", node.Line)
	}
	table := orderedmap.New[string, ChannelConfig]()
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if _, dup := table.Get(name); dup {
			return fmt.Errorf("line %d: duplicate channel %q", node.Content[i].Line, name)
		}
		var ch ChannelConfig
		if err := node.Content[i+1].Decode(&ch); err != nil {
			return fmt.Errorf("channel %q: %w", name, err)
		}
		table.Set(name, ch)
	}
	c.OrderedMap = table
	return nil
}

func (c Channels) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	if c.OrderedMap == nil {
		return node, nil
	}
	for pair := c.Oldest(); pair != nil; pair = pair.Next() {
		var value yaml.Node
		if err := value.Encode(pair.Value); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: pair.Key}, &value)
	}
	return node, nil
}

// Names lists channel names in order
func (c Channels) Names() []string {
	if c.OrderedMap == nil {
		return nil
	}
	names := make([]string, 0, c.Len())
	for pair := c.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"warn"`
	Service        string        `yaml:"service" default:"4fafc201-1fb5-459e-8fcc-c5c9c331914b"`
	NamePrefix     string        `yaml:"name_prefix" default:"ESP32"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	OutputFormat   string        `yaml:"output_format" default:"text"`
	Transport      string        `yaml:"transport" default:"native"`
	Listen         string        `yaml:"listen" default:"127.0.0.1:8765"`

	Channels    Channels              `yaml:"channels"`
	Calibration calibrate.Calibration `yaml:"calibration"`
}

// DefaultConfig returns default configuration values for the stock glove
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	defaults.SetDefaults(c)
	if c.Channels.OrderedMap == nil || c.Channels.Len() == 0 {
		c.Channels = NewChannels()
		for _, ch := range decode.GloveDefaults() {
			c.Channels.Set(ch.Name, ChannelConfig{
				UUID:    ch.UUID,
				Decoder: ch.Decoder,
				Count:   ch.Params.Count,
				Divisor: ch.Params.Divisor,
			})
		}
	}
	if len(c.Calibration.Min) == 0 && len(c.Calibration.Max) == 0 {
		c.Calibration = calibrate.Default()
	}
}

// Load reads a YAML config file. An empty path yields DefaultConfig.
// A channels section in the file replaces the default table.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML config
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.OutputFormat {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("output_format must be %q or %q, got %q", FormatText, FormatJSON, c.OutputFormat)
	}
	switch c.Transport {
	case TransportNative, TransportWeb:
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", TransportNative, TransportWeb, c.Transport)
	}
	if err := c.Calibration.Validate(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	if _, err := c.ToSpecs(); err != nil {
		return err
	}
	return nil
}

// ToSpecs builds the session decode table from the channel section
func (c *Config) ToSpecs() ([]session.CharacteristicSpec, error) {
	specs := make([]session.CharacteristicSpec, 0, c.Channels.Len())
	for pair := c.Channels.Oldest(); pair != nil; pair = pair.Next() {
		ch := pair.Value
		fn, err := decode.Lookup(ch.Decoder, decode.Params{Count: ch.Count, Divisor: ch.Divisor})
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", pair.Key, err)
		}
		specs = append(specs, session.CharacteristicSpec{
			UUID:    ch.UUID,
			Channel: pair.Key,
			Decode:  session.DecodeFunc(fn),
		})
	}
	return specs, nil
}

// YAML renders the effective configuration
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
