// Package config holds the run configuration. Every leaf is a pointer so an
// unset value can be told apart from a zero one; the Get* methods apply the
// defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/cs-ranging/internal/fsutil"
	"github.com/banshee-data/cs-ranging/internal/ranging"
	"github.com/banshee-data/cs-ranging/internal/serialmux"
	"github.com/banshee-data/cs-ranging/internal/units"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned by Load for an unknown file extension.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// maxFileSize caps config files at 1 MiB.
const maxFileSize = 1 << 20

// Defaults applied by the getters.
const (
	DefaultQueueCapacity = 100
	DefaultMaxPending    = 0
	DefaultDistanceUnit  = units.M
	DefaultListen        = "localhost:8090"
	DefaultRawLogDir     = "log"
	DefaultMQTTTopic     = "cs-ranging/results"
	DefaultMQTTClientID  = "cs-ranging"
	DefaultMQTTQoS       = 0
	maxSpectrumPoints    = 1 << 16
	maxPowerIterations   = 10000
	maxQueueCapacity     = 1 << 20
)

// Config is the root configuration.
type Config struct {
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Ranging  RangingConfig  `json:"ranging" yaml:"ranging"`
	Serial   SerialConfig   `json:"serial" yaml:"serial"`
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	MQTT     MQTTConfig     `json:"mqtt" yaml:"mqtt"`
	Plot     PlotConfig     `json:"plot" yaml:"plot"`
}

// PipelineConfig sizes the correlation pipeline.
type PipelineConfig struct {
	QueueCapacity *int `json:"queue_capacity,omitempty" yaml:"queue_capacity,omitempty"`
	MaxPending    *int `json:"max_pending,omitempty" yaml:"max_pending,omitempty"`
}

// RangingConfig tunes the ranging engine and how distances are reported.
type RangingConfig struct {
	ChannelSpacingHz *float64 `json:"channel_spacing_hz,omitempty" yaml:"channel_spacing_hz,omitempty"`
	SpectrumPoints   *int     `json:"spectrum_points,omitempty" yaml:"spectrum_points,omitempty"`
	PowerIterations  *int     `json:"power_iterations,omitempty" yaml:"power_iterations,omitempty"`
	DistanceUnit     *string  `json:"distance_unit,omitempty" yaml:"distance_unit,omitempty"`
}

// SerialConfig applies to both UARTs.
type SerialConfig struct {
	BaudRate  *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits  *int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits  *int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity    *string `json:"parity,omitempty" yaml:"parity,omitempty"`
	RawLogDir *string `json:"raw_log_dir,omitempty" yaml:"raw_log_dir,omitempty"`
}

// HTTPConfig controls the viewer. An empty listen address disables it.
type HTTPConfig struct {
	Listen *string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// StorageConfig controls SQLite persistence. An empty path disables it.
type StorageConfig struct {
	DBPath *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// MQTTConfig controls result publishing. An empty broker disables it.
type MQTTConfig struct {
	Broker   *string `json:"broker,omitempty" yaml:"broker,omitempty"`
	Topic    *string `json:"topic,omitempty" yaml:"topic,omitempty"`
	ClientID *string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Username *string `json:"username,omitempty" yaml:"username,omitempty"`
	Password *string `json:"password,omitempty" yaml:"password,omitempty"`
	QoS      *int    `json:"qos,omitempty" yaml:"qos,omitempty"`
}

// PlotConfig controls PNG export. An empty directory disables it.
type PlotConfig struct {
	Dir *string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			QueueCapacity: ptrInt(DefaultQueueCapacity),
			MaxPending:    ptrInt(DefaultMaxPending),
		},
		Ranging: RangingConfig{
			ChannelSpacingHz: ptrFloat64(ranging.DefaultChannelSpacingHz),
			SpectrumPoints:   ptrInt(ranging.DefaultSpectrumPoints),
			PowerIterations:  ptrInt(ranging.DefaultPowerIterations),
			DistanceUnit:     ptrString(DefaultDistanceUnit),
		},
		Serial: SerialConfig{
			BaudRate:  ptrInt(serialmux.DefaultBaudRate),
			DataBits:  ptrInt(8),
			StopBits:  ptrInt(1),
			Parity:    ptrString("N"),
			RawLogDir: ptrString(DefaultRawLogDir),
		},
		HTTP:    HTTPConfig{Listen: ptrString(DefaultListen)},
		Storage: StorageConfig{DBPath: ptrString("")},
		MQTT: MQTTConfig{
			Broker:   ptrString(""),
			Topic:    ptrString(DefaultMQTTTopic),
			ClientID: ptrString(DefaultMQTTClientID),
			Username: ptrString(""),
			Password: ptrString(""),
			QoS:      ptrInt(DefaultMQTTQoS),
		},
		Plot: PlotConfig{Dir: ptrString("")},
	}
}

// Load reads a .json, .yaml or .yml file from the local filesystem.
func Load(path string) (*Config, error) {
	return LoadFS(fsutil.OSFileSystem{}, path)
}

// LoadFS reads a config file from fsys. Fields the file omits keep their
// defaults through the getters, so partial files are fine.
func LoadFS(fsys fsutil.FileSystem, path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	var errs []error
	if v := c.Pipeline.QueueCapacity; v != nil && (*v <= 0 || *v > maxQueueCapacity) {
		errs = append(errs, fmt.Errorf("pipeline.queue_capacity must be between 1 and %d, got %d", maxQueueCapacity, *v))
	}
	if v := c.Pipeline.MaxPending; v != nil && *v < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_pending must be non-negative, got %d", *v))
	}
	if v := c.Ranging.ChannelSpacingHz; v != nil && *v <= 0 {
		errs = append(errs, fmt.Errorf("ranging.channel_spacing_hz must be positive, got %g", *v))
	}
	if v := c.Ranging.SpectrumPoints; v != nil && (*v <= 0 || *v > maxSpectrumPoints) {
		errs = append(errs, fmt.Errorf("ranging.spectrum_points must be between 1 and %d, got %d", maxSpectrumPoints, *v))
	}
	if v := c.Ranging.PowerIterations; v != nil && (*v <= 0 || *v > maxPowerIterations) {
		errs = append(errs, fmt.Errorf("ranging.power_iterations must be between 1 and %d, got %d", maxPowerIterations, *v))
	}
	if v := c.Ranging.DistanceUnit; v != nil && !units.IsValid(*v) {
		errs = append(errs, fmt.Errorf("ranging.distance_unit %q is not one of %s", *v, units.GetValidUnitsString()))
	}
	if _, err := c.PortOptions().Normalise(); err != nil {
		errs = append(errs, fmt.Errorf("serial: %w", err))
	}
	if v := c.MQTT.QoS; v != nil && (*v < 0 || *v > 2) {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", *v))
	}
	return errors.Join(errs...)
}

// GetQueueCapacity returns the per-side queue capacity.
func (c *Config) GetQueueCapacity() int {
	if c.Pipeline.QueueCapacity == nil {
		return DefaultQueueCapacity
	}
	return *c.Pipeline.QueueCapacity
}

// GetMaxPending returns the per-side pairing buffer limit; 0 is unbounded.
func (c *Config) GetMaxPending() int {
	if c.Pipeline.MaxPending == nil {
		return DefaultMaxPending
	}
	return *c.Pipeline.MaxPending
}

// GetChannelSpacingHz returns the CS channel spacing.
func (c *Config) GetChannelSpacingHz() float64 {
	if c.Ranging.ChannelSpacingHz == nil {
		return ranging.DefaultChannelSpacingHz
	}
	return *c.Ranging.ChannelSpacingHz
}

// GetSpectrumPoints returns the MUSIC spectrum resolution.
func (c *Config) GetSpectrumPoints() int {
	if c.Ranging.SpectrumPoints == nil {
		return ranging.DefaultSpectrumPoints
	}
	return *c.Ranging.SpectrumPoints
}

// GetPowerIterations returns the power iteration count.
func (c *Config) GetPowerIterations() int {
	if c.Ranging.PowerIterations == nil {
		return ranging.DefaultPowerIterations
	}
	return *c.Ranging.PowerIterations
}

// GetDistanceUnit returns the unit distances are reported in.
func (c *Config) GetDistanceUnit() string {
	if c.Ranging.DistanceUnit == nil {
		return DefaultDistanceUnit
	}
	return *c.Ranging.DistanceUnit
}

// GetRawLogDir returns the directory for raw UART captures.
func (c *Config) GetRawLogDir() string {
	if c.Serial.RawLogDir == nil || *c.Serial.RawLogDir == "" {
		return DefaultRawLogDir
	}
	return *c.Serial.RawLogDir
}

// GetListen returns the viewer address; empty disables the viewer.
func (c *Config) GetListen() string {
	if c.HTTP.Listen == nil {
		return DefaultListen
	}
	return *c.HTTP.Listen
}

// GetDBPath returns the SQLite path; empty disables storage.
func (c *Config) GetDBPath() string {
	return deref(c.Storage.DBPath, "")
}

// GetPlotDir returns the PNG export directory; empty disables export.
func (c *Config) GetPlotDir() string {
	return deref(c.Plot.Dir, "")
}

// GetMQTTBroker returns the broker URL; empty disables publishing.
func (c *Config) GetMQTTBroker() string {
	return deref(c.MQTT.Broker, "")
}

// GetMQTTTopic returns the topic prefix results are published under.
func (c *Config) GetMQTTTopic() string {
	return deref(c.MQTT.Topic, DefaultMQTTTopic)
}

// GetMQTTClientID returns the MQTT client identifier.
func (c *Config) GetMQTTClientID() string {
	return deref(c.MQTT.ClientID, DefaultMQTTClientID)
}

// GetMQTTUsername returns the broker user name, empty for anonymous.
func (c *Config) GetMQTTUsername() string { return deref(c.MQTT.Username, "") }

// GetMQTTPassword returns the broker password.
func (c *Config) GetMQTTPassword() string { return deref(c.MQTT.Password, "") }

// GetMQTTQoS returns the publish QoS level.
func (c *Config) GetMQTTQoS() byte {
	if c.MQTT.QoS == nil {
		return DefaultMQTTQoS
	}
	return byte(*c.MQTT.QoS)
}

func deref(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// RangingOptions converts the ranging section for the engine.
func (c *Config) RangingOptions() ranging.Config {
	return ranging.Config{
		ChannelSpacingHz: c.GetChannelSpacingHz(),
		SpectrumPoints:   c.GetSpectrumPoints(),
		PowerIterations:  c.GetPowerIterations(),
	}
}

// PortOptions converts the serial section; unset fields stay zero and take
// the serialmux defaults.
func (c *Config) PortOptions() serialmux.PortOptions {
	var o serialmux.PortOptions
	if c.Serial.BaudRate != nil {
		o.BaudRate = *c.Serial.BaudRate
	}
	if c.Serial.DataBits != nil {
		o.DataBits = *c.Serial.DataBits
	}
	if c.Serial.StopBits != nil {
		o.StopBits = *c.Serial.StopBits
	}
	if c.Serial.Parity != nil {
		o.Parity = *c.Serial.Parity
	}
	return o
}
