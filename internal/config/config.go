// Package config loads flowrender settings with viper. Every key has a
// default, so an empty config file yields a working headless setup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/avaviz/flowrender/internal/colormap"
	"github.com/avaviz/flowrender/pkg/core"
)

// FileName is the config file looked up in a config directory.
const FileName = "flowrender.cfg.json"

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// PostgresConfig holds Postgres storage backend settings
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslMode" mapstructure:"sslMode"`
}

// DSN returns the connection string for the gorm postgres driver.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// InfluxConfig holds InfluxDB storage backend settings
type InfluxConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// URL returns the server URL.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// StorageConfig selects and configures the load-report backend
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	Memory   MemoryConfig   `json:"memory" mapstructure:"memory"`
	SQLite   SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `json:"postgres" mapstructure:"postgres"`
	Influx   InfluxConfig   `json:"influx" mapstructure:"influx"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// GraylogConfig holds the GELF sink settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// ElevationConfig selects the ground elevation service
type ElevationConfig struct {
	Type      string  `json:"type" mapstructure:"type"` // flat, http or dem
	URL       string  `json:"url" mapstructure:"url"`
	APIKey    string  `json:"apiKey" mapstructure:"apiKey"`
	DEMPath   string  `json:"demPath" mapstructure:"demPath"`
	Height    float64 `json:"height" mapstructure:"height"`
	BatchSize int     `json:"batchSize" mapstructure:"batchSize"`
}

// RenderConfig selects the render surface
type RenderConfig struct {
	Type   string `json:"type" mapstructure:"type"` // memory or stream
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")
	v.SetDefault("logsDir", "./flowlogs")
	v.SetDefault("basePath", "./simulations")
	v.SetDefault("configUrl", "")

	v.SetDefault("gridResolution", 100)
	v.SetDefault("exaggeration", 1.0)
	v.SetDefault("zOffset", 0.5)
	v.SetDefault("smoothing", 1)
	v.SetDefault("flattenPasses", 0)
	v.SetDefault("playbackSpeedMs", 200)

	v.SetDefault("elevation.type", "flat")
	v.SetDefault("elevation.url", "http://localhost:8080")
	v.SetDefault("elevation.apiKey", "")
	v.SetDefault("elevation.demPath", "")
	v.SetDefault("elevation.height", 0.0)
	v.SetDefault("elevation.batchSize", 1000)

	v.SetDefault("render.type", "memory")
	v.SetDefault("render.url", "ws://localhost:5000/viewer")
	v.SetDefault("render.secret", "")

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.memory.outputDir", "./reports")
	v.SetDefault("storage.memory.compressOutput", true)
	v.SetDefault("storage.sqlite.path", "./flowrender.db")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.username", "postgres")
	v.SetDefault("storage.postgres.password", "postgres")
	v.SetDefault("storage.postgres.database", "flowrender")
	v.SetDefault("storage.postgres.sslMode", "disable")
	v.SetDefault("storage.influx.host", "localhost")
	v.SetDefault("storage.influx.port", "8086")
	v.SetDefault("storage.influx.protocol", "http")
	v.SetDefault("storage.influx.token", "supersecrettoken")
	v.SetDefault("storage.influx.org", "flowrender")
	v.SetDefault("storage.influx.bucket", "flowrender")

	v.SetDefault("graylog.enabled", false)
	v.SetDefault("graylog.address", "localhost:12201")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.serviceName", "flowrender")
	v.SetDefault("otel.batchTimeout", "5s")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", true)
}

// Load reads the configuration into the global viper instance and sets
// default values. path is either a config file or a directory containing
// FileName.
func Load(path string) error {
	SetDefaults(viper.GetViper())

	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName(FileName)
		viper.AddConfigPath(path)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDefaults returns the global rendering and playback settings.
func GetDefaults() (core.Defaults, error) {
	return defaultsFrom(viper.GetViper())
}

func defaultsFrom(v *viper.Viper) (core.Defaults, error) {
	d := core.Defaults{
		GridResolution:  v.GetInt("gridResolution"),
		Exaggeration:    v.GetFloat64("exaggeration"),
		ZOffset:         v.GetFloat64("zOffset"),
		Smoothing:       v.GetInt("smoothing"),
		FlattenPasses:   v.GetInt("flattenPasses"),
		PlaybackSpeedMs: v.GetInt("playbackSpeedMs"),
	}
	d.PlaybackSpeed = time.Duration(d.PlaybackSpeedMs) * time.Millisecond

	if v.IsSet("colorStops") {
		if err := v.UnmarshalKey("colorStops", &d.ColorStops); err != nil {
			return d, fmt.Errorf("decoding colorStops: %w", err)
		}
	}
	if len(d.ColorStops) == 0 {
		d.ColorStops = colormap.Default()
	}
	if err := colormap.Validate(d.ColorStops); err != nil {
		return d, err
	}
	return d, nil
}

// GetStorageConfig returns the storage backend settings.
func GetStorageConfig() StorageConfig {
	var c StorageConfig
	_ = viper.UnmarshalKey("storage", &c)
	return c
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetElevationConfig returns the elevation service settings.
func GetElevationConfig() ElevationConfig {
	var c ElevationConfig
	_ = viper.UnmarshalKey("elevation", &c)
	return c
}

// GetRenderConfig returns the render surface settings.
func GetRenderConfig() RenderConfig {
	var c RenderConfig
	_ = viper.UnmarshalKey("render", &c)
	return c
}
