package common

import "github.com/spf13/viper"

// ===============================================================================
// Subscription Hub Related Config

// HubConfig defines parameters for the subscription hub
type HubConfig struct {
	// QueueDepth is the per-subscriber outbound queue depth
	QueueDepth int `mapstructure:"queue_depth" json:"queue_depth" validate:"gte=1"`
	// TaskBuffer is the depth of the hub's internal request queue
	TaskBuffer int `mapstructure:"task_buffer" json:"task_buffer" validate:"gte=1"`
}

// ===============================================================================
// Series Store Related Config

// SeriesSourceConfig defines parameters for loading the replay dataset
type SeriesSourceConfig struct {
	// File is the path of the source data file
	File string `mapstructure:"file" json:"file" validate:"required"`
	// TimeZone is an optional IANA time zone name used when parsing timestamps
	TimeZone string `mapstructure:"time_zone" json:"time_zone"`
	// TimestampFormat is an optional Go reference layout for the timestamp column
	TimestampFormat string `mapstructure:"timestamp_format" json:"timestamp_format"`
	// TimestampColumn is the zero-based index of the timestamp column
	TimestampColumn int `mapstructure:"timestamp_column" json:"timestamp_column" validate:"gte=0"`
	// EnableLooping controls whether the dataset window repeats indefinitely
	EnableLooping bool `mapstructure:"enable_looping" json:"enable_looping"`
}

// ===============================================================================
// Snapshot Poller Related Config

// PollerConfig defines parameters for the snapshot poller
type PollerConfig struct {
	// IntervalMS is the polling interval in milliseconds
	IntervalMS int `mapstructure:"interval_ms" json:"interval_ms" validate:"gte=10"`
}

// ===============================================================================
// Metrics Related Config

// MetricsConfig defines parameters for the metrics endpoint
type MetricsConfig struct {
	// ListenOn is the interface the metrics HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the metrics HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// Path is the URI path serving the metrics
	Path string `mapstructure:"path" json:"path" validate:"required"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete replay system config
type SystemConfig struct {
	// Hub are the subscription hub config parameters
	Hub HubConfig `mapstructure:"hub" json:"hub" validate:"required,dive"`
	// Source are the replay dataset config parameters
	Source SeriesSourceConfig `mapstructure:"source" json:"source" validate:"required,dive"`
	// Poller are the snapshot poller config parameters
	Poller PollerConfig `mapstructure:"poller" json:"poller" validate:"required,dive"`
	// Metrics are the metrics endpoint config parameters
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default hub settings
	viper.SetDefault("hub.queue_depth", 64)
	viper.SetDefault("hub.task_buffer", 128)

	// Default source settings
	viper.SetDefault("source.timestamp_column", 0)
	viper.SetDefault("source.enable_looping", true)

	// Default poller settings
	viper.SetDefault("poller.interval_ms", 1000)

	// Default metrics settings
	viper.SetDefault("metrics.listen_on", "0.0.0.0")
	viper.SetDefault("metrics.listen_port", 9090)
	viper.SetDefault("metrics.path", "/metrics")
}
