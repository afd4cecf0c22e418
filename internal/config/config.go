// Package config provides the configuration structure for the
// narration-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	NarrationSubject       string `toml:"narration_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// AudioConfig holds the capture device parameters.
type AudioConfig struct {
	DeviceIndex int `toml:"device_index"`
	SampleRate  int `toml:"sample_rate"`
	Channels    int `toml:"channels"`
	ChunkFrames int `toml:"chunk_frames"`
}

// NarrationConfig holds the narration pipeline parameters.
type NarrationConfig struct {
	CacheDir          string  `toml:"cache_dir"`
	GlobalSpeed       float64 `toml:"global_speed"`
	CreateSubcaptions bool    `toml:"create_subcaptions"`
	MaxSubcaptionLen  int     `toml:"max_subcaption_len"`
	SubcaptionBuff    float64 `toml:"subcaption_buff"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Audio     AudioConfig     `toml:"audio"`
	Narration NarrationConfig `toml:"narration"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the narration-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
