package chatwatch

import (
	"github.com/hazyhaar/chatwatch/chatwatch/internal/config"
)

// Config is the top-level chatwatch configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines the page to observe.
type PageConfig = config.PageConfig

// EngineConfig tunes classification, tracking and the loop.
type EngineConfig = config.EngineConfig

// ProbeConfig names the page-global object read after every pass.
type ProbeConfig = config.ProbeConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes a YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
