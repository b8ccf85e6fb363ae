// Package config handles chatwatch configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/chatwatch/chatwatch/classify"
	"github.com/hazyhaar/chatwatch/chatwatch/history"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// Config is the top-level chatwatch configuration.
type Config struct {
	Browser   BrowserConfig     `yaml:"browser"`
	Page      PageConfig        `yaml:"page"`
	Engine    EngineConfig      `yaml:"engine"`
	Selectors classify.Table    `yaml:"selectors"` // merged over the defaults
	Roles     history.RoleRules `yaml:"roles"`     // replaces the defaults when set
	Logbook   LogbookConfig     `yaml:"logbook"`
	Probe     ProbeConfig       `yaml:"probe"`
	Store     StoreConfig       `yaml:"store"`
	Control   ControlConfig     `yaml:"control"`
	Sinks     []SinkConfig      `yaml:"sinks"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`  // DevTools URL of a running Chrome; empty launches one
	Stealth          string   `yaml:"stealth"` // headless | headful
	Bin              string   `yaml:"bin"`
	ResourceBlocking []string `yaml:"resource_blocking"` // image | font | media | stylesheet
}

// PageConfig defines the page to observe.
type PageConfig struct {
	URL    string `yaml:"url"`    // navigate a new tab here
	Attach string `yaml:"attach"` // or attach to an open tab whose URL contains this
	// StealthLevel 0 disables, 1 applies go-rod/stealth.
	StealthLevel int `yaml:"stealth_level"`
}

// EngineConfig tunes classification, tracking and the loop.
type EngineConfig struct {
	KeepCount    int           `yaml:"keep_count"`
	PollInterval time.Duration `yaml:"poll_interval"`
	IdleWindow   time.Duration `yaml:"idle_window"`
	IdleMax      int           `yaml:"idle_max"`
	TextLimit    int           `yaml:"text_limit"`
	AttrLimit    int           `yaml:"attr_limit"`
	DedupKey     string        `yaml:"dedup_key"` // content | identity | capture
	Markdown     bool          `yaml:"markdown"`
	Verbose      bool          `yaml:"verbose"`
	Inspect      []string      `yaml:"inspect"` // categories to fetch computed layout for
	AutoActivate *bool         `yaml:"auto_activate"`
}

// LogbookConfig controls log retention and category toggles.
type LogbookConfig struct {
	Debounce  time.Duration   `yaml:"debounce"`
	Retention int             `yaml:"retention"`
	Toggles   map[string]bool `yaml:"toggles"` // initial values, overridden by stored prefs
}

// ProbeConfig names the page-global object read after every pass.
// Empty Global with Disabled unset uses the defaults.
type ProbeConfig struct {
	Disabled bool         `yaml:"disabled"`
	Global   string       `yaml:"global"`
	Fields   []ProbeField `yaml:"fields"`
}

// ProbeField is one dotted path read from the probed object.
type ProbeField struct {
	Label string `yaml:"label"`
	Path  string `yaml:"path"`
}

// StoreConfig locates the SQLite database for prefs and metrics.
// Empty Path disables both.
type StoreConfig struct {
	Path          string        `yaml:"path"`
	Metrics       bool          `yaml:"metrics"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	WatchPrefs    time.Duration `yaml:"watch_prefs"` // poll for toggles written elsewhere; 0 disables
}

// ControlConfig configures the operator HTTP API. Empty Addr disables it.
type ControlConfig struct {
	Addr         string `yaml:"addr"`
	User         string `yaml:"user"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type    string `yaml:"type"`   // stdout | webhook
	Format  string `yaml:"format"` // json | text, for stdout
	URL     string `yaml:"url"`    // for webhook
	Retries int    `yaml:"retries"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if _, err := history.ParseDedupKey(c.Engine.DedupKey); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Selectors.Validate(); err != nil {
		return fmt.Errorf("config: selectors: %w", err)
	}
	if err := c.Roles.Validate(); err != nil {
		return fmt.Errorf("config: roles: %w", err)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook requires url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	if c.Control.PasswordHash != "" && c.Control.User == "" {
		return fmt.Errorf("config: control: password_hash without user")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Engine.KeepCount <= 0 {
		c.Engine.KeepCount = history.DefaultKeep
	}
	if c.Engine.PollInterval <= 0 {
		c.Engine.PollInterval = 5 * time.Second
	}
	if c.Engine.IdleWindow <= 0 {
		c.Engine.IdleWindow = 100 * time.Millisecond
	}
	if c.Engine.IdleMax <= 0 {
		c.Engine.IdleMax = 1000
	}
	if c.Engine.TextLimit <= 0 {
		c.Engine.TextLimit = classify.DefaultTextLimit
	}
	if c.Engine.AttrLimit <= 0 {
		c.Engine.AttrLimit = classify.DefaultAttrLimit
	}
	if c.Engine.DedupKey == "" {
		c.Engine.DedupKey = string(history.KeyContent)
	}
	if c.Engine.AutoActivate == nil {
		on := true
		c.Engine.AutoActivate = &on
	}
	c.Selectors = classify.DefaultTable().Merge(c.Selectors)
	if len(c.Roles) == 0 {
		c.Roles = history.DefaultRoleRules()
	}
	if c.Logbook.Debounce <= 0 {
		c.Logbook.Debounce = 100 * time.Millisecond
	}
	if c.Logbook.Retention <= 0 {
		c.Logbook.Retention = 5000
	}
	if c.Probe.Global == "" {
		c.Probe.Global = "ChatTrimmer"
	}
	if len(c.Probe.Fields) == 0 {
		c.Probe.Fields = []ProbeField{
			{"Enabled", "isEnabled"},
			{"KeepCrashed", "keepCrashed"},
			{"DebugMode", "debugMode"},
			{"ActiveJugs", "activeJugs.length"},
			{"CrashedJugs", "crashedJugsCompressed.length"},
			{"Container", "chatContainer.tagName"},
			{"LastTrim", "lastCrashTime"},
		}
	}
	if c.Store.FlushInterval <= 0 {
		c.Store.FlushInterval = 5 * time.Second
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "stdout" && c.Sinks[i].Format == "" {
			c.Sinks[i].Format = "json"
		}
		if c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

// Limits returns the classifier string limits.
func (c *Config) Limits() classify.Limits {
	return classify.Limits{Text: c.Engine.TextLimit, Attr: c.Engine.AttrLimit}
}

// InspectCategories converts Engine.Inspect.
func (c *Config) InspectCategories() []classify.Category {
	out := make([]classify.Category, len(c.Engine.Inspect))
	for i, s := range c.Engine.Inspect {
		out[i] = classify.Category(s)
	}
	return out
}

// Toggles returns initial logbook toggles restricted to known categories.
func (c *Config) Toggles() map[string]bool {
	out := make(map[string]bool, len(report.LogCategories))
	for _, cat := range report.LogCategories {
		if v, ok := c.Logbook.Toggles[cat]; ok {
			out[cat] = v
		}
	}
	return out
}
