// Package config loads callwatch settings from a YAML (or JSON) file and CALLWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	calls "callwatch/internal/calls/domain"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix             = "CALLWATCH"
	defaultFallbackBranch = "scraper"
)

type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Panel       PanelConfig       `mapstructure:"panel"`
	Poll        PollConfig        `mapstructure:"poll"`
	Reconcile   ReconcileConfig   `mapstructure:"reconcile"`
	Annotations AnnotationsConfig `mapstructure:"annotations"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	HTTP        HTTPConfig        `mapstructure:"http"`

	// Branches keeps the file order of the branches mapping.
	Branches calls.BranchTable `mapstructure:"-"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"`
	DSN            string `mapstructure:"dsn"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

type PanelConfig struct {
	URL             string          `mapstructure:"url"`
	Headless        bool            `mapstructure:"headless"`
	ExecPath        string          `mapstructure:"exec_path"`
	NavigateTimeout time.Duration   `mapstructure:"navigate_timeout"`
	Selectors       SelectorsConfig `mapstructure:"selectors"`
}

type SelectorsConfig struct {
	Card     string `mapstructure:"card"`
	Patient  string `mapstructure:"patient"`
	Provider string `mapstructure:"provider"`
	Room     string `mapstructure:"room"`
}

type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	Concurrency int           `mapstructure:"concurrency"`
}

type ReconcileConfig struct {
	RepeatPhrase   string `mapstructure:"repeat_phrase"`
	DefaultCaller  string `mapstructure:"default_caller"`
	Timezone       string `mapstructure:"timezone"`
	FallbackBranch string `mapstructure:"fallback_branch"`
}

type AnnotationsConfig struct {
	Markers  []string `mapstructure:"markers"`
	Trailing []string `mapstructure:"trailing"`
}

type NotifyConfig struct {
	TopicSuffix string        `mapstructure:"topic_suffix"`
	Log         bool          `mapstructure:"log"`
	MQTT        MQTTConfig    `mapstructure:"mqtt"`
	Kafka       KafkaConfig   `mapstructure:"kafka"`
	Webhook     WebhookConfig `mapstructure:"webhook"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	QoS      int    `mapstructure:"qos"`
	Retained bool   `mapstructure:"retained"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	// AuthSecret signs the HS256 tokens required on /api and /ws.
	AuthSecret     string   `mapstructure:"auth_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "callwatch.db")
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("panel.url", "")
	v.SetDefault("panel.headless", true)
	v.SetDefault("panel.exec_path", "")
	v.SetDefault("panel.navigate_timeout", 30*time.Second)
	v.SetDefault("panel.selectors.card", ".card")
	v.SetDefault("panel.selectors.patient", ".personMain")
	v.SetDefault("panel.selectors.provider", ".providerMain")
	v.SetDefault("panel.selectors.room", ".hallMain")

	v.SetDefault("poll.interval", 3*time.Second)
	v.SetDefault("poll.wait_timeout", 10*time.Second)
	v.SetDefault("poll.cooldown", 10*time.Second)
	v.SetDefault("poll.concurrency", 1)

	v.SetDefault("reconcile.repeat_phrase", calls.DefaultRepeatPhrase)
	v.SetDefault("reconcile.default_caller", "unknown")
	v.SetDefault("reconcile.timezone", "")
	v.SetDefault("reconcile.fallback_branch", "")

	defaults := calls.DefaultAnnotations()
	v.SetDefault("annotations.markers", defaults.Markers)
	v.SetDefault("annotations.trailing", defaults.Trailing)

	v.SetDefault("notify.topic_suffix", "/painel/calls")
	v.SetDefault("notify.log", false)
	v.SetDefault("notify.mqtt.enabled", false)
	v.SetDefault("notify.mqtt.broker", "")
	v.SetDefault("notify.mqtt.client_id", "callwatch")
	v.SetDefault("notify.mqtt.username", "")
	v.SetDefault("notify.mqtt.password", "")
	v.SetDefault("notify.mqtt.qos", 0)
	v.SetDefault("notify.mqtt.retained", false)
	v.SetDefault("notify.kafka.enabled", false)
	v.SetDefault("notify.kafka.brokers", []string{})
	v.SetDefault("notify.kafka.topic", "panel-calls")
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.timeout", 10*time.Second)

	v.SetDefault("http.addr", ":9110")
	v.SetDefault("http.auth_secret", "")
	v.SetDefault("http.allowed_origins", []string{})
}

// Load reads path (or ./callwatch.yml when path is empty) and applies
// environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if !nodeFormat(path) {
			return nil, fmt.Errorf("config: %s: only YAML or JSON config files are supported", filepath.Base(path))
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("callwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/callwatch")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if used := v.ConfigFileUsed(); used != "" {
		raw, err := os.ReadFile(used)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		table, err := ParseBranches(raw)
		if err != nil {
			return nil, err
		}
		cfg.Branches = table
	}
	if env := os.Getenv(envPrefix + "_BRANCHES"); env != "" {
		table, err := ParseBranchList(env)
		if err != nil {
			return nil, err
		}
		cfg.Branches = table
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// nodeFormat reports whether path can be decoded as a YAML node tree.
// JSON is a subset of YAML.
func nodeFormat(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml", ".json":
		return true
	}
	return false
}

// ParseBranches reads the top-level "branches" mapping of a YAML document,
// keeping key order and case.
func ParseBranches(raw []byte) (calls.BranchTable, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse branches: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "branches" {
			continue
		}
		node := root.Content[i+1]
		if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
			return nil, nil
		}
		if node.Kind != yaml.MappingNode {
			return nil, errors.New("parse branches: branches must be a mapping")
		}
		table := make(calls.BranchTable, 0, len(node.Content)/2)
		for j := 0; j+1 < len(node.Content); j += 2 {
			key, value := node.Content[j], node.Content[j+1]
			if value.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("parse branches: label for %q must be a string", key.Value)
			}
			label := value.Value
			if value.Tag == "!!null" {
				label = ""
			}
			table = append(table, calls.BranchAlias{Key: key.Value, Label: label})
		}
		return table, nil
	}
	return nil, nil
}

// ParseBranchList parses "key=label,key2=label2". A bare key has no label.
func ParseBranchList(value string) (calls.BranchTable, error) {
	var table calls.BranchTable
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, label, _ := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("parse branches: empty key in %q", part)
		}
		table = append(table, calls.BranchAlias{Key: key, Label: strings.TrimSpace(label)})
	}
	return table, nil
}

// Validate checks settings needed by every command.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "pgx", "sqlite3":
	default:
		return fmt.Errorf("config: database.driver must be pgx or sqlite3, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("config: database.dsn is required")
	}
	if c.Poll.Concurrency < 1 {
		return errors.New("config: poll.concurrency must be at least 1")
	}
	if c.Notify.MQTT.QoS < 0 || c.Notify.MQTT.QoS > 2 {
		return fmt.Errorf("config: notify.mqtt.qos must be 0, 1 or 2, got %d", c.Notify.MQTT.QoS)
	}
	if c.Notify.MQTT.Enabled && c.Notify.MQTT.Broker == "" {
		return errors.New("config: notify.mqtt.broker is required when mqtt is enabled")
	}
	if c.Notify.Kafka.Enabled && (len(c.Notify.Kafka.Brokers) == 0 || c.Notify.Kafka.Topic == "") {
		return errors.New("config: notify.kafka.brokers and topic are required when kafka is enabled")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// ValidateCapture checks settings needed to watch the panel.
func (c *Config) ValidateCapture() error {
	if strings.TrimSpace(c.Panel.URL) == "" {
		return errors.New("config: panel.url is required")
	}
	return nil
}

// Location returns the time zone that defines the call date.
func (c *Config) Location() (*time.Location, error) {
	if c.Reconcile.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Reconcile.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: reconcile.timezone: %w", err)
	}
	return loc, nil
}

// FallbackBranch is the branch used when a label names none. It defaults to
// the label of the "scraper" branch entry, then to "scraper".
func (c *Config) FallbackBranch() string {
	if c.Reconcile.FallbackBranch != "" {
		return c.Reconcile.FallbackBranch
	}
	if label, ok := c.Branches.Label(defaultFallbackBranch); ok {
		return label
	}
	return defaultFallbackBranch
}

// AnnotationSet returns the configured decoration to strip.
func (c *Config) AnnotationSet() calls.Annotations {
	return calls.Annotations{Markers: c.Annotations.Markers, Trailing: c.Annotations.Trailing}
}

// Parser returns the label parser for the configured branches.
func (c *Config) Parser() calls.Parser {
	return calls.Parser{
		Table:       c.Branches,
		Fallback:    c.FallbackBranch(),
		Annotations: c.AnnotationSet(),
	}
}
