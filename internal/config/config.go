// Package config provides YAML-based configuration loading for Netmaker.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// APIKeyEnv overrides gateway.api_key when set.
const APIKeyEnv = "NM_API_KEY"

// Failure policies for tickets whose remote registration failed.
const (
	FailureTerminal = "terminal"
	FailureRepoll   = "repoll"
)

// Config is the top-level Netmaker configuration, loaded from netmaker.yaml.
type Config struct {
	Network   string          `yaml:"network"`
	Database  DatabaseConfig  `yaml:"database"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Submit    SubmitConfig    `yaml:"submit"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Generate  GenerateConfig  `yaml:"generate"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig selects the durable store. The sqlite driver uses Path;
// mysql uses either DSN or the discrete connection fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// GatewayConfig holds registration gateway settings.
type GatewayConfig struct {
	Mode       string          `yaml:"mode"` // http, simulate
	APIKey     string          `yaml:"api_key"`
	BaseURL    string          `yaml:"base_url"`
	TimeoutSec int             `yaml:"timeout_sec"`
	Simulate   SimulatorConfig `yaml:"simulate"`
}

// SimulatorConfig tunes the in-process gateway used for dry runs.
type SimulatorConfig struct {
	SuccessRatio   float64 `yaml:"success_ratio"`
	PollsToResolve int     `yaml:"polls_to_resolve"`
}

// SubmitConfig controls the submission loop.
type SubmitConfig struct {
	Enabled        *bool            `yaml:"enabled"`
	IntervalSec    int              `yaml:"interval_sec"`
	Schedule       string           `yaml:"schedule"`
	Kinds          []string         `yaml:"kinds"`
	LinkCollection bool             `yaml:"link_collection"`
	OpenAPIGroupID string           `yaml:"open_api_group_id"`
	Collection     CollectionConfig `yaml:"collection"`
}

// CollectionConfig is the registration block sent for collection tickets.
type CollectionConfig struct {
	Type                   string   `yaml:"type"` // sense, nft
	Name                   string   `yaml:"name"`
	MaxEntries             int      `yaml:"max_entries"`
	ItemCopyCount          int      `yaml:"item_copy_count"`
	AuthorizedContributors []string `yaml:"authorized_contributors"`
	MaxNSFWScore           float64  `yaml:"max_nsfw_score"`
	MinSimilarityScore     float64  `yaml:"min_similarity_score"`
	FinalizeDays           int      `yaml:"finalize_days"`
	Royalty                float64  `yaml:"royalty"`
	Green                  bool     `yaml:"green"`
}

// ReconcileConfig controls the reconciliation loop.
type ReconcileConfig struct {
	Enabled        *bool  `yaml:"enabled"`
	IntervalSec    int    `yaml:"interval_sec"`
	Schedule       string `yaml:"schedule"`
	FailurePolicy  string `yaml:"failure_policy"`
	MaxFailedPolls int    `yaml:"max_failed_polls"`
}

// GenerateConfig controls the content generation loop.
type GenerateConfig struct {
	Enabled     *bool    `yaml:"enabled"`
	IntervalSec int      `yaml:"interval_sec"`
	Schedule    string   `yaml:"schedule"`
	BasePath    string   `yaml:"base_path"`
	Command     []string `yaml:"command"`
	CreatorName string   `yaml:"creator_name"`
	TimeoutSec  int      `yaml:"timeout_sec"`
}

// DashboardConfig controls the statistics web page.
type DashboardConfig struct {
	Enabled           *bool `yaml:"enabled"`
	Port              int   `yaml:"port"`
	RefreshTimeoutSec int   `yaml:"refresh_timeout_sec"`
}

// NotifyConfig selects where terminal ticket transitions are announced.
type NotifyConfig struct {
	Platform string        `yaml:"platform"` // "", slack, discord
	Channel  string        `yaml:"channel"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
	File   string `yaml:"file"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if key := os.Getenv(APIKeyEnv); key != "" {
		cfg.Gateway.APIKey = key
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SubmitEnabled reports whether the submission loop should run.
func (c *Config) SubmitEnabled() bool { return enabled(c.Submit.Enabled) }

// ReconcileEnabled reports whether the reconciliation loop should run.
func (c *Config) ReconcileEnabled() bool { return enabled(c.Reconcile.Enabled) }

// GenerateEnabled reports whether the generation loop should run.
func (c *Config) GenerateEnabled() bool { return enabled(c.Generate.Enabled) }

// DashboardEnabled reports whether the statistics page should be served.
func (c *Config) DashboardEnabled() bool { return enabled(c.Dashboard.Enabled) }

// enabled treats an absent flag as on.
func enabled(b *bool) bool {
	return b == nil || *b
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Network == "" {
		c.Network = "testnet"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "tickets.sqlite"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "netmaker"
		}
	}
	if c.Gateway.Mode == "" {
		c.Gateway.Mode = "http"
	}
	if c.Gateway.TimeoutSec == 0 {
		c.Gateway.TimeoutSec = 60
	}
	if c.Gateway.Simulate.SuccessRatio == 0 {
		c.Gateway.Simulate.SuccessRatio = 0.9
	}
	if c.Gateway.Simulate.PollsToResolve == 0 {
		c.Gateway.Simulate.PollsToResolve = 2
	}
	if c.Submit.IntervalSec == 0 {
		c.Submit.IntervalSec = 300
	}
	if len(c.Submit.Kinds) == 0 {
		c.Submit.Kinds = []string{"cascade", "sense", "nft"}
	}
	for i := range c.Submit.Kinds {
		c.Submit.Kinds[i] = strings.ToLower(strings.TrimSpace(c.Submit.Kinds[i]))
	}
	if c.Submit.Collection.Type == "" {
		c.Submit.Collection.Type = "sense"
	}
	if c.Submit.Collection.Name == "" {
		c.Submit.Collection.Name = "Netmaker " + c.Submit.Collection.Type + " collection"
	}
	if c.Submit.Collection.MaxEntries == 0 {
		c.Submit.Collection.MaxEntries = 100
	}
	if c.Submit.Collection.ItemCopyCount == 0 {
		c.Submit.Collection.ItemCopyCount = 1
	}
	if c.Submit.Collection.MaxNSFWScore == 0 {
		c.Submit.Collection.MaxNSFWScore = 0.5
	}
	if c.Submit.Collection.FinalizeDays == 0 {
		c.Submit.Collection.FinalizeDays = 7
	}
	if c.Reconcile.IntervalSec == 0 {
		c.Reconcile.IntervalSec = 600
	}
	if c.Reconcile.FailurePolicy == "" {
		c.Reconcile.FailurePolicy = FailureTerminal
	}
	if c.Generate.IntervalSec == 0 {
		c.Generate.IntervalSec = 10
	}
	if c.Generate.BasePath == "" {
		c.Generate.BasePath = "images"
	}
	if c.Generate.CreatorName == "" {
		c.Generate.CreatorName = "pastel.network"
	}
	if c.Generate.TimeoutSec == 0 {
		c.Generate.TimeoutSec = 900
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Dashboard.RefreshTimeoutSec == 0 {
		c.Dashboard.RefreshTimeoutSec = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Network {
	case "mainnet", "testnet", "devnet":
	default:
		if c.Gateway.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("network %q is unknown; set gateway.base_url", c.Network))
		}
	}

	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}

	switch c.Gateway.Mode {
	case "http":
		if c.Gateway.APIKey == "" {
			errs = append(errs, "gateway.api_key is required (or set "+APIKeyEnv+")")
		}
	case "simulate":
	default:
		errs = append(errs, fmt.Sprintf("gateway.mode %q must be http or simulate", c.Gateway.Mode))
	}
	if r := c.Gateway.Simulate.SuccessRatio; r < 0 || r > 1 {
		errs = append(errs, "gateway.simulate.success_ratio must be within [0,1]")
	}

	for i, k := range c.Submit.Kinds {
		switch k {
		case "cascade", "sense", "nft", "collection":
		default:
			errs = append(errs, fmt.Sprintf("submit.kinds[%d] %q is not a ticket kind", i, k))
		}
	}
	switch c.Submit.Collection.Type {
	case "sense", "nft":
	default:
		errs = append(errs, fmt.Sprintf("submit.collection.type %q must be sense or nft", c.Submit.Collection.Type))
	}

	switch c.Reconcile.FailurePolicy {
	case FailureTerminal, FailureRepoll:
	default:
		errs = append(errs, fmt.Sprintf("reconcile.failure_policy %q must be %s or %s",
			c.Reconcile.FailurePolicy, FailureTerminal, FailureRepoll))
	}
	if c.Reconcile.MaxFailedPolls < 0 {
		errs = append(errs, "reconcile.max_failed_polls must not be negative")
	}

	for name, v := range map[string]int{
		"submit.interval_sec":    c.Submit.IntervalSec,
		"reconcile.interval_sec": c.Reconcile.IntervalSec,
		"generate.interval_sec":  c.Generate.IntervalSec,
	} {
		if v < 0 {
			errs = append(errs, name+" must not be negative")
		}
	}

	if c.GenerateEnabled() && len(c.Generate.Command) == 0 {
		errs = append(errs, "generate.command is required when generation is enabled")
	}

	switch c.Notify.Platform {
	case "":
	case "slack":
		if c.Notify.Slack.BotToken == "" {
			errs = append(errs, "notify.slack.bot_token is required")
		}
		if c.Notify.Channel == "" {
			errs = append(errs, "notify.channel is required")
		}
	case "discord":
		if c.Notify.Discord.BotToken == "" {
			errs = append(errs, "notify.discord.bot_token is required")
		}
		if c.Notify.Channel == "" {
			errs = append(errs, "notify.channel is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.platform %q must be slack or discord", c.Notify.Platform))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
