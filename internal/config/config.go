// Package config loads the limbic configuration: a JSON file with ${VAR} and
// ${VAR:default} substitution, overlaid by LIMBIC_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/nidhogg/limbic-flow/internal/affectlog"
	"github.com/nidhogg/limbic-flow/internal/articulation"
	"github.com/nidhogg/limbic-flow/internal/brain"
	"github.com/nidhogg/limbic-flow/internal/embedding"
	"github.com/nidhogg/limbic-flow/internal/location"
	"github.com/nidhogg/limbic-flow/internal/pathology"
	"github.com/nidhogg/limbic-flow/internal/pipeline"
	"github.com/nidhogg/limbic-flow/internal/provider"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LIMBIC_"

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig       `json:"server"`
	DataDir      string             `json:"data_dir" env:"DATA_DIR"`
	AffectLog    AffectLogConfig    `json:"affect_log"`
	Memory       MemoryConfig       `json:"memory"`
	Providers    []ProviderConfig   `json:"providers"`
	Router       RouterConfig       `json:"router"`
	Brain        BrainConfig        `json:"brain"`
	Embedding    EmbeddingConfig    `json:"embedding"`
	Persona      PersonaConfig      `json:"persona"`
	Perception   PerceptionConfig   `json:"perception"`
	Location     LocationConfig     `json:"location"`
	Pathologies  []string           `json:"pathologies" env:"PATHOLOGIES" envSeparator:","`
	Articulation ArticulationConfig `json:"articulation"`
	Gateway      GatewayConfig      `json:"gateway"`
	Database     DatabaseConfig     `json:"database"`
}

type ServerConfig struct {
	Port     int    `json:"port" env:"PORT"`
	LogLevel string `json:"log_level" env:"LOG_LEVEL"`
}

type AffectLogConfig struct {
	Backend string `json:"backend" env:"AFFECT_BACKEND"` // sqlite | postgres | memory
	Path    string `json:"path" env:"AFFECT_DB"`
	DSN     string `json:"dsn" env:"POSTGRES_DSN"`
}

type MemoryConfig struct {
	Path          string `json:"path" env:"MEMORY_PATH"`
	RetrieveLimit int    `json:"retrieve_limit"`
	Mirror        bool   `json:"mirror"` // copy records into Qdrant
}

type ProviderConfig struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Name          string   `json:"name"`
	Endpoint      string   `json:"endpoint"`
	APIKey        string   `json:"api_key"`
	Model         string   `json:"model"`
	Timeout       Duration `json:"timeout,omitempty"`
	RatePerMinute int      `json:"rate_per_minute,omitempty"`
}

type RouterConfig struct {
	Default   string   `json:"default" env:"PROVIDER"`
	Fallbacks []string `json:"fallbacks"`
}

type BrainConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider" env:"EMBEDDING_PROVIDER"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type PersonaConfig struct {
	Path  string `json:"path" env:"PERSONA"`
	Watch bool   `json:"watch"`
}

type PerceptionConfig struct {
	// Lexicon is a YAML file of stimulus trigger words; empty uses the built-in list.
	Lexicon string `json:"lexicon" env:"LEXICON"`
}

type LocationConfig struct {
	Enabled        bool     `json:"enabled"`
	IPStackKey     string   `json:"ipstack_key" env:"IPSTACK_KEY"`
	OpenWeatherKey string   `json:"openweather_key" env:"OPENWEATHER_KEY"`
	CacheTTL       Duration `json:"cache_ttl"`
}

type ArticulationConfig struct {
	BaseWPM          float64  `json:"base_wpm"`
	MinSegmentLength int      `json:"min_segment_length"`
	HesitationBase   Duration `json:"hesitation_base"`
	// Pacing is how renderers wait: realtime, scaled or instant.
	Pacing       string  `json:"pacing" env:"PACING"`
	PacingFactor float64 `json:"pacing_factor"`
}

type GatewayConfig struct {
	Identity IdentityConfig       `json:"identity"`
	Slack    SlackGatewayConfig   `json:"slack"`
	Discord  DiscordGatewayConfig `json:"discord"`
	Relay    RelayConfig          `json:"relay"`
	// TurnTimeout bounds one platform message from turn start to last action.
	TurnTimeout Duration `json:"turn_timeout"`
}

type IdentityConfig struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url"`
	Emoji   string `json:"emoji"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token" env:"SLACK_BOT_TOKEN"`
	AppToken string `json:"app_token" env:"SLACK_APP_TOKEN"`
}

type DiscordGatewayConfig struct {
	Enabled  bool              `json:"enabled"`
	BotToken string            `json:"bot_token" env:"DISCORD_TOKEN"`
	Webhooks map[string]string `json:"webhooks,omitempty"` // channel id -> webhook url
}

// RelayConfig replays turns published on the bus to one platform channel.
type RelayConfig struct {
	Enabled   bool   `json:"enabled"`
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
}

type DatabaseConfig struct {
	Neo4j  Neo4jConfig  `json:"neo4j"`
	Redis  RedisConfig  `json:"redis"`
	Qdrant QdrantConfig `json:"qdrant"`
}

type Neo4jConfig struct {
	URI      string `json:"uri" env:"NEO4J_URI"`
	User     string `json:"user" env:"NEO4J_USER"`
	Password string `json:"password" env:"NEO4J_PASSWORD"`
}

type RedisConfig struct {
	URL     string `json:"url" env:"REDIS_URL"`
	Channel string `json:"channel"`
}

type QdrantConfig struct {
	Host       string `json:"host" env:"QDRANT_HOST"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// Duration is a time.Duration written as a Go duration string ("1h", "500ms").
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a configuration that runs offline: SQLite affect log,
// local JSON memory index and hashing embedder. Load adds the mock language
// model when no provider is configured.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Port: 8080, LogLevel: "info"},
		DataDir:   "data",
		AffectLog: AffectLogConfig{Backend: "sqlite"},
		Memory:    MemoryConfig{RetrieveLimit: pipeline.DefaultConfig().RetrieveLimit},
		Brain: BrainConfig{
			Temperature: brain.DefaultConfig().Temperature,
			MaxTokens:   brain.DefaultConfig().MaxTokens,
		},
		Embedding: EmbeddingConfig{Provider: "hash", Dimension: 256},
		Location:  LocationConfig{CacheTTL: Duration(time.Hour)},
		Articulation: ArticulationConfig{
			BaseWPM:          articulation.DefaultConfig().BaseWPM,
			MinSegmentLength: articulation.DefaultConfig().MinSegmentLength,
			HesitationBase:   Duration(articulation.DefaultConfig().HesitationBase),
			Pacing:           "realtime",
			PacingFactor:     1,
		},
		Gateway: GatewayConfig{TurnTimeout: Duration(5 * time.Minute)},
		Database: DatabaseConfig{
			Redis:  RedisConfig{Channel: pipeline.DefaultConfig().Channel},
			Qdrant: QdrantConfig{Port: 6334, Collection: "limbic_memories"},
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file over the defaults, substitutes environment
// variable references, applies LIMBIC_* overrides and fills derived paths.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}

		// Substitute ${VAR} and ${VAR:default} with environment values.
		resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
			parts := envVarRe.FindStringSubmatch(match)
			if v := os.Getenv(parts[1]); v != "" {
				return v
			}
			return parts[2]
		})

		if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults derives values that depend on other fields.
func (c *Config) fillDefaults() {
	if len(c.Providers) == 0 {
		c.Providers = []ProviderConfig{{ID: "mock", Type: "mock", Name: "Mock"}}
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.AffectLog.Path == "" {
		c.AffectLog.Path = filepath.Join(c.DataDir, "affect.db")
	}
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join(c.DataDir, "memories.json")
	}
}

var (
	logLevels = []string{"debug", "info", "warn", "error"}
	pacings   = []string{"realtime", "scaled", "instant"}
	backends  = []string{"sqlite", "postgres", "memory"}
	embedders = []string{"", "hash", "api", "openai", "local", "ollama"}
)

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if !slices.Contains(logLevels, c.Server.LogLevel) {
		add("server.log_level %q: want one of %v", c.Server.LogLevel, logLevels)
	}
	if !slices.Contains(backends, c.AffectLog.Backend) {
		add("affect_log.backend %q: want one of %v", c.AffectLog.Backend, backends)
	}
	if c.AffectLog.Backend == "postgres" && c.AffectLog.DSN == "" {
		add("affect_log.dsn is required for the postgres backend")
	}
	if !slices.Contains(embedders, c.Embedding.Provider) {
		add("embedding.provider %q is not supported", c.Embedding.Provider)
	}
	if c.Embedding.Dimension < 0 {
		add("embedding.dimension must not be negative")
	}

	known := provider.NewRegistry().Types()
	ids := map[string]bool{}
	for i, p := range c.Providers {
		if !slices.Contains(known, p.Type) {
			add("providers[%d]: unknown type %q (known: %v)", i, p.Type, known)
		}
		id := p.ID
		if id == "" {
			id = p.Type
		}
		if ids[id] {
			add("providers[%d]: duplicate id %q", i, id)
		}
		ids[id] = true
	}
	for _, id := range append([]string{c.Router.Default}, c.Router.Fallbacks...) {
		if id != "" && !ids[id] {
			add("router: unknown provider %q", id)
		}
	}

	knownPolicies := pathology.NewRegistry().Names()
	for _, name := range c.Pathologies {
		if !slices.Contains(knownPolicies, name) {
			add("pathologies: unknown pathology %q (known: %v)", name, knownPolicies)
		}
	}
	if !slices.Contains(pacings, c.Articulation.Pacing) {
		add("articulation.pacing %q: want one of %v", c.Articulation.Pacing, pacings)
	}
	if c.Articulation.Pacing == "scaled" && c.Articulation.PacingFactor <= 0 {
		add("articulation.pacing_factor must be positive for scaled pacing")
	}

	if c.Gateway.Slack.Enabled && (c.Gateway.Slack.BotToken == "" || c.Gateway.Slack.AppToken == "") {
		add("gateway.slack requires bot_token and app_token")
	}
	if c.Gateway.Discord.Enabled && c.Gateway.Discord.BotToken == "" {
		add("gateway.discord requires bot_token")
	}
	if r := c.Gateway.Relay; r.Enabled {
		if c.Database.Redis.URL == "" {
			add("gateway.relay requires database.redis.url")
		}
		if r.Platform == "" || r.ChannelID == "" {
			add("gateway.relay requires platform and channel_id")
		}
	}
	if c.Memory.Mirror && c.Database.Qdrant.Host == "" {
		add("memory.mirror requires database.qdrant.host")
	}
	return errors.Join(errs...)
}

// ProviderConfigs converts the provider list.
func (c *Config) ProviderConfigs() []provider.ProviderConfig {
	out := make([]provider.ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		out[i] = provider.ProviderConfig{
			ID:            p.ID,
			Type:          p.Type,
			Name:          p.Name,
			Endpoint:      p.Endpoint,
			APIKey:        p.APIKey,
			Model:         p.Model,
			Timeout:       p.Timeout.Std(),
			RatePerMinute: p.RatePerMinute,
		}
	}
	return out
}

func (c *Config) AffectLogConfig() affectlog.Config {
	return affectlog.Config{Backend: c.AffectLog.Backend, Path: c.AffectLog.Path, DSN: c.AffectLog.DSN}
}

func (c *Config) EmbeddingConfig() embedding.Config {
	e := c.Embedding
	return embedding.Config{Provider: e.Provider, Endpoint: e.Endpoint, Model: e.Model, APIKey: e.APIKey, Dimension: e.Dimension}
}

func (c *Config) BrainConfig() brain.Config {
	return brain.Config{Model: c.Brain.Model, Temperature: c.Brain.Temperature, MaxTokens: c.Brain.MaxTokens}
}

func (c *Config) LocationConfig() location.Config {
	return location.Config{
		IPStackKey:     c.Location.IPStackKey,
		OpenWeatherKey: c.Location.OpenWeatherKey,
		CacheTTL:       c.Location.CacheTTL.Std(),
	}
}

func (c *Config) ArticulationConfig() articulation.Config {
	a := c.Articulation
	return articulation.Config{BaseWPM: a.BaseWPM, MinSegmentLength: a.MinSegmentLength, HesitationBase: a.HesitationBase.Std()}
}

// Pacer builds the configured pacing strategy.
func (c *Config) Pacer() articulation.Pacer {
	switch c.Articulation.Pacing {
	case "instant":
		return articulation.Instant{}
	case "scaled":
		return articulation.Scaled{Factor: c.Articulation.PacingFactor}
	default:
		return articulation.RealTime{}
	}
}

func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{RetrieveLimit: c.Memory.RetrieveLimit, Channel: c.Database.Redis.Channel}
}
