// Package config loads process configuration from a YAML file overlaid
// with a .env file and environment variables, the same layering the
// teacher's shared/config used for its smaller surface.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"newsdigest/internal/apperror"
)

type Config struct {
	YouTube    YouTubeConfig    `yaml:"youtube"`
	AI         AIConfig         `yaml:"ai"`
	Email      EmailConfig      `yaml:"email"`
	Profile    ProfileConfig    `yaml:"profile"`
	Sources    string           `yaml:"sources_file"`
	Store      StoreConfig      `yaml:"store"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Schedule   string           `yaml:"schedule"`
	HTTP       HTTPConfig       `yaml:"http"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type YouTubeConfig struct {
	ClientID     string   `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	TokenFile    string   `yaml:"token_file"`
	ChannelIDs   []string `yaml:"channel_ids"`
}

type AIConfig struct {
	GeminiAPIKey  string  `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	DigestModel   string  `yaml:"digest_model"`
	RankModel     string  `yaml:"rank_model"`
	EmbedModel    string  `yaml:"embed_model"`
	EmbeddingDim  int     `yaml:"embedding_dim"`
	TDigest       float64 `yaml:"t_digest"`
	TRank         float64 `yaml:"t_rank"`
	TEmail        float64 `yaml:"t_email"`
	LongVideoMins int     `yaml:"long_video_minutes"`
	SummaryChars  int     `yaml:"summary_input_chars"`
}

type EmailConfig struct {
	SMTPServer string `yaml:"smtp_server"`
	SMTPPort   int    `yaml:"smtp_port"`
	Username   string `yaml:"username" env:"EMAIL_USERNAME"`
	Password   string `yaml:"password" env:"EMAIL_PASSWORD"`
	FromEmail  string `yaml:"from_email"`
	ToEmail    string `yaml:"to_email"`
	Subject    string `yaml:"subject"`
	SkipEmail  bool   `yaml:"skip_email"`
}

type ProfileConfig struct {
	Name           string   `yaml:"name"`
	Background     string   `yaml:"background"`
	Interests      []string `yaml:"interests"`
	ExpertiseLevel string   `yaml:"expertise_level"`
	Avoidances     []string `yaml:"avoidances"`
}

type StoreConfig struct {
	DSN       string `yaml:"dsn"`
	VectorDir string `yaml:"vector_dir"`
}

type PipelineConfig struct {
	WindowHours int           `yaml:"window_hours"`
	TopN        int           `yaml:"top_n"`
	GFetch      int           `yaml:"g_fetch"`
	GRender     int           `yaml:"g_render"`
	GLLM        int           `yaml:"g_llm"`
	TFetch      time.Duration `yaml:"t_fetch"`
	TRender     time.Duration `yaml:"t_render"`
	TLLM        time.Duration `yaml:"t_llm"`
	RFetch      int           `yaml:"r_fetch"`
	RParse      int           `yaml:"r_parse"`
	ThetaDup    float64       `yaml:"theta_dup"`
	KCtx        int           `yaml:"k_ctx"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type MonitoringConfig struct {
	HealthPort int `yaml:"health_port"`
}

// Load reads CONFIG_FILE (default config.yaml), overlays a .env file if
// present, falls back to environment variables for secret fields, fills in
// defaults, and validates required fields.
func Load() (*Config, error) {
	_ = godotenv.Load()

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, &apperror.ConfigError{Field: "config_file", Err: fmt.Errorf("read %s: %w", configFile, err)}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &apperror.ConfigError{Field: "config_file", Err: fmt.Errorf("parse %s: %w", configFile, err)}
	}

	cfg.applyEnvFallback()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnvFallback() {
	if c.YouTube.ClientID == "" {
		c.YouTube.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	}
	if c.YouTube.ClientSecret == "" {
		c.YouTube.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}
	if c.AI.GeminiAPIKey == "" {
		c.AI.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Email.Username == "" {
		c.Email.Username = os.Getenv("EMAIL_USERNAME")
	}
	if c.Email.Password == "" {
		c.Email.Password = os.Getenv("EMAIL_PASSWORD")
	}
}

func (c *Config) applyDefaults() {
	if c.YouTube.TokenFile == "" {
		c.YouTube.TokenFile = "youtube_token.json"
	}
	if c.AI.DigestModel == "" {
		c.AI.DigestModel = "gemini-2.5-flash"
	}
	if c.AI.RankModel == "" {
		c.AI.RankModel = c.AI.DigestModel
	}
	if c.AI.EmbedModel == "" {
		c.AI.EmbedModel = "text-embedding-004"
	}
	if c.AI.EmbeddingDim == 0 {
		c.AI.EmbeddingDim = 384
	}
	if c.AI.TDigest == 0 {
		c.AI.TDigest = 0.7
	}
	if c.AI.TRank == 0 {
		c.AI.TRank = 0.3
	}
	if c.AI.TEmail == 0 {
		c.AI.TEmail = 0.7
	}
	if c.AI.LongVideoMins == 0 {
		c.AI.LongVideoMins = 45
	}
	if c.AI.SummaryChars == 0 {
		c.AI.SummaryChars = 6000
	}
	if c.Sources == "" {
		c.Sources = "sources.yaml"
	}
	if c.Store.DSN == "" {
		c.Store.DSN = "file:newsdigest.db"
	}
	if c.Store.VectorDir == "" {
		c.Store.VectorDir = "data/vectors"
	}
	if c.Pipeline.WindowHours == 0 {
		c.Pipeline.WindowHours = 24
	}
	if c.Pipeline.TopN == 0 {
		c.Pipeline.TopN = 10
	}
	if c.Pipeline.GFetch == 0 {
		c.Pipeline.GFetch = 8
	}
	if c.Pipeline.GRender == 0 {
		c.Pipeline.GRender = 2
	}
	if c.Pipeline.GLLM == 0 {
		c.Pipeline.GLLM = 4
	}
	if c.Pipeline.TFetch == 0 {
		c.Pipeline.TFetch = 120 * time.Second
	}
	if c.Pipeline.TRender == 0 {
		c.Pipeline.TRender = 60 * time.Second
	}
	if c.Pipeline.TLLM == 0 {
		c.Pipeline.TLLM = 60 * time.Second
	}
	if c.Pipeline.RFetch == 0 {
		c.Pipeline.RFetch = 3
	}
	if c.Pipeline.RParse == 0 {
		c.Pipeline.RParse = 2
	}
	if c.Pipeline.ThetaDup == 0 {
		c.Pipeline.ThetaDup = 0.95
	}
	if c.Pipeline.KCtx == 0 {
		c.Pipeline.KCtx = 5
	}
	if c.Schedule == "" {
		c.Schedule = "0 0 9 * * *"
	}
	if c.Email.Subject == "" {
		c.Email.Subject = "Your News Digest"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8090"
	}
	if c.Monitoring.HealthPort == 0 {
		c.Monitoring.HealthPort = 8080
	}
	if c.Profile.ExpertiseLevel == "" {
		c.Profile.ExpertiseLevel = "intermediate"
	}
}

func (c *Config) validate() error {
	if c.YouTube.ClientID == "" {
		return &apperror.ConfigError{Field: "youtube.client_id"}
	}
	if c.YouTube.ClientSecret == "" {
		return &apperror.ConfigError{Field: "youtube.client_secret"}
	}
	if c.AI.GeminiAPIKey == "" {
		return &apperror.ConfigError{Field: "ai.gemini_api_key"}
	}
	if !c.Email.SkipEmail {
		if c.Email.Username == "" {
			return &apperror.ConfigError{Field: "email.username"}
		}
		if c.Email.Password == "" {
			return &apperror.ConfigError{Field: "email.password"}
		}
		if c.Email.ToEmail == "" {
			return &apperror.ConfigError{Field: "email.to_email"}
		}
	}
	return nil
}
