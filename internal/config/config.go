// Package config loads settings from defaults, an optional jewelshoot.yaml,
// a .env file and JEWELSHOOT_* environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/manash/jewelshoot/internal/keys"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string `validate:"oneof=development production"`
	Provider  string `validate:"oneof=gemini offline"`
	ConfigDir string `validate:"required"`
	Log       LogConfig
	Gemini    GeminiConfig
	Studio    StudioConfig
	Normalize NormalizeConfig
	Usage     UsageConfig
	Redis     RedisConfig
	Supabase  SupabaseConfig
	Gallery   GalleryConfig
	S3        S3Config
	Server    ServerConfig
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Pretty bool
}

type GeminiConfig struct {
	APIKey       string
	BaseURL      string
	PlannerModel string `validate:"required"`
	ImageModel   string `validate:"required"`
	TextModel    string `validate:"required"`
	EnhanceEdits bool
	MaxRetries   int           `validate:"min=0,max=10"`
	RetryDelay   time.Duration `validate:"min=0"`
}

type StudioConfig struct {
	Concepts       int           `validate:"min=1,max=6"`
	MaxConcurrent  int           `validate:"min=1"`
	RequestTimeout time.Duration `validate:"gt=0"`
	Resolution     string        `validate:"oneof=2k 4k 8k"`
	AspectRatio    string        `validate:"oneof=square reels"`
}

type NormalizeConfig struct {
	Enabled      bool
	Policy       string `validate:"oneof=center-crop cover"`
	NeverUpscale bool
}

type UsageConfig struct {
	Backend string `validate:"oneof=file redis memory"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"min=0"`
	TLS      bool
}

type SupabaseConfig struct {
	URL       string `validate:"omitempty,url"`
	AnonKey   string
	JWTSecret string
	Bucket    string `validate:"required"`
}

type GalleryConfig struct {
	Backend     string  `validate:"oneof=supabase s3 memory"`
	Format      string  `validate:"oneof=png webp"`
	WebPQuality float32 `validate:"gt=0,lte=100"`
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string `validate:"omitempty,url"`
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string `validate:"omitempty,url"`
}

type ServerConfig struct {
	Addr           string `validate:"required"`
	RateLimit      int    `validate:"min=0"`
	AllowedOrigins []string
}

func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

type LoadOptions struct {
	// ConfigFile, when set, must exist.
	ConfigFile string
	// EnvFile defaults to ".env"; a missing file is ignored.
	EnvFile string
	// ConfigDir overrides the default configuration directory.
	ConfigDir string
}

// aliases lets the unprefixed variable names used by hosting dashboards
// feed the same keys.
var aliases = map[string][]string{
	"gemini.api_key":      {"GEMINI_API_KEY", "API_KEY"},
	"supabase.url":        {"SUPABASE_URL", "VITE_SUPABASE_URL"},
	"supabase.anon_key":   {"SUPABASE_ANON_KEY", "VITE_SUPABASE_ANON_KEY"},
	"supabase.jwt_secret": {"SUPABASE_JWT_SECRET"},
	"redis.addr":          {"REDIS_ADDR"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvDevelopment)
	v.SetDefault("provider", "gemini")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("gemini.planner_model", "gemini-2.5-flash")
	v.SetDefault("gemini.image_model", "gemini-3-pro-image-preview")
	v.SetDefault("gemini.text_model", "gemini-2.0-flash")
	v.SetDefault("gemini.enhance_edits", false)
	v.SetDefault("gemini.max_retries", 3)
	v.SetDefault("gemini.retry_delay", 2*time.Second)
	v.SetDefault("studio.concepts", 3)
	v.SetDefault("studio.max_concurrent", 3)
	v.SetDefault("studio.request_timeout", 3*time.Minute)
	v.SetDefault("studio.resolution", "8k")
	v.SetDefault("studio.aspect_ratio", "square")
	v.SetDefault("normalize.enabled", true)
	v.SetDefault("normalize.policy", "center-crop")
	v.SetDefault("normalize.never_upscale", false)
	v.SetDefault("usage.backend", "file")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("supabase.bucket", "generated-images")
	v.SetDefault("gallery.backend", "supabase")
	v.SetDefault("gallery.format", "png")
	v.SetDefault("gallery.webp_quality", 90)
	v.SetDefault("s3.region", "auto")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 60)
	v.SetDefault("server.allowed_origins", []string{"*"})
}

func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	dir := opts.ConfigDir
	if dir == "" {
		d, err := keys.ConfigDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("JEWELSHOOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range aliases {
		envNames := append([]string{"JEWELSHOOT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(append([]string{key}, envNames...)...); err != nil {
			return nil, err
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("jewelshoot")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Env:       strings.ToLower(v.GetString("env")),
		Provider:  strings.ToLower(v.GetString("provider")),
		ConfigDir: dir,
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Pretty: v.GetBool("log.pretty"),
		},
		Gemini: GeminiConfig{
			APIKey:       v.GetString("gemini.api_key"),
			BaseURL:      v.GetString("gemini.base_url"),
			PlannerModel: v.GetString("gemini.planner_model"),
			ImageModel:   v.GetString("gemini.image_model"),
			TextModel:    v.GetString("gemini.text_model"),
			EnhanceEdits: v.GetBool("gemini.enhance_edits"),
			MaxRetries:   v.GetInt("gemini.max_retries"),
			RetryDelay:   v.GetDuration("gemini.retry_delay"),
		},
		Studio: StudioConfig{
			Concepts:       v.GetInt("studio.concepts"),
			MaxConcurrent:  v.GetInt("studio.max_concurrent"),
			RequestTimeout: v.GetDuration("studio.request_timeout"),
			Resolution:     strings.ToLower(v.GetString("studio.resolution")),
			AspectRatio:    strings.ToLower(v.GetString("studio.aspect_ratio")),
		},
		Normalize: NormalizeConfig{
			Enabled:      v.GetBool("normalize.enabled"),
			Policy:       strings.ToLower(v.GetString("normalize.policy")),
			NeverUpscale: v.GetBool("normalize.never_upscale"),
		},
		Usage: UsageConfig{
			Backend: strings.ToLower(v.GetString("usage.backend")),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			TLS:      v.GetBool("redis.tls"),
		},
		Supabase: SupabaseConfig{
			URL:       v.GetString("supabase.url"),
			AnonKey:   v.GetString("supabase.anon_key"),
			JWTSecret: v.GetString("supabase.jwt_secret"),
			Bucket:    v.GetString("supabase.bucket"),
		},
		Gallery: GalleryConfig{
			Backend:     strings.ToLower(v.GetString("gallery.backend")),
			Format:      strings.ToLower(v.GetString("gallery.format")),
			WebPQuality: float32(v.GetFloat64("gallery.webp_quality")),
		},
		S3: S3Config{
			Bucket:          v.GetString("s3.bucket"),
			Region:          v.GetString("s3.region"),
			Endpoint:        v.GetString("s3.endpoint"),
			AccessKeyID:     v.GetString("s3.access_key_id"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
			PublicBaseURL:   v.GetString("s3.public_base_url"),
		},
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			RateLimit:      v.GetInt("server.rate_limit"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Gallery.Backend == "s3" && c.S3.Bucket == "" {
		return fmt.Errorf("invalid configuration: s3.bucket is required when gallery.backend is s3")
	}
	if c.Usage.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("invalid configuration: redis.addr is required when usage.backend is redis")
	}
	return nil
}
