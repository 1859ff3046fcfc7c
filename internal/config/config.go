// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	WhatsApp   WhatsAppConfig   `yaml:"whatsapp"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
}

type ServerConfig struct {
	Port          string `yaml:"port"`
	Env           string `yaml:"env"`
	LogLevel      string `yaml:"log_level"`
	BaseURL       string `yaml:"base_url"`
	InternalToken string `yaml:"internal_token"`
	JWTSecret     string `yaml:"jwt_secret"`
	CookieDomain  string `yaml:"cookie_domain"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type OpenAIConfig struct {
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	ChatModel          string `yaml:"chat_model"`
	TranscriptionModel string `yaml:"transcription_model"`
	// ResponseDialect is the language every generated response is written in.
	ResponseDialect string `yaml:"response_dialect"`
}

type ElevenLabsConfig struct {
	APIKey   string `yaml:"api_key"`
	VoiceID  string `yaml:"voice_id"`
	ModelID  string `yaml:"model_id"`
	Language string `yaml:"language"`
	BaseURL  string `yaml:"base_url"`
}

type WhatsAppConfig struct {
	AccessToken        string `yaml:"access_token"`
	PhoneNumberID      string `yaml:"phone_number_id"`
	BusinessAccountID  string `yaml:"business_account_id"`
	WebhookVerifyToken string `yaml:"webhook_verify_token"`
	AppSecret          string `yaml:"app_secret"`
	GraphBaseURL       string `yaml:"graph_base_url"`
	OptInTemplate      string `yaml:"optin_template"`
	CheckInTemplate    string `yaml:"checkin_template"`
	TemplateLanguage   string `yaml:"template_language"`
}

type PipelineConfig struct {
	// DispatchMode is "local" (in-process goroutine) or "http" (internal endpoint).
	DispatchMode  string        `yaml:"dispatch_mode"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	StaleSchedule string        `yaml:"stale_schedule"`
	StaleAfter    time.Duration `yaml:"stale_after"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    "8080",
			Env:     "development",
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Driver: "postgres",
			DSN:    "host=localhost user=postgres password=postgres dbname=companion port=5432 sslmode=disable",
		},
		Storage: StorageConfig{
			Endpoint: "localhost:9000",
			Bucket:   "companion",
		},
		OpenAI: OpenAIConfig{
			ChatModel:          "gpt-4o-mini",
			TranscriptionModel: "whisper-1",
			ResponseDialect:    "Egyptian Arabic",
		},
		ElevenLabs: ElevenLabsConfig{
			ModelID:  "eleven_multilingual_v2",
			Language: "ar",
			BaseURL:  "https://api.elevenlabs.io/v1",
		},
		WhatsApp: WhatsAppConfig{
			GraphBaseURL:     "https://graph.facebook.com/v21.0",
			OptInTemplate:    "optin",
			CheckInTemplate:  "checkin",
			TemplateLanguage: "en",
		},
		Pipeline: PipelineConfig{
			DispatchMode:  "local",
			CallTimeout:   2 * time.Minute,
			StaleSchedule: "@every 10m",
			StaleAfter:    30 * time.Minute,
		},
	}
}

// Load reads .env (if present), then the optional YAML file, then environment
// variables. Missing integration secrets are not an error.
func Load(file string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	str(&c.Server.Port, "PORT")
	str(&c.Server.Env, "APP_ENV")
	str(&c.Server.LogLevel, "LOG_LEVEL")
	str(&c.Server.BaseURL, "BASE_URL")
	str(&c.Server.InternalToken, "INTERNAL_TOKEN")
	str(&c.Server.JWTSecret, "JWT_SECRET")
	str(&c.Server.CookieDomain, "COOKIE_DOMAIN")

	str(&c.Database.Driver, "DB_DRIVER")
	str(&c.Database.DSN, "DATABASE_URL")

	str(&c.Storage.Endpoint, "MINIO_ENDPOINT")
	str(&c.Storage.AccessKey, "MINIO_ACCESS_KEY")
	str(&c.Storage.SecretKey, "MINIO_SECRET_KEY")
	str(&c.Storage.Bucket, "MINIO_BUCKET")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		c.Storage.UseSSL = v == "true"
	}

	str(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	str(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	str(&c.OpenAI.ChatModel, "OPENAI_CHAT_MODEL")
	str(&c.OpenAI.TranscriptionModel, "OPENAI_TRANSCRIPTION_MODEL")
	str(&c.OpenAI.ResponseDialect, "RESPONSE_DIALECT")

	str(&c.ElevenLabs.APIKey, "ELEVENLABS_API_KEY")
	str(&c.ElevenLabs.VoiceID, "ELEVENLABS_VOICE_ID")
	str(&c.ElevenLabs.ModelID, "ELEVENLABS_MODEL_ID")
	str(&c.ElevenLabs.Language, "ELEVENLABS_LANGUAGE")
	str(&c.ElevenLabs.BaseURL, "ELEVENLABS_BASE_URL")

	str(&c.WhatsApp.AccessToken, "WHATSAPP_ACCESS_TOKEN")
	str(&c.WhatsApp.PhoneNumberID, "WHATSAPP_PHONE_NUMBER_ID")
	str(&c.WhatsApp.BusinessAccountID, "WHATSAPP_BUSINESS_ACCOUNT_ID")
	str(&c.WhatsApp.WebhookVerifyToken, "WHATSAPP_WEBHOOK_VERIFY_TOKEN")
	str(&c.WhatsApp.AppSecret, "WHATSAPP_APP_SECRET")
	str(&c.WhatsApp.GraphBaseURL, "WHATSAPP_GRAPH_BASE_URL")
	str(&c.WhatsApp.OptInTemplate, "TEMPLATE_OPTIN_NAME")
	str(&c.WhatsApp.CheckInTemplate, "TEMPLATE_CHECKIN_NAME")
	str(&c.WhatsApp.TemplateLanguage, "TEMPLATE_LANGUAGE")

	str(&c.Pipeline.DispatchMode, "DISPATCH_MODE")
	str(&c.Pipeline.StaleSchedule, "STALE_JOB_SCHEDULE")
	durations := map[string]*time.Duration{
		"PIPELINE_CALL_TIMEOUT": &c.Pipeline.CallTimeout,
		"STALE_JOB_AFTER":       &c.Pipeline.StaleAfter,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

// parseDuration accepts Go durations ("90s") and bare seconds ("90").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Presence reports which secrets are configured without exposing values.
func (c *Config) Presence() map[string]bool {
	return map[string]bool{
		"INTERNAL_TOKEN":           c.Server.InternalToken != "",
		"JWT_SECRET":               c.Server.JWTSecret != "",
		"OPENAI_API_KEY":           c.OpenAI.APIKey != "",
		"ELEVENLABS_API_KEY":       c.ElevenLabs.APIKey != "",
		"ELEVENLABS_VOICE_ID":      c.ElevenLabs.VoiceID != "",
		"WHATSAPP_ACCESS_TOKEN":    c.WhatsApp.AccessToken != "",
		"WHATSAPP_PHONE_NUMBER_ID": c.WhatsApp.PhoneNumberID != "",
		"WHATSAPP_APP_SECRET":      c.WhatsApp.AppSecret != "",
		"MINIO_ACCESS_KEY":         c.Storage.AccessKey != "",
	}
}
