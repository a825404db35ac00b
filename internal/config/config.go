package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the bot.
type Config struct {
	General      GeneralConfig       `yaml:"general"`
	Telegram     TelegramConfig      `yaml:"telegram"`
	AI           AIConfig            `yaml:"ai"`
	Usage        UsageConfig         `yaml:"usage"`
	ChatModes    []ChatModeConfig    `yaml:"chatModes"`
	Translations map[string]Language `yaml:"translations"`
}

type GeneralConfig struct {
	DataDir         string `yaml:"dataDir"`
	LogLevel        string `yaml:"logLevel"`
	DefaultLanguage string `yaml:"defaultLanguage"`
	MetricsAddr     string `yaml:"metricsAddr,omitempty"` // empty = metrics endpoint disabled
}

type TelegramConfig struct {
	Token     string `yaml:"token"`
	ParseMode string `yaml:"parseMode"`
}

// AIConfig holds the per-modality model tables and generation parameters.
type AIConfig struct {
	APIKey  string `yaml:"apiKey"`
	APIBase string `yaml:"apiBase,omitempty"`

	TextGeneration   ModalityConfig `yaml:"textGeneration"`
	Vision           ModalityConfig `yaml:"vision"`
	AudioRecognition ModalityConfig `yaml:"audioRecognition"`
	AudioGeneration  ModalityConfig `yaml:"audioGeneration"`
	ImageGeneration  ModalityConfig `yaml:"imageGeneration"`

	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"maxTokens"`
	RequestTimeout float64 `yaml:"requestTimeoutSeconds"`
}

// ModalityConfig is one modality-type model table. The model whose Default
// flag is set governs pricing for the modality; otherwise the first
// configured model does.
type ModalityConfig struct {
	Enabled bool                   `yaml:"enabled"`
	Models  map[string]ModelConfig `yaml:"models"`

	// ImageSize applies to vision (input) and imageGeneration (output),
	// in WIDTHxHEIGHT form, e.g. "1024x1024".
	ImageSize string `yaml:"imageSize,omitempty"`
	// Voice applies to audioGeneration only.
	Voice string `yaml:"voice,omitempty"`
}

// ModelConfig is a single model record with its rate card.
type ModelConfig struct {
	Name    string     `yaml:"name"`
	Default bool       `yaml:"default,omitempty"`
	Rate    RateConfig `yaml:"rate"`
}

// RateConfig prices a model's resources. Token prices are per 1K tokens,
// pixel prices per 1M pixels, in usage points (1 point = 1 USD).
type RateConfig struct {
	InputTokenPrice  float64 `yaml:"inputTokenPrice"`
	OutputTokenPrice float64 `yaml:"outputTokenPrice"`
	InputPixelPrice  float64 `yaml:"inputPixelPrice,omitempty"`
	OutputPixelPrice float64 `yaml:"outputPixelPrice,omitempty"`
}

type UsageConfig struct {
	DefaultLimit float64 `yaml:"defaultLimit"`
	// ImageSurcharge is added to the pre-flight cost estimate when the
	// incoming message carries an image.
	ImageSurcharge float64 `yaml:"imageSurcharge"`
}

// ChatModeConfig is a named system-prompt preset selectable per chat.
type ChatModeConfig struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	PromptStart    string `yaml:"promptStart"`
	WelcomeMessage string `yaml:"welcomeMessage,omitempty"`
}

// Language is one translation table keyed by message id.
type Language map[string]string

// DefaultConfigDir returns ~/.rolebot.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rolebot"
	}
	return filepath.Join(home, ".rolebot")
}

// DefaultConfigPath returns ~/.rolebot/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Defaults returns a config with sane defaults and a minimal model table.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:         filepath.Join(DefaultConfigDir(), "data"),
			LogLevel:        "info",
			DefaultLanguage: "english",
		},
		Telegram: TelegramConfig{ParseMode: "Markdown"},
		AI: AIConfig{
			TextGeneration: ModalityConfig{
				Enabled: true,
				Models: map[string]ModelConfig{
					"gpt-4o-mini": {
						Name:    "gpt-4o-mini",
						Default: true,
						Rate:    RateConfig{InputTokenPrice: 0.00015, OutputTokenPrice: 0.0006},
					},
				},
			},
			Vision: ModalityConfig{
				Enabled:   true,
				ImageSize: "512x512",
				Models: map[string]ModelConfig{
					"gpt-4o": {
						Name:    "gpt-4o",
						Default: true,
						Rate:    RateConfig{InputTokenPrice: 0.0025, OutputTokenPrice: 0.01, InputPixelPrice: 0.002},
					},
				},
			},
			AudioRecognition: ModalityConfig{
				Enabled: true,
				Models: map[string]ModelConfig{
					"whisper-1": {
						Name:    "whisper-1",
						Default: true,
						Rate:    RateConfig{InputTokenPrice: 0.0001, OutputTokenPrice: 0},
					},
				},
			},
			AudioGeneration: ModalityConfig{
				Enabled: false,
				Voice:   "alloy",
				Models: map[string]ModelConfig{
					"tts-1": {
						Name:    "tts-1",
						Default: true,
						Rate:    RateConfig{InputTokenPrice: 0, OutputTokenPrice: 0.015},
					},
				},
			},
			ImageGeneration: ModalityConfig{
				Enabled:   false,
				ImageSize: "1024x1024",
				Models: map[string]ModelConfig{
					"dall-e-3": {
						Name:    "dall-e-3",
						Default: true,
						Rate:    RateConfig{OutputPixelPrice: 0.038},
					},
				},
			},
			Temperature:    0.7,
			MaxTokens:      2048,
			RequestTimeout: 60,
		},
		Usage: UsageConfig{
			DefaultLimit:   5.0,
			ImageSurcharge: 0.01,
		},
		ChatModes: []ChatModeConfig{
			{
				Name:           "assistant",
				Description:    "General-purpose helpful assistant.",
				PromptStart:    "You are a helpful assistant in a chat. Answer concisely and stay in a friendly register.",
				WelcomeMessage: "Hi! Send me a message, a photo, or a voice note.",
			},
		},
		Translations: map[string]Language{
			"english": {
				"message_rejected":      "Your message was rejected: {reason}",
				"usage_limit_exceeded":  "@{user_handle}, you have reached your usage limit of {usage_limit}.",
				"generation_failed":     "Something went wrong while generating a response. Please try again.",
				"usage_report":          "You have used {usage} of your {limit} limit this month.",
				"fact_added":            "Got it, I will remember that.",
				"facts_cleared":         "All facts about {user_handle} were removed.",
				"mode_set":              "Chat mode set to {mode}.",
				"unknown_mode":          "Unknown chat mode: {mode}.",
				"language_set":          "Language set to {language}.",
			},
		},
	}
}

// Validate checks the parts of the config that must fail at startup rather
// than per request.
func (c *Config) Validate() error {
	if c.AI.APIKey == "" {
		return fmt.Errorf("ai.apiKey is required")
	}
	if !c.AI.TextGeneration.Enabled {
		return fmt.Errorf("ai.textGeneration must be enabled")
	}
	for _, m := range []struct {
		name string
		mc   ModalityConfig
	}{
		{"textGeneration", c.AI.TextGeneration},
		{"vision", c.AI.Vision},
		{"audioRecognition", c.AI.AudioRecognition},
		{"audioGeneration", c.AI.AudioGeneration},
		{"imageGeneration", c.AI.ImageGeneration},
	} {
		if m.mc.Enabled && len(m.mc.Models) == 0 {
			return fmt.Errorf("ai.%s is enabled but has no models", m.name)
		}
	}
	if c.General.DefaultLanguage != "" {
		if _, ok := c.Translations[c.General.DefaultLanguage]; !ok {
			return fmt.Errorf("translations missing default language %q", c.General.DefaultLanguage)
		}
	}
	return nil
}
