// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/wa-stickerbot/pkg/connector/mediafmt"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	defaultReconnectDelay = 10 * time.Second
	defaultAdminAPIAddr   = ":3000"
	defaultQueueSize      = 64
)

// Config holds the sticker bot configuration.
type Config struct {
	// DatabasePath is the SQLite file holding the linked-device credentials.
	DatabasePath string `yaml:"database_path"`
	// DeviceName is shown in the phone's linked devices list.
	DeviceName      string `yaml:"device_name"`
	NetworkLogLevel string `yaml:"network_log_level"`
	// ReconnectDelay is the fixed wait before rebuilding a dropped session.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// QRTerminal prints scan codes to stdout as a terminal QR code.
	QRTerminal bool `yaml:"qr_terminal"`
	// AdminAPIAddr is the listen address for the control HTTP API. Falls
	// back to $PORT, then ":3000". Set to "-" to disable.
	AdminAPIAddr string `yaml:"admin_api_addr"`
	QueueSize    int    `yaml:"queue_size"`

	Sticker   StickerConfig `yaml:"sticker"`
	ClipRetry RetryConfig   `yaml:"clip_retry"`
	Messages  Messages      `yaml:"messages"`

	Logging zeroconfig.Config `yaml:"logging"`

	networkLogLevel zerolog.Level `yaml:"-"`
}

type StickerConfig struct {
	Size        int   `yaml:"size"`
	Quality     int   `yaml:"quality"`
	Method      int   `yaml:"method"`
	MaxFileSize int64 `yaml:"max_file_size"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
}

// Messages holds every user-facing reply.
type Messages struct {
	Help               string `yaml:"help"`
	Info               string `yaml:"info"`
	Ping               string `yaml:"ping"`
	Prompt             string `yaml:"prompt"`
	StickerReply       string `yaml:"sticker_reply"`
	StickerApology     string `yaml:"sticker_apology"`
	ClipApology        string `yaml:"clip_apology"`
	ClipDecryptApology string `yaml:"clip_decrypt_apology"`
}

var defaultMessages = Messages{
	Help: "🤖 *Sticker Bot*\n\n" +
		"📸 Send an image and I'll turn it into a sticker\n" +
		"🎬 Send a video or GIF and I'll send it back as a looping GIF\n\n" +
		"Commands: *help*, *info*, *ping*",
	Info: "ℹ️ *Bot info*\n\n" +
		"Converts images to 512x512 WebP stickers and videos to looping GIFs.\n" +
		"Maximum file size: 10MB",
	Ping:               "🏓 Pong! The bot is alive.",
	Prompt:             "👋 Send me an image for a sticker or a video for a GIF. Type *help* for more.",
	StickerReply:       "😄 Nice sticker! Send me an image and I'll make you one too.",
	StickerApology:     "❌ Sorry, I couldn't turn that image into a sticker. Please try another image.",
	ClipApology:        "❌ Sorry, I couldn't convert that video. Please try again later.",
	ClipDecryptApology: "❌ Sorry, I couldn't decrypt that video. Please send it again.",
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess validates the config and fills in defaults for omitted values.
func (c *Config) PostProcess() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must be set")
	}
	if c.NetworkLogLevel == "" {
		c.NetworkLogLevel = "warn"
	}
	var err error
	c.networkLogLevel, err = zerolog.ParseLevel(c.NetworkLogLevel)
	if err != nil {
		return fmt.Errorf("invalid network_log_level: %w", err)
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.AdminAPIAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			c.AdminAPIAddr = ":" + port
		} else {
			c.AdminAPIAddr = defaultAdminAPIAddr
		}
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Sticker.Size <= 0 {
		c.Sticker.Size = mediafmt.DefaultStickerSize
	}
	if c.Sticker.Quality <= 0 {
		c.Sticker.Quality = mediafmt.DefaultQuality
	}
	if c.Sticker.Quality > 100 {
		return fmt.Errorf("sticker.quality must be at most 100, got %d", c.Sticker.Quality)
	}
	if c.Sticker.Method < 0 || c.Sticker.Method > 6 {
		return fmt.Errorf("sticker.method must be between 0 and 6, got %d", c.Sticker.Method)
	}
	if c.Sticker.MaxFileSize <= 0 {
		c.Sticker.MaxFileSize = mediafmt.DefaultMaxBytes
	}
	if c.ClipRetry.MaxAttempts <= 0 {
		c.ClipRetry.MaxAttempts = 3
	}
	if c.ClipRetry.BackoffBase <= 0 {
		c.ClipRetry.BackoffBase = time.Second
	}
	c.Messages.fillDefaults()
	return nil
}

// NetworkLevel returns the parsed network_log_level. Only valid after
// PostProcess.
func (c *Config) NetworkLevel() zerolog.Level {
	return c.networkLogLevel
}

// AdminAPIEnabled reports whether the control HTTP API should be started.
func (c *Config) AdminAPIEnabled() bool {
	return c.AdminAPIAddr != "-"
}

// StickerOptions converts the sticker block for the media transform.
func (c *Config) StickerOptions() mediafmt.StickerOptions {
	return mediafmt.StickerOptions{
		Size:     c.Sticker.Size,
		Quality:  c.Sticker.Quality,
		Method:   c.Sticker.Method,
		MaxBytes: c.Sticker.MaxFileSize,
	}
}

func (m *Messages) fillDefaults() {
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&m.Help, defaultMessages.Help)
	fill(&m.Info, defaultMessages.Info)
	fill(&m.Ping, defaultMessages.Ping)
	fill(&m.Prompt, defaultMessages.Prompt)
	fill(&m.StickerReply, defaultMessages.StickerReply)
	fill(&m.StickerApology, defaultMessages.StickerApology)
	fill(&m.ClipApology, defaultMessages.ClipApology)
	fill(&m.ClipDecryptApology, defaultMessages.ClipDecryptApology)
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "database_path")
	helper.Copy(up.Str, "device_name")
	helper.Copy(up.Str, "network_log_level")
	helper.Copy(up.Str, "reconnect_delay")
	helper.Copy(up.Bool, "qr_terminal")
	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Int, "queue_size")

	helper.Copy(up.Int, "sticker", "size")
	helper.Copy(up.Int, "sticker", "quality")
	helper.Copy(up.Int, "sticker", "method")
	helper.Copy(up.Int, "sticker", "max_file_size")

	helper.Copy(up.Int, "clip_retry", "max_attempts")
	helper.Copy(up.Str, "clip_retry", "backoff_base")

	helper.Copy(up.Str, "messages", "help")
	helper.Copy(up.Str, "messages", "info")
	helper.Copy(up.Str, "messages", "ping")
	helper.Copy(up.Str, "messages", "prompt")
	helper.Copy(up.Str, "messages", "sticker_reply")
	helper.Copy(up.Str, "messages", "sticker_apology")
	helper.Copy(up.Str, "messages", "clip_apology")
	helper.Copy(up.Str, "messages", "clip_decrypt_apology")

	helper.Copy(up.Map, "logging")
}

// ConfigUpgrader returns the upgrader that merges an existing config file
// into the embedded example config.
func ConfigUpgrader() up.BaseUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"sticker"},
			{"clip_retry"},
			{"messages"},
			{"logging"},
		},
		Base: ExampleConfig,
	}
}

// LoadConfig reads the config file at path, upgrading it against the example
// config and optionally writing the upgraded file back.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, ConfigUpgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and post-processes raw YAML config.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
