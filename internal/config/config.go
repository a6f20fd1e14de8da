package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Auth modes
const (
	AuthBasic   = "basic"
	AuthSession = "session"
)

type Config struct {
	DatabasePath      string        `yaml:"database"`
	ImageDir          string        `yaml:"image_dir"`
	Host              string        `yaml:"host"`
	Port              string        `yaml:"port"`
	// PublicURL prefixes broadcast image links, empty keeps them relative
	PublicURL         string        `yaml:"public_url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	AuthMode          string        `yaml:"auth_mode"`
	SessionSecret     string        `yaml:"session_secret"`
	ImageMode         string        `yaml:"image_mode"`
	GalleryInterval   time.Duration `yaml:"gallery_interval"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	MaxImageDimension uint          `yaml:"max_image_dimension"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DatabasePath:      "slideshow.sqlite",
		ImageDir:          filepath.Join(home, "Pictures", "wedding"),
		Host:              "0.0.0.0",
		Port:              "8000",
		Username:          "admin",
		Password:          "horst",
		AuthMode:          AuthBasic,
		ImageMode:         "url",
		GalleryInterval:   15 * time.Second,
		MaxUploadBytes:    32 * 1024 * 1024,
		MaxImageDimension: 1920,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load reads an optional .env file and an optional YAML file named by
// SLIDESHOW_CONFIG, then applies environment variables on top.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Defaults()
	if path := os.Getenv("SLIDESHOW_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DatabasePath = getEnv("SLIDESHOW_DB", c.DatabasePath)
	c.ImageDir = getEnv("SLIDESHOW_IMG_DIR", c.ImageDir)
	c.Host = getEnv("SLIDESHOW_HOST", c.Host)
	c.Port = getEnv("PORT", c.Port)
	c.PublicURL = getEnv("PUBLIC_URL", c.PublicURL)
	c.Username = getEnv("SLIDESHOW_USER", c.Username)
	c.Password = getEnv("SLIDESHOW_PASSWORD", c.Password)
	c.AuthMode = getEnv("AUTH_MODE", c.AuthMode)
	c.SessionSecret = getEnv("SESSION_SECRET", c.SessionSecret)
	c.ImageMode = getEnv("IMAGE_MODE", c.ImageMode)
	c.GalleryInterval = getEnvSeconds("GALLERY_INTERVAL_SECONDS", c.GalleryInterval)
	c.MaxUploadBytes = getEnvInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes)
	c.MaxImageDimension = uint(getEnvInt64("MAX_IMAGE_DIMENSION", int64(c.MaxImageDimension)))
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	switch c.AuthMode {
	case AuthBasic:
	case AuthSession:
		if c.SessionSecret == "" {
			return errors.New("SESSION_SECRET required when AUTH_MODE=session")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q (use basic or session)", c.AuthMode)
	}

	switch c.ImageMode {
	case "url", "inline", "binary":
	default:
		return fmt.Errorf("unknown IMAGE_MODE %q (use url, inline or binary)", c.ImageMode)
	}

	if c.Password == "" {
		return errors.New("SLIDESHOW_PASSWORD must not be empty")
	}
	if c.GalleryInterval <= 0 {
		return errors.New("gallery interval must be positive")
	}
	if c.DatabasePath == "" || c.ImageDir == "" {
		return errors.New("database and image directory are required")
	}
	return nil
}

// Addr is the listen address
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// SlogLevel maps LogLevel to a slog level, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if secs, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return fallback
}
