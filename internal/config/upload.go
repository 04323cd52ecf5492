package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// UploadConfig bounds what the image store accepts.
type UploadConfig struct {
	MaxBytes     int64    `mapstructure:"maxBytes"`
	AllowedTypes []string `mapstructure:"allowedTypes"`
}

func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		MaxBytes:     5 << 20,
		AllowedTypes: []string{"image/jpeg", "image/png"},
	}
}

// Allows reports whether the MIME type is on the allow-list.
func (c UploadConfig) Allows(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, allowed := range c.AllowedTypes {
		if strings.ToLower(strings.TrimSpace(allowed)) == mimeType {
			return true
		}
	}
	return false
}

type UploadConfigHolder struct {
	current atomic.Value // holds UploadConfig
}

// NewStaticUploadConfigHolder returns a holder that never reloads.
func NewStaticUploadConfigHolder(cfg UploadConfig) *UploadConfigHolder {
	holder := &UploadConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// NewUploadConfigHolder reads upload.yml and keeps watching it for changes.
func NewUploadConfigHolder(log *zap.Logger) (*UploadConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("upload")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/catalog")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultUploadConfig()
	v.SetDefault("upload.maxBytes", defaults.MaxBytes)
	v.SetDefault("upload.allowedTypes", defaults.AllowedTypes)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var cfg UploadConfig
	if err := v.UnmarshalKey("upload", &cfg); err != nil {
		return nil, err
	}
	if err := validateUploadConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticUploadConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated UploadConfig
		if err := v.UnmarshalKey("upload", &updated); err != nil {
			log.Warn("upload config reload failed", zap.Error(err))
			return
		}
		if err := validateUploadConfig(updated); err != nil {
			log.Warn("invalid upload config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("upload config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *UploadConfigHolder) Get() UploadConfig {
	return h.current.Load().(UploadConfig)
}

func validateUploadConfig(cfg UploadConfig) error {
	if cfg.MaxBytes <= 0 {
		return errors.New("upload.maxBytes must be positive")
	}
	if len(cfg.AllowedTypes) == 0 {
		return errors.New("upload.allowedTypes cannot be empty")
	}
	return nil
}
