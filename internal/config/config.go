package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider names a remote store backend.
const (
	ProviderDrive = "gdrive"
	ProviderS3    = "s3"
)

// Config is the process configuration. Backup policy lives in the database,
// not here; this only covers what a deployment fixes at startup.
type Config struct {
	Port        string `mapstructure:"port"`
	DBPath      string `mapstructure:"db-path"`
	LogLevel    string `mapstructure:"log-level"`
	LogFormat   string `mapstructure:"log-format"`
	StaticDir   string `mapstructure:"static-dir"`
	PublicURL   string `mapstructure:"public-url"`
	AdminToken  string `mapstructure:"admin-token"`
	MetricsPath string `mapstructure:"metrics-path"`

	LockPath          string        `mapstructure:"lock-path"`
	SchedulerInterval time.Duration `mapstructure:"scheduler-interval"`
	SchedulerJitter   time.Duration `mapstructure:"scheduler-jitter"`

	BackupProvider   string        `mapstructure:"backup-provider"`
	BackupPassphrase string        `mapstructure:"backup-passphrase"`
	RemoteTimeout    time.Duration `mapstructure:"remote-timeout"`
	UploadTimeout    time.Duration `mapstructure:"upload-timeout"`

	S3Endpoint string `mapstructure:"s3-endpoint"`
	S3Bucket   string `mapstructure:"s3-bucket"`
	S3Region   string `mapstructure:"s3-region"`

	VAPIDPublicKey  string `mapstructure:"vapid-public-key"`
	VAPIDPrivateKey string `mapstructure:"vapid-private-key"`
	VAPIDSubject    string `mapstructure:"vapid-subject"`
}

// Load reads configuration from LOCALSPEED_* environment variables and, if
// present, a YAML file. An explicit path that does not exist is an error; the
// default path is optional.
func Load(path string) (Config, error) {
	var cfg Config

	v := viper.New()
	v.SetEnvPrefix("LOCALSPEED")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("db-path", "localspeed.db")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	v.SetDefault("static-dir", "static")
	v.SetDefault("public-url", "")
	v.SetDefault("admin-token", "")
	v.SetDefault("metrics-path", "/metrics")
	v.SetDefault("lock-path", "/tmp/localspeed_scheduler.lock")
	v.SetDefault("scheduler-interval", 60*time.Second)
	v.SetDefault("scheduler-jitter", 5*time.Second)
	v.SetDefault("backup-provider", ProviderDrive)
	v.SetDefault("backup-passphrase", "")
	v.SetDefault("remote-timeout", 10*time.Second)
	v.SetDefault("upload-timeout", 2*time.Minute)
	v.SetDefault("s3-endpoint", "")
	v.SetDefault("s3-bucket", "")
	v.SetDefault("s3-region", "us-east-1")
	v.SetDefault("vapid-public-key", "")
	v.SetDefault("vapid-private-key", "")
	v.SetDefault("vapid-subject", "")

	explicit := path != ""
	if !explicit {
		path = "localspeed.yml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot start with.
func (c Config) Validate() error {
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("scheduler-interval must be positive")
	}
	if c.SchedulerJitter < 0 || c.SchedulerJitter >= c.SchedulerInterval {
		return fmt.Errorf("scheduler-jitter must be between 0 and scheduler-interval")
	}
	if c.RemoteTimeout <= 0 || c.UploadTimeout <= 0 {
		return fmt.Errorf("remote-timeout and upload-timeout must be positive")
	}
	switch c.BackupProvider {
	case ProviderDrive, ProviderS3:
	default:
		return fmt.Errorf("unknown backup-provider %q (want %s or %s)", c.BackupProvider, ProviderDrive, ProviderS3)
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("vapid-public-key and vapid-private-key must be set together")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db-path must not be empty")
	}
	return nil
}
