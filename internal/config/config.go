// batchsync/internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	SFTP        SFTPConfig
	Destination DestinationConfig
	Sync        SyncConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	Schedule    ScheduleConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

// SFTPConfig describes the source file store.
type SFTPConfig struct {
	Host                 string
	Port                 int
	User                 string
	Password             string
	PrivateKeyPath       string
	PrivateKeyPassphrase string
	KnownHostsPath       string
	RemoteDir            string
	DialTimeoutSeconds   int
}

// DestinationConfig describes the object store that receives decompressed files.
type DestinationConfig struct {
	Backend          string
	Bucket           string
	Prefix           string
	ProjectID        string
	CredentialsFile  string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3Region         string
	S3UseSSL         bool
	OpTimeoutSeconds int
}

type SyncConfig struct {
	CompressedExt  string
	LookbackDays   int
	ScratchDir     string
	Timezone       string
	LockTTLSeconds int
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type CacheConfig struct {
	Enabled          bool
	RedisURL         string
	RedisHost        string
	RedisPort        string
	RedisPassword    string
	RedisDB          int
	StatusTTLSeconds int
}

type ScheduleConfig struct {
	Enabled bool
	Cron    string
}

type LogConfig struct {
	Level  string
	Format string
}

var (
	once     sync.Once
	instance *Config
)

func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		setDefaults(viper.GetViper())

		// Read from environment variables
		viper.AutomaticEnv()

		instance = fromViper(viper.GetViper())
	})

	return instance
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "debug")
	v.SetDefault("SERVER_READ_TIMEOUT", 30)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 0)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})

	v.SetDefault("SFTP_PORT", 22)
	v.SetDefault("SFTP_REMOTE_DIR", ".")
	v.SetDefault("SFTP_DIAL_TIMEOUT_SECONDS", 0)

	v.SetDefault("DEST_BACKEND", "gcs")
	v.SetDefault("DEST_PREFIX", "Otros/")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_USE_SSL", true)
	v.SetDefault("DEST_OP_TIMEOUT_SECONDS", 0)

	v.SetDefault("SYNC_COMPRESSED_EXT", ".gz")
	v.SetDefault("SYNC_LOOKBACK_DAYS", 7)
	v.SetDefault("SYNC_SCRATCH_DIR", "")
	v.SetDefault("SYNC_TIMEZONE", "Local")
	v.SetDefault("SYNC_LOCK_TTL_SECONDS", 3600)

	v.SetDefault("DB_ENABLED", false)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "batchsync")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_STATUS_TTL_SECONDS", 60)

	v.SetDefault("SCHEDULE_ENABLED", false)
	v.SetDefault("SCHEDULE_CRON", "0 30 6 * * *")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		SFTP: SFTPConfig{
			Host:                 v.GetString("SFTP_HOST"),
			Port:                 v.GetInt("SFTP_PORT"),
			User:                 v.GetString("SFTP_USER"),
			Password:             v.GetString("SFTP_PASSWORD"),
			PrivateKeyPath:       v.GetString("SFTP_PRIVATE_KEY_PATH"),
			PrivateKeyPassphrase: v.GetString("SFTP_PRIVATE_KEY_PASSPHRASE"),
			KnownHostsPath:       v.GetString("SFTP_KNOWN_HOSTS_PATH"),
			RemoteDir:            v.GetString("SFTP_REMOTE_DIR"),
			DialTimeoutSeconds:   v.GetInt("SFTP_DIAL_TIMEOUT_SECONDS"),
		},
		Destination: DestinationConfig{
			Backend:          strings.ToLower(v.GetString("DEST_BACKEND")),
			Bucket:           v.GetString("DEST_BUCKET"),
			Prefix:           v.GetString("DEST_PREFIX"),
			ProjectID:        v.GetString("GCP_PROJECT_ID"),
			CredentialsFile:  v.GetString("GCP_CREDENTIALS_FILE"),
			S3Endpoint:       v.GetString("S3_ENDPOINT"),
			S3AccessKey:      v.GetString("S3_ACCESS_KEY"),
			S3SecretKey:      v.GetString("S3_SECRET_KEY"),
			S3Region:         v.GetString("S3_REGION"),
			S3UseSSL:         v.GetBool("S3_USE_SSL"),
			OpTimeoutSeconds: v.GetInt("DEST_OP_TIMEOUT_SECONDS"),
		},
		Sync: SyncConfig{
			CompressedExt:  v.GetString("SYNC_COMPRESSED_EXT"),
			LookbackDays:   v.GetInt("SYNC_LOOKBACK_DAYS"),
			ScratchDir:     v.GetString("SYNC_SCRATCH_DIR"),
			Timezone:       v.GetString("SYNC_TIMEZONE"),
			LockTTLSeconds: v.GetInt("SYNC_LOCK_TTL_SECONDS"),
		},
		Database: DatabaseConfig{
			Enabled:  v.GetBool("DB_ENABLED"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Cache: CacheConfig{
			Enabled:          v.GetBool("CACHE_ENABLED"),
			RedisURL:         v.GetString("REDIS_URL"),
			RedisHost:        v.GetString("REDIS_HOST"),
			RedisPort:        v.GetString("REDIS_PORT"),
			RedisPassword:    v.GetString("REDIS_PASSWORD"),
			RedisDB:          v.GetInt("REDIS_DB"),
			StatusTTLSeconds: v.GetInt("CACHE_STATUS_TTL_SECONDS"),
		},
		Schedule: ScheduleConfig{
			Enabled: v.GetBool("SCHEDULE_ENABLED"),
			Cron:    v.GetString("SCHEDULE_CRON"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.SFTP.Host == "" {
		errs = append(errs, errors.New("SFTP_HOST is required"))
	}
	if c.SFTP.User == "" {
		errs = append(errs, errors.New("SFTP_USER is required"))
	}
	if c.SFTP.Password == "" && c.SFTP.PrivateKeyPath == "" {
		errs = append(errs, errors.New("one of SFTP_PASSWORD or SFTP_PRIVATE_KEY_PATH is required"))
	}
	if c.Destination.Bucket == "" {
		errs = append(errs, errors.New("DEST_BUCKET is required"))
	}

	switch c.Destination.Backend {
	case "gcs":
	case "s3":
		if c.Destination.S3Endpoint == "" {
			errs = append(errs, errors.New("S3_ENDPOINT is required for the s3 backend"))
		}
		if c.Destination.S3AccessKey == "" || c.Destination.S3SecretKey == "" {
			errs = append(errs, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("DEST_BACKEND %q is not one of gcs, s3", c.Destination.Backend))
	}

	if c.Sync.CompressedExt == "" {
		errs = append(errs, errors.New("SYNC_COMPRESSED_EXT must not be empty"))
	}
	if c.Sync.LookbackDays < 1 {
		errs = append(errs, errors.New("SYNC_LOOKBACK_DAYS must be at least 1"))
	}
	if _, err := c.Sync.Location(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Location resolves the time zone used to decide what "today" is.
func (s SyncConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || strings.EqualFold(s.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("SYNC_TIMEZONE %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// LockTTL bounds how long a crashed invocation can hold the single-flight lock.
func (s SyncConfig) LockTTL() time.Duration {
	if s.LockTTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(s.LockTTLSeconds) * time.Second
}

func (d DestinationConfig) OpTimeout() time.Duration {
	return time.Duration(d.OpTimeoutSeconds) * time.Second
}

func (s SFTPConfig) DialTimeout() time.Duration {
	return time.Duration(s.DialTimeoutSeconds) * time.Second
}

func (s SFTPConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
