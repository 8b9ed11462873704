package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "SYNCWORKER"

	defaultAWSRegion         = "us-east-1"
	defaultLockNamespace     = "userdb_modify_worker"
	defaultLockTTL           = 6 * time.Minute
	defaultRetryDelaySeconds = 45
	defaultReceiveBatchSize  = 10
	defaultDispatchWorkers   = 4
	defaultCallTimeout       = 30 * time.Second
	defaultLogLevel          = "info"
)

// AppConfig captures runtime configuration for one batch invocation.
type AppConfig struct {
	AWSRegion   string
	QueueURL    string
	BucketName  string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	AuthDBDSN   string
	LockNS      string
	LockTTL     time.Duration
	RetryDelay  int
	BatchSize   int
	Workers     int
	CallTimeout time.Duration
	LogLevel    string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("aws.region", defaultAWSRegion)
	configViper.SetDefault("queue.url", "")
	configViper.SetDefault("snapshot.bucket", "")
	configViper.SetDefault("redis.addr", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("authdb.dsn", "")
	configViper.SetDefault("lock.namespace", defaultLockNamespace)
	configViper.SetDefault("lock.ttl", defaultLockTTL)
	configViper.SetDefault("queue.retry_delay_seconds", defaultRetryDelaySeconds)
	configViper.SetDefault("queue.batch_size", defaultReceiveBatchSize)
	configViper.SetDefault("dispatch.workers", defaultDispatchWorkers)
	configViper.SetDefault("call.timeout", defaultCallTimeout)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		AWSRegion:   configViper.GetString("aws.region"),
		QueueURL:    configViper.GetString("queue.url"),
		BucketName:  configViper.GetString("snapshot.bucket"),
		RedisAddr:   configViper.GetString("redis.addr"),
		RedisPass:   configViper.GetString("redis.password"),
		RedisDB:     configViper.GetInt("redis.db"),
		AuthDBDSN:   configViper.GetString("authdb.dsn"),
		LockNS:      configViper.GetString("lock.namespace"),
		LockTTL:     configViper.GetDuration("lock.ttl"),
		RetryDelay:  configViper.GetInt("queue.retry_delay_seconds"),
		BatchSize:   configViper.GetInt("queue.batch_size"),
		Workers:     configViper.GetInt("dispatch.workers"),
		CallTimeout: configViper.GetDuration("call.timeout"),
		LogLevel:    configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.QueueURL) == "" {
		return fmt.Errorf("queue.url is required")
	}
	if strings.TrimSpace(c.BucketName) == "" {
		return fmt.Errorf("snapshot.bucket is required")
	}
	if strings.TrimSpace(c.RedisAddr) == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if strings.TrimSpace(c.AuthDBDSN) == "" {
		return fmt.Errorf("authdb.dsn is required")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive")
	}
	if c.BatchSize < 1 || c.BatchSize > 10 {
		return fmt.Errorf("queue.batch_size must be between 1 and 10")
	}
	if c.Workers < 1 {
		return fmt.Errorf("dispatch.workers must be positive")
	}
	return nil
}
