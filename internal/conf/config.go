// Package conf loads service settings from a YAML file, environment
// variables and defaults using viper.
package conf

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/auralink/proactive/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g.
// PROACTIVE_WORKER_BATCH_SIZE.
const EnvPrefix = "PROACTIVE"

// Settings is the root configuration.
type Settings struct {
	Log          LogSettings          `mapstructure:"log" yaml:"log"`
	Database     DatabaseSettings     `mapstructure:"database" yaml:"database"`
	Worker       WorkerSettings       `mapstructure:"worker" yaml:"worker"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification"`
	Sensors      SensorSettings       `mapstructure:"sensors" yaml:"sensors"`
	Redis        RedisSettings        `mapstructure:"redis" yaml:"redis"`
	Push         PushSettings         `mapstructure:"push" yaml:"push"`
	Twilio       TwilioSettings       `mapstructure:"twilio" yaml:"twilio"`
	API          APISettings          `mapstructure:"api" yaml:"api"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
	Realtime     RealtimeSettings     `mapstructure:"realtime" yaml:"realtime"`
}

type LogSettings struct {
	Level string          `mapstructure:"level" yaml:"level"`
	File  LogFileSettings `mapstructure:"file" yaml:"file"`
}

// LogFileSettings configures file rotation. MaxSize is in megabytes and
// MaxAge in days.
type LogFileSettings struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
}

type DatabaseSettings struct {
	Type   string         `mapstructure:"type" yaml:"type"` // sqlite or mysql
	Debug  bool           `mapstructure:"debug" yaml:"debug"`
	SQLite SQLiteSettings `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL  MySQLSettings  `mapstructure:"mysql" yaml:"mysql"`
}

type SQLiteSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type MySQLSettings struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// WorkerSettings controls the rule evaluation cycle.
type WorkerSettings struct {
	BatchSize         int      `mapstructure:"batch_size" yaml:"batch_size"`
	Concurrency       int      `mapstructure:"concurrency" yaml:"concurrency"`
	EvaluationTimeout Duration `mapstructure:"evaluation_timeout" yaml:"evaluation_timeout"`
	Interval          Duration `mapstructure:"interval" yaml:"interval"`
	DispatchWorkers   int      `mapstructure:"dispatch_workers" yaml:"dispatch_workers"`
	DispatchBuffer    int      `mapstructure:"dispatch_buffer" yaml:"dispatch_buffer"`
	LeaseTTL          Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`
	RetentionDays     int      `mapstructure:"retention_days" yaml:"retention_days"`
}

// NotificationSettings controls queue processing and delivery retries.
type NotificationSettings struct {
	QueueBatchSize  int      `mapstructure:"queue_batch_size" yaml:"queue_batch_size"`
	Concurrency     int      `mapstructure:"concurrency" yaml:"concurrency"`
	MaxRetries      int      `mapstructure:"max_retries" yaml:"max_retries"`
	ExpireAfter     Duration `mapstructure:"expire_after" yaml:"expire_after"`
	ProcessInterval Duration `mapstructure:"process_interval" yaml:"process_interval"`
}

type SensorSettings struct {
	TTL  Duration     `mapstructure:"ttl" yaml:"ttl"`
	MQTT MQTTSettings `mapstructure:"mqtt" yaml:"mqtt"`
}

type MQTTSettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker      string `mapstructure:"broker" yaml:"broker"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	QoS         byte   `mapstructure:"qos" yaml:"qos"`
}

type RedisSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

type PushSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"` // shoutrrr service URL
}

type TwilioSettings struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	AccountSID   string  `mapstructure:"account_sid" yaml:"account_sid"`
	AuthToken    string  `mapstructure:"auth_token" yaml:"auth_token"`
	From         string  `mapstructure:"from" yaml:"from"`
	WhatsAppFrom string  `mapstructure:"whatsapp_from" yaml:"whatsapp_from"`
	BaseURL      string  `mapstructure:"base_url" yaml:"base_url"`
	RateLimit    float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // messages per second
}

type APISettings struct {
	Listen    string  `mapstructure:"listen" yaml:"listen"`
	Token     string  `mapstructure:"token" yaml:"token"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second per client
}

type SentrySettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

type RealtimeSettings struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "logs/proactive.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age", 28)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.sqlite.path", "proactive.db")
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.evaluation_timeout", "30s")
	v.SetDefault("worker.interval", "1m")
	v.SetDefault("worker.dispatch_workers", 4)
	v.SetDefault("worker.dispatch_buffer", 256)
	v.SetDefault("worker.lease_ttl", "10m")
	v.SetDefault("worker.retention_days", 30)

	v.SetDefault("notification.queue_batch_size", 100)
	v.SetDefault("notification.concurrency", 10)
	v.SetDefault("notification.max_retries", 3)
	v.SetDefault("notification.expire_after", "24h")
	v.SetDefault("notification.process_interval", "30s")

	v.SetDefault("sensors.ttl", "15m")
	v.SetDefault("sensors.mqtt.client_id", "proactive")
	v.SetDefault("sensors.mqtt.topic_prefix", "senses")
	v.SetDefault("sensors.mqtt.qos", 1)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("twilio.base_url", "https://api.twilio.com")
	v.SetDefault("twilio.rate_limit", 1.0)

	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.rate_limit", 5.0)

	v.SetDefault("realtime.enabled", true)
}

// Load reads settings from configFile, or searches the default locations
// when configFile is empty. A missing config file is not an error.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, dir := range configPaths() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("config_file", configFile).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func configPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "proactive"))
	}
	return append(paths, "/etc/proactive")
}

// Validate checks values that would otherwise fail deep inside a run.
func (s *Settings) Validate() error {
	invalid := func(field string, value any) error {
		return errors.Newf("invalid configuration value for %s", field).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("field", field).
			Context("value", value).
			Build()
	}

	switch s.Database.Type {
	case "sqlite", "mysql":
	default:
		return invalid("database.type", s.Database.Type)
	}
	if s.Worker.BatchSize <= 0 {
		return invalid("worker.batch_size", s.Worker.BatchSize)
	}
	if s.Worker.Concurrency <= 0 {
		return invalid("worker.concurrency", s.Worker.Concurrency)
	}
	if s.Worker.EvaluationTimeout.Std() <= 0 {
		return invalid("worker.evaluation_timeout", s.Worker.EvaluationTimeout)
	}
	if s.Worker.Interval.Std() < time.Second {
		return invalid("worker.interval", s.Worker.Interval)
	}
	if s.Notification.QueueBatchSize <= 0 {
		return invalid("notification.queue_batch_size", s.Notification.QueueBatchSize)
	}
	if s.Notification.MaxRetries < 0 {
		return invalid("notification.max_retries", s.Notification.MaxRetries)
	}
	if s.Sensors.MQTT.Enabled && s.Sensors.MQTT.Broker == "" {
		return invalid("sensors.mqtt.broker", s.Sensors.MQTT.Broker)
	}
	if s.Push.Enabled && s.Push.URL == "" {
		return invalid("push.url", s.Push.URL)
	}
	if s.Twilio.Enabled && (s.Twilio.AccountSID == "" || s.Twilio.AuthToken == "") {
		return invalid("twilio.account_sid", s.Twilio.AccountSID)
	}
	return nil
}
