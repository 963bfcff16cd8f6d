package config

import (
	"errors"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env               string           `mapstructure:"env"`
	LogLevel          string           `mapstructure:"log_level"`
	LogType           string           `mapstructure:"log_type"`
	ServiceName       string           `mapstructure:"service_name"`
	Port              string           `mapstructure:"port"`
	Version           string           `mapstructure:"version"`
	Transport         string           `mapstructure:"transport"`
	BrowserSettings   *BrowserConfig   `mapstructure:"browser"`
	RenderSettings    *RenderConfig    `mapstructure:"render"`
	WorkerSettings    *WorkerConfig    `mapstructure:"worker"`
	CacheSettings     *CacheConfig     `mapstructure:"cache"`
	DbSettings        *DatabaseConfig  `mapstructure:"database"`
	KafkaSettings     *KafkaConfig     `mapstructure:"kafka"`
	S3Settings        *S3Config        `mapstructure:"s3"`
	TelemetrySettings *TelemetryConfig `mapstructure:"telemetry"`
	RateLimitSettings *RateLimitConfig `mapstructure:"rate_limit"`
}

// BrowserConfig holds the overridable part of the engine launch. The flag set itself is fixed.
type BrowserConfig struct {
	ExecPath       string `mapstructure:"exec_path"`
	LibraryPath    string `mapstructure:"library_path"`
	InstallDir     string `mapstructure:"install_dir"`
	ListInstallDir bool   `mapstructure:"list_install_dir"`
}

type RenderConfig struct {
	Timeout               time.Duration `mapstructure:"timeout"`
	SettleDelay           time.Duration `mapstructure:"settle_delay"`
	CaptureDelay          time.Duration `mapstructure:"capture_delay"`
	NavigationWaitTimeout time.Duration `mapstructure:"navigation_wait_timeout"`
}

type WorkerConfig struct {
	WorkersNum int `mapstructure:"workers_num"`
}

type CacheConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Servers []string `mapstructure:"servers"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type KafkaConfig struct {
	Producer *ProducerConfig `mapstructure:"producer"`
	Consumer *ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	Addr                []string      `mapstructure:"addr"`
	WriteTopicName      string        `mapstructure:"write_topic_name"`
	DeadLetterTopicName string        `mapstructure:"dlq_topic_name"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchTimeout        time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	RequiredAsks        int           `mapstructure:"required_acks"`
	Async               bool          `mapstructure:"async"`
}

type ConsumerConfig struct {
	ReadTopicName    string        `mapstructure:"read_topic_name"`
	Brokers          []string      `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	ReadBatchTimeout time.Duration `mapstructure:"read_batch_timeout"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	MaxBytes         int           `mapstructure:"max_bytes"`
	CommitInterval   time.Duration `mapstructure:"commit_interval"`
}

type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CollectorUrl string `mapstructure:"collector_url"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

func MustLoad() *Config {
	cfg, err := Load(path.Join("."))
	if err != nil {
		slog.Error("can't initialize config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return cfg
}

// Load reads config.yaml from dir if present. Defaults and environment variables apply either way.
func Load(dir string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using system environment variables.")
	}

	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		slog.Warn("config file not found, using defaults.", slog.String("dir", dir))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "prod")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_type", "text")
	v.SetDefault("service_name", "page-renderer")
	v.SetDefault("port", "8080")
	v.SetDefault("version", "dev")
	v.SetDefault("transport", "lambda")

	v.SetDefault("browser.exec_path", "/opt/chromium/chrome")
	v.SetDefault("browser.library_path", "/opt/chromium/lib:/opt/chromium/swiftshader")
	v.SetDefault("browser.install_dir", "/opt")
	v.SetDefault("browser.list_install_dir", true)

	v.SetDefault("render.timeout", 60*time.Second)
	v.SetDefault("render.settle_delay", 5*time.Second)
	v.SetDefault("render.capture_delay", 2*time.Second)
	v.SetDefault("render.navigation_wait_timeout", 30*time.Second)

	v.SetDefault("worker.workers_num", 1)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.servers", []string{"localhost:11211"})

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.conn_max_lifetime", 10*time.Minute)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 2)

	// Keys without a default are invisible to Unmarshal, so env overrides need one even if empty.
	v.SetDefault("kafka.producer.addr", []string{})
	v.SetDefault("kafka.producer.write_topic_name", "")
	v.SetDefault("kafka.producer.dlq_topic_name", "")
	v.SetDefault("kafka.producer.async", false)
	v.SetDefault("kafka.producer.max_attempts", 3)
	v.SetDefault("kafka.producer.batch_size", 10)
	v.SetDefault("kafka.producer.batch_timeout", time.Second)
	v.SetDefault("kafka.producer.read_timeout", 10*time.Second)
	v.SetDefault("kafka.producer.write_timeout", 10*time.Second)
	v.SetDefault("kafka.producer.required_acks", 1)
	v.SetDefault("kafka.consumer.brokers", []string{})
	v.SetDefault("kafka.consumer.read_topic_name", "")
	v.SetDefault("kafka.consumer.group_id", "")
	v.SetDefault("kafka.consumer.max_wait", time.Second)
	v.SetDefault("kafka.consumer.read_batch_timeout", 10*time.Second)
	v.SetDefault("kafka.consumer.queue_capacity", 100)
	v.SetDefault("kafka.consumer.max_bytes", 10_000_000)
	v.SetDefault("kafka.consumer.commit_interval", time.Second)

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.key_prefix", "renders")
	v.SetDefault("s3.aws_base_endpoint", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.bucket_name", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.collector_url", "")

	v.SetDefault("rate_limit.requests_per_second", 1.0)
	v.SetDefault("rate_limit.burst", 2)
}

// bindEnv maps the engine overrides the runtime image provides.
func bindEnv(v *viper.Viper) error {
	if err := v.BindEnv("browser.exec_path", "CHROME_PATH"); err != nil {
		return err
	}
	return v.BindEnv("browser.library_path", "CHROME_LIBRARY_PATH")
}
