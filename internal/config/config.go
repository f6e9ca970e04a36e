package config

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env           string              `yaml:"env" env-default:"development"` // environment
	LogLevel      string              `yaml:"log_level" env:"LOG_LEVEL"`
	HTTPServer    HTTPServerConfig    `yaml:"http_server"`
	Database      DatabaseConfig      `yaml:"database"`
	JWT           JWTConfig           `yaml:"jwt"`
	Migrations    MigrationsConfig    `yaml:"migrations"`
	Redis         RedisConfig         `yaml:"redis"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Cron          CronConfig          `yaml:"cron"`
	Orders        OrdersConfig        `yaml:"orders"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Outbox        OutboxConfig        `yaml:"outbox"`
}

// HTTPServerConfig структура http сервера
type HTTPServerConfig struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// DatabaseConfig структура по работе с БД
type DatabaseConfig struct {
	Host     string `yaml:"host" env-default:"localhost"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"-" env:"DB_PASSWORD" env-required:"true"`
	Name     string `yaml:"name" env-required:"true"`
}

// JWTConfig настройка jwt
type JWTConfig struct {
	Secret   string `yaml:"-" env:"JWT_SECRET" env-required:"true"`
	TokenTTL int    `yaml:"token_ttl" env-default:"60"`
}

type MigrationsConfig struct {
	Path string `yaml:"path" env-default:"./migrations"`
}

// RedisConfig: хранилище счётчиков rate limit. Пустой адрес = лимитер в памяти процесса.
type RedisConfig struct {
	Address  string `yaml:"address" env:"REDIS_ADDRESS"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env-default:"0"`
}

// RateLimitConfig: лимиты на отдельные эндпоинты
type RateLimitConfig struct {
	Default RateLimitRule `yaml:"default"`
	Payment RateLimitRule `yaml:"payment"`
}

type RateLimitRule struct {
	Limit  int           `yaml:"limit" env-default:"30"`
	Window time.Duration `yaml:"window" env-default:"1m"`
}

// GatewayConfig: платёжный шлюз. Секрет не обязателен при старте:
// без него проверка платежа вернёт ошибку конфигурации.
type GatewayConfig struct {
	BaseURL string        `yaml:"base_url" env-default:"https://api.portone.io"`
	Secret  string        `yaml:"-" env:"PORTONE_API_SECRET"`
	Timeout time.Duration `yaml:"timeout" env-default:"10s"`
}

type CronConfig struct {
	Secret      string `yaml:"-" env:"CRON_SECRET"`
	BatchSize   int    `yaml:"batch_size" env-default:"100"`
	Concurrency int    `yaml:"concurrency" env-default:"8"`
	// Timeout: сколько может идти один проход, перекрывает http_server.timeout
	Timeout time.Duration `yaml:"timeout" env-default:"5m"`
}

type OrdersConfig struct {
	AutoConfirmAfter time.Duration `yaml:"auto_confirm_after" env-default:"72h"`
}

type NotificationsConfig struct {
	Timeout time.Duration `yaml:"timeout" env-default:"3s"`
}

type OutboxConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env-default:"8"`
	BaseBackoff time.Duration `yaml:"base_backoff" env-default:"30s"`
	Lease       time.Duration `yaml:"lease" env-default:"1m"`
	BatchSize   int           `yaml:"batch_size" env-default:"50"`
}

// MustLoad - если не загружаем - паникуем
func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		log.Fatal("CONFIG_PATH not exists")
	}
	return MustLoadByPath(configPath)
}

func fetchConfigPath() string {
	var path string

	flag.StringVar(&path, "config", "", "path to config file")
	flag.Parse()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return path
}

func MustLoadByPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file not found: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("can't read config file %s: %v", configPath, err)
	}

	return &cfg
}
