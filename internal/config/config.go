package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	DatabaseURL      string // あれば最優先
	PostgresUser     string // DBユーザー
	PostgresPassword string // DBパスワード
	PostgresDB       string // DB名
	PostgresHost     string // DBホスト（localhost）
	PostgresPort     int    // DBポート（5432）
	PostgresSSLMode  string
	DBMaxOpenConns   int
	DBMaxIdleConns   int

	JWTSecret string // JWT署名シークレット

	GoEnv string // dev/prod
	FEURL string // フロントURL（CORS）

	Logger   LoggerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Checkout CheckoutConfig

	RequestTimeout time.Duration
}

type LoggerConfig struct {
	Level             string
	Encoding          string // json / console
	DisableCaller     bool
	DisableStacktrace bool
}

// Addr が空ならRedisは使わない（プロセス内ロック）
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Brokers が空ならイベントはログに出すだけ
type KafkaConfig struct {
	Brokers       []string
	OrderTopic    string
	PaymentTopic  string
	PaymentGroup  string
	ConsumerCount int
}

type CheckoutConfig struct {
	LockTTL            time.Duration
	MetroCities        []string
	MetroShippingFee   string
	DefaultShippingFee string
	TaxRate            string
}

func (c Config) IsProduction() bool {
	return c.GoEnv == "prod" || c.GoEnv == "production"
}

// Loadは環境変数
func Load() (Config, error) {
	pgPort, err := atoiOr("POSTGRES_PORT", 5432)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port: os.Getenv("PORT"),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     pgPort,
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		DBMaxOpenConns:   getEnvInt("POSTGRES_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns:   getEnvInt("POSTGRES_MAX_IDLE_CONNS", 5),

		JWTSecret: os.Getenv("JWT_SECRET"),

		GoEnv: os.Getenv("GO_ENV"),
		FEURL: getEnv("FE_URL", "*"),

		Logger: LoggerConfig{
			Level:             getEnv("LOGGER_LEVEL", "info"),
			Encoding:          getEnv("LOGGER_ENCODING", "json"),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvSlice("KAFKA_BROKERS", nil),
			OrderTopic:    getEnv("KAFKA_TOPIC_ORDERS", "marketplace.orders"),
			PaymentTopic:  getEnv("KAFKA_TOPIC_PAYMENTS", "marketplace.payments"),
			PaymentGroup:  getEnv("KAFKA_GROUP_PAYMENTS", "marketplace-payment-listener"),
			ConsumerCount: getEnvInt("KAFKA_CONSUMER_WORKERS", 4),
		},
		Checkout: CheckoutConfig{
			LockTTL:            getEnvDuration("CHECKOUT_LOCK_TTL", 10*time.Second),
			MetroCities:        getEnvSlice("SHIPPING_METRO_CITIES", []string{"Hanoi", "Ho Chi Minh"}),
			MetroShippingFee:   getEnv("SHIPPING_METRO_FEE", "30000"),
			DefaultShippingFee: getEnv("SHIPPING_DEFAULT_FEE", "50000"),
			TaxRate:            getEnv("TAX_RATE", "0"),
		},

		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
	}

	//必須チェック
	if cfg.Port == "" {
		return Config{}, fmt.Errorf("PORT is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.GoEnv == "" {
		return Config{}, fmt.Errorf("GO_ENV is required")
	}
	// DATABASE_URL が無い場合は個別の値が必要
	if cfg.DatabaseURL == "" {
		if cfg.PostgresUser == "" {
			return Config{}, fmt.Errorf("POSTGRES_USER is required")
		}
		if cfg.PostgresPassword == "" {
			return Config{}, fmt.Errorf("POSTGRES_PASSWORD is required")
		}
		if cfg.PostgresDB == "" {
			return Config{}, fmt.Errorf("POSTGRES_DB is required")
		}
		if cfg.PostgresHost == "" {
			return Config{}, fmt.Errorf("POSTGRES_HOST is required")
		}
	}

	return cfg, nil
}

func atoiOr(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// カンマ区切り。空要素は捨てる
func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
