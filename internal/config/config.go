package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"paybridge/internal/payment"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	API      APIConfig
	Log      LogConfig
	Payment  PaymentConfig
	Cron     CronConfig
	Telegram TelegramConfig
}

type ServerConfig struct {
	Port    int
	Env     string // "development", "production"
	BaseURL string
}

type DatabaseConfig struct {
	Driver  string // "mysql" or "sqlite"
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
	Path    string // sqlite file
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type APIConfig struct {
	Key string
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type PaymentConfig struct {
	DefaultDriver string
	MaxItems      int
	StatusPortal  bool
	DedupTTL      time.Duration
	Drivers       map[string]payment.DriverConfig
}

type CronConfig struct {
	ProbeSpec   string
	ExpireSpec  string
	QueueSpec   string
	ReportSpec  string
	ProbeGrace  time.Duration
	ExpireAfter time.Duration
	BatchSize   int
	MaxAttempts int
}

type TelegramConfig struct {
	Token         string
	APIURL        string
	ReportChatIDs []string
}

// driverKeys maps each built-in driver to its environment prefix.
var driverKeys = map[string]string{
	"chip":         "CHIP",
	"toyyibpay":    "TOYYIBPAY",
	"stripe":       "STRIPE",
	"paypal":       "PAYPAL",
	"manual_proof": "MANUAL_PROOF",
	"mercadopago":  "MERCADOPAGO",
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port:    v.GetInt("APP_PORT"),
			Env:     v.GetString("APP_ENV"),
			BaseURL: strings.TrimRight(v.GetString("APP_URL"), "/"),
		},
		Database: loadDatabase(v),
		Redis: RedisConfig{
			Addr: v.GetString("REDIS_ADDR"),
			Pass: v.GetString("REDIS_PASS"),
			DB:   v.GetInt("REDIS_DB"),
		},
		API: APIConfig{
			Key: v.GetString("API_KEY"),
		},
		Log: LogConfig{
			Level:      v.GetString("LOG_LEVEL"),
			File:       v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
		},
		Payment: PaymentConfig{
			DefaultDriver: strings.ToLower(v.GetString("PAYMENT_DEFAULT_DRIVER")),
			MaxItems:      v.GetInt("PAYMENT_MAX_ITEMS"),
			StatusPortal:  v.GetBool("PAYMENT_STATUS_PORTAL"),
			DedupTTL:      v.GetDuration("PAYMENT_DEDUP_TTL"),
			Drivers:       make(map[string]payment.DriverConfig, len(driverKeys)),
		},
		Cron: CronConfig{
			ProbeSpec:   v.GetString("CRON_PROBE_SPEC"),
			ExpireSpec:  v.GetString("CRON_EXPIRE_SPEC"),
			QueueSpec:   v.GetString("CRON_QUEUE_SPEC"),
			ReportSpec:  v.GetString("CRON_REPORT_SPEC"),
			ProbeGrace:  v.GetDuration("CRON_PROBE_GRACE"),
			ExpireAfter: v.GetDuration("CRON_EXPIRE_AFTER"),
			BatchSize:   v.GetInt("CRON_BATCH_SIZE"),
			MaxAttempts: v.GetInt("CRON_MAX_ATTEMPTS"),
		},
		Telegram: TelegramConfig{
			Token:         v.GetString("TELEGRAM_BOT_TOKEN"),
			APIURL:        v.GetString("TELEGRAM_API_URL"),
			ReportChatIDs: splitList(v.GetString("TELEGRAM_REPORT_CHAT_IDS")),
		},
	}

	for name, prefix := range driverKeys {
		cfg.Payment.Drivers[name] = loadDriver(v, prefix, cfg.Payment.MaxItems)
	}

	if cfg.Payment.DefaultDriver != "" {
		if _, ok := driverKeys[cfg.Payment.DefaultDriver]; !ok {
			return nil, fmt.Errorf("%w: PAYMENT_DEFAULT_DRIVER %q", payment.ErrConfiguration, cfg.Payment.DefaultDriver)
		}
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	return cfg, nil
}

// LoadDatabaseOnly reads just the database section, for migrations.
func LoadDatabaseOnly() (*DatabaseConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	db := loadDatabase(v)
	return &db, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", 8080)
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "3306")
	v.SetDefault("DB_CHARSET", "utf8mb4")
	v.SetDefault("DB_PATH", "paybridge.db")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 7)
	v.SetDefault("LOG_MAX_AGE_DAYS", 30)
	v.SetDefault("PAYMENT_DEFAULT_DRIVER", payment.DefaultDriver)
	v.SetDefault("PAYMENT_MAX_ITEMS", payment.DefaultMaxItems)
	v.SetDefault("PAYMENT_STATUS_PORTAL", true)
	v.SetDefault("PAYMENT_DEDUP_TTL", "10m")
	v.SetDefault("CRON_PROBE_SPEC", "0 */5 * * * *")
	v.SetDefault("CRON_EXPIRE_SPEC", "0 0 * * * *")
	v.SetDefault("CRON_QUEUE_SPEC", "0 * * * * *")
	v.SetDefault("CRON_REPORT_SPEC", "0 45 23 * * *")
	v.SetDefault("CRON_PROBE_GRACE", "10m")
	v.SetDefault("CRON_EXPIRE_AFTER", "24h")
	v.SetDefault("CRON_BATCH_SIZE", 50)
	v.SetDefault("CRON_MAX_ATTEMPTS", 5)
	v.SetDefault("TELEGRAM_API_URL", "https://api.telegram.org")
	v.SetDefault("MANUAL_PROOF_ENABLED", true)
	v.SetDefault("TOYYIBPAY_MAX_ITEMS", 5)
}

func loadDatabase(v *viper.Viper) DatabaseConfig {
	return DatabaseConfig{
		Driver:  strings.ToLower(v.GetString("DB_DRIVER")),
		Host:    v.GetString("DB_HOST"),
		Port:    v.GetString("DB_PORT"),
		Name:    v.GetString("DB_NAME"),
		User:    v.GetString("DB_USER"),
		Pass:    v.GetString("DB_PASS"),
		Charset: v.GetString("DB_CHARSET"),
		Path:    v.GetString("DB_PATH"),
	}
}

// loadDriver reads <PREFIX>_* keys. A driver is enabled explicitly, or
// implicitly once any credential is present.
func loadDriver(v *viper.Viper, prefix string, maxItems int) payment.DriverConfig {
	get := func(key string) string { return v.GetString(prefix + "_" + key) }

	d := payment.DriverConfig{
		Sandbox:       v.GetBool(prefix + "_SANDBOX"),
		BaseURL:       get("BASE_URL"),
		SecretKey:     get("SECRET_KEY"),
		PublicKey:     get("PUBLIC_KEY"),
		BrandID:       get("BRAND_ID"),
		CategoryCode:  get("CATEGORY_CODE"),
		ClientID:      get("CLIENT_ID"),
		ClientSecret:  get("CLIENT_SECRET"),
		AccessToken:   get("ACCESS_TOKEN"),
		WebhookSecret: get("WEBHOOK_SECRET"),
		Currency:      get("CURRENCY"),
		Language:      get("LANGUAGE"),
		BrandName:     get("BRAND_NAME"),
		MaxItems:      v.GetInt(prefix + "_MAX_ITEMS"),
		Timeout:       v.GetDuration(prefix + "_TIMEOUT"),
	}
	if d.MaxItems == 0 {
		d.MaxItems = maxItems
	}

	if v.IsSet(prefix + "_ENABLED") {
		d.Enabled = v.GetBool(prefix + "_ENABLED")
	} else {
		d.Enabled = d.SecretKey != "" || d.ClientID != "" || d.AccessToken != ""
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}
