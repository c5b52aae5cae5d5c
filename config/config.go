package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	DatabaseName      string `mapstructure:"DATABASE_NAME"`
	Env               string `mapstructure:"ENV"`
	JWTSecret         string `mapstructure:"JWT_SECRET"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`
	// TrustedProxies lists the load balancers whose X-Forwarded-For is honoured.
	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB  int    `mapstructure:"REDIS_CACHE_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// M-Pesa Daraja configuration.
	MpesaEnv            string        `mapstructure:"MPESA_ENV"`
	MpesaBaseURL        string        `mapstructure:"MPESA_BASE_URL"`
	MpesaConsumerKey    string        `mapstructure:"MPESA_CONSUMER_KEY"`
	MpesaConsumerSecret string        `mapstructure:"MPESA_CONSUMER_SECRET"`
	MpesaShortcode      string        `mapstructure:"MPESA_SHORTCODE"`
	MpesaPasskey        string        `mapstructure:"MPESA_PASSKEY"`
	MpesaCallbackURL    string        `mapstructure:"MPESA_CALLBACK_URL"`
	MpesaCallbackToken  string        `mapstructure:"MPESA_CALLBACK_TOKEN"`
	MpesaHTTPTimeout    time.Duration `mapstructure:"MPESA_HTTP_TIMEOUT"`
	MpesaPollInterval   time.Duration `mapstructure:"MPESA_POLL_INTERVAL"`
	MpesaPollTimeout    time.Duration `mapstructure:"MPESA_POLL_TIMEOUT"`

	// Billing.
	InvoiceDueDays   int    `mapstructure:"INVOICE_DUE_DAYS"`
	OverdueSweepSpec string `mapstructure:"OVERDUE_SWEEP_SPEC"`

	// Firebase service account used for payment push notifications.
	FirebaseCredentialsFile string `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	// Set default values.
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAX_REQUESTS_PER_MIN", 200)
	viper.SetDefault("TRUSTED_PROXIES", "")
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("DATABASE_NAME", "hospital")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_CACHE_DB", 0)
	viper.SetDefault("REDIS_QUEUE_DB", 3)

	viper.SetDefault("MPESA_ENV", "sandbox")
	viper.SetDefault("MPESA_BASE_URL", "")
	viper.SetDefault("MPESA_SHORTCODE", "174379")
	viper.SetDefault("MPESA_HTTP_TIMEOUT", "15s")
	viper.SetDefault("MPESA_POLL_INTERVAL", "5s")
	viper.SetDefault("MPESA_POLL_TIMEOUT", "60s")

	viper.SetDefault("INVOICE_DUE_DAYS", 30)
	viper.SetDefault("OVERDUE_SWEEP_SPEC", "@hourly")
	viper.SetDefault("FIREBASE_CREDENTIALS_FILE", "")

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

// MpesaBaseURL resolves the Daraja host for the configured environment.
// An explicit MPESA_BASE_URL always wins.
func MpesaBaseURL() string {
	if AppConfig.MpesaBaseURL != "" {
		return AppConfig.MpesaBaseURL
	}
	if AppConfig.MpesaEnv == "production" {
		return "https://api.safaricom.co.ke"
	}
	return "https://sandbox.safaricom.co.ke"
}
