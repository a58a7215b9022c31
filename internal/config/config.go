package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the binaries read from the environment.
type Config struct {
	HTTPPort string

	PaymentAPIURL    string
	PaymentShopID    string
	PaymentSecretKey string
	PaymentReturnURL string

	KafkaBrokers           []string
	NotificationsTopic     string
	OutboxPollInterval     time.Duration
	OutboxBatchSize        int
	OutboxMaxAttempts      int
	StatusSyncInterval     time.Duration
	CDEKTestMode           bool
	ConfirmationURLBase    string
	OperatorUsername       string
	OperatorPassword       string
	ShutdownTimeout        time.Duration
}

func LoadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal("Error getting working directory:", err)
	}

	possiblePaths := []string{
		filepath.Join(wd, ".env"),
		filepath.Join(wd, "..", ".env"),
		filepath.Join(wd, "..", "..", ".env"),
	}

	for _, envPath := range possiblePaths {
		if err := godotenv.Load(envPath); err == nil {
			log.Printf("Loaded environment variables from %s", envPath)
			return
		}
	}

	for _, envPath := range possiblePaths {
		examplePath := filepath.Join(filepath.Dir(envPath), ".example.env")
		if err := godotenv.Load(examplePath); err == nil {
			log.Printf("Loaded environment variables from %s", examplePath)
			return
		}
	}

	log.Println("No .env file found, relying on process environment")
}

func Load() *Config {
	LoadEnv()

	return &Config{
		HTTPPort:            getEnv("HTTP_PORT", "9000"),
		PaymentAPIURL:       getEnv("PAYMENT_API_URL", "https://api.yookassa.ru/v3"),
		PaymentShopID:       os.Getenv("PAYMENT_SHOP_ID"),
		PaymentSecretKey:    os.Getenv("PAYMENT_SECRET_KEY"),
		PaymentReturnURL:    getEnv("PAYMENT_RETURN_URL", "https://localhost/payment/result"),
		KafkaBrokers:        strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		NotificationsTopic:  getEnv("KAFKA_NOTIFICATIONS_TOPIC", "notifications"),
		OutboxPollInterval:  getDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:     getInt("OUTBOX_BATCH_SIZE", 20),
		OutboxMaxAttempts:   getInt("OUTBOX_MAX_ATTEMPTS", 5),
		StatusSyncInterval:  getDuration("STATUS_SYNC_INTERVAL", 5*time.Minute),
		CDEKTestMode:        getEnv("CDEK_TEST_MODE", "false") == "true",
		ConfirmationURLBase: getEnv("CONFIRMATION_URL_BASE", "https://localhost/orders"),
		OperatorUsername:    getEnv("OPERATOR_USERNAME", "operator"),
		OperatorPassword:    os.Getenv("OPERATOR_PASSWORD"),
		ShutdownTimeout:     getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
