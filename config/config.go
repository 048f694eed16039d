package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string
	LogLevel    string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey     string
	PubNubSubscribeKey   string
	PubNubSecretKey      string
	PubNubUserID         string
	PubNubPaymentChannel string

	MQTT MQTTConfig

	// Timeout configuration
	StoreTimeout   time.Duration
	PublishTimeout time.Duration

	// Circuit breaker around scan-time store lookups
	StoreBreaker BreakerConfig

	// Credential configuration
	CredentialKeyDir     string
	CredentialTokenTTL   time.Duration
	CredentialAllowRawID bool

	// Rate limiting
	RateLimitPerMinute int

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

type BreakerConfig struct {
	MaxRequests  int
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
}

// MQTTConfig holds the raw broker settings. BrokerURL resolves them.
type MQTTConfig struct {
	Enabled    bool
	URL        string
	LegacyURL  string
	Host       string
	Port       int
	BrokerPort int
	Username   string
	Password   string
	Transport  string
	TLS        string

	ScanRequestTopic   string
	ScanResponsePrefix string
	EventTopicFormat   string
	PresenceTopic      string
	ClientIDPrefix     string
	KeepAlive          time.Duration
	InboundBuffer      int
}

func LoadConfig() *Config {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:     getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey:   getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:      getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:         getEnv("PUBNUB_USER_ID", "bus-city-api"),
		PubNubPaymentChannel: getEnv("PUBNUB_PAYMENT_CHANNEL", "bank-payment-notifications"),

		// MQTT
		MQTT: MQTTConfig{
			Enabled:    getEnvAsBool("START_MQTT", true),
			URL:        getEnv("MQTT_URL", ""),
			LegacyURL:  getEnv("MQTT_BROKER_URL", ""),
			Host:       getEnv("MQTT_HOST", ""),
			Port:       getEnvAsInt("MQTT_PORT", 0),
			BrokerPort: getEnvAsInt("MQTT_BROKER_PORT", 0),
			Username:   getEnv("MQTT_USERNAME", ""),
			Password:   getEnv("MQTT_PASSWORD", ""),
			Transport:  getEnv("MQTT_TRANSPORT", ""),
			TLS:        getEnv("MQTT_TLS", ""),

			ScanRequestTopic:   getEnv("MQTT_SCAN_REQ_TOPIC", "bc/tickets/scan/req"),
			ScanResponsePrefix: getEnv("MQTT_SCAN_RESP_PREFIX", "bc/tickets/scan/resp"),
			EventTopicFormat:   getEnv("MQTT_EVENT_TOPIC_FORMAT", "bc/users/%s/tickets/%s/events"),
			PresenceTopic:      getEnv("MQTT_PRESENCE_TOPIC", "bc/service/bus-city-api/status"),
			ClientIDPrefix:     getEnv("MQTT_CLIENT_ID_PREFIX", "bus-city-api"),
			KeepAlive:          getEnvAsDuration("MQTT_KEEPALIVE", "30s"),
			InboundBuffer:      getEnvAsInt("MQTT_INBOUND_BUFFER", 1024),
		},

		// Timeouts
		StoreTimeout:   getEnvAsDuration("STORE_TIMEOUT", "3s"),
		PublishTimeout: getEnvAsDuration("PUBLISH_TIMEOUT", "5s"),

		StoreBreaker: BreakerConfig{
			MaxRequests:  getEnvAsInt("STORE_BREAKER_MAX_REQUESTS", 20),
			Interval:     getEnvAsDuration("STORE_BREAKER_INTERVAL", "60s"),
			Timeout:      getEnvAsDuration("STORE_BREAKER_TIMEOUT", "30s"),
			FailureRatio: getEnvAsFloat("STORE_BREAKER_FAILURE_RATIO", 0.6),
		},

		// Credentials
		CredentialKeyDir:     getEnv("CREDENTIAL_KEY_DIR", "pb_data/keys"),
		CredentialTokenTTL:   getEnvAsDuration("CREDENTIAL_TOKEN_TTL", "8760h"),
		CredentialAllowRawID: getEnvAsBool("CREDENTIAL_ALLOW_RAW_ID", true),

		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

// BrokerURL resolves the broker address in order: a full URL from MQTT_URL
// or MQTT_BROKER_URL, then explicit host/port overrides, then defaults.
// The result is in the form paho expects (tcp://, ssl://, ws://, wss://).
func (c MQTTConfig) BrokerURL() (string, error) {
	var (
		host      string
		port      int
		path      string
		transport = "tcp"
		useTLS    bool
	)

	raw := firstNonEmpty(c.URL, c.LegacyURL)
	if raw != "" {
		if strings.Contains(raw, "://") {
			u, err := url.Parse(raw)
			if err != nil {
				return "", fmt.Errorf("parse mqtt url: %w", err)
			}
			host = u.Hostname()
			port, _ = strconv.Atoi(u.Port())
			path = u.Path
			switch u.Scheme {
			case "ws", "wss":
				transport = "websockets"
			}
			switch u.Scheme {
			case "wss", "mqtts", "ssl", "tls":
				useTLS = true
			}
			if port == 0 {
				switch {
				case transport == "websockets":
					port = 9001
				case useTLS:
					port = 8883
				default:
					port = 1883
				}
			}
		} else {
			host = raw
		}
	}

	host = firstNonEmpty(c.Host, host, "mosquitto")
	switch {
	case c.Port > 0:
		port = c.Port
	case c.BrokerPort > 0:
		port = c.BrokerPort
	case port == 0:
		port = 1883
	}

	if c.Transport != "" {
		transport = strings.ToLower(c.Transport)
		if transport == "ws" {
			transport = "websockets"
		}
	}
	if c.TLS != "" {
		useTLS = truthy(c.TLS)
	}

	var scheme string
	switch {
	case transport == "websockets" && useTLS:
		scheme = "wss"
	case transport == "websockets":
		scheme = "ws"
	case useTLS:
		scheme = "ssl"
	default:
		scheme = "tcp"
	}
	if strings.HasPrefix(scheme, "ws") && path == "" {
		path = "/mqtt"
	}
	if !strings.HasPrefix(scheme, "ws") {
		path = ""
	}

	return fmt.Sprintf("%s://%s:%d%s", scheme, host, port, path), nil
}

func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	switch valueStr {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
