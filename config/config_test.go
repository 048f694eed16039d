package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMQTTConfig_BrokerURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  MQTTConfig
		want string
	}{
		{"defaults", MQTTConfig{}, "tcp://mosquitto:1883"},
		{"full tcp url", MQTTConfig{URL: "mqtt://broker:1999"}, "tcp://broker:1999"},
		{"mqtts default port", MQTTConfig{URL: "mqtts://broker"}, "ssl://broker:8883"},
		{"ws default port", MQTTConfig{URL: "ws://broker"}, "ws://broker:9001/mqtt"},
		{"wss keeps path", MQTTConfig{URL: "wss://broker/ws"}, "wss://broker:9001/ws"},
		{"legacy url as host", MQTTConfig{LegacyURL: "legacy-host"}, "tcp://legacy-host:1883"},
		{"url wins over legacy", MQTTConfig{URL: "mqtt://a:1", LegacyURL: "mqtt://b:2"}, "tcp://a:1"},
		{"host override", MQTTConfig{URL: "mqtt://a:1", Host: "c"}, "tcp://c:1"},
		{"port override", MQTTConfig{URL: "mqtt://a:1", Port: 7}, "tcp://a:7"},
		{"broker port fallback", MQTTConfig{Host: "h", BrokerPort: 8}, "tcp://h:8"},
		{"port beats broker port", MQTTConfig{Port: 5, BrokerPort: 8}, "tcp://mosquitto:5"},
		{"tls flag", MQTTConfig{Host: "h", TLS: "true"}, "ssl://h:1883"},
		{"tls flag disables", MQTTConfig{URL: "mqtts://h", TLS: "0"}, "tcp://h:8883"},
		{"transport override", MQTTConfig{Host: "h", Port: 9001, Transport: "websockets"}, "ws://h:9001/mqtt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.BrokerURL()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("START_MQTT", "")
	t.Setenv("STORE_TIMEOUT", "")
	t.Setenv("CREDENTIAL_ALLOW_RAW_ID", "")
	for _, key := range []string{"STORE_BREAKER_MAX_REQUESTS", "STORE_BREAKER_INTERVAL", "STORE_BREAKER_TIMEOUT", "STORE_BREAKER_FAILURE_RATIO"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "bc/tickets/scan/req", cfg.MQTT.ScanRequestTopic)
	assert.Equal(t, "bc/service/bus-city-api/status", cfg.MQTT.PresenceTopic)
	assert.Equal(t, 3*time.Second, cfg.StoreTimeout)
	assert.True(t, cfg.CredentialAllowRawID)
	assert.Equal(t, "bank-payment-notifications", cfg.PubNubPaymentChannel)
	assert.Equal(t, BreakerConfig{
		MaxRequests:  20,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.6,
	}, cfg.StoreBreaker)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("START_MQTT", "no")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("CREDENTIAL_ALLOW_RAW_ID", "false")
	t.Setenv("MQTT_PORT", "not-a-number")
	t.Setenv("STORE_BREAKER_TIMEOUT", "5s")
	t.Setenv("STORE_BREAKER_FAILURE_RATIO", "0.25")

	cfg := LoadConfig()

	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	assert.False(t, cfg.CredentialAllowRawID)
	assert.Equal(t, 0, cfg.MQTT.Port)
	assert.Equal(t, 5*time.Second, cfg.StoreBreaker.Timeout)
	assert.Equal(t, 0.25, cfg.StoreBreaker.FailureRatio)
}

func TestGetEnvAsDuration_FallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")

	assert.Equal(t, 2*time.Second, getEnvAsDuration("SOME_DURATION", "2s"))
}
