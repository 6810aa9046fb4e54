package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func validTestConfig() *Configuration {
	return &Configuration{
		StationID: 1,
		Realtime: RealtimeConfiguration{
			Transport:            TransportNATS,
			NatsURL:              "nats://127.0.0.1:4222",
			TopicPrefix:          "cardapio.cdc",
			DebounceMS:           300,
			BaseReconnectMS:      1000,
			MaxReconnectMS:       30000,
			MaxReconnectAttempts: 5,
			SettleDelayMS:        100,
		},
		Attendant: AttendantConfiguration{
			PrintedTTLMin:    60,
			PrintedCacheSize: 2048,
		},
		HTTP: HTTPConfiguration{
			BindAddress: "0.0.0.0",
			Port:        8090,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()

	if err := Validate(); err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_InvalidHTTPPort(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()
	Config.HTTP.Port = 70000

	if err := Validate(); err == nil {
		t.Error("Expected error for invalid HTTP port")
	}
}

func TestValidate_UnknownTransport(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()
	Config.Realtime.Transport = "smoke-signals"

	if err := Validate(); err == nil {
		t.Error("Expected error for unknown transport")
	}
}

func TestValidate_KafkaRequiresBrokers(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()
	Config.Realtime.Transport = TransportKafka
	Config.Realtime.KafkaBrokers = nil

	if err := Validate(); err == nil {
		t.Error("Expected error for kafka transport without brokers")
	}

	Config.Realtime.KafkaBrokers = []string{"127.0.0.1:9092"}
	if err := Validate(); err != nil {
		t.Errorf("Expected no error with brokers set, got: %v", err)
	}
}

func TestValidate_BackoffBounds(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()
	Config.Realtime.MaxReconnectMS = 10 // Below base delay

	if err := Validate(); err == nil {
		t.Error("Expected error for max reconnect below base")
	}
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = validTestConfig()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
station_id = 7

[realtime]
transport = "nats"
nats_url = "nats://10.0.0.5:4222"
debounce_ms = 150

[http]
port = 9999
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	if err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if Config.StationID != 7 {
		t.Errorf("Expected station_id 7, got %d", Config.StationID)
	}
	if Config.Realtime.NatsURL != "nats://10.0.0.5:4222" {
		t.Errorf("Unexpected nats_url: %s", Config.Realtime.NatsURL)
	}
	if Config.Realtime.DebounceMS != 150 {
		t.Errorf("Expected debounce_ms 150, got %d", Config.Realtime.DebounceMS)
	}
	if Config.HTTP.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", Config.HTTP.Port)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = validTestConfig()

	if err := Load(filepath.Join(t.TempDir(), "nope.toml")); err != nil {
		t.Fatalf("Load with missing file should not fail: %v", err)
	}
}
