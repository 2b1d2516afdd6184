// Package config defines the gateway's configuration snapshot surface:
// every item spec.md's external-interfaces section enumerates (broker
// connection, TLS policy, device identifier, poll periods, publisher
// tunables, status endpoint). This package is the Go stand-in for the
// out-of-scope "persistent configuration storage" collaborator — it
// implements the snapshot contract only, never persists a write.
//
// Grounded on bcdiaconu-chint-mqtt-modbus-bridge's YAML-loaded
// MQTTConfig (broker/port/credentials nested under a single root
// struct) combined with the teacher's flag-driven main.go overrides.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full snapshot the gateway's components are built from.
type Config struct {
	Serial struct {
		Device string `yaml:"device"`
		Baud   int    `yaml:"baud"`
	} `yaml:"serial"`

	MQTT struct {
		BrokerURI         string        `yaml:"broker_uri"`
		Username          string        `yaml:"username"`
		Password          string        `yaml:"password"`
		KeepAliveSeconds  int           `yaml:"keepalive_seconds"`
		DefaultQoS        byte          `yaml:"default_qos"`
		Retain            bool          `yaml:"retain"`
		TLSEnabled        bool          `yaml:"tls_enabled"`
		VerifyServer      bool          `yaml:"verify_server"`
		ClientCertEnabled bool          `yaml:"client_cert_enabled"`
		CAPemPath         string        `yaml:"ca_pem_path"`
		CertPemPath       string        `yaml:"cert_pem_path"`
		KeyPemPath        string        `yaml:"key_pem_path"`
	} `yaml:"mqtt"`

	DeviceID string `yaml:"device_id"`

	HTTP struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"http"`

	Poll struct {
		LivePeriod           time.Duration `yaml:"live_period"`
		ConfigPeriod         time.Duration `yaml:"config_period"`
		InterRegisterDelay   time.Duration `yaml:"inter_register_delay"`
		ConfigPollingEnabled bool          `yaml:"config_polling_enabled"`
	} `yaml:"poll"`

	Publisher struct {
		Period           time.Duration `yaml:"period"`
		BufferDepth      int           `yaml:"buffer_depth"`
		OfflineBufferOff bool          `yaml:"offline_buffer_off"`
		HTTPEndpoint     string        `yaml:"http_endpoint"`
	} `yaml:"publisher"`

	Status struct {
		Endpoint string        `yaml:"endpoint"`
		Period   time.Duration `yaml:"period"`
	} `yaml:"status"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Key      string `yaml:"key"`
	} `yaml:"redis"`
}

// Load reads a YAML file at path and returns the parsed Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// BindFlags registers the handful of values an operator commonly
// overrides at the command line, matching the teacher's flag.String
// style in main.go — applied after Load so command-line flags win.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Serial.Device, "serial-device", c.Serial.Device, "serial device path")
	fs.IntVar(&c.Serial.Baud, "serial-baud", c.Serial.Baud, "serial baud rate")
	fs.StringVar(&c.DeviceID, "device-id", c.DeviceID, "device identifier for MQTT topics")
}

// Overlay copies the non-empty fields of a Redis-backed snapshot onto c,
// letting an operator push broker/device overrides into the hash at
// Redis.Key without touching the on-disk YAML file.
func (c *Config) Overlay(snap *Config) {
	if snap.Serial.Device != "" {
		c.Serial.Device = snap.Serial.Device
	}
	if snap.MQTT.BrokerURI != "" {
		c.MQTT.BrokerURI = snap.MQTT.BrokerURI
	}
	if snap.MQTT.Username != "" {
		c.MQTT.Username = snap.MQTT.Username
	}
	if snap.MQTT.Password != "" {
		c.MQTT.Password = snap.MQTT.Password
	}
	if snap.DeviceID != "" {
		c.DeviceID = snap.DeviceID
	}
	if snap.Status.Endpoint != "" {
		c.Status.Endpoint = snap.Status.Endpoint
	}
	if snap.Publisher.HTTPEndpoint != "" {
		c.Publisher.HTTPEndpoint = snap.Publisher.HTTPEndpoint
	}
}

// PEMBlobs reads the three PEM files named in MQTT, if configured, into
// memory. Missing paths yield nil slices rather than an error — TLS
// without client certs is valid.
func (c *Config) PEMBlobs() (ca, cert, key []byte, err error) {
	read := func(path string) ([]byte, error) {
		if path == "" {
			return nil, nil
		}
		return os.ReadFile(path)
	}
	if ca, err = read(c.MQTT.CAPemPath); err != nil {
		return nil, nil, nil, fmt.Errorf("config: read CA pem: %w", err)
	}
	if cert, err = read(c.MQTT.CertPemPath); err != nil {
		return nil, nil, nil, fmt.Errorf("config: read cert pem: %w", err)
	}
	if key, err = read(c.MQTT.KeyPemPath); err != nil {
		return nil, nil, nil, fmt.Errorf("config: read key pem: %w", err)
	}
	return ca, cert, key, nil
}
