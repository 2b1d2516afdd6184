package config

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store is an optional Redis-backed configuration snapshot source,
// satisfying the same "give me a Config" contract as Load but reading
// from a hash instead of a file. Grounded directly on the teacher's
// pkg/redis/client.go GetString/GetInt accessors, repurposed here from
// reading scooter state hashes to reading a gateway configuration hash.
type Store struct {
	client *redis.Client
	key    string
}

// NewStore connects to addr and returns a Store reading from the given
// hash key.
func NewStore(addr, password string, db int, key string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("config: connect to redis: %w", err)
	}
	return &Store{client: client, key: key}, nil
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error { return s.client.Close() }

// Snapshot reads every field of the configuration hash and unmarshals
// it into a Config, the same shape Load produces from YAML.
func (s *Store) Snapshot(ctx context.Context) (*Config, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("config: read redis hash %s: %w", s.key, err)
	}
	var cfg Config
	cfg.Serial.Device = fields["serial_device"]
	cfg.MQTT.BrokerURI = fields["mqtt_broker_uri"]
	cfg.MQTT.Username = fields["mqtt_username"]
	cfg.MQTT.Password = fields["mqtt_password"]
	cfg.DeviceID = fields["device_id"]
	cfg.Status.Endpoint = fields["status_endpoint"]
	cfg.Publisher.HTTPEndpoint = fields["publisher_http_endpoint"]
	return &cfg, nil
}

// WriteField writes one configuration field into the hash, mirroring
// the teacher's WriteString (no publish side-effect — config changes
// are picked up by re-reading the snapshot, not by pub/sub).
func (s *Store) WriteField(ctx context.Context, field, value string) error {
	return s.client.HSet(ctx, s.key, field, value).Err()
}
