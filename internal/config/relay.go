package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// RelayConfig is the signaling relay's configuration.
type RelayConfig struct {
	HTTP HTTPConfig `koanf:"http"`
	Room RoomConfig `koanf:"room"`
	Log  LogConfig  `koanf:"log"`
}

type HTTPConfig struct {
	Host string `koanf:"host"`
	Port uint16 `koanf:"port"`

	// AllowedOrigin is the browser origin accepted for websocket upgrades
	// and CORS. "*" accepts any origin.
	AllowedOrigin string `koanf:"allowed_origin"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type RoomConfig struct {
	// Capacity is the maximum number of members per room. 0 is unbounded.
	Capacity int `koanf:"capacity"`

	// CodeLength is the required room code length. 0 disables validation.
	CodeLength int `koanf:"code_length"`
}

type LogConfig struct {
	Development bool `koanf:"development"`
}

// Addr returns the listen address.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadRelay reads the relay configuration: defaults, then the optional YAML
// file at path, then environment overrides.
func LoadRelay(path string) (*RelayConfig, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv("MXXC_RELAY_CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyRelayDefaults(k)
	if err := applyRelayEnv(k); err != nil {
		return nil, err
	}

	var cfg RelayConfig
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Room.Capacity < 0 || cfg.Room.CodeLength < 0 {
		return nil, fmt.Errorf("room capacity and code length must not be negative")
	}

	return &cfg, nil
}

func applyRelayDefaults(k *koanf.Koanf) {
	setDefault(k, "http.host", "0.0.0.0")
	setDefault(k, "http.port", 3001)
	setDefault(k, "http.allowed_origin", "http://localhost:5173")
	setDefault(k, "http.read_timeout", 10*time.Second)
	setDefault(k, "http.write_timeout", 30*time.Second)
	setDefault(k, "http.shutdown_timeout", 5*time.Second)

	setDefault(k, "room.capacity", 2)
	setDefault(k, "room.code_length", 6)

	setDefault(k, "log.development", false)
}

func applyRelayEnv(k *koanf.Koanf) error {
	if host := os.Getenv("HOST"); host != "" {
		k.Set("http.host", host)
	}
	if port := os.Getenv("PORT"); port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		k.Set("http.port", uint16(n))
	}
	if origin := os.Getenv("CLIENT_URL"); origin != "" {
		k.Set("http.allowed_origin", origin)
	}
	for env, key := range map[string]string{
		"ROOM_CAPACITY":    "room.capacity",
		"ROOM_CODE_LENGTH": "room.code_length",
	} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", env, v, err)
		}
		k.Set(key, n)
	}
	if envBool("LOG_DEVELOPMENT") {
		k.Set("log.development", true)
	}
	return nil
}

// setDefault only sets the value if the key doesn't already exist
func setDefault(k *koanf.Koanf, key string, value any) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}
