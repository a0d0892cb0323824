package broker

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bronystylecrazy/reminder/build"
	"github.com/bronystylecrazy/reminder/cfg"
	"github.com/google/uuid"
)

const ConfigKey = "broker"
const ServerConfigKey = "server"

const DefaultEndpoint = "tcp://broker.hivemq.com:1883"
const DefaultKeepalive = 60 * time.Second
const DefaultConnectTimeout = 10 * time.Second
const DefaultInboxSize = 64

type TLSConfig struct {
	CAFile             string `mapstructure:"ca_file"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	ServerName         string `mapstructure:"server_name"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

type Config struct {
	Endpoint       string        `mapstructure:"endpoint"`
	ClientID       string        `mapstructure:"client_id"`
	CleanSession   bool          `mapstructure:"clean_session"`
	Keepalive      time.Duration `mapstructure:"keepalive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	InboxSize      int           `mapstructure:"inbox_size"`
	TLS            TLSConfig     `mapstructure:"tls"`
}

type ServerConfig struct {
	TCPAddress       string `mapstructure:"tcp_address"`
	WebsocketAddress string `mapstructure:"websocket_address"`
}

func ConfigDefaults() []cfg.Option {
	return []cfg.Option{
		cfg.WithDefault(ConfigKey+".endpoint", DefaultEndpoint),
		cfg.WithDefault(ConfigKey+".client_id", ""),
		cfg.WithDefault(ConfigKey+".clean_session", true),
		cfg.WithDefault(ConfigKey+".keepalive", DefaultKeepalive.String()),
		cfg.WithDefault(ConfigKey+".connect_timeout", DefaultConnectTimeout.String()),
		cfg.WithDefault(ConfigKey+".inbox_size", DefaultInboxSize),
		cfg.WithDefault(ServerConfigKey+".tcp_address", ":1883"),
		cfg.WithDefault(ServerConfigKey+".websocket_address", ""),
	}
}

// ClientConfig resolves TLS material and fills in a generated client id.
func (c Config) ClientConfig() (ClientConfig, error) {
	tlsCfg, err := c.TLS.Load()
	if err != nil {
		return ClientConfig{}, fmt.Errorf("broker: load tls config: %w", err)
	}

	clientID := strings.TrimSpace(c.ClientID)
	if clientID == "" {
		clientID = DefaultClientID()
	}

	return ClientConfig{
		Endpoint:       c.Endpoint,
		ClientID:       clientID,
		CleanSession:   c.CleanSession,
		Keepalive:      c.Keepalive,
		ConnectTimeout: c.ConnectTimeout,
		InboxSize:      c.InboxSize,
		TLSConfig:      tlsCfg,
	}, nil
}

var invalidClientIDRunes = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func DefaultClientID() string {
	base := invalidClientIDRunes.ReplaceAllString(strings.TrimSpace(build.Name), "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "reminder"
	}
	return base + "-" + uuid.NewString()
}
