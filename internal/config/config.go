// Package config loads ligochat settings from defaults, an optional YAML file,
// the environment (LIGOCHAT_*) and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zhouzirui/ligochat/internal/service/session"
	"github.com/zhouzirui/ligochat/internal/service/transport"
	pkglog "github.com/zhouzirui/ligochat/pkg/log"
)

const (
	EnvPrefix  = "LIGOCHAT"
	FileName   = "ligochat"
	DefaultURL = "ws://localhost:8080/chat/ws/websocket"
)

// Config aggregates every setting of the client and the bridge.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Session   SessionConfig   `mapstructure:"session"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	STOMP     STOMPConfig     `mapstructure:"stomp"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       pkglog.Config   `mapstructure:"log"`
}

// ServerConfig locates the chat server's STOMP endpoint.
type ServerConfig struct {
	URL      string `mapstructure:"url"`
	Login    string `mapstructure:"login"`
	Passcode string `mapstructure:"passcode"`
	Host     string `mapstructure:"host"`
}

type SessionConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// FeedLimit caps retained feed records; 0 keeps everything.
	FeedLimit int `mapstructure:"feed_limit"`
}

type WebSocketConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
}

type STOMPConfig struct {
	HeartbeatSend     time.Duration `mapstructure:"heartbeat_send"`
	HeartbeatRecv     time.Duration `mapstructure:"heartbeat_recv"`
	DisconnectTimeout time.Duration `mapstructure:"disconnect_timeout"`
}

// HTTPConfig configures the bridge served by `ligochat serve`.
type HTTPConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
}

// NewViper returns a viper instance carrying defaults and environment
// bindings. Callers may bind flags on it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.url", DefaultURL)
	v.SetDefault("server.login", "")
	v.SetDefault("server.passcode", "")
	v.SetDefault("server.host", "")
	v.SetDefault("session.connect_timeout", "10s")
	v.SetDefault("session.feed_limit", 0)
	v.SetDefault("websocket.handshake_timeout", "10s")
	v.SetDefault("websocket.read_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.ping_interval", "25s")
	v.SetDefault("stomp.heartbeat_send", "10s")
	v.SetDefault("stomp.heartbeat_recv", "10s")
	v.SetDefault("stomp.disconnect_timeout", "3s")
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.keep_alive", "15s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.file", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result.
// An explicit file must exist; otherwise ligochat.yaml is looked up in the
// working directory and $HOME/.config/ligochat.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/ligochat")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("invalid server.url %q: %w", c.Server.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server.url %q: scheme must be ws or wss", c.Server.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server.url %q: missing host", c.Server.URL)
	}

	if c.Session.ConnectTimeout <= 0 {
		return fmt.Errorf("session.connect_timeout must be positive, got %s", c.Session.ConnectTimeout)
	}
	if c.Session.FeedLimit < 0 {
		return fmt.Errorf("session.feed_limit must not be negative, got %d", c.Session.FeedLimit)
	}

	durations := map[string]time.Duration{
		"websocket.handshake_timeout": c.WebSocket.HandshakeTimeout,
		"websocket.read_timeout":      c.WebSocket.ReadTimeout,
		"websocket.write_timeout":     c.WebSocket.WriteTimeout,
		"websocket.ping_interval":     c.WebSocket.PingInterval,
		"stomp.heartbeat_send":        c.STOMP.HeartbeatSend,
		"stomp.heartbeat_recv":        c.STOMP.HeartbeatRecv,
		"stomp.disconnect_timeout":    c.STOMP.DisconnectTimeout,
		"http.keep_alive":             c.HTTP.KeepAlive,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", key, d)
		}
	}

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http.addr is required")
	}
	return nil
}

// TransportOptions maps the settings onto a STOMP transport.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		URL:               c.Server.URL,
		Login:             c.Server.Login,
		Passcode:          c.Server.Passcode,
		Host:              c.Server.Host,
		HeartBeatSend:     c.STOMP.HeartbeatSend,
		HeartBeatRecv:     c.STOMP.HeartbeatRecv,
		DisconnectTimeout: c.STOMP.DisconnectTimeout,
		Conn: transport.ConnOptions{
			HandshakeTimeout: c.WebSocket.HandshakeTimeout,
			ReadTimeout:      c.WebSocket.ReadTimeout,
			WriteTimeout:     c.WebSocket.WriteTimeout,
			PingInterval:     c.WebSocket.PingInterval,
		},
	}
}

// SessionOptions maps the settings onto controller options.
func (c *Config) SessionOptions() []session.Option {
	return []session.Option{
		session.WithConnectTimeout(c.Session.ConnectTimeout),
		session.WithFeedLimit(c.Session.FeedLimit),
	}
}
