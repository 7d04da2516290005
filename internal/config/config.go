// Package config loads wschat server settings from environment variables
// and command line flags.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/textws/ws"
	"github.com/textws/ws/wsutil"
)

// Environment variables read by Load.
const (
	EnvAddr             = "WSCHAT_ADDR"
	EnvMaxMessageSize   = "WSCHAT_MAX_MESSAGE_SIZE"
	EnvMaxRequestSize   = "WSCHAT_MAX_REQUEST_SIZE"
	EnvHandshakeTimeout = "WSCHAT_HANDSHAKE_TIMEOUT"
	EnvReadTimeout      = "WSCHAT_READ_TIMEOUT"
	EnvWriteTimeout     = "WSCHAT_WRITE_TIMEOUT"
	EnvStrictHandshake  = "WSCHAT_STRICT_HANDSHAKE"
	EnvOutboxSize       = "WSCHAT_OUTBOX_SIZE"
	EnvLogLevel         = "WSCHAT_LOG_LEVEL"
	EnvDevelopment      = "WSCHAT_DEVELOPMENT"
)

// Config holds settings of the chat server.
type Config struct {
	// Addr is the TCP address to listen on.
	Addr string `validate:"required,hostname_port"`

	// MaxMessageSize limits text message payload. Zero means no limit.
	MaxMessageSize int64 `validate:"gte=0"`

	// MaxRequestSize limits the handshake request head. Zero means
	// ws.DefaultMaxRequestSize.
	MaxRequestSize int `validate:"gte=0"`

	HandshakeTimeout time.Duration `validate:"gte=0"`
	ReadTimeout      time.Duration `validate:"gte=0"`
	WriteTimeout     time.Duration `validate:"gte=0"`

	// StrictHandshake enables validation of the whole upgrade request, not
	// only of the Sec-WebSocket-Key header.
	StrictHandshake bool

	// OutboxSize is the number of messages queued for a single client before
	// it is considered too slow and dropped.
	OutboxSize int `validate:"gte=1"`

	LogLevel    string `validate:"oneof=debug info warn error"`
	Development bool
}

// Default returns configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Addr:             ":8080",
		MaxMessageSize:   64 << 10,
		MaxRequestSize:   ws.DefaultMaxRequestSize,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      0,
		WriteTimeout:     10 * time.Second,
		StrictHandshake:  false,
		OutboxSize:       64,
		LogLevel:         "info",
		Development:      false,
	}
}

// Load builds configuration from defaults, then environment (looked up with
// getenv), then command line args. The result is validated.
func Load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if err := cfg.fromEnv(getenv); err != nil {
		return cfg, err
	}

	fs := flag.NewFlagSet("wschat", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "address to listen on")
	fs.Int64Var(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "max text message size in bytes, 0 for no limit")
	fs.IntVar(&cfg.MaxRequestSize, "max-request-size", cfg.MaxRequestSize, "max handshake request head size in bytes")
	fs.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "opening handshake timeout")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "idle timeout between client messages")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "timeout of writing a single message")
	fs.BoolVar(&cfg.StrictHandshake, "strict", cfg.StrictHandshake, "validate the whole upgrade request")
	fs.IntVar(&cfg.OutboxSize, "outbox", cfg.OutboxSize, "messages queued per client before it is dropped")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	fs.BoolVar(&cfg.Development, "dev", cfg.Development, "use development logger")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	return cfg, Validate(cfg)
}

// Validate checks cfg against its struct tags.
//
// Returned error may be asserted to validator.ValidationErrors to get the
// list of offending fields.
func Validate(cfg Config) error {
	return validator.New().Struct(cfg)
}

// ConnConfig returns options of client connections.
func (c Config) ConnConfig() wsutil.Config {
	return wsutil.Config{
		Upgrader: ws.Upgrader{
			MaxRequestSize: c.MaxRequestSize,
			Strict:         c.StrictHandshake,
		},
		MaxMessageSize:   c.MaxMessageSize,
		HandshakeTimeout: c.HandshakeTimeout,
		ReadTimeout:      c.ReadTimeout,
		WriteTimeout:     c.WriteTimeout,
		CheckUTF8:        true,
	}
}

func (c *Config) fromEnv(getenv func(string) string) error {
	if getenv == nil {
		return nil
	}
	if v := getenv(EnvAddr); v != "" {
		c.Addr = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	for _, x := range []struct {
		env   string
		parse func(string) error
	}{
		{EnvMaxMessageSize, intVar(&c.MaxMessageSize)},
		{EnvMaxRequestSize, func(s string) (err error) {
			c.MaxRequestSize, err = strconv.Atoi(s)
			return
		}},
		{EnvOutboxSize, func(s string) (err error) {
			c.OutboxSize, err = strconv.Atoi(s)
			return
		}},
		{EnvHandshakeTimeout, durationVar(&c.HandshakeTimeout)},
		{EnvReadTimeout, durationVar(&c.ReadTimeout)},
		{EnvWriteTimeout, durationVar(&c.WriteTimeout)},
		{EnvStrictHandshake, boolVar(&c.StrictHandshake)},
		{EnvDevelopment, boolVar(&c.Development)},
	} {
		v := getenv(x.env)
		if v == "" {
			continue
		}
		if err := x.parse(v); err != nil {
			return fmt.Errorf("config: bad %s value %q: %w", x.env, v, err)
		}
	}
	return nil
}

func intVar(p *int64) func(string) error {
	return func(s string) (err error) {
		*p, err = strconv.ParseInt(s, 10, 64)
		return
	}
}

func durationVar(p *time.Duration) func(string) error {
	return func(s string) (err error) {
		*p, err = time.ParseDuration(s)
		return
	}
}

func boolVar(p *bool) func(string) error {
	return func(s string) (err error) {
		*p, err = strconv.ParseBool(s)
		return
	}
}
