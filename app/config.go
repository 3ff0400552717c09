package roomcast

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"golang.org/x/exp/maps"

	"github.com/roomcast/roomcast/room"
)

type Config struct {
	// Port is the Port number to listen on. The default is 8080.
	Port int `validate:"required,port" default:"8080"`
	// Hostname is the Hostname to listen on. The default is 0.0.0.0.
	Hostname string `validate:"required" default:"0.0.0.0"`
	Admin    struct {
		// Secret signs admin bearer tokens. It must be a base64 encoded
		// string. The default is a random 32 byte string, which means
		// admin tokens minted against one process do not survive a
		// restart unless the secret is pinned.
		Secret Base64Encoded `validate:"required"`
	}
	SQLite struct {
		// File is the path to the SQLite database file.
		File string `validate:"required"`
		// Migrations is the path to the directory that the migration files reside.
		Migrations string `validate:"required"`
	}
	// AllowedOrigins is a list of origins that are allowed to connect to the server.
	// The default is ["*"].
	AllowedOrigins []string
	// Room tunes the per-room broker. Defaults match the production
	// constants; tests and small deployments may shrink them.
	Room struct {
		FlushDelay       time.Duration `validate:"required"`
		BufferCap        int           `validate:"required,min=1"`
		EagerFlushAt     int           `validate:"required,min=1"`
		MaxFlushAttempts int           `validate:"required,min=1"`
		MessageLimit     int           `validate:"required,min=1"`
		MessageWindow    time.Duration `validate:"required"`
		TypingInterval   time.Duration `validate:"required"`
		TypingSuppressAt int           `validate:"required,min=1"`
	}
	valid bool
}

type Base64Encoded []byte

func (b *Base64Encoded) UnmarshalText(text []byte) error {
	dec, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	*b = dec
	return nil
}

// RoomConfig projects the room tuning section onto the broker's config.
func (c *Config) RoomConfig() room.Config {
	return room.Config{
		FlushDelay:       c.Room.FlushDelay,
		BufferCap:        c.Room.BufferCap,
		EagerFlushAt:     c.Room.EagerFlushAt,
		MaxFlushAttempts: c.Room.MaxFlushAttempts,
		MessageLimit:     c.Room.MessageLimit,
		MessageWindow:    c.Room.MessageWindow,
		TypingInterval:   c.Room.TypingInterval,
		TypingSuppressAt: c.Room.TypingSuppressAt,
	}
}

// LoadConfig loads the configuration from the config file in dir and
// environment variables. A missing config file is fine; missing or
// invalid values are caught in the validation step.
func LoadConfig(dir string) (*Config, error) {
	// Load environment variables from .env first; absence is not an error.
	godotenv.Load()

	config := &Config{}
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(dir)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 8080)
	v.SetDefault("hostname", "0.0.0.0")

	// generate a random secret key
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	v.SetDefault("admin.secret", base64.StdEncoding.EncodeToString(secret))

	v.SetDefault("sqlite.file", "./roomcast.db")
	v.SetDefault("sqlite.migrations", "./migrations")

	v.SetDefault("allowedorigins", "*")

	defaults := room.DefaultConfig()
	v.SetDefault("room.flushdelay", defaults.FlushDelay)
	v.SetDefault("room.buffercap", defaults.BufferCap)
	v.SetDefault("room.eagerflushat", defaults.EagerFlushAt)
	v.SetDefault("room.maxflushattempts", defaults.MaxFlushAttempts)
	v.SetDefault("room.messagelimit", defaults.MessageLimit)
	v.SetDefault("room.messagewindow", defaults.MessageWindow)
	v.SetDefault("room.typinginterval", defaults.TypingInterval)
	v.SetDefault("room.typingsuppressat", defaults.TypingSuppressAt)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		// defer error to validation step
		return config, nil
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	if err := validate.Struct(c); err != nil {
		return err
	}
	c.valid = true
	return nil
}

func FormatValidationErrors(err error) string {
	errors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ""
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errors.Translate(trans)

	var sb strings.Builder
	for _, v := range maps.Values(translated) {
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}
