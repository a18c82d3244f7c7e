package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caremesh/ehrbridge/audit"
	"github.com/caremesh/ehrbridge/connector"
	"github.com/caremesh/ehrbridge/messaging"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

type Config struct {
	// Public holds the configuration for the public interface.
	Public InterfaceConfig `koanf:"public"`
	// Vendors holds the configured EHR vendors, keyed by vendor ID.
	Vendors    connector.Config `koanf:"vendor"`
	Audit      audit.Config     `koanf:"audit"`
	Messaging  messaging.Config `koanf:"messaging"`
	LogLevel   zerolog.Level    `koanf:"loglevel"`
	StrictMode bool             `koanf:"strictmode"`
}

func (c Config) Validate() error {
	if len(c.Vendors) == 0 {
		return errors.New("no vendors are configured")
	}
	if err := c.Vendors.Validate(); err != nil {
		return fmt.Errorf("invalid vendor configuration: %w", err)
	}
	if err := c.Messaging.Validate(c.StrictMode); err != nil {
		return fmt.Errorf("invalid messaging configuration: %w", err)
	}
	if c.Public.Address == "" {
		return errors.New("public address is not configured")
	}
	return nil
}

// InterfaceConfig holds the configuration for an HTTP interface.
type InterfaceConfig struct {
	// Address holds the address to listen on.
	Address string `koanf:"address"`
}

// LoadConfig loads the configuration from the environment.
func LoadConfig() (*Config, error) {
	result := DefaultConfig()
	err := loadConfigInto(&result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func loadConfigInto(target any) error {
	k := koanf.New(".")
	err := k.Load(env.ProviderWithValue("EHRBRIDGE_", ".", func(key string, value string) (string, interface{}) {
		key = strings.Replace(strings.ToLower(strings.TrimPrefix(key, "EHRBRIDGE_")), "_", ".", -1)
		if len(value) == 0 {
			return key, nil
		}
		sliceValues := splitWithEscaping(value, ",", "\\")
		for i, s := range sliceValues {
			sliceValues[i] = strings.TrimSpace(s)
		}
		var parsedValue any = sliceValues
		if len(sliceValues) == 1 {
			parsedValue = sliceValues[0]
		}
		return key, parsedValue
	}), nil)
	if err != nil {
		return err
	}
	return k.Unmarshal("", target)
}

func splitWithEscaping(s, separator, escape string) []string {
	s = strings.ReplaceAll(s, escape+separator, "\x00")
	tokens := strings.Split(s, separator)
	for i, token := range tokens {
		tokens[i] = strings.ReplaceAll(token, "\x00", separator)
	}
	return tokens
}

// DefaultConfig returns sensible, but not complete, default configuration values.
func DefaultConfig() Config {
	return Config{
		LogLevel:   zerolog.InfoLevel,
		StrictMode: true,
		Public: InterfaceConfig{
			Address: ":8080",
		},
		Audit: audit.DefaultConfig(),
	}
}
