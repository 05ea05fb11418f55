package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LegacyEncryptionKeyEnv is the variable name older deployments used for the
// chat key. It is honored when no key was supplied through a flag or
// CHAT_ENCRYPTION_KEY.
const LegacyEncryptionKeyEnv = "WEBUI_CHAT_ENCRYPTION_KEY"

// ApplyEnv reads environment variables that have no CLI flag and validates
// the settings flags cannot constrain.
func (c *Config) ApplyEnv() error {
	if c == nil {
		return nil
	}

	if c.EncryptionKey == "" {
		applyStringEnv(LegacyEncryptionKeyEnv, &c.EncryptionKey)
	}

	var err error
	if err = applyBoolEnv("CHAT_ENCRYPTION_DB_MIGRATE_AT_START", &c.DatastoreMigrateAtStart); err != nil {
		return err
	}
	if err = applyIntEnv("CHAT_ENCRYPTION_DB_MAX_OPEN_CONNS", &c.DBMaxOpenConns); err != nil {
		return err
	}
	if err = applyIntEnv("CHAT_ENCRYPTION_DB_MAX_IDLE_CONNS", &c.DBMaxIdleConns); err != nil {
		return err
	}
	if c.BackfillChunkSize <= 0 {
		return fmt.Errorf("invalid backfill chunk size %d: must be positive", c.BackfillChunkSize)
	}
	return nil
}

func applyStringEnv(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = strings.TrimSpace(v)
	}
}

func applyBoolEnv(name string, dst *bool) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = v
	return nil
}

func applyIntEnv(name string, dst *int) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = v
	return nil
}
