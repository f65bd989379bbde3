package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Validate checks configuration correctness. It never mutates cfg.
func Validate(cfg *Config) error {
	if cfg.NetworkPrefix == "" {
		return errors.New("network_prefix must not be empty")
	}
	for i := 0; i < len(cfg.NetworkPrefix); i++ {
		if cfg.NetworkPrefix[i] > 0x7F {
			return fmt.Errorf("network_prefix %q must contain ASCII characters only", cfg.NetworkPrefix)
		}
	}

	if cfg.Peer.NamePrefix == "" {
		return errors.New("peer.name_prefix must not be empty")
	}
	uuids := map[string]string{
		"peer.service_uuid": cfg.Peer.ServiceUUID,
		"peer.command_uuid": cfg.Peer.CommandUUID,
		"peer.status_uuid":  cfg.Peer.StatusUUID,
	}
	for key, v := range uuids {
		if _, err := uuid.Parse(v); err != nil {
			return fmt.Errorf("%s %q: %w", key, v, err)
		}
	}
	if strings.EqualFold(cfg.Peer.CommandUUID, cfg.Peer.StatusUUID) {
		return errors.New("peer.command_uuid and peer.status_uuid must differ")
	}
	if cfg.Peer.ScanTimeout <= 0 || cfg.Peer.ConnectTimeout <= 0 {
		return errors.New("peer timeouts must be positive")
	}

	if cfg.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("reconnect.max_attempts must be at least 1, got %d", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Reconnect.Delay < 0 {
		return fmt.Errorf("reconnect.delay must not be negative, got %v", cfg.Reconnect.Delay)
	}

	if cfg.Liveness.Interval <= 0 {
		return fmt.Errorf("liveness.interval must be positive, got %v", cfg.Liveness.Interval)
	}
	if cfg.Liveness.Threshold <= 0 {
		return fmt.Errorf("liveness.threshold must be positive, got %v", cfg.Liveness.Threshold)
	}

	if len(cfg.Presets) > 9 {
		return fmt.Errorf("at most 9 presets are supported, got %d", len(cfg.Presets))
	}
	for i, p := range cfg.Presets {
		if p == "" {
			return fmt.Errorf("preset %d is empty", i+1)
		}
	}

	if cfg.Inventory.Dir == "" {
		return errors.New("inventory.dir must not be empty")
	}

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
