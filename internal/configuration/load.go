package configuration

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultDir = "config"

var (
	ErrMissingReplicaID = errors.New("node.replica-id must be set")

	ErrUnknownBackend = errors.New("unknown storage backend")

	ErrInvalidPeerID = errors.New("cluster.peers ids must be non-zero")

	ErrMissingCoordinatorAddr = errors.New("node.coordinator-addr must be set when the coordinator runs elsewhere")
)

// Load reads application.yml from dir, overlays application-<profile>.yml
// when a profile is set, fills defaults and validates the result.
func Load(dir string) (*Properties, error) {
	cfg := &Properties{}

	if err := loadYaml(dir, "application", cfg); err != nil {
		slog.Error("Error loading base config", "error", err)
		return nil, err
	}

	if profile := cfg.App.Profile; profile != "" {
		if err := loadYaml(dir, "application-"+profile, cfg); err != nil {
			slog.Error("Error loading profile config", "profile", profile, "error", err)
			return nil, err
		}
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYaml(dir, name string, out *Properties) error {
	file := filepath.Join(dir, name+".yml")

	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	expanded, err := ExpandEnvStrict(string(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}
	return nil
}

func applyDefaults(cfg *Properties) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}

	c := &cfg.Coordinator
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.DispatchInterval == 0 {
		c.DispatchInterval = 100 * time.Millisecond
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 500 * time.Millisecond
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}

	if cfg.Replica.LivenessTimeout == 0 {
		cfg.Replica.LivenessTimeout = 5 * time.Second
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageBackendWAL
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "data"
	}

	if cfg.Transport.Port == "" {
		cfg.Transport.Port = "7100"
	}
	if cfg.Transport.DialTimeout == 0 {
		cfg.Transport.DialTimeout = 2 * time.Second
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9100"
	}
	if cfg.Node.Coordinator && cfg.HTTP.Address == "" {
		cfg.HTTP.Address = ":8080"
	}
}

func validate(cfg *Properties) error {
	if cfg.Node.ReplicaID == 0 {
		return ErrMissingReplicaID
	}
	switch cfg.Storage.Backend {
	case StorageBackendMemory, StorageBackendWAL:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Storage.Backend)
	}
	if !cfg.Node.Coordinator && cfg.Node.CoordinatorAddr == "" {
		return ErrMissingCoordinatorAddr
	}
	for id, addr := range cfg.Cluster.Peers {
		if id == 0 {
			return fmt.Errorf("%w: peer at %s", ErrInvalidPeerID, addr)
		}
	}
	return nil
}
