// Package service wires configuration, storage and the profile cache into
// the application service shared by the CLI and the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/flamegiraffe/internal/storage"
	"github.com/flamegiraffe/pkg/config"
	"github.com/flamegiraffe/pkg/utils"
)

var errNotInitialized = errors.New("service not initialized")

// Service owns the object store and the profile cache for a server process.
// Build it with New, then call Initialize once before serving.
type Service struct {
	config   *config.Config
	logger   utils.Logger
	storage  storage.Storage
	profiles *FlameGraphService
}

// New checks cfg and returns an uninitialized Service.
func New(cfg *config.Config, logger utils.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = utils.GetGlobalLogger()
	}
	return &Service{config: cfg, logger: logger}, nil
}

// Initialize opens the configured store and builds the profile cache on top
// of it.
func (s *Service) Initialize(ctx context.Context) error {
	store, err := storage.NewStorage(&s.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	s.logger.WithField("type", s.config.Storage.Type).Debug("Storage initialized")

	profiles, err := NewFlameGraphService(OptionsFromConfig(s.config), store, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize profile cache: %w", err)
	}

	s.storage, s.profiles = store, profiles
	return ctx.Err()
}

func (s *Service) Config() *config.Config { return s.config }

// Storage is nil before Initialize.
func (s *Service) Storage() storage.Storage { return s.storage }

// Profiles is nil before Initialize.
func (s *Service) Profiles() *FlameGraphService { return s.profiles }

// ServiceStats is what /healthz reports next to its status.
type ServiceStats struct {
	StorageType string `json:"storageType"`
	Profiles    int    `json:"profiles"`
	CacheSize   int    `json:"cacheSize"`
}

func (s *Service) Stats() ServiceStats {
	stats := ServiceStats{StorageType: s.config.Storage.Type}
	if s.profiles != nil {
		stats.Profiles = s.profiles.Len()
		stats.CacheSize = s.profiles.opts.CacheSize
	}
	return stats
}

// HealthCheck fails until Initialize has succeeded, and when ctx is done.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.storage == nil || s.profiles == nil {
		return errNotInitialized
	}
	return ctx.Err()
}
