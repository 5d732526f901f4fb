// Package storage provides the object stores folded profiles are read from
// and results are written to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/flamegiraffe/pkg/config"
)

// Storage is a flat key/value object store. Keys use '/' as separator on
// every backend.
type Storage interface {
	Upload(ctx context.Context, key string, reader io.Reader) error
	// Download fails with a NOT_FOUND error when key does not exist.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete succeeds for missing keys.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the sorted keys that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// GetURL describes where key lives, for logs and messages.
	GetURL(key string) string
}

// StorageType selects the backend in config.StorageConfig.Type.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeCOS   StorageType = "cos"
)

// NewStorage validates cfg and opens the backend it names. An empty type
// means local.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if StorageType(cfg.Type) != StorageTypeCOS {
		return NewLocalStorage(cfg.LocalPath)
	}
	return NewCOSStorage(&COSConfig{
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		SecretID:  cfg.SecretID,
		SecretKey: cfg.SecretKey,
		Domain:    cfg.Domain,
		Scheme:    cfg.Scheme,
	})
}

// ValidateConfig reports the first setting the selected backend is missing.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return errors.New("storage config is nil")
	}

	var required []struct{ value, msg string }
	switch StorageType(cfg.Type) {
	case "", StorageTypeLocal:
		required = []struct{ value, msg string }{
			{cfg.LocalPath, "local storage path is required"},
		}
	case StorageTypeCOS:
		required = []struct{ value, msg string }{
			{cfg.Bucket, "COS bucket is required"},
			{cfg.Region, "COS region is required"},
			{cfg.SecretID, "COS credentials are required"},
			{cfg.SecretKey, "COS credentials are required"},
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}

	for _, r := range required {
		if r.value == "" {
			return errors.New(r.msg)
		}
	}
	return nil
}
