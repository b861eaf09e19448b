package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"weekcal/internal/config"
)

// ErrNotFound is returned by KV.Get when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// KV is the key-value persistence layer the store snapshots into.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// FileKV keeps one file per key under a directory. Writes are atomic.
type FileKV struct {
	dir string
}

// NewFileKV returns a FileKV rooted at dir. The directory is created lazily.
func NewFileKV(dir string) *FileKV {
	if dir == "" {
		dir = "./var/state"
	}
	return &FileKV{dir: dir}
}

func (f *FileKV) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("store: invalid key %q", key)
	}
	return filepath.Join(f.dir, key+".json"), nil
}

func (f *FileKV) Get(_ context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (f *FileKV) Set(_ context.Context, key string, value []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(p, value)
}

func (f *FileKV) Delete(_ context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FileKV) Close() error { return nil }

// OpenKV builds the backend selected by cfg.Storage.Backend.
func OpenKV(ctx context.Context, cfg *config.Config) (KV, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		return OpenSQLiteKV(ctx, cfg.StoragePath())
	case "redis":
		return NewRedisKV(ctx, RedisOptions{
			Addr:     cfg.Storage.RedisAddr,
			Username: cfg.Storage.RedisUsername,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			Prefix:   cfg.Storage.RedisPrefix,
		})
	default:
		return NewFileKV(cfg.StoragePath()), nil
	}
}
