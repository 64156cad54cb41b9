// Package app assembles the store, mirror, library and sync manager from a
// config. Both the server and the admin CLI start from here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gshare/internal/config"
	"gshare/internal/content"
	"gshare/internal/importer"
	"gshare/internal/remote"
	"gshare/internal/store"
	"gshare/internal/syncer"
)

const (
	StoreFileName = "store.sqlite"
	UsersFileName = "users.txt"
)

type App struct {
	Config  config.Config
	Store   *store.Resilient
	Mirror  remote.Mirror
	Library *content.Library
	Sync    *syncer.Manager
}

// Open resolves the data path, opens the store and wires the sync manager.
// The catalog is rebuilt so listings match the stored items.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	dataPath, err := resolveDataPath(cfg)
	if err != nil {
		return nil, err
	}
	cfg.DataPath = dataPath
	if cfg.AuthFile == "" {
		if _, err := os.Stat(filepath.Join(dataPath, UsersFileName)); err == nil {
			cfg.AuthFile = filepath.Join(dataPath, UsersFileName)
		}
	}
	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	primary, err := store.OpenSQLite(ctx, filepath.Join(cfg.DataPath, StoreFileName), store.OpenOptions{
		BusyTimeout: cfg.DBBusyTimeout,
		LockTimeout: cfg.DBLockTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	kv := store.NewResilient(primary)

	mirror, err := remote.Detect(ctx, cfg)
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("remote mirror: %w", err)
	}

	lib := content.NewLibrary(kv)
	mgr := syncer.NewManager(kv, mirror, lib, syncer.Options{
		Workers:        cfg.SyncWorkers,
		LockTimeout:    cfg.DBLockTimeout,
		VerifyAttempts: cfg.DeleteVerifyAttempts,
		VerifyDelay:    cfg.DeleteVerifyDelay,
		Accept:         AcceptKey,
	})
	if err := lib.RebuildCatalog(ctx); err != nil {
		slog.Warn("rebuild catalog", "err", err)
	}
	return &App{Config: cfg, Store: kv, Mirror: mirror, Library: lib, Sync: mgr}, nil
}

// AcceptKey limits sync to item and catalog keys.
func AcceptKey(key string) bool {
	return content.IsItemKey(key) || content.IsCatalogKey(key)
}

// Importer returns the content directory importer, or nil when no content
// path is configured.
func (a *App) Importer() *importer.Importer {
	root := strings.TrimSpace(a.Config.ContentPath)
	if root == "" {
		return nil
	}
	return importer.New(a.Library, importer.Options{
		Root:      root,
		Owner:     a.Config.AuthUser,
		WriteBack: true,
	})
}

func (a *App) Close() error {
	return a.Store.Close()
}

// UsersFile is SHARE_AUTH_FILE, or users.txt inside the data path.
func UsersFile(cfg config.Config) (string, error) {
	if cfg.AuthFile != "" {
		return cfg.AuthFile, nil
	}
	dataPath, err := resolveDataPath(cfg)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataPath, UsersFileName), nil
}

func resolveDataPath(cfg config.Config) (string, error) {
	dataPath := strings.TrimSpace(cfg.DataPath)
	if dataPath == "" {
		return "", fmt.Errorf("data path is required")
	}
	return filepath.Abs(dataPath)
}
