package app

import (
	"strings"

	"scanwatch/internal/config"
	"scanwatch/internal/storage"
)

func mapStorageConfig(cfg *config.Config, rt *config.Runtime) (storage.Config, bool) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: rt.StorageBusyTimeout,
	}, true
}
