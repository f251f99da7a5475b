package cache

import (
	"path/filepath"

	"github.com/scrypster/schoolintel/internal/config"
)

func configFor(backend, dir string) config.CacheConfig {
	cfg := config.Default().Cache
	cfg.Backend = backend
	cfg.Dir = filepath.Join(dir, backend)
	cfg.SQLitePath = ""
	return cfg
}
