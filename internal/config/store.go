package config

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/marginalia/pkg/adapters/badger"
	"github.com/aretw0/marginalia/pkg/adapters/file"
	"github.com/aretw0/marginalia/pkg/adapters/memory"
	"github.com/aretw0/marginalia/pkg/adapters/redis"
	"github.com/aretw0/marginalia/pkg/persistence/middleware"
	"github.com/aretw0/marginalia/pkg/ports"
)

// Backend is an opened snapshot store with its optional locker.
type Backend struct {
	Store  ports.SnapshotStore
	Locker ports.DistributedLocker
	close  func() error
}

// Close releases connections and file handles.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenStore builds the configured store and wraps it with the enabled middleware.
// Integrity runs inside encryption, so it always sees plaintext documents.
func OpenStore(cfg StoreConfig, logger *slog.Logger) (*Backend, error) {
	ttl, err := cfg.TTLDuration()
	if err != nil {
		return nil, err
	}

	b := &Backend{}
	switch cfg.Backend {
	case BackendMemory:
		b.Store = memory.NewStore()
	case BackendFile:
		b.Store = file.New(cfg.Path)
	case BackendRedis:
		prefix := cfg.Redis.Prefix
		if prefix == "" {
			prefix = redis.DefaultPrefix
		}
		store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithTTL(ttl),
			redis.WithPrefix(prefix),
		)
		b.Store = store
		b.Locker = redis.NewLocker(store.Client(), prefix)
		b.close = store.Close
	case BackendBadger:
		bcfg := badger.DefaultConfig(cfg.Path)
		bcfg.TTL = ttl
		bcfg.Logger = logger
		store, err := badger.Open(bcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		b.Store = store
		b.close = store.Close
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	// Integrity sits outermost so it sees plaintext documents.
	var mws []middleware.Middleware
	if cfg.Integrity {
		mws = append(mws, middleware.NewIntegrityMiddleware())
	}
	if cfg.EncryptionKey != "" {
		keys, err := cfg.Keys()
		if err != nil {
			b.Close()
			return nil, err
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(keys))
	}
	b.Store = middleware.Chain(b.Store, mws...)
	return b, nil
}
