// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package store

import (
	"sort"
	"sync"

	apcerr "github.com/apc-dev/apc/pkg/errors"
)

// JournalFactory opens a journal for the given config.
type JournalFactory func(cfg *StorageConfig) (Journal, error)

var (
	factories   = map[string]JournalFactory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers the factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f JournalFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends lists the registered backend names.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg *StorageConfig) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// NewJournal opens the journal for cfg's backend.
func NewJournal(cfg *StorageConfig) (Journal, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, apcerr.Errorf(apcerr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	return factory(cfg)
}
