// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package sqlite

import (
	"github.com/apc-dev/apc/internal/store"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

func init() {
	store.RegisterBackend("sqlite", newJournal)
}

func newJournal(cfg *store.StorageConfig) (store.Journal, error) {
	if cfg.Path == "" {
		return nil, apcerr.New(apcerr.CodeStoreInvalidInput, "sqlite journal requires a path")
	}
	return NewJournal(cfg.Path)
}
