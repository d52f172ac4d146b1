// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package store

// StorageConfig controls which backend the store factory uses.
type StorageConfig struct {
	Backend string // "sqlite" or "memory"; empty means "sqlite".
	Path    string // Database file for file-backed backends.
}
