// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package store

import "errors"

// ErrClosed indicates the journal was used after Close.
var ErrClosed = errors.New("journal closed")
