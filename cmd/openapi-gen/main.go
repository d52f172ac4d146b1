// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apc-dev/apc/internal/devd"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/devd.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec builds a reference daemon and extracts the OpenAPI document
// huma derives from its route types. Nothing is served.
func generateSpec() ([]byte, error) {
	d, err := devd.New(devd.Config{Listen: "127.0.0.1:0"})
	if err != nil {
		return nil, apcerr.Errorf(apcerr.CodeCLISetupFailure, "creating devd: %w", err)
	}

	return json.MarshalIndent(d.API().OpenAPI(), "", "  ")
}
