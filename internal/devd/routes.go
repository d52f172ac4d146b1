// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package devd

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

// StatusBody mirrors the WebSocket status query for HTTP callers.
type StatusBody struct {
	Ready               bool   `json:"ready" doc:"Initialization finished and checks passed"`
	ChecksComplete      bool   `json:"checksComplete" doc:"Dependency checks have run"`
	Version             string `json:"version" doc:"Daemon version"`
	PID                 int    `json:"pid" doc:"Daemon process id"`
	Clients             int    `json:"clients" doc:"Connected WebSocket clients"`
	MissingDependencies int    `json:"missingDependencies" doc:"Required dependencies not installed"`
}

// StatusResponse wraps the status response.
type StatusResponse struct {
	Body StatusBody
}

func (d *Daemon) registerRoutes() {
	huma.Register(d.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthBody{Status: "ok"}}, nil
	})

	huma.Register(d.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Daemon readiness and dependency summary",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*StatusResponse, error) {
		st := d.status()
		return &StatusResponse{Body: StatusBody{
			Ready:               st.Ready,
			ChecksComplete:      st.ChecksComplete,
			Version:             st.Version,
			PID:                 st.PID,
			Clients:             d.Clients(),
			MissingDependencies: d.dependencies().MissingCount,
		}}, nil
	})
}
