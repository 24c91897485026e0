// Package handlers provides HTTP request handlers for the netsweep API.
// This file lists the network adapters discovery can sweep.
package handlers

import (
	"net/http"
	"time"

	"github.com/anstrom/netsweep/internal/discovery"
	"github.com/anstrom/netsweep/internal/logging"
)

// AdapterHandler serves GET /api/v1/adapters.
type AdapterHandler struct {
	targets TargetSource
	logger  *logging.Logger
}

// NewAdapterHandler creates a new adapter handler.
func NewAdapterHandler(targets TargetSource, logger *logging.Logger) *AdapterHandler {
	return &AdapterHandler{
		targets: targets,
		logger:  logger.WithFields("handler", "adapters"),
	}
}

// AdapterResponse describes one adapter and the subnets it exposes.
type AdapterResponse struct {
	Name         string   `json:"name"`
	Index        int      `json:"index"`
	HardwareAddr string   `json:"hardware_addr,omitempty"`
	Subnets      []string `json:"subnets"`
	Eligible     bool     `json:"eligible"`
}

// AdapterListResponse is the body of GET /api/v1/adapters.
type AdapterListResponse struct {
	Adapters  []AdapterResponse `json:"adapters"`
	Timestamp time.Time         `json:"timestamp"`
}

// ListAdapters returns every adapter with its IPv4 subnets.
func (h *AdapterHandler) ListAdapters(w http.ResponseWriter, r *http.Request) {
	adapters, err := h.targets.ListAdapters()
	if err != nil {
		h.logger.Error("Failed to list adapters", "error", err)
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	response := AdapterListResponse{
		Adapters:  make([]AdapterResponse, 0, len(adapters)),
		Timestamp: time.Now().UTC(),
	}
	for _, a := range adapters {
		response.Adapters = append(response.Adapters, toAdapterResponse(a))
	}

	writeJSON(w, r, http.StatusOK, response)
}

func toAdapterResponse(a discovery.Adapter) AdapterResponse {
	subnets := make([]string, 0, len(a.Prefixes))
	for _, p := range a.Prefixes {
		subnets = append(subnets, p.String())
	}
	return AdapterResponse{
		Name:         a.Name,
		Index:        a.Index,
		HardwareAddr: a.HardwareAddr,
		Subnets:      subnets,
		Eligible:     a.Eligible(),
	}
}
