package handlers

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/anstrom/netsweep/internal/logging"
)

// Values of HealthResponse.Status and the scanner check.
const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not configured"
)

// GateStatus is the read side of the probe admission gate.
type GateStatus interface {
	IsHealthy() bool
	GetActive() int
	GetAvailableSlots() int
}

// HealthHandler serves the liveness, health and version endpoints.
type HealthHandler struct {
	gate    GateStatus
	logger  *logging.Logger
	started time.Time
}

// NewHealthHandler returns a handler reporting on gate, which may be nil
// when the server runs without a sweeper.
func NewHealthHandler(gate GateStatus, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{
		gate:    gate,
		logger:  logger.WithComponent("health"),
		started: time.Now(),
	}
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// LivenessResponse is the body of GET /api/v1/liveness.
type LivenessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// VersionResponse is the body of GET /api/v1/version.
type VersionResponse struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	BuildTime string    `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *HealthHandler) uptime() string {
	return time.Since(h.started).Round(time.Millisecond).String()
}

// gateChecks reports the admission gate. A closed gate means no new
// sweeps can start.
func gateChecks(gate GateStatus) (healthy bool, checks map[string]string) {
	if gate == nil {
		return true, map[string]string{"scanner": StatusNotConfigured}
	}
	checks = map[string]string{
		"scanner":         "ok",
		"active_probes":   strconv.Itoa(gate.GetActive()),
		"available_slots": strconv.Itoa(gate.GetAvailableSlots()),
	}
	if !gate.IsHealthy() {
		checks["scanner"] = "closed"
		return false, checks
	}
	return true, checks
}

// Health reports whether the scanner can accept sweeps. It answers 503
// once the gate is closed.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	healthy, checks := gateChecks(h.gate)
	h.logger.Debug("Health check", "remote_addr", r.RemoteAddr, "healthy", healthy)

	resp := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    h.uptime(),
		Checks:    checks,
	}
	code := http.StatusOK
	if !healthy {
		resp.Status = StatusUnhealthy
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, resp)
}

// Liveness answers as long as the process serves HTTP.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		Uptime:    h.uptime(),
	})
}

// Version reports the build the server runs.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, VersionResponse{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Timestamp: time.Now().UTC(),
	})
}

// Set through ldflags by cmd/netsweep.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// SetBuildInfo records the build identifiers served by Version.
func SetBuildInfo(v, c, bt string) {
	version, commit, buildTime = v, c, bt
}
