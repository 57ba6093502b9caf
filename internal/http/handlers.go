package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sensorsp/widget-engine/internal/cache"
	"github.com/sensorsp/widget-engine/internal/circuitbreaker"
	"github.com/sensorsp/widget-engine/internal/interval"
	"github.com/sensorsp/widget-engine/internal/models"
	"github.com/sensorsp/widget-engine/internal/observability"
	"github.com/sensorsp/widget-engine/internal/traffic"
	"github.com/sensorsp/widget-engine/internal/validation"
	"github.com/sensorsp/widget-engine/internal/widget"
)

// HealthConfig holds thresholds and probes for the health handler.
type HealthConfig struct {
	// Window is how far back fetch outcomes are considered.
	Window time.Duration
	// DegradedErrorPct is the share of degraded fetches that marks the engine degraded.
	DegradedErrorPct int
	StartTime        time.Time
	// Breaker, when set, reports the sensor provider breaker state.
	Breaker *circuitbreaker.CircuitBreaker
	// StorePing, when set, checks store reachability.
	StorePing func() error
}

// Handler holds dependencies for the host adapter endpoints.
type Handler struct {
	dispatcher   *widget.Dispatcher
	cache        *cache.Cache
	power        *interval.HostState
	policy       *interval.Policy
	tracker      *traffic.Tracker
	healthConfig *HealthConfig
	clock        clockwork.Clock
	logger       *zap.Logger

	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. power may be nil when the engine reads
// power state from another source; PUT /device/power then answers 409.
func NewHandler(
	dispatcher *widget.Dispatcher,
	c *cache.Cache,
	power *interval.HostState,
	policy *interval.Policy,
	tracker *traffic.Tracker,
	healthConfig *HealthConfig,
	clock clockwork.Clock,
	logger *zap.Logger,
) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handler{
		dispatcher:   dispatcher,
		cache:        c,
		power:        power,
		policy:       policy,
		tracker:      tracker,
		healthConfig: healthConfig,
		clock:        clock,
		logger:       logger,
	}
}

// SetShuttingDown flips /health to shutting-down while the process drains.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

type eventRequest struct {
	VariantName string `json:"variantName"`
	EventType   string `json:"eventType"`
	SubAction   string `json:"subAction"`
	DarkMode    bool   `json:"darkMode"`
}

// PostEvent handles POST /widgets/{id}/events.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}
	var body eventRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON event")
		return
	}
	if body.EventType == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_EVENT", "eventType is required")
		return
	}

	out := h.dispatcher.Handle(r.Context(), models.Event{
		InstanceID:  id,
		VariantName: body.VariantName,
		Type:        models.EventType(body.EventType),
		SubAction:   models.SubAction(body.SubAction),
		DarkMode:    body.DarkMode,
	})
	writeJSON(w, http.StatusOK, out)
}

type configRequest struct {
	VariantName string `json:"variantName"`
	SensorID    string `json:"sensorId"`
	SensorName  string `json:"sensorName"`
	UserID      string `json:"userId"`
	Theme       string `json:"theme"`
	DarkMode    bool   `json:"darkMode"`
}

// PutConfig handles PUT /widgets/{id}/config, the configuration flow result.
func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}
	var body configRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON configuration")
		return
	}
	sensorID, err := validation.ValidateID(body.SensorID)
	if err != nil && !errors.Is(err, validation.ErrIDEmpty) {
		writeError(w, r, http.StatusBadRequest, "INVALID_CONFIG", "sensorId: "+err.Error())
		return
	}
	userID, err := validation.ValidateOptionalID(body.UserID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CONFIG", "userId: "+err.Error())
		return
	}

	result := h.dispatcher.Configure(r.Context(), id, body.VariantName, models.WidgetConfig{
		SensorID:   sensorID,
		SensorName: body.SensorName,
		UserID:     userID,
		Theme:      models.Theme(body.Theme),
	}, body.DarkMode)
	writeJSON(w, http.StatusOK, map[string]string{"result": string(result)})
}

type snapshotResponse struct {
	InstanceID int64           `json:"instanceId"`
	Snapshot   models.Snapshot `json:"snapshot"`
	Fresh      bool            `json:"fresh"`
	AgeSeconds float64         `json:"ageSeconds"`
}

// GetSnapshot handles GET /widgets/{id}/snapshot. With ?fresh=true only a
// snapshot inside the TTL is returned.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := instanceID(w, r)
	if !ok {
		return
	}
	get := h.cache.GetAnySnapshot
	if r.URL.Query().Get("fresh") == "true" {
		get = h.cache.GetFreshSnapshot
	}
	snap, found := get(r.Context(), id)
	if !found {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no snapshot for instance")
		return
	}
	now := h.clock.Now()
	writeJSON(w, http.StatusOK, snapshotResponse{
		InstanceID: id,
		Snapshot:   snap,
		Fresh:      h.cache.IsFresh(snap, now),
		AgeSeconds: snap.Age(now).Seconds(),
	})
}

type updateAllRequest struct {
	Instances []widget.Instance `json:"instances"`
}

// PostUpdateAll handles POST /widgets/update, the host's batch wake-up.
func (h *Handler) PostUpdateAll(w http.ResponseWriter, r *http.Request) {
	var body updateAllRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must list instances")
		return
	}
	if len(body.Instances) == 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "instances is required")
		return
	}
	outcomes := h.dispatcher.UpdateAll(r.Context(), body.Instances)
	writeJSON(w, http.StatusOK, map[string]interface{}{"outcomes": outcomes})
}

// PutPower handles PUT /device/power, the host's power state report.
func (h *Handler) PutPower(w http.ResponseWriter, r *http.Request) {
	if h.power == nil {
		writeError(w, r, http.StatusConflict, "POWER_SOURCE_FIXED", "power state is not host reported")
		return
	}
	var state interval.PowerState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON power state")
		return
	}
	h.power.Set(state)
	requestLogger(r, h.logger).Debug("power state reported",
		zap.Boolp("power_save", state.PowerSave),
		zap.Float64p("battery_level", state.BatteryLevel),
		zap.Bool("charging", state.Charging))
	h.writeInterval(w, r)
}

// GetInterval handles GET /interval.
func (h *Handler) GetInterval(w http.ResponseWriter, r *http.Request) {
	h.writeInterval(w, r)
}

func (h *Handler) writeInterval(w http.ResponseWriter, r *http.Request) {
	iv := h.policy.Resolve(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"intervalSeconds": iv.Seconds(),
		"interval":        iv.String(),
		"powerSaving":     iv != h.policy.Normal(),
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"sensorApi": "healthy"}
	if result.status == "degraded" {
		checks["sensorApi"] = "unhealthy"
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil {
		if h.healthConfig.StorePing != nil {
			checks["store"] = "healthy"
			if h.healthConfig.StorePing() != nil {
				checks["store"] = "unhealthy"
			}
		}
		if !h.healthConfig.StartTime.IsZero() {
			resp["uptimeSeconds"] = int64(h.clock.Since(h.healthConfig.StartTime).Seconds())
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus decides in priority order:
// shutting-down > breaker open > degraded fetch rate > healthy.
// Degraded is informational for the host; it keeps serving cached data.
func (h *Handler) computeHealthStatus() healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if b := h.healthConfig.Breaker; b != nil && b.State() == circuitbreaker.StateOpen {
		return healthResult{"degraded", http.StatusOK, "circuit_open"}
	}
	if h.healthConfig.Window > 0 && h.healthConfig.DegradedErrorPct > 0 {
		degraded, total := h.tracker.DegradedRate(h.healthConfig.Window)
		if total > 0 && degraded*100 >= h.healthConfig.DegradedErrorPct*total {
			return healthResult{"degraded", http.StatusOK, "fallback_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// instanceID parses the {id} route variable, writing 400 on failure.
func instanceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := validation.ParseInstanceID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INSTANCE", err.Error())
		return 0, false
	}
	return id, true
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error body with the request's correlation id.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}
