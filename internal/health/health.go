package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Probe — проверка одной зависимости; nil означает, что зависимость готова.
type Probe func() error

type probeResult struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

type report struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version,omitempty"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	CheckedAt     time.Time              `json:"checked_at"`
	Probes        map[string]probeResult `json:"probes,omitempty"`
}

const (
	statusUp   = "up"
	statusDown = "down"
)

// Handler отдаёт сводный health-отчёт и readiness-пробу.
type Handler struct {
	mu      sync.RWMutex
	probes  map[string]Probe
	version string
	started time.Time
	now     func() time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		probes:  make(map[string]Probe),
		version: version,
		started: time.Now(),
		now:     time.Now,
	}
}

// Register добавляет именованную пробу. Последняя регистрация с тем же
// именем выигрывает.
func (h *Handler) Register(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

func (h *Handler) snapshot() map[string]Probe {
	h.mu.RLock()
	defer h.mu.RUnlock()

	probes := make(map[string]Probe, len(h.probes))
	for name, probe := range h.probes {
		probes[name] = probe
	}
	return probes
}

func (h *Handler) run() (map[string]probeResult, bool) {
	results := make(map[string]probeResult)
	healthy := true

	for name, probe := range h.snapshot() {
		start := time.Now()
		err := probe()
		result := probeResult{
			OK:        err == nil,
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			result.Error = err.Error()
			healthy = false
		}
		results[name] = result
	}
	return results, healthy
}

// ServeHTTP отдаёт полный отчёт; 503 при любой упавшей пробе.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	results, healthy := h.run()

	body := report{
		Status:        statusUp,
		Version:       h.version,
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
		CheckedAt:     h.now().UTC(),
		Probes:        results,
	}

	code := http.StatusOK
	if !healthy {
		body.Status = statusDown
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Ready — readiness-проба: прогоняет все пробы, отвечает текстом.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if _, healthy := h.run(); !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Alive — liveness-проба: процесс жив, зависимости не проверяются.
func Alive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
