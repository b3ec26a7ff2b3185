package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/storyloom/storyloom/internal/database"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/service"
	"github.com/storyloom/storyloom/internal/storage"
	"github.com/storyloom/storyloom/pkg/httpclient"
)

// HealthHandler serves the service health snapshot.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *database.DB
	jobs      *service.JobService
	workspace *storage.Workspace
	registry  *httpclient.Registry
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string) *HealthHandler {
	if version == "" {
		version = "dev"
	}
	return &HealthHandler{version: version, startTime: time.Now()}
}

// WithDB sets the database for the connectivity check.
func (h *HealthHandler) WithDB(db *database.DB) *HealthHandler {
	h.db = db
	return h
}

// WithJobService sets the job service for queue statistics.
func (h *HealthHandler) WithJobService(jobs *service.JobService) *HealthHandler {
	h.jobs = jobs
	return h
}

// WithWorkspace sets the workspace for disk usage reporting.
func (h *HealthHandler) WithWorkspace(w *storage.Workspace) *HealthHandler {
	h.workspace = w
	return h
}

// WithClientRegistry sets the outbound client registry for breaker states.
func (h *HealthHandler) WithClientRegistry(r *httpclient.Registry) *HealthHandler {
	h.registry = r
	return h
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/health",
		Summary:     "Health check",
		Description: "Returns service health including system metrics, job queue counts and outbound circuit breaker states",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// HealthResponse is the full health snapshot.
type HealthResponse struct {
	Status          string                  `json:"status"`
	Timestamp       string                  `json:"timestamp"`
	Version         string                  `json:"version"`
	Uptime          string                  `json:"uptime"`
	UptimeSeconds   float64                 `json:"uptime_seconds"`
	CPU             CPUHealth               `json:"cpu"`
	Memory          MemoryHealth            `json:"memory"`
	Disk            *DiskHealth             `json:"disk,omitempty"`
	Database        ComponentHealth         `json:"database"`
	Jobs            map[string]int64        `json:"jobs,omitempty"`
	CircuitBreakers []CircuitBreakerHealth  `json:"circuit_breakers,omitempty"`
}

// CPUHealth reports core count and load averages.
type CPUHealth struct {
	Cores  int     `json:"cores"`
	Load1  float64 `json:"load_1m"`
	Load5  float64 `json:"load_5m"`
	Load15 float64 `json:"load_15m"`
}

// MemoryHealth reports system memory usage.
type MemoryHealth struct {
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// DiskHealth reports output filesystem usage.
type DiskHealth struct {
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// ComponentHealth is a single dependency's status.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CircuitBreakerHealth is one outbound client's breaker state.
type CircuitBreakerHealth struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// HealthOutput wraps the health snapshot.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth returns the service health snapshot. The overall status degrades
// when the database is unreachable; metric collection failures do not.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPU:           CPUHealth{Cores: runtime.NumCPU()},
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		resp.CPU.Load1 = avg.Load1
		resp.CPU.Load5 = avg.Load5
		resp.CPU.Load15 = avg.Load15
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.Memory = MemoryHealth{
			TotalBytes:  vm.Total,
			UsedBytes:   vm.Used,
			UsedPercent: vm.UsedPercent,
		}
	}

	if h.workspace != nil {
		if usage, err := h.workspace.DiskUsage(); err == nil {
			resp.Disk = &DiskHealth{
				TotalBytes:  usage.Total,
				FreeBytes:   usage.Free,
				UsedPercent: usage.UsedPercent,
			}
		}
	}

	resp.Database = h.databaseHealth(ctx)
	if resp.Database.Status != "ok" {
		resp.Status = "degraded"
	}

	if h.jobs != nil {
		if stats, err := h.jobs.Stats(ctx); err == nil {
			resp.Jobs = jobStatsByName(stats)
		}
	}

	if h.registry != nil {
		statuses := h.registry.GetCircuitBreakerStatuses()
		resp.CircuitBreakers = make([]CircuitBreakerHealth, 0, len(statuses))
		for _, s := range statuses {
			resp.CircuitBreakers = append(resp.CircuitBreakers, CircuitBreakerHealth{
				Name:     s.Name,
				State:    s.State,
				Failures: s.Failures,
			})
		}
	}

	return &HealthOutput{Body: resp}, nil
}

func (h *HealthHandler) databaseHealth(ctx context.Context) ComponentHealth {
	if h.db == nil {
		return ComponentHealth{Status: "not configured"}
	}
	if err := h.db.Ping(ctx); err != nil {
		return ComponentHealth{Status: "error", Error: err.Error()}
	}
	return ComponentHealth{Status: "ok"}
}

func jobStatsByName(stats map[models.JobStatus]int64) map[string]int64 {
	out := make(map[string]int64, len(stats))
	for status, n := range stats {
		out[string(status)] = n
	}
	return out
}
