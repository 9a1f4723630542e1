package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"gorm.io/gorm"

	"github.com/gnus-inc/audioplayers/internal/player"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	registry  *player.Registry
	hub       *EventHub
	db        *gorm.DB
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithRegistry includes session statistics in health reports.
func (h *HealthHandler) WithRegistry(registry *player.Registry) *HealthHandler {
	h.registry = registry
	return h
}

// WithEventHub includes subscriber counts in health reports.
func (h *HealthHandler) WithEventHub(hub *EventHub) *HealthHandler {
	h.hub = hub
	return h
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// CPUInfo reports host load.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo reports host and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	SwapTotalMB       float64 `json:"swap_total_mb"`
	SwapUsedMB        float64 `json:"swap_used_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
}

// DatabaseHealth reports preference-store health.
type DatabaseHealth struct {
	Status         string  `json:"status"`
	ResponseTimeMS float64 `json:"response_time_ms"`
}

// SessionsHealth reports playback session counts.
type SessionsHealth struct {
	Total         int            `json:"total"`
	Playing       int            `json:"playing"`
	ByState       map[string]int `json:"by_state"`
	Subscribers   int            `json:"event_subscribers"`
	DroppedEvents uint64         `json:"dropped_events"`
}

// HealthResponse is the health check response body.
type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	CPUInfo       CPUInfo        `json:"cpu"`
	Memory        MemoryInfo     `json:"memory"`
	Database      DatabaseHealth `json:"database"`
	Sessions      SessionsHealth `json:"sessions"`
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.getDatabaseHealth(ctx)
	status := "healthy"
	if dbHealth.Status == "error" {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       h.getCPUInfo(),
			Memory:        h.getMemoryInfo(),
			Database:      dbHealth,
			Sessions:      h.getSessionsHealth(),
		},
	}, nil
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}

	return info
}

// getMemoryInfo returns memory usage information.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	swapStat, err := mem.SwapMemory()
	if err == nil && swapStat != nil {
		info.SwapTotalMB = float64(swapStat.Total) / 1024 / 1024
		info.SwapUsedMB = float64(swapStat.Used) / 1024 / 1024
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
			info.ProcessMemoryMB = float64(memInfo.RSS) / 1024 / 1024
		}
	}

	return info
}

// getSessionsHealth returns playback session statistics.
func (h *HealthHandler) getSessionsHealth() SessionsHealth {
	health := SessionsHealth{ByState: map[string]int{}}
	if h.registry != nil {
		stats := h.registry.Stats()
		health.Total = stats.Sessions
		health.Playing = stats.Playing
		health.ByState = stats.ByState
	}
	if h.hub != nil {
		health.Subscribers = h.hub.Subscribers()
		health.DroppedEvents = h.hub.Dropped()
	}
	return health
}

// getDatabaseHealth returns preference-store health information.
func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{Status: "ok"}

	if h.db == nil {
		health.Status = "unknown"
		return health
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
	}

	return health
}
