package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/aristath/hosd/internal/database"
	"github.com/aristath/hosd/internal/scheduler"
	"github.com/aristath/hosd/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStatusResponse represents system status
type SystemStatusResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	GoVersion     string  `json:"go_version"`
	Goroutines    int     `json:"goroutines"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DataDirMB     float64 `json:"data_dir_mb"`
	Database      *DBInfo `json:"database,omitempty"`
	FailingJobs   int     `json:"failing_jobs"`
	LastChecked   string  `json:"last_checked"`
}

// DBInfo represents database information
type DBInfo struct {
	Name          string  `json:"name"`
	Path          string  `json:"path"`
	SizeMB        float64 `json:"size_mb"`
	WALSizeMB     float64 `json:"wal_size_mb"`
	PageCount     int64   `json:"page_count"`
	FreelistCount int64   `json:"freelist_count"`
}

// JobsStatusResponse represents the status of scheduled jobs
type JobsStatusResponse struct {
	Jobs        []scheduler.JobStatus `json:"jobs"`
	Count       int                   `json:"count"`
	LastChecked string                `json:"last_checked"`
}

// SystemHandlers handles system-wide monitoring and operations
type SystemHandlers struct {
	log       zerolog.Logger
	dataDir   string
	db        *database.DB
	scheduler *scheduler.Scheduler
	startedAt time.Time
}

// NewSystemHandlers creates a new system handlers instance. db and sched may
// be nil.
func NewSystemHandlers(log zerolog.Logger, dataDir string, db *database.DB, sched *scheduler.Scheduler) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		dataDir:   dataDir,
		db:        db,
		scheduler: sched,
		startedAt: time.Now(),
	}
}

// GetSystemStatusSnapshot collects the current system status
func (h *SystemHandlers) GetSystemStatusSnapshot() SystemStatusResponse {
	cpuPercent, memPercent := h.getSystemStats()

	status := SystemStatusResponse{
		Status:        "healthy",
		Version:       version.Version,
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		DataDirMB:     h.getDirSize(h.dataDir),
		Database:      h.databaseInfo(),
		LastChecked:   time.Now().Format(time.RFC3339),
	}

	if h.scheduler != nil {
		for _, job := range h.scheduler.Status() {
			if job.LastError != "" {
				status.FailingJobs++
			}
		}
	}
	if status.Database == nil && h.db != nil {
		status.Status = "degraded"
	}

	return status
}

// HandleSystemStatus returns system status
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.GetSystemStatusSnapshot())
}

// HandleDatabaseStats returns statistics of the run database
// GET /api/system/database
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	info := h.databaseInfo()
	if info == nil {
		http.Error(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// HandleJobsStatus returns the state of every scheduled job
// GET /api/system/jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobStatus{}
	if h.scheduler != nil {
		jobs = h.scheduler.Status()
	}

	h.writeJSON(w, http.StatusOK, JobsStatusResponse{
		Jobs:        jobs,
		Count:       len(jobs),
		LastChecked: time.Now().Format(time.RFC3339),
	})
}

// HandleTriggerJob runs a scheduled job immediately
// POST /api/system/jobs/{name}/run
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.scheduler == nil {
		http.Error(w, "Scheduler not running", http.StatusServiceUnavailable)
		return
	}

	start := time.Now()
	err := h.scheduler.RunByName(name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		h.log.Error().Err(err).Str("job", name).Msg("Triggered job failed")
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": "error",
			"job":    name,
			"error":  err.Error(),
		})
		return
	}

	h.log.Info().Str("job", name).Msg("Job triggered manually")
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "success",
		"job":         name,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (h *SystemHandlers) databaseInfo() *DBInfo {
	if h.db == nil {
		return nil
	}
	stats, err := h.db.GetStats()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get database stats")
		return nil
	}
	return &DBInfo{
		Name:          h.db.Name(),
		Path:          h.db.Path(),
		SizeMB:        float64(stats.SizeBytes) / 1024 / 1024,
		WALSizeMB:     float64(stats.WALSizeBytes) / 1024 / 1024,
		PageCount:     stats.PageCount,
		FreelistCount: stats.FreelistCount,
	}
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	if dirPath == "" {
		return 0
	}

	var totalSize int64
	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// getSystemStats calculates CPU and RAM usage percentages. The CPU sample
// spans 100ms to keep the status endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data, h.log)
}
