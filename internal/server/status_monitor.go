package server

import (
	"math"
	"sync"
	"time"

	"github.com/aristath/hosd/internal/events"
	"github.com/rs/zerolog"
)

// StatusMonitor periodically samples system status and publishes
// SystemStatusChanged when it moved noticeably since the last sample.
type StatusMonitor struct {
	eventBus       *events.Bus
	systemHandlers *SystemHandlers
	log            zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once

	last *events.SystemStatusData
}

// statusChangeThreshold is the percentage-point move in CPU or memory usage
// that counts as a change
const statusChangeThreshold = 5.0

// NewStatusMonitor creates a new status monitor
func NewStatusMonitor(eventBus *events.Bus, systemHandlers *SystemHandlers, log zerolog.Logger) *StatusMonitor {
	return &StatusMonitor{
		eventBus:       eventBus,
		systemHandlers: systemHandlers,
		log:            log.With().Str("component", "status_monitor").Logger(),
		stop:           make(chan struct{}),
	}
}

// Start begins periodic status monitoring
func (m *StatusMonitor) Start(interval time.Duration) {
	go m.monitor(interval)
}

// Stop ends monitoring
func (m *StatusMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *StatusMonitor) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.checkStatus()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkStatus()
		}
	}
}

// checkStatus samples the system and publishes on change. It reports
// whether an event was published.
func (m *StatusMonitor) checkStatus() bool {
	snapshot := m.systemHandlers.GetSystemStatusSnapshot()
	current := &events.SystemStatusData{
		CPUPercent:    snapshot.CPUPercent,
		MemoryPercent: snapshot.MemoryPercent,
		FailingJobs:   snapshot.FailingJobs,
	}
	if snapshot.Database != nil {
		current.DatabaseSizeBytes = int64(snapshot.Database.SizeMB * 1024 * 1024)
	}

	if !statusChanged(m.last, current) {
		return false
	}
	m.last = current

	m.log.Debug().
		Float64("cpu_percent", current.CPUPercent).
		Float64("memory_percent", current.MemoryPercent).
		Int("failing_jobs", current.FailingJobs).
		Msg("System status changed")
	m.eventBus.Publish("status_monitor", current)
	return true
}

func statusChanged(prev, cur *events.SystemStatusData) bool {
	if prev == nil {
		return true
	}
	return prev.FailingJobs != cur.FailingJobs ||
		math.Abs(prev.CPUPercent-cur.CPUPercent) >= statusChangeThreshold ||
		math.Abs(prev.MemoryPercent-cur.MemoryPercent) >= statusChangeThreshold
}
