package async

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/vidscope/errors"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`
	WorkersTotal  int     `json:"workers_total"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	JobsQueued    int     `json:"jobs_queued"`
	JobsRunning   int     `json:"jobs_running"`
}

// getMemoryStats returns total and available memory in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends a worker count for the available
// memory. Each worker holds a decoder, an encoder, the detection network
// and a full-resolution float buffer.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerVideoWorker = 1.5 // GB
	const memoryBuffer = 1.0         // GB reserved for the rest of the system

	if availableGB < memoryBuffer {
		return 1
	}

	recommended := int((availableGB - memoryBuffer) / memoryPerVideoWorker)
	if recommended < 1 {
		return 1
	}
	if recommended > 16 {
		return 16
	}
	return recommended
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	total, available, err := wp.memStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	queued, running, err := wp.queue.GetJobCounts()
	if err != nil {
		queued, running = 0, 0
	}

	wp.mu.Lock()
	activeWorkers := wp.activeWorkers
	wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive: activeWorkers,
		WorkersTotal:  wp.workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		JobsQueued:    queued,
		JobsRunning:   running,
	}
}

// checkMemoryPressure returns a warning when the worker count looks too
// high for available memory, or "" when it is fine or unknown.
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := wp.memStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if wp.workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing pipeline.workers.",
			wp.workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}

// memoryBusy reports whether memory use is above the configured ceiling.
// New jobs wait while it is.
func (wp *WorkerPool) memoryBusy() bool {
	limit := wp.poolConfig.MaxMemoryPercent
	if limit <= 0 {
		return false
	}
	total, available, err := wp.memStats()
	if err != nil || total == 0 {
		return false
	}
	used := float64(total-available) / float64(total) * 100
	if used > limit {
		wp.logger.Debugw("Deferring job: memory above ceiling", "memory_percent", used, "limit", limit)
		return true
	}
	return false
}
