// Package resources reads host CPU and memory usage and decides when
// optional work should be skipped.
package resources

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// cpuSampleInterval keeps status calls fast while still giving a usable reading.
const cpuSampleInterval = 100 * time.Millisecond

// MemoryProbe reports memory pressure against a used-percent threshold.
type MemoryProbe struct {
	threshold float64
	usedPct   func() (float64, error)
	log       zerolog.Logger
}

// NewMemoryProbe creates a probe that reports pressure above thresholdPct.
func NewMemoryProbe(thresholdPct float64, log zerolog.Logger) *MemoryProbe {
	return &MemoryProbe{
		threshold: thresholdPct,
		usedPct:   virtualMemoryUsedPercent,
		log:       log.With().Str("component", "memory_probe").Logger(),
	}
}

func virtualMemoryUsedPercent() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

// UnderPressure reports whether used memory exceeds the threshold. A failed
// reading is treated as no pressure.
func (p *MemoryProbe) UnderPressure() bool {
	used, err := p.usedPct()
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return false
	}
	if used > p.threshold {
		p.log.Debug().Float64("used_percent", used).Float64("threshold", p.threshold).Msg("Memory pressure")
		return true
	}
	return false
}

// SystemStats is a point-in-time view of host and process usage.
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	Goroutines    int     `json:"goroutines"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
}

// Collect samples CPU over a short interval and reads memory. Partial
// failures are logged and leave the affected fields zero.
func Collect(ctx context.Context, log zerolog.Logger) SystemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats := SystemStats{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
	}

	cpuPercent, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		stats.CPUPercent = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get memory statistics")
		return stats
	}
	stats.MemoryPercent = memStat.UsedPercent
	stats.MemoryUsedMB = float64(memStat.Used) / 1024 / 1024
	stats.MemoryTotalMB = float64(memStat.Total) / 1024 / 1024
	return stats
}
