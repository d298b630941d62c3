// Package profiler reports frame-rate, draw-count, and Go runtime memory
// statistics at a fixed interval.
package profiler

import (
	"log/slog"
	"runtime"
	"time"
)

// Profiler tracks frame timing and render workload for performance
// monitoring. Stats are written through slog once per update interval.
type Profiler struct {
	frameCount     int
	staticDraws    int
	animatedDraws  int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
}

// NewProfiler creates a new Profiler with default settings.
// Update interval defaults to 1 second.
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler() *Profiler {
	return &Profiler{
		lastTime:       time.Now(),
		updateInterval: time.Second,
	}
}

// ObserveDraws accumulates the indirect draw counts of one rendered frame.
// The totals are averaged and reset on the next logged tick.
//
// Parameters:
//   - static: number of static instanced draw commands this frame
//   - animated: number of animated draw commands this frame
func (p *Profiler) ObserveDraws(static, animated int) {
	p.staticDraws += static
	p.animatedDraws += animated
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed:
// FPS, average draw counts, heap usage, allocation rate, and GC pauses.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.frameCount++
	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()
	avgStatic := float64(p.staticDraws) / float64(p.frameCount)
	avgAnimated := float64(p.animatedDraws) / float64(p.frameCount)

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024

	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 GC pauses.
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			pause := p.memStats.PauseNs[i%256] / 1000
			if pause > maxPauseUs {
				maxPauseUs = pause
			}
		}
	}

	slog.Info("profiler",
		"fps", fps,
		"static_draws", avgStatic,
		"animated_draws", avgAnimated,
		"heap_mb", allocMB,
		"alloc_mb_per_sec", allocRateMB,
		"gc_count", gcCount,
		"gc_last_us", lastPauseUs,
		"gc_max_us", maxPauseUs,
		"sys_mb", sysMB)

	p.frameCount = 0
	p.staticDraws = 0
	p.animatedDraws = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}
