// Package profiler tracks frame rate, top-level rebuild timings and device memory, logs a
// summary at a fixed interval and renders a report table.
package profiler

import (
	"fmt"
	"io"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/olekukonko/tablewriter"
)

// Profiler tracks frame rate, rebuild timings and memory statistics.
type Profiler struct {
	mu  sync.Mutex
	log logger.Logger

	updateInterval time.Duration
	lastTime       time.Time
	frameCount     int
	lastFPS        float64

	totalFrames   uint64
	skippedFrames uint64
	rebuilds      []time.Duration

	memStats       runtime.MemStats
	lastTotalAlloc uint64
	lastGCCount    uint32
}

// ProfilerOption is a functional option applied to a Profiler during construction.
type ProfilerOption func(*Profiler)

// WithUpdateInterval sets how often Tick logs a summary. The default is one second.
func WithUpdateInterval(d time.Duration) ProfilerOption {
	return func(p *Profiler) {
		if d > 0 {
			p.updateInterval = d
		}
	}
}

// NewProfiler creates a Profiler.
//
// Parameters:
//   - options: variadic list of ProfilerOption functions
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerOption) *Profiler {
	p := &Profiler{
		log:            logger.New("profiler"),
		updateInterval: time.Second,
		lastTime:       time.Now(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Tick should be called once per presented frame. Logs FPS, heap usage, allocation rate
// and GC pauses when the update interval has elapsed.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frameCount++
	p.totalFrames++

	now := time.Now()
	elapsed := now.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}
	p.lastFPS = float64(p.frameCount) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	allocRateMB := float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / elapsed.Seconds()

	// PauseNs is a circular buffer of the last 256 pauses
	gcCount := p.memStats.NumGC
	var maxPauseUs uint64
	for i := max(p.lastGCCount, gcCount-min(gcCount, 256)); i < gcCount; i++ {
		maxPauseUs = max(maxPauseUs, p.memStats.PauseNs[i%256]/1000)
	}

	p.log.Infof("FPS: %.2f | Heap: %.2f MB | Alloc Rate: %.2f MB/s | GC: %d (max pause %d µs) | skipped: %d",
		p.lastFPS, allocMB, allocRateMB, gcCount, maxPauseUs, p.skippedFrames)

	p.frameCount = 0
	p.lastTime = now
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}

// SkipFrame records a frame dropped on a recoverable error.
func (p *Profiler) SkipFrame() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skippedFrames++
}

// RecordRebuild records the duration of one top-level rebuild.
func (p *Profiler) RecordRebuild(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebuilds = append(p.rebuilds, d)
}

// RebuildStats summarizes the recorded rebuilds.
type RebuildStats struct {
	Count int
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P95   time.Duration
}

// Rebuilds returns the summary of every recorded rebuild. All durations are zero when
// none were recorded.
func (p *Profiler) Rebuilds() RebuildStats {
	p.mu.Lock()
	sorted := slices.Clone(p.rebuilds)
	p.mu.Unlock()

	if len(sorted) == 0 {
		return RebuildStats{}
	}
	slices.Sort(sorted)
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	return RebuildStats{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  total / time.Duration(len(sorted)),
		P95:   sorted[(len(sorted)*95+99)/100-1],
	}
}

// Frames returns the presented and skipped frame counts.
func (p *Profiler) Frames() (presented, skipped uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalFrames, p.skippedFrames
}

// Report renders the frame, rebuild and device statistics as a table.
//
// Parameters:
//   - w: the destination
//   - stats: a device stats snapshot
func (p *Profiler) Report(w io.Writer, stats device.Stats) {
	presented, skipped := p.Frames()
	rb := p.Rebuilds()
	p.mu.Lock()
	fps := p.lastFPS
	p.mu.Unlock()

	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Section", "Metric", "Value"})
	table.Append([]string{"Frames", "presented", fmt.Sprint(presented)})
	table.Append([]string{"", "skipped", fmt.Sprint(skipped)})
	table.Append([]string{"", "last FPS", fmt.Sprintf("%.2f", fps)})
	table.Append([]string{"Rebuilds", "count", fmt.Sprint(rb.Count)})
	table.Append([]string{"", "min / mean / max", fmt.Sprintf("%v / %v / %v", rb.Min, rb.Mean, rb.Max)})
	table.Append([]string{"", "p95", rb.P95.String()})
	table.Append([]string{"Device", "buffers", fmt.Sprint(stats.Buffers)})
	table.Append([]string{"", "acceleration structures", fmt.Sprint(stats.AccelerationStructures)})
	table.Append([]string{"", "allocated", FormatBytes(stats.AllocatedBytes)})
	table.Append([]string{"", "submissions / builds / dispatches", fmt.Sprintf("%d / %d / %d", stats.Submissions, stats.Builds, stats.Dispatches)})
	table.Render()
}

// FormatBytes formats a byte count with a b, kb or mb unit.
func FormatBytes(n uint64) string {
	switch {
	case n < 1e3:
		return fmt.Sprintf("%d bytes", n)
	case n < 1e6:
		return fmt.Sprintf("%.1f kb", float64(n)/1e3)
	default:
		return fmt.Sprintf("%.1f mb", float64(n)/1e6)
	}
}
