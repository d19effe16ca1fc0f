// Package resource samples live system load and gates admission of new
// external-subprocess work against configurable ceilings. Monitor polls
// CPU/memory/GPU utilization on an interval; Gate evaluates a predicate
// over the monitor's latest snapshot and a live job registry, blocking
// new work until the predicate holds rather than capping against a
// fixed channel depth.
package resource

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// GPUStats describes one NVIDIA GPU's current utilization, sampled via
// nvidia-smi. Absent on hosts with no NVIDIA driver.
type GPUStats struct {
	Index              int
	Name               string
	UtilizationPercent float64
	MemoryPercent      float64
}

// Snapshot is the most recently sampled system load.
type Snapshot struct {
	Time               time.Time
	CPUPercent         float64
	MemPercent         float64
	MemAvailableBytes  uint64
	DiskReadBytesPerS  float64
	DiskWriteBytesPerS float64
	GPUs               []GPUStats
	Err                error
}

// Monitor periodically samples CPU/memory/disk-io/GPU on a dedicated
// goroutine and exposes the latest Snapshot without blocking callers.
// Start/Stop are explicit; there is no package-level singleton.
type Monitor struct {
	interval time.Duration

	mu       sync.RWMutex
	snapshot Snapshot

	stopCh chan struct{}
	doneCh chan struct{}

	lastDiskRead  uint64
	lastDiskWrite uint64
	lastSampleAt  time.Time
}

// NewMonitor creates a Monitor that samples every interval once Start is
// called. A zero interval defaults to 1 second.
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{interval: interval}
}

// Start begins the sampling goroutine. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop halts the sampling goroutine and waits for it to exit cleanly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.stopCh = nil
	m.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	m.mu.RLock()
	stopCh := m.stopCh
	m.mu.RUnlock()

	m.sample(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	snap := Snapshot{Time: time.Now()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemPercent = memInfo.UsedPercent
		snap.MemAvailableBytes = memInfo.Available
	}

	if counters, err := disk.IOCountersWithContext(ctx); err == nil {
		var readBytes, writeBytes uint64
		for _, c := range counters {
			readBytes += c.ReadBytes
			writeBytes += c.WriteBytes
		}
		now := time.Now()
		if !m.lastSampleAt.IsZero() {
			elapsed := now.Sub(m.lastSampleAt).Seconds()
			if elapsed > 0 {
				if readBytes >= m.lastDiskRead {
					snap.DiskReadBytesPerS = float64(readBytes-m.lastDiskRead) / elapsed
				}
				if writeBytes >= m.lastDiskWrite {
					snap.DiskWriteBytesPerS = float64(writeBytes-m.lastDiskWrite) / elapsed
				}
			}
		}
		m.lastDiskRead = readBytes
		m.lastDiskWrite = writeBytes
		m.lastSampleAt = now
	}

	snap.GPUs = collectGPUStats(ctx)

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()
}

// Snapshot returns a copy of the most recently sampled system load.
// Never blocks.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// collectGPUStats shells out to nvidia-smi and parses its CSV output,
// following tvarr's collectGPUStats pattern exactly: tolerate absence of
// the binary or driver by returning nil rather than erroring.
func collectGPUStats(ctx context.Context) []GPUStats {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=index,name,utilization.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits")

	output, err := cmd.Output()
	if err != nil {
		return nil
	}

	var stats []GPUStats
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for _, line := range lines {
		parts := strings.Split(line, ", ")
		if len(parts) < 5 {
			continue
		}

		index, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
		util, _ := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		memUsed, _ := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		memTotal, _ := strconv.ParseFloat(strings.TrimSpace(parts[4]), 64)

		stat := GPUStats{
			Index:              index,
			Name:               strings.TrimSpace(parts[1]),
			UtilizationPercent: util,
		}
		if memTotal > 0 {
			stat.MemoryPercent = memUsed / memTotal * 100
		}
		stats = append(stats, stat)
	}
	return stats
}
