// Package probe implements the per-host inspection daemon: metric
// collection, threshold analysis, tier classification, L1 auto-fixes, and
// queued report delivery, driven by a cron scheduler with a local HTTP API.
package probe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cortex-ops/cortex/pkg/models"
)

// Collector samples host resource usage. Implementations other than the
// /proc default exist for tests and for hosts with exotic layouts.
type Collector interface {
	Collect(ctx context.Context) (models.SystemMetrics, error)
}

// cpuSampleGap separates the two /proc/stat reads a CPU percentage needs.
const cpuSampleGap = 200 * time.Millisecond

// ProcCollector reads metrics from the /proc filesystem and statfs.
type ProcCollector struct {
	procRoot  string
	diskPath  string
	sampleGap time.Duration
}

// NewCollector returns a collector for the standard /proc mount, measuring
// disk usage of the root filesystem.
func NewCollector() *ProcCollector {
	return &ProcCollector{procRoot: "/proc", diskPath: "/", sampleGap: cpuSampleGap}
}

// Collect takes one metrics sample. Optional fields that cannot be read are
// left zero rather than failing the whole sample.
func (p *ProcCollector) Collect(ctx context.Context) (models.SystemMetrics, error) {
	var m models.SystemMetrics

	cpu, err := p.cpuPercent(ctx)
	if err != nil {
		return m, fmt.Errorf("collect cpu: %w", err)
	}
	m.CPUPercent = cpu

	mem, err := p.memoryPercent()
	if err != nil {
		return m, fmt.Errorf("collect memory: %w", err)
	}
	m.MemoryPercent = mem

	disk, err := p.diskPercent()
	if err != nil {
		return m, fmt.Errorf("collect disk: %w", err)
	}
	m.DiskPercent = disk

	if load, err := p.loadAverage(); err == nil {
		m.LoadAverage = load
	}
	if uptime, err := p.uptimeSeconds(); err == nil {
		m.UptimeSeconds = uptime
	}
	if count, err := p.processCount(); err == nil {
		m.ProcessCount = count
	}
	return m, nil
}

// cpuPercent computes busy time over two /proc/stat samples.
func (p *ProcCollector) cpuPercent(ctx context.Context) (float64, error) {
	busy1, total1, err := p.readCPUStat()
	if err != nil {
		return 0, err
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(p.sampleGap):
	}

	busy2, total2, err := p.readCPUStat()
	if err != nil {
		return 0, err
	}

	totalDelta := total2 - total1
	if totalDelta <= 0 {
		return 0, nil
	}
	return float64(busy2-busy1) / float64(totalDelta) * 100, nil
}

// readCPUStat parses the aggregate cpu line of /proc/stat. Busy time is
// everything except idle and iowait.
func (p *ProcCollector) readCPUStat() (busy, total uint64, err error) {
	data, err := os.ReadFile(filepath.Join(p.procRoot, "stat"))
	if err != nil {
		return 0, 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		for i, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return 0, 0, fmt.Errorf("parse /proc/stat field %q: %w", f, err)
			}
			total += v
			// fields: user nice system idle iowait irq softirq ...
			if i != 3 && i != 4 {
				busy += v
			}
		}
		return busy, total, nil
	}
	return 0, 0, fmt.Errorf("no cpu line in %s/stat", p.procRoot)
}

func (p *ProcCollector) memoryPercent() (float64, error) {
	data, err := os.ReadFile(filepath.Join(p.procRoot, "meminfo"))
	if err != nil {
		return 0, err
	}

	var totalKB, availKB float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
	}
	if totalKB == 0 {
		return 0, fmt.Errorf("MemTotal missing in %s/meminfo", p.procRoot)
	}
	return (totalKB - availKB) / totalKB * 100, nil
}

func (p *ProcCollector) diskPercent() (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(p.diskPath, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", p.diskPath, err)
	}
	total := st.Blocks * uint64(st.Bsize)
	if total == 0 {
		return 0, nil
	}
	free := st.Bavail * uint64(st.Bsize)
	return float64(total-free) / float64(total) * 100, nil
}

func (p *ProcCollector) loadAverage() ([3]float64, error) {
	var load [3]float64
	data, err := os.ReadFile(filepath.Join(p.procRoot, "loadavg"))
	if err != nil {
		return load, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return load, fmt.Errorf("malformed %s/loadavg", p.procRoot)
	}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return load, err
		}
		load[i] = v
	}
	return load, nil
}

func (p *ProcCollector) uptimeSeconds() (float64, error) {
	data, err := os.ReadFile(filepath.Join(p.procRoot, "uptime"))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("malformed %s/uptime", p.procRoot)
	}
	return strconv.ParseFloat(fields[0], 64)
}

// processCount counts numeric entries under /proc.
func (p *ProcCollector) processCount() (int, error) {
	entries, err := os.ReadDir(p.procRoot)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(entry.Name()); err == nil {
			count++
		}
	}
	return count, nil
}
