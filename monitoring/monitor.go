package monitoring

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"camrec/recording"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Above this used percentage the monitor logs a warning on every tick.
const lowDiskPercent = 90.0

type ResourceUsage struct {
	CPUPercent    float64
	MemoryUsedMB  float64
	MemoryTotalMB float64
	MemoryPercent float64
	NumGoroutines int
}

// DiskUsage reports filesystem usage for the volume holding path.
func DiskUsage(path string) (*recording.DiskUsage, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return nil, fmt.Errorf("disk usage %s: %w", path, err)
	}
	return &recording.DiskUsage{
		Path:        path,
		TotalBytes:  usage.Total,
		UsedBytes:   usage.Used,
		FreeBytes:   usage.Free,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// Monitor periodically logs process resource usage and disk usage of the
// recordings directory.
type Monitor struct {
	Dir      string
	Interval time.Duration

	// OnDisk receives every successful disk sample.
	OnDisk func(*recording.DiskUsage)
}

// Run samples until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Printf("[Monitor] Error getting process: %v", err)
		return
	}

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		m.sample(proc)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) sample(proc *process.Process) {
	usage, err := getResourceUsage(proc)
	if err != nil {
		log.Printf("[Monitor] Error getting resource usage: %v", err)
	} else {
		log.Printf("[Monitor] Resource Usage - CPU: %.2f%%, Memory: %.2f/%.2f MB (%.2f%%), Goroutines: %d",
			usage.CPUPercent,
			usage.MemoryUsedMB,
			usage.MemoryTotalMB,
			usage.MemoryPercent,
			usage.NumGoroutines)
	}

	du, err := DiskUsage(m.Dir)
	if err != nil {
		log.Printf("[Monitor] ⚠️ %v", err)
		return
	}
	if du.UsedPercent >= lowDiskPercent {
		log.Printf("[Monitor] ⚠️ Recordings disk %.1f%% full (%.2f GB free)", du.UsedPercent, float64(du.FreeBytes)/1024/1024/1024)
	}
	if m.OnDisk != nil {
		m.OnDisk(du)
	}
}

func getResourceUsage(proc *process.Process) (ResourceUsage, error) {
	var usage ResourceUsage

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return usage, fmt.Errorf("error getting CPU usage: %w", err)
	}
	usage.CPUPercent = cpuPercent

	virtualMem, err := mem.VirtualMemory()
	if err != nil {
		return usage, fmt.Errorf("error getting memory info: %w", err)
	}

	procMem, err := proc.MemoryInfo()
	if err != nil {
		return usage, fmt.Errorf("error getting process memory: %w", err)
	}

	usage.MemoryUsedMB = float64(procMem.RSS) / 1024 / 1024
	usage.MemoryTotalMB = float64(virtualMem.Total) / 1024 / 1024
	usage.MemoryPercent = float64(procMem.RSS) / float64(virtualMem.Total) * 100
	usage.NumGoroutines = runtime.NumGoroutine()

	return usage, nil
}
