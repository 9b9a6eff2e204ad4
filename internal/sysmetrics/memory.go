// Package sysmetrics samples memory pressure for the memoryUsage metric.
package sysmetrics

import (
	"context"
	"fmt"
	"os"
	"time"

	gomem "github.com/shirou/gopsutil/v4/mem"
	goprocess "github.com/shirou/gopsutil/v4/process"
)

// System call wrappers for testing
var (
	virtualMemory = gomem.VirtualMemoryWithContext
	processMemory = func(ctx context.Context, pid int32) (float32, error) {
		p, err := goprocess.NewProcessWithContext(ctx, pid)
		if err != nil {
			return 0, err
		}
		return p.MemoryPercentWithContext(ctx)
	}
)

const probeTimeout = 5 * time.Second

// Probe reports memory usage as a percentage in [0, 100].
type Probe interface {
	MemoryPercent(ctx context.Context) (float64, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (float64, error)

func (f ProbeFunc) MemoryPercent(ctx context.Context) (float64, error) { return f(ctx) }

// ProcessMemory reports this process's resident memory as a share of host
// memory, the closest analogue to a page's heap usage against its limit.
func ProcessMemory() Probe {
	pid := int32(os.Getpid())
	return ProbeFunc(func(ctx context.Context) (float64, error) {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		pct, err := processMemory(ctx, pid)
		if err != nil {
			return 0, fmt.Errorf("process memory: %w", err)
		}
		return float64(pct), nil
	})
}

// SystemMemory reports host-wide used memory.
func SystemMemory() Probe {
	return ProbeFunc(func(ctx context.Context) (float64, error) {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		stats, err := virtualMemory(ctx)
		if err != nil {
			return 0, fmt.Errorf("memory stats: %w", err)
		}
		return stats.UsedPercent, nil
	})
}
