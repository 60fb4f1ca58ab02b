// Package diagnostics reports host resource usage for boot-time
// logging, generalized from the teacher's
// handler.DashboardHandler.GetSystemMetrics (dashboard.go), trimmed of
// its MariaDB-backed conversation/platform endpoints since this
// runtime keeps no such store.
package diagnostics

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time host resource reading.
type Snapshot struct {
	CPUPercent      float64 `json:"cpuPercent"`
	RAMUsedGB       float64 `json:"ramUsedGb"`
	RAMTotalGB      float64 `json:"ramTotalGb"`
	RAMPercent      float64 `json:"ramPercent"`
	DiskUsedGB      float64 `json:"diskUsedGb"`
	DiskTotalGB     float64 `json:"diskTotalGb"`
	DiskPercent     float64 `json:"diskPercent"`
	GoroutinesCount int     `json:"goroutinesCount"`
}

// Capture samples CPU, memory, disk, and goroutine counts. Errors from
// any individual gopsutil probe are swallowed and leave the
// corresponding field zero-valued: a diagnostics snapshot degrading
// gracefully is preferable to a boot-time log line failing outright.
func Capture(ctx context.Context) Snapshot {
	var snap Snapshot

	if percents, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = roundTo2Decimals(percents[0])
	}

	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.RAMUsedGB = roundTo2Decimals(bytesToGB(memStat.Used))
		snap.RAMTotalGB = roundTo2Decimals(bytesToGB(memStat.Total))
		snap.RAMPercent = roundTo2Decimals(memStat.UsedPercent)
	}

	if diskStat, err := disk.UsageWithContext(ctx, "."); err == nil {
		snap.DiskUsedGB = roundTo2Decimals(bytesToGB(diskStat.Used))
		snap.DiskTotalGB = roundTo2Decimals(bytesToGB(diskStat.Total))
		snap.DiskPercent = roundTo2Decimals(diskStat.UsedPercent)
	}

	snap.GoroutinesCount = runtime.NumGoroutine()
	return snap
}

func bytesToGB(b uint64) float64 {
	return float64(b) / 1024 / 1024 / 1024
}

func roundTo2Decimals(val float64) float64 {
	return math.Round(val*100) / 100
}
