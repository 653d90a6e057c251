package monitor

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/sentinelwatch/sentinelwatch/pkg/pipeline"
)

// HostStatsSampler reads host-wide CPU, memory, disk, and connection
// figures via gopsutil.
type HostStatsSampler struct{}

func (HostStatsSampler) Sample() (pipeline.SystemStats, error) {
	stats := pipeline.SystemStats{Timestamp: time.Now().Unix()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = vm.UsedPercent
	}
	if usage, err := disk.Usage("/"); err == nil {
		stats.DiskPercent = usage.UsedPercent
	}
	conns, err := gopsnet.Connections("inet")
	if err != nil {
		return stats, err
	}
	stats.NetworkConnections = len(conns)
	return stats, nil
}
