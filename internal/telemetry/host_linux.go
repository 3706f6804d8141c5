//go:build linux

/*
PURPOSE:
  Host Sampler: telemetry for the cpu backend, read from /proc and /sys.

REQUIREMENTS:
  Implementation-discovered:
  - Utilization is a delta of /proc/stat busy/total time, so the first sample
    reports 0 and later samples cover the span since the previous read.
  - Temperature is the hottest thermal zone.
  - Power is the RAPL "package" energy delta over wall time. Counters wrap at
    max_energy_range_uj.
  - Hosts without thermal zones or RAPL still yield utilization and memory.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Monitor), selected in internal/cli for cpu
  - Produces: model.DeviceSnapshot

ERROR HANDLING:
  - Every error returned wraps ErrUnavailable.
  - Only /proc/stat is required; thermal and powercap failures zero their field.

USAGE:
  s := telemetry.NewHostSampler("", "")
  snap, err := s.Sample(ctx)
*/

package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/daryltucker/gpu-stress/internal/model"
	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/sysfs"
)

// HostSampler reads host CPU telemetry.
type HostSampler struct {
	proc procfs.FS
	sys  sysfs.FS
	err  error
	now  func() time.Time

	mu        sync.Mutex
	primed    bool
	prevBusy  float64
	prevTotal float64
	prevAt    time.Time
	energy    map[string]uint64 // last energy_uj per RAPL zone path
}

// NewHostSampler reads procfs at procRoot and sysfs at sysRoot. Empty roots
// mean /proc and /sys.
func NewHostSampler(procRoot, sysRoot string) *HostSampler {
	if procRoot == "" {
		procRoot = procfs.DefaultMountPoint
	}
	if sysRoot == "" {
		sysRoot = sysfs.DefaultMountPoint
	}
	s := &HostSampler{now: time.Now, energy: map[string]uint64{}}
	var err error
	if s.proc, err = procfs.NewFS(procRoot); err != nil {
		s.err = err
		return s
	}
	if s.sys, err = sysfs.NewFS(sysRoot); err != nil {
		s.err = err
	}
	return s
}

func (s *HostSampler) Sample(ctx context.Context) (model.DeviceSnapshot, error) {
	if s.err != nil {
		return model.DeviceSnapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, s.err)
	}
	if err := ctx.Err(); err != nil {
		return model.DeviceSnapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	stat, err := s.proc.Stat()
	if err != nil {
		return model.DeviceSnapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	at := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := model.DeviceSnapshot{Timestamp: at}

	c := stat.CPUTotal
	total := c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
	busy := total - c.Idle - c.Iowait
	if s.primed && total > s.prevTotal {
		snap.ComputeUtilization = 100 * (busy - s.prevBusy) / (total - s.prevTotal)
	}

	if mem, err := s.proc.Meminfo(); err == nil && mem.MemTotal != nil && mem.MemAvailable != nil && *mem.MemTotal > 0 {
		snap.MemoryTotal = float64(*mem.MemTotal) / 1024
		snap.MemoryUsed = float64(*mem.MemTotal-*mem.MemAvailable) / 1024
		snap.MemoryUtilization = 100 * snap.MemoryUsed / snap.MemoryTotal
	}

	if zones, err := s.sys.ClassThermalZoneStats(); err == nil {
		for _, z := range zones {
			snap.Temperature = max(snap.Temperature, float64(z.Temp)/1000)
		}
	}

	snap.PowerDraw = s.packagePower(at)

	s.prevBusy, s.prevTotal, s.prevAt = busy, total, at
	s.primed = true
	return snap, nil
}

// packagePower sums the RAPL package zones' energy since the previous read.
func (s *HostSampler) packagePower(at time.Time) float64 {
	zones, err := sysfs.GetRaplZones(s.sys)
	if err != nil {
		return 0
	}
	dt := at.Sub(s.prevAt).Seconds()

	var watts float64
	for _, z := range zones {
		if z.Name != "package" {
			continue
		}
		uj, err := z.GetEnergyMicrojoules()
		if err != nil {
			continue
		}
		prev, seen := s.energy[z.Path]
		s.energy[z.Path] = uj
		if !seen || !s.primed || dt <= 0 {
			continue
		}
		delta := uj - prev
		if uj < prev {
			delta = z.MaxMicrojoules - prev + uj
		}
		watts += float64(delta) / 1e6 / dt
	}
	return watts
}
