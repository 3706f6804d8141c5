//go:build !linux

package telemetry

import (
	"context"
	"fmt"

	"github.com/daryltucker/gpu-stress/internal/model"
)

// HostSampler reads host CPU telemetry. Only Linux exposes it.
type HostSampler struct{}

// NewHostSampler returns a sampler whose every read is unavailable.
func NewHostSampler(procRoot, sysRoot string) *HostSampler {
	return &HostSampler{}
}

func (s *HostSampler) Sample(ctx context.Context) (model.DeviceSnapshot, error) {
	return model.DeviceSnapshot{}, fmt.Errorf("%w: host telemetry needs /proc and /sys", ErrUnavailable)
}
