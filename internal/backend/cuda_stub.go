//go:build !(linux && cgo && cuda)

package backend

import (
	"fmt"

	"github.com/daryltucker/gpu-stress/internal/model"
)

const cudaMissing = "built without CUDA support (needs linux, cgo and -tags cuda)"

func openCUDA(index int) (Device, error) {
	return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, cudaMissing)
}

func listCUDA() ([]model.DeviceInfo, error) {
	return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, cudaMissing)
}
