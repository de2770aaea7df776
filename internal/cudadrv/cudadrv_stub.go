//go:build !cuda
// +build !cuda

package cudadrv

import "github.com/rapidsai/ptxcompiler/internal/version"

func DriverVersion() (version.Version, error) {
	return version.Version{}, ErrUnavailable
}

func RuntimeVersion() (version.Version, error) {
	return version.Version{}, ErrUnavailable
}

func ComputeCapability(ordinal int) (major, minor int, err error) {
	return 0, 0, ErrUnavailable
}

func (l JITLinker) Link(ptxes []string, major, minor, maxRegisters int) ([]byte, error) {
	return nil, ErrUnavailable
}
