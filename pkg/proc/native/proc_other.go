//go:build !linux
// +build !linux

package native

import "github.com/dsprint/dsprint/pkg/proc"

// Attach returns ErrNativeBackendDisabled, live processes can only be
// inspected on Linux.
func Attach(pid int, cfg Config) (*proc.Target, error) {
	return nil, ErrNativeBackendDisabled
}

func (dbp *nativeProcess) ReadMemory(buf []byte, addr uint64) (int, error) {
	return 0, ErrNativeBackendDisabled
}

func (dbp *nativeProcess) Halt() error   { return ErrNativeBackendDisabled }
func (dbp *nativeProcess) Resume() error { return ErrNativeBackendDisabled }
