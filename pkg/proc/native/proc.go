// Package native reads the memory of live processes.
package native

import (
	"errors"

	"github.com/dsprint/dsprint/pkg/proc"
)

// ErrNativeBackendDisabled is returned when the native backend is not
// available on this platform.
var ErrNativeBackendDisabled = errors.New("native backend disabled")

// Config configures Attach.
type Config struct {
	// ExePath overrides the executable found in /proc/<pid>/exe.
	ExePath string
	// DebugInfoDirs are searched for the debug info of stripped
	// executables.
	DebugInfoDirs []string
	// StopTarget stops the process with SIGSTOP while it is inspected,
	// see (*proc.Target).Halt.
	StopTarget bool
}

// nativeProcess is a live process, its memory is read without stopping
// it unless StopTarget is set.
type nativeProcess struct {
	pid        int
	exePath    string
	stopTarget bool
	detached   bool
}

var _ proc.Process = &nativeProcess{}

// Pid returns the process id.
func (dbp *nativeProcess) Pid() int { return dbp.pid }

// Recorded returns false, live processes are not recordings.
func (dbp *nativeProcess) Recorded() bool { return false }

// Detach forgets about the process, it is resumed if it was halted by us.
func (dbp *nativeProcess) Detach() error {
	dbp.detached = true
	return nil
}
