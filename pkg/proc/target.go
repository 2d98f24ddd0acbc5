package proc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
	"github.com/dsprint/dsprint/pkg/logflags"
)

// ErrProcessDetached indicates that we detached from the target process.
var ErrProcessDetached = errors.New("detached from the process")

// ErrProcessExited indicates that the process has exited.
type ErrProcessExited struct {
	Pid int
}

func (pe ErrProcessExited) Error() string {
	return fmt.Sprintf("Process %d has exited", pe.Pid)
}

// Process is the memory of an inspected program, a live process or a
// core file.
type Process interface {
	MemoryReader

	// Pid returns the process id of the target.
	Pid() int
	// Recorded returns true for core files.
	Recorded() bool
	// Halt stops a live process, it is a no-op for core files.
	Halt() error
	// Resume resumes a process stopped by Halt.
	Resume() error
	// Detach releases the target.
	Detach() error
}

// Target is the program being inspected: its memory and the debug info of
// its executable.
type Target struct {
	proc    Process
	BinInfo *BinaryInfo

	// mem records every read so that the dump command can save the
	// memory that was displayed.
	mem *RecordingMemory

	mu       sync.Mutex
	halted   int
	detached bool
}

// NewTarget returns a Target reading memory from p and types from bi.
func NewTarget(p Process, bi *BinaryInfo) *Target {
	return &Target{proc: p, BinInfo: bi, mem: NewRecordingMemory(p)}
}

// Memory returns the memory of the target.
func (t *Target) Memory() MemoryReader {
	return t.mem
}

// RecordedRegions returns the memory regions read since the target was
// opened.
func (t *Target) RecordedRegions() []MemoryRegion {
	return t.mem.Regions()
}

// Pid returns the process id of the target.
func (t *Target) Pid() int {
	return t.proc.Pid()
}

// Recorded returns true if the target is a core file.
func (t *Target) Recorded() bool {
	return t.proc.Recorded()
}

// Global returns the global variable called name.
func (t *Target) Global(name string) (*Variable, error) {
	if t.detached {
		return nil, ErrProcessDetached
	}
	addr, typ, err := t.BinInfo.Global(name)
	if err != nil {
		return nil, err
	}
	return newVariable(name, addr, typ, t.BinInfo, t.mem), nil
}

// NewVariable returns a variable of type typ at addr in the target memory.
func (t *Target) NewVariable(name string, addr uint64, typ godwarf.Type) *Variable {
	return newVariable(name, addr, typ, t.BinInfo, t.mem)
}

// Halt stops the target. Calls nest, the process is resumed by the Resume
// call matching the first Halt.
func (t *Target) Halt() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detached {
		return ErrProcessDetached
	}
	if t.halted == 0 {
		if err := t.proc.Halt(); err != nil {
			return err
		}
		logflags.ProcLogger().Debugf("halted %d", t.proc.Pid())
	}
	t.halted++
	return nil
}

// Resume undoes a call to Halt.
func (t *Target) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.halted == 0 || t.detached {
		return nil
	}
	t.halted--
	if t.halted == 0 {
		logflags.ProcLogger().Debugf("resuming %d", t.proc.Pid())
		return t.proc.Resume()
	}
	return nil
}

// Detach releases the target and closes the executable.
func (t *Target) Detach() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detached {
		return nil
	}
	t.detached = true
	if t.halted > 0 {
		t.halted = 0
		if err := t.proc.Resume(); err != nil {
			logflags.ProcLogger().WithError(err).Errorf("could not resume %d", t.proc.Pid())
		}
	}
	err := t.proc.Detach()
	if t.BinInfo != nil {
		if err1 := t.BinInfo.Close(); err == nil {
			err = err1
		}
	}
	return err
}

// LookupType returns the type called name in the debug info of the target.
func (t *Target) LookupType(name string) (godwarf.Type, error) {
	return t.BinInfo.LookupType(name)
}

// TypeNames returns the names of the types defined by the target, sorted.
func (t *Target) TypeNames() []string {
	return t.BinInfo.TypeNames()
}

// GlobalNames returns the names of the global variables of the target,
// sorted.
func (t *Target) GlobalNames() []string {
	return t.BinInfo.GlobalNames()
}
