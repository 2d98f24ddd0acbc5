package native

import (
	"bufio"
	"debug/elf"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	sys "golang.org/x/sys/unix"

	"github.com/dsprint/dsprint/pkg/logflags"
	"github.com/dsprint/dsprint/pkg/proc"
)

const statusZombie = 'Z'

// Attach returns a Target for the running process pid. Memory is read with
// process_vm_readv, which requires the same permissions as ptrace.
func Attach(pid int, cfg Config) (*proc.Target, error) {
	if err := sys.Kill(pid, 0); err != nil {
		if err == sys.ESRCH {
			return nil, proc.ErrProcessExited{Pid: pid}
		}
		return nil, fmt.Errorf("could not attach to pid %d: %v", pid, err)
	}
	dbp := &nativeProcess{pid: pid, exePath: findExecutable(cfg.ExePath, pid), stopTarget: cfg.StopTarget}

	bi, err := proc.LoadBinaryInfo(dbp.exePath, cfg.DebugInfoDirs)
	if err != nil {
		return nil, err
	}
	if bi.PIE {
		bias, err := dbp.loadBias()
		if err != nil {
			bi.Close()
			return nil, err
		}
		bi.SetStaticBase(bias)
	}
	logflags.ProcLogger().Debugf("attached to %d (%s), load bias %#x", pid, dbp.exePath, bi.StaticBase())
	return proc.NewTarget(dbp, bi), nil
}

func findExecutable(path string, pid int) string {
	if path == "" {
		path = fmt.Sprintf("/proc/%d/exe", pid)
	}
	return path
}

// ReadMemory reads the memory of the process with process_vm_readv.
func (dbp *nativeProcess) ReadMemory(buf []byte, addr uint64) (int, error) {
	if dbp.detached {
		return 0, proc.ErrProcessDetached
	}
	if len(buf) == 0 {
		return 0, nil
	}
	local := []sys.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []sys.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := sys.ProcessVMReadv(dbp.pid, local, remote, 0)
	if err != nil {
		return 0, dbp.exitGuard(err)
	}
	if n < len(buf) {
		return n, proc.ErrShortRead
	}
	return n, nil
}

// Halt stops the process with SIGSTOP if StopTarget was requested.
func (dbp *nativeProcess) Halt() error {
	if !dbp.stopTarget {
		return nil
	}
	return dbp.exitGuard(sys.Kill(dbp.pid, sys.SIGSTOP))
}

// Resume sends SIGCONT to a process stopped by Halt.
func (dbp *nativeProcess) Resume() error {
	if !dbp.stopTarget {
		return nil
	}
	return dbp.exitGuard(sys.Kill(dbp.pid, sys.SIGCONT))
}

func (dbp *nativeProcess) exitGuard(err error) error {
	if err == nil {
		return nil
	}
	if err == sys.ESRCH || status(dbp.pid) == statusZombie {
		return proc.ErrProcessExited{Pid: dbp.pid}
	}
	return err
}

// loadBias returns the address the executable is mapped at minus the
// address of its first PT_LOAD segment.
func (dbp *nativeProcess) loadBias() (uint64, error) {
	exe, err := elf.Open(dbp.exePath)
	if err != nil {
		return 0, err
	}
	defer exe.Close()
	var firstLoad uint64
	for _, prog := range exe.Progs {
		if prog.Type == elf.PT_LOAD {
			firstLoad = prog.Vaddr - prog.Off
			break
		}
	}

	exeName, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", dbp.pid))
	if err != nil {
		return 0, err
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", dbp.pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	maps, err := parseMaps(f)
	if err != nil {
		return 0, err
	}
	for _, m := range maps {
		if m.path == exeName && m.offset == 0 {
			return m.start - firstLoad, nil
		}
	}
	return 0, fmt.Errorf("could not find %s in the memory map of %d", exeName, dbp.pid)
}

type mapping struct {
	start, end, offset uint64
	path               string
}

// parseMaps parses the contents of /proc/<pid>/maps.
func parseMaps(r io.Reader) ([]mapping, error) {
	var maps []mapping
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		// 55d6f1c00000-55d6f1c02000 r--p 00000000 fd:01 1234   /usr/bin/app
		fields := strings.Fields(scan.Text())
		if len(fields) < 5 {
			continue
		}
		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			return nil, fmt.Errorf("malformed memory map line %q", scan.Text())
		}
		var m mapping
		var err error
		if m.start, err = strconv.ParseUint(addrs[0], 16, 64); err != nil {
			return nil, err
		}
		if m.end, err = strconv.ParseUint(addrs[1], 16, 64); err != nil {
			return nil, err
		}
		if m.offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
			return nil, err
		}
		if len(fields) >= 6 {
			m.path = strings.Join(fields[5:], " ")
		}
		maps = append(maps, m)
	}
	return maps, scan.Err()
}

// status returns the state field of /proc/<pid>/stat.
func status(pid int) rune {
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return '\000'
	}
	// The second field is the name of the task in parentheses, it can
	// contain both parenthesis and spaces.
	s := string(buf)
	i := strings.LastIndexByte(s, ')')
	if i < 0 || i+2 >= len(s) {
		return '\000'
	}
	return rune(s[i+2])
}
