package core

import (
	"errors"
	"fmt"
	"io"

	"github.com/dsprint/dsprint/pkg/logflags"
	"github.com/dsprint/dsprint/pkg/proc"
)

// A SplicedMemory represents a memory space formed from multiple regions,
// each of which may override previously regions. For example, in the following
// core, the program text was loaded at 0x400000:
// Start               End                 Page Offset
// 0x0000000000400000  0x000000000044f000  0x0000000000000000
// but then it's partially overwritten with an RW mapping whose data is stored
// in the core file:
//
//	Type           Offset             VirtAddr           PhysAddr
//	               FileSiz            MemSiz              Flags  Align
//	LOAD           0x0000000000004000 0x000000000049a000 0x0000000000000000
//	               0x0000000000002000 0x0000000000002000  RW     1000
//
// This can be represented in a SplicedMemory by adding the original region,
// then putting the RW mapping on top of it.
type SplicedMemory struct {
	readers []readerEntry
}

type readerEntry struct {
	offset uint64
	length uint64
	reader proc.MemoryReader
}

// Add adds a new region to the SplicedMemory, which may override existing regions.
func (r *SplicedMemory) Add(reader proc.MemoryReader, off, length uint64) {
	if length == 0 {
		return
	}
	end := off + length - 1
	newReaders := make([]readerEntry, 0, len(r.readers))
	add := func(e readerEntry) {
		if e.length == 0 {
			return
		}
		newReaders = append(newReaders, e)
	}
	inserted := false
	for _, entry := range r.readers {
		entryEnd := entry.offset + entry.length - 1
		switch {
		case entryEnd < off:
			add(entry)
		case end < entry.offset:
			if !inserted {
				add(readerEntry{off, length, reader})
				inserted = true
			}
			add(entry)
		case off <= entry.offset && entryEnd <= end:
			// overwritten
		case entry.offset < off && entryEnd <= end:
			entry.length = off - entry.offset
			add(entry)
		case off <= entry.offset && end < entryEnd:
			if !inserted {
				add(readerEntry{off, length, reader})
				inserted = true
			}
			overlap := end + 1 - entry.offset
			entry.offset += overlap
			entry.length -= overlap
			add(entry)
		default:
			// the new region punches a hole in the entry
			add(readerEntry{entry.offset, off - entry.offset, entry.reader})
			add(readerEntry{off, length, reader})
			add(readerEntry{end + 1, entryEnd - end, entry.reader})
			inserted = true
		}
	}
	if !inserted {
		newReaders = append(newReaders, readerEntry{off, length, reader})
	}
	r.readers = newReaders
}

// ReadMemory implements proc.MemoryReader.
func (r *SplicedMemory) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	started := false
	for _, entry := range r.readers {
		if entry.offset+entry.length <= addr {
			continue
		}
		if entry.offset > addr {
			if !started {
				break
			}
			return n, fmt.Errorf("hit unmapped area at %#x after %d bytes", addr, n)
		}
		started = true

		pb := buf
		if addr+uint64(len(buf)) > entry.offset+entry.length {
			pb = pb[:entry.offset+entry.length-addr]
		}
		pn, err := entry.reader.ReadMemory(pb, addr)
		n += pn
		if err != nil && pn != len(pb) {
			return n, fmt.Errorf("error while reading spliced memory at %#x: %v", addr, err)
		}
		buf = buf[pn:]
		addr += uint64(pn)
		if len(buf) == 0 {
			return n, nil
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("address %#x did not match any regions", addr)
	}
	return n, fmt.Errorf("hit unmapped area at %#x after %d bytes", addr, n)
}

// OffsetReaderAt wraps a ReaderAt into a MemoryReader, subtracting a fixed
// offset from the address. This is useful to represent a mapping in an address
// space. For example, if program text is mapped in at 0x400000, an
// OffsetReaderAt with offset 0x400000 can be wrapped around file.Open(program)
// to return the results of a read in that part of the address space.
type OffsetReaderAt struct {
	Reader io.ReaderAt
	Offset uint64
}

// ReadMemory will read the memory at addr-offset.
func (r *OffsetReaderAt) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	n, err = r.Reader.ReadAt(buf, int64(addr-r.Offset))
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	return n, err
}

var (
	// ErrUnrecognizedFormat is returned when the core file is not recognized as
	// any of the supported formats.
	ErrUnrecognizedFormat = errors.New("unrecognized core format")

	// ErrNoExecutable is returned when no executable was specified and the
	// core file does not record one.
	ErrNoExecutable = errors.New("no executable specified and none recorded in the core file")
)

// process represents a core file.
type process struct {
	mem proc.MemoryReader
	pid int

	// exePath and loadBias are read from the notes of the core file.
	exePath     string
	loadBias    uint64
	hasLoadBias bool

	closers []io.Closer
}

var _ proc.Process = &process{}

func (p *process) ReadMemory(buf []byte, addr uint64) (int, error) {
	n, err := p.mem.ReadMemory(buf, addr)
	if err == nil && n != len(buf) {
		err = proc.ErrShortRead
	}
	return n, err
}

// Pid returns the process id of the process that generated the core file.
func (p *process) Pid() int { return p.pid }

// Recorded always returns true for core files.
func (p *process) Recorded() bool { return true }

// Halt is a no-op, core files do not execute.
func (p *process) Halt() error { return nil }

// Resume is a no-op, core files do not execute.
func (p *process) Resume() error { return nil }

// Detach closes the core file.
func (p *process) Detach() error {
	var err error
	for _, c := range p.closers {
		if err1 := c.Close(); err == nil {
			err = err1
		}
	}
	p.closers = nil
	return err
}

// Config configures OpenCore.
type Config struct {
	// DebugInfoDirs are searched for the debug info of stripped
	// executables.
	DebugInfoDirs []string
	// LoadBias, when SetLoadBias is true, replaces the load bias of the
	// executable found in the core file.
	LoadBias    uint64
	SetLoadBias bool
}

// OpenCore opens the core file at corePath, a Linux core or a dump written
// by proc.(*Target).Dump, and the executable that generated it. If exePath
// is empty the executable recorded in the dump is used.
func OpenCore(corePath, exePath string, cfg Config) (*proc.Target, error) {
	p, err := readLinuxCore(corePath, exePath, cfg)
	if err != nil {
		return nil, err
	}
	bi, err := proc.LoadBinaryInfo(p.exePath, cfg.DebugInfoDirs)
	if err != nil {
		p.Detach()
		return nil, err
	}
	bi.SetStaticBase(p.loadBias)
	logflags.ProcLogger().Debugf("opened core %s for %s, pid %d, load bias %#x", corePath, p.exePath, p.pid, p.loadBias)
	return proc.NewTarget(p, bi), nil
}
