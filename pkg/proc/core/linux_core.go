package core

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dsprint/dsprint/pkg/elfwriter"
	"github.com/dsprint/dsprint/pkg/proc"
)

// NT_FILE is file mapping information, e.g. program text mappings. Desc is a LinuxNTFile.
const _NT_FILE elf.NType = 0x46494c45 // "FILE".

const elfErrorBadMagicNumber = "bad magic number"

// readLinuxCore reads a core file from corePath corresponding to the executable at
// exePath. For details on the Linux ELF core format, see:
// http://www.gabriel.urdhr.fr/2015/05/29/core-file/,
// http://uhlo.blogspot.fr/2012/05/brief-look-into-core-dumps.html,
// elf_core_dump in http://lxr.free-electrons.com/source/fs/binfmt_elf.c,
// and, if absolutely desperate, readelf.c from the binutils source.
func readLinuxCore(corePath, exePath string, cfg Config) (*process, error) {
	coreFile, err := elf.Open(corePath)
	if err != nil {
		if _, isfmterr := err.(*elf.FormatError); isfmterr && (strings.Contains(err.Error(), elfErrorBadMagicNumber) || strings.Contains(err.Error(), " at offset 0x0: too short")) {
			return nil, ErrUnrecognizedFormat
		}
		return nil, err
	}
	if coreFile.Type != elf.ET_CORE {
		coreFile.Close()
		return nil, fmt.Errorf("%s is not a core file", corePath)
	}

	notes, err := readNotes(coreFile)
	if err != nil {
		coreFile.Close()
		return nil, err
	}
	p := &process{closers: []io.Closer{coreFile}}
	if err := p.readHeaderNotes(notes); err != nil {
		coreFile.Close()
		return nil, err
	}
	if cfg.SetLoadBias {
		p.loadBias, p.hasLoadBias = cfg.LoadBias, true
	}
	if exePath == "" {
		exePath = p.exePath
	}
	if exePath == "" {
		coreFile.Close()
		return nil, ErrNoExecutable
	}
	p.exePath = exePath

	exe, err := os.Open(exePath)
	if err != nil {
		coreFile.Close()
		return nil, err
	}
	p.closers = append(p.closers, exe)
	exeELF, err := elf.NewFile(exe)
	if err != nil {
		p.Detach()
		return nil, err
	}
	if exeELF.Type != elf.ET_EXEC && exeELF.Type != elf.ET_DYN {
		p.Detach()
		return nil, fmt.Errorf("%s is not an executable file", exePath)
	}

	if !p.hasLoadBias {
		p.loadBias, p.hasLoadBias = loadBiasFromNotes(notes, exeELF, exePath)
	}
	p.mem = buildMemory(coreFile, exeELF, exe, exePath, p.loadBias, notes)
	return p, nil
}

// readHeaderNotes reads the process id from NT_PRPSINFO and the header
// note written by the dump command.
func (p *process) readHeaderNotes(notes []*note) error {
	for _, note := range notes {
		switch note.Type {
		case elf.NT_PRPSINFO:
			if info, ok := note.Desc.(*linuxPrPsInfo); ok {
				p.pid = int(info.Pid)
			}
		case elfwriter.DSPrintHeaderNoteType:
			if err := p.readDSPrintHeader(note.Desc.([]byte)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *process) readDSPrintHeader(desc []byte) error {
	buf := bytes.NewBuffer(desc)
	for {
		line, err := buf.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(line, elfwriter.DSPrintHeaderTargetPidPrefix):
			pid, err := strconv.ParseUint(line[len(elfwriter.DSPrintHeaderTargetPidPrefix):], 10, 64)
			if err != nil {
				return fmt.Errorf("malformed dsprint header note (bad pid): %v", err)
			}
			p.pid = int(pid)
		case strings.HasPrefix(line, elfwriter.DSPrintHeaderExecutablePrefix):
			p.exePath = line[len(elfwriter.DSPrintHeaderExecutablePrefix):]
		case strings.HasPrefix(line, elfwriter.DSPrintHeaderLoadBiasPrefix):
			bias, err := strconv.ParseUint(line[len(elfwriter.DSPrintHeaderLoadBiasPrefix):], 0, 64)
			if err != nil {
				return fmt.Errorf("malformed dsprint header note (bad load bias): %v", err)
			}
			p.loadBias, p.hasLoadBias = bias, true
		}
	}
	return nil
}

// loadBiasFromNotes returns the difference between the address the
// executable was mapped at, according to NT_FILE, and the address of its
// first PT_LOAD segment.
func loadBiasFromNotes(notes []*note, exeELF *elf.File, exePath string) (uint64, bool) {
	if exeELF.Type != elf.ET_DYN {
		return 0, true
	}
	firstLoad := uint64(0)
	found := false
	for _, prog := range exeELF.Progs {
		if prog.Type == elf.PT_LOAD {
			firstLoad = prog.Vaddr - prog.Off
			found = true
			break
		}
	}
	if !found {
		return 0, false
	}
	for _, note := range notes {
		if note.Type != _NT_FILE {
			continue
		}
		fileNote := note.Desc.(*linuxNTFile)
		for _, entry := range fileNote.entries {
			if entry.FileOfs == 0 && sameFile(entry.Name, exePath) {
				return entry.Start - firstLoad, true
			}
		}
	}
	return 0, false
}

func sameFile(mapped, exePath string) bool {
	if mapped == exePath {
		return true
	}
	if abs, err := filepath.Abs(exePath); err == nil && abs == mapped {
		return true
	}
	return filepath.Base(mapped) == filepath.Base(exePath)
}

// Note is a note from the PT_NOTE prog.
// Relevant types:
// - NT_FILE: File mapping information, e.g. program text mappings. Desc is a LinuxNTFile.
// - NT_PRPSINFO: Information about a process, including PID and signal. Desc is a LinuxPrPsInfo.
// - DSPR: header written by the dump command, Desc is a []byte.
type note struct {
	Type elf.NType
	Name string
	Desc interface{}
}

// readNotes reads all the notes from the notes prog in core.
func readNotes(core *elf.File) ([]*note, error) {
	notes := []*note{}
	for _, prog := range core.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}
		r := prog.Open()
		for {
			note, err := readNote(r)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			notes = append(notes, note)
		}
	}
	return notes, nil
}

// readNote reads a single note from r, decoding the descriptor if possible.
func readNote(r io.ReadSeeker) (*note, error) {
	// Notes are laid out as described in the SysV ABI:
	// http://www.sco.com/developers/gabi/latest/ch5.pheader.html#note_section
	note := &note{}
	hdr := &elfNotesHdr{}

	err := binary.Read(r, binary.LittleEndian, hdr)
	if err != nil {
		return nil, err // don't wrap so readNotes sees EOF.
	}
	note.Type = elf.NType(hdr.Type)

	name := make([]byte, hdr.Namesz)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("reading name: %v", err)
	}
	note.Name = string(name)
	if err := skipPadding(r, 4); err != nil {
		return nil, fmt.Errorf("aligning after name: %v", err)
	}
	desc := make([]byte, hdr.Descsz)
	if _, err := io.ReadFull(r, desc); err != nil {
		return nil, fmt.Errorf("reading desc: %v", err)
	}
	descReader := bytes.NewReader(desc)
	switch note.Type {
	case elf.NT_PRPSINFO:
		note.Desc = &linuxPrPsInfo{}
		if err := binary.Read(descReader, binary.LittleEndian, note.Desc); err != nil {
			return nil, fmt.Errorf("reading NT_PRPSINFO: %v", err)
		}
	case _NT_FILE:
		// The structure is a header, including entry count, followed by
		// that many entries, and then the file name of each entry,
		// null-delimited.
		data := &linuxNTFile{}
		if err := binary.Read(descReader, binary.LittleEndian, &data.linuxNTFileHdr); err != nil {
			return nil, fmt.Errorf("reading NT_FILE header: %v", err)
		}
		for i := 0; i < int(data.Count); i++ {
			entry := &linuxNTFileEntry{}
			if err := binary.Read(descReader, binary.LittleEndian, &entry.linuxNTFileEntryHdr); err != nil {
				return nil, fmt.Errorf("reading NT_FILE entry %v: %v", i, err)
			}
			data.entries = append(data.entries, entry)
		}
		names := bytes.Split(desc[len(desc)-descReader.Len():], []byte{0})
		for i, entry := range data.entries {
			if i < len(names) {
				entry.Name = string(names[i])
			}
		}
		note.Desc = data
	default:
		note.Desc = desc
	}
	if err := skipPadding(r, 4); err != nil {
		return nil, fmt.Errorf("aligning after desc: %v", err)
	}
	return note, nil
}

// skipPadding moves r to the next multiple of pad.
func skipPadding(r io.ReadSeeker, pad int64) error {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos%pad == 0 {
		return nil
	}
	if _, err := r.Seek(pad-(pos%pad), io.SeekCurrent); err != nil {
		return err
	}
	return nil
}

func buildMemory(core, exeELF *elf.File, exe io.ReaderAt, exePath string, loadBias uint64, notes []*note) proc.MemoryReader {
	memory := &SplicedMemory{}

	for _, note := range notes {
		if note.Type != _NT_FILE {
			continue
		}
		fileNote := note.Desc.(*linuxNTFile)
		for _, entry := range fileNote.entries {
			if !sameFile(entry.Name, exePath) {
				continue
			}
			r := &OffsetReaderAt{
				Reader: exe,
				Offset: entry.Start - (entry.FileOfs * fileNote.PageSize),
			}
			memory.Add(r, entry.Start, entry.End-entry.Start)
		}
	}

	// Load memory segments from exe and then from the core file,
	// allowing the corefile to overwrite previously loaded segments
	if exeELF != nil {
		for _, prog := range exeELF.Progs {
			if prog.Type == elf.PT_LOAD && prog.Filesz != 0 {
				memory.Add(&OffsetReaderAt{Reader: prog.ReaderAt, Offset: prog.Vaddr + loadBias}, prog.Vaddr+loadBias, prog.Filesz)
			}
		}
	}
	for _, prog := range core.Progs {
		if prog.Type == elf.PT_LOAD && prog.Filesz != 0 {
			memory.Add(&OffsetReaderAt{Reader: prog.ReaderAt, Offset: prog.Vaddr}, prog.Vaddr, prog.Filesz)
		}
	}
	return memory
}

// LinuxPrPsInfo has various structures from the ELF format and the Linux kernel.
// See http://lxr.free-electrons.com/source/include/uapi/linux/elfcore.h
type linuxPrPsInfo struct {
	State                uint8
	Sname                int8
	Zomb                 uint8
	Nice                 int8
	_                    [4]uint8
	Flag                 uint64
	Uid, Gid             uint32
	Pid, Ppid, Pgrp, Sid int32
	Fname                [16]uint8
	Args                 [80]uint8
}

// LinuxNTFile contains information on mapped files.
type linuxNTFile struct {
	linuxNTFileHdr
	entries []*linuxNTFileEntry
}

// LinuxNTFileHdr is a header struct for NTFile.
type linuxNTFileHdr struct {
	Count    uint64
	PageSize uint64
}

// LinuxNTFileEntry is an entry of an NT_FILE note.
type linuxNTFileEntry struct {
	linuxNTFileEntryHdr
	Name string
}

type linuxNTFileEntryHdr struct {
	Start   uint64
	End     uint64
	FileOfs uint64
}

// elfNotesHdr is the ELF Notes header.
// Same size on 64 and 32-bit machines.
type elfNotesHdr struct {
	Namesz uint32
	Descsz uint32
	Type   uint32
}
