package proc

import (
	"debug/elf"
	"fmt"

	"github.com/dsprint/dsprint/pkg/elfwriter"
	"github.com/dsprint/dsprint/pkg/logflags"
)

// maxDumpChunk is the size of the buffer used to copy target memory.
const maxDumpChunk = 1024 * 1024

// Dump writes the memory regions read so far to out as an ELF core file.
// The file can be opened again with core.OpenCore together with the
// executable. Regions that became unreadable are written as zeroes.
func (t *Target) Dump(out elfwriter.WriteCloserSeeker) (err error) {
	defer func() {
		cerr := out.Close()
		if err == nil && cerr != nil {
			err = fmt.Errorf("error writing output file: %v", cerr)
		}
	}()

	bi := t.BinInfo

	var fhdr elf.FileHeader
	fhdr.Class = elf.ELFCLASS64
	fhdr.Data = elf.ELFDATA2LSB
	fhdr.Version = elf.EV_CURRENT
	fhdr.OSABI = elf.ELFOSABI_LINUX
	fhdr.Type = elf.ET_CORE
	fhdr.Machine = bi.Machine

	w, err := elfwriter.New(out, &fhdr)
	if err != nil {
		return err
	}

	notes := []elfwriter.Note{{
		Type: elfwriter.DSPrintHeaderNoteType,
		Name: elfwriter.DSPrintHeaderNoteName,
		Data: []byte(fmt.Sprintf("%s%d\n%s%s\n%s%#x\n",
			elfwriter.DSPrintHeaderTargetPidPrefix, t.Pid(),
			elfwriter.DSPrintHeaderExecutablePrefix, bi.Path,
			elfwriter.DSPrintHeaderLoadBiasPrefix, bi.StaticBase())),
	}}

	// reads done while dumping are not recorded
	regions := t.mem.Regions()
	var tot uint64
	for _, r := range regions {
		t.dumpMemory(w, r)
		if w.Err != nil {
			return fmt.Errorf("error writing to output file: %v", w.Err)
		}
		tot += r.Size
	}

	w.Progs = append(w.Progs, w.WriteNotes(notes))
	w.WriteProgramHeaders()
	if w.Err != nil {
		return fmt.Errorf("error writing to output file: %v", w.Err)
	}
	logflags.ProcLogger().Debugf("dumped %d regions, %d bytes", len(regions), tot)
	return nil
}

func (t *Target) dumpMemory(w *elfwriter.Writer, r MemoryRegion) {
	w.Progs = append(w.Progs, &elf.ProgHeader{
		Type:   elf.PT_LOAD,
		Flags:  elf.PF_R,
		Off:    uint64(w.Here()),
		Vaddr:  r.Addr,
		Filesz: r.Size,
		Memsz:  r.Size,
	})

	buf := make([]byte, maxDumpChunk)
	addr := r.Addr
	sz := r.Size
	for sz > 0 && w.Err == nil {
		chunk := buf
		if uint64(len(chunk)) > sz {
			chunk = chunk[:sz]
		}
		n, _ := t.proc.ReadMemory(chunk, addr)
		for i := n; i < len(chunk); i++ {
			chunk[i] = 0
		}
		w.Write(chunk)
		addr += uint64(len(chunk))
		sz -= uint64(len(chunk))
	}
}
