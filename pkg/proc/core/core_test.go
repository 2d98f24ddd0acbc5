package core

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/dsprint/dsprint/pkg/dwarf/dwarfbuilder"
	"github.com/dsprint/dsprint/pkg/elfwriter"
	"github.com/dsprint/dsprint/pkg/proc"
)

func TestSplicedReader(t *testing.T) {
	data := []byte{}
	data2 := []byte{}
	for i := 0; i < 100; i++ {
		data = append(data, byte(i))
		data2 = append(data2, byte(i+100))
	}

	type region struct {
		data   []byte
		off    uint64
		length uint64
	}
	tests := []struct {
		name     string
		regions  []region
		readAddr uint64
		readLen  int
		want     []byte
	}{
		{
			"Insert after",
			[]region{
				{data, 0, 1},
				{data2, 1, 1},
			},
			0,
			2,
			[]byte{0, 101},
		},
		{
			"Insert before",
			[]region{
				{data, 1, 1},
				{data2, 0, 1},
			},
			0,
			2,
			[]byte{100, 1},
		},
		{
			"Completely overwrite",
			[]region{
				{data, 1, 1},
				{data2, 0, 3},
			},
			0,
			3,
			[]byte{100, 101, 102},
		},
		{
			"Overwrite end",
			[]region{
				{data, 0, 2},
				{data2, 1, 2},
			},
			0,
			3,
			[]byte{0, 101, 102},
		},
		{
			"Overwrite start",
			[]region{
				{data, 0, 3},
				{data2, 0, 2},
			},
			0,
			3,
			[]byte{100, 101, 2},
		},
		{
			"Punch hole",
			[]region{
				{data, 0, 5},
				{data2, 1, 3},
			},
			0,
			5,
			[]byte{0, 101, 102, 103, 4},
		},
		{
			"Overlap two",
			[]region{
				{data, 10, 4},
				{data, 14, 4},
				{data2, 12, 4},
			},
			10,
			8,
			[]byte{10, 11, 112, 113, 114, 115, 16, 17},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mem := &SplicedMemory{}
			for _, region := range test.regions {
				r := bytes.NewReader(region.data)
				mem.Add(&OffsetReaderAt{r, 0}, region.off, region.length)
			}
			got := make([]byte, test.readLen)
			n, err := mem.ReadMemory(got, test.readAddr)
			if n != test.readLen || err != nil || !reflect.DeepEqual(got, test.want) {
				t.Errorf("ReadAt = %v, %v, %v, want %v, %v, %v", n, err, got, test.readLen, nil, test.want)
			}
		})
	}
}

func TestSplicedReaderUnmapped(t *testing.T) {
	mem := &SplicedMemory{}
	mem.Add(&OffsetReaderAt{bytes.NewReader(make([]byte, 8)), 0x10}, 0x10, 8)
	mem.Add(&OffsetReaderAt{bytes.NewReader(make([]byte, 8)), 0x20}, 0x20, 8)

	buf := make([]byte, 4)
	if n, err := mem.ReadMemory(buf, 0x8); n != 0 || err == nil {
		t.Errorf("read before the first region: %d %v", n, err)
	}
	buf = make([]byte, 0x10)
	if n, err := mem.ReadMemory(buf, 0x10); n != 8 || err == nil {
		t.Errorf("read across a gap: %d %v", n, err)
	}
}

type memoryProcess struct {
	base uint64
	data []byte
}

func (p *memoryProcess) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < p.base || addr+uint64(len(buf)) > p.base+uint64(len(p.data)) {
		return 0, fmt.Errorf("could not read %#x", addr)
	}
	return copy(buf, p.data[addr-p.base:]), nil
}

func (p *memoryProcess) Pid() int       { return 1234 }
func (p *memoryProcess) Recorded() bool { return false }
func (p *memoryProcess) Halt() error    { return nil }
func (p *memoryProcess) Resume() error  { return nil }
func (p *memoryProcess) Detach() error  { return nil }

// writeExecutable writes a minimal executable with a single PT_LOAD
// segment at vaddr.
func writeExecutable(t *testing.T, path string, vaddr uint64, data []byte) {
	fh, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := elfwriter.New(fh, &elf.FileHeader{Class: elf.ELFCLASS64, Data: elf.ELFDATA2LSB, Version: elf.EV_CURRENT, Type: elf.ET_EXEC, Machine: elf.EM_X86_64})
	if err != nil {
		t.Fatal(err)
	}
	w.WriteSegment(vaddr, elf.PF_R, data)
	w.WriteProgramHeaders()
	if w.Err != nil {
		t.Fatal(w.Err)
	}
	if err := fh.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDumpRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "dsprint-core")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	exePath := filepath.Join(dir, "exe")
	writeExecutable(t, exePath, 0x4000, []byte("text segment"))

	d, err := dwarfbuilder.New().Data()
	if err != nil {
		t.Fatal(err)
	}
	bi, err := proc.NewBinaryInfo(d, 8)
	if err != nil {
		t.Fatal(err)
	}
	bi.Path = exePath

	live := &memoryProcess{base: 0x1000, data: make([]byte, 0x100)}
	binary.LittleEndian.PutUint64(live.data[0x10:], 0xdeadbeef)
	binary.LittleEndian.PutUint64(live.data[0x80:], 0xcafe)
	tgt := proc.NewTarget(live, bi)

	buf := make([]byte, 8)
	for _, addr := range []uint64{0x1010, 0x1080} {
		if _, err := tgt.Memory().ReadMemory(buf, addr); err != nil {
			t.Fatal(err)
		}
	}

	corePath := filepath.Join(dir, "core")
	fh, err := os.Create(corePath)
	if err != nil {
		t.Fatal(err)
	}
	if err := tgt.Dump(fh); err != nil {
		t.Fatal(err)
	}

	p, err := readLinuxCore(corePath, "", Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Detach()
	if p.Pid() != 1234 {
		t.Errorf("pid: got %d want 1234", p.Pid())
	}
	if p.exePath != exePath {
		t.Errorf("executable: got %q want %q", p.exePath, exePath)
	}
	if !p.hasLoadBias || p.loadBias != 0 {
		t.Errorf("load bias: got %#x %v", p.loadBias, p.hasLoadBias)
	}

	for _, tc := range []struct {
		addr uint64
		want uint64
	}{{0x1010, 0xdeadbeef}, {0x1080, 0xcafe}} {
		if _, err := p.ReadMemory(buf, tc.addr); err != nil {
			t.Fatalf("%#x: %v", tc.addr, err)
		}
		if got := binary.LittleEndian.Uint64(buf); got != tc.want {
			t.Errorf("%#x: got %#x want %#x", tc.addr, got, tc.want)
		}
	}
	// memory that was never displayed is not in the dump
	if _, err := p.ReadMemory(buf, 0x1040); err == nil {
		t.Errorf("read of memory that was not recorded succeeded")
	}
	// the executable provides its own segments
	text := make([]byte, 4)
	if _, err := p.ReadMemory(text, 0x4000); err != nil || string(text) != "text" {
		t.Errorf("executable segment: got %q %v", text, err)
	}
}

func TestOpenCoreUnrecognized(t *testing.T) {
	dir, err := ioutil.TempDir("", "dsprint-core")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "notacore")
	if err := ioutil.WriteFile(path, []byte("this is not an ELF file"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenCore(path, "", Config{}); err != ErrUnrecognizedFormat {
		t.Errorf("got %v want %v", err, ErrUnrecognizedFormat)
	}
}

func TestReadNTFile(t *testing.T) {
	var desc bytes.Buffer
	binary.Write(&desc, binary.LittleEndian, linuxNTFileHdr{Count: 2, PageSize: 0x1000})
	binary.Write(&desc, binary.LittleEndian, linuxNTFileEntryHdr{Start: 0x555555554000, End: 0x555555556000, FileOfs: 0})
	binary.Write(&desc, binary.LittleEndian, linuxNTFileEntryHdr{Start: 0x555555556000, End: 0x555555557000, FileOfs: 2})
	desc.WriteString("/usr/bin/app\x00/usr/bin/app\x00")

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, elfNotesHdr{Namesz: 5, Descsz: uint32(desc.Len()), Type: uint32(_NT_FILE)})
	buf.WriteString("CORE\x00\x00\x00\x00")
	buf.Write(desc.Bytes())

	note, err := readNote(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	file, ok := note.Desc.(*linuxNTFile)
	if !ok {
		t.Fatalf("got %T", note.Desc)
	}
	if len(file.entries) != 2 {
		t.Fatalf("got %d entries", len(file.entries))
	}
	for _, e := range file.entries {
		if e.Name != "/usr/bin/app" {
			t.Errorf("name: got %q", e.Name)
		}
	}
	if file.entries[1].FileOfs != 2 {
		t.Errorf("file offset: got %d", file.entries[1].FileOfs)
	}
}
