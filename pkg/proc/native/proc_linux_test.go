package native

import (
	"encoding/binary"
	"os"
	"strings"
	"testing"
	"unsafe"

	"github.com/dsprint/dsprint/pkg/proc"
)

func TestParseMaps(t *testing.T) {
	const maps = `55d6f1c00000-55d6f1c02000 r--p 00000000 fd:01 1234                       /usr/bin/my app
55d6f1c02000-55d6f1c08000 r-xp 00002000 fd:01 1234                       /usr/bin/my app
7ffd1e1fe000-7ffd1e21f000 rw-p 00000000 00:00 0                          [stack]
7ffd1e3f0000-7ffd1e3f2000 rw-p 00000000 00:00 0
`
	got, err := parseMaps(strings.NewReader(maps))
	if err != nil {
		t.Fatal(err)
	}
	want := []mapping{
		{0x55d6f1c00000, 0x55d6f1c02000, 0, "/usr/bin/my app"},
		{0x55d6f1c02000, 0x55d6f1c08000, 0x2000, "/usr/bin/my app"},
		{0x7ffd1e1fe000, 0x7ffd1e21f000, 0, "[stack]"},
		{0x7ffd1e3f0000, 0x7ffd1e3f2000, 0, ""},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d mappings want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestReadOwnMemory(t *testing.T) {
	var x [2]uint64
	x[0] = 0x1122334455667788
	x[1] = 42
	dbp := &nativeProcess{pid: os.Getpid()}
	buf := make([]byte, 16)
	n, err := dbp.ReadMemory(buf, addressOf(&x[0]))
	if err != nil {
		t.Skipf("process_vm_readv not permitted: %v", err)
	}
	if n != 16 || binary.LittleEndian.Uint64(buf) != x[0] || binary.LittleEndian.Uint64(buf[8:]) != x[1] {
		t.Errorf("got %d bytes %x", n, buf)
	}

	if status(os.Getpid()) != 'R' {
		t.Errorf("own status: got %q", status(os.Getpid()))
	}

	dbp.Detach()
	if _, err := dbp.ReadMemory(buf, addressOf(&x[0])); err != proc.ErrProcessDetached {
		t.Errorf("got %v want %v", err, proc.ErrProcessDetached)
	}
}

func addressOf(p *uint64) uint64 {
	return uint64(uintptr(unsafe.Pointer(p)))
}
