package op

import (
	"bytes"
	"errors"
	"testing"
)

func TestExecuteStackProgram(t *testing.T) {
	testCases := []struct {
		name         string
		instructions []byte
		ptrSize      int
		staticBase   uint64
		expected     uint64
	}{
		{"consts", []byte{byte(DW_OP_consts), 0x1c, byte(DW_OP_consts), 0x1c, byte(DW_OP_plus)}, 8, 0, 56},
		{"addr", []byte{byte(DW_OP_addr), 0x10, 0x20, 0x40, 0, 0, 0, 0, 0}, 8, 0, 0x402010},
		{"addr relocated", []byte{byte(DW_OP_addr), 0x10, 0x20, 0, 0, 0, 0, 0, 0}, 8, 0x555555554000, 0x555555556010},
		{"addr 32bit", []byte{byte(DW_OP_addr), 0x00, 0x10, 0, 0}, 4, 0, 0x1000},
		{"plus_uconst", []byte{byte(DW_OP_addr), 0x00, 0x10, 0, 0, 0, 0, 0, 0, byte(DW_OP_plus_uconst), 0x08}, 8, 0, 0x1008},
		{"const2s minus", []byte{byte(DW_OP_lit0 + 5), byte(DW_OP_const2s), 0xff, 0xff, byte(DW_OP_minus)}, 8, 0, 6},
	}
	for _, tc := range testCases {
		actual, err := ExecuteStackProgram(tc.instructions, tc.ptrSize, tc.staticBase)
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if actual != tc.expected {
			t.Errorf("%s: actual %#x != expected %#x", tc.name, actual, tc.expected)
		}
	}
}

func TestExecuteStackProgramErrors(t *testing.T) {
	tlsloc := []byte{byte(DW_OP_const8u), 0x10, 0, 0, 0, 0, 0, 0, 0, byte(DW_OP_GNU_push_tls_address)}
	if _, err := ExecuteStackProgram(tlsloc, 8, 0); !errors.Is(err, ErrThreadLocal) {
		t.Errorf("thread local: got %v", err)
	}
	if _, err := ExecuteStackProgram([]byte{byte(DW_OP_fbreg), 0x70}, 8, 0); !errors.Is(err, ErrNotStatic) {
		t.Errorf("fbreg: got %v", err)
	}
	if _, err := ExecuteStackProgram([]byte{byte(DW_OP_addr), 0x10}, 8, 0); err == nil {
		t.Errorf("truncated addr: no error")
	}
	if _, err := ExecuteStackProgram(nil, 8, 0); err == nil {
		t.Errorf("empty program: no error")
	}
	if _, err := ExecuteStackProgram([]byte{0xff}, 8, 0); err == nil {
		t.Errorf("invalid instruction: no error")
	}
}

func TestPrettyPrint(t *testing.T) {
	var out bytes.Buffer
	PrettyPrint(&out, []byte{byte(DW_OP_addr), 0x00, 0x10, 0, 0, 0, 0, 0, 0, byte(DW_OP_plus_uconst), 0x08, byte(DW_OP_lit0 + 3)}, 8)
	want := "DW_OP_addr 0x1000 DW_OP_plus_uconst 0x8 DW_OP_lit3 "
	if out.String() != want {
		t.Errorf("got %q want %q", out.String(), want)
	}
}
