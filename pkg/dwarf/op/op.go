// Package op evaluates the DWARF location expressions of variables with a
// static storage duration.
package op

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dsprint/dsprint/pkg/dwarf/leb128"
)

// Opcode represent a DWARF stack program instruction.
type Opcode byte

const (
	DW_OP_addr                 Opcode = 0x03
	DW_OP_const1u              Opcode = 0x08
	DW_OP_const1s              Opcode = 0x09
	DW_OP_const2u              Opcode = 0x0a
	DW_OP_const2s              Opcode = 0x0b
	DW_OP_const4u              Opcode = 0x0c
	DW_OP_const4s              Opcode = 0x0d
	DW_OP_const8u              Opcode = 0x0e
	DW_OP_const8s              Opcode = 0x0f
	DW_OP_constu               Opcode = 0x10
	DW_OP_consts               Opcode = 0x11
	DW_OP_minus                Opcode = 0x1c
	DW_OP_plus                 Opcode = 0x22
	DW_OP_plus_uconst          Opcode = 0x23
	DW_OP_lit0                 Opcode = 0x30
	DW_OP_lit31                Opcode = 0x4f
	DW_OP_reg0                 Opcode = 0x50
	DW_OP_reg31                Opcode = 0x6f
	DW_OP_breg0                Opcode = 0x70
	DW_OP_breg31               Opcode = 0x8f
	DW_OP_regx                 Opcode = 0x90
	DW_OP_fbreg                Opcode = 0x91
	DW_OP_bregx                Opcode = 0x92
	DW_OP_piece                Opcode = 0x93
	DW_OP_call_frame_cfa       Opcode = 0x9c
	DW_OP_form_tls_address     Opcode = 0x9b
	DW_OP_GNU_push_tls_address Opcode = 0xe0
)

var opcodeName = map[Opcode]string{
	DW_OP_addr:                 "DW_OP_addr",
	DW_OP_const1u:              "DW_OP_const1u",
	DW_OP_const1s:              "DW_OP_const1s",
	DW_OP_const2u:              "DW_OP_const2u",
	DW_OP_const2s:              "DW_OP_const2s",
	DW_OP_const4u:              "DW_OP_const4u",
	DW_OP_const4s:              "DW_OP_const4s",
	DW_OP_const8u:              "DW_OP_const8u",
	DW_OP_const8s:              "DW_OP_const8s",
	DW_OP_constu:               "DW_OP_constu",
	DW_OP_consts:               "DW_OP_consts",
	DW_OP_minus:                "DW_OP_minus",
	DW_OP_plus:                 "DW_OP_plus",
	DW_OP_plus_uconst:          "DW_OP_plus_uconst",
	DW_OP_regx:                 "DW_OP_regx",
	DW_OP_fbreg:                "DW_OP_fbreg",
	DW_OP_bregx:                "DW_OP_bregx",
	DW_OP_piece:                "DW_OP_piece",
	DW_OP_call_frame_cfa:       "DW_OP_call_frame_cfa",
	DW_OP_form_tls_address:     "DW_OP_form_tls_address",
	DW_OP_GNU_push_tls_address: "DW_OP_GNU_push_tls_address",
}

func (op Opcode) String() string {
	switch {
	case op >= DW_OP_lit0 && op <= DW_OP_lit31:
		return fmt.Sprintf("DW_OP_lit%d", op-DW_OP_lit0)
	case op >= DW_OP_reg0 && op <= DW_OP_reg31:
		return fmt.Sprintf("DW_OP_reg%d", op-DW_OP_reg0)
	case op >= DW_OP_breg0 && op <= DW_OP_breg31:
		return fmt.Sprintf("DW_OP_breg%d", op-DW_OP_breg0)
	}
	if name, ok := opcodeName[op]; ok {
		return name
	}
	return fmt.Sprintf("%#x", byte(op))
}

var (
	// ErrThreadLocal is returned for the location of a thread local
	// variable, its address depends on the thread reading it.
	ErrThreadLocal = errors.New("thread local storage")
	// ErrNotStatic is returned for locations that need the registers or
	// the frame of a running function.
	ErrNotStatic = errors.New("location is not a static address")
)

type stackfn func(Opcode, *context) error

type context struct {
	buf        *bytes.Buffer
	stack      []int64
	ptrSize    int
	staticBase uint64
}

var oplut map[Opcode]stackfn

func init() {
	oplut = map[Opcode]stackfn{
		DW_OP_addr:                 addr,
		DW_OP_constu:               constu,
		DW_OP_consts:               consts,
		DW_OP_plus:                 plus,
		DW_OP_minus:                minus,
		DW_OP_plus_uconst:          plusuconsts,
		DW_OP_form_tls_address:     tls,
		DW_OP_GNU_push_tls_address: tls,
		DW_OP_fbreg:                notStatic,
		DW_OP_regx:                 notStatic,
		DW_OP_bregx:                notStatic,
		DW_OP_call_frame_cfa:       notStatic,
	}
	for op, n := range map[Opcode]int{DW_OP_const1u: 1, DW_OP_const2u: 2, DW_OP_const4u: 4, DW_OP_const8u: 8} {
		oplut[op] = constn(n, false)
		oplut[op+1] = constn(n, true)
	}
	for op := DW_OP_lit0; op <= DW_OP_lit31; op++ {
		oplut[op] = lit
	}
	for op := DW_OP_reg0; op <= DW_OP_reg31; op++ {
		oplut[op] = notStatic
	}
	for op := DW_OP_breg0; op <= DW_OP_breg31; op++ {
		oplut[op] = notStatic
	}
}

// ExecuteStackProgram executes the DWARF location expression of a global
// variable and returns its address. DW_OP_addr operands are relocated by
// staticBase.
func ExecuteStackProgram(instructions []byte, ptrSize int, staticBase uint64) (uint64, error) {
	ctxt := &context{
		buf:        bytes.NewBuffer(instructions),
		stack:      make([]int64, 0, 3),
		ptrSize:    ptrSize,
		staticBase: staticBase,
	}

	for {
		opcodeByte, err := ctxt.buf.ReadByte()
		if err != nil {
			break
		}
		opcode := Opcode(opcodeByte)
		fn, ok := oplut[opcode]
		if !ok {
			return 0, fmt.Errorf("invalid instruction %v", opcode)
		}

		if err := fn(opcode, ctxt); err != nil {
			return 0, err
		}
	}

	if len(ctxt.stack) == 0 {
		return 0, errors.New("empty OP stack")
	}

	return uint64(ctxt.stack[len(ctxt.stack)-1]), nil
}

// PrettyPrint prints the DWARF stack program instructions to `out`.
func PrettyPrint(out io.Writer, instructions []byte, ptrSize int) {
	in := bytes.NewBuffer(instructions)

	for in.Len() > 0 {
		opcode, _ := in.ReadByte()
		io.WriteString(out, Opcode(opcode).String())
		out.Write([]byte{' '})
		switch op := Opcode(opcode); {
		case op == DW_OP_addr:
			fmt.Fprintf(out, "%#x ", readUint(in, ptrSize))
		case op >= DW_OP_const1u && op <= DW_OP_const8s:
			fmt.Fprintf(out, "%#x ", readUint(in, 1<<uint((op-DW_OP_const1u)/2)))
		case op == DW_OP_constu || op == DW_OP_plus_uconst || op == DW_OP_regx || op == DW_OP_piece:
			n, _ := leb128.DecodeUnsigned(in)
			fmt.Fprintf(out, "%#x ", n)
		case op == DW_OP_consts || op == DW_OP_fbreg || (op >= DW_OP_breg0 && op <= DW_OP_breg31):
			n, _ := leb128.DecodeSigned(in)
			fmt.Fprintf(out, "%#x ", n)
		}
	}
}

func readUint(buf *bytes.Buffer, n int) uint64 {
	b := buf.Next(n)
	var x [8]byte
	copy(x[:], b)
	return binary.LittleEndian.Uint64(x[:])
}

func addr(opcode Opcode, ctxt *context) error {
	if ctxt.buf.Len() < ctxt.ptrSize {
		return fmt.Errorf("%v: truncated operand", opcode)
	}
	a := readUint(ctxt.buf, ctxt.ptrSize)
	ctxt.stack = append(ctxt.stack, int64(a+ctxt.staticBase))
	return nil
}

func constn(n int, signed bool) stackfn {
	return func(opcode Opcode, ctxt *context) error {
		if ctxt.buf.Len() < n {
			return fmt.Errorf("%v: truncated operand", opcode)
		}
		x := readUint(ctxt.buf, n)
		if signed && n < 8 {
			shift := uint(64 - 8*n)
			ctxt.stack = append(ctxt.stack, int64(x<<shift)>>shift)
			return nil
		}
		ctxt.stack = append(ctxt.stack, int64(x))
		return nil
	}
}

func lit(opcode Opcode, ctxt *context) error {
	ctxt.stack = append(ctxt.stack, int64(opcode-DW_OP_lit0))
	return nil
}

func constu(opcode Opcode, ctxt *context) error {
	num, _ := leb128.DecodeUnsigned(ctxt.buf)
	ctxt.stack = append(ctxt.stack, int64(num))
	return nil
}

func consts(opcode Opcode, ctxt *context) error {
	num, _ := leb128.DecodeSigned(ctxt.buf)
	ctxt.stack = append(ctxt.stack, num)
	return nil
}

func plus(opcode Opcode, ctxt *context) error {
	slen := len(ctxt.stack)
	if slen < 2 {
		return fmt.Errorf("%v: stack underflow", opcode)
	}
	ctxt.stack = append(ctxt.stack[:slen-2], ctxt.stack[slen-2]+ctxt.stack[slen-1])
	return nil
}

func minus(opcode Opcode, ctxt *context) error {
	slen := len(ctxt.stack)
	if slen < 2 {
		return fmt.Errorf("%v: stack underflow", opcode)
	}
	ctxt.stack = append(ctxt.stack[:slen-2], ctxt.stack[slen-2]-ctxt.stack[slen-1])
	return nil
}

func plusuconsts(opcode Opcode, ctxt *context) error {
	slen := len(ctxt.stack)
	if slen < 1 {
		return fmt.Errorf("%v: stack underflow", opcode)
	}
	num, _ := leb128.DecodeUnsigned(ctxt.buf)
	ctxt.stack[slen-1] = ctxt.stack[slen-1] + int64(num)
	return nil
}

func tls(opcode Opcode, ctxt *context) error {
	return ErrThreadLocal
}

func notStatic(opcode Opcode, ctxt *context) error {
	return fmt.Errorf("%v: %w", opcode, ErrNotStatic)
}
