package dwarfbuilder

import (
	"bytes"
	"encoding/binary"

	"github.com/dsprint/dsprint/pkg/dwarf/leb128"
)

// Opcode is a DWARF expression opcode.
type Opcode byte

const (
	DW_OP_addr        Opcode = 0x03
	DW_OP_consts      Opcode = 0x11
	DW_OP_plus        Opcode = 0x22
	DW_OP_plus_uconst Opcode = 0x23
)

// LocationBlock returns a DWARF expression corresponding to the list of
// arguments. Signed integers are written as SLEB128, unsigned integers as
// ULEB128 and Address values as 8 byte little endian words.
func LocationBlock(args ...interface{}) []byte {
	var buf bytes.Buffer
	for _, arg := range args {
		switch x := arg.(type) {
		case Opcode:
			buf.WriteByte(byte(x))
		case int:
			leb128.EncodeSigned(&buf, int64(x))
		case uint:
			leb128.EncodeUnsigned(&buf, uint64(x))
		case Address:
			binary.Write(&buf, binary.LittleEndian, uint64(x))
		default:
			panic("unsupported value type")
		}
	}
	return buf.Bytes()
}
