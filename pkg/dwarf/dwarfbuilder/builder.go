// Package dwarfbuilder provides a way to build DWARF sections with
// arbitrary contents, describing C++ programs.
package dwarfbuilder

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"fmt"
)

// DW_LANG_C_plus_plus_11
const langCPlusPlus11 = 0x1a

// Builder dwarf builder
type Builder struct {
	info     bytes.Buffer
	abbrevs  []tagDescr
	tagStack []*tagState
}

// New creates a new DWARF builder.
func New() *Builder {
	b := &Builder{}

	b.info.Write([]byte{
		0x0, 0x0, 0x0, 0x0, // length
		0x4, 0x0, // version
		0x0, 0x0, 0x0, 0x0, // debug_abbrev_offset
		0x8, // address_size
	})

	b.TagOpen(dwarf.TagCompileUnit, "main.cpp")
	b.Attr(dwarf.AttrLanguage, uint8(langCPlusPlus11))

	return b
}

// Build closes b and returns all the dwarf sections.
func (b *Builder) Build() (abbrev, aranges, frame, info, line, pubnames, ranges, str []byte, err error) {
	b.TagClose()

	if len(b.tagStack) > 0 {
		err = fmt.Errorf("unbalanced TagOpen/TagClose %d", len(b.tagStack))
		return
	}

	abbrev = b.makeAbbrevTable()
	info = b.info.Bytes()
	binary.LittleEndian.PutUint32(info, uint32(len(info)-4))

	return
}

// Data closes b and parses the resulting sections.
func (b *Builder) Data() (*dwarf.Data, error) {
	abbrev, aranges, frame, info, line, pubnames, ranges, str, err := b.Build()
	if err != nil {
		return nil, err
	}
	return dwarf.New(abbrev, aranges, frame, info, line, pubnames, ranges, str)
}
