// Package leb128 provides encoders and decoders for the Little Endian Base 128
// format used by DWARF attribute values and location expressions
// (DWARF v4 section 7.6).
package leb128
