// Package proc provides read only access to the memory of a C++ program,
// either a live process or a core file, and a typed view of that memory
// built from the program's DWARF debug information.
//
// proc implements:
//   - loading and indexing the C++ types and globals of an executable
//   - reading target memory, with caching and recording of the regions read
//   - typed values (Variable) supporting field access, base class members,
//     bit-fields, pointer arithmetic and reinterpretation
//   - a small expression language used by the terminal
package proc
