package proc

import (
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
	"github.com/dsprint/dsprint/pkg/dwarf/op"
	"github.com/dsprint/dsprint/pkg/logflags"
)

const (
	// number of name lookups cached by LookupType
	typeLookupCacheSize = 1024

	anonymousNamespace = "(anonymous namespace)"
)

// ErrNoDebugInfo is returned when an executable does not contain DWARF
// information and no separate debug file could be found.
var ErrNoDebugInfo = errors.New("could not find debug info")

// BinaryInfo holds the C++ types and global variables of an executable,
// read from its DWARF debug info.
type BinaryInfo struct {
	// Path is the path of the executable.
	Path string
	// Machine is the ELF machine of the executable.
	Machine elf.Machine
	// PIE is true for position independent executables.
	PIE bool

	ptrSize    int
	staticBase uint64
	closer     io.Closer

	dwarf *dwarf.Data

	// types maps the canonical qualified name of every named type to its
	// entry, complete definitions are preferred to declarations.
	types map[string]dwarf.Offset
	// qualnames holds the qualified name of entries nested in namespaces
	// or classes.
	qualnames map[dwarf.Offset]string
	globals   map[string]globalVar

	mu        sync.Mutex
	typeCache map[dwarf.Offset]godwarf.Type

	lookupCache *lru.Cache
	builtins    *TypeMap

	log logflags.Logger
}

type globalVar struct {
	addr uint64
	typ  dwarf.Offset
}

var _ TypeCatalog = (*BinaryInfo)(nil)

// LoadBinaryInfo opens the ELF executable at path and indexes its debug
// info. If the executable was stripped the separate debug file is
// searched in debugInfoDirs, by build ID first and then by name.
func LoadBinaryInfo(path string, debugInfoDirs []string) (*BinaryInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	exe, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	bi := &BinaryInfo{Path: path, Machine: exe.Machine, PIE: exe.Type == elf.ET_DYN, closer: f}
	if exe.Class == elf.ELFCLASS32 {
		bi.ptrSize = 4
	} else {
		bi.ptrSize = 8
	}

	d, err := godwarf.LoadDwarfElf(exe)
	if err != nil {
		var dbgFile *os.File
		d, dbgFile, err = openSeparateDebugInfo(path, exe, debugInfoDirs)
		if err != nil {
			f.Close()
			return nil, err
		}
		bi.closer = multiCloser{f, dbgFile}
	}
	if err := bi.loadDwarf(d); err != nil {
		bi.Close()
		return nil, err
	}
	return bi, nil
}

// NewBinaryInfo returns a BinaryInfo for already parsed DWARF data.
func NewBinaryInfo(d *dwarf.Data, ptrSize int) (*BinaryInfo, error) {
	bi := &BinaryInfo{ptrSize: ptrSize, Machine: elf.EM_X86_64}
	if err := bi.loadDwarf(d); err != nil {
		return nil, err
	}
	return bi, nil
}

type multiCloser []io.Closer

func (mc multiCloser) Close() error {
	var err error
	for _, c := range mc {
		if err1 := c.Close(); err1 != nil && err == nil {
			err = err1
		}
	}
	return err
}

// openSeparateDebugInfo looks for the debug info of exe in
// <dir>/.build-id/xx/yyyy.debug and in <dir>/<name>.debug.
func openSeparateDebugInfo(path string, exe *elf.File, debugInfoDirs []string) (*dwarf.Data, *os.File, error) {
	var candidates []string
	if buildID := buildIDOf(exe); len(buildID) > 1 {
		id := hex.EncodeToString(buildID)
		for _, dir := range debugInfoDirs {
			candidates = append(candidates, filepath.Join(dir, ".build-id", id[:2], id[2:]+".debug"))
		}
	}
	for _, dir := range debugInfoDirs {
		candidates = append(candidates, filepath.Join(dir, filepath.Base(path)+".debug"))
	}
	for _, candidate := range candidates {
		f, err := os.Open(candidate)
		if err != nil {
			continue
		}
		dbg, err := elf.NewFile(f)
		if err != nil {
			f.Close()
			continue
		}
		d, err := godwarf.LoadDwarfElf(dbg)
		if err != nil {
			f.Close()
			continue
		}
		logflags.DWARFLogger().Debugf("using separate debug info %s", candidate)
		return d, f, nil
	}
	return nil, nil, ErrNoDebugInfo
}

func buildIDOf(exe *elf.File) []byte {
	sec := exe.Section(".note.gnu.build-id")
	if sec == nil {
		return nil
	}
	data, err := sec.Data()
	if err != nil || len(data) < 16 {
		return nil
	}
	namesz := binary.LittleEndian.Uint32(data[0:4])
	descsz := binary.LittleEndian.Uint32(data[4:8])
	start := 12 + (namesz+3)&^3
	if uint64(start)+uint64(descsz) > uint64(len(data)) {
		return nil
	}
	return data[start : start+descsz]
}

// scope is an entry of the stack of enclosing DIEs kept while indexing.
type scope struct {
	name string
	// named is false for scopes that do not contribute to qualified
	// names but still contain globals and types, the compile unit.
	named bool
	// local is true inside functions, types declared there are not indexed.
	local bool
}

func (bi *BinaryInfo) loadDwarf(d *dwarf.Data) error {
	bi.dwarf = d
	bi.log = logflags.DWARFLogger()
	bi.types = make(map[string]dwarf.Offset)
	bi.qualnames = make(map[dwarf.Offset]string)
	bi.globals = make(map[string]globalVar)
	bi.typeCache = make(map[dwarf.Offset]godwarf.Type)
	bi.builtins = NewTypeMap(bi.ptrSize)
	var err error
	bi.lookupCache, err = lru.New(typeLookupCacheSize)
	if err != nil {
		return err
	}

	declNames := make(map[dwarf.Offset]string)
	declTypes := make(map[dwarf.Offset]dwarf.Offset)
	var specVars []*dwarf.Entry

	var stack []scope
	qualify := func(name string) string {
		var parts []string
		for _, s := range stack {
			if s.named {
				parts = append(parts, s.name)
			}
		}
		return strings.Join(append(parts, name), "::")
	}
	inLocalScope := func() bool {
		return len(stack) > 0 && stack[len(stack)-1].local
	}

	rdr := d.Reader()
	for {
		e, err := rdr.Next()
		if err != nil {
			return fmt.Errorf("could not read debug info: %v", err)
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		name, _ := e.Val(dwarf.AttrName).(string)
		child := scope{local: inLocalScope()}

		switch e.Tag {
		case dwarf.TagCompileUnit:
			stack = stack[:0]
			child = scope{}
		case dwarf.TagNamespace:
			if name == "" {
				name = anonymousNamespace
			}
			child.name, child.named = name, true
		case dwarf.TagClassType, dwarf.TagStructType, dwarf.TagUnionType, dwarf.TagEnumerationType, dwarf.TagTypedef, dwarf.TagBaseType:
			if name != "" && !child.local {
				qn := qualify(name)
				if qn != name {
					bi.qualnames[e.Offset] = qn
				}
				bi.addType(qn, e)
			}
			child.name, child.named = name, name != ""
		case dwarf.TagSubprogram, dwarf.TagLexDwarfBlock, dwarf.TagInlinedSubroutine:
			child.local = true
		case dwarf.TagMember:
			// static data members are declared in the class and defined
			// outside of it
			if name != "" && e.Val(dwarf.AttrDeclaration) != nil {
				declNames[e.Offset] = qualify(name)
				declTypes[e.Offset], _ = e.Val(dwarf.AttrType).(dwarf.Offset)
			}
		case dwarf.TagVariable:
			if child.local {
				break
			}
			if e.Val(dwarf.AttrDeclaration) != nil {
				declNames[e.Offset] = qualify(name)
				declTypes[e.Offset], _ = e.Val(dwarf.AttrType).(dwarf.Offset)
				break
			}
			if _, ok := e.Val(dwarf.AttrSpecification).(dwarf.Offset); ok {
				specVars = append(specVars, e)
				break
			}
			if name != "" {
				bi.addGlobal(qualify(name), e, 0)
			}
		}

		if e.Children {
			stack = append(stack, child)
		}
	}

	for _, e := range specVars {
		spec := e.Val(dwarf.AttrSpecification).(dwarf.Offset)
		name, ok := declNames[spec]
		if !ok {
			continue
		}
		bi.addGlobal(name, e, declTypes[spec])
	}

	bi.log.Debugf("indexed %d types and %d globals", len(bi.types), len(bi.globals))
	return nil
}

func (bi *BinaryInfo) addType(qualname string, e *dwarf.Entry) {
	name := CanonicalTypeName(qualname)
	if old, exists := bi.types[name]; exists {
		if e.Val(dwarf.AttrDeclaration) != nil {
			return
		}
		// keep the first definition
		if !bi.isDeclaration(old) {
			return
		}
	}
	bi.types[name] = e.Offset
}

func (bi *BinaryInfo) isDeclaration(off dwarf.Offset) bool {
	rdr := bi.dwarf.Reader()
	rdr.Seek(off)
	e, err := rdr.Next()
	if err != nil || e == nil {
		return true
	}
	return e.Val(dwarf.AttrDeclaration) != nil
}

func (bi *BinaryInfo) addGlobal(name string, e *dwarf.Entry, typ dwarf.Offset) {
	loc, ok := e.Val(dwarf.AttrLocation).([]byte)
	if !ok {
		// optimized away
		return
	}
	addr, err := op.ExecuteStackProgram(loc, bi.ptrSize, 0)
	if err != nil {
		if logflags.DWARF() {
			var buf strings.Builder
			op.PrettyPrint(&buf, loc, bi.ptrSize)
			bi.log.Debugf("skipping global %s at [%s]: %v", name, strings.TrimSpace(buf.String()), err)
		}
		return
	}
	if t, ok := e.Val(dwarf.AttrType).(dwarf.Offset); ok {
		typ = t
	}
	if typ == 0 {
		return
	}
	bi.globals[name] = globalVar{addr: addr, typ: typ}
}

// PtrSize implements TypeCatalog.
func (bi *BinaryInfo) PtrSize() int {
	return bi.ptrSize
}

// SetStaticBase sets the load bias of a position independent executable.
func (bi *BinaryInfo) SetStaticBase(base uint64) {
	bi.staticBase = base
}

// StaticBase returns the load bias of the executable.
func (bi *BinaryInfo) StaticBase() uint64 {
	return bi.staticBase
}

// LookupType implements TypeCatalog. Types are searched in the debug info
// first and in the fundamental types second.
func (bi *BinaryInfo) LookupType(name string) (godwarf.Type, error) {
	key := CanonicalTypeName(name)
	if t, ok := bi.lookupCache.Get(key); ok {
		return t.(godwarf.Type), nil
	}
	var readErr error
	typ, err := lookupDerived(key, bi.ptrSize, func(name string) (godwarf.Type, bool) {
		if off, ok := bi.types[name]; ok {
			t, err := bi.readType(off)
			if err != nil {
				readErr = err
				return nil, false
			}
			return t, true
		}
		return bi.builtins.lookup(name)
	})
	if readErr != nil {
		return nil, readErr
	}
	if err != nil {
		bi.log.Debugf("type lookup failed: %v", err)
		return nil, err
	}
	bi.lookupCache.Add(key, typ)
	return typ, nil
}

func (bi *BinaryInfo) readType(off dwarf.Offset) (godwarf.Type, error) {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	return godwarf.ReadType(bi.dwarf, off, bi.typeCache, bi.qualnames)
}

// TypeNames returns the sorted names of all types defined in the debug
// info.
func (bi *BinaryInfo) TypeNames() []string {
	r := make([]string, 0, len(bi.types))
	for name := range bi.types {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}

// GlobalNames returns the sorted names of all global variables.
func (bi *BinaryInfo) GlobalNames() []string {
	r := make([]string, 0, len(bi.globals))
	for name := range bi.globals {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}

// Global returns the address and type of the global variable name, the
// address includes the static base.
func (bi *BinaryInfo) Global(name string) (uint64, godwarf.Type, error) {
	g, ok := bi.globals[name]
	if !ok {
		return 0, nil, fmt.Errorf("could not find symbol value for %s", name)
	}
	typ, err := bi.readType(g.typ)
	if err != nil {
		return 0, nil, err
	}
	return g.addr + bi.staticBase, typ, nil
}

// Close closes the executable.
func (bi *BinaryInfo) Close() error {
	if bi.closer == nil {
		return nil
	}
	return bi.closer.Close()
}
