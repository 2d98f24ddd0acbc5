package proc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"go/constant"
	"math"
	"reflect"
	"strconv"

	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
)

const defaultPtrSize = 8

var (
	// ErrNilPointer is the Unreadable error of the variable obtained by
	// dereferencing a null pointer.
	ErrNilPointer = errors.New("nil pointer dereference")

	errNoAddress = errors.New("value has no address")
)

// Variable represents a value of the target. It contains the address,
// name and type of the value, memory is read when the value is used.
//
// A Variable with Addr == 0 is not backed by target memory, this happens for
// pointers computed from other values (see AsPointer and Advance).
type Variable struct {
	Addr      uint64
	Name      string
	DwarfType godwarf.Type
	RealType  godwarf.Type
	Kind      reflect.Kind
	mem       MemoryReader
	bi        TypeCatalog

	// BitOffset and BitSize locate a bit-field inside the memory at Addr,
	// BitSize is zero for ordinary values.
	BitOffset int64
	BitSize   int64

	// Value is the value of scalar variables, set by Load.
	Value constant.Value
	// Base is the address pointed to by pointers and references.
	Base uint64
	// Len is the number of elements of arrays.
	Len int64

	loaded bool

	// Unreadable is set when the value could not be read, the error
	// describes why.
	Unreadable error
}

// FieldError is returned when a member of a value is missing or can not
// be read.
type FieldError struct {
	Type  string
	Field string
	Err   error
}

func (err *FieldError) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("%s has no member named %s", err.Type, err.Field)
	}
	return fmt.Sprintf("could not read %s of %s: %v", err.Field, err.Type, err.Err)
}

func (err *FieldError) Unwrap() error { return err.Err }

// TypeParamError is returned when a template argument of a value's type
// can not be determined or resolved to a type.
type TypeParamError struct {
	Type  string
	Index int
	Name  string
	Err   error
}

func (err *TypeParamError) Error() string {
	switch {
	case err.Name != "" && err.Err != nil:
		return fmt.Sprintf("could not resolve %s (template argument %d of %s): %v", err.Name, err.Index, err.Type, err.Err)
	case err.Err != nil:
		return fmt.Sprintf("template argument %d of %s: %v", err.Index, err.Type, err.Err)
	}
	return fmt.Sprintf("%s has no template argument %d", err.Type, err.Index)
}

func (err *TypeParamError) Unwrap() error { return err.Err }

// NewVariable returns a variable called name of type typ stored at addr.
func NewVariable(name string, addr uint64, typ godwarf.Type, bi TypeCatalog, mem MemoryReader) *Variable {
	return newVariable(name, addr, typ, bi, mem)
}

func newVariable(name string, addr uint64, dwarfType godwarf.Type, bi TypeCatalog, mem MemoryReader) *Variable {
	v := &Variable{
		Name:      name,
		Addr:      addr,
		DwarfType: dwarfType,
		mem:       mem,
		bi:        bi,
	}

	v.RealType = godwarf.ResolveTypedef(v.DwarfType)

	switch t := v.RealType.(type) {
	case *godwarf.PtrType:
		v.Kind = reflect.Ptr
		if _, isvoid := t.Type.(*godwarf.VoidType); isvoid {
			v.Kind = reflect.UnsafePointer
		}
		if v.Addr != 0 {
			v.Base, v.Unreadable = readUintRaw(v.mem, v.Addr, int64(v.ptrSize()))
		}
	case *godwarf.StructType:
		v.Kind = reflect.Struct
	case *godwarf.ArrayType:
		v.Kind = reflect.Array
		v.Len = t.Count
	case *godwarf.BoolType:
		v.Kind = reflect.Bool
	case *godwarf.FloatType:
		switch t.ByteSize {
		case 4:
			v.Kind = reflect.Float32
		case 8:
			v.Kind = reflect.Float64
		default:
			v.Kind = reflect.Invalid
		}
	case *godwarf.IntType:
		v.Kind = intKind(t.ByteSize)
	case *godwarf.CharType:
		v.Kind = intKind(t.ByteSize)
	case *godwarf.EnumType:
		v.Kind = intKind(t.ByteSize)
	case *godwarf.UintType:
		v.Kind = uintKind(t.ByteSize)
	case *godwarf.UcharType:
		v.Kind = uintKind(t.ByteSize)
	case *godwarf.AddrType:
		v.Kind = reflect.Uintptr
	case *godwarf.UnspecifiedType:
		// std::nullptr_t
		v.Kind = reflect.UnsafePointer
	case *godwarf.FuncType:
		v.Kind = reflect.Func
	default:
		v.Kind = reflect.Invalid
	}

	return v
}

func intKind(size int64) reflect.Kind {
	switch size {
	case 1:
		return reflect.Int8
	case 2:
		return reflect.Int16
	case 4:
		return reflect.Int32
	case 8:
		return reflect.Int64
	}
	return reflect.Invalid
}

func uintKind(size int64) reflect.Kind {
	switch size {
	case 1:
		return reflect.Uint8
	case 2:
		return reflect.Uint16
	case 4:
		return reflect.Uint32
	case 8:
		return reflect.Uint64
	}
	return reflect.Invalid
}

func (v *Variable) ptrSize() int {
	if v.bi != nil {
		return v.bi.PtrSize()
	}
	return defaultPtrSize
}

func (v *Variable) clone() *Variable {
	r := *v
	return &r
}

// Catalog returns the catalog used to resolve types for v.
func (v *Variable) Catalog() TypeCatalog {
	return v.bi
}

// LookupType resolves name with the catalog v was read with.
func (v *Variable) LookupType(name string) (godwarf.Type, error) {
	if v.bi == nil {
		return nil, &NoTypeError{Name: name}
	}
	return v.bi.LookupType(name)
}

// TypeName returns the name used to match v against formatters: the tag of
// the basic type (typedefs, cv-qualifiers and references removed) if it is a
// struct, class, union or enum, the declared type name otherwise and, for
// unnamed types, the printed form of the type.
func (v *Variable) TypeName() string {
	if v.DwarfType == nil {
		return ""
	}
	if tag := godwarf.Tag(godwarf.BasicTypeOf(v.DwarfType)); tag != "" {
		return tag
	}
	if name := v.DwarfType.Common().Name; name != "" {
		return name
	}
	return v.DwarfType.String()
}

// TypeString returns the printed form of the declared type of v.
func (v *Variable) TypeString() string {
	if v.DwarfType == nil {
		return ""
	}
	return v.DwarfType.String()
}

// IsNil returns true if v is a null pointer.
func (v *Variable) IsNil() bool {
	return (v.Kind == reflect.Ptr || v.Kind == reflect.UnsafePointer) && v.Base == 0
}

// IsSelfLoop returns true if v is a pointer stored at the address it
// points to.
func (v *Variable) IsSelfLoop() bool {
	return (v.Kind == reflect.Ptr || v.Kind == reflect.UnsafePointer) && v.Addr != 0 && v.Base == v.Addr
}

// Field returns the member called name of v. Members of base classes and
// of anonymous unions are searched after the members declared by the class
// itself, depth first in declaration order. Pointers and references to classes are dereferenced.
func (v *Variable) Field(name string) (*Variable, error) {
	if v.Unreadable != nil {
		return nil, &FieldError{Type: v.TypeName(), Field: name, Err: v.Unreadable}
	}
	s := v.maybeDereference()
	if s.Unreadable != nil {
		return nil, &FieldError{Type: v.TypeName(), Field: name, Err: s.Unreadable}
	}
	st, ok := s.RealType.(*godwarf.StructType)
	if !ok {
		return nil, &FieldError{Type: v.TypeName(), Field: name, Err: fmt.Errorf("%s is not a class", v.TypeString())}
	}
	if st.Incomplete {
		return nil, &FieldError{Type: v.TypeName(), Field: name, Err: fmt.Errorf("%s is incomplete", st.StructName)}
	}
	if f := s.findField(st, name, s.Addr); f != nil {
		return f, nil
	}
	return nil, &FieldError{Type: s.TypeName(), Field: name}
}

func (v *Variable) findField(st *godwarf.StructType, name string, base uint64) *Variable {
	for _, f := range st.Field {
		if !f.Inherited && f.Name == name {
			return v.toField(f, base)
		}
	}
	for _, f := range st.Field {
		// base classes and anonymous unions
		if !f.Inherited && f.Name != "" {
			continue
		}
		if bst, ok := godwarf.ResolveTypedef(f.Type).(*godwarf.StructType); ok {
			if r := v.findField(bst, name, base+uint64(f.ByteOffset)); r != nil {
				return r
			}
		}
	}
	return nil
}

func (v *Variable) toField(field *godwarf.StructField, base uint64) *Variable {
	name := field.Name
	if v.Name != "" {
		name = fmt.Sprintf("%s.%s", v.Name, field.Name)
	}
	f := newVariable(name, base+uint64(field.ByteOffset), field.Type, v.bi, v.mem)
	if field.IsBitField() {
		f.BitOffset = field.BitOffset
		f.BitSize = field.BitSize
	}
	if base == 0 && f.Unreadable == nil {
		f.Unreadable = errNoAddress
	}
	return f
}

// Fields returns the members of v in declaration order, base class
// subobjects included. Memory for the whole object is read at once.
func (v *Variable) Fields() ([]*Variable, error) {
	if v.Unreadable != nil {
		return nil, v.Unreadable
	}
	st, ok := v.RealType.(*godwarf.StructType)
	if !ok {
		return nil, fmt.Errorf("%s is not a class", v.TypeString())
	}
	if st.Incomplete {
		return nil, fmt.Errorf("%s is incomplete", st.StructName)
	}
	s := v.clone()
	s.mem = cacheMemory(v.mem, v.Addr, int(st.Size()))
	r := make([]*Variable, 0, len(st.Field))
	for _, f := range st.Field {
		fv := s.toField(f, s.Addr)
		fv.Name = f.Name
		r = append(r, fv)
	}
	return r, nil
}

// Index returns the i-th element of array v.
func (v *Variable) Index(i int64) (*Variable, error) {
	if v.Unreadable != nil {
		return nil, v.Unreadable
	}
	at, ok := v.RealType.(*godwarf.ArrayType)
	if !ok {
		return nil, fmt.Errorf("%s is not an array", v.TypeString())
	}
	if i < 0 || (v.Len >= 0 && i >= v.Len) {
		return nil, fmt.Errorf("index %d out of bounds [0, %d)", i, v.Len)
	}
	return newVariable(v.Name+"["+strconv.FormatInt(i, 10)+"]", v.Addr+uint64(i*at.Stride()), at.Type, v.bi, v.mem), nil
}

// Reinterpret returns the memory of v viewed as a value of type typ.
func (v *Variable) Reinterpret(typ godwarf.Type) *Variable {
	r := newVariable(v.Name, v.Addr, typ, v.bi, v.mem)
	switch {
	case v.Unreadable != nil:
		r.Unreadable = v.Unreadable
	case v.Addr == 0:
		r.Unreadable = errNoAddress
	}
	return r
}

// AddressOf returns a pointer to v.
func (v *Variable) AddressOf() (*Variable, error) {
	if v.Addr == 0 {
		return nil, errNoAddress
	}
	pt := godwarf.FakePointerType(v.DwarfType, int64(v.ptrSize()))
	r := newVariable("&"+v.Name, 0, pt, v.bi, v.mem)
	r.Base = v.Addr
	return r, nil
}

// AsPointer converts v, a pointer or an integer holding an address, into
// a pointer to elem.
func (v *Variable) AsPointer(elem godwarf.Type) (*Variable, error) {
	if v.Unreadable != nil {
		return nil, v.Unreadable
	}
	var target uint64
	switch v.Kind {
	case reflect.Ptr, reflect.UnsafePointer:
		target = v.Base
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		x, err := v.readUint()
		if err != nil {
			return nil, err
		}
		target = x
	default:
		return nil, fmt.Errorf("can not convert %s to a pointer", v.TypeString())
	}
	pt := godwarf.FakePointerType(elem, int64(v.ptrSize()))
	r := newVariable(fmt.Sprintf("(%s)(%s)", pt.String(), v.Name), 0, pt, v.bi, v.mem)
	r.Base = target
	return r, nil
}

// maybeDereference follows references and pointers to classes.
func (v *Variable) maybeDereference() *Variable {
	if v.Kind != reflect.Ptr {
		return v
	}
	return v.Deref()
}

// Deref returns the value pointed to by v. Dereferencing a null pointer
// returns a variable with Unreadable set to ErrNilPointer.
func (v *Variable) Deref() *Variable {
	pt, ok := v.RealType.(*godwarf.PtrType)
	if !ok {
		return &Variable{Name: "*" + v.Name, Unreadable: fmt.Errorf("%s is not a pointer", v.TypeString())}
	}
	r := newVariable("*"+v.Name, v.Base, pt.Type, v.bi, v.mem)
	switch {
	case v.Unreadable != nil:
		r.Unreadable = v.Unreadable
	case v.Base == 0:
		r.Unreadable = ErrNilPointer
	}
	return r
}

// Advance returns pointer v moved forward by n elements.
func (v *Variable) Advance(n int64) *Variable {
	pt, ok := v.RealType.(*godwarf.PtrType)
	if !ok {
		return &Variable{Name: v.Name, Unreadable: fmt.Errorf("%s is not a pointer", v.TypeString())}
	}
	sz := godwarf.ResolveTypedef(pt.Type).Size()
	if sz <= 0 {
		// void* arithmetic
		sz = 1
	}
	r := newVariable(fmt.Sprintf("%s+%d", v.Name, n), 0, v.DwarfType, v.bi, v.mem)
	r.Base = v.Base + uint64(n*sz)
	r.Unreadable = v.Unreadable
	return r
}

// TemplateArg returns the i-th template argument of v's class as it is
// spelled in C++. The DWARF template parameters are used when present,
// otherwise the argument is parsed from the type name.
func (v *Variable) TemplateArg(i int) (string, error) {
	if st, ok := godwarf.BasicTypeOf(v.DwarfType).(*godwarf.StructType); ok {
		if i < len(st.TemplateParams) && st.TemplateParams[i].Type != nil {
			return st.TemplateParams[i].Type.String(), nil
		}
	}
	args := godwarf.TemplateArgs(v.TypeName())
	if i < 0 || i >= len(args) {
		return "", &TypeParamError{Type: v.TypeName(), Index: i}
	}
	return args[i], nil
}

// TemplateArgType returns the type of the i-th template argument of v's
// class.
func (v *Variable) TemplateArgType(i int) (godwarf.Type, error) {
	if st, ok := godwarf.BasicTypeOf(v.DwarfType).(*godwarf.StructType); ok {
		if i < len(st.TemplateParams) && st.TemplateParams[i].Type != nil {
			return st.TemplateParams[i].Type, nil
		}
	}
	name, err := v.TemplateArg(i)
	if err != nil {
		return nil, err
	}
	typ, err := v.LookupType(name)
	if err != nil {
		return nil, &TypeParamError{Type: v.TypeName(), Index: i, Name: name, Err: err}
	}
	return typ, nil
}

// Load reads the value of a scalar variable into v.Value. Loading
// aggregates is a no-op. The error is also stored in v.Unreadable.
func (v *Variable) Load() error {
	if v.loaded || v.Unreadable != nil {
		return v.Unreadable
	}
	v.loaded = true
	switch v.Kind {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		n, v.Unreadable = v.readInt()
		if v.Unreadable == nil {
			v.Value = constant.MakeInt64(n)
		}
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		var n uint64
		n, v.Unreadable = v.readUint()
		if v.Unreadable == nil {
			v.Value = constant.MakeUint64(n)
		}
	case reflect.Bool:
		var n uint64
		n, v.Unreadable = v.readUint()
		if v.Unreadable == nil {
			v.Value = constant.MakeBool(n != 0)
		}
	case reflect.Float32, reflect.Float64:
		var f float64
		f, v.Unreadable = v.readFloatRaw(v.RealType.Size())
		if v.Unreadable == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			v.Value = constant.MakeFloat64(f)
		}
	case reflect.Ptr, reflect.UnsafePointer:
		v.Value = constant.MakeUint64(v.Base)
	}
	return v.Unreadable
}

// AsInt returns the value of an integer, enum, character or boolean
// variable as an int64.
func (v *Variable) AsInt() (int64, error) {
	if err := v.Load(); err != nil {
		return 0, err
	}
	if v.Value == nil {
		return 0, fmt.Errorf("%s is not an integer", v.TypeString())
	}
	switch v.Value.Kind() {
	case constant.Int:
		n, exact := constant.Int64Val(v.Value)
		if !exact {
			return 0, fmt.Errorf("%s overflows int64", v.Value.ExactString())
		}
		return n, nil
	case constant.Bool:
		if constant.BoolVal(v.Value) {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%s is not an integer", v.TypeString())
}

// AsUint returns the value of an integer or pointer variable as an
// uint64.
func (v *Variable) AsUint() (uint64, error) {
	if err := v.Load(); err != nil {
		return 0, err
	}
	if v.Value == nil || v.Value.Kind() != constant.Int {
		return 0, fmt.Errorf("%s is not an integer", v.TypeString())
	}
	if n, exact := constant.Uint64Val(v.Value); exact {
		return n, nil
	}
	n, _ := constant.Int64Val(v.Value)
	return uint64(n), nil
}

// ReadString reads a NUL terminated string of at most max bytes from a
// char pointer or char array.
func (v *Variable) ReadString(max int) (string, error) {
	if v.Unreadable != nil {
		return "", v.Unreadable
	}
	var (
		addr uint64
		elem godwarf.Type
	)
	switch t := v.RealType.(type) {
	case *godwarf.PtrType:
		addr, elem = v.Base, t.Type
	case *godwarf.ArrayType:
		addr, elem = v.Addr, t.Type
		if t.Count >= 0 && int64(max) > t.Count {
			max = int(t.Count)
		}
	default:
		return "", fmt.Errorf("%s is not a string", v.TypeString())
	}
	switch godwarf.ResolveTypedef(elem).(type) {
	case *godwarf.CharType, *godwarf.UcharType:
	default:
		return "", fmt.Errorf("%s is not a string", v.TypeString())
	}
	if addr == 0 {
		return "", ErrNilPointer
	}
	buf := make([]byte, max)
	n, err := v.mem.ReadMemory(buf, addr)
	if n == 0 && err != nil {
		return "", err
	}
	buf = buf[:n]
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}

func (v *Variable) readUint() (uint64, error) {
	if v.Unreadable != nil {
		return 0, v.Unreadable
	}
	if v.BitSize != 0 {
		return readBitField(v.mem, v.Addr, v.BitOffset, v.BitSize)
	}
	return readUintRaw(v.mem, v.Addr, v.RealType.Size())
}

func (v *Variable) readInt() (int64, error) {
	if v.Unreadable != nil {
		return 0, v.Unreadable
	}
	if v.BitSize != 0 {
		n, err := readBitField(v.mem, v.Addr, v.BitOffset, v.BitSize)
		if err != nil {
			return 0, err
		}
		if v.BitSize < 64 && n&(1<<uint(v.BitSize-1)) != 0 {
			n |= ^uint64(0) << uint(v.BitSize)
		}
		return int64(n), nil
	}
	return readIntRaw(v.mem, v.Addr, v.RealType.Size())
}

func readIntRaw(mem MemoryReader, addr uint64, size int64) (int64, error) {
	var n int64

	if addr == 0 {
		return 0, errNoAddress
	}
	val := make([]byte, int(size))
	if err := readFull(mem, val, addr); err != nil {
		return 0, err
	}

	switch size {
	case 1:
		n = int64(int8(val[0]))
	case 2:
		n = int64(int16(binary.LittleEndian.Uint16(val)))
	case 4:
		n = int64(int32(binary.LittleEndian.Uint32(val)))
	case 8:
		n = int64(binary.LittleEndian.Uint64(val))
	default:
		return 0, fmt.Errorf("unsupported integer size %d", size)
	}

	return n, nil
}

func readUintRaw(mem MemoryReader, addr uint64, size int64) (uint64, error) {
	var n uint64

	if addr == 0 {
		return 0, errNoAddress
	}
	val := make([]byte, int(size))
	if err := readFull(mem, val, addr); err != nil {
		return 0, err
	}

	switch size {
	case 1:
		n = uint64(val[0])
	case 2:
		n = uint64(binary.LittleEndian.Uint16(val))
	case 4:
		n = uint64(binary.LittleEndian.Uint32(val))
	case 8:
		n = binary.LittleEndian.Uint64(val)
	default:
		return 0, fmt.Errorf("unsupported integer size %d", size)
	}

	return n, nil
}

// readBitField reads bitSize bits starting bitOffset bits after the least
// significant bit of the byte at addr.
func readBitField(mem MemoryReader, addr uint64, bitOffset, bitSize int64) (uint64, error) {
	if addr == 0 {
		return 0, errNoAddress
	}
	if bitSize > 64 || bitOffset > 7 {
		return 0, fmt.Errorf("unsupported bit-field %d:%d", bitOffset, bitSize)
	}
	var buf [16]byte
	n := (bitOffset + bitSize + 7) / 8
	if err := readFull(mem, buf[:n], addr); err != nil {
		return 0, err
	}
	lo := binary.LittleEndian.Uint64(buf[:8])
	hi := binary.LittleEndian.Uint64(buf[8:])
	val := lo >> uint(bitOffset)
	if bitOffset > 0 {
		val |= hi << uint(64-bitOffset)
	}
	if bitSize < 64 {
		val &= 1<<uint(bitSize) - 1
	}
	return val, nil
}

func (v *Variable) readFloatRaw(size int64) (float64, error) {
	if v.Addr == 0 {
		return 0, errNoAddress
	}
	val := make([]byte, int(size))
	if err := readFull(v.mem, val, v.Addr); err != nil {
		return 0.0, err
	}

	switch size {
	case 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(val))), nil
	case 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(val)), nil
	}

	return 0.0, fmt.Errorf("could not read float of size %d", size)
}
