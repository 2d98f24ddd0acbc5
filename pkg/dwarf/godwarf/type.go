// Copyright 2009 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// DWARF type information structures.
// The format is biased toward C and C++: names are printed the way a C++
// compiler spells them and class types carry their base classes and
// template parameters.

package godwarf

import (
	"bytes"
	"debug/dwarf"
	"fmt"
	"strconv"
	"strings"

	"github.com/dsprint/dsprint/pkg/dwarf/leb128"
)

// Basic type encodings -- the value for AttrEncoding in a TagBaseType Entry.
const (
	encAddress        = 0x01
	encBoolean        = 0x02
	encComplexFloat   = 0x03
	encFloat          = 0x04
	encSigned         = 0x05
	encSignedChar     = 0x06
	encUnsigned       = 0x07
	encUnsignedChar   = 0x08
	encImaginaryFloat = 0x09
	encUTF            = 0x10
)

// Location opcodes accepted in DW_AT_data_member_location.
const (
	opConsts     = 0x11
	opPlus       = 0x22
	opPlusUconst = 0x23
)

const cyclicalTypeStop = "<cyclical>" // guard value printed for types with a cyclical definition, to avoid inifinite recursion in Type.String

type recCheck map[dwarf.Offset]struct{}

func (recCheck recCheck) acquire(off dwarf.Offset) (release func()) {
	if off == 0 {
		// synthesized type
		return func() {}
	}
	if _, rec := recCheck[off]; rec {
		return nil
	}
	recCheck[off] = struct{}{}
	return func() {
		delete(recCheck, off)
	}
}

// A Type conventionally represents a pointer to any of the
// specific Type structures (CharType, StructType, etc.).
type Type interface {
	Common() *CommonType
	String() string
	Size() int64

	stringIntl(recCheck) string
}

// A CommonType holds fields common to multiple types.
// If a field is not known or not applicable for a given type,
// the zero value is used.
type CommonType struct {
	ByteSize int64        // size of value of this type, in bytes
	Name     string       // name that can be used to refer to type
	Offset   dwarf.Offset // the offset at which this type was read
}

func (c *CommonType) Common() *CommonType { return c }

func (c *CommonType) Size() int64 { return c.ByteSize }

// Basic types

// A BasicType holds fields common to all basic types.
type BasicType struct {
	CommonType
	BitSize   int64
	BitOffset int64
}

func (b *BasicType) Basic() *BasicType { return b }

func (t *BasicType) String() string { return t.stringIntl(nil) }

func (t *BasicType) stringIntl(recCheck) string {
	if t.Name != "" {
		return t.Name
	}
	return "?"
}

// A CharType represents a signed character type.
type CharType struct {
	BasicType
}

// A UcharType represents an unsigned character type.
type UcharType struct {
	BasicType
}

// An IntType represents a signed integer type.
type IntType struct {
	BasicType
}

// A UintType represents an unsigned integer type.
type UintType struct {
	BasicType
}

// A FloatType represents a floating point type.
type FloatType struct {
	BasicType
}

// A ComplexType represents a complex floating point type.
type ComplexType struct {
	BasicType
}

// A BoolType represents a boolean type.
type BoolType struct {
	BasicType
}

// An AddrType represents a machine address type.
type AddrType struct {
	BasicType
}

// An UnspecifiedType represents an implicit, unknown, ambiguous or nonexistent type,
// std::nullptr_t in C++.
type UnspecifiedType struct {
	BasicType
}

// qualifiers

// A QualType represents a type that has the C/C++ "const", "restrict", or "volatile" qualifier.
type QualType struct {
	CommonType
	Qual string
	Type Type
}

func (t *QualType) String() string { return t.stringIntl(make(recCheck)) }

func (t *QualType) stringIntl(recCheck recCheck) string {
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return cyclicalTypeStop
	}
	defer release()
	return t.Qual + " " + t.Type.stringIntl(recCheck)
}

func (t *QualType) Size() int64 { return t.Type.Size() }

// An ArrayType represents a fixed size array type.
type ArrayType struct {
	CommonType
	Type          Type
	StrideBitSize int64 // if > 0, number of bits to hold each element
	Count         int64 // if == -1, an incomplete array, like char x[].
}

func (t *ArrayType) String() string { return t.stringIntl(make(recCheck)) }

func (t *ArrayType) stringIntl(recCheck recCheck) string {
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return cyclicalTypeStop
	}
	defer release()
	if t.Count < 0 {
		return t.Type.stringIntl(recCheck) + "[]"
	}
	return t.Type.stringIntl(recCheck) + "[" + strconv.FormatInt(t.Count, 10) + "]"
}

func (t *ArrayType) Size() int64 {
	if t.Count <= 0 {
		return 0
	}
	if t.CommonType.ByteSize > 0 {
		return t.CommonType.ByteSize
	}
	return t.Count * t.Stride()
}

// Stride returns the distance in bytes between two consecutive elements.
func (t *ArrayType) Stride() int64 {
	if t.StrideBitSize > 0 {
		return t.StrideBitSize / 8
	}
	return t.Type.Size()
}

// A VoidType represents the C void type.
type VoidType struct {
	CommonType
}

func (t *VoidType) String() string { return t.stringIntl(nil) }

func (t *VoidType) stringIntl(recCheck) string { return "void" }

// A PtrType represents a pointer type.
// C++ lvalue and rvalue references are pointers with Reference set.
type PtrType struct {
	CommonType
	Type      Type
	Reference bool
	Rvalue    bool
}

func (t *PtrType) String() string { return t.stringIntl(make(recCheck)) }

func (t *PtrType) stringIntl(recCheck recCheck) string {
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return cyclicalTypeStop
	}
	defer release()
	suffix := "*"
	switch {
	case t.Rvalue:
		suffix = "&&"
	case t.Reference:
		suffix = "&"
	}
	return t.Type.stringIntl(recCheck) + suffix
}

// A StructType represents a struct, class, or union type.
type StructType struct {
	CommonType
	StructName     string
	Kind           string // "struct", "class" or "union"
	Field          []*StructField
	TemplateParams []*TemplateParam
	Incomplete     bool // if true, struct, union, class is declared but not defined
}

// A StructField represents a field in a struct, union, or C++ class type.
// Base classes are fields with Inherited set and the base class name as Name.
//
// For bit-fields BitSize is non-zero and BitOffset is the position of the
// least significant bit of the field counting from the least significant
// bit of the byte at ByteOffset.
type StructField struct {
	Name       string
	Type       Type
	ByteOffset int64
	BitOffset  int64
	BitSize    int64
	Inherited  bool
}

// IsBitField returns true if f is a bit-field member.
func (f *StructField) IsBitField() bool { return f.BitSize != 0 }

// A TemplateParam is a template type parameter of a class template
// instance. Value parameters are recorded with a nil Type and their
// constant in Value.
type TemplateParam struct {
	Name  string
	Type  Type
	Value int64
}

func (t *StructType) String() string { return t.stringIntl(make(recCheck)) }

func (t *StructType) stringIntl(recCheck recCheck) string {
	if t.StructName != "" {
		return t.StructName
	}
	return t.Defn(recCheck)
}

// Defn returns the definition of the struct in C syntax.
func (t *StructType) Defn(recCheck recCheck) string {
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return cyclicalTypeStop
	}
	defer release()
	s := t.Kind
	if t.StructName != "" {
		s += " " + t.StructName
	}
	if t.Incomplete {
		s += " /*incomplete*/"
		return s
	}
	s += " {"
	for i, f := range t.Field {
		if i > 0 {
			s += "; "
		}
		s += f.Type.stringIntl(recCheck) + " " + f.Name
		if f.BitSize > 0 {
			s += " : " + strconv.FormatInt(f.BitSize, 10)
		}
		s += "@" + strconv.FormatInt(f.ByteOffset, 10)
	}
	s += "}"
	return s
}

// An EnumType represents an enumerated type.
// The only indication of its native integer type is its ByteSize
// (inside CommonType).
type EnumType struct {
	CommonType
	EnumName string
	Val      []*EnumValue
}

// An EnumValue represents a single enumeration value.
type EnumValue struct {
	Name string
	Val  int64
}

func (t *EnumType) String() string { return t.stringIntl(nil) }

func (t *EnumType) stringIntl(recCheck recCheck) string {
	if t.EnumName != "" {
		return t.EnumName
	}
	s := "enum {"
	for i, v := range t.Val {
		if i > 0 {
			s += "; "
		}
		s += v.Name + "=" + strconv.FormatInt(v.Val, 10)
	}
	s += "}"
	return s
}

// A FuncType represents a function type.
type FuncType struct {
	CommonType
	ReturnType Type
	ParamType  []Type
}

func (t *FuncType) String() string { return t.stringIntl(make(recCheck)) }

func (t *FuncType) stringIntl(recCheck recCheck) string {
	release := recCheck.acquire(t.CommonType.Offset)
	if release == nil {
		return cyclicalTypeStop
	}
	defer release()
	s := t.ReturnType.stringIntl(recCheck) + " ("
	for i, t := range t.ParamType {
		if i > 0 {
			s += ", "
		}
		s += t.stringIntl(recCheck)
	}
	s += ")"
	return s
}

// A DotDotDotType represents the variadic ... function parameter.
type DotDotDotType struct {
	CommonType
}

func (t *DotDotDotType) String() string { return t.stringIntl(nil) }

func (t *DotDotDotType) stringIntl(recCheck recCheck) string { return "..." }

// A TypedefType represents a named type.
type TypedefType struct {
	CommonType
	Type Type
}

func (t *TypedefType) String() string { return t.stringIntl(nil) }

func (t *TypedefType) stringIntl(recCheck recCheck) string { return t.Name }

func (t *TypedefType) Size() int64 {
	if t.ByteSize > 0 || t.Type == nil {
		return t.ByteSize
	}
	return t.Type.Size()
}

// An UnsupportedType is a placeholder returned in situations where we
// encounter a type that isn't supported.
type UnsupportedType struct {
	CommonType
	Tag dwarf.Tag
}

func (t *UnsupportedType) stringIntl(recCheck) string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("(unsupported type %s)", t.Tag.String())
}

func (t *UnsupportedType) String() string { return t.stringIntl(nil) }

// ReadType reads the type at off in the DWARF “info” section.
// Names found in qualnames replace the unqualified DW_AT_name of the
// corresponding entries, so that types nested in namespaces and classes
// carry their full name (for example "DS::CQueue<int>").
func ReadType(d *dwarf.Data, off dwarf.Offset, typeCache map[dwarf.Offset]Type, qualnames map[dwarf.Offset]string) (Type, error) {
	return readType(d, "info", d.Reader(), off, typeCache, qualnames, nil)
}

type delayedSize struct {
	ct *CommonType // type that needs its size computed from ut
	ut Type        // underlying type
}

// readType reads a type from r at off of name using and updating a
// type cache, callers should pass nil to delayedSize, it is used for recursion.
func readType(d *dwarf.Data, name string, r *dwarf.Reader, off dwarf.Offset, typeCache map[dwarf.Offset]Type, qualnames map[dwarf.Offset]string, delayedSizes *[]delayedSize) (Type, error) {
	if t, ok := typeCache[off]; ok {
		return t, nil
	}
	r.Seek(off)
	e, err := r.Next()
	if err != nil {
		return nil, err
	}
	addressSize := r.AddressSize()
	if e == nil || e.Offset != off {
		return nil, dwarf.DecodeError{Name: name, Offset: off, Err: "no type at offset"}
	}

	// If this is the root of the recursion, prepare to resolve typedef sizes
	// once the recursion is done. This must be done after the type graph is
	// constructed because it may need to resolve cycles in a different order
	// than readType encounters them.
	if delayedSizes == nil {
		var delayedSizeList []delayedSize
		defer func() {
			for _, ds := range delayedSizeList {
				ds.ct.ByteSize = ds.ut.Size()
			}
		}()
		delayedSizes = &delayedSizeList
	}

	entryName := func(e *dwarf.Entry) string {
		if qn, ok := qualnames[e.Offset]; ok {
			return qn
		}
		n, _ := e.Val(dwarf.AttrName).(string)
		return n
	}

	// Parse type from dwarf.Entry.
	// Must always set typeCache[off] before calling
	// d.readType recursively, to handle circular types correctly.
	var typ Type

	nextDepth := 0

	// Get next child; set err if error happens.
	next := func() *dwarf.Entry {
		if !e.Children {
			return nil
		}
		// Only return direct children.
		// Skip over composite entries that happen to be nested
		// inside this one, C++ classes declare their nested types and
		// methods as children.
		for {
			kid, err1 := r.Next()
			if err1 != nil {
				err = err1
				return nil
			}
			if kid == nil {
				err = dwarf.DecodeError{Name: name, Offset: e.Offset, Err: "unexpected end of children"}
				return nil
			}
			if kid.Tag == 0 {
				if nextDepth > 0 {
					nextDepth--
					continue
				}
				return nil
			}
			if kid.Children {
				nextDepth++
			}
			if nextDepth > 0 {
				continue
			}
			return kid
		}
	}

	// Get Type referred to by dwarf.Entry's attr.
	// Set err if error happens.  Not having a type is an error.
	typeOf := func(e *dwarf.Entry, attr dwarf.Attr) Type {
		tval := e.Val(attr)
		var t Type
		switch toff := tval.(type) {
		case dwarf.Offset:
			if t, err = readType(d, name, d.Reader(), toff, typeCache, qualnames, delayedSizes); err != nil {
				return nil
			}
		case uint64:
			err = dwarf.DecodeError{Name: name, Offset: e.Offset, Err: "DWARFv4 section debug_types unsupported"}
			return nil
		default:
			// It appears that no Type means "void".
			return new(VoidType)
		}
		return t
	}

	switch e.Tag {
	case dwarf.TagArrayType:
		// Multi-dimensional array.  (DWARF v2 §5.4)
		// Attributes:
		//	AttrType:subtype [required]
		//	AttrStrideSize: distance in bits between each element of the array
		//	AttrStride: distance in bytes between each element of the array
		//	AttrByteSize: size of entire array
		// Children:
		//	TagSubrangeType or TagEnumerationType giving one dimension.
		//	dimensions are in left to right order.
		t := new(ArrayType)
		t.Name, _ = e.Val(dwarf.AttrName).(string)
		typ = t
		typeCache[off] = t
		if t.Type = typeOf(e, dwarf.AttrType); err != nil {
			goto Error
		}
		if bytes, ok := e.Val(dwarf.AttrStride).(int64); ok {
			t.StrideBitSize = 8 * bytes
		} else if bits, ok := e.Val(dwarf.AttrStrideSize).(int64); ok {
			t.StrideBitSize = bits
		}

		// Accumulate dimensions,
		var dims []int64
		for kid := next(); kid != nil; kid = next() {
			switch kid.Tag {
			case dwarf.TagSubrangeType:
				count, ok := kid.Val(dwarf.AttrCount).(int64)
				if !ok {
					// Old binaries may have an upper bound instead.
					count, ok = kid.Val(dwarf.AttrUpperBound).(int64)
					if ok {
						count++ // Length is one more than upper bound.
					} else {
						count = -1 // As in x[].
					}
				}
				dims = append(dims, count)
			case dwarf.TagEnumerationType:
				err = dwarf.DecodeError{Name: name, Offset: kid.Offset, Err: "cannot handle enumeration type as array bound"}
				goto Error
			}
		}
		if err != nil {
			goto Error
		}
		switch len(dims) {
		case 0:
			// GCC generates this for x[].
			t.Count = -1
		default:
			// int x[2][3] is an array of 2 arrays of 3 ints.
			for i := len(dims) - 1; i > 0; i-- {
				t.Type = &ArrayType{Type: t.Type, Count: dims[i]}
			}
			t.Count = dims[0]
		}

	case dwarf.TagBaseType:
		// Basic type.  (DWARF v2 §5.1)
		// Attributes:
		//	AttrName: name of base type in programming language of the compilation unit [required]
		//	AttrEncoding: encoding value for type (encFloat etc) [required]
		//	AttrByteSize: size of type in bytes [required]
		//	AttrBitOffset: for sub-byte types, size in bits
		//	AttrBitSize: for sub-byte types, bit offset of high order bit in the AttrByteSize bytes
		name, _ := e.Val(dwarf.AttrName).(string)
		enc, ok := e.Val(dwarf.AttrEncoding).(int64)
		if !ok {
			err = dwarf.DecodeError{Name: name, Offset: e.Offset, Err: "missing encoding attribute for " + name}
			goto Error
		}
		switch enc {
		default:
			err = dwarf.DecodeError{Name: name, Offset: e.Offset, Err: "unrecognized encoding attribute value"}
			goto Error

		case encAddress:
			typ = new(AddrType)
		case encBoolean:
			typ = new(BoolType)
		case encComplexFloat:
			typ = new(ComplexType)
		case encFloat, encImaginaryFloat:
			typ = new(FloatType)
		case encSigned:
			typ = new(IntType)
		case encUnsigned, encUTF:
			// char16_t and char32_t
			typ = new(UintType)
		case encSignedChar:
			typ = new(CharType)
		case encUnsignedChar:
			typ = new(UcharType)
		}
		typeCache[off] = typ
		t := typ.(interface {
			Basic() *BasicType
		}).Basic()
		t.Name = name
		t.BitSize, _ = e.Val(dwarf.AttrBitSize).(int64)
		t.BitOffset, _ = e.Val(dwarf.AttrBitOffset).(int64)

	case dwarf.TagClassType, dwarf.TagStructType, dwarf.TagUnionType:
		// Structure, union, or class type.  (DWARF v2 §5.5)
		// Attributes:
		//	AttrName: name of struct, union, or class
		//	AttrByteSize: byte size [required]
		//	AttrDeclaration: if true, struct/union/class is incomplete
		// Children:
		//	TagMember to describe one member.
		//		AttrName: name of member [required]
		//		AttrType: type of member [required]
		//		AttrByteSize: size in bytes of the storage unit of a bit-field (DWARF 2)
		//		AttrBitOffset: offset of the high order bit in the storage unit (DWARF 2)
		//		AttrDataBitOffset: offset of a bit-field from the start of the struct (DWARF 4)
		//		AttrBitSize: bit size for bit fields
		//		AttrDataMemberLoc: location within struct [required for struct, class]
		//	TagInheritance to describe a base class.
		//		AttrType: type of the base class
		//		AttrDataMemberLoc: location of the base class subobject
		//	TagTemplateTypeParameter and TagTemplateValueParameter.
		// Static members, methods and nested types are skipped.
		t := new(StructType)
		typ = t
		typeCache[off] = t
		switch e.Tag {
		case dwarf.TagClassType:
			t.Kind = "class"
		case dwarf.TagStructType:
			t.Kind = "struct"
		case dwarf.TagUnionType:
			t.Kind = "union"
		}
		t.Name = entryName(e)
		t.StructName = t.Name
		t.Incomplete = e.Val(dwarf.AttrDeclaration) != nil
		t.Field = make([]*StructField, 0, 8)
		for kid := next(); kid != nil; kid = next() {
			switch kid.Tag {
			case dwarf.TagMember, dwarf.TagInheritance:
				if kid.Tag == dwarf.TagMember && (kid.Val(dwarf.AttrExternal) != nil || kid.Val(dwarf.AttrDeclaration) != nil) {
					// static data member
					continue
				}
				f := new(StructField)
				if f.Type = typeOf(kid, dwarf.AttrType); err != nil {
					goto Error
				}
				f.ByteOffset, err = memberLocation(name, kid)
				if err != nil {
					goto Error
				}
				if kid.Tag == dwarf.TagInheritance {
					f.Inherited = true
					f.Name = f.Type.String()
				} else {
					f.Name, _ = kid.Val(dwarf.AttrName).(string)
					readBitField(kid, f)
				}
				t.Field = append(t.Field, f)
			case dwarf.TagTemplateTypeParameter:
				p := new(TemplateParam)
				p.Name, _ = kid.Val(dwarf.AttrName).(string)
				if p.Type = typeOf(kid, dwarf.AttrType); err != nil {
					goto Error
				}
				t.TemplateParams = append(t.TemplateParams, p)
			case dwarf.TagTemplateValueParameter:
				p := new(TemplateParam)
				p.Name, _ = kid.Val(dwarf.AttrName).(string)
				p.Value, _ = kid.Val(dwarf.AttrConstValue).(int64)
				t.TemplateParams = append(t.TemplateParams, p)
			}
		}
		if err != nil {
			goto Error
		}

	case dwarf.TagConstType, dwarf.TagVolatileType, dwarf.TagRestrictType:
		// Type modifier (DWARF v2 §5.2)
		// Attributes:
		//	AttrType: subtype
		t := new(QualType)
		t.Name, _ = e.Val(dwarf.AttrName).(string)
		typ = t
		typeCache[off] = t
		if t.Type = typeOf(e, dwarf.AttrType); err != nil {
			goto Error
		}
		switch e.Tag {
		case dwarf.TagConstType:
			t.Qual = "const"
		case dwarf.TagRestrictType:
			t.Qual = "restrict"
		case dwarf.TagVolatileType:
			t.Qual = "volatile"
		}
		*delayedSizes = append(*delayedSizes, delayedSize{t.Common(), t.Type})

	case dwarf.TagEnumerationType:
		// Enumeration type (DWARF v2 §5.6)
		// Attributes:
		//	AttrName: enum name if any
		//	AttrByteSize: bytes required to represent largest value
		// Children:
		//	TagEnumerator:
		//		AttrName: name of constant
		//		AttrConstValue: value of constant
		t := new(EnumType)
		typ = t
		typeCache[off] = t
		t.Name = entryName(e)
		t.EnumName = t.Name
		t.Val = make([]*EnumValue, 0, 8)
		for kid := next(); kid != nil; kid = next() {
			if kid.Tag == dwarf.TagEnumerator {
				f := new(EnumValue)
				f.Name, _ = kid.Val(dwarf.AttrName).(string)
				switch v := kid.Val(dwarf.AttrConstValue).(type) {
				case int64:
					f.Val = v
				case uint64:
					f.Val = int64(v)
				}
				t.Val = append(t.Val, f)
			}
		}

	case dwarf.TagPointerType, dwarf.TagReferenceType, dwarf.TagRvalueReferenceType:
		// Type modifier (DWARF v2 §5.2)
		// Attributes:
		//	AttrType: subtype [not required!  void* has no AttrType]
		//	AttrAddrClass: address class [ignored]
		t := new(PtrType)
		t.Name, _ = e.Val(dwarf.AttrName).(string)
		t.Reference = e.Tag != dwarf.TagPointerType
		t.Rvalue = e.Tag == dwarf.TagRvalueReferenceType
		typ = t
		typeCache[off] = t
		if e.Val(dwarf.AttrType) == nil {
			t.Type = &VoidType{}
			break
		}
		t.Type = typeOf(e, dwarf.AttrType)

	case dwarf.TagSubroutineType:
		// Subroutine type.  (DWARF v2 §5.7)
		// Attributes:
		//	AttrType: type of return value if any
		//	AttrName: possible name of type [ignored]
		//	AttrPrototyped: whether used ANSI C prototype [ignored]
		// Children:
		//	TagFormalParameter: typed parameter
		//		AttrType: type of parameter
		//	TagUnspecifiedParameter: final ...
		t := new(FuncType)
		t.Name, _ = e.Val(dwarf.AttrName).(string)
		typ = t
		typeCache[off] = t
		if t.ReturnType = typeOf(e, dwarf.AttrType); err != nil {
			goto Error
		}
		t.ParamType = make([]Type, 0, 8)
		for kid := next(); kid != nil; kid = next() {
			var tkid Type
			switch kid.Tag {
			default:
				continue
			case dwarf.TagFormalParameter:
				if tkid = typeOf(kid, dwarf.AttrType); err != nil {
					goto Error
				}
			case dwarf.TagUnspecifiedParameters:
				tkid = &DotDotDotType{}
			}
			t.ParamType = append(t.ParamType, tkid)
		}

	case dwarf.TagTypedef:
		// Typedef (DWARF v2 §5.3)
		// Attributes:
		//	AttrName: name [required]
		//	AttrType: type definition [required]
		t := new(TypedefType)
		typ = t
		typeCache[off] = t
		t.Name = entryName(e)
		t.Type = typeOf(e, dwarf.AttrType)

	case dwarf.TagUnspecifiedType:
		// Unspecified type (DWARF v3 §5.2)
		// Attributes:
		//      AttrName: name
		t := new(UnspecifiedType)
		typ = t
		typeCache[off] = t
		t.Name, _ = e.Val(dwarf.AttrName).(string)

	default:
		// This is some other type DIE that we're currently not
		// equipped to handle. Return an abstract "unsupported type"
		// object in such cases.
		t := new(UnsupportedType)
		typ = t
		typeCache[off] = t
		t.Tag = e.Tag
		t.Name, _ = e.Val(dwarf.AttrName).(string)
	}

	if err != nil {
		goto Error
	}

	typ.Common().Offset = off

	{
		b, ok := e.Val(dwarf.AttrByteSize).(int64)
		if !ok {
			b = -1
			switch t := typ.(type) {
			case *TypedefType:
				*delayedSizes = append(*delayedSizes, delayedSize{typ.Common(), t.Type})
			case *PtrType:
				b = int64(addressSize)
			case *FuncType:
				b = int64(addressSize)
			case *UnspecifiedType:
				// std::nullptr_t
				b = int64(addressSize)
			case *QualType, *ArrayType:
				b = 0
			}
		}
		typ.Common().ByteSize = b
	}
	return typ, nil

Error:
	// If the parse fails, take the type out of the cache
	// so that the next call with this offset doesn't hit
	// the cache and return success.
	delete(typeCache, off)
	return nil, err
}

// memberLocation returns the byte offset of a member or base class
// subobject. Both the constant form and the location expression forms
// emitted by GCC and clang are accepted.
func memberLocation(name string, kid *dwarf.Entry) (int64, error) {
	switch loc := kid.Val(dwarf.AttrDataMemberLoc).(type) {
	case int64:
		return loc, nil
	case []byte:
		if len(loc) == 0 {
			// Empty exprloc.
			return 0, nil
		}
		buf := bytes.NewReader(loc[1:])
		switch loc[0] {
		case opPlusUconst:
			// [DW_OP_plus_uconst <uleb128>]
			off, _ := leb128.DecodeUnsigned(buf)
			if buf.Len() == 0 {
				return int64(off), nil
			}
		case opConsts:
			// [DW_OP_consts <sleb128> DW_OP_plus]
			off, _ := leb128.DecodeSigned(buf)
			if op, err := buf.ReadByte(); err == nil && op == opPlus && buf.Len() == 0 {
				return off, nil
			}
		}
		return 0, dwarf.DecodeError{Name: name, Offset: kid.Offset, Err: fmt.Sprintf("unexpected member location expression %x", loc)}
	}
	return 0, nil
}

// readBitField normalizes the bit-field attributes of kid into f.
// Offsets are converted to little endian positions: the DWARF 2 form counts
// the high order bit from the most significant end of a storage unit of
// AttrByteSize bytes located at ByteOffset, the DWARF 4 form counts from
// the start of the enclosing struct.
func readBitField(kid *dwarf.Entry, f *StructField) {
	bitSize, ok := kid.Val(dwarf.AttrBitSize).(int64)
	if !ok || bitSize == 0 {
		return
	}
	var abs int64
	if dataBitOffset, ok := kid.Val(dwarf.AttrDataBitOffset).(int64); ok {
		abs = dataBitOffset
	} else {
		storage, _ := kid.Val(dwarf.AttrByteSize).(int64)
		if storage == 0 {
			storage = f.Type.Size()
		}
		bitOffset, _ := kid.Val(dwarf.AttrBitOffset).(int64)
		abs = f.ByteOffset*8 + storage*8 - bitOffset - bitSize
	}
	f.ByteOffset = abs / 8
	f.BitOffset = abs % 8
	f.BitSize = bitSize
}

// TemplateArgs splits the top level template argument list of a C++ type
// name. TemplateArgs("DS::Map<int, DS::List<char>>") returns
// ["int", "DS::List<char>"]. Names without a template argument list return
// nil.
func TemplateArgs(typename string) []string {
	start := strings.IndexByte(typename, '<')
	if start < 0 {
		return nil
	}
	var (
		args  []string
		depth int
		from  = start + 1
	)
	for i := start; i < len(typename); i++ {
		switch typename[i] {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			depth--
			if depth == 0 {
				if arg := strings.TrimSpace(typename[from:i]); arg != "" || len(args) > 0 {
					args = append(args, arg)
				}
				return args
			}
		case ',':
			if depth == 1 {
				args = append(args, strings.TrimSpace(typename[from:i]))
				from = i + 1
			}
		}
	}
	return nil
}
