package godwarf

import (
	"strings"
)

// ResolveTypedef returns the type typ refers to after removing typedefs
// and cv-qualifiers.
func ResolveTypedef(typ Type) Type {
	for {
		switch tt := typ.(type) {
		case *TypedefType:
			typ = tt.Type
		case *QualType:
			typ = tt.Type
		default:
			return typ
		}
	}
}

// BasicTypeOf is ResolveTypedef extended to C++ references, a reference
// to T behaves as T.
func BasicTypeOf(typ Type) Type {
	for {
		typ = ResolveTypedef(typ)
		pt, ok := typ.(*PtrType)
		if !ok || !pt.Reference {
			return typ
		}
		typ = pt.Type
	}
}

// Tag returns the name of a struct, class, union or enum type, it returns
// the empty string for any other type.
func Tag(typ Type) string {
	switch t := typ.(type) {
	case *StructType:
		return t.StructName
	case *EnumType:
		return t.EnumName
	}
	return ""
}

// FakeBasicType synthesizes a C++ fundamental type from its name,
// FakeBasicType("unsigned long", 8).
func FakeBasicType(name string, byteSize int64) Type {
	basic := BasicType{
		CommonType: CommonType{ByteSize: byteSize, Name: name},
		BitSize:    byteSize * 8,
	}
	switch {
	case name == "bool":
		return &BoolType{BasicType: basic}
	case name == "char" || name == "signed char":
		return &CharType{BasicType: basic}
	case name == "unsigned char":
		return &UcharType{BasicType: basic}
	case name == "float" || strings.HasSuffix(name, "double"):
		return &FloatType{BasicType: basic}
	case strings.HasPrefix(name, "unsigned") || strings.HasPrefix(name, "char16") || strings.HasPrefix(name, "char32"):
		return &UintType{BasicType: basic}
	default:
		return &IntType{BasicType: basic}
	}
}

// FakePointerType synthesizes a pointer to elem.
func FakePointerType(elem Type, ptrSize int64) *PtrType {
	return &PtrType{
		CommonType: CommonType{ByteSize: ptrSize},
		Type:       elem,
	}
}
