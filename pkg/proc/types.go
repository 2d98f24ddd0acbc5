package proc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
)

// TypeCatalog resolves C++ type names to types.
type TypeCatalog interface {
	// LookupType returns the type called name. Pointer, reference and
	// const qualified versions of known types are synthesized.
	LookupType(name string) (godwarf.Type, error)
	// PtrSize returns the size of a pointer in the target.
	PtrSize() int
}

// NoTypeError is returned by LookupType when the type is not known.
type NoTypeError struct {
	Name string
}

func (err *NoTypeError) Error() string {
	return fmt.Sprintf("no type named %q", err.Name)
}

// fundamentalTypes are the C++ fundamental types of the LP64 data model,
// used when the debug info does not describe them.
var fundamentalTypes = []struct {
	name string
	size int64
}{
	{"bool", 1},
	{"char", 1},
	{"signed char", 1},
	{"unsigned char", 1},
	{"short", 2},
	{"unsigned short", 2},
	{"char16_t", 2},
	{"int", 4},
	{"unsigned int", 4},
	{"char32_t", 4},
	{"wchar_t", 4},
	{"long", 8},
	{"unsigned long", 8},
	{"long long", 8},
	{"unsigned long long", 8},
	{"float", 4},
	{"double", 8},
}

var fundamentalAliases = map[string]string{
	"short int":              "short",
	"short unsigned int":     "unsigned short",
	"long int":               "long",
	"long unsigned int":      "unsigned long",
	"long long int":          "long long",
	"long long unsigned int": "unsigned long long",
	"unsigned":               "unsigned int",
	"size_t":                 "unsigned long",
	"std::size_t":            "unsigned long",
	"uintptr_t":              "unsigned long",
	"std::uintptr_t":         "unsigned long",
	"uint64_t":               "unsigned long",
	"std::uint64_t":          "unsigned long",
	"int64_t":                "long",
	"std::int64_t":           "long",
	"uint32_t":               "unsigned int",
	"std::uint32_t":          "unsigned int",
	"int32_t":                "int",
	"std::int32_t":           "int",
	"uint8_t":                "unsigned char",
	"std::uint8_t":           "unsigned char",
}

// TypeMap is an in memory TypeCatalog. It knows the fundamental types and
// any type added to it.
type TypeMap struct {
	ptrSize int
	types   map[string]godwarf.Type
}

// NewTypeMap returns a TypeMap containing the fundamental types.
func NewTypeMap(ptrSize int) *TypeMap {
	m := &TypeMap{ptrSize: ptrSize, types: make(map[string]godwarf.Type)}
	for _, ft := range fundamentalTypes {
		m.types[ft.name] = godwarf.FakeBasicType(ft.name, ft.size)
	}
	for alias, name := range fundamentalAliases {
		m.types[alias] = m.types[name]
	}
	return m
}

// Add adds typ to the map under the name it is printed with.
func (m *TypeMap) Add(typ godwarf.Type) {
	m.AddNamed(typ.String(), typ)
}

// AddNamed adds typ to the map under name.
func (m *TypeMap) AddNamed(name string, typ godwarf.Type) {
	m.types[CanonicalTypeName(name)] = typ
}

// LookupType implements TypeCatalog.
func (m *TypeMap) LookupType(name string) (godwarf.Type, error) {
	return lookupDerived(name, m.ptrSize, m.lookup)
}

func (m *TypeMap) lookup(name string) (godwarf.Type, bool) {
	t, ok := m.types[name]
	return t, ok
}

// PtrSize implements TypeCatalog.
func (m *TypeMap) PtrSize() int { return m.ptrSize }

// TypeNames returns the sorted names of all types in the map.
func (m *TypeMap) TypeNames() []string {
	r := make([]string, 0, len(m.types))
	for name := range m.types {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}

// lookupDerived resolves name using lookup, synthesizing pointer,
// reference and cv-qualified types of the types lookup knows about.
func lookupDerived(name string, ptrSize int, lookup func(string) (godwarf.Type, bool)) (godwarf.Type, error) {
	name = CanonicalTypeName(name)
	if t, ok := lookup(name); ok {
		return t, nil
	}
	var (
		elem godwarf.Type
		err  error
	)
	switch {
	case name == "void":
		return &godwarf.VoidType{}, nil
	case strings.HasSuffix(name, "&&"), strings.HasSuffix(name, "&"):
		rvalue := strings.HasSuffix(name, "&&")
		if elem, err = lookupDerived(strings.TrimRight(name, "&"), ptrSize, lookup); err != nil {
			return nil, err
		}
		pt := godwarf.FakePointerType(elem, int64(ptrSize))
		pt.Reference = true
		pt.Rvalue = rvalue
		return pt, nil
	case strings.HasSuffix(name, "*"):
		if elem, err = lookupDerived(name[:len(name)-1], ptrSize, lookup); err != nil {
			return nil, err
		}
		return godwarf.FakePointerType(elem, int64(ptrSize)), nil
	case strings.HasPrefix(name, "const "), strings.HasPrefix(name, "volatile "):
		i := strings.IndexByte(name, ' ')
		if elem, err = lookupDerived(name[i+1:], ptrSize, lookup); err != nil {
			return nil, err
		}
		return &godwarf.QualType{CommonType: godwarf.CommonType{ByteSize: elem.Size()}, Qual: name[:i], Type: elem}, nil
	case len(name) > len("const") && strings.HasSuffix(name, "const") && !isIdentChar(name[len(name)-len("const")-1]):
		// "T const", "T<U>const" and "T*const"
		if elem, err = lookupDerived(name[:len(name)-len("const")], ptrSize, lookup); err != nil {
			return nil, err
		}
		return &godwarf.QualType{CommonType: godwarf.CommonType{ByteSize: elem.Size()}, Qual: "const", Type: elem}, nil
	}
	return nil, &NoTypeError{Name: name}
}

// CanonicalTypeName removes the white space C++ compilers disagree on:
// "DS::List<DS::LNode<int> >" and "DS::List<DS::LNode<int>>" have the same
// canonical form. Spaces separating two identifiers, as in "unsigned int",
// are kept.
func CanonicalTypeName(name string) string {
	name = strings.TrimSpace(name)
	if !strings.ContainsAny(name, " \t") {
		return name
	}
	buf := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c != ' ' && c != '\t' {
			buf = append(buf, c)
			continue
		}
		j := i
		for j < len(name) && (name[j] == ' ' || name[j] == '\t') {
			j++
		}
		if len(buf) > 0 && j < len(name) && isIdentChar(buf[len(buf)-1]) && isIdentChar(name[j]) {
			buf = append(buf, ' ')
		}
		i = j - 1
	}
	return string(buf)
}

func isIdentChar(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
