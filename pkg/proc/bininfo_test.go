package proc_test

import (
	"debug/dwarf"
	"errors"
	"testing"

	"github.com/dsprint/dsprint/pkg/dwarf/dwarfbuilder"
	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
	"github.com/dsprint/dsprint/pkg/proc"
)

const (
	gListAddr  = 0x1000
	headAddr   = 0x1010
	countAddr  = 0x1018
	gArrayAddr = 0x1020
)

func buildBinaryInfo(t *testing.T) *proc.BinaryInfo {
	b := dwarfbuilder.New()
	intOff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	u64 := b.AddBaseType("unsigned long", dwarfbuilder.DW_ATE_unsigned, 8)
	intPtr := b.AddPointerType("", intOff)

	b.AddNamespace("DS")
	b.AddDeclaration("Container")
	b.TagClose()

	b.AddNamespace("DS")
	container := b.AddClassType("Container", 8)
	b.AddMemberAt("mSize", u64, 0)
	b.TagClose()
	list := b.AddClassType("List<int>", 16)
	b.AddTemplateTypeParam("T", intOff)
	b.AddInheritance(container, 0)
	b.AddMemberAt("mHead", intPtr, 8)
	b.TagClose()
	b.AddClassType("Registry", 1)
	count := b.TagOpen(dwarf.TagMember, "count")
	b.Attr(dwarf.AttrType, intOff)
	b.Attr(dwarf.AttrDeclaration, true)
	b.TagClose()
	b.TagClose()
	b.AddNamespace("")
	b.AddStructType("Hidden", 4)
	b.AddMemberAt("x", intOff, 0)
	b.TagClose()
	b.TagClose()
	b.AddVariable("gList", list, gListAddr)
	b.TagClose()

	b.TagOpen(dwarf.TagVariable, "")
	b.Attr(dwarf.AttrSpecification, count)
	b.Attr(dwarf.AttrLocation, dwarfbuilder.LocationBlock(dwarfbuilder.DW_OP_addr, dwarfbuilder.Address(countAddr)))
	b.TagClose()

	b.AddVariable("gArray", b.AddArrayType(intOff, 2), gArrayAddr)

	b.TagOpen(dwarf.TagSubprogram, "main")
	b.SetHasChildren()
	b.AddStructType("Local", 4)
	b.TagClose()
	b.TagClose()

	d, err := b.Data()
	if err != nil {
		t.Fatalf("could not build DWARF: %v", err)
	}
	bi, err := proc.NewBinaryInfo(d, 8)
	if err != nil {
		t.Fatal(err)
	}
	return bi
}

func TestLookupQualifiedType(t *testing.T) {
	bi := buildBinaryInfo(t)

	typ, err := bi.LookupType("DS::List<int>")
	if err != nil {
		t.Fatal(err)
	}
	st, ok := typ.(*godwarf.StructType)
	if !ok {
		t.Fatalf("got %T", typ)
	}
	if st.StructName != "DS::List<int>" {
		t.Errorf("name: got %q", st.StructName)
	}
	if base := st.Field[0]; base.Name != "DS::Container" {
		t.Errorf("base class: got %q", base.Name)
	}

	// the definition wins over the declaration that comes first
	typ, err = bi.LookupType("DS::Container")
	if err != nil {
		t.Fatal(err)
	}
	if typ.(*godwarf.StructType).Incomplete {
		t.Errorf("DS::Container resolved to its declaration")
	}

	for _, tc := range []struct {
		name, want string
	}{
		{"DS::List<int> *", "DS::List<int>*"},
		{"const DS::List<int>&", "const DS::List<int>&"},
		{"DS::(anonymous namespace)::Hidden", "DS::(anonymous namespace)::Hidden"},
		{"size_t", "unsigned long"},
	} {
		typ, err := bi.LookupType(tc.name)
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if typ.String() != tc.want {
			t.Errorf("%s: got %q want %q", tc.name, typ.String(), tc.want)
		}
	}

	var nterr *proc.NoTypeError
	if _, err := bi.LookupType("Local"); !errors.As(err, &nterr) {
		t.Errorf("function local type was indexed: %v", err)
	}
}

func TestTypeNames(t *testing.T) {
	bi := buildBinaryInfo(t)
	found := make(map[string]bool)
	for _, name := range bi.TypeNames() {
		found[name] = true
	}
	for _, name := range []string{"int", "DS::Container", "DS::List<int>", "DS::Registry"} {
		if !found[name] {
			t.Errorf("%s missing from %v", name, bi.TypeNames())
		}
	}
}

func TestGlobals(t *testing.T) {
	bi := buildBinaryInfo(t)
	want := []string{"DS::Registry::count", "DS::gList", "gArray"}
	got := bi.GlobalNames()
	if len(got) != len(want) {
		t.Fatalf("got %q want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %q want %q", got, want)
		}
	}

	bi.SetStaticBase(0x100)
	addr, typ, err := bi.Global("DS::gList")
	if err != nil {
		t.Fatal(err)
	}
	if addr != gListAddr+0x100 || typ.String() != "DS::List<int>" {
		t.Errorf("got %#x %s", addr, typ)
	}
	_, typ, err = bi.Global("DS::Registry::count")
	if err != nil {
		t.Fatal(err)
	}
	if typ.String() != "int" {
		t.Errorf("static member type: got %s", typ)
	}
}
