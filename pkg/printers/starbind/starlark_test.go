package starbind

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
	"github.com/dsprint/dsprint/pkg/printers"
	"github.com/dsprint/dsprint/pkg/proc"
)

type fakeMemory []byte

const memBase = 0x1000

func (m fakeMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < memBase || addr+uint64(len(buf)) > memBase+uint64(len(m)) {
		return 0, fmt.Errorf("could not read %#x", addr)
	}
	return copy(buf, m[addr-memBase:]), nil
}

type fakeContext struct {
	registry *printers.Registry
	catalog  *proc.TypeMap
	mem      fakeMemory
	globals  map[string]*proc.Variable
}

func (ctx *fakeContext) Registry() *printers.Registry { return ctx.registry }

func (ctx *fakeContext) EvalExpression(expr string) (*proc.Variable, error) {
	if v := ctx.globals[expr]; v != nil {
		return v, nil
	}
	return nil, fmt.Errorf("could not find symbol value for %s", expr)
}

func (ctx *fakeContext) LookupType(name string) (godwarf.Type, error) {
	return ctx.catalog.LookupType(name)
}

// newContext returns a context with a global p of type Pair<int> at 0x1000
// holding {3, 4}, and a global a of type Array<int> {len 2, data 0x1010}.
func newContext() *fakeContext {
	catalog := proc.NewTypeMap(8)
	intT, _ := catalog.LookupType("int")
	u64, _ := catalog.LookupType("unsigned long")
	pair := &godwarf.StructType{
		CommonType: godwarf.CommonType{Name: "Pair<int>", ByteSize: 8},
		StructName: "Pair<int>",
		Kind:       "struct",
		Field: []*godwarf.StructField{
			{Name: "first", Type: intT},
			{Name: "second", Type: intT, ByteOffset: 4},
		},
	}
	array := &godwarf.StructType{
		CommonType: godwarf.CommonType{Name: "Array<int>", ByteSize: 16},
		StructName: "Array<int>",
		Kind:       "struct",
		Field: []*godwarf.StructField{
			{Name: "len", Type: u64},
			{Name: "data", Type: godwarf.FakePointerType(intT, 8), ByteOffset: 8},
		},
	}
	catalog.Add(pair)
	catalog.Add(array)

	mem := make(fakeMemory, 0x100)
	binary.LittleEndian.PutUint32(mem[0:], 3)
	binary.LittleEndian.PutUint32(mem[4:], 4)
	binary.LittleEndian.PutUint64(mem[0x20:], 2)
	binary.LittleEndian.PutUint64(mem[0x28:], 0x1010)
	binary.LittleEndian.PutUint32(mem[0x10:], 5)
	binary.LittleEndian.PutUint32(mem[0x14:], 6)

	return &fakeContext{
		registry: printers.NewRegistry(),
		catalog:  catalog,
		mem:      mem,
		globals: map[string]*proc.Variable{
			"p": proc.NewVariable("p", 0x1000, pair, catalog, mem),
			"a": proc.NewVariable("a", 0x1020, array, catalog, mem),
		},
	}
}

const pairScript = `
def pair_summary(v):
    return "(%d, %d)" % (v.field("first").int(), v.field("second").int())

def array_children(v):
    data = v.field("data")
    return [("#%d" % i, data.advance(i).deref()) for i in range(v.field("len").uint())]

def array_summary(v):
    return v.field("len")

register("test", "Pair", "^Pair<", summary=pair_summary)
register("test", "Array", "^Array<", summary=array_summary, children=array_children, hint="array")
`

func TestRegisterFromScript(t *testing.T) {
	ctx := newContext()
	var out bytes.Buffer
	env := New(ctx, &out)
	if err := env.Execute("pair.star", pairScript); err != nil {
		t.Fatal(err)
	}

	f := ctx.registry.Lookup(ctx.globals["p"])
	if f == nil {
		t.Fatalf("no formatter for Pair<int>")
	}
	s, err := f.Summary()
	if err != nil {
		t.Fatal(err)
	}
	if s.Text != "(3, 4)" {
		t.Errorf("got %q want (3, 4)", s.Text)
	}
	if _, ok := f.(printers.ChildrenFormatter); ok {
		t.Errorf("Pair formatter has children")
	}

	f = ctx.registry.Lookup(ctx.globals["a"])
	if f == nil {
		t.Fatalf("no formatter for Array<int>")
	}
	if f.DisplayHint() != printers.HintArray {
		t.Errorf("hint: got %q", f.DisplayHint())
	}
	s, err = f.Summary()
	if err != nil {
		t.Fatal(err)
	}
	if s.Value == nil {
		t.Fatalf("summary has no value")
	}
	if n, _ := s.Value.AsUint(); n != 2 {
		t.Errorf("summary value: got %d want 2", n)
	}
	it, err := f.(printers.ChildrenFormatter).Children()
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for it.Next() {
		c := it.Child()
		n, err := c.Value.AsInt()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, fmt.Sprintf("%s=%d", c.Label, n))
	}
	if strings.Join(got, " ") != "#0=5 #1=6" {
		t.Errorf("children: got %v", got)
	}
}

func TestExecuteReplacesGroup(t *testing.T) {
	ctx := newContext()
	env := New(ctx, &bytes.Buffer{})
	if err := env.Execute("pair.star", pairScript); err != nil {
		t.Fatal(err)
	}
	if err := env.Execute("other.star", `register("test", "Other", "^Other$", summary=lambda v: "x")`); err != nil {
		t.Fatal(err)
	}
	pps := ctx.registry.Printers()
	if len(pps) != 1 || len(pps[0].Subprinters) != 1 || pps[0].Subprinters[0].Name != "Other" {
		t.Fatalf("group not replaced")
	}
	if ctx.registry.Lookup(ctx.globals["p"]) != nil {
		t.Errorf("formatter of the replaced group still used")
	}
}

func TestRegisterErrors(t *testing.T) {
	for _, script := range []string{
		`register("g", "s", "^x", summary=1)`,
		`register("g", "s", "^x")`,
		`register("g", "s", "^(", summary=lambda v: "")`,
	} {
		ctx := newContext()
		if err := New(ctx, &bytes.Buffer{}).Execute("bad.star", script); err == nil {
			t.Errorf("%s: no error", script)
		}
		if n := len(ctx.registry.Printers()); n > 0 && len(ctx.registry.Printers()[0].Subprinters) > 0 {
			t.Errorf("%s: entry registered", script)
		}
	}
}

func TestValueBuiltins(t *testing.T) {
	ctx := newContext()
	var out bytes.Buffer
	env := New(ctx, &out)
	script := `
p = eval("p")
print(p.type, p.addr, p.field("second").int())
q = eval("a").field("data").cast("Pair<int>*").deref()
print(q.field("first").int(), q.field("second").int())
print(lookup_type("Pair<int> *"), lookup_type("Missing"))
print(len(p.fields()), p.template_arg(0))
`
	if err := env.Execute("builtins.star", script); err != nil {
		t.Fatal(err)
	}
	want := "Pair<int> 4096 4\n5 6\nPair<int>* None\n2 int\n"
	if out.String() != want {
		t.Errorf("got %q want %q", out.String(), want)
	}
}

func TestChildrenNotValues(t *testing.T) {
	ctx := newContext()
	env := New(ctx, &bytes.Buffer{})
	if err := env.Execute("bad.star", `register("g", "Pair", "^Pair<", children=lambda v: [1, 2])`); err != nil {
		t.Fatal(err)
	}
	f := ctx.registry.Lookup(ctx.globals["p"]).(printers.ChildrenFormatter)
	if _, err := f.Children(); err == nil {
		t.Errorf("children that are not values accepted")
	}
}
