package printers_test

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
	"github.com/dsprint/dsprint/pkg/printers"
	"github.com/dsprint/dsprint/pkg/proc"
)

type fakeMemory struct {
	base uint64
	data []byte

	// reads overlapping [noReadStart, noReadEnd) fail and are counted
	noReadStart, noReadEnd uint64
	badReads               int
}

func (m *fakeMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	end := addr + uint64(len(buf))
	if addr < m.noReadEnd && end > m.noReadStart {
		m.badReads++
		return 0, fmt.Errorf("read of %#x: forbidden", addr)
	}
	if addr < m.base || end > m.base+uint64(len(m.data)) {
		return 0, fmt.Errorf("could not read %#x", addr)
	}
	return copy(buf, m.data[addr-m.base:]), nil
}

func (m *fakeMemory) put64(addr, val uint64) {
	binary.LittleEndian.PutUint64(m.data[addr-m.base:], val)
}

func (m *fakeMemory) put32(addr uint64, val uint32) {
	binary.LittleEndian.PutUint32(m.data[addr-m.base:], val)
}

func class(name string, size int64, fields ...*godwarf.StructField) *godwarf.StructType {
	return &godwarf.StructType{
		CommonType: godwarf.CommonType{ByteSize: size, Name: name},
		StructName: name,
		Kind:       "class",
		Field:      fields,
	}
}

func field(name string, typ godwarf.Type, off int64) *godwarf.StructField {
	return &godwarf.StructField{Name: name, Type: typ, ByteOffset: off}
}

func base(typ *godwarf.StructType) *godwarf.StructField {
	return &godwarf.StructField{Name: typ.StructName, Type: typ, Inherited: true}
}

func ptr(typ godwarf.Type) godwarf.Type {
	return godwarf.FakePointerType(typ, 8)
}

type fixture struct {
	catalog *proc.TypeMap
	mem     *fakeMemory
}

const (
	queueAddr     = 0x1000
	listAddr      = 0x1200
	emptyListAddr = 0x1240
	vectorAddr    = 0x1260
	holderAddr    = 0x12a0
	oldListAddr   = 0x12c0
	badListAddr   = 0x1300
)

func newFixture() *fixture {
	catalog := proc.NewTypeMap(8)
	intT, _ := catalog.LookupType("int")
	longT, _ := catalog.LookupType("long")
	u64, _ := catalog.LookupType("unsigned long")

	atomicSize := class("std::atomic<unsigned long>", 8,
		base(class("std::__atomic_base<unsigned long>", 8, field("_M_i", u64, 0))))
	container := class("DS::Container", 8, field("mSize", u64, 0))
	atomicContainer := class("DS::Container<true>", 8, field("mSize", atomicSize, 0))

	cqnode := class("DS::CQNode<int>", 16, field("val", intT, 0))
	cqnode.Field = append(cqnode.Field, field("next", ptr(cqnode), 8))
	countedPtr := class("DS::CountedPtr<DS::CQNode<int> >", 8,
		&godwarf.StructField{Name: "ptr", Type: u64, BitSize: 48},
		&godwarf.StructField{Name: "cnt", Type: u64, ByteOffset: 6, BitSize: 16})
	atomicHead := class("std::atomic<DS::CountedPtr<DS::CQNode<int> > >", 8, field("val", countedPtr, 0))
	cqueue := class("DS::CQueue<int>", 24, base(atomicContainer), field("mHead", atomicHead, 8), field("mTail", ptr(cqnode), 16))
	cqueueDouble := class("DS::CQueue<double>", 24, base(atomicContainer), field("mHead", atomicHead, 8))

	lnode := class("DS::LNode<int>", 16, field("val", intT, 0))
	lnode.Field = append(lnode.Field, field("next", ptr(lnode), 8))
	list := class("DS::List<int>", 16, base(container), field("mHead", ptr(lnode), 8))

	oldNode := class("DS::LNode<long>", 24)
	union := &godwarf.StructType{CommonType: godwarf.CommonType{ByteSize: 8}, Kind: "union", Field: []*godwarf.StructField{field("value", longT, 0)}}
	oldNode.Field = []*godwarf.StructField{field("prev", ptr(oldNode), 0), field("next", ptr(oldNode), 8), field("", union, 16)}
	oldList := class("DS::List<long>", 16, base(container), field("mHead", ptr(oldNode), 8))

	vector := class("DS::Vector<int>", 24, base(container), field("mHead", ptr(intT), 8), field("mCapacity", u64, 16))
	holder := class("DS::Holder<int>", 4)

	for _, typ := range []godwarf.Type{container, atomicContainer, cqnode, countedPtr, cqueue, cqueueDouble, lnode, list, oldNode, oldList, vector, holder} {
		catalog.Add(typ)
	}

	mem := &fakeMemory{base: 0x1000, data: make([]byte, 0x400)}

	// queue of 10, 20, 30, the last node points to itself
	mem.put64(queueAddr, 3)
	mem.put64(queueAddr+8, 0x1100|5<<48)
	mem.put64(queueAddr+16, 0x1120)
	mem.put32(0x1100, 10)
	mem.put64(0x1108, 0x1110)
	mem.put32(0x1110, 20)
	mem.put64(0x1118, 0x1120)
	mem.put32(0x1120, 30)
	mem.put64(0x1128, 0x1128)

	mem.put64(listAddr, 2)
	mem.put64(listAddr+8, 0x1210)
	mem.put32(0x1210, 7)
	mem.put64(0x1218, 0x1220)
	mem.put32(0x1220, 8)
	mem.put64(0x1228, 0)

	mem.put64(emptyListAddr, 0)
	mem.put64(emptyListAddr+8, 0)

	mem.put64(vectorAddr, 2)
	mem.put64(vectorAddr+8, 0x1280)
	mem.put64(vectorAddr+16, 5)
	mem.put32(0x1280, 7)
	mem.put32(0x1284, 8)
	mem.put32(0x1288, 0xdead)

	mem.put32(holderAddr, 42)

	mem.put64(oldListAddr, 1)
	mem.put64(oldListAddr+8, 0x12d0)
	mem.put64(0x12d0, 0)
	mem.put64(0x12d8, 0)
	mem.put64(0x12e0, 5)

	// second node points outside of memory
	mem.put64(badListAddr, 3)
	mem.put64(badListAddr+8, 0x1310)
	mem.put32(0x1310, 1)
	mem.put64(0x1318, 0x9000)

	return &fixture{catalog: catalog, mem: mem}
}

func (fx *fixture) variable(t *testing.T, typename string, addr uint64) *proc.Variable {
	t.Helper()
	typ, err := fx.catalog.LookupType(typename)
	if err != nil {
		t.Fatal(err)
	}
	return proc.NewVariable("v", addr, typ, fx.catalog, fx.mem)
}

func lookup(t *testing.T, v *proc.Variable) printers.Formatter {
	t.Helper()
	f := printers.Default().Lookup(v)
	if f == nil {
		t.Fatalf("no formatter for %s", v.TypeName())
	}
	return f
}

func summaryText(t *testing.T, f printers.Formatter) string {
	t.Helper()
	s, err := f.Summary()
	if err != nil {
		t.Fatal(err)
	}
	return s.Text
}

type child struct {
	label string
	value int64
}

func children(t *testing.T, f printers.Formatter) ([]child, error) {
	t.Helper()
	cf, ok := f.(printers.ChildrenFormatter)
	if !ok {
		t.Fatalf("%T has no children", f)
	}
	it, err := cf.Children()
	if err != nil {
		return nil, err
	}
	var r []child
	for it.Next() {
		c := it.Child()
		n, err := c.Value.AsInt()
		if err != nil {
			return r, fmt.Errorf("%s: %v", c.Label, err)
		}
		r = append(r, child{c.Label, n})
	}
	return r, it.Err()
}

func checkChildren(t *testing.T, got, want []child) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d children %v want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("child %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestCQueue(t *testing.T) {
	fx := newFixture()
	f := lookup(t, fx.variable(t, "DS::CQueue<int>", queueAddr))
	if s := summaryText(t, f); s != "[3]" {
		t.Errorf("summary: got %q want [3]", s)
	}
	if f.DisplayHint() != printers.HintArray {
		t.Errorf("hint: got %q", f.DisplayHint())
	}
	got, err := children(t, f)
	if err != nil {
		t.Fatal(err)
	}
	checkChildren(t, got, []child{{"[0]", 10}, {"[1]", 20}, {"[2]", 30}})
}

func TestCQueueEmptyWithCount(t *testing.T) {
	fx := newFixture()
	// a null ptr with the cnt bits of the counted pointer set
	fx.mem.put64(queueAddr, 0)
	fx.mem.put64(queueAddr+8, 7<<48)
	f := lookup(t, fx.variable(t, "DS::CQueue<int>", queueAddr))
	if s := summaryText(t, f); s != "[0]" {
		t.Errorf("summary: got %q want [0]", s)
	}
	got, err := children(t, f)
	if err != nil {
		t.Fatal(err)
	}
	checkChildren(t, got, nil)
}

func TestCQueueSizeDivergence(t *testing.T) {
	fx := newFixture()
	fx.mem.put64(queueAddr, 5)
	f := lookup(t, fx.variable(t, "DS::CQueue<int>", queueAddr))
	if s := summaryText(t, f); s != "[5]" {
		t.Errorf("summary: got %q want [5]", s)
	}
	got, err := children(t, f)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("got %d children want 3", len(got))
	}
}

func TestCQueueMissingNodeType(t *testing.T) {
	fx := newFixture()
	f := lookup(t, fx.variable(t, "DS::CQueue<double>", queueAddr))
	_, err := children(t, f)
	var terr *proc.TypeParamError
	if !errors.As(err, &terr) {
		t.Fatalf("got %v (%T) want *proc.TypeParamError", err, err)
	}
	if terr.Name != "DS::CQNode<double>" {
		t.Errorf("name: got %q", terr.Name)
	}
	// the summary does not need the node type
	if s := summaryText(t, f); s != "[3]" {
		t.Errorf("summary: got %q want [3]", s)
	}
}

func TestList(t *testing.T) {
	fx := newFixture()
	for _, tc := range []struct {
		typename string
		addr     uint64
		summary  string
		children []child
	}{
		{"DS::List<int>", listAddr, "[2]", []child{{"[0]", 7}, {"[1]", 8}}},
		{"DS::List<int>", emptyListAddr, "[0]", nil},
		{"DS::List<long>", oldListAddr, "[1]", []child{{"[0]", 5}}},
	} {
		t.Run(fmt.Sprintf("%s@%#x", tc.typename, tc.addr), func(t *testing.T) {
			f := lookup(t, fx.variable(t, tc.typename, tc.addr))
			if s := summaryText(t, f); s != tc.summary {
				t.Errorf("summary: got %q want %q", s, tc.summary)
			}
			got, err := children(t, f)
			if err != nil {
				t.Fatal(err)
			}
			checkChildren(t, got, tc.children)
		})
	}
}

func TestListUnreadableNext(t *testing.T) {
	fx := newFixture()
	f := lookup(t, fx.variable(t, "DS::List<int>", badListAddr)).(printers.ChildrenFormatter)
	it, err := f.Children()
	if err != nil {
		t.Fatal(err)
	}
	var labels []string
	for it.Next() {
		labels = append(labels, it.Child().Label)
	}
	if len(labels) != 2 {
		t.Errorf("got children %v", labels)
	}
	if it.Err() == nil {
		t.Errorf("no error for a next pointer outside of memory")
	}
}

func TestVector(t *testing.T) {
	fx := newFixture()
	fx.mem.noReadStart, fx.mem.noReadEnd = 0x1288, 0x12a0
	f := lookup(t, fx.variable(t, "DS::Vector<int>", vectorAddr))
	if s := summaryText(t, f); s != "[2/5]" {
		t.Errorf("summary: got %q want [2/5]", s)
	}
	got, err := children(t, f)
	if err != nil {
		t.Fatal(err)
	}
	checkChildren(t, got, []child{{"[0]", 7}, {"[1]", 8}})
	if fx.mem.badReads != 0 {
		t.Errorf("%d reads past the end of the vector", fx.mem.badReads)
	}
}

func TestVectorUnreadableElement(t *testing.T) {
	fx := newFixture()
	fx.mem.noReadStart, fx.mem.noReadEnd = 0x1280, 0x1284
	f := lookup(t, fx.variable(t, "DS::Vector<int>", vectorAddr)).(printers.ChildrenFormatter)
	it, err := f.Children()
	if err != nil {
		t.Fatal(err)
	}
	var vals []*proc.Variable
	for it.Next() {
		vals = append(vals, it.Child().Value)
	}
	if len(vals) != 2 {
		t.Fatalf("got %d children want 2", len(vals))
	}
	if err := vals[0].Load(); err == nil {
		t.Errorf("first element is readable")
	}
	if n, err := vals[1].AsInt(); err != nil || n != 8 {
		t.Errorf("second element: got %d %v want 8", n, err)
	}
}

func TestHolder(t *testing.T) {
	fx := newFixture()
	f := lookup(t, fx.variable(t, "DS::Holder<int>", holderAddr))
	if _, ok := f.(printers.ChildrenFormatter); ok {
		t.Errorf("holder has children")
	}
	s, err := f.Summary()
	if err != nil {
		t.Fatal(err)
	}
	if s.Value == nil {
		t.Fatalf("no value in summary %#v", s)
	}
	if n, err := s.Value.AsInt(); err != nil || n != 42 {
		t.Errorf("got %d %v want 42", n, err)
	}
	if s.Value.Addr != holderAddr {
		t.Errorf("address: got %#x want %#x", s.Value.Addr, holderAddr)
	}
}

func TestIdempotent(t *testing.T) {
	fx := newFixture()
	for _, tc := range []struct {
		typename string
		addr     uint64
	}{
		{"DS::CQueue<int>", queueAddr},
		{"DS::List<int>", listAddr},
		{"DS::Vector<int>", vectorAddr},
	} {
		f := lookup(t, fx.variable(t, tc.typename, tc.addr))
		if s1, s2 := summaryText(t, f), summaryText(t, f); s1 != s2 {
			t.Errorf("%s: summaries differ %q %q", tc.typename, s1, s2)
		}
		first, err := children(t, f)
		if err != nil {
			t.Fatal(err)
		}
		second, err := children(t, f)
		if err != nil {
			t.Fatal(err)
		}
		checkChildren(t, second, first)
	}
}

func TestTypedefDispatch(t *testing.T) {
	fx := newFixture()
	list, _ := fx.catalog.LookupType("DS::List<int>")
	typedef := &godwarf.TypedefType{CommonType: godwarf.CommonType{Name: "IntList", ByteSize: 16}, Type: list}
	cv := &godwarf.QualType{Qual: "const", Type: typedef}
	v := proc.NewVariable("l", listAddr, cv, fx.catalog, fx.mem)
	if got := summaryText(t, lookup(t, v)); got != "[2]" {
		t.Errorf("got %q want [2]", got)
	}
}
