package terminal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/dsprint/dsprint/pkg/config"
	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
	"github.com/dsprint/dsprint/pkg/elfwriter"
	"github.com/dsprint/dsprint/pkg/printers"
	"github.com/dsprint/dsprint/pkg/proc"
)

type fakeMemory struct {
	base uint64
	data []byte
}

func (m *fakeMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < m.base || addr+uint64(len(buf)) > m.base+uint64(len(m.data)) {
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

type fakeGlobal struct {
	addr uint64
	typ  string
}

// fakeTarget implements Target over a TypeMap and a byte slice.
type fakeTarget struct {
	catalog  *proc.TypeMap
	mem      *fakeMemory
	globals  map[string]fakeGlobal
	halts    int
	resumes  int
	dumped   bool
	detached bool
}

func (ft *fakeTarget) EvalExpression(expr string) (*proc.Variable, error) {
	g, ok := ft.globals[expr]
	if !ok {
		return nil, fmt.Errorf("could not find symbol value for %s", expr)
	}
	typ, err := ft.catalog.LookupType(g.typ)
	if err != nil {
		return nil, err
	}
	return proc.NewVariable(expr, g.addr, typ, ft.catalog, ft.mem), nil
}

func (ft *fakeTarget) LookupType(name string) (godwarf.Type, error) {
	return ft.catalog.LookupType(name)
}

func (ft *fakeTarget) TypeNames() []string { return ft.catalog.TypeNames() }

func (ft *fakeTarget) GlobalNames() []string {
	var r []string
	for name := range ft.globals {
		r = append(r, name)
	}
	return r
}

func (ft *fakeTarget) Halt() error   { ft.halts++; return nil }
func (ft *fakeTarget) Resume() error { ft.resumes++; return nil }

func (ft *fakeTarget) Dump(out elfwriter.WriteCloserSeeker) error {
	ft.dumped = true
	_, err := out.Write([]byte("\x7fELF"))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func (ft *fakeTarget) Recorded() bool { return false }
func (ft *fakeTarget) Pid() int       { return 1 }
func (ft *fakeTarget) Detach() error  { ft.detached = true; return nil }

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

// newFakeTarget returns a target with the globals:
//
//	gVec    DS::Vector<int>  {10, 20, 30}, capacity 4
//	gLarge  DS::Vector<int>  {1, 2, 3, 4, 5}
//	gHolder DS::Holder<int>  42
//	gPoint  Point            {1, 2}
//	gColor  Color            Green
//	gBad    DS::Vector<int>  at an unreadable address
func newFakeTarget() *fakeTarget {
	catalog := proc.NewTypeMap(8)
	intT, _ := catalog.LookupType("int")
	u64, _ := catalog.LookupType("unsigned long")

	container := class("DS::Container", 8, field("mSize", u64, 0))
	vector := class("DS::Vector<int>", 24,
		&godwarf.StructField{Name: "DS::Container", Type: container, Inherited: true},
		field("mHead", godwarf.FakePointerType(intT, 8), 8),
		field("mCapacity", u64, 16))
	holder := class("DS::Holder<int>", 4)
	point := class("Point", 8, field("x", intT, 0), field("y", intT, 4))
	color := &godwarf.EnumType{
		CommonType: godwarf.CommonType{ByteSize: 4, Name: "Color"},
		EnumName:   "Color",
		Val:        []*godwarf.EnumValue{{Name: "Red", Val: 0}, {Name: "Green", Val: 1}},
	}
	for _, typ := range []godwarf.Type{container, vector, holder, point, color} {
		catalog.Add(typ)
	}

	mem := &fakeMemory{base: 0x1000, data: make([]byte, 0x200)}
	mem.put64(0x1000, 3)
	mem.put64(0x1008, 0x1100)
	mem.put64(0x1010, 4)
	for i, n := range []uint32{10, 20, 30} {
		mem.put32(0x1100+uint64(i)*4, n)
	}
	mem.put32(0x1020, 42)
	mem.put32(0x1030, 1)
	mem.put32(0x1034, 2)
	mem.put32(0x1040, 1)
	mem.put64(0x1050, 5)
	mem.put64(0x1058, 0x1120)
	mem.put64(0x1060, 5)
	for i := 0; i < 5; i++ {
		mem.put32(0x1120+uint64(i)*4, uint32(i+1))
	}

	return &fakeTarget{
		catalog: catalog,
		mem:     mem,
		globals: map[string]fakeGlobal{
			"gVec":    {0x1000, "DS::Vector<int>"},
			"gHolder": {0x1020, "DS::Holder<int>"},
			"gPoint":  {0x1030, "Point"},
			"gColor":  {0x1040, "Color"},
			"gLarge":  {0x1050, "DS::Vector<int>"},
			"gBad":    {0x9000, "DS::Vector<int>"},
		},
	}
}

func newTestTerm(conf *config.Config) (*Term, *fakeTarget, *bytes.Buffer) {
	ft := newFakeTarget()
	if conf == nil {
		conf = &config.Config{}
	}
	term := New(ft, printers.Default(), conf)
	var buf bytes.Buffer
	term.stdout = &transcriptWriter{pw: &pagingWriter{w: &buf}}
	term.starlarkEnv.Redirect(term.stdout)
	term.color = false
	return term, ft, &buf
}

func run(t *testing.T, term *Term, out *bytes.Buffer, cmdstr string) string {
	t.Helper()
	out.Reset()
	if err := term.cmds.Call(cmdstr, term); err != nil {
		t.Fatalf("%s: %v", cmdstr, err)
	}
	return out.String()
}

func intp(n int) *int { return &n }

func TestPrint(t *testing.T) {
	term, ft, out := newTestTerm(nil)
	for _, tc := range []struct {
		cmd, want string
	}{
		{"print gVec", "DS::Vector<int> [3/4] {10, 20, 30}\n"},
		{"p gHolder", "DS::Holder<int> 42\n"},
		{"print gPoint", "Point {x: 1, y: 2}\n"},
		{"print gColor", "Green\n"},
	} {
		if got := run(t, term, out, tc.cmd); got != tc.want {
			t.Errorf("%s: got %q want %q", tc.cmd, got, tc.want)
		}
	}
	if ft.halts != 4 || ft.resumes != 4 {
		t.Errorf("got %d halts and %d resumes, want 4", ft.halts, ft.resumes)
	}
}

func TestPrintUnreadable(t *testing.T) {
	term, _, out := newTestTerm(nil)
	got := run(t, term, out, "print gBad")
	if !strings.HasPrefix(got, "(unreadable ") {
		t.Errorf("got %q", got)
	}
	// other values are not affected
	if got := run(t, term, out, "print gHolder"); got != "DS::Holder<int> 42\n" {
		t.Errorf("got %q", got)
	}
	if err := term.cmds.Call("print gMissing", term); err == nil {
		t.Errorf("no error for unknown symbol")
	}
}

func TestPrintLimits(t *testing.T) {
	term, _, out := newTestTerm(&config.Config{MaxArrayValues: intp(3)})
	if got, want := run(t, term, out, "print gLarge"), "DS::Vector<int> [5/5] {1, 2, 3, ...}\n"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
	run(t, term, out, "config max-array-values 0")
	if got, want := run(t, term, out, "print gLarge"), "DS::Vector<int> [5/5] {1, ...}\n"; got != want {
		t.Errorf("max-array-values 0: got %q want %q", got, want)
	}
	run(t, term, out, "config max-variable-recurse 0")
	if got, want := run(t, term, out, "print gVec"), "DS::Vector<int> [3/4] {...}\n"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestPrintRaw(t *testing.T) {
	term, _, out := newTestTerm(nil)
	got := run(t, term, out, "print -raw gVec")
	for _, want := range []string{"mSize: 3", "mCapacity: 4", "DS::Container"} {
		if !strings.Contains(got, want) {
			t.Errorf("%q does not contain %q", got, want)
		}
	}
	if strings.Contains(got, "gVec.") {
		t.Errorf("member labels carry the parent name: %q", got)
	}
	if err := term.cmds.Call("print -bogus gVec", term); err == nil {
		t.Errorf("unknown flag accepted")
	}
}

func TestPrintJSON(t *testing.T) {
	term, _, out := newTestTerm(nil)
	got := run(t, term, out, "print -json gVec")
	if !gjson.Valid(got) {
		t.Fatalf("invalid JSON %q", got)
	}
	for _, tc := range []struct {
		path, want string
	}{
		{"name", "gVec"},
		{"summary", "[3/4]"},
		{"hint", "array"},
		{"children.#", "3"},
		{"children.1.label", "[1]"},
		{"children.1.value", "20"},
	} {
		if r := gjson.Get(got, tc.path); r.String() != tc.want {
			t.Errorf("%s: got %q want %q", tc.path, r.String(), tc.want)
		}
	}

	got = run(t, term, out, "print -json gHolder")
	if r := gjson.Get(got, "summary.value"); r.String() != "42" {
		t.Errorf("holder summary: got %q in %s", r.String(), got)
	}
	got = run(t, term, out, "print -json gPoint")
	if r := gjson.Get(got, "children.#.label"); r.String() != `["x","y"]` {
		t.Errorf("point labels: got %s", r.String())
	}
	got = run(t, term, out, "print -json gBad")
	if !gjson.Get(got, "unreadable").Exists() {
		t.Errorf("unreadable value without error: %s", got)
	}
}

func TestWhatis(t *testing.T) {
	term, _, out := newTestTerm(nil)
	got := run(t, term, out, "whatis gVec")
	if !strings.HasPrefix(got, "DS::Vector<int>\n") || !strings.Contains(got, "Printer: DS;Vector<T>") {
		t.Errorf("got %q", got)
	}
	if got := run(t, term, out, "whatis gPoint"); strings.Contains(got, "Printer") {
		t.Errorf("got %q", got)
	}
}

func TestEnableDisablePrinter(t *testing.T) {
	term, _, out := newTestTerm(nil)
	if got := run(t, term, out, "disable printer DS Vector<T>"); got != "1 printer disabled\n" {
		t.Errorf("got %q", got)
	}
	if got := run(t, term, out, "print gVec"); !strings.Contains(got, "mCapacity: 4") {
		t.Errorf("disabled printer used: %q", got)
	}
	got := run(t, term, out, "info printers")
	if !strings.Contains(got, "Vector<T> [disabled]") || strings.Contains(got, "CQueue<T> [disabled]") {
		t.Errorf("info printers: %q", got)
	}
	if got := run(t, term, out, "enable printer DS .*"); got != "1 printer enabled\n" {
		t.Errorf("got %q", got)
	}
	if got := run(t, term, out, "print gVec"); !strings.HasPrefix(got, "DS::Vector<int> [3/4]") {
		t.Errorf("got %q", got)
	}
	for _, cmd := range []string{"enable", "disable pretty DS", "enable printer DS ("} {
		if err := term.cmds.Call(cmd, term); err == nil {
			t.Errorf("%s: no error", cmd)
		}
	}
}

func TestDisabledPrintersConfig(t *testing.T) {
	term, _, out := newTestTerm(&config.Config{DisabledPrinters: []string{"DS;Holder<T>"}})
	if err := term.ApplyDisabledPrinters(); err != nil {
		t.Fatal(err)
	}
	if got := run(t, term, out, "print gHolder"); strings.Contains(got, "42") {
		t.Errorf("disabled printer used: %q", got)
	}
	if got := run(t, term, out, "print gVec"); !strings.HasPrefix(got, "DS::Vector<int> [3/4]") {
		t.Errorf("got %q", got)
	}
}

func TestSourceStarlark(t *testing.T) {
	term, _, out := newTestTerm(nil)
	dir := t.TempDir()
	path := filepath.Join(dir, "point.star")
	script := `
def point_summary(v):
    return "(%d, %d)" % (v.field("x").int(), v.field("y").int())

register("mine", "Point", "^Point$", summary=point_summary)
`
	if err := ioutil.WriteFile(path, []byte(script), 0600); err != nil {
		t.Fatal(err)
	}
	run(t, term, out, "source "+path)
	if got := run(t, term, out, "print gPoint"); got != "Point (1, 2)\n" {
		t.Errorf("got %q", got)
	}
	if got := run(t, term, out, "info printers mine"); got != "mine\n  Point\t^Point$\n" {
		t.Errorf("got %q", got)
	}
}

func TestSourceCommands(t *testing.T) {
	term, _, out := newTestTerm(nil)
	path := filepath.Join(t.TempDir(), "cmds")
	if err := ioutil.WriteFile(path, []byte("# comment\nprint gColor\nbogus\nprint gHolder\n"), 0600); err != nil {
		t.Fatal(err)
	}
	got := run(t, term, out, "source "+path)
	want := "Green\n" + path + ":3: command not available\nDS::Holder<int> 42\n"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestConfigSetAndShow(t *testing.T) {
	term, _, out := newTestTerm(nil)
	if got := run(t, term, out, "config max-array-values"); got != "max-array-values\t<not defined>\n" {
		t.Errorf("got %q", got)
	}
	run(t, term, out, "config max-array-values 2")
	if got := run(t, term, out, "config max-array-values"); got != "max-array-values\t2\n" {
		t.Errorf("got %q", got)
	}
	run(t, term, out, "config stop-target true")
	if !term.conf.StopTarget {
		t.Errorf("stop-target not set")
	}
	run(t, term, out, `config scripts a.star "b c.star"`)
	if got := run(t, term, out, "config scripts"); got != "scripts\t[\"a.star\" \"b c.star\"]\n" {
		t.Errorf("got %q", got)
	}
	for _, bad := range []string{"config max-array-values -1", "config stop-target maybe", "config alias"} {
		if err := term.cmds.Call(bad, term); err == nil {
			t.Errorf("%s: no error", bad)
		}
	}
	run(t, term, out, "config scripts -clear")
	if len(term.conf.Scripts) != 0 {
		t.Errorf("scripts not cleared: %q", term.conf.Scripts)
	}

	listed := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(run(t, term, out, "config -list")), "\n") {
		fields := strings.Fields(line)
		listed[fields[0]] = strings.Join(fields[1:], " ")
	}
	for name, want := range map[string]string{"max-array-values": "2", "stop-target": "true", "color": "<not defined>", "scripts": "[]"} {
		if listed[name] != want {
			t.Errorf("%s: got %q want %q", name, listed[name], want)
		}
	}
}

func TestConfigAlias(t *testing.T) {
	term, _, out := newTestTerm(nil)
	run(t, term, out, "config alias print pp")
	if got := run(t, term, out, "pp gColor"); got != "Green\n" {
		t.Errorf("got %q", got)
	}
	run(t, term, out, "config alias pp")
	if err := term.cmds.Call("pp gColor", term); err != errNoCmd {
		t.Errorf("alias not removed: %v", err)
	}
	if err := term.cmds.Call("config nothing 1", term); err == nil {
		t.Errorf("unknown parameter accepted")
	}
	run(t, term, out, "config disabled-printers DS")
	if got := run(t, term, out, "print gColor"); got != "Green\n" {
		t.Errorf("got %q", got)
	}
	if got := run(t, term, out, "info printers"); got != "DS [disabled]\n"+infoDSEntries {
		t.Errorf("got %q", got)
	}
}

const infoDSEntries = "  CQueue<T>\t^DS::CQueue<.*>$\n  Holder<T>\t^DS::Holder<.*>$\n  List<T>\t^DS::List<.*>$\n  Vector<T>\t^DS::Vector<.*>$\n"

func TestTypesAndGlobals(t *testing.T) {
	term, _, out := newTestTerm(nil)
	if got := run(t, term, out, "types ^DS::"); got != "DS::Container\nDS::Holder<int>\nDS::Vector<int>\n" {
		t.Errorf("got %q", got)
	}
	if got := run(t, term, out, "globals ^gV"); got != "gVec\n" {
		t.Errorf("got %q", got)
	}
}

func TestDump(t *testing.T) {
	term, ft, out := newTestTerm(nil)
	path := filepath.Join(t.TempDir(), "core")
	got := run(t, term, out, "dump "+path)
	if !ft.dumped || got != "Core dump written to "+path+"\n" {
		t.Errorf("got %q", got)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error(err)
	}
}

func TestTranscript(t *testing.T) {
	term, _, out := newTestTerm(nil)
	path := filepath.Join(t.TempDir(), "transcript")
	run(t, term, out, "transcript -x "+path)
	if got := run(t, term, out, "print gColor"); got != "" {
		t.Errorf("output not suppressed: %q", got)
	}
	run(t, term, out, "transcript -off")
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "Green\n" {
		t.Errorf("got %q", buf)
	}
}

func TestPagingWriter(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	var term, paged bytes.Buffer
	w := &pagingWriter{w: &term, pager: []string{"cat"}, pagerOut: &paged, mode: pagingWriterMaybe, lines: 3, columns: 80}
	fmt.Fprint(w, "one\ntwo\n")
	if w.mode != pagingWriterMaybe {
		t.Fatalf("pager started for short output")
	}
	fmt.Fprint(w, "three\nfour\nfive\n")
	w.Reset()
	if got := term.String(); got != "one\ntwo\nSending output to pager...\n" {
		t.Errorf("terminal: got %q", got)
	}
	if got := paged.String(); got != "one\ntwo\nthree\nfour\nfive\n" {
		t.Errorf("pager: got %q", got)
	}

	term.Reset()
	w.PageMaybe(nil)
	if w.mode != pagingWriterNormal {
		t.Errorf("paging enabled on a writer that is not a terminal")
	}
	fmt.Fprint(w, "six\n")
	if term.String() != "six\n" {
		t.Errorf("got %q", term.String())
	}
}

func TestExitAndUnknown(t *testing.T) {
	term, _, _ := newTestTerm(nil)
	if err := term.cmds.Call("exit", term); err != (ExitRequestError{}) {
		t.Errorf("got %v", err)
	}
	if err := term.cmds.Call("frobnicate", term); err != errNoCmd {
		t.Errorf("got %v", err)
	}
	if err := term.cmds.Call("", term); err != nil {
		t.Errorf("got %v", err)
	}
	if err := term.RunCommands([]string{"print gColor", "exit", "frobnicate"}); err != nil {
		t.Errorf("commands after exit executed: %v", err)
	}
	if err := term.RunCommands([]string{"frobnicate"}); err == nil {
		t.Errorf("no error")
	}
}

func TestComplete(t *testing.T) {
	term, _, _ := newTestTerm(nil)
	contains := func(c []string, s string) bool {
		for _, x := range c {
			if x == s {
				return true
			}
		}
		return false
	}
	if c := term.complete("pr"); !contains(c, "print") {
		t.Errorf("got %v", c)
	}
	if c := term.complete("print gV"); !contains(c, "print gVec") {
		t.Errorf("got %v", c)
	}
	if c := term.complete("whatis DS::Vec"); !contains(c, "whatis DS::Vector<int>") {
		t.Errorf("got %v", c)
	}
}

func TestMerge(t *testing.T) {
	hasAlias := func(cmds *Commands, alias string) bool {
		for _, cmd := range cmds.cmds {
			if cmd.match(alias) {
				return true
			}
		}
		return false
	}
	cmds := DebugCommands()
	cmds.Merge(map[string][]string{"print": {"show"}})
	if !hasAlias(cmds, "show") || !hasAlias(cmds, "p") {
		t.Errorf("alias not added")
	}
	// each merge replaces the aliases of the previous one
	cmds.Merge(map[string][]string{"whatis": {"ptype"}})
	if hasAlias(cmds, "show") || !hasAlias(cmds, "ptype") || !hasAlias(cmds, "p") {
		t.Errorf("aliases not replaced")
	}
}
