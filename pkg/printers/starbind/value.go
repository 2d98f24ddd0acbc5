package starbind

import (
	"fmt"
	"sort"
	"strconv"

	"go.starlark.net/starlark"

	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
	"github.com/dsprint/dsprint/pkg/printers"
	"github.com/dsprint/dsprint/pkg/proc"
)

const defaultStringLen = 256

// Value is a target value seen from Starlark.
type Value struct {
	v *proc.Variable
}

// NewValue wraps v for use by scripts.
func NewValue(v *proc.Variable) *Value {
	return &Value{v: v}
}

// Variable returns the wrapped variable.
func (v *Value) Variable() *proc.Variable { return v.v }

var _ starlark.HasAttrs = &Value{}

func (v *Value) String() string {
	return fmt.Sprintf("<%s @%#x>", v.v.TypeString(), v.v.Addr)
}

func (v *Value) Type() string         { return "value" }
func (v *Value) Freeze()              {}
func (v *Value) Truth() starlark.Bool { return v.v.Unreadable == nil }

func (v *Value) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: value")
}

type valueMethod func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

func (v *Value) methods() map[string]valueMethod {
	return map[string]valueMethod{
		"field":        v.field,
		"deref":        v.deref,
		"cast":         v.cast,
		"template_arg": v.templateArg,
		"int":          v.asInt,
		"uint":         v.asUint,
		"string":       v.readString,
		"is_nil":       v.isNil,
		"advance":      v.advance,
		"fields":       v.fields,
	}
}

// Attr implements starlark.HasAttrs.
func (v *Value) Attr(name string) (starlark.Value, error) {
	switch name {
	case "addr":
		return starlark.MakeUint64(v.v.Addr), nil
	case "type":
		return starlark.String(v.v.TypeName()), nil
	case "name":
		return starlark.String(v.v.Name), nil
	case "error":
		if v.v.Unreadable == nil {
			return starlark.None, nil
		}
		return starlark.String(v.v.Unreadable.Error()), nil
	}
	if m, ok := v.methods()[name]; ok {
		return starlark.NewBuiltin(name, m).BindReceiver(v), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (v *Value) AttrNames() []string {
	names := []string{"addr", "type", "name", "error"}
	for name := range v.methods() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v *Value) field(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	f, err := v.v.Field(name)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return &Value{v: f}, nil
}

func (v *Value) fields(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	fields, err := v.v.Fields()
	if err != nil {
		return nil, decorateError(thread, err)
	}
	r := make([]starlark.Value, len(fields))
	for i := range fields {
		r[i] = &Value{v: fields[i]}
	}
	return starlark.NewList(r), nil
}

func (v *Value) deref(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return &Value{v: v.v.Deref()}, nil
}

// cast reinterprets the value as the named type. Casting to a pointer type
// converts a pointer or an integer into a pointer.
func (v *Value) cast(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var typename string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &typename); err != nil {
		return nil, err
	}
	typ, err := v.v.LookupType(typename)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	if pt, ok := pointerType(typ); ok {
		p, err := v.v.AsPointer(pt)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return &Value{v: p}, nil
	}
	return &Value{v: v.v.Reinterpret(typ)}, nil
}

func pointerType(typ godwarf.Type) (godwarf.Type, bool) {
	pt, ok := godwarf.ResolveTypedef(typ).(*godwarf.PtrType)
	if !ok || pt.Reference {
		return nil, false
	}
	return pt.Type, true
}

func (v *Value) templateArg(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var i int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &i); err != nil {
		return nil, err
	}
	arg, err := v.v.TemplateArg(i)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.String(arg), nil
}

func (v *Value) asInt(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	n, err := v.v.AsInt()
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.MakeInt64(n), nil
}

func (v *Value) asUint(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	n, err := v.v.AsUint()
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.MakeUint64(n), nil
}

func (v *Value) readString(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	max := defaultStringLen
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &max); err != nil {
		return nil, err
	}
	s, err := v.v.ReadString(max)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.String(s), nil
}

func (v *Value) isNil(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.Bool(v.v.IsNil()), nil
}

func (v *Value) advance(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var n int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &n); err != nil {
		return nil, err
	}
	return &Value{v: v.v.Advance(int64(n))}, nil
}

// scriptFormatter is a formatter implemented by Starlark functions.
type scriptFormatter struct {
	env      *Env
	summary  starlark.Callable
	children starlark.Callable
	hint     printers.DisplayHint
}

func (sf *scriptFormatter) factory(v *proc.Variable) printers.Formatter {
	if sf.children == nil {
		return &scriptValue{sf: sf, v: v}
	}
	return &scriptChildrenValue{scriptValue{sf: sf, v: v}}
}

type scriptValue struct {
	sf *scriptFormatter
	v  *proc.Variable
}

func (f *scriptValue) call(fn starlark.Callable) (starlark.Value, error) {
	return starlark.Call(f.sf.env.newThread(), fn, starlark.Tuple{&Value{v: f.v}}, nil)
}

func (f *scriptValue) Summary() (printers.Summary, error) {
	if f.sf.summary == nil {
		return printers.Summary{}, nil
	}
	r, err := f.call(f.sf.summary)
	if err != nil {
		return printers.Summary{}, err
	}
	switch r := r.(type) {
	case starlark.String:
		return printers.Summary{Text: string(r)}, nil
	case *Value:
		return printers.Summary{Value: r.v}, nil
	case starlark.NoneType:
		return printers.Summary{}, nil
	}
	return printers.Summary{Text: r.String()}, nil
}

func (f *scriptValue) DisplayHint() printers.DisplayHint { return f.sf.hint }

type scriptChildrenValue struct {
	scriptValue
}

// Children calls the children function of the script, the result is
// converted eagerly.
func (f *scriptChildrenValue) Children() (printers.Iterator, error) {
	r, err := f.call(f.sf.children)
	if err != nil {
		return nil, err
	}
	iter := starlark.Iterate(r)
	if iter == nil {
		return nil, fmt.Errorf("children of %s returned a %s, not a sequence", f.v.TypeName(), r.Type())
	}
	defer iter.Done()
	var children []printers.Child
	var x starlark.Value
	for i := 0; iter.Next(&x); i++ {
		c, err := toChild(x, i)
		if err != nil {
			return nil, fmt.Errorf("children of %s: %v", f.v.TypeName(), err)
		}
		children = append(children, c)
	}
	return printers.SliceIterator(children), nil
}

func toChild(x starlark.Value, i int) (printers.Child, error) {
	label := "[" + strconv.Itoa(i) + "]"
	if t, ok := x.(starlark.Tuple); ok {
		if len(t) != 2 {
			return printers.Child{}, fmt.Errorf("element %d is a tuple of %d elements, not a (label, value) pair", i, len(t))
		}
		s, ok := starlark.AsString(t[0])
		if !ok {
			s = t[0].String()
		}
		label, x = s, t[1]
	}
	v, ok := x.(*Value)
	if !ok {
		return printers.Child{}, fmt.Errorf("element %d is a %s, not a value", i, x.Type())
	}
	return printers.Child{Label: label, Value: v.v}, nil
}
