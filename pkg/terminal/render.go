package terminal

import (
	"bytes"
	"fmt"
	"go/constant"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
	"github.com/dsprint/dsprint/pkg/printers"
	"github.com/dsprint/dsprint/pkg/proc"
)

const (
	// strings longer than this will cause containers and structs to be printed on multiple lines when newlines is enabled
	maxShortStringLen = 7
	// string used for one indentation level (when printing on multiple lines)
	indentString = "\t"
	// maximum number of characters read from char pointers and arrays
	maxStringLen = 64
)

// renderer formats values of the target. Values matched by a formatter of
// reg are shown through it, everything else is shown field by field.
type renderer struct {
	reg        *printers.Registry
	maxArray   int
	maxRecurse int
}

// SinglelineString returns a representation of v on a single line.
func (r *renderer) SinglelineString(v *proc.Variable) string {
	var buf bytes.Buffer
	r.writeTo(&buf, v, true, false, true, "", 0)
	return buf.String()
}

// MultilineString returns a representation of v on multiple lines.
func (r *renderer) MultilineString(v *proc.Variable, indent string) string {
	var buf bytes.Buffer
	r.writeTo(&buf, v, true, true, true, indent, 0)
	return buf.String()
}

func (r *renderer) writeTo(buf io.Writer, v *proc.Variable, top, newlines, includeType bool, indent string, depth int) {
	if v.Unreadable != nil {
		fmt.Fprintf(buf, "(unreadable %v)", v.Unreadable)
		return
	}

	if f := r.reg.Lookup(v); f != nil {
		r.writeFormattedTo(buf, v, f, newlines, includeType, indent, depth)
		return
	}

	switch v.Kind {
	case reflect.Struct:
		r.writeStructTo(buf, v, newlines, includeType, indent, depth)
	case reflect.Array:
		r.writeArrayTo(buf, v, newlines, includeType, indent, depth)
	case reflect.Ptr:
		if pt, ok := v.RealType.(*godwarf.PtrType); ok && pt.Reference {
			r.writeTo(buf, v.Deref(), top, newlines, includeType, indent, depth)
			return
		}
		r.writePointerTo(buf, v, top, newlines, includeType, indent, depth)
	case reflect.UnsafePointer:
		if v.Base == 0 {
			fmt.Fprint(buf, "nullptr")
		} else {
			fmt.Fprintf(buf, "(%s)(%#x)", v.TypeString(), v.Base)
		}
	case reflect.Func:
		fmt.Fprintf(buf, "(%s)(%#x)", v.TypeString(), v.Addr)
	default:
		writeScalarTo(buf, v)
	}
}

// writeFormattedTo writes the summary of v followed by its children.
func (r *renderer) writeFormattedTo(buf io.Writer, v *proc.Variable, f printers.Formatter, newlines, includeType bool, indent string, depth int) {
	s, err := f.Summary()
	if err != nil {
		fmt.Fprintf(buf, "(unreadable %v)", err)
		return
	}
	if includeType {
		fmt.Fprintf(buf, "%s ", v.TypeString())
	}
	switch {
	case s.Value != nil:
		r.writeTo(buf, s.Value, false, newlines, false, indent, depth+1)
	case s.Text != "":
		fmt.Fprint(buf, s.Text)
	}

	cf, ok := f.(printers.ChildrenFormatter)
	if !ok {
		return
	}
	if s.Value != nil || s.Text != "" {
		fmt.Fprint(buf, " ")
	}
	if depth >= r.maxRecurse {
		fmt.Fprint(buf, "{...}")
		return
	}
	it, err := cf.Children()
	if err != nil {
		fmt.Fprintf(buf, "{(unreadable %v)}", err)
		return
	}
	children, more, err := r.collect(it, newlines, indent, depth)
	if err != nil {
		children = append(children, renderedChild{value: fmt.Sprintf("(unreadable %v)", err)})
	}
	writeChildrenTo(buf, children, f.DisplayHint(), more, newlines, indent)
}

type renderedChild struct {
	label string
	value string
}

// collect renders at most maxArray children of it.
func (r *renderer) collect(it printers.Iterator, newlines bool, indent string, depth int) (children []renderedChild, more bool, err error) {
	for len(children) < r.maxArray && it.Next() {
		c := it.Child()
		var buf bytes.Buffer
		r.writeTo(&buf, c.Value, false, newlines, true, indent+indentString, depth+1)
		children = append(children, renderedChild{label: c.Label, value: buf.String()})
	}
	if len(children) >= r.maxArray && it.Next() {
		more = true
	}
	return children, more, it.Err()
}

func writeChildrenTo(buf io.Writer, children []renderedChild, hint printers.DisplayHint, more, newlines bool, indent string) {
	nl := shouldNewline(children, newlines)
	fmt.Fprint(buf, "{")
	n := len(children)
	if more {
		n++
	}
	for i := 0; i < n; i++ {
		if nl {
			fmt.Fprintf(buf, "\n%s%s", indent, indentString)
		}
		if i == len(children) {
			fmt.Fprint(buf, "...")
		} else {
			switch c := children[i]; hint {
			case printers.HintArray, printers.HintString:
				fmt.Fprint(buf, c.value)
			case printers.HintMap:
				// even children are keys, odd children their values
				if i%2 == 0 {
					fmt.Fprint(buf, c.value)
					if i+1 < len(children) {
						fmt.Fprint(buf, ": ")
						i++
						fmt.Fprint(buf, children[i].value)
					}
				} else {
					fmt.Fprint(buf, c.value)
				}
			default:
				fmt.Fprintf(buf, "%s: %s", c.label, c.value)
			}
		}
		if i != n-1 || nl {
			fmt.Fprint(buf, ",")
			if !nl {
				fmt.Fprint(buf, " ")
			}
		}
	}
	if nl {
		fmt.Fprintf(buf, "\n%s", indent)
	}
	fmt.Fprint(buf, "}")
}

func shouldNewline(children []renderedChild, newlines bool) bool {
	if !newlines {
		return false
	}
	for _, c := range children {
		if len(c.value) > maxShortStringLen || strings.Contains(c.value, "\n") {
			return true
		}
	}
	return false
}

func (r *renderer) writeStructTo(buf io.Writer, v *proc.Variable, newlines, includeType bool, indent string, depth int) {
	if includeType {
		fmt.Fprintf(buf, "%s ", v.TypeString())
	}
	if depth >= r.maxRecurse {
		fmt.Fprint(buf, "{...}")
		return
	}
	fields, err := v.Fields()
	if err != nil {
		fmt.Fprintf(buf, "(unreadable %v)", err)
		return
	}
	children := make([]renderedChild, 0, len(fields))
	for _, fv := range fields {
		var fbuf bytes.Buffer
		r.writeTo(&fbuf, fv, false, newlines, true, indent+indentString, depth+1)
		name := fv.Name
		if name == "" {
			name = "<anonymous>"
		}
		children = append(children, renderedChild{label: name, value: fbuf.String()})
	}
	writeChildrenTo(buf, children, printers.HintNone, false, newlines, indent)
}

func (r *renderer) writeArrayTo(buf io.Writer, v *proc.Variable, newlines, includeType bool, indent string, depth int) {
	if includeType {
		fmt.Fprintf(buf, "%s ", v.TypeString())
	}
	if s, err := v.ReadString(maxStringLen); err == nil {
		fmt.Fprintf(buf, "%q", s)
		return
	}
	if depth >= r.maxRecurse {
		fmt.Fprint(buf, "{...}")
		return
	}
	children, more, err := r.collect(&arrayIterator{v: v, len: v.Len}, newlines, indent, depth)
	if err != nil {
		children = append(children, renderedChild{value: fmt.Sprintf("(unreadable %v)", err)})
	}
	writeChildrenTo(buf, children, printers.HintArray, more, newlines, indent)
}

// arrayIterator iterates over the elements of an array value.
type arrayIterator struct {
	v     *proc.Variable
	len   int64
	index int64
	child printers.Child
	err   error
}

func (it *arrayIterator) Next() bool {
	if it.err != nil || it.index >= it.len {
		return false
	}
	elem, err := it.v.Index(it.index)
	if err != nil {
		it.err = err
		return false
	}
	it.child = printers.Child{Label: "[" + strconv.FormatInt(it.index, 10) + "]", Value: elem}
	it.index++
	return true
}

func (it *arrayIterator) Child() printers.Child { return it.child }
func (it *arrayIterator) Err() error            { return it.err }

func (r *renderer) writePointerTo(buf io.Writer, v *proc.Variable, top, newlines, includeType bool, indent string, depth int) {
	if v.Base == 0 {
		fmt.Fprint(buf, "nullptr")
		return
	}
	if s, err := v.ReadString(maxStringLen); err == nil {
		fmt.Fprintf(buf, "(%s)(%#x) %q", v.TypeString(), v.Base, s)
		return
	}
	if top && depth < r.maxRecurse {
		fmt.Fprint(buf, "*")
		r.writeTo(buf, v.Deref(), false, newlines, includeType, indent, depth+1)
		return
	}
	fmt.Fprintf(buf, "(%s)(%#x)", v.TypeString(), v.Base)
}

func writeScalarTo(buf io.Writer, v *proc.Variable) {
	if err := v.Load(); err != nil {
		fmt.Fprintf(buf, "(unreadable %v)", err)
		return
	}
	if v.Value == nil {
		fmt.Fprintf(buf, "(unknown %s)", v.Kind)
		return
	}
	switch t := v.RealType.(type) {
	case *godwarf.EnumType:
		n, _ := constant.Int64Val(v.Value)
		for _, ev := range t.Val {
			if ev.Val == n {
				fmt.Fprint(buf, ev.Name)
				return
			}
		}
		fmt.Fprintf(buf, "%s(%d)", t.EnumName, n)
		return
	case *godwarf.CharType, *godwarf.UcharType:
		n, _ := constant.Int64Val(v.Value)
		if n >= 0x20 && n < 0x7f {
			fmt.Fprintf(buf, "%d %q", n, rune(n))
		} else {
			fmt.Fprintf(buf, "%d", n)
		}
		return
	}
	switch v.Value.Kind() {
	case constant.Float:
		f, _ := constant.Float64Val(v.Value)
		fmt.Fprint(buf, strconv.FormatFloat(f, 'g', -1, 64))
	default:
		fmt.Fprint(buf, v.Value.ExactString())
	}
}

// jsonBuilder accumulates a JSON document, the first error is kept.
type jsonBuilder struct {
	buf []byte
	err error
}

func newJSONBuilder() *jsonBuilder {
	return &jsonBuilder{buf: []byte("{}")}
}

func (b *jsonBuilder) set(path string, value interface{}) {
	if b.err != nil {
		return
	}
	b.buf, b.err = sjson.SetBytes(b.buf, path, value)
}

func (b *jsonBuilder) setRaw(path string, value []byte) {
	if b.err != nil {
		return
	}
	b.buf, b.err = sjson.SetRawBytes(b.buf, path, value)
}

// JSON returns a JSON object describing v. Containers list their children
// under "children", each child carries its label.
func (r *renderer) JSON(v *proc.Variable) ([]byte, error) {
	b := r.jsonOf(v, "", 0)
	return b.buf, b.err
}

func (r *renderer) jsonOf(v *proc.Variable, label string, depth int) *jsonBuilder {
	b := newJSONBuilder()
	if label != "" {
		b.set("label", label)
	}
	b.set("name", v.Name)
	b.set("type", v.TypeString())
	b.set("addr", v.Addr)
	if v.Unreadable != nil {
		b.set("unreadable", v.Unreadable.Error())
		return b
	}

	if f := r.reg.Lookup(v); f != nil {
		s, err := f.Summary()
		if err != nil {
			b.set("unreadable", err.Error())
			return b
		}
		if f.DisplayHint() != printers.HintNone {
			b.set("hint", string(f.DisplayHint()))
		}
		switch {
		case s.Value != nil:
			sb := r.jsonOf(s.Value, "", depth+1)
			if sb.err != nil {
				return sb
			}
			b.setRaw("summary", sb.buf)
		case s.Text != "":
			b.set("summary", s.Text)
		}
		if cf, ok := f.(printers.ChildrenFormatter); ok && depth < r.maxRecurse {
			it, err := cf.Children()
			if err != nil {
				b.set("error", err.Error())
				return b
			}
			r.jsonChildren(b, it, depth)
		}
		return b
	}

	switch v.Kind {
	case reflect.Struct:
		if depth >= r.maxRecurse {
			return b
		}
		fields, err := v.Fields()
		if err != nil {
			b.set("unreadable", err.Error())
			return b
		}
		children := make([]printers.Child, len(fields))
		for i := range fields {
			children[i] = printers.Child{Label: fields[i].Name, Value: fields[i]}
		}
		r.jsonChildren(b, printers.SliceIterator(children), depth)
	case reflect.Array:
		if s, err := v.ReadString(maxStringLen); err == nil {
			b.set("value", s)
			return b
		}
		if depth < r.maxRecurse {
			r.jsonChildren(b, &arrayIterator{v: v, len: v.Len}, depth)
		}
	default:
		b.set("value", r.SinglelineString(v))
	}
	return b
}

func (r *renderer) jsonChildren(b *jsonBuilder, it printers.Iterator, depth int) {
	b.setRaw("children", []byte("[]"))
	n := 0
	for n < r.maxArray && it.Next() {
		c := it.Child()
		cb := r.jsonOf(c.Value, c.Label, depth+1)
		if cb.err != nil {
			b.err = cb.err
			return
		}
		b.setRaw("children.-1", cb.buf)
		n++
	}
	if n >= r.maxArray && it.Next() {
		b.set("more", true)
	}
	if err := it.Err(); err != nil {
		b.set("error", err.Error())
	}
}
