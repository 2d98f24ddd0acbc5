package printers

import (
	"reflect"
	"strconv"

	"github.com/dsprint/dsprint/pkg/proc"
)

// DSGroup is the name of the group of the DS container formatters.
const DSGroup = "DS"

// RegisterDS installs the formatters for the DS containers in r.
func RegisterDS(r *Registry) error {
	b := r.Bootstrap()
	for _, p := range []struct {
		subname, pattern string
		factory          Factory
	}{
		{"CQueue<T>", `^DS::CQueue<.*>$`, newCQueueFormatter},
		{"Holder<T>", `^DS::Holder<.*>$`, newHolderFormatter},
		{"List<T>", `^DS::List<.*>$`, newListFormatter},
		{"Vector<T>", `^DS::Vector<.*>$`, newVectorFormatter},
	} {
		if err := b.Register(DSGroup, p.subname, p.pattern, p.factory); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a new registry with the DS formatters installed.
func Default() *Registry {
	r := NewRegistry()
	if err := RegisterDS(r); err != nil {
		panic(err)
	}
	return r
}

// unwrap returns the only member of v while v is a class with a single
// member, as std::atomic<T> is.
func unwrap(v *proc.Variable) *proc.Variable {
	for v.Kind == reflect.Struct && v.Unreadable == nil {
		fields, err := v.Fields()
		if err != nil || len(fields) != 1 {
			break
		}
		v = fields[0]
	}
	return v
}

// readCount reads the integer member called name of v.
func readCount(v *proc.Variable, name string) (uint64, error) {
	f, err := v.Field(name)
	if err != nil {
		return 0, err
	}
	f = unwrap(f)
	n, err := f.AsUint()
	if err != nil {
		return 0, &proc.FieldError{Type: v.TypeName(), Field: name, Err: err}
	}
	return n, nil
}

func sizeSummary(v *proc.Variable) (Summary, error) {
	n, err := readCount(v, "mSize")
	if err != nil {
		return Summary{}, err
	}
	return Summary{Text: "[" + strconv.FormatUint(n, 10) + "]"}, nil
}

func indexLabel(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}

// linkedIterator walks a singly linked chain of nodes starting at cur,
// yielding the value member of every node.
type linkedIterator struct {
	cur *proc.Variable
	// valueFields are tried in order to find the value of a node.
	valueFields []string
	// selfLoop stops the walk at a next pointer stored at the address it
	// points to.
	selfLoop bool

	index int
	child Child
	err   error
}

func (it *linkedIterator) Next() bool {
	if it.err != nil || it.cur == nil {
		return false
	}
	if it.cur.Unreadable != nil {
		it.err = it.cur.Unreadable
		return false
	}
	if it.cur.IsNil() || (it.selfLoop && it.cur.IsSelfLoop()) {
		return false
	}
	val, err := it.value()
	if err != nil {
		it.err = err
		return false
	}
	next, err := it.cur.Field("next")
	if err != nil {
		it.err = err
		return false
	}
	it.child = Child{Label: indexLabel(it.index), Value: val}
	it.index++
	it.cur = unwrap(next)
	return true
}

func (it *linkedIterator) value() (*proc.Variable, error) {
	var err error
	for _, name := range it.valueFields {
		var val *proc.Variable
		val, err = it.cur.Field(name)
		if err == nil {
			return val, nil
		}
	}
	return nil, err
}

func (it *linkedIterator) Child() Child { return it.child }
func (it *linkedIterator) Err() error   { return it.err }
