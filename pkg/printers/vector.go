package printers

import (
	"fmt"
	"strconv"

	"github.com/dsprint/dsprint/pkg/proc"
)

// vectorFormatter formats DS::Vector<T>: mSize elements stored
// contiguously at mHead, in a buffer of mCapacity elements.
type vectorFormatter struct {
	v *proc.Variable
}

func newVectorFormatter(v *proc.Variable) Formatter {
	return &vectorFormatter{v: v}
}

func (f *vectorFormatter) Summary() (Summary, error) {
	size, err := readCount(f.v, "mSize")
	if err != nil {
		return Summary{}, err
	}
	capacity, err := readCount(f.v, "mCapacity")
	if err != nil {
		return Summary{}, err
	}
	return Summary{Text: "[" + strconv.FormatUint(size, 10) + "/" + strconv.FormatUint(capacity, 10) + "]"}, nil
}

func (f *vectorFormatter) DisplayHint() DisplayHint { return HintArray }

func (f *vectorFormatter) Children() (Iterator, error) {
	size, err := readCount(f.v, "mSize")
	if err != nil {
		return nil, err
	}
	head, err := f.v.Field("mHead")
	if err != nil {
		return nil, err
	}
	if head.Unreadable != nil {
		return nil, head.Unreadable
	}
	if head.IsNil() && size > 0 {
		return nil, fmt.Errorf("%s has %d elements and no buffer", f.v.TypeName(), size)
	}
	return &vectorIterator{head: head, size: size}, nil
}

// vectorIterator yields the elements in [head, head+size).
type vectorIterator struct {
	head  *proc.Variable
	size  uint64
	index uint64
	child Child
}

func (it *vectorIterator) Next() bool {
	if it.index >= it.size {
		return false
	}
	elem := it.head.Advance(int64(it.index)).Deref()
	it.child = Child{Label: indexLabel(int(it.index)), Value: elem}
	it.index++
	return true
}

func (it *vectorIterator) Child() Child { return it.child }

// Err is always nil, unreadable elements are returned with Unreadable set.
func (it *vectorIterator) Err() error { return nil }
