package printers

import (
	"github.com/dsprint/dsprint/pkg/proc"
)

// DisplayHint tells the host how to lay out the children of a formatter.
type DisplayHint string

const (
	HintNone   DisplayHint = ""
	HintArray  DisplayHint = "array"
	HintMap    DisplayHint = "map"
	HintString DisplayHint = "string"
)

// Summary is what a formatter shows in place of a value. When Value is not
// nil the host renders it, formatters included, instead of Text.
type Summary struct {
	Text  string
	Value *proc.Variable
}

// Formatter renders a single value.
type Formatter interface {
	Summary() (Summary, error)
	DisplayHint() DisplayHint
}

// ChildrenFormatter is a Formatter that also exposes child elements.
// Every call to Children returns a new iterator that starts from the first
// element.
type ChildrenFormatter interface {
	Formatter
	Children() (Iterator, error)
}

// Factory returns the formatter for v.
type Factory func(v *proc.Variable) Formatter

// Child is an element produced by an Iterator.
type Child struct {
	Label string
	Value *proc.Variable
}

// Iterator produces the children of a value one at a time:
//
//	for it.Next() {
//		c := it.Child()
//		...
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
//
// Iterators hold no resources, the caller can stop at any point.
type Iterator interface {
	Next() bool
	Child() Child
	Err() error
}

// SliceIterator returns an iterator over children.
func SliceIterator(children []Child) Iterator {
	return &sliceIterator{children: children, i: -1}
}

type sliceIterator struct {
	children []Child
	i        int
}

func (it *sliceIterator) Next() bool {
	if it.i+1 >= len(it.children) {
		return false
	}
	it.i++
	return true
}

func (it *sliceIterator) Child() Child { return it.children[it.i] }
func (it *sliceIterator) Err() error   { return nil }
