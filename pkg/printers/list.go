package printers

import (
	"github.com/dsprint/dsprint/pkg/proc"
)

// listFormatter formats DS::List<T>, a null terminated chain of nodes.
type listFormatter struct {
	v *proc.Variable
}

func newListFormatter(v *proc.Variable) Formatter {
	return &listFormatter{v: v}
}

func (f *listFormatter) Summary() (Summary, error) { return sizeSummary(f.v) }
func (f *listFormatter) DisplayHint() DisplayHint  { return HintArray }

func (f *listFormatter) Children() (Iterator, error) {
	head, err := f.v.Field("mHead")
	if err != nil {
		return nil, err
	}
	// older node layouts keep the element in an anonymous union as value
	return &linkedIterator{cur: unwrap(head), valueFields: []string{"val", "value"}}, nil
}
