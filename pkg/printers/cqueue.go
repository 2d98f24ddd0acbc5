package printers

import (
	"github.com/dsprint/dsprint/pkg/proc"
)

// cqueueFormatter formats DS::CQueue<T>. The head of the queue is a
// counted pointer whose low 48 bits are the address of the first node, the
// last node of the chain points to itself.
type cqueueFormatter struct {
	v *proc.Variable
}

func newCQueueFormatter(v *proc.Variable) Formatter {
	return &cqueueFormatter{v: v}
}

func (f *cqueueFormatter) Summary() (Summary, error) { return sizeSummary(f.v) }
func (f *cqueueFormatter) DisplayHint() DisplayHint  { return HintArray }

func (f *cqueueFormatter) Children() (Iterator, error) {
	arg, err := f.v.TemplateArg(0)
	if err != nil {
		return nil, err
	}
	nodeName := "DS::CQNode<" + arg + ">"
	nodeT, err := f.v.LookupType(nodeName)
	if err != nil {
		return nil, &proc.TypeParamError{Type: f.v.TypeName(), Index: 0, Name: nodeName, Err: err}
	}
	countedPtrName := "DS::CountedPtr<" + nodeName + ">"
	countedPtrT, err := f.v.LookupType(countedPtrName)
	if err != nil {
		return nil, &proc.TypeParamError{Type: f.v.TypeName(), Index: 0, Name: countedPtrName, Err: err}
	}

	head, err := f.v.Field("mHead")
	if err != nil {
		return nil, err
	}
	ptr, err := head.Reinterpret(countedPtrT).Field("ptr")
	if err != nil {
		return nil, err
	}
	first, err := ptr.AsPointer(nodeT)
	if err != nil {
		return nil, &proc.FieldError{Type: countedPtrName, Field: "ptr", Err: err}
	}
	return &linkedIterator{cur: first, valueFields: []string{"val"}, selfLoop: true}, nil
}
