package printers

import (
	"github.com/dsprint/dsprint/pkg/proc"
)

// holderFormatter formats DS::Holder<T>, storage for a T with no members
// of its own. The summary is the T stored at the address of the holder.
type holderFormatter struct {
	v *proc.Variable
}

func newHolderFormatter(v *proc.Variable) Formatter {
	return &holderFormatter{v: v}
}

func (f *holderFormatter) Summary() (Summary, error) {
	typ, err := f.v.TemplateArgType(0)
	if err != nil {
		return Summary{}, err
	}
	addr, err := f.v.AddressOf()
	if err != nil {
		return Summary{}, err
	}
	ptr, err := addr.AsPointer(typ)
	if err != nil {
		return Summary{}, err
	}
	val := ptr.Deref()
	val.Name = f.v.Name
	return Summary{Value: val}, nil
}

func (f *holderFormatter) DisplayHint() DisplayHint { return HintNone }
