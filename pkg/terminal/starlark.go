package terminal

import (
	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
	"github.com/dsprint/dsprint/pkg/printers"
	"github.com/dsprint/dsprint/pkg/printers/starbind"
	"github.com/dsprint/dsprint/pkg/proc"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Registry() *printers.Registry {
	return ctx.term.registry
}

func (ctx starlarkContext) EvalExpression(expr string) (*proc.Variable, error) {
	return ctx.term.target.EvalExpression(expr)
}

func (ctx starlarkContext) LookupType(name string) (godwarf.Type, error) {
	return ctx.term.target.LookupType(name)
}

// LoadScripts executes the Starlark files in paths, in order. The first
// error stops the loading.
func (t *Term) LoadScripts(paths []string) error {
	for _, path := range paths {
		if err := t.starlarkEnv.Execute(path, nil); err != nil {
			return err
		}
	}
	return nil
}
