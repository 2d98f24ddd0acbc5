// Package starbind lets Starlark scripts define formatters.
//
// A script registers formatters with the register builtin:
//
//	def opt_summary(v):
//		if v.field("mSet").int():
//			return v.field("mValue")
//		return "empty"
//
//	register("mine", "Optional<T>", "^Optional<.*>$", summary=opt_summary)
//
// The summary function returns a string or a value, the children function
// returns a list of values or of (label, value) pairs.
package starbind

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"runtime"
	"sort"
	"sync"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
	"github.com/dsprint/dsprint/pkg/logflags"
	"github.com/dsprint/dsprint/pkg/printers"
	"github.com/dsprint/dsprint/pkg/proc"
)

const (
	registerBuiltinName = "register"
	evalBuiltinName     = "eval"
	lookupBuiltinName   = "lookup_type"
	readFileBuiltinName = "read_file"
	helpBuiltinName     = "help"
	contextName         = "dsprint_context"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is what scripts can reach of the host.
type Context interface {
	Registry() *printers.Registry
	EvalExpression(expr string) (*proc.Variable, error)
	LookupType(name string) (godwarf.Type, error)
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	doc       map[string]string
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	// bootstrap is the registration pass of the script being executed.
	bootstrap *printers.Bootstrap

	ctx Context
	out io.Writer
}

// New creates a new starlark binding environment.
func New(ctx Context, out io.Writer) *Env {
	env := &Env{ctx: ctx, out: out, doc: make(map[string]string)}

	starlark.Universe["time"] = startime.Module

	env.env = starlark.StringDict{}
	builtin := func(name, args, descr string, fn func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)) {
		env.env[name] = starlark.NewBuiltin(name, fn)
		env.doc[name] = name + args + "\n\n" + name + " " + descr
	}

	builtin(registerBuiltinName, "(Group, Subname, Pattern, summary=None, children=None, hint=\"\")", "registers a formatter for the types matching Pattern.", env.register)

	builtin(evalBuiltinName, "(Expr)", "evaluates an expression and returns its value.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var expr string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &expr); err != nil {
			return nil, err
		}
		v, err := env.ctx.EvalExpression(expr)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return &Value{v: v}, nil
	})

	builtin(lookupBuiltinName, "(Name)", "returns the name of the type called Name as the catalog spells it, or None.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
			return nil, err
		}
		typ, err := env.ctx.LookupType(name)
		if err != nil {
			return starlark.None, nil
		}
		return starlark.String(typ.String()), nil
	})

	builtin(readFileBuiltinName, "(Path)", "reads a file.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
			return nil, err
		}
		buf, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.String(string(buf)), nil
	})

	builtin(helpBuiltinName, "(Object)", "prints help for Object.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		switch len(args) {
		case 0:
			fmt.Fprintln(env.out, "Available builtins:")
			bins := make([]string, 0, len(env.env))
			for name, value := range env.env {
				if _, ok := value.(*starlark.Builtin); ok {
					bins = append(bins, name)
				}
			}
			sort.Strings(bins)
			for _, bin := range bins {
				fmt.Fprintf(env.out, "\t%s\n", bin)
			}
		case 1:
			switch x := args[0].(type) {
			case *starlark.Builtin:
				if env.doc[x.Name()] != "" {
					fmt.Fprintf(env.out, "%s\n", env.doc[x.Name()])
				} else {
					fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
				}
			case *starlark.Function:
				fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
				if doc := x.Doc(); doc != "" {
					fmt.Fprintln(env.out, doc)
				}
			default:
				fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
			}
		default:
			fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
		}
		return starlark.None, nil
	})

	return env
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out io.Writer) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// Every group the script registers formatters in replaces the group with
// the same name installed by a previous script.
func (env *Env) Execute(path string, source interface{}) (_err error) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		_err = fmt.Errorf("panic executing starlark script: %v", err)
		fmt.Fprintf(env.out, "panic executing starlark script: %v\n", err)
		for i := 0; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fname := "<unknown>"
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	logflags.StarlarkLogger().Debugf("executing %s", path)
	env.bootstrap = env.ctx.Registry().Bootstrap()
	defer func() { env.bootstrap = nil }()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return err
	}
	env.exportGlobals(globals)
	return nil
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment.
func (env *Env) exportGlobals(globals starlark.StringDict) {
	for name, val := range globals {
		if name[0] >= 'A' && name[0] <= 'Z' {
			env.env[name] = val
		}
	}
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(contextName, ctx)
	return thread
}

func (env *Env) register(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		group, subname, pattern string
		summary, children       starlark.Value = starlark.None, starlark.None
		hint                    string
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "group", &group, "subname", &subname, "pattern", &pattern, "summary?", &summary, "children?", &children, "hint?", &hint); err != nil {
		return nil, err
	}
	sf := &scriptFormatter{env: env, hint: printers.DisplayHint(hint)}
	for _, a := range []struct {
		name string
		val  starlark.Value
		dst  *starlark.Callable
	}{{"summary", summary, &sf.summary}, {"children", children, &sf.children}} {
		if a.val == starlark.None {
			continue
		}
		fn, ok := a.val.(starlark.Callable)
		if !ok {
			return nil, decorateError(thread, fmt.Errorf("%s of %s;%s is a %s, not a function", a.name, group, subname, a.val.Type()))
		}
		*a.dst = fn
	}
	if sf.summary == nil && sf.children == nil {
		return nil, decorateError(thread, fmt.Errorf("%s;%s has neither summary nor children", group, subname))
	}

	bootstrap := env.bootstrap
	if bootstrap == nil {
		// register called from the REPL or from a formatter
		bootstrap = env.ctx.Registry().Bootstrap()
	}
	if err := bootstrap.Register(group, subname, pattern, sf.factory); err != nil {
		return nil, decorateError(thread, err)
	}
	logflags.StarlarkLogger().WithField("group", group).Debugf("registered %s for %s", subname, pattern)
	return starlark.None, nil
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(contextName).(context.Context); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}
