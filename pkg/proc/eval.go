package proc

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
)

// EvalExpression evaluates a C++ lvalue expression in the target. The
// supported forms are global variable names (qualified with ::), member
// access with . and ->, indexing, dereference with *, address-of with &,
// and casts of addresses such as (DS::List<int>)0xc000 or
// *(DS::List<int>*)0xc000.
func (t *Target) EvalExpression(expr string) (*Variable, error) {
	if t.detached {
		return nil, ErrProcessDetached
	}
	p := &exprParser{t: t, s: expr}
	op, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.s) {
		return nil, p.errorf("unexpected %q", p.s[p.pos:])
	}
	if op.v == nil {
		return nil, fmt.Errorf("%s is not a value", expr)
	}
	return op.v, nil
}

// operand is either a value or an integer literal, literals only appear
// as the operand of casts.
type operand struct {
	v   *Variable
	lit uint64
}

type exprParser struct {
	t   *Target
	s   string
	pos int
}

func (p *exprParser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) peek(tok string) bool {
	p.skipSpace()
	return strings.HasPrefix(p.s[p.pos:], tok)
}

func (p *exprParser) accept(tok string) bool {
	if p.peek(tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *exprParser) parseUnary() (operand, error) {
	switch {
	case p.accept("*"):
		op, err := p.parseUnary()
		if err != nil {
			return op, err
		}
		v, err := p.value(op)
		if err != nil {
			return operand{}, err
		}
		if v.Kind != reflect.Ptr {
			return operand{}, fmt.Errorf("invalid indirect of %s (type %s)", v.Name, v.TypeString())
		}
		return operand{v: v.Deref()}, nil
	case p.accept("&"):
		op, err := p.parseUnary()
		if err != nil {
			return op, err
		}
		v, err := p.value(op)
		if err != nil {
			return operand{}, err
		}
		r, err := v.AddressOf()
		return operand{v: r}, err
	}
	return p.parsePostfix()
}

func (p *exprParser) parsePostfix() (operand, error) {
	op, err := p.parsePrimary()
	if err != nil {
		return op, err
	}
	for {
		switch {
		case p.accept("->"), p.accept("."):
			v, err := p.value(op)
			if err != nil {
				return operand{}, err
			}
			name := p.ident()
			if name == "" {
				return operand{}, p.errorf("expected member name")
			}
			f, err := v.Field(name)
			if err != nil {
				return operand{}, err
			}
			op = operand{v: f}
		case p.accept("["):
			v, err := p.value(op)
			if err != nil {
				return operand{}, err
			}
			p.skipSpace()
			start := p.pos
			for p.pos < len(p.s) && p.s[p.pos] != ']' {
				p.pos++
			}
			if !p.accept("]") {
				return operand{}, p.errorf("expected ]")
			}
			idx, err := strconv.ParseInt(strings.TrimSpace(p.s[start:p.pos-1]), 0, 64)
			if err != nil {
				return operand{}, err
			}
			switch v.Kind {
			case reflect.Array:
				v, err = v.Index(idx)
				if err != nil {
					return operand{}, err
				}
			case reflect.Ptr:
				v = v.Advance(idx).Deref()
			default:
				return operand{}, fmt.Errorf("can not index %s", v.TypeString())
			}
			op = operand{v: v}
		default:
			return op, nil
		}
	}
}

func (p *exprParser) parsePrimary() (operand, error) {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return operand{}, p.errorf("unexpected end of expression")
	}
	c := p.s[p.pos]
	switch {
	case c == '(':
		end := matchingParen(p.s, p.pos)
		if end < 0 {
			return operand{}, p.errorf("unbalanced parenthesis")
		}
		inner := strings.TrimSpace(p.s[p.pos+1 : end])
		if _, _, err := p.t.BinInfo.Global(inner); err != nil {
			if _, err := p.t.BinInfo.LookupType(inner); err == nil {
				p.pos = end + 1
				op, err := p.parseUnary()
				if err != nil {
					return op, err
				}
				return p.cast(inner, op)
			}
		}
		p.pos++
		op, err := p.parseUnary()
		if err != nil {
			return op, err
		}
		if !p.accept(")") {
			return operand{}, p.errorf("expected )")
		}
		return op, nil
	case '0' <= c && c <= '9':
		start := p.pos
		for p.pos < len(p.s) && isIdentChar(p.s[p.pos]) {
			p.pos++
		}
		n, err := strconv.ParseUint(p.s[start:p.pos], 0, 64)
		if err != nil {
			return operand{}, err
		}
		return operand{lit: n}, nil
	}
	name := p.ident()
	if name == "" {
		return operand{}, p.errorf("unexpected %q", p.s[p.pos:])
	}
	v, err := p.t.Global(name)
	if err != nil {
		return operand{}, err
	}
	return operand{v: v}, nil
}

// cast converts op to the type called typename. Casting an address to a
// non-pointer type yields the value stored at that address.
func (p *exprParser) cast(typename string, op operand) (operand, error) {
	typ, err := p.t.BinInfo.LookupType(typename)
	if err != nil {
		return operand{}, err
	}
	if op.v == nil {
		v := p.t.NewVariable(fmt.Sprintf("(%s)%#x", typename, op.lit), 0, typ)
		if v.Kind == reflect.Ptr || v.Kind == reflect.UnsafePointer {
			v.Base = op.lit
			return operand{v: v}, nil
		}
		return operand{v: p.t.NewVariable(fmt.Sprintf("(%s)%#x", typename, op.lit), op.lit, typ)}, nil
	}
	if pt, ok := godwarf.ResolveTypedef(typ).(*godwarf.PtrType); ok && !pt.Reference {
		r, err := op.v.AsPointer(pt.Type)
		return operand{v: r}, err
	}
	return operand{v: op.v.Reinterpret(typ)}, nil
}

// value returns the variable of op, literals are not values.
func (p *exprParser) value(op operand) (*Variable, error) {
	if op.v == nil {
		return nil, errors.New("integer literal can only be used as the operand of a cast")
	}
	return op.v, nil
}

// ident scans a possibly qualified identifier.
func (p *exprParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) {
		switch {
		case isIdentChar(p.s[p.pos]):
			p.pos++
		case strings.HasPrefix(p.s[p.pos:], "::"):
			p.pos += 2
		default:
			return p.s[start:p.pos]
		}
	}
	return p.s[start:p.pos]
}

func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
