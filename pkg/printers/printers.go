// Package printers selects formatters for target values by matching their
// type names against registered regular expressions.
//
// Formatters are organized in groups (PrettyPrinter), each holding an
// ordered list of entries (SubPrinter). Lookup scans the groups in order
// and the entries of each group in registration order, the first enabled
// entry whose pattern matches the type name of the value wins.
package printers

import (
	"fmt"
	"regexp"

	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
	"github.com/dsprint/dsprint/pkg/logflags"
	"github.com/dsprint/dsprint/pkg/proc"
)

// SubPrinter is a registry entry.
type SubPrinter struct {
	Name    string
	Pattern *regexp.Regexp
	Factory Factory
	Enabled bool
}

// PrettyPrinter is a named group of entries.
type PrettyPrinter struct {
	Name        string
	Enabled     bool
	Subprinters []*SubPrinter
}

// Add appends an entry to the group. Pattern is searched anywhere in the
// type name, it must be anchored to match the whole name.
func (pp *PrettyPrinter) Add(subname, pattern string, factory Factory) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern for %s;%s: %v", pp.Name, subname, err)
	}
	if factory == nil {
		return fmt.Errorf("no factory for %s;%s", pp.Name, subname)
	}
	pp.Subprinters = append(pp.Subprinters, &SubPrinter{Name: subname, Pattern: re, Factory: factory, Enabled: true})
	return nil
}

func (pp *PrettyPrinter) lookup(typename string) *SubPrinter {
	for _, sp := range pp.Subprinters {
		if sp.Enabled && sp.Pattern.MatchString(typename) {
			return sp
		}
	}
	return nil
}

// Registry is the chain of printer groups consulted by Lookup.
//
// Registry is not synchronized: groups are installed and enabled from the
// command loop, Lookup can be called concurrently once that is done.
type Registry struct {
	printers []*PrettyPrinter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterGroup installs a new empty group called name at the front of the
// chain. A group with the same name is removed first.
func (r *Registry) RegisterGroup(name string) *PrettyPrinter {
	if r.Unregister(name) {
		logflags.PrintersLogger().Debugf("replacing printer group %s", name)
	}
	pp := &PrettyPrinter{Name: name, Enabled: true}
	r.printers = append([]*PrettyPrinter{pp}, r.printers...)
	return pp
}

// Unregister removes the group called name. Returns false if there was no
// such group.
func (r *Registry) Unregister(name string) bool {
	for i, pp := range r.printers {
		if pp.Name == name {
			copy(r.printers[i:], r.printers[i+1:])
			r.printers[len(r.printers)-1] = nil
			r.printers = r.printers[:len(r.printers)-1]
			return true
		}
	}
	return false
}

// Reset removes all groups.
func (r *Registry) Reset() {
	r.printers = nil
}

// Printers returns the groups in lookup order.
func (r *Registry) Printers() []*PrettyPrinter {
	return append([]*PrettyPrinter(nil), r.printers...)
}

// Group returns the group called name or nil.
func (r *Registry) Group(name string) *PrettyPrinter {
	for _, pp := range r.printers {
		if pp.Name == name {
			return pp
		}
	}
	return nil
}

// Lookup returns the formatter for v, or nil if v should be rendered
// without one. References are dereferenced before they are handed to the
// factory.
func (r *Registry) Lookup(v *proc.Variable) Formatter {
	if v == nil {
		return nil
	}
	typename := v.TypeName()
	pp, sp := r.Match(typename)
	if sp == nil {
		return nil
	}
	if logflags.Printers() {
		logflags.PrintersLogger().WithFields(logflags.Fields{"group": pp.Name, "subprinter": sp.Name}).Debugf("formatting %s", typename)
	}
	if pt, ok := v.RealType.(*godwarf.PtrType); ok && pt.Reference {
		v = v.Deref()
	}
	return sp.Factory(v)
}

// Match returns the group and the entry that Lookup would use for a value
// whose type name is typename, or nils.
func (r *Registry) Match(typename string) (*PrettyPrinter, *SubPrinter) {
	if typename == "" {
		return nil, nil
	}
	for _, pp := range r.printers {
		if !pp.Enabled {
			continue
		}
		if sp := pp.lookup(typename); sp != nil {
			return pp, sp
		}
	}
	return nil, nil
}

// SetEnabled enables or disables the groups whose name matches groupRe
// and, if subRe is not empty, the entries of those groups whose name
// matches subRe. Both expressions must match the whole name. Returns the
// number of groups or entries whose state changed.
func (r *Registry) SetEnabled(groupRe, subRe string, enabled bool) (int, error) {
	gre, err := compileName(groupRe)
	if err != nil {
		return 0, err
	}
	var sre *regexp.Regexp
	if subRe != "" {
		if sre, err = compileName(subRe); err != nil {
			return 0, err
		}
	}
	n := 0
	for _, pp := range r.printers {
		if !gre.MatchString(pp.Name) {
			continue
		}
		if sre == nil {
			if pp.Enabled != enabled {
				pp.Enabled = enabled
				n++
			}
			continue
		}
		for _, sp := range pp.Subprinters {
			if sre.MatchString(sp.Name) && sp.Enabled != enabled {
				sp.Enabled = enabled
				n++
			}
		}
	}
	return n, nil
}

func compileName(re string) (*regexp.Regexp, error) {
	if re == "" {
		re = ".*"
	}
	return regexp.Compile("^(?:" + re + ")$")
}

// Bootstrap is a registration pass, see (*Registry).Bootstrap.
type Bootstrap struct {
	r      *Registry
	groups map[string]*PrettyPrinter
}

// Bootstrap starts a registration pass. The first Register call of the
// pass for a group replaces any group with the same name, subsequent calls
// add to it.
func (r *Registry) Bootstrap() *Bootstrap {
	return &Bootstrap{r: r, groups: make(map[string]*PrettyPrinter)}
}

// Register adds an entry to group.
func (b *Bootstrap) Register(group, subname, pattern string, factory Factory) error {
	pp, ok := b.groups[group]
	if !ok {
		pp = b.r.RegisterGroup(group)
		b.groups[group] = pp
	}
	return pp.Add(subname, pattern, factory)
}
