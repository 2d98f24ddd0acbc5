package terminal

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dsprint/dsprint/pkg/config"
)

func configureCmd(t *Term, ctx callContext, args string) error {
	switch args {
	case "-list":
		return configureList(t)
	case "-save":
		return config.SaveConfig(t.conf)
	case "":
		return fmt.Errorf("wrong number of arguments to \"config\"")
	default:
		return configureSet(t, args)
	}
}

// configField is a parameter of the configuration file, named by its yaml
// key.
type configField struct {
	name  string
	value reflect.Value
}

func configFields(conf *config.Config) []configField {
	v := reflect.ValueOf(conf).Elem()
	fields := make([]configField, 0, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Tag.Get("yaml")
		if comma := strings.Index(name, ","); comma >= 0 {
			name = name[:comma]
		}
		if name == "" || name == "-" {
			continue
		}
		fields = append(fields, configField{name, v.Field(i)})
	}
	return fields
}

func findConfigField(conf *config.Config, name string) (configField, bool) {
	for _, f := range configFields(conf) {
		if f.name == name {
			return f, true
		}
	}
	return configField{}, false
}

func (f configField) String() string {
	v := f.value
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "<not defined>"
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.String {
		quoted := make([]string, v.Len())
		for i := range quoted {
			quoted[i] = strconv.Quote(v.Index(i).String())
		}
		return "[" + strings.Join(quoted, " ") + "]"
	}
	return fmt.Sprintf("%v", v)
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, f := range configFields(t.conf) {
		fmt.Fprintf(w, "%s\t%s\n", f.name, f)
	}
	return w.Flush()
}

func configureSet(t *Term, args string) error {
	v := split2PartsBySpace(args)
	cfgname := v[0]
	var rest string
	if len(v) == 2 {
		rest = strings.TrimSpace(v[1])
	}

	if cfgname == "alias" {
		return configureSetAlias(t, rest)
	}

	f, ok := findConfigField(t.conf, cfgname)
	if !ok {
		return fmt.Errorf("%q is not a configuration parameter", cfgname)
	}
	if rest == "" {
		fmt.Fprintf(t.stdout, "%s\t%s\n", f.name, f)
		return nil
	}

	typ := f.value.Type()
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	var val reflect.Value
	switch {
	case typ.Kind() == reflect.Slice && typ.Elem().Kind() == reflect.String:
		// the list is replaced as a whole
		list := []string{}
		if rest != "-clear" {
			list = config.SplitQuotedFields(rest, '"')
		}
		val = reflect.ValueOf(list)
	case typ.Kind() == reflect.Int:
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return fmt.Errorf("argument to %q must be a number greater than or equal to zero", cfgname)
		}
		val = reflect.ValueOf(n)
	case typ.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(rest)
		if err != nil {
			return fmt.Errorf("argument to %q must be true or false", cfgname)
		}
		val = reflect.ValueOf(b)
	default:
		return fmt.Errorf("unsupported type for configuration key %q", cfgname)
	}

	if f.value.Kind() == reflect.Ptr {
		p := reflect.New(typ)
		p.Elem().Set(val)
		val = p
	}
	f.value.Set(val)
	return t.configChanged(cfgname)
}

// configChanged applies the configuration parameter cfgname.
func (t *Term) configChanged(cfgname string) error {
	switch cfgname {
	case "disabled-printers":
		return t.ApplyDisabledPrinters()
	case "color":
		t.color = t.conf.ColorEnabled(t.color)
	}
	return nil
}

// configureSetAlias adds the alias of "config alias <command> <alias>" or
// removes the one of "config alias <alias>".
func configureSetAlias(t *Term, rest string) error {
	args := config.SplitQuotedFields(rest, '"')
	switch len(args) {
	case 1:
		for cmd, aliases := range t.conf.Aliases {
			kept := aliases[:0]
			for _, alias := range aliases {
				if alias != args[0] {
					kept = append(kept, alias)
				}
			}
			t.conf.Aliases[cmd] = kept
		}
	case 2:
		cmd, alias := args[0], args[1]
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[cmd] = append(t.conf.Aliases[cmd], alias)
	default:
		return fmt.Errorf("wrong arguments: config alias <command> [<alias>]")
	}
	t.cmds.Merge(t.conf.Aliases)
	return nil
}
