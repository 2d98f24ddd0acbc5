// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/dsprint/dsprint/pkg/config"
	"github.com/dsprint/dsprint/pkg/logflags"
	"github.com/dsprint/dsprint/pkg/printers"
)

type callContext struct {
	// Script is set when the command comes from a command file.
	Script string
}

type cmdfunc func(t *Term, ctx callContext, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the dsprint terminal.
type Commands struct {
	cmds []command
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"print", "p"}, group: dataCmds, cmdFn: printVar, helpMsg: `Evaluate an expression.

	print [-json] [-raw] <expression>

The expression is a global variable name, optionally qualified with
namespaces, or a cast of an address:

	print DS::gQueue
	print gList.mHead->next
	print *(DS::Vector<int>*)0x7ffd5c3a1e40

Values whose type is matched by an enabled printer are shown through it.
With -raw printers are not used. With -json the value is printed as a JSON
object, children of containers are listed under "children".

The number of children shown is limited by the max-array-values
configuration key, nesting by max-variable-recurse.`},
		{aliases: []string{"whatis"}, group: dataCmds, cmdFn: whatisCommand, helpMsg: `Prints type of an expression.

	whatis <expression>

The printer that formats the value, if any, is also shown.`},
		{aliases: []string{"types"}, group: dataCmds, cmdFn: types, helpMsg: `Print list of types

	types [<regex>]

If regex is specified only the types matching it will be returned.`},
		{aliases: []string{"globals", "vars"}, group: dataCmds, cmdFn: globals, helpMsg: `Print global variables.

	globals [<regex>]

If regex is specified only the global variables matching it will be returned.`},
		{aliases: []string{"dump"}, group: dataCmds, cmdFn: dump, helpMsg: `Creates a core dump from the memory displayed so far.

	dump <output file>

The dump contains every memory region read during the session and can be
opened with "dsprint core <output file> <executable>".`},
		{aliases: []string{"info"}, group: printerCmds, cmdFn: info, helpMsg: `Shows information about the printers.

	info printers [<group regex> [<subprinter regex>]]

Lists the printer groups in lookup order with their subprinters. Disabled
groups and subprinters are marked.`},
		{aliases: []string{"enable"}, group: printerCmds, cmdFn: enablePrinter, helpMsg: `Enables printers.

	enable printer <group regex> [<subprinter regex>]

Regular expressions must match the whole name. Without a subprinter the
group itself is enabled.`},
		{aliases: []string{"disable"}, group: printerCmds, cmdFn: disablePrinter, helpMsg: `Disables printers.

	disable printer <group regex> [<subprinter regex>]

Values matched by a disabled printer are matched against the following
printers, or shown field by field.`},
		{aliases: []string{"source"}, group: printerCmds, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of commands or a Starlark script.

	source <path>

If path ends with the .star extension it will be interpreted as a Starlark
script, printers registered by the script replace the groups of the same
name. If path is a single '-' character an interactive Starlark interpreter
will start instead. Type 'exit' to exit.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter>
	config <parameter> <value>

Shows or changes the value of a configuration parameter. List parameters
are replaced as a whole, use -clear as the value to empty them.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of dsprint's command is appended to the specified output file. If '-t' is specified and the output file exists it is truncated. If '-x' is specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the inspector.

	exit

A live process is left running, resumed if it was stopped.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// CallWithContext takes a command and a context that command should be executed in.
func (c *Commands) CallWithContext(cmdstr string, t *Term, ctx callContext) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	if logflags.Terminal() {
		logflags.TerminalLogger().Debugf("command %q args %q", cmdname, args)
	}
	return c.Find(cmdname)(t, ctx, args)
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	return c.CallWithContext(cmdstr, t, callContext{})
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, ctx callContext, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, ctx callContext, args string) error {
	return nil
}

func (c *Commands) help(t *Term, ctx callContext, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits args like a shell would, without expansions.
func splitArgs(args string) ([]string, error) {
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

type printFlags struct {
	json bool
	raw  bool
}

// parsePrintFlags removes the leading flags of print from args.
func parsePrintFlags(args string) (printFlags, string, error) {
	var flags printFlags
	for strings.HasPrefix(args, "-") {
		v := split2PartsBySpace(args)
		switch v[0] {
		case "-json":
			flags.json = true
		case "-raw":
			flags.raw = true
		default:
			return flags, "", fmt.Errorf("unknown flag %q", v[0])
		}
		if len(v) < 2 {
			args = ""
			break
		}
		args = strings.TrimSpace(v[1])
	}
	return flags, args, nil
}

func printVar(t *Term, ctx callContext, args string) error {
	flags, expr, err := parsePrintFlags(args)
	if err != nil {
		return err
	}
	if len(expr) == 0 {
		return fmt.Errorf("not enough arguments")
	}
	r := t.renderer()
	if flags.raw {
		r.reg = printers.NewRegistry()
	}
	return t.halted(func() error {
		val, err := t.target.EvalExpression(expr)
		if err != nil {
			return err
		}
		if flags.json {
			buf, err := r.JSON(val)
			if err != nil {
				return err
			}
			fmt.Fprintf(t.stdout, "%s\n", buf)
			return nil
		}
		t.stdout.pw.PageMaybe(nil)
		fmt.Fprintln(t.stdout, r.MultilineString(val, ""))
		return nil
	})
}

func whatisCommand(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("not enough arguments")
	}
	val, err := t.target.EvalExpression(args)
	if err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, val.TypeString())
	if val.RealType != nil && val.RealType.String() != val.TypeString() {
		fmt.Fprintf(t.stdout, "Real type: %s\n", val.RealType.String())
	}
	if pp, sp := t.registry.Match(val.TypeName()); sp != nil {
		fmt.Fprintf(t.stdout, "Printer: %s;%s\n", pp.Name, sp.Name)
	}
	return nil
}

func printSortedStrings(w *transcriptWriter, v []string, filter string) error {
	var re *regexp.Regexp
	if filter != "" {
		var err error
		re, err = regexp.Compile(filter)
		if err != nil {
			return fmt.Errorf("invalid filter argument: %s", err.Error())
		}
	}
	sort.Strings(v)
	for _, d := range v {
		if re == nil || re.MatchString(d) {
			fmt.Fprintln(w, d)
		}
	}
	return nil
}

func types(t *Term, ctx callContext, args string) error {
	t.stdout.pw.PageMaybe(nil)
	return printSortedStrings(t.stdout, t.target.TypeNames(), args)
}

func globals(t *Term, ctx callContext, args string) error {
	t.stdout.pw.PageMaybe(nil)
	return printSortedStrings(t.stdout, t.target.GlobalNames(), args)
}

func dump(t *Term, ctx callContext, args string) error {
	if args == "" {
		return fmt.Errorf("not enough arguments")
	}
	fh, err := os.Create(args)
	if err != nil {
		return err
	}
	if err := t.target.Dump(fh); err != nil {
		return fmt.Errorf("error dumping: %v", err)
	}
	fmt.Fprintf(t.stdout, "Core dump written to %s\n", args)
	return nil
}

func info(t *Term, ctx callContext, args string) error {
	v := config.SplitQuotedFields(args, '"')
	if len(v) == 0 || v[0] != "printers" || len(v) > 3 {
		return fmt.Errorf("wrong arguments: info printers [<group regex> [<subprinter regex>]]")
	}
	groupRe, subRe := ".*", ".*"
	if len(v) > 1 {
		groupRe = v[1]
	}
	if len(v) > 2 {
		subRe = v[2]
	}
	gre, err := regexp.Compile("^(?:" + groupRe + ")$")
	if err != nil {
		return err
	}
	sre, err := regexp.Compile("^(?:" + subRe + ")$")
	if err != nil {
		return err
	}
	for _, pp := range t.registry.Printers() {
		if !gre.MatchString(pp.Name) {
			continue
		}
		fmt.Fprintf(t.stdout, "%s%s\n", pp.Name, t.disabledMarker(pp.Enabled))
		for _, sp := range pp.Subprinters {
			if sre.MatchString(sp.Name) {
				fmt.Fprintf(t.stdout, "  %s%s\t%s\n", sp.Name, t.disabledMarker(sp.Enabled), sp.Pattern)
			}
		}
	}
	return nil
}

func (t *Term) disabledMarker(enabled bool) string {
	if enabled {
		return ""
	}
	return " " + t.colorize(ansiYellow, "[disabled]")
}

func enablePrinter(t *Term, ctx callContext, args string) error {
	return setPrinterEnabled(t, "enable", args, true)
}

func disablePrinter(t *Term, ctx callContext, args string) error {
	return setPrinterEnabled(t, "disable", args, false)
}

func setPrinterEnabled(t *Term, cmdname, args string, enabled bool) error {
	v := config.SplitQuotedFields(args, '"')
	if len(v) < 2 || len(v) > 3 || v[0] != "printer" {
		return fmt.Errorf("wrong arguments: %s printer <group regex> [<subprinter regex>]", cmdname)
	}
	var subRe string
	if len(v) == 3 {
		subRe = v[2]
	}
	n, err := t.registry.SetEnabled(v[1], subRe, enabled)
	if err != nil {
		return err
	}
	what := "printers"
	if n == 1 {
		what = "printer"
	}
	fmt.Fprintf(t.stdout, "%d %s %sd\n", n, what, cmdname)
	return nil
}

// ApplyDisabledPrinters disables the printers named by the
// disabled-printers configuration key.
func (t *Term) ApplyDisabledPrinters() error {
	for _, s := range t.conf.DisabledPrinters {
		group, subname := config.DisabledPrinter(s)
		if _, err := t.registry.SetEnabled(regexp.QuoteMeta(group), regexp.QuoteMeta(subname), false); err != nil {
			return err
		}
	}
	return nil
}

func (c *Commands) sourceCommand(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		return t.starlarkEnv.Execute(config.ExpandPath(args), nil)
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, config.ExpandPath(args))
}

func transcript(t *Term, ctx callContext, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range v {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-off option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		fh.Close()
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned when the user
// exits dsprint.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, ctx callContext, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.CallWithContext(line, t, callContext{Script: name}); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}

func split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}
