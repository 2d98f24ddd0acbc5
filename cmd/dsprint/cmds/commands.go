package cmds

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dsprint/dsprint/pkg/config"
	"github.com/dsprint/dsprint/pkg/logflags"
	"github.com/dsprint/dsprint/pkg/printers"
	"github.com/dsprint/dsprint/pkg/proc"
	"github.com/dsprint/dsprint/pkg/proc/core"
	"github.com/dsprint/dsprint/pkg/proc/native"
	"github.com/dsprint/dsprint/pkg/terminal"
	"github.com/dsprint/dsprint/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// evalCmds are executed instead of starting the interactive prompt.
	evalCmds []string
	// debugInfoDirs are added to the debug-info-directories of the configuration.
	debugInfoDirs []string

	// exePath overrides the executable of an attached process.
	exePath string
	// stopTarget is whether the attached process is stopped while values are read.
	stopTarget bool
	// loadBias replaces the load bias recorded in a core file.
	loadBias hexFlag

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const dsprintCommandLongDesc = `dsprint displays the containers of the DS library held by a C++ program.

It reads the DWARF debug information of the program to find the layout of
DS::CQueue, DS::List, DS::Vector and DS::Holder values and prints them as
summaries and element lists, either from a running process or from a core
file. Additional formatters can be written in Starlark (see 'dsprint help scripts').
`

// hexFlag is a pflag.Value holding an address written in hexadecimal.
type hexFlag struct {
	value uint64
	set   bool
}

func (f *hexFlag) String() string {
	if !f.set {
		return ""
	}
	return fmt.Sprintf("%#x", f.value)
}

func (f *hexFlag) Set(s string) error {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q", s)
	}
	f.value, f.set = n, true
	return nil
}

func (f *hexFlag) Type() string { return "address" }

var _ pflag.Value = (*hexFlag)(nil)

// New returns an initialized command tree.
func New() *cobra.Command {
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to load configuration file: %v\n", err)
		conf = &config.Config{}
	}

	rootCommand = &cobra.Command{
		Use:   "dsprint",
		Short: "dsprint prints the DS containers of a C++ program.",
		Long:  dsprintCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'dsprint help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'dsprint help log').")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal before the first prompt.")
	rootCommand.PersistentFlags().StringArrayVarP(&evalCmds, "eval", "e", nil, "Execute the command and exit, can be repeated.")
	rootCommand.PersistentFlags().StringSliceVar(&debugInfoDirs, "debug-info-dir", nil, "Additional directory searched for separate debug info.")

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid",
		Short: "Attach to a running process and inspect its containers.",
		Long: `Attach to an already running process and inspect it.

Memory is read with process_vm_readv, the process keeps running unless
--stop is given, in which case it is stopped with SIGSTOP while a value is
read and resumed afterwards. Detaching leaves the process untouched.
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a PID")
			}
			return nil
		},
		Run: attachCmd,
	}
	attachCommand.Flags().BoolVar(&stopTarget, "stop", conf.StopTarget, "Stop the process while its memory is read.")
	attachCommand.Flags().StringVar(&exePath, "exe", "", "Path to the executable of the process.")
	rootCommand.AddCommand(attachCommand)

	// 'core' subcommand.
	coreCommand := &cobra.Command{
		Use:   "core <core> [executable]",
		Short: "Inspect a core dump.",
		Long: `Inspect the containers held in a core dump.

The executable is taken from the core file when it is not given. Core files
written by the 'dump' command can be opened this way.
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args) > 2 {
				return errors.New("you must provide a core file and optionally an executable")
			}
			return nil
		},
		Run: coreCmd,
	}
	coreCommand.Flags().Var(&loadBias, "load-bias", "Load bias of the executable, in hexadecimal.")
	rootCommand.AddCommand(coreCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dsprint\n%s\n", version.DSPrintVersion)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolP("verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	printers	Log formatter registration and dispatch
	proc		Log memory reads and process control
	dwarf		Log debug information loading and type lookups
	starlark	Log script loading
	terminal	Log terminal commands

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "scripts",
		Short: "Help about Starlark formatters.",
		Long: `Formatters for other types can be written in Starlark and loaded with the
'source' command or listed under 'scripts' in the configuration file.

A script registers formatters with:

	register(group, subname, pattern, summary=fn, children=fn, hint="array")

where pattern is a regular expression matched against the type name of a
value and fn receives a value object with the methods field, fields, deref,
cast, advance, template_arg, int, uint and string, and the attributes type
and addr. A children function returns a list of (label, value) pairs.

Loading a script again replaces the formatters it registered before.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	os.Exit(execute(func() (*proc.Target, error) {
		return native.Attach(pid, native.Config{
			ExePath:       exePath,
			DebugInfoDirs: debugInfoDirectories(),
			StopTarget:    stopTarget,
		})
	}))
}

func coreCmd(cmd *cobra.Command, args []string) {
	exe := ""
	if len(args) > 1 {
		exe = args[1]
	}
	os.Exit(execute(func() (*proc.Target, error) {
		return core.OpenCore(args[0], exe, core.Config{
			DebugInfoDirs: debugInfoDirectories(),
			LoadBias:      loadBias.value,
			SetLoadBias:   loadBias.set,
		})
	}))
}

func debugInfoDirectories() []string {
	dirs := make([]string, 0, len(conf.DebugInfoDirectories)+len(debugInfoDirs))
	for _, dir := range append(append([]string{}, conf.DebugInfoDirectories...), debugInfoDirs...) {
		dirs = append(dirs, config.ExpandPath(dir))
	}
	return dirs
}

func execute(open func() (*proc.Target, error)) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	target, err := open()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	term, err := newTerm(target)
	if err != nil {
		target.Detach()
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if len(evalCmds) > 0 {
		err := term.RunCommands(evalCmds)
		term.Close()
		if derr := target.Detach(); err == nil {
			err = derr
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

// newTerm returns a terminal displaying target with the DS formatters, the
// scripts of the configuration loaded and the disabled printers applied.
func newTerm(target terminal.Target) (*terminal.Term, error) {
	term := terminal.New(target, printers.Default(), conf)
	scripts := make([]string, len(conf.Scripts))
	for i := range conf.Scripts {
		scripts[i] = config.ExpandPath(conf.Scripts[i])
	}
	if err := term.LoadScripts(scripts); err != nil {
		term.Close()
		return nil, fmt.Errorf("loading scripts: %w", err)
	}
	if err := term.ApplyDisabledPrinters(); err != nil {
		term.Close()
		return nil, err
	}
	return term, nil
}
