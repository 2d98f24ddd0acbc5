package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/dsprint/dsprint/pkg/config"
	"github.com/dsprint/dsprint/pkg/dwarf/godwarf"
	"github.com/dsprint/dsprint/pkg/elfwriter"
	"github.com/dsprint/dsprint/pkg/logflags"
	"github.com/dsprint/dsprint/pkg/printers"
	"github.com/dsprint/dsprint/pkg/printers/starbind"
	"github.com/dsprint/dsprint/pkg/proc"
)

const (
	historyFile                 string = ".dsprint_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
)

// Target is the program inspected by the terminal, implemented by
// *proc.Target.
type Target interface {
	EvalExpression(expr string) (*proc.Variable, error)
	LookupType(name string) (godwarf.Type, error)
	TypeNames() []string
	GlobalNames() []string
	Halt() error
	Resume() error
	Dump(out elfwriter.WriteCloserSeeker) error
	Recorded() bool
	Pid() int
	Detach() error
}

var _ Target = (*proc.Target)(nil)

// Term represents the terminal running dsprint.
type Term struct {
	target      Target
	registry    *printers.Registry
	conf        *config.Config
	prompt      string
	line        *liner.State
	cmds        *Commands
	dumb        bool
	color       bool
	stdout      *transcriptWriter
	starlarkEnv *starbind.Env
	completions *trie.Trie

	// InitFile is a file of commands executed before the first prompt.
	InitFile string

	quittingMutex sync.Mutex
	quitting      bool
}

// New returns a new Term displaying the values of target through the
// formatters of registry.
func New(target Target, registry *printers.Registry, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	tty := !dumb && isatty.IsTerminal(os.Stdout.Fd())
	color := conf.ColorEnabled(tty)

	var w io.Writer
	if color {
		w = colorable.NewColorableStdout()
	} else {
		w = colorable.NewNonColorable(os.Stdout)
	}

	t := &Term{
		target:   target,
		registry: registry,
		conf:     conf,
		prompt:   "(dsprint) ",
		cmds:     cmds,
		dumb:     dumb,
		color:    color,
		stdout:   &transcriptWriter{pw: &pagingWriter{w: w, tty: tty}},
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
	t.stdout.CloseTranscript()
}

// Stdout returns the writer commands print to.
func (t *Term) Stdout() io.Writer {
	return t.stdout
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintln(os.Stderr, "received SIGINT")
	}
}

// Run begins running dsprint in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed")
		}

		t.stdout.Echo(t.prompt + cmdstr + "\n")
		err = t.cmds.Call(cmdstr, t)
		t.stdout.pw.Reset()
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			var exited proc.ErrProcessExited
			if errors.As(err, &exited) {
				fmt.Fprintln(os.Stderr, err.Error())
				return t.handleExit()
			}
			t.printError(err)
		}
		t.stdout.Flush()
	}
}

// RunCommands executes cmds without prompting, the first failing command
// stops the execution.
func (t *Term) RunCommands(cmds []string) error {
	defer t.stdout.Flush()
	for _, cmdstr := range cmds {
		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return nil
			}
			return fmt.Errorf("%s: %v", cmdstr, err)
		}
	}
	return nil
}

func (t *Term) printError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", t.colorize(ansiRed, "Command failed: "+err.Error()))
}

// colorize wraps s in the escape codes for color when colors are enabled.
func (t *Term) colorize(color int, s string) string {
	if !t.color {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, color) + s + terminalResetEscapeCode
}

// complete returns the completions of line: command names for the first
// word, type and global variable names afterwards.
func (t *Term) complete(line string) (c []string) {
	space := strings.LastIndex(line, " ")
	if space < 0 {
		for _, cmd := range t.cmds.cmds {
			for _, alias := range cmd.aliases {
				if strings.HasPrefix(alias, strings.ToLower(line)) {
					c = append(c, alias)
				}
			}
		}
		return
	}
	prefix, word := line[:space+1], line[space+1:]
	if word == "" {
		return nil
	}
	for _, s := range t.completionTrie().PrefixSearch(word) {
		c = append(c, prefix+s)
	}
	return
}

func (t *Term) completionTrie() *trie.Trie {
	if t.completions != nil {
		return t.completions
	}
	t.completions = trie.New()
	for _, name := range t.target.TypeNames() {
		t.completions.Add(name, nil)
	}
	for _, name := range t.target.GlobalNames() {
		t.completions.Add(name, nil)
	}
	if logflags.Terminal() {
		logflags.TerminalLogger().Debugf("completion index built")
	}
	return t.completions
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	t.quittingMutex.Lock()
	quitting := t.quitting
	t.quitting = true
	t.quittingMutex.Unlock()
	if quitting {
		return 0, nil
	}

	if err := t.target.Detach(); err != nil {
		var exited proc.ErrProcessExited
		if errors.As(err, &exited) {
			return 0, nil
		}
		return 1, err
	}
	return 0, nil
}

// renderer returns a renderer configured from the configuration file.
func (t *Term) renderer() *renderer {
	return &renderer{
		reg:        t.registry,
		maxArray:   t.conf.GetMaxArrayValues(),
		maxRecurse: t.conf.GetMaxVariableRecurse(),
	}
}

// halted calls fn with the target stopped.
func (t *Term) halted(fn func() error) error {
	if err := t.target.Halt(); err != nil {
		return err
	}
	err := fn()
	if rerr := t.target.Resume(); err == nil {
		err = rerr
	}
	return err
}
