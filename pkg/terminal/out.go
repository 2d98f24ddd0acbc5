package terminal

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strings"
)

// transcriptWriter writes the output of commands to the terminal and, while
// a transcript is open, to a file.
type transcriptWriter struct {
	pw         *pagingWriter
	transcript *transcriptFile
}

type transcriptFile struct {
	buf      *bufio.Writer
	fh       io.Closer
	fileOnly bool
}

func (w *transcriptWriter) Write(p []byte) (int, error) {
	tr := w.transcript
	if tr == nil {
		return w.pw.Write(p)
	}
	if !tr.fileOnly {
		if n, err := w.pw.Write(p); err != nil {
			return n, err
		}
	}
	return tr.buf.Write(p)
}

// Echo writes s to the transcript only, it is used for the commands typed
// at the prompt.
func (w *transcriptWriter) Echo(s string) {
	if w.transcript != nil {
		w.transcript.buf.WriteString(s)
	}
}

// Flush flushes the transcript.
func (w *transcriptWriter) Flush() {
	if w.transcript != nil {
		w.transcript.buf.Flush()
	}
}

// CloseTranscript stops transcribing and closes the transcript file.
func (w *transcriptWriter) CloseTranscript() error {
	tr := w.transcript
	if tr == nil {
		return nil
	}
	w.transcript = nil
	err := tr.buf.Flush()
	if cerr := tr.fh.Close(); err == nil {
		err = cerr
	}
	return err
}

// TranscribeTo starts copying the output to fh, closing the previous
// transcript. With fileOnly the terminal does not receive the output.
func (w *transcriptWriter) TranscribeTo(fh io.WriteCloser, fileOnly bool) {
	w.CloseTranscript()
	w.transcript = &transcriptFile{buf: bufio.NewWriter(fh), fh: fh, fileOnly: fileOnly}
}

type pagingWriterMode uint8

const (
	pagingWriterNormal pagingWriterMode = iota
	pagingWriterMaybe
	pagingWriterPaging
)

// pagingWriter writes to w. After PageMaybe, output longer than the
// terminal window is sent to a pager instead.
type pagingWriter struct {
	w io.Writer
	// tty is true when w is an interactive terminal, paging is disabled
	// otherwise.
	tty bool

	mode     pagingWriterMode
	buf      []byte
	pager    []string
	pagerOut io.Writer
	cmd      *exec.Cmd
	cmdStdin io.WriteCloser
	cancel   func()

	lines, columns int
	// line and column of the output buffered so far
	line, column int
}

func (w *pagingWriter) Write(p []byte) (int, error) {
	switch w.mode {
	case pagingWriterMaybe:
		w.buf = append(w.buf, p...)
		if !w.count(p) {
			return w.w.Write(p)
		}
		if err := w.startPager(); err != nil {
			w.mode = pagingWriterNormal
			w.buf = nil
			return w.w.Write(p)
		}
		return len(p), nil
	case pagingWriterPaging:
		n, err := w.cmdStdin.Write(p)
		if err != nil && w.cancel != nil {
			w.cancel()
			w.cancel = nil
		}
		return n, err
	default:
		return w.w.Write(p)
	}
}

// count advances the cursor over p and reports whether the output no
// longer fits in the window.
func (w *pagingWriter) count(p []byte) bool {
	for _, c := range p {
		if c == '\n' || w.column >= w.columns {
			w.line++
			w.column = 0
			if c == '\n' {
				continue
			}
		}
		w.column++
	}
	return w.line >= w.lines
}

// startPager replays the output written to the terminal so far, the part
// already visible included, into the pager.
func (w *pagingWriter) startPager() error {
	cmd := exec.Command(w.pager[0], w.pager[1:]...)
	cmd.Stdout = w.pagerOut
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if w.column > 0 {
		w.w.Write([]byte("\n"))
	}
	w.w.Write([]byte("Sending output to pager...\n"))
	w.cmd, w.cmdStdin = cmd, stdin
	w.mode = pagingWriterPaging
	_, err = stdin.Write(w.buf)
	w.buf = nil
	return err
}

// Reset waits for the pager and returns to normal mode.
func (w *pagingWriter) Reset() {
	w.mode = pagingWriterNormal
	w.buf = nil
	w.line, w.column = 0, 0
	if w.cmd != nil {
		w.cmdStdin.Close()
		w.cmd.Wait()
		w.cmd, w.cmdStdin = nil, nil
	}
}

// PageMaybe starts buffering the output, the pager is started once the
// output is longer than the window. cancel is called the first time a
// write to the pager fails.
func (w *pagingWriter) PageMaybe(cancel func()) {
	if w.mode != pagingWriterNormal || !w.tty {
		return
	}
	w.pager = pagerCommand()
	if len(w.pager) == 0 {
		return
	}
	w.mode = pagingWriterMaybe
	w.cancel = cancel
	w.line, w.column = 0, 0
	w.getWindowSize()
}

// pagerCommand returns the pager named by $DSPRINT_PAGER or $PAGER, with
// its arguments.
func pagerCommand() []string {
	for _, env := range []string{"DSPRINT_PAGER", "PAGER"} {
		if s := strings.Fields(os.Getenv(env)); len(s) > 0 {
			return s
		}
	}
	return []string{"more"}
}
