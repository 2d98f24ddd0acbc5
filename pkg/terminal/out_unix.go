//go:build linux || darwin || freebsd
// +build linux darwin freebsd

package terminal

import (
	"golang.org/x/sys/unix"
)

func (w *pagingWriter) getWindowSize() {
	ws, err := unix.IoctlGetWinsize(unix.Stdout, unix.TIOCGWINSZ)
	if err != nil || ws.Row == 0 || ws.Col == 0 {
		w.mode = pagingWriterNormal
		return
	}
	// leave a line for the prompt
	w.lines = int(ws.Row) - 1
	w.columns = int(ws.Col)
}
