package elfwriter

import "debug/elf"

// Notes written by dsprint in the core files produced by the dump command.
const (
	DSPrintHeaderNoteType elf.NType = 0x44535052 // DSPR

	DSPrintHeaderNoteName = "DSPrint Header"

	DSPrintHeaderTargetPidPrefix  = "Target Pid: "
	DSPrintHeaderExecutablePrefix = "Executable: "
	DSPrintHeaderLoadBiasPrefix   = "Load Bias: "
)
