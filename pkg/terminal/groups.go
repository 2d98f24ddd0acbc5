package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	dataCmds
	printerCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Viewing program variables and types", dataCmds},
	{"Managing printers", printerCmds},
	{"Other commands", otherCmds},
}
