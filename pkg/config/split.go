package config

import (
	"strings"
	"unicode"
)

// SplitQuotedFields splits in around white space like strings.Fields,
// except inside areas surrounded by quote. Inside quotes a backslash
// escapes the next character. An empty quoted area is an empty field.
func SplitQuotedFields(in string, quote rune) []string {
	var (
		fields  = []string{}
		buf     strings.Builder
		started bool // a field is being read
		quoted  bool
		escaped bool
	)

	for _, ch := range in {
		switch {
		case escaped:
			buf.WriteRune(ch)
			escaped = false
		case quoted && ch == '\\':
			escaped = true
		case ch == quote:
			quoted = !quoted
			started = true
		case quoted || !unicode.IsSpace(ch):
			buf.WriteRune(ch)
			started = true
		case started:
			fields = append(fields, buf.String())
			buf.Reset()
			started = false
		}
	}

	if started {
		fields = append(fields, buf.String())
	}
	return fields
}
