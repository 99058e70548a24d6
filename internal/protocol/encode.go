package protocol

import (
	"fmt"
	"strings"
)

// FormatCommand renders one request line: the command name followed by each
// argument's string form, separated by single spaces and terminated by '\n'.
// Arguments are not escaped; use Quote for values that may contain spaces.
func FormatCommand(command string, args ...any) ([]byte, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("%w: empty command name", ErrInvalidCommand)
	}
	if strings.ContainsAny(command, " \n") {
		return nil, fmt.Errorf("%w: command name %q", ErrInvalidCommand, command)
	}

	var b strings.Builder
	b.WriteString(command)
	for i, arg := range args {
		token := fmt.Sprint(arg)
		if strings.ContainsRune(token, '\n') {
			return nil, fmt.Errorf("%w: argument %d contains a newline", ErrInvalidCommand, i)
		}
		b.WriteByte(' ')
		b.WriteString(token)
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// Quote wraps s in double quotes when it holds whitespace or quote characters,
// escaping backslashes and quotes the way the daemon's tokenizer expects.
func Quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
