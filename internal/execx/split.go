package execx

import (
	"fmt"
	"strings"
)

// shellMeta are characters that only make sense to a shell.
const shellMeta = ";&|<>`$(){}\n\r\\"

// Split breaks a command line into arguments. Single and double quotes
// group words; there are no escapes. Lines containing shell
// metacharacters are rejected.
func Split(line string) ([]string, error) {
	if i := strings.IndexAny(line, shellMeta); i >= 0 {
		return nil, &DisallowedCommandError{
			Command: line,
			Reason:  fmt.Sprintf("shell metacharacter %q", line[i]),
		}
	}

	var (
		args    []string
		cur     strings.Builder
		quote   rune
		inToken bool
	)
	for _, c := range line {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inToken = true
		case c == ' ' || c == '\t':
			if inToken {
				args = append(args, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(c)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote in %q", quote, line)
	}
	if inToken {
		args = append(args, cur.String())
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	return args, nil
}
