package protocol

import (
	"fmt"
	"strings"

	"github.com/c360/georelay/errors"
)

// Command is one parsed client instruction. Name is the upper-cased first
// token; remaining tokens are positional unless they contain '=', which
// splits them on the first '=' into a named argument.
type Command struct {
	Name  string
	Args  []string
	Named map[string]string
}

// ParseCommand parses one line of text into a Command. The command name is
// case-insensitive. An empty line is a remote error: the protocol has no
// empty frames.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errors.WrapRemote(
			fmt.Errorf("empty command line"),
			"protocol", "ParseCommand", "tokenize line",
		)
	}

	cmd := Command{
		Name:  strings.ToUpper(fields[0]),
		Named: make(map[string]string),
	}
	for _, tok := range fields[1:] {
		if i := strings.IndexByte(tok, '='); i >= 0 {
			cmd.Named[tok[:i]] = tok[i+1:]
		} else {
			cmd.Args = append(cmd.Args, tok)
		}
	}
	return cmd, nil
}
