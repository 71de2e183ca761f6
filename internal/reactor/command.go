// Package reactor turns trigger events into queued jobs.
package reactor

import (
	"regexp"
	"strings"

	"github.com/mattn/go-shellwords"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Command is a parsed "/keyword script args..." message.
type Command struct {
	Keyword string
	// Args holds every token after the keyword. Args[0] names the script.
	Args []string
}

// ParseCommand reads the first line of message. It reports false when the
// line does not start with prefix followed by a keyword.
func ParseCommand(prefix, message string) (*Command, bool) {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, prefix) {
		return nil, false
	}

	tokens, err := shellwords.Parse(line)
	if err != nil || len(tokens) == 0 {
		return nil, false
	}
	keyword := strings.TrimPrefix(tokens[0], prefix)
	if !validName(keyword) {
		return nil, false
	}
	return &Command{Keyword: keyword, Args: tokens[1:]}, true
}

// ScriptName returns the first argument, or "" when there is none.
func (c *Command) ScriptName() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// ScriptArgs returns the arguments passed through to the script.
func (c *Command) ScriptArgs() []string {
	if len(c.Args) < 2 {
		return []string{}
	}
	return append([]string(nil), c.Args[1:]...)
}

// String renders the command the way it was typed.
func (c *Command) String(prefix string) string {
	return strings.TrimSpace(prefix + c.Keyword + " " + strings.Join(c.Args, " "))
}

func validName(s string) bool {
	return namePattern.MatchString(s) && !strings.Contains(s, "..")
}
