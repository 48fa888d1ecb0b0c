package orchestrator

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Prompter asks the user for confirmations and free-form answers. Tests and
// non-interactive callers inject their own.
type Prompter interface {
	Confirm(question string) (bool, error)
	Ask(question string) (string, error)
}

// TerminalPrompter reads answers from an input stream, typically stdin.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// NewTerminalPrompter wires a prompter to the given streams.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{In: in, Out: out, reader: bufio.NewReader(in)}
}

// Confirm asks a yes/no question, defaulting to no.
func (p *TerminalPrompter) Confirm(question string) (bool, error) {
	fmt.Fprintf(p.Out, "%s [y/N]: ", question)
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// Ask reads a free-form answer.
func (p *TerminalPrompter) Ask(question string) (string, error) {
	fmt.Fprintf(p.Out, "%s: ", question)
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// AutoDeny refuses every confirmation, for non-interactive runs.
type AutoDeny struct{}

func (AutoDeny) Confirm(string) (bool, error) { return false, nil }
func (AutoDeny) Ask(string) (string, error)   { return "", nil }
