package repair

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Operator answers repair questions. Implementations write the question
// and the answer to out.
type Operator interface {
	Confirm(out io.Writer, question string, defaultYes bool) Decision
}

// AlwaysYes applies every repair (-y).
type AlwaysYes struct{}

func (AlwaysYes) Confirm(out io.Writer, question string, _ bool) Decision {
	fmt.Fprintf(out, "%s? yes\n\n", question)
	return Apply
}

// AlwaysDefault takes the default answer without prompting.
type AlwaysDefault struct{}

func (AlwaysDefault) Confirm(out io.Writer, question string, defaultYes bool) Decision {
	if defaultYes {
		fmt.Fprintf(out, "%s? yes\n\n", question)
		return Apply
	}
	fmt.Fprintf(out, "%s? no\n\n", question)
	return Skip
}

// TerminalPrompt asks on the controlling terminal. When In is not a
// terminal it behaves like AlwaysDefault.
type TerminalPrompt struct {
	In *bufio.Reader

	// IsTerminal reports whether In is attached to a terminal.
	IsTerminal bool
}

// NewTerminalPrompt binds a prompt to stdin.
func NewTerminalPrompt() *TerminalPrompt {
	return &TerminalPrompt{
		In:         bufio.NewReader(os.Stdin),
		IsTerminal: IsTerminal(os.Stdin.Fd()) && IsTerminal(os.Stdout.Fd()),
	}
}

// Confirm prints "question<y>? " and reads one answer line. An empty line
// takes the default, "a" or end of input aborts.
func (p *TerminalPrompt) Confirm(out io.Writer, question string, defaultYes bool) Decision {
	if !p.IsTerminal || p.In == nil {
		return AlwaysDefault{}.Confirm(out, question, defaultYes)
	}

	def := "n"
	if defaultYes {
		def = "y"
	}
	for {
		fmt.Fprintf(out, "%s<%s>? ", question, def)
		line, err := p.In.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if err != nil && answer == "" {
			fmt.Fprint(out, "cancelled!\n")
			return Abort
		}
		switch answer {
		case "":
			answer = def
		case "yes":
			answer = "y"
		case "no":
			answer = "n"
		}
		switch answer {
		case "y":
			fmt.Fprint(out, "yes\n\n")
			return Apply
		case "n":
			fmt.Fprint(out, "no\n\n")
			return Skip
		case "a":
			fmt.Fprint(out, "cancelled!\n")
			return Abort
		}
	}
}

// YesNo asks a question that has no default on a terminal, used for the
// mounted-filesystem confirmation. Without a terminal the answer is no.
func (p *TerminalPrompt) YesNo(out io.Writer, question string) bool {
	if !p.IsTerminal || p.In == nil {
		return false
	}
	for {
		fmt.Fprintf(out, "%s (y/n)? ", question)
		line, err := p.In.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			fmt.Fprint(out, "yes\n")
			return true
		case "n", "no":
			fmt.Fprint(out, "no\n")
			return false
		}
		if err != nil {
			fmt.Fprint(out, "no\n")
			return false
		}
	}
}

// ForMode selects the operator for a run.
func ForMode(mode Mode, assumeYes bool) Operator {
	switch {
	case mode == ModeUnattended:
		return AlwaysDefault{}
	case mode == ModeInteractive && assumeYes:
		return AlwaysYes{}
	default:
		return NewTerminalPrompt()
	}
}
