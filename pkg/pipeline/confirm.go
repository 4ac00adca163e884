package pipeline

import (
	"strings"

	"github.com/peterh/liner"
	"github.com/rotisserie/eris"
)

// Confirmer asks the user a yes/no question
type Confirmer interface {
	Confirm(question string, defaultAnswer bool) (bool, error)
}

// ConfirmFunc adapts a function to the Confirmer interface
type ConfirmFunc func(question string, defaultAnswer bool) (bool, error)

// Confirm calls f
func (f ConfirmFunc) Confirm(question string, defaultAnswer bool) (bool, error) {
	return f(question, defaultAnswer)
}

// TerminalConfirmer prompts on the controlling terminal
type TerminalConfirmer struct{}

// Confirm prompts until the user answers with yes or no. An empty answer selects the default and
// Ctrl+C declines.
func (TerminalConfirmer) Confirm(question string, defaultAnswer bool) (bool, error) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	hint := " [y/N] "
	if defaultAnswer {
		hint = " [Y/n] "
	}

	for {
		answer, err := line.Prompt(question + hint)
		if err != nil {
			if eris.Is(err, liner.ErrPromptAborted) {
				return false, nil
			}
			return false, eris.Wrap(err, "failed to read answer")
		}

		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "":
			return defaultAnswer, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}
